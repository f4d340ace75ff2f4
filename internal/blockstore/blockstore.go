// Package blockstore persists the chain to disk as an append-only log
// plus a rebuildable height/hash index, so a restart never loses a
// committed block and a crash between a log write and an index flush is
// recoverable by rescanning the log.
package blockstore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bt2c/bt2c-core/internal/core"
	"github.com/bt2c/bt2c-core/internal/crypto"
	internalerrors "github.com/bt2c/bt2c-core/internal/errors"
)

const (
	logFileName   = "blocks.dat"
	indexFileName = "blocks.idx"

	// MaxRangeSize bounds how many blocks GetRange returns in one call.
	MaxRangeSize = 100

	lengthPrefixSize = 4
)

// ProposerKeyLookup resolves a validator address to the public key its
// blocks must verify against. The consensus driver supplies this backed
// by the validator registry; tests may use a fixed map.
type ProposerKeyLookup func(validatorAddress string) (*crypto.PublicKey, error)

// indexEntry records where one block's serialized record begins in the
// log file, and its length, so it can be read back without rescanning.
type indexEntry struct {
	Offset int64  `json:"offset"`
	Length uint32 `json:"length"`
}

// Store is the append-only, crash-recoverable block log.
type Store struct {
	mu sync.RWMutex

	dir       string
	logFile   *os.File
	indexPath string

	byHeight map[uint64]indexEntry
	byHash   map[string]uint64

	log *zap.SugaredLogger
}

// Open opens (creating if necessary) the block log under dir. If the
// index is missing, stale, or unreadable, it is rebuilt by scanning the
// log from the start.
func Open(dir string, log *zap.SugaredLogger) (*Store, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, internalerrors.New(internalerrors.KindStoreIO, "create blockstore directory", err)
	}

	logPath := filepath.Join(dir, logFileName)
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, internalerrors.New(internalerrors.KindStoreIO, "open block log", err)
	}

	s := &Store{
		dir:       dir,
		logFile:   f,
		indexPath: filepath.Join(dir, indexFileName),
		byHeight:  make(map[uint64]indexEntry),
		byHash:    make(map[string]uint64),
		log:       log.Named("blockstore"),
	}

	if err := s.loadIndex(); err != nil {
		s.log.Warnw("index unreadable, rebuilding from log", "error", err)
		if err := s.rebuildIndex(); err != nil {
			f.Close()
			return nil, err
		}
		if err := s.persistIndex(); err != nil {
			f.Close()
			return nil, err
		}
	}
	return s, nil
}

// Close releases the underlying log file handle.
func (s *Store) Close() error {
	return s.logFile.Close()
}

// AddBlock appends block to the log and updates the index, both
// fsync'd before returning, so a successfully returned AddBlock survives
// a crash immediately after.
func (s *Store) AddBlock(block *core.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byHeight[block.Height]; exists {
		return internalerrors.New(internalerrors.KindInvalidStructure,
			fmt.Sprintf("block at height %d already stored", block.Height), nil)
	}

	data, err := block.Serialize()
	if err != nil {
		return err
	}

	offset, err := s.logFile.Seek(0, io.SeekEnd)
	if err != nil {
		return internalerrors.New(internalerrors.KindStoreIO, "seek block log", err)
	}

	prefix := make([]byte, lengthPrefixSize)
	binary.BigEndian.PutUint32(prefix, uint32(len(data)))
	if _, err := s.logFile.Write(prefix); err != nil {
		return internalerrors.New(internalerrors.KindStoreIO, "write block record length", err)
	}
	if _, err := s.logFile.Write(data); err != nil {
		return internalerrors.New(internalerrors.KindStoreIO, "write block record", err)
	}
	if err := s.logFile.Sync(); err != nil {
		return internalerrors.New(internalerrors.KindStoreIO, "fsync block log", err)
	}

	s.byHeight[block.Height] = indexEntry{Offset: offset, Length: uint32(len(data))}
	s.byHash[block.Hash.String()] = block.Height

	if err := s.persistIndex(); err != nil {
		return err
	}
	return nil
}

// GetByHeight returns the block at height, or ErrNotFound.
func (s *Store) GetByHeight(height uint64) (*core.Block, error) {
	s.mu.RLock()
	entry, ok := s.byHeight[height]
	s.mu.RUnlock()
	if !ok {
		return nil, internalerrors.New(internalerrors.KindNotFound, fmt.Sprintf("no block at height %d", height), nil)
	}
	return s.readAt(entry)
}

// GetByHash returns the block with the given hex-encoded hash, or
// ErrNotFound.
func (s *Store) GetByHash(hash string) (*core.Block, error) {
	s.mu.RLock()
	height, ok := s.byHash[hash]
	s.mu.RUnlock()
	if !ok {
		return nil, internalerrors.New(internalerrors.KindNotFound, "no block with that hash", nil)
	}
	return s.GetByHeight(height)
}

// GetRange returns blocks [from, to], inclusive, bounded to MaxRangeSize
// entries; a wider request is truncated, never rejected.
func (s *Store) GetRange(from, to uint64) ([]*core.Block, error) {
	if to < from {
		return nil, nil
	}
	if to-from+1 > MaxRangeSize {
		to = from + MaxRangeSize - 1
	}
	out := make([]*core.Block, 0, to-from+1)
	for h := from; h <= to; h++ {
		block, err := s.GetByHeight(h)
		if err != nil {
			if errors.Is(err, internalerrors.ErrNotFound) {
				break
			}
			return nil, err
		}
		out = append(out, block)
	}
	return out, nil
}

// Height returns the highest stored block height and true, or false if
// the store is empty.
func (s *Store) Height() (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.byHeight) == 0 {
		return 0, false
	}
	var max uint64
	first := true
	for h := range s.byHeight {
		if first || h > max {
			max = h
			first = false
		}
	}
	return max, true
}

// ValidateChain re-verifies every stored block's previous-hash linkage,
// Merkle root, and signature, from genesis forward, using lookup to
// resolve each block's proposer public key.
func (s *Store) ValidateChain(lookup ProposerKeyLookup, now time.Time) error {
	height, ok := s.Height()
	if !ok {
		return nil
	}
	var previous *core.Block
	for h := uint64(0); h <= height; h++ {
		block, err := s.GetByHeight(h)
		if err != nil {
			return err
		}
		pubKey, err := lookup(block.ValidatorAddress)
		if err != nil {
			return internalerrors.New(internalerrors.KindValidatorIneligible,
				fmt.Sprintf("no public key for validator %s at height %d", block.ValidatorAddress, h), err).WithHash(block.Hash.String())
		}
		if err := block.IsValidAgainst(previous, pubKey, now); err != nil {
			return err
		}
		previous = block
	}
	return nil
}

func (s *Store) readAt(entry indexEntry) (*core.Block, error) {
	data := make([]byte, entry.Length)
	if _, err := s.logFile.ReadAt(data, entry.Offset+lengthPrefixSize); err != nil {
		return nil, internalerrors.New(internalerrors.KindStoreIO, "read block record", err)
	}
	return core.DeserializeBlock(data)
}

type persistedIndex struct {
	ByHeight map[uint64]indexEntry `json:"byHeight"`
}

func (s *Store) persistIndex() error {
	payload := persistedIndex{ByHeight: s.byHeight}
	data, err := json.Marshal(payload)
	if err != nil {
		return internalerrors.New(internalerrors.KindStoreIO, "marshal block index", err)
	}

	tmpPath := s.indexPath + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return internalerrors.New(internalerrors.KindStoreIO, "create block index temp file", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return internalerrors.New(internalerrors.KindStoreIO, "write block index temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return internalerrors.New(internalerrors.KindStoreIO, "fsync block index temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return internalerrors.New(internalerrors.KindStoreIO, "close block index temp file", err)
	}
	if err := os.Rename(tmpPath, s.indexPath); err != nil {
		return internalerrors.New(internalerrors.KindStoreIO, "install block index", err)
	}
	return nil
}

func (s *Store) loadIndex() error {
	data, err := os.ReadFile(s.indexPath)
	if err != nil {
		return err
	}
	var payload persistedIndex
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	info, err := s.logFile.Stat()
	if err != nil {
		return err
	}
	var end int64
	for _, entry := range payload.ByHeight {
		if e := entry.Offset + lengthPrefixSize + int64(entry.Length); e > end {
			end = e
		}
	}
	if end != info.Size() {
		return fmt.Errorf("index covers %d of %d log bytes", end, info.Size())
	}
	s.byHeight = payload.ByHeight
	s.byHash = make(map[string]uint64, len(payload.ByHeight))
	for height, entry := range payload.ByHeight {
		block, err := s.readAt(entry)
		if err != nil {
			return err
		}
		s.byHash[block.Hash.String()] = height
	}
	return nil
}

// rebuildIndex scans the log file from the start, reconstructing
// byHeight/byHash from the length-prefixed records it contains. Used when
// the index file is missing, corrupt, or does not cover the whole log,
// e.g. after a crash between a log write and an index persist.
func (s *Store) rebuildIndex() error {
	s.byHeight = make(map[uint64]indexEntry)
	s.byHash = make(map[string]uint64)

	var offset int64
	for {
		prefix := make([]byte, lengthPrefixSize)
		n, err := s.logFile.ReadAt(prefix, offset)
		if n < lengthPrefixSize {
			break
		}
		if err != nil {
			return internalerrors.New(internalerrors.KindStoreIO, "read block record length during rebuild", err)
		}
		length := binary.BigEndian.Uint32(prefix)

		data := make([]byte, length)
		if _, err := s.logFile.ReadAt(data, offset+lengthPrefixSize); err != nil {
			return internalerrors.New(internalerrors.KindStoreIO, "read block record during rebuild", err)
		}
		block, err := core.DeserializeBlock(data)
		if err != nil {
			return err
		}

		s.byHeight[block.Height] = indexEntry{Offset: offset, Length: length}
		s.byHash[block.Hash.String()] = block.Height
		offset += lengthPrefixSize + int64(length)
	}
	return nil
}
