package mempool

import (
	"time"

	"go.etcd.io/bbolt"

	"github.com/bt2c/bt2c-core/internal/core"
	internalerrors "github.com/bt2c/bt2c-core/internal/errors"
)

var mempoolBucket = []byte("mempool")

// BoltMirror persists the mempool's contents to a bbolt database so a
// restart can replay pending transactions instead of losing them. Each
// transaction is stored keyed by its hash, under its own Serialize
// encoding.
type BoltMirror struct {
	db *bbolt.DB
}

// OpenBoltMirror opens (creating if necessary) the bbolt file at path as a
// mempool mirror.
func OpenBoltMirror(path string) (*BoltMirror, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, internalerrors.New(internalerrors.KindStoreIO, "open mempool mirror", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(mempoolBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, internalerrors.New(internalerrors.KindStoreIO, "init mempool mirror bucket", err)
	}
	return &BoltMirror{db: db}, nil
}

// Close closes the underlying database.
func (m *BoltMirror) Close() error {
	return m.db.Close()
}

// SaveAll replaces the mirror's contents with exactly txs.
func (m *BoltMirror) SaveAll(txs []core.Transaction) error {
	return m.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(mempoolBucket)
		var keys [][]byte
		if err := bucket.ForEach(func(k, v []byte) error {
			keys = append(keys, append([]byte(nil), k...))
			return nil
		}); err != nil {
			return err
		}
		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		for i := range txs {
			data, err := txs[i].Serialize()
			if err != nil {
				return err
			}
			if err := bucket.Put([]byte(txs[i].Hash.String()), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadAll returns every transaction currently stored in the mirror.
func (m *BoltMirror) LoadAll() ([]core.Transaction, error) {
	var out []core.Transaction
	err := m.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(mempoolBucket)
		return bucket.ForEach(func(k, v []byte) error {
			parsed, err := core.DeserializeTransaction(v)
			if err != nil {
				return err
			}
			out = append(out, *parsed)
			return nil
		})
	})
	if err != nil {
		return nil, internalerrors.New(internalerrors.KindStoreIO, "load mempool mirror", err)
	}
	return out, nil
}
