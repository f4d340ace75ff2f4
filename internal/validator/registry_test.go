package validator_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bt2c/bt2c-core/internal/consensusconstants"
	"github.com/bt2c/bt2c-core/internal/crypto"
	internalerrors "github.com/bt2c/bt2c-core/internal/errors"
	"github.com/bt2c/bt2c-core/internal/validator"
)

func newTestPubKey(t *testing.T) (*crypto.PublicKey, string) {
	t.Helper()
	_, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return pub, crypto.DeriveAddress(pub)
}

func TestRegister_RejectsBelowMinStake(t *testing.T) {
	reg := validator.NewRegistry("", time.Now(), nil, nil)
	pub, addr := newTestPubKey(t)
	_, err := reg.Register(addr, pub, consensusconstants.MinStake-1, "low-stake", time.Now())
	require.Error(t, err)
}

func TestRegister_FirstValidatorByEmptyRegistry(t *testing.T) {
	reg := validator.NewRegistry("", time.Now(), nil, nil)
	pub, addr := newTestPubKey(t)
	v, err := reg.Register(addr, pub, consensusconstants.MinStake, "genesis", time.Now())
	require.NoError(t, err)
	require.True(t, v.IsFirstValidator)
	require.Equal(t, validator.StateActive, v.State)
}

func TestRegister_FirstValidatorByConfiguredAddress(t *testing.T) {
	pub1, addr1 := newTestPubKey(t)
	pub2, addr2 := newTestPubKey(t)
	reg := validator.NewRegistry(addr2, time.Now(), nil, nil)

	v1, err := reg.Register(addr1, pub1, consensusconstants.MinStake, "a", time.Now())
	require.NoError(t, err)
	require.False(t, v1.IsFirstValidator)

	v2, err := reg.Register(addr2, pub2, consensusconstants.MinStake, "b", time.Now())
	require.NoError(t, err)
	require.True(t, v2.IsFirstValidator)
}

func TestJailAndUnjail(t *testing.T) {
	reg := validator.NewRegistry("", time.Now(), nil, nil)
	pub, addr := newTestPubKey(t)
	_, err := reg.Register(addr, pub, consensusconstants.MinStake, "v", time.Now())
	require.NoError(t, err)

	now := time.Now()
	require.True(t, reg.Jail(addr, time.Hour, now))
	v, _ := reg.Get(addr)
	require.Equal(t, validator.StateJailed, v.State)

	require.False(t, reg.TryUnjail(addr, now.Add(time.Minute)))
	require.True(t, reg.TryUnjail(addr, now.Add(2*time.Hour)))
	v, _ = reg.Get(addr)
	require.Equal(t, validator.StateInactive, v.State)
}

func TestRecordMissed_JailsAfterThreshold(t *testing.T) {
	reg := validator.NewRegistry("", time.Now(), nil, nil)
	pub, addr := newTestPubKey(t)
	_, err := reg.Register(addr, pub, consensusconstants.MinStake, "v", time.Now())
	require.NoError(t, err)

	now := time.Now()
	for i := uint64(0); i <= consensusconstants.MaxMissedBlocks; i++ {
		require.NoError(t, reg.RecordMissed(addr, now))
	}
	v, _ := reg.Get(addr)
	require.Equal(t, validator.StateJailed, v.State)
}

func TestRecordProduced_UpdatesReputationAndUptime(t *testing.T) {
	reg := validator.NewRegistry("", time.Now(), nil, nil)
	pub, addr := newTestPubKey(t)
	_, err := reg.Register(addr, pub, consensusconstants.MinStake, "v", time.Now())
	require.NoError(t, err)

	require.NoError(t, reg.RecordProduced(addr, time.Now()))
	v, _ := reg.Get(addr)
	require.Equal(t, uint64(1), v.BlocksProduced)
	require.InDelta(t, 100.0, v.Uptime, 0.0001)
}

func TestSelectProposer_WeightsByStakeAndReputation(t *testing.T) {
	reg := validator.NewRegistry("", time.Now(), nil, nil)
	pubBig, addrBig := newTestPubKey(t)
	pubSmall, addrSmall := newTestPubKey(t)
	_, err := reg.Register(addrBig, pubBig, consensusconstants.MinStake*1000, "big", time.Now())
	require.NoError(t, err)
	_, err = reg.Register(addrSmall, pubSmall, consensusconstants.MinStake, "small", time.Now())
	require.NoError(t, err)

	counts := map[string]int{}
	for i := 0; i < 200; i++ {
		seed := crypto.SumHash([]byte{byte(i), byte(i >> 8)})
		v, ok := reg.SelectProposer(seed, time.Now())
		require.True(t, ok)
		counts[v.Address]++
	}
	require.Greater(t, counts[addrBig], counts[addrSmall])
}

func TestSelectProposer_NoneEligible(t *testing.T) {
	reg := validator.NewRegistry("", time.Now(), nil, nil)
	_, ok := reg.SelectProposer(crypto.Hash{}, time.Now())
	require.False(t, ok)
}

func TestProcessDistributionReward_DeveloperVsEarly(t *testing.T) {
	genesis := time.Now()
	pubDev, addrDev := newTestPubKey(t)
	pubEarly, addrEarly := newTestPubKey(t)
	reg := validator.NewRegistry(addrDev, genesis, nil, nil)

	_, err := reg.Register(addrDev, pubDev, consensusconstants.MinStake, "dev", genesis)
	require.NoError(t, err)
	_, err = reg.Register(addrEarly, pubEarly, consensusconstants.MinStake, "early", genesis)
	require.NoError(t, err)

	result, err := reg.ProcessDistributionReward(addrDev, genesis.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, consensusconstants.DeveloperReward, result.Amount)

	result, err = reg.ProcessDistributionReward(addrEarly, genesis.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, consensusconstants.EarlyValidatorReward, result.Amount)

	_, err = reg.ProcessDistributionReward(addrDev, genesis.Add(time.Hour))
	require.Error(t, err)
	require.ErrorIs(t, err, internalerrors.ErrAlreadyClaimed)
}

func TestProcessDistributionReward_WindowClosed(t *testing.T) {
	genesis := time.Now()
	pub, addr := newTestPubKey(t)
	reg := validator.NewRegistry("", genesis, nil, nil)
	_, err := reg.Register(addr, pub, consensusconstants.MinStake, "v", genesis)
	require.NoError(t, err)

	result, err := reg.ProcessDistributionReward(addr, genesis.Add(15*24*time.Hour))
	require.NoError(t, err)
	require.False(t, result.Success)
}

func TestUpdateStake_FlipsActivation(t *testing.T) {
	reg := validator.NewRegistry("", time.Now(), nil, nil)
	pub, addr := newTestPubKey(t)
	_, err := reg.Register(addr, pub, consensusconstants.MinStake, "v", time.Now())
	require.NoError(t, err)

	require.NoError(t, reg.UpdateStake(addr, 1))
	v, _ := reg.Get(addr)
	require.Equal(t, validator.StateInactive, v.State)

	require.NoError(t, reg.UpdateStake(addr, consensusconstants.MinStake*2))
	v, _ = reg.Get(addr)
	require.Equal(t, validator.StateActive, v.State)
}
