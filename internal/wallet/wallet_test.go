package wallet_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bt2c/bt2c-core/internal/wallet"
)

func TestNew_DerivesFirstAccount(t *testing.T) {
	w, err := wallet.New("")
	require.NoError(t, err)
	require.NotEmpty(t, w.Mnemonic)

	acct, err := w.Account(0)
	require.NoError(t, err)
	require.NotEmpty(t, acct.Address)
}

func TestOpen_SameMnemonicReproducesSameAddress(t *testing.T) {
	w1, err := wallet.New("correct horse battery staple")
	require.NoError(t, err)

	w2, err := wallet.Open(w1.Mnemonic, "correct horse battery staple")
	require.NoError(t, err)

	a1, err := w1.Account(1)
	require.NoError(t, err)
	a2, err := w2.Account(1)
	require.NoError(t, err)
	require.Equal(t, a1.Address, a2.Address)
}

func TestAccount_DifferentIndicesGiveDifferentAddresses(t *testing.T) {
	w, err := wallet.New("")
	require.NoError(t, err)

	a0, err := w.Account(0)
	require.NoError(t, err)
	a1, err := w.Account(1)
	require.NoError(t, err)
	require.NotEqual(t, a0.Address, a1.Address)
}

func TestNewTransaction_ProducesVerifiableSignature(t *testing.T) {
	w, err := wallet.New("")
	require.NoError(t, err)
	acct, err := w.Account(0)
	require.NoError(t, err)

	tx, err := wallet.NewTransaction(acct, "bt2c_recipient", 100, 1, 1, uint64(time.Now().UnixMilli()))
	require.NoError(t, err)
	require.True(t, tx.VerifySignature())
}

func TestSealUnseal_RoundTrip(t *testing.T) {
	w, err := wallet.New("")
	require.NoError(t, err)

	data, err := wallet.Seal(w.Mnemonic, "hunter2")
	require.NoError(t, err)

	recovered, err := wallet.Unseal(data, "hunter2")
	require.NoError(t, err)
	require.Equal(t, w.Mnemonic, recovered)
}

func TestUnseal_RejectsWrongPassword(t *testing.T) {
	w, err := wallet.New("")
	require.NoError(t, err)

	data, err := wallet.Seal(w.Mnemonic, "hunter2")
	require.NoError(t, err)

	_, err = wallet.Unseal(data, "wrong")
	require.Error(t, err)
}
