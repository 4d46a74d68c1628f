package wallet

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"

	"github.com/fedvault/node/internal/log"
)

func generateBtcecKey(t *testing.T) (*btcec.PrivateKey, error) {
	t.Helper()
	return btcec.NewPrivateKey()
}

func signChallenge(priv *btcec.PrivateKey, challenge [32]byte) ([]byte, error) {
	sig := ecdsa.Sign(priv, challenge[:])
	return sig.Serialize(), nil
}

func testGroupKey(t *testing.T) *secp256k1.PublicKey {
	t.Helper()
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	return priv.PubKey()
}

func TestDeriveDepositAddressIsDeterministicPerTrackingID(t *testing.T) {
	group := testGroupKey(t)

	addr1, _, err := DeriveDepositAddress(group, "track-1", &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	addr1Again, _, err := DeriveDepositAddress(group, "track-1", &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	require.Equal(t, addr1, addr1Again)

	addr2, _, err := DeriveDepositAddress(group, "track-2", &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	require.NotEqual(t, addr1, addr2)
}

func TestCreateSpendSelectsUtxoAndAddsChangeOutput(t *testing.T) {
	group := testGroupKey(t)
	w := New(group, &chaincfg.RegressionNetParams, log.DefaultLogger())

	srcAddr, err := w.NewDepositAddress("deposit-1")
	require.NoError(t, err)

	var txid chainhash.Hash
	txid[0] = 0x42
	require.NoError(t, w.ApplyConfirmedDeposit(txid, 0, srcAddr, 100_000))

	recipient, _, err := DeriveDepositAddress(group, "recipient-addr", &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	tx, sighash, err := w.CreateSpend(50_000, 300, recipient)
	require.NoError(t, err)
	require.Len(t, tx.TxIn, 1)
	require.Len(t, tx.TxOut, 2, "change above dust must produce a second output")
	require.Equal(t, int64(50_000), tx.TxOut[0].Value)
	require.Equal(t, int64(100_000-50_000-300), tx.TxOut[1].Value)
	require.NotEqual(t, [32]byte{}, sighash)

	require.Empty(t, w.UTXOs(), "spent utxo must be removed from the set")
}

func TestCreateSpendFailsWithoutSuitableUtxo(t *testing.T) {
	group := testGroupKey(t)
	w := New(group, &chaincfg.RegressionNetParams, log.DefaultLogger())

	recipient, _, err := DeriveDepositAddress(group, "recipient-addr", &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	_, _, err = w.CreateSpend(1000, 10, recipient)
	require.ErrorIs(t, err, ErrNoSuitableUTXO)
}

func TestEstimateSpendReturnsPositiveVsize(t *testing.T) {
	group := testGroupKey(t)
	w := New(group, &chaincfg.RegressionNetParams, log.DefaultLogger())

	srcAddr, err := w.NewDepositAddress("deposit-1")
	require.NoError(t, err)
	var txid chainhash.Hash
	txid[0] = 0x7
	require.NoError(t, w.ApplyConfirmedDeposit(txid, 0, srcAddr, 200_000))

	recipient, _, err := DeriveDepositAddress(group, "recipient-addr", &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	total, vsize, err := w.EstimateSpend(50_000, 5, recipient)
	require.NoError(t, err)
	require.Greater(t, vsize, 0)
	require.Greater(t, total, uint64(50_000))

	// Estimating must not consume the utxo: a real spend still succeeds.
	_, _, err = w.CreateSpend(50_000, total-50_000, recipient)
	require.NoError(t, err)
}

func TestWithdrawalChallengeRoundTrip(t *testing.T) {
	priv, err := generateBtcecKey(t)
	require.NoError(t, err)

	challenge, err := NewWithdrawalChallenge()
	require.NoError(t, err)
	require.NotEqual(t, [32]byte{}, challenge)

	sig, err := signChallenge(priv, challenge)
	require.NoError(t, err)

	ok, err := VerifyWithdrawalConfirmation(priv.PubKey(), challenge, sig)
	require.NoError(t, err)
	require.True(t, ok)

	tampered := challenge
	tampered[0] ^= 0xFF
	ok, err = VerifyWithdrawalConfirmation(priv.PubKey(), tampered, sig)
	require.NoError(t, err)
	require.False(t, ok)
}
