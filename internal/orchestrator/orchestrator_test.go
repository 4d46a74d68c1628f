package orchestrator

import (
	"bytes"
	"context"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	btcwire "github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"

	"github.com/fedvault/node/internal/abci"
	"github.com/fedvault/node/internal/key"
	"github.com/fedvault/node/internal/log"
	"github.com/fedvault/node/internal/network"
	"github.com/fedvault/node/internal/oracle"
	"github.com/fedvault/node/internal/storage"
	"github.com/fedvault/node/internal/validator"
	"github.com/fedvault/node/internal/wire"
)

// testNode builds a single-validator (n=1, threshold=1) Node. For this
// configuration DKG and signing both complete synchronously inline (a lone
// validator is its own whole quorum), so Start returns with a wallet
// already installed and every subsequent RPC can be driven directly
// without an event-loop goroutine.
func testNode(t *testing.T) (*Node, *oracle.Mock) {
	t.Helper()

	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	pub := priv.PubKey()
	id := validator.IDFromPublicKey(pub)
	set := validator.NewSet([]*validator.Info{{ID: id, PublicKey: pub, Name: "A"}})

	hub := network.NewHub(log.DefaultLogger())
	net := network.NewLocal(hub, id)

	store, err := storage.Open(t.TempDir(), log.DefaultLogger())
	require.NoError(t, err)

	mockOracle := oracle.NewMock()

	var persisted *key.Share
	persist := func(s *key.Share) error { persisted = s; return nil }
	load := func() (*key.Share, bool) { return persisted, persisted != nil }

	n, err := New(id, set, net, store, mockOracle, &chaincfg.RegressionNetParams, log.DefaultLogger(), persist, load)
	require.NoError(t, err)

	require.NoError(t, n.Start(context.Background()))
	require.NotNil(t, n.wallet, "n=1/t=1 DKG must complete synchronously inside Start")

	return n, mockOracle
}

// payTo builds a serialized, unsigned Bitcoin transaction with a single
// output of amountSat paying address, standing in for a transaction an
// external observer (the oracle) reports as confirmed.
func payTo(t *testing.T, address string, amountSat int64) (*btcwire.MsgTx, []byte) {
	t.Helper()
	addr, err := btcutil.DecodeAddress(address, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	tx := btcwire.NewMsgTx(btcwire.TxVersion)
	tx.AddTxOut(&btcwire.TxOut{Value: amountSat, PkScript: script})

	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))
	return tx, buf.Bytes()
}

// creditDeposit drives the full deposit lifecycle (create, attest, confirm,
// finalize) and returns the account key now holding amountSat.
func creditDeposit(t *testing.T, n *Node, mockOracle *oracle.Mock, userPub []byte, amountSat uint64) abci.Address {
	t.Helper()
	ctx := context.Background()

	createResp, ok := n.createDeposit(ctx, wire.CreateDepositRequest{UserPubKey: userPub, AmountSat: amountSat}).(wire.CreateDepositResponse)
	require.True(t, ok)
	require.NotEmpty(t, createResp.DepositAddress)

	tx, rawTx := payTo(t, createResp.DepositAddress, int64(amountSat))
	txHash := tx.TxHash()

	accountKey := accountKeyForUserPubKey(userPub)
	var hash [32]byte
	copy(hash[:], txHash[:])
	mockOracle.SetAttestation(hash, string(accountKey), amountSat, true)

	resp := n.confirmDeposit(ctx, rawTx)
	_, isAck := resp.(wire.AckResponse)
	require.True(t, isAck, "confirmDeposit must succeed: %#v", resp)

	block, err := n.chain.PendingBlock(n.self)
	require.NoError(t, err)
	require.Len(t, block.Transactions, 1)
	require.NoError(t, n.chain.FinalizeBlock(ctx, block))

	return accountKey
}

func TestDepositLifecycleCreditsAccountOnConfirmation(t *testing.T) {
	n, mockOracle := testNode(t)

	userPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	userPub := userPriv.PubKey().SerializeCompressed()

	accountKey := creditDeposit(t, n, mockOracle, userPub, 1000)

	require.Equal(t, uint64(1000), n.chain.State().BalanceOf(accountKey))
	require.Equal(t, uint64(1000), n.wallet.Balance())
}

func TestDepositConfirmationFailsForUnattestedTransaction(t *testing.T) {
	n, _ := testNode(t)
	ctx := context.Background()

	userPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	userPub := userPriv.PubKey().SerializeCompressed()

	createResp, ok := n.createDeposit(ctx, wire.CreateDepositRequest{UserPubKey: userPub, AmountSat: 1000}).(wire.CreateDepositResponse)
	require.True(t, ok)

	_, rawTx := payTo(t, createResp.DepositAddress, 1000)
	// No SetAttestation call: the oracle has not been told to attest this payment.

	resp := n.confirmDeposit(ctx, rawTx)
	_, isAck := resp.(wire.AckResponse)
	require.True(t, isAck, "confirmDeposit only submits the transaction; the oracle check happens at finalize time")

	block, err := n.chain.PendingBlock(n.self)
	require.NoError(t, err)
	require.Error(t, n.chain.FinalizeBlock(ctx, block), "finalizing must fail: OpCheckOracle has no attestation on file")
}

func TestWithdrawalLifecycleDebitsAccountAndBroadcastsSignedTransaction(t *testing.T) {
	n, mockOracle := testNode(t)
	ctx := context.Background()

	userPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	userPub := userPriv.PubKey().SerializeCompressed()
	accountKey := creditDeposit(t, n, mockOracle, userPub, 1000)

	recipientAddr, err := n.wallet.NewDepositAddress("withdrawal-recipient")
	require.NoError(t, err)

	proposeResp, ok := n.proposeWithdrawal(ctx, wire.ProposeWithdrawalRequest{
		AmountSat:  400,
		AddressTo:  recipientAddr,
		UserPubKey: userPub,
	}).(wire.ProposeWithdrawalResponse)
	require.True(t, ok)
	require.Greater(t, proposeResp.QuotedFeeSat, uint64(0))

	sig := ecdsa.Sign(userPriv, proposeResp.Challenge[:]).Serialize()

	// threshold == 1: confirmWithdrawal's StartSigningSession call completes
	// the whole signing protocol inline, so handleSigningResult has already
	// run by the time confirmWithdrawal returns.
	confirmResp, ok := n.confirmWithdrawal(ctx, wire.ConfirmWithdrawalRequest{
		Challenge: proposeResp.Challenge,
		Signature: sig,
	}).(wire.ConfirmWithdrawalResponse)
	require.True(t, ok)
	require.NotEmpty(t, confirmResp.TxID)

	broadcasted := mockOracle.Broadcasted()
	require.Len(t, broadcasted, 1)

	block, err := n.chain.PendingBlock(n.self)
	require.NoError(t, err)
	require.Len(t, block.Transactions, 1)
	require.NoError(t, n.chain.FinalizeBlock(ctx, block))

	want := 1000 - 400 - proposeResp.QuotedFeeSat
	require.Equal(t, want, n.chain.State().BalanceOf(accountKey))
}

func TestConfirmWithdrawalRejectsInvalidSignature(t *testing.T) {
	n, mockOracle := testNode(t)
	ctx := context.Background()

	userPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	userPub := userPriv.PubKey().SerializeCompressed()
	creditDeposit(t, n, mockOracle, userPub, 1000)

	recipientAddr, err := n.wallet.NewDepositAddress("withdrawal-recipient")
	require.NoError(t, err)

	proposeResp, ok := n.proposeWithdrawal(ctx, wire.ProposeWithdrawalRequest{
		AmountSat:  400,
		AddressTo:  recipientAddr,
		UserPubKey: userPub,
	}).(wire.ProposeWithdrawalResponse)
	require.True(t, ok)

	otherPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	badSig := ecdsa.Sign(otherPriv, proposeResp.Challenge[:]).Serialize()

	resp := n.confirmWithdrawal(ctx, wire.ConfirmWithdrawalRequest{
		Challenge: proposeResp.Challenge,
		Signature: badSig,
	})
	_, isErr := resp.(wire.ErrorResponse)
	require.True(t, isErr)

	// The challenge is single-use: even a later, correctly-signed retry
	// must be rejected once consumed.
	goodSig := ecdsa.Sign(userPriv, proposeResp.Challenge[:]).Serialize()
	resp = n.confirmWithdrawal(ctx, wire.ConfirmWithdrawalRequest{
		Challenge: proposeResp.Challenge,
		Signature: goodSig,
	})
	_, isErr = resp.(wire.ErrorResponse)
	require.True(t, isErr)
}

func TestCheckBalanceReflectsChainState(t *testing.T) {
	n, mockOracle := testNode(t)

	userPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	userPub := userPriv.PubKey().SerializeCompressed()
	accountKey := creditDeposit(t, n, mockOracle, userPub, 2500)

	resp, ok := n.checkBalance(wire.CheckBalanceRequest{Address: string(accountKey)}).(wire.CheckBalanceResponse)
	require.True(t, ok)
	require.Equal(t, uint64(2500), resp.BalanceSat)
}
