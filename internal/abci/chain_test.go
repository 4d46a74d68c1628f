package abci

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fedvault/node/internal/log"
	"github.com/fedvault/node/internal/oracle"
	"github.com/fedvault/node/internal/storage"
	"github.com/fedvault/node/internal/validator"
)

func newTestChain(t *testing.T) (*Chain, *oracle.Mock) {
	t.Helper()
	store, err := storage.Open(t.TempDir(), log.DefaultLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	mock := oracle.NewMock()
	chain, err := NewChain(store, mock, log.DefaultLogger())
	require.NoError(t, err)
	return chain, mock
}

func TestPendingBlockAssemblesBufferedTransactions(t *testing.T) {
	chain, _ := newTestChain(t)
	tx := Transaction{Type: TransactionDeposit, Version: CurrentTransactionVersion, Ops: []Op{OpPush{Value: []byte("x")}}}
	chain.SubmitTransaction(tx)
	chain.SubmitTransaction(tx)

	block, err := chain.PendingBlock(validator.ID("proposer-1"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), block.Height)
	require.Len(t, block.Transactions, 2)
}

func TestFinalizeBlockPersistsStateAndAdvancesTip(t *testing.T) {
	chain, mock := newTestChain(t)
	var txHash [32]byte
	txHash[0] = 1
	mock.SetAttestation(txHash, "alice", 1000, true)

	tx := Transaction{
		Type:    TransactionDeposit,
		Version: CurrentTransactionVersion,
		Ops: []Op{
			OpPush{Value: amountBytes(1000)},
			OpPush{Value: []byte("alice")},
			OpPush{Value: txHash[:]},
			OpCheckOracle{},
			OpPush{Value: amountBytes(1000)},
			OpPush{Value: []byte("alice")},
			OpIncrementBalance{},
		},
	}
	chain.SubmitTransaction(tx)

	block, err := chain.PendingBlock(validator.ID("proposer-1"))
	require.NoError(t, err)
	require.NoError(t, chain.FinalizeBlock(context.Background(), block))

	require.Equal(t, uint64(1000), chain.State().balanceOf("alice"))
	require.Equal(t, uint64(1), chain.State().BlockHeight)

	persisted, err := chain.GetBlockByHeight(1)
	require.NoError(t, err)
	hash, err := block.Hash()
	require.NoError(t, err)
	persistedHash, err := persisted.Hash()
	require.NoError(t, err)
	require.Equal(t, hash, persistedHash)
}

func TestFinalizeBlockFailureLeavesStateUnchanged(t *testing.T) {
	chain, _ := newTestChain(t)
	badTx := Transaction{
		Type:    TransactionWithdrawal,
		Version: CurrentTransactionVersion,
		Ops: []Op{
			OpPush{Value: amountBytes(5)},
			OpPush{Value: []byte("nobody")},
			OpIncrementBalance{}, // no allowance granted: must fail
		},
	}
	chain.SubmitTransaction(badTx)
	block, err := chain.PendingBlock(validator.ID("proposer-1"))
	require.NoError(t, err)

	err = chain.FinalizeBlock(context.Background(), block)
	require.Error(t, err)
	require.Equal(t, uint64(0), chain.State().BlockHeight)
}

func TestDepositIntentDualIndexing(t *testing.T) {
	chain, _ := newTestChain(t)
	intent := &DepositIntent{
		TrackingID:     "track-1",
		DepositAddress: "bc1paddress",
		UserPubKey:     []byte{0x02},
		AmountSat:      5000,
	}
	require.NoError(t, chain.RegisterDepositIntent(intent))

	found, ok := chain.DepositIntentByAddress("bc1paddress")
	require.True(t, ok)
	require.Equal(t, "track-1", found.TrackingID)

	ids, err := chain.PendingDepositIntentTrackingIDs()
	require.NoError(t, err)
	require.Equal(t, []string{"track-1"}, ids)
}
