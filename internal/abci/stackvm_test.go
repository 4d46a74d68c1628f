package abci

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fedvault/node/internal/oracle"
)

func amountBytes(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func TestOpCheckOracleThenIncrementBalance(t *testing.T) {
	mock := oracle.NewMock()
	var txHash [32]byte
	txHash[0] = 0xAB
	mock.SetAttestation(txHash, "alice", 5000, true)

	tx := Transaction{
		Type:    TransactionDeposit,
		Version: CurrentTransactionVersion,
		Ops: []Op{
			OpPush{Value: amountBytes(5000)},
			OpPush{Value: []byte("alice")},
			OpPush{Value: txHash[:]},
			OpCheckOracle{},
			OpPush{Value: amountBytes(5000)},
			OpPush{Value: []byte("alice")},
			OpIncrementBalance{},
		},
	}

	state := NewChainState()
	next, trace, err := Execute(context.Background(), mock, state, tx)
	require.NoError(t, err)
	require.NotEmpty(t, trace.Steps)
	require.Equal(t, uint64(5000), next.balanceOf("alice"))
	require.Equal(t, uint64(0), state.balanceOf("alice"), "original state must be untouched")
}

func TestOpIncrementBalanceFailsWithoutAllowance(t *testing.T) {
	mock := oracle.NewMock()
	tx := Transaction{
		Type:    TransactionDeposit,
		Version: CurrentTransactionVersion,
		Ops: []Op{
			OpPush{Value: amountBytes(100)},
			OpPush{Value: []byte("bob")},
			OpIncrementBalance{},
		},
	}
	_, _, err := Execute(context.Background(), mock, NewChainState(), tx)
	require.ErrorIs(t, err, ErrInsufficientAllowance)
}

func TestOpDecrementBalanceFailsWithInsufficientFunds(t *testing.T) {
	mock := oracle.NewMock()
	state := NewChainState()
	state.creditAccount("carol", 10)

	tx := Transaction{
		Type:    TransactionWithdrawal,
		Version: CurrentTransactionVersion,
		Ops: []Op{
			OpPush{Value: amountBytes(50)},
			OpPush{Value: []byte("carol")},
			OpDecrementBalance{},
		},
	}
	_, _, err := Execute(context.Background(), mock, state, tx)
	require.ErrorIs(t, err, ErrInsufficientBalance)
	require.Equal(t, uint64(10), state.balanceOf("carol"))
}

func TestOpCheckOracleDeniedGrantsNoAllowance(t *testing.T) {
	mock := oracle.NewMock() // no attestation programmed: defaults to false
	var txHash [32]byte

	tx := Transaction{
		Type:    TransactionDeposit,
		Version: CurrentTransactionVersion,
		Ops: []Op{
			OpPush{Value: amountBytes(100)},
			OpPush{Value: []byte("dave")},
			OpPush{Value: txHash[:]},
			OpCheckOracle{},
			OpPush{Value: amountBytes(100)},
			OpPush{Value: []byte("dave")},
			OpIncrementBalance{},
		},
	}
	_, _, err := Execute(context.Background(), mock, NewChainState(), tx)
	require.ErrorIs(t, err, ErrInsufficientAllowance)
}

func TestSaturatingArithmetic(t *testing.T) {
	require.Equal(t, ^uint64(0), saturatingAdd(^uint64(0), 1))
	require.Equal(t, uint64(0), saturatingSub(5, 10))
}
