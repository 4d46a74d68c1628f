package abci

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fedvault/node/internal/oracle"
)

// Op is one operation in a transaction's linear operand-stack program
// (spec §4.4 transaction executor). It is a closed sum type, matched on by
// type switch rather than a dispatch table, following the tagged-union
// idiom the wire package uses for message variants.
type Op interface {
	isOp()
}

// OpPush pushes a literal byte string.
type OpPush struct{ Value []byte }

// OpCheckOracle pops tx_hash (32B), address (utf-8), amount (8B BE), in
// that pop order, and asks the oracle to attest the payment. On success it
// adds amount to allowance[address] and pushes 1; on failure it pushes 0
// without touching the allowance.
type OpCheckOracle struct{}

// OpIncrementBalance pops address then amount, requires
// allowance[address] >= amount, debits the allowance, and saturating-adds
// amount to the account balance (creating the account at 0 if absent).
type OpIncrementBalance struct{}

// OpDecrementBalance pops address then amount, requires
// account.balance >= amount, and saturating-subtracts it.
type OpDecrementBalance struct{}

// OpNoop does nothing. Useful for padding transactions without affecting
// state, e.g. in test fixtures.
type OpNoop struct{}

func (OpPush) isOp()             {}
func (OpCheckOracle) isOp()      {}
func (OpIncrementBalance) isOp() {}
func (OpDecrementBalance) isOp() {}
func (OpNoop) isOp()             {}

// TransactionType tags the kind of chain entry a Transaction represents,
// matching the type field of the deposit/withdrawal transaction model
// (spec §3: "type ∈ {Deposit, Withdrawal}").
type TransactionType string

const (
	TransactionDeposit    TransactionType = "deposit"
	TransactionWithdrawal TransactionType = "withdrawal"
)

// CurrentTransactionVersion is the only transaction encoding this executor
// understands; it is carried on every Transaction for forward
// compatibility with a future executor version.
const CurrentTransactionVersion = 1

// Transaction is a linear program executed against a ChainState, tagged
// with the domain entity it represents (spec §3 transaction fields: type,
// version). Metadata is intentionally not modelled: nothing in this
// executor reads it.
type Transaction struct {
	Type    TransactionType
	Version uint32
	Ops     []Op
}

// ExecutionTrace is a human-readable, per-operation record of one
// transaction's execution. It is returned alongside the result for
// debugging and is never persisted (expansion feature, additive).
type ExecutionTrace struct {
	Steps []string
}

var (
	ErrStackUnderflow      = errors.New("abci: operand stack underflow")
	ErrMalformedOperand    = errors.New("abci: malformed operand")
	ErrInsufficientAllowance = errors.New("abci: insufficient oracle allowance")
	ErrInsufficientBalance = errors.New("abci: insufficient account balance")
)

// Execute runs tx against state and returns the resulting state on
// success. Execution is all-or-nothing: on any error the returned
// ChainState is the original, unmodified state and the caller must discard
// whatever partial delta it might have observed via the trace.
func Execute(ctx context.Context, o oracle.Oracle, state *ChainState, tx Transaction) (*ChainState, ExecutionTrace, error) {
	working := state.clone()
	allowance := make(map[Address]uint64)
	var stack [][]byte
	var trace ExecutionTrace

	pop := func() ([]byte, error) {
		if len(stack) == 0 {
			return nil, ErrStackUnderflow
		}
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return top, nil
	}

	for i, op := range tx.Ops {
		switch o2 := op.(type) {
		case OpPush:
			stack = append(stack, o2.Value)
			trace.Steps = append(trace.Steps, fmt.Sprintf("op[%d] push %d bytes", i, len(o2.Value)))

		case OpNoop:
			trace.Steps = append(trace.Steps, fmt.Sprintf("op[%d] noop", i))

		case OpCheckOracle:
			txHashBytes, err := pop()
			if err != nil || len(txHashBytes) != 32 {
				return state, trace, fmt.Errorf("OpCheckOracle tx_hash: %w", errOrMalformed(err))
			}
			addressBytes, err := pop()
			if err != nil {
				return state, trace, fmt.Errorf("OpCheckOracle address: %w", err)
			}
			amountBytes, err := pop()
			if err != nil || len(amountBytes) != 8 {
				return state, trace, fmt.Errorf("OpCheckOracle amount: %w", errOrMalformed(err))
			}
			var txHash [32]byte
			copy(txHash[:], txHashBytes)
			amount := binary.BigEndian.Uint64(amountBytes)
			address := Address(addressBytes)

			ok, err := o.AttestDeposit(ctx, txHash, string(address), amount)
			if err != nil {
				return state, trace, fmt.Errorf("OpCheckOracle: oracle call failed: %w", err)
			}
			if ok {
				allowance[address] = saturatingAdd(allowance[address], amount)
				stack = append(stack, []byte{1})
				trace.Steps = append(trace.Steps, fmt.Sprintf("op[%d] check_oracle %s amount=%d ok", i, address, amount))
			} else {
				stack = append(stack, []byte{0})
				trace.Steps = append(trace.Steps, fmt.Sprintf("op[%d] check_oracle %s amount=%d denied", i, address, amount))
			}

		case OpIncrementBalance:
			address, amount, err := popAddressAmount(pop)
			if err != nil {
				return state, trace, fmt.Errorf("OpIncrementBalance: %w", err)
			}
			if allowance[address] < amount {
				return state, trace, fmt.Errorf("OpIncrementBalance %s amount=%d: %w", address, amount, ErrInsufficientAllowance)
			}
			allowance[address] -= amount
			working.creditAccount(address, amount)
			stack = append(stack, []byte{1})
			trace.Steps = append(trace.Steps, fmt.Sprintf("op[%d] increment_balance %s by %d", i, address, amount))

		case OpDecrementBalance:
			address, amount, err := popAddressAmount(pop)
			if err != nil {
				return state, trace, fmt.Errorf("OpDecrementBalance: %w", err)
			}
			if working.balanceOf(address) < amount {
				return state, trace, fmt.Errorf("OpDecrementBalance %s amount=%d: %w", address, amount, ErrInsufficientBalance)
			}
			working.debitAccount(address, amount)
			stack = append(stack, []byte{1})
			trace.Steps = append(trace.Steps, fmt.Sprintf("op[%d] decrement_balance %s by %d", i, address, amount))

		default:
			return state, trace, fmt.Errorf("abci: unknown operation %T", op)
		}
	}

	return working, trace, nil
}

// popAddressAmount pops address then amount (8B BE), the shared operand
// shape of OpIncrementBalance and OpDecrementBalance.
func popAddressAmount(pop func() ([]byte, error)) (Address, uint64, error) {
	addressBytes, err := pop()
	if err != nil {
		return "", 0, err
	}
	amountBytes, err := pop()
	if err != nil {
		return "", 0, err
	}
	if len(amountBytes) != 8 {
		return "", 0, ErrMalformedOperand
	}
	return Address(addressBytes), binary.BigEndian.Uint64(amountBytes), nil
}

func errOrMalformed(err error) error {
	if err != nil {
		return err
	}
	return ErrMalformedOperand
}
