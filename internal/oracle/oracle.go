// Package oracle names the external chain-watching collaborator (spec §1
// non-goal: "the oracle implementation" is out of scope). The node only
// ever calls through this interface: attesting deposits for OpCheckOracle,
// estimating fees for withdrawal quoting, broadcasting signed transactions,
// and streaming confirmed deposits.
package oracle

import "context"

// Priority selects the urgency band used for fee estimation (spec §4.4
// withdrawal lifecycle: "optionally at the requested priority").
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
	PriorityLow
)

// FeeEstimate is a current fee-rate quote.
type FeeEstimate struct {
	SatPerVByte uint64
}

// ConfirmedDeposit is one confirmed on-chain transaction paying a
// registered deposit address, as surfaced by the oracle's watch loop.
type ConfirmedDeposit struct {
	RawTx []byte
}

// Oracle is the interface the ABCI executor and withdrawal flow depend on.
// A production implementation watches the UTXO chain directly; Mock below
// stands in for tests.
type Oracle interface {
	// AttestDeposit reports whether txHash actually pays amountSat to
	// address, backing OpCheckOracle.
	AttestDeposit(ctx context.Context, txHash [32]byte, address string, amountSat uint64) (bool, error)

	// EstimateFee quotes a current fee rate at the given priority.
	EstimateFee(ctx context.Context, priority Priority) (FeeEstimate, error)

	// BroadcastTransaction relays a fully-witnessed transaction to the
	// network.
	BroadcastTransaction(ctx context.Context, rawTx []byte) error

	// ConfirmedDeposits streams confirmed payments to any registered
	// deposit address. The channel is never closed by a well-behaved
	// implementation; callers range over it for the node's lifetime.
	ConfirmedDeposits() <-chan ConfirmedDeposit

	// RegisterAddress tells the oracle to start watching address for
	// incoming payments (spec §4.4 deposit lifecycle step 1).
	RegisterAddress(address string)
}
