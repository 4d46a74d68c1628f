package oracle

import (
	"context"
	"sync"
)

// Mock is an in-memory Oracle used by tests and single-machine demos: every
// attestation and fee quote is programmed explicitly rather than observed
// from a real chain.
type Mock struct {
	mu              sync.Mutex
	attestations    map[attestationKey]bool
	fee             FeeEstimate
	registered      map[string]bool
	broadcast       [][]byte
	confirmedStream chan ConfirmedDeposit
}

type attestationKey struct {
	txHash  [32]byte
	address string
	amount  uint64
}

// NewMock constructs a Mock with a default fee estimate of 1 sat/vB.
func NewMock() *Mock {
	return &Mock{
		attestations:    make(map[attestationKey]bool),
		fee:             FeeEstimate{SatPerVByte: 1},
		registered:      make(map[string]bool),
		confirmedStream: make(chan ConfirmedDeposit, 16),
	}
}

// SetAttestation programs the result AttestDeposit returns for the given
// (txHash, address, amount) tuple.
func (m *Mock) SetAttestation(txHash [32]byte, address string, amount uint64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attestations[attestationKey{txHash, address, amount}] = ok
}

// SetFee programs the fee estimate returned for every priority.
func (m *Mock) SetFee(fee FeeEstimate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fee = fee
}

// PushConfirmedDeposit injects a confirmed deposit onto the stream, as the
// real oracle's watch loop would after observing the transaction land.
func (m *Mock) PushConfirmedDeposit(rawTx []byte) {
	m.confirmedStream <- ConfirmedDeposit{RawTx: rawTx}
}

// Broadcasted returns every transaction handed to BroadcastTransaction, in
// order, for test assertions.
func (m *Mock) Broadcasted() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.broadcast))
	copy(out, m.broadcast)
	return out
}

// RegisteredAddresses returns every address RegisterAddress was called
// with.
func (m *Mock) RegisteredAddresses() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.registered))
	for a := range m.registered {
		out = append(out, a)
	}
	return out
}

func (m *Mock) AttestDeposit(_ context.Context, txHash [32]byte, address string, amountSat uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attestations[attestationKey{txHash, address, amountSat}], nil
}

func (m *Mock) EstimateFee(_ context.Context, _ Priority) (FeeEstimate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fee, nil
}

func (m *Mock) BroadcastTransaction(_ context.Context, rawTx []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcast = append(m.broadcast, rawTx)
	return nil
}

func (m *Mock) ConfirmedDeposits() <-chan ConfirmedDeposit {
	return m.confirmedStream
}

func (m *Mock) RegisterAddress(address string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registered[address] = true
}
