// Package wallet owns the federation's view of its single on-chain vault:
// the set of unspent taproot outputs it controls, derivation of fresh
// per-intent deposit addresses from the DKG group key, and construction of
// the single-input spend used to pay out a withdrawal (spec §4.4/§4 wallet
// lifecycle). It is exclusively owned and mutated by the orchestrator task;
// nothing else touches it (spec §5 shared-resource policy).
package wallet

import (
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ErrNoSuitableUTXO is returned when coin selection cannot find a single
// unspent output large enough to cover a requested spend plus its fee. Only
// single-UTXO selection is supported, mirroring the vault's "one signature
// covers one input" spending model.
var ErrNoSuitableUTXO = errors.New("wallet: no single utxo large enough for this spend")

// Outpoint identifies a previous transaction output.
type Outpoint struct {
	TxID chainhash.Hash
	Vout uint32
}

func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID.String(), o.Vout)
}

// UTXO is an unspent output controlled by one of the wallet's tracked
// taproot addresses.
type UTXO struct {
	Outpoint     Outpoint
	Address      string
	AmountSat    uint64
	ScriptPubKey []byte
}

// Set is the in-memory unspent-output table. Confirmed deposits add to it;
// a confirmed withdrawal spend (or any externally observed transaction that
// spends a tracked outpoint) removes from it.
type Set struct {
	mu   sync.Mutex
	byID map[Outpoint]*UTXO
}

// NewSet returns an empty UTXO set.
func NewSet() *Set {
	return &Set{byID: make(map[Outpoint]*UTXO)}
}

// Add records a new unspent output, replacing any existing entry at the
// same outpoint.
func (s *Set) Add(u UTXO) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := u
	s.byID[u.Outpoint] = &cp
}

// Remove deletes the outpoint from the set, if present.
func (s *Set) Remove(op Outpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, op)
}

// SelectSingle finds one unspent output whose value is at least target,
// preferring the smallest output that still satisfies it so large outputs
// stay available for bigger future spends.
func (s *Set) SelectSingle(target uint64) (*UTXO, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *UTXO
	for _, u := range s.byID {
		if u.AmountSat < target {
			continue
		}
		if best == nil || u.AmountSat < best.AmountSat {
			best = u
		}
	}
	if best == nil {
		return nil, ErrNoSuitableUTXO
	}
	cp := *best
	return &cp, nil
}

// All returns a snapshot of every tracked unspent output.
func (s *Set) All() []UTXO {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]UTXO, 0, len(s.byID))
	for _, u := range s.byID {
		out = append(out, *u)
	}
	return out
}

// IngestExternalTransaction reconciles the set against a transaction the
// federation did not itself build: any tracked outpoint it spends is
// removed, and any output paying a tracked address is added. This keeps
// every peer's wallet in lockstep after a gossiped pending-spend record or
// an oracle-confirmed payment (spec §4.5 withdrawal lifecycle).
func (s *Set) IngestExternalTransaction(txid chainhash.Hash, spent []Outpoint, credited []UTXO) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range spent {
		delete(s.byID, op)
	}
	for _, u := range credited {
		cp := u
		s.byID[u.Outpoint] = &cp
	}
	_ = txid // retained for callers that log the originating transaction
}
