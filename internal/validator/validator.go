// Package validator holds the identity types for members of the fixed,
// permissioned validator set: stable opaque IDs derived from long-lived
// public keys, and the ordered set used for leader-schedule computations.
package validator

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// ID is the stable, opaque identifier of a validator. It is a bijection with
// the validator's long-lived public key: two validators have the same ID iff
// they carry the same public key.
type ID string

// IDFromPublicKey derives a ValidatorId deterministically from a node's
// long-lived public key, the way key.Node derives its index from an
// Identity in a drand group file.
func IDFromPublicKey(pub *secp256k1.PublicKey) ID {
	sum := sha256.Sum256(pub.SerializeCompressed())
	return ID(hex.EncodeToString(sum[:]))
}

// Info names one validator: its stable ID, its long-lived public key, and
// the network address used to reach it.
type Info struct {
	ID        ID
	PublicKey *secp256k1.PublicKey
	Address   string
	Name      string
}

// ErrUnknownValidator is returned when a message arrives from a sender who
// is not a member of the configured validator set.
var ErrUnknownValidator = errors.New("validator: sender is not a member of the validator set")

// Set is the canonically ordered, fixed validator set. Ordering is by ID so
// that every node computes the same order independently (no coordination
// needed), which is what the leader schedule in internal/consensus relies
// on.
type Set struct {
	byID    map[ID]*Info
	ordered []*Info
}

// NewSet builds a Set from an unordered slice of validator infos, sorting
// them canonically by ID.
func NewSet(members []*Info) *Set {
	ordered := make([]*Info, len(members))
	copy(ordered, members)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	byID := make(map[ID]*Info, len(ordered))
	for _, m := range ordered {
		byID[m.ID] = m
	}
	return &Set{byID: byID, ordered: ordered}
}

// Len returns n, the validator-set cardinality.
func (s *Set) Len() int { return len(s.ordered) }

// Contains reports whether id names a member of the set.
func (s *Set) Contains(id ID) bool {
	_, ok := s.byID[id]
	return ok
}

// Get returns the Info for id, or nil if id is not a member.
func (s *Set) Get(id ID) *Info {
	return s.byID[id]
}

// At returns the i-th validator in canonical order, wrapping modulo Len().
// This is the primitive the consensus leader schedule is built on: leader
// for (height, round) is At(round).
func (s *Set) At(i int) *Info {
	if len(s.ordered) == 0 {
		return nil
	}
	return s.ordered[((i%len(s.ordered))+len(s.ordered))%len(s.ordered)]
}

// Members returns the canonically ordered slice of validators. The caller
// must not mutate it.
func (s *Set) Members() []*Info {
	return s.ordered
}

// ByName returns the member named name, used at startup to resolve which
// allowed_peers entry a given node process is running as.
func (s *Set) ByName(name string) (*Info, bool) {
	for _, m := range s.ordered {
		if m.Name == name {
			return m, true
		}
	}
	return nil, false
}

// ScalarIndex derives the non-zero secp256k1 scalar evaluation point
// assigned to id by its position in the canonical ordering (1-based; x=0
// would reveal a polynomial's constant term directly). DKG and threshold
// signing both call this so every node agrees on the same interpolation
// points without further coordination.
func (s *Set) ScalarIndex(id ID) (*secp256k1.ModNScalar, error) {
	for i, v := range s.ordered {
		if v.ID == id {
			return new(secp256k1.ModNScalar).SetInt(uint32(i + 1)), nil
		}
	}
	return nil, ErrUnknownValidator
}

// Threshold returns floor(2n/3)+1, the quorum required to prevote,
// precommit, and finalise under the BFT consensus rule (spec §4.3).
func (s *Set) Threshold() int {
	n := len(s.ordered)
	return (2*n)/3 + 1
}
