// Package key holds the cryptographic material produced by distributed key
// generation: a node's secret signing share and the public key package
// naming every participant's verifying share and the group verifying key.
package key

import (
	"bytes"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/fedvault/node/internal/validator"
)

// ErrNoKeyShare is returned when an operation requiring a completed DKG is
// attempted before one has finished (spec §4.1: "a node with a persisted
// key share skips DKG").
var ErrNoKeyShare = errors.New("key: no key share persisted for this validator")

// Share is this node's secret signing share plus the public key package
// naming all shares. It exists iff DKG completed successfully and is
// encrypted at rest by the (out of scope) identity-key encryption layer;
// here it is the plaintext in-memory form handed around after decryption.
type Share struct {
	ValidatorID validator.ID
	// Secret is this participant's share of the group signing key,
	// s_i, a scalar mod the secp256k1 group order.
	Secret *secp256k1.ModNScalar
	Public *PublicKeyPackage
}

// PublicKeyPackage is the common, group-wide output of DKG: the group
// verifying key and every participant's verifying share, byte-identical
// across all nodes that completed the same DKG run (invariant I6).
type PublicKeyPackage struct {
	// GroupKey is the taproot-tweakable group verifying key.
	GroupKey *secp256k1.PublicKey
	// VerifyingShares maps each validator to its public verifying share,
	// g^{s_i}, used to check signature-share contributions during signing.
	VerifyingShares map[validator.ID]*secp256k1.PublicKey
	Threshold       int
}

// Equal performs a byte-level comparison of two public key packages, used to
// assert invariant I6 (DKG liveness: all nodes end up with matching
// packages) in tests.
func (p *PublicKeyPackage) Equal(o *PublicKeyPackage) bool {
	if p == nil || o == nil {
		return p == o
	}
	if p.Threshold != o.Threshold {
		return false
	}
	if !bytes.Equal(p.GroupKey.SerializeCompressed(), o.GroupKey.SerializeCompressed()) {
		return false
	}
	if len(p.VerifyingShares) != len(o.VerifyingShares) {
		return false
	}
	for id, share := range p.VerifyingShares {
		other, ok := o.VerifyingShares[id]
		if !ok {
			return false
		}
		if !bytes.Equal(share.SerializeCompressed(), other.SerializeCompressed()) {
			return false
		}
	}
	return true
}
