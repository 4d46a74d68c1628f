package dkg

import (
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/fedvault/node/internal/curve"
	"github.com/fedvault/node/internal/validator"
)

// polynomial is a degree t-1 polynomial over the secp256k1 scalar field,
// used as the local Feldman/Pedersen-VSS step of each round of the DKG
// (spec §4.1, "terminology from the Pedersen-style FROST DKG"). coeffs[0]
// is this participant's secret contribution to the joint group key.
type polynomial struct {
	coeffs []*secp256k1.ModNScalar
}

// newPolynomial samples a fresh random polynomial of the given degree.
func newPolynomial(degree int) (*polynomial, error) {
	coeffs := make([]*secp256k1.ModNScalar, degree+1)
	for i := range coeffs {
		s, err := curve.RandomScalar()
		if err != nil {
			return nil, err
		}
		coeffs[i] = s
	}
	return &polynomial{coeffs: coeffs}, nil
}

// evaluate computes p(x) = sum coeffs[k] * x^k.
func (p *polynomial) evaluate(x *secp256k1.ModNScalar) *secp256k1.ModNScalar {
	result := new(secp256k1.ModNScalar).SetInt(0)
	xPow := new(secp256k1.ModNScalar).SetInt(1)
	for _, c := range p.coeffs {
		term := new(secp256k1.ModNScalar).Set(c).Mul(xPow)
		result.Add(term)
		xPow = new(secp256k1.ModNScalar).Set(xPow).Mul(x)
	}
	return result
}

// commitments returns the Feldman commitments {g^{coeffs[k]}}, the public
// "package" broadcast during round 1.
func (p *polynomial) commitments() []*secp256k1.PublicKey {
	out := make([]*secp256k1.PublicKey, len(p.coeffs))
	for i, c := range p.coeffs {
		out[i] = curve.ScalarBaseMul(c)
	}
	return out
}

// verifyShare checks that share = p(x) is consistent with the published
// Feldman commitments to p, i.e. that g^share == sum_k commitments[k] * x^k,
// without learning p itself.
func verifyShare(x *secp256k1.ModNScalar, share *secp256k1.ModNScalar, commitments []*secp256k1.PublicKey) bool {
	lhs := curve.ScalarBaseMul(share)
	rhs := evaluateCommitments(x, commitments)
	return lhs.X().Equals(rhs.X()) && lhs.Y().Equals(rhs.Y())
}

// evaluateCommitments computes sum_k commitments[k] * x^k == g^{p(x)}
// without the scalar share, used to derive each validator's public
// verifying share from every peer's round-1 commitments (spec §4.1 round 3).
func evaluateCommitments(x *secp256k1.ModNScalar, commitments []*secp256k1.PublicKey) *secp256k1.PublicKey {
	xPow := new(secp256k1.ModNScalar).SetInt(1)
	terms := make([]*secp256k1.PublicKey, len(commitments))
	for i, c := range commitments {
		terms[i] = curve.ScalarMul(xPow, c)
		xPow = new(secp256k1.ModNScalar).Set(xPow).Mul(x)
	}
	return curve.SumPoints(terms...)
}

func addPoints(a, b *secp256k1.PublicKey) *secp256k1.PublicKey {
	return curve.AddPoints(a, b)
}

// participantIndex derives a participant's polynomial evaluation point
// deterministically from its position in the canonically ordered validator
// set (spec §4.1: "derives its participant identifier deterministically
// from its ValidatorId"). Indices start at 1 because x=0 would reveal the
// secret term directly.
func participantIndex(set *validator.Set, id validator.ID) (*secp256k1.ModNScalar, error) {
	return set.ScalarIndex(id)
}
