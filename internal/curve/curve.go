// Package curve collects the small set of secp256k1 scalar/point
// operations shared by distributed key generation and threshold signing,
// so both round protocols agree on one implementation of "multiply",
// "add", and "sample a fresh scalar" instead of each growing its own copy.
package curve

import (
	"crypto/rand"
	"crypto/sha256"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// RandomScalar samples a uniformly random non-zero scalar mod the
// secp256k1 group order.
func RandomScalar() (*secp256k1.ModNScalar, error) {
	var buf [32]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return nil, err
		}
		var s secp256k1.ModNScalar
		overflow := s.SetBytes(&buf)
		if overflow == 0 && !s.IsZero() {
			return &s, nil
		}
	}
}

// ScalarBaseMul computes s*G.
func ScalarBaseMul(s *secp256k1.ModNScalar) *secp256k1.PublicKey {
	var j secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(s, &j)
	j.ToAffine()
	return secp256k1.NewPublicKey(&j.X, &j.Y)
}

// ScalarMul computes s*P.
func ScalarMul(s *secp256k1.ModNScalar, p *secp256k1.PublicKey) *secp256k1.PublicKey {
	var j, result secp256k1.JacobianPoint
	p.AsJacobian(&j)
	secp256k1.ScalarMultNonConst(s, &j, &result)
	result.ToAffine()
	return secp256k1.NewPublicKey(&result.X, &result.Y)
}

// AddPoints computes a+b.
func AddPoints(a, b *secp256k1.PublicKey) *secp256k1.PublicKey {
	var ja, jb, sum secp256k1.JacobianPoint
	a.AsJacobian(&ja)
	b.AsJacobian(&jb)
	secp256k1.AddNonConst(&ja, &jb, &sum)
	sum.ToAffine()
	return secp256k1.NewPublicKey(&sum.X, &sum.Y)
}

// SumPoints adds an arbitrary number of points, returning nil for an empty
// input.
func SumPoints(points ...*secp256k1.PublicKey) *secp256k1.PublicKey {
	if len(points) == 0 {
		return nil
	}
	acc := points[0]
	for _, p := range points[1:] {
		acc = AddPoints(acc, p)
	}
	return acc
}

// HashToScalar derives a Fiat-Shamir challenge scalar by SHA-256'ing the
// concatenation of parts and reducing the digest mod the group order. This
// is the binding step of the Schnorr challenge e = H(R || Y || m) used by
// threshold signing.
func HashToScalar(parts ...[]byte) *secp256k1.ModNScalar {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	digest := h.Sum(nil)
	var buf [32]byte
	copy(buf[:], digest)
	var s secp256k1.ModNScalar
	s.SetBytes(&buf) // reduction on overflow is exactly what we want here
	return &s
}

// LagrangeCoefficient computes the Lagrange basis coefficient for index
// among the full participant set indices, evaluated at x=0: the weight
// applied to participant index's contribution when interpolating the
// polynomial's constant term from the given set of points.
func LagrangeCoefficient(index *secp256k1.ModNScalar, allIndices []*secp256k1.ModNScalar) *secp256k1.ModNScalar {
	num := new(secp256k1.ModNScalar).SetInt(1)
	den := new(secp256k1.ModNScalar).SetInt(1)

	for _, other := range allIndices {
		if other.Equals(index) {
			continue
		}
		// num *= (0 - other) = -other
		negOther := new(secp256k1.ModNScalar).Set(other).Negate()
		num = new(secp256k1.ModNScalar).Set(num).Mul(negOther)

		// den *= (index - other)
		diff := new(secp256k1.ModNScalar).Set(index).Add(new(secp256k1.ModNScalar).Set(other).Negate())
		den = new(secp256k1.ModNScalar).Set(den).Mul(diff)
	}

	denInv := new(secp256k1.ModNScalar).Set(den).InverseValNonConst()
	return new(secp256k1.ModNScalar).Set(num).Mul(denInv)
}
