package wallet

import (
	"crypto/rand"
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// NewWithdrawalChallenge generates the 32-byte challenge a withdrawal
// confirmation must be signed over: SHA-256 of a fresh 16-byte nonce (spec
// §4.4 withdrawal lifecycle step 1).
func NewWithdrawalChallenge() ([32]byte, error) {
	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(nonce[:]), nil
}

// VerifyWithdrawalConfirmation checks that sigDER is a valid ECDSA
// signature over challenge by the key userPubKey claims (spec §4.4
// withdrawal lifecycle step 2: "ECDSA DER over secp256k1").
func VerifyWithdrawalConfirmation(userPubKey *btcec.PublicKey, challenge [32]byte, sigDER []byte) (bool, error) {
	sig, err := ecdsa.ParseDERSignature(sigDER)
	if err != nil {
		return false, nil
	}
	return sig.Verify(challenge[:], userPubKey), nil
}
