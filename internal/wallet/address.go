package wallet

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg"
	decred "github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/fedvault/node/internal/curve"
)

// groupKeyToBtcec re-serializes a group verifying key produced by DKG (the
// decred secp256k1 type every other package uses) into the btcec type the
// Bitcoin transaction-construction libraries expect. Both wrap the same
// curve; only the struct types differ between the two modules.
func groupKeyToBtcec(group *decred.PublicKey) (*btcec.PublicKey, error) {
	return btcec.ParsePubKey(group.SerializeCompressed())
}

// DeriveDepositAddress computes the fresh per-intent taproot address: the
// group public key tweaked by the scalar SHA-256(tracking_id), encoded as
// a P2TR address on net (spec §4.4 deposit lifecycle step 1). The tweak is
// a literal scalar addition, not the BIP-341 tagged-hash script-path
// commitment; this vault never has a script path, so a plain additive
// tweak is sufficient.
func DeriveDepositAddress(group *decred.PublicKey, trackingID string, net *chaincfg.Params) (string, []byte, error) {
	tweakDigest := sha256.Sum256([]byte(trackingID))
	var tweak decred.ModNScalar
	tweak.SetBytes(&tweakDigest)

	tweaked := curve.AddPoints(group, curve.ScalarBaseMul(&tweak))

	btcTweaked, err := groupKeyToBtcec(tweaked)
	if err != nil {
		return "", nil, err
	}

	outputKey := schnorr.SerializePubKey(btcTweaked)
	addr, err := encodeTaprootAddress(outputKey, net)
	if err != nil {
		return "", nil, err
	}
	return addr.String(), outputKey, nil
}
