package config

import (
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/fedvault/node/internal/validator"
)

// ValidatorSet builds the authoritative validator.Set out of the
// `allowed_peers` list, the same way a decoded key.GroupTOML is turned
// into a key.Group of key.Node identities.
func (c *Config) ValidatorSet() (*validator.Set, error) {
	infos := make([]*validator.Info, len(c.allowedPeers))
	for i, p := range c.allowedPeers {
		raw, err := hex.DecodeString(p.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("config: allowed_peers[%d] public_key is not hex: %w", i, err)
		}
		pub, err := secp256k1.ParsePubKey(raw)
		if err != nil {
			return nil, fmt.Errorf("config: allowed_peers[%d] public_key is not a valid secp256k1 point: %w", i, err)
		}
		infos[i] = &validator.Info{
			ID:        validator.IDFromPublicKey(pub),
			PublicKey: pub,
			Address:   p.Address,
			Name:      p.Name,
		}
	}
	return validator.NewSet(infos), nil
}
