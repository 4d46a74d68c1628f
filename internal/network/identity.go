package network

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/libp2p/go-libp2p-core/crypto"

	"github.com/fedvault/node/internal/log"
)

// LoadOrCreateIdentity loads a base64-encoded libp2p Ed25519 private key
// from path, or generates and persists a fresh one if none exists yet,
// mirroring LoadOrCreatePrivKey in lp2p/ctor.go. This key
// governs the libp2p host's own peer ID; it is independent of a
// validator's long-lived secp256k1 signing key.
func LoadOrCreateIdentity(path string, l log.Logger) (crypto.PrivKey, error) {
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		keyBytes, decErr := base64.RawStdEncoding.DecodeString(string(raw))
		if decErr != nil {
			return nil, fmt.Errorf("network: decoding identity file: %w", decErr)
		}
		priv, unmarshalErr := crypto.UnmarshalEd25519PrivateKey(keyBytes)
		if unmarshalErr != nil {
			return nil, fmt.Errorf("network: unmarshalling identity key: %w", unmarshalErr)
		}
		l.Infow("loaded libp2p identity", "path", path)
		return priv, nil

	case os.IsNotExist(err):
		priv, _, genErr := crypto.GenerateEd25519Key(rand.Reader)
		if genErr != nil {
			return nil, fmt.Errorf("network: generating identity key: %w", genErr)
		}
		keyBytes, rawErr := priv.Raw()
		if rawErr != nil {
			return nil, fmt.Errorf("network: marshalling identity key: %w", rawErr)
		}
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
			return nil, fmt.Errorf("network: creating identity directory: %w", mkErr)
		}
		encoded := base64.RawStdEncoding.EncodeToString(keyBytes)
		if writeErr := os.WriteFile(path, []byte(encoded), 0o600); writeErr != nil {
			return nil, fmt.Errorf("network: writing identity file: %w", writeErr)
		}
		l.Infow("generated fresh libp2p identity", "path", path)
		return priv, nil

	default:
		return nil, fmt.Errorf("network: reading identity file: %w", err)
	}
}
