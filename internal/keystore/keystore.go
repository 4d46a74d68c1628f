// Package keystore persists a validator's completed key.Share to a secure
// local file, adapting fs.CreateSecureFolder/CreateSecureFile's
// permission-checked file handling to this node's DKG output instead of a
// drand key.Pair.
package keystore

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/fedvault/node/fs"
	"github.com/fedvault/node/internal/key"
	"github.com/fedvault/node/internal/validator"
)

const fileName = "share.bin"

// fileShare is the on-disk encoding of a key.Share: every secp256k1 scalar
// and point reduced to its fixed-size byte form, since gob cannot encode
// the unexported fields inside ModNScalar/PublicKey directly.
type fileShare struct {
	ValidatorID     validator.ID
	Secret          [32]byte
	GroupKey        []byte
	Threshold       int
	VerifyingShares map[validator.ID][]byte
}

// Store loads and saves key shares under a single directory, one file per
// node (spec §4.1: "a node with a persisted key share skips DKG").
type Store struct {
	path string
}

// New returns a Store rooted at dir, creating dir with restrictive
// permissions if it does not already exist.
func New(dir string) *Store {
	fs.CreateSecureFolder(dir)
	return &Store{path: filepath.Join(dir, fileName)}
}

// Load reports whether a share was previously persisted, satisfying
// dkg.LoadFunc.
func (s *Store) Load() (*key.Share, bool) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	var fsh fileShare
	if err := gob.NewDecoder(f).Decode(&fsh); err != nil {
		return nil, false
	}

	groupKey, err := secp256k1.ParsePubKey(fsh.GroupKey)
	if err != nil {
		return nil, false
	}
	var secret secp256k1.ModNScalar
	secret.SetBytes(&fsh.Secret)

	shares := make(map[validator.ID]*secp256k1.PublicKey, len(fsh.VerifyingShares))
	for id, raw := range fsh.VerifyingShares {
		pub, err := secp256k1.ParsePubKey(raw)
		if err != nil {
			return nil, false
		}
		shares[id] = pub
	}

	return &key.Share{
		ValidatorID: fsh.ValidatorID,
		Secret:      &secret,
		Public: &key.PublicKeyPackage{
			GroupKey:        groupKey,
			VerifyingShares: shares,
			Threshold:       fsh.Threshold,
		},
	}, true
}

// Save persists share, satisfying dkg.PersistFunc.
func (s *Store) Save(share *key.Share) error {
	secretBytes := share.Secret.Bytes()
	shares := make(map[validator.ID][]byte, len(share.Public.VerifyingShares))
	for id, pub := range share.Public.VerifyingShares {
		shares[id] = pub.SerializeCompressed()
	}
	fsh := fileShare{
		ValidatorID:     share.ValidatorID,
		Secret:          secretBytes,
		GroupKey:        share.Public.GroupKey.SerializeCompressed(),
		Threshold:       share.Public.Threshold,
		VerifyingShares: shares,
	}

	f, err := fs.CreateSecureFile(s.path)
	if err != nil || f == nil {
		return fmt.Errorf("keystore: creating %s: %w", s.path, err)
	}
	defer f.Close()

	if err := gob.NewEncoder(f).Encode(fsh); err != nil {
		return fmt.Errorf("keystore: encoding share: %w", err)
	}
	return nil
}
