package keystore

import (
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"

	"github.com/fedvault/node/internal/key"
	"github.com/fedvault/node/internal/validator"
)

func fakeShare(t *testing.T) *key.Share {
	t.Helper()
	secretKey, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	groupKey, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	other, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	var secret secp256k1.ModNScalar
	secret.Set(&secretKey.Key)

	return &key.Share{
		ValidatorID: validator.ID("node-a"),
		Secret:      &secret,
		Public: &key.PublicKeyPackage{
			GroupKey: groupKey.PubKey(),
			VerifyingShares: map[validator.ID]*secp256k1.PublicKey{
				validator.ID("node-a"): secretKey.PubKey(),
				validator.ID("node-b"): other.PubKey(),
			},
			Threshold: 2,
		},
	}
}

func TestLoadReportsFalseWhenNoFileExists(t *testing.T) {
	s := New(t.TempDir())
	_, ok := s.Load()
	require.False(t, ok)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	s := New(t.TempDir())
	original := fakeShare(t)

	require.NoError(t, s.Save(original))

	loaded, ok := s.Load()
	require.True(t, ok)
	require.Equal(t, original.ValidatorID, loaded.ValidatorID)
	require.True(t, original.Secret.Equals(loaded.Secret))
	require.True(t, original.Public.Equal(loaded.Public))
}
