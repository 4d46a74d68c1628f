package network

import (
	"crypto/rand"
	"fmt"
	"testing"

	"github.com/libp2p/go-libp2p-core/crypto"
	libp2ppeer "github.com/libp2p/go-libp2p-core/peer"
	"github.com/stretchr/testify/require"

	"github.com/fedvault/node/internal/validator"
)

func fakePeerID(t *testing.T) libp2ppeer.ID {
	t.Helper()
	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	require.NoError(t, err)
	id, err := libp2ppeer.IDFromPrivateKey(priv)
	require.NoError(t, err)
	return id
}

func TestNewPeerMapResolvesBothDirections(t *testing.T) {
	aID, bID := fakePeerID(t), fakePeerID(t)
	members := []*validator.Info{
		{ID: validator.ID("a"), Name: "a"},
		{ID: validator.ID("b"), Name: "b"},
	}
	addresses := map[validator.ID]string{
		validator.ID("a"): fmt.Sprintf("/ip4/127.0.0.1/tcp/9000/p2p/%s", aID.Pretty()),
		validator.ID("b"): fmt.Sprintf("/ip4/127.0.0.1/tcp/9001/p2p/%s", bID.Pretty()),
	}

	pm, err := NewPeerMap(members, addresses)
	require.NoError(t, err)

	resolved, err := pm.Resolve(validator.ID("a"))
	require.NoError(t, err)
	require.Equal(t, aID, resolved)

	back, err := pm.ReverseResolve(aID)
	require.NoError(t, err)
	require.Equal(t, validator.ID("a"), back)
}

func TestNewPeerMapSkipsMembersWithNoAddress(t *testing.T) {
	members := []*validator.Info{
		{ID: validator.ID("self"), Name: "self"},
	}
	pm, err := NewPeerMap(members, map[validator.ID]string{})
	require.NoError(t, err)

	_, err = pm.Resolve(validator.ID("self"))
	require.Error(t, err)
}

func TestNewPeerMapRejectsMultiaddrWithoutPeerID(t *testing.T) {
	members := []*validator.Info{
		{ID: validator.ID("a"), Name: "a"},
	}
	addresses := map[validator.ID]string{
		validator.ID("a"): "/ip4/127.0.0.1/tcp/9000",
	}
	_, err := NewPeerMap(members, addresses)
	require.Error(t, err)
}

func TestReverseResolveUnknownPeerErrors(t *testing.T) {
	pm, err := NewPeerMap(nil, nil)
	require.NoError(t, err)

	_, err = pm.ReverseResolve(fakePeerID(t))
	require.Error(t, err)
}
