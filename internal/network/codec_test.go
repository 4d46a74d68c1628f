package network

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fedvault/node/internal/wire"
)

func TestDirectCodecRoundTripsPing(t *testing.T) {
	c := &directCodec{}

	data, err := c.encodeDirect(wire.Ping{})
	require.NoError(t, err)

	decoded, err := c.decodeDirect(data)
	require.NoError(t, err)
	require.Equal(t, wire.Ping{}, decoded)
}

func TestDirectCodecRoundTripsSignRequest(t *testing.T) {
	c := &directCodec{}
	want := wire.SignRequest{SignID: 42, Message: [32]byte{1, 2, 3}}

	data, err := c.encodeDirect(want)
	require.NoError(t, err)

	decoded, err := c.decodeDirect(data)
	require.NoError(t, err)
	require.Equal(t, want, decoded)
}

func TestBroadcastCodecRoundTripsConsensusBroadcast(t *testing.T) {
	c := &directCodec{}
	want := wire.ConsensusBroadcast{Payload: []byte("round-1-prevote")}

	data, err := c.encodeBroadcast(want)
	require.NoError(t, err)

	decoded, err := c.decodeBroadcast(data)
	require.NoError(t, err)
	require.Equal(t, want, decoded)
}

func TestDirectCodecRejectsGarbage(t *testing.T) {
	c := &directCodec{}
	_, err := c.decodeDirect([]byte("not a gob stream"))
	require.Error(t, err)
}
