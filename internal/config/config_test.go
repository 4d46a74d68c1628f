package config

import (
	"bytes"
	"encoding/hex"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"
)

func TestNewAppliesDefaultsThenOptions(t *testing.T) {
	c := New()
	require.Equal(t, DefaultMinSigners, c.MinSigners())
	require.Equal(t, DefaultConfirmationDepth, c.ConfirmationDepth())
	require.Equal(t, DefaultBlockTime, c.BlockTime())

	c = New(WithMinSigners(5), WithBlockTime(30*time.Second))
	require.Equal(t, 5, c.MinSigners())
	require.Equal(t, 30*time.Second, c.BlockTime())
}

func TestParseBytesDecodesRecognisedKeys(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	pubHex := hex.EncodeToString(priv.PubKey().SerializeCompressed())

	raw := []byte(`
min_signers = 2
max_signers = 3
confirmation_depth = 6
monitor_start_block = -1
block_time_seconds = 12
database_directory = "/var/lib/fedvault"
log_file_path = "/var/log/fedvault.log"
grpc_port = "9999"
libp2p_udp_port = "9001"
libp2p_tcp_port = "9002"

[[allowed_peers]]
name = "validator-a"
public_key = "` + pubHex + `"
address = "/ip4/127.0.0.1/tcp/9002"
`)

	c, err := ParseBytes(raw)
	require.NoError(t, err)
	require.Equal(t, 2, c.MinSigners())
	require.Equal(t, 3, c.MaxSigners())
	require.Equal(t, uint64(6), c.ConfirmationDepth())
	require.Equal(t, int64(-1), c.MonitorStartBlock())
	require.Equal(t, 12*time.Second, c.BlockTime())
	require.Equal(t, "/var/lib/fedvault", c.DatabaseDirectory())
	require.Equal(t, "9999", c.GRPCPort())
	require.Len(t, c.AllowedPeers(), 1)
	require.Equal(t, "validator-a", c.AllowedPeers()[0].Name)
}

func TestValidatorSetParsesAllowedPeers(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	c := New(WithAllowedPeers([]AllowedPeer{
		{Name: "validator-a", PublicKey: hex.EncodeToString(priv.PubKey().SerializeCompressed()), Address: "/ip4/127.0.0.1/tcp/9002"},
	}))

	set, err := c.ValidatorSet()
	require.NoError(t, err)
	require.Equal(t, 1, set.Len())
	require.Equal(t, "validator-a", set.Members()[0].Name)
}

func TestValidatorSetRejectsMalformedPublicKey(t *testing.T) {
	c := New(WithAllowedPeers([]AllowedPeer{
		{Name: "validator-a", PublicKey: "not-hex", Address: "/ip4/127.0.0.1/tcp/9002"},
	}))
	_, err := c.ValidatorSet()
	require.Error(t, err)
}

func TestTOMLRoundTripsThroughParseBytes(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	original := New(
		WithMinSigners(2),
		WithMaxSigners(3),
		WithBlockTime(9*time.Second),
		WithAllowedPeers([]AllowedPeer{
			{Name: "validator-a", PublicKey: hex.EncodeToString(priv.PubKey().SerializeCompressed()), Address: "/ip4/127.0.0.1/tcp/9002"},
		}),
	)

	var buf bytes.Buffer
	require.NoError(t, toml.NewEncoder(&buf).Encode(original.TOML()))

	roundTripped, err := ParseBytes(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, original.MinSigners(), roundTripped.MinSigners())
	require.Equal(t, original.MaxSigners(), roundTripped.MaxSigners())
	require.Equal(t, original.BlockTime(), roundTripped.BlockTime())
	require.Equal(t, original.AllowedPeers(), roundTripped.AllowedPeers())
}
