package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// fileTOML is the on-disk shape of a node's TOML configuration file, using
// exactly the recognised keys (spec §6), decoded the same way
// key.GroupTOML is decoded in util/parsers.go.
type fileTOML struct {
	MinSigners         int            `toml:"min_signers"`
	MaxSigners         int            `toml:"max_signers"`
	ConfirmationDepth  uint64         `toml:"confirmation_depth"`
	MonitorStartBlock  int64          `toml:"monitor_start_block"`
	BlockTimeSeconds   int64          `toml:"block_time_seconds"`
	DatabaseDirectory  string         `toml:"database_directory"`
	LogFilePath        string         `toml:"log_file_path"`
	GRPCPort           string         `toml:"grpc_port"`
	Libp2pUDPPort      string         `toml:"libp2p_udp_port"`
	Libp2pTCPPort      string         `toml:"libp2p_tcp_port"`
	AllowedPeers       []allowedPeerTOML `toml:"allowed_peers"`
}

type allowedPeerTOML struct {
	Name      string `toml:"name"`
	PublicKey string `toml:"public_key"`
	Address   string `toml:"address"`
}

// LoadFile decodes a TOML configuration file at path into a Config, the way
// ParseGroupFileBytes decodes a group file into a key.Group. Keys absent
// from the file keep New's defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return ParseBytes(data)
}

// ParseBytes decodes raw TOML bytes into a Config.
func ParseBytes(data []byte) (*Config, error) {
	var t fileTOML
	if _, err := toml.Decode(string(data), &t); err != nil {
		return nil, fmt.Errorf("config: decoding toml: %w", err)
	}

	var opts []ConfigOption
	if t.MinSigners != 0 {
		opts = append(opts, WithMinSigners(t.MinSigners))
	}
	if t.MaxSigners != 0 {
		opts = append(opts, WithMaxSigners(t.MaxSigners))
	}
	if t.ConfirmationDepth != 0 {
		opts = append(opts, WithConfirmationDepth(t.ConfirmationDepth))
	}
	if t.MonitorStartBlock != 0 {
		opts = append(opts, WithMonitorStartBlock(t.MonitorStartBlock))
	}
	if t.BlockTimeSeconds != 0 {
		opts = append(opts, WithBlockTime(time.Duration(t.BlockTimeSeconds)*time.Second))
	}
	if t.DatabaseDirectory != "" {
		opts = append(opts, WithDatabaseDirectory(t.DatabaseDirectory))
	}
	if t.LogFilePath != "" {
		opts = append(opts, WithLogFilePath(t.LogFilePath))
	}
	if t.GRPCPort != "" {
		opts = append(opts, WithGRPCPort(t.GRPCPort))
	}
	if t.Libp2pUDPPort != "" {
		opts = append(opts, WithLibp2pUDPPort(t.Libp2pUDPPort))
	}
	if t.Libp2pTCPPort != "" {
		opts = append(opts, WithLibp2pTCPPort(t.Libp2pTCPPort))
	}
	if len(t.AllowedPeers) > 0 {
		peers := make([]AllowedPeer, len(t.AllowedPeers))
		for i, p := range t.AllowedPeers {
			peers[i] = AllowedPeer{Name: p.Name, PublicKey: p.PublicKey, Address: p.Address}
		}
		opts = append(opts, WithAllowedPeers(peers))
	}

	return New(opts...), nil
}

// TOML renders c's recognised keys back out, mirroring the toTOML/
// TOMLBytes round-trip in util/parsers.go.
func (c *Config) TOML() fileTOML {
	peers := make([]allowedPeerTOML, len(c.allowedPeers))
	for i, p := range c.allowedPeers {
		peers[i] = allowedPeerTOML{Name: p.Name, PublicKey: p.PublicKey, Address: p.Address}
	}
	return fileTOML{
		MinSigners:        c.minSigners,
		MaxSigners:        c.maxSigners,
		ConfirmationDepth: c.confirmationDepth,
		MonitorStartBlock: c.monitorStartBlock,
		BlockTimeSeconds:  int64(c.blockTime / time.Second),
		DatabaseDirectory: c.databaseDirectory,
		LogFilePath:       c.logFilePath,
		GRPCPort:          c.grpcPort,
		Libp2pUDPPort:     c.libp2pUDPPort,
		Libp2pTCPPort:     c.libp2pTCPPort,
		AllowedPeers:      peers,
	}
}
