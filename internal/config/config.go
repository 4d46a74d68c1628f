// Package config holds the Config struct assembled from the node's
// recognised keys, built from ConfigOption values the same way
// core.Config is assembled.
package config

import (
	"time"

	"github.com/fedvault/node/internal/log"
)

// ConfigOption applies one setting to a Config.
type ConfigOption func(*Config)

// Config holds every recognised runtime setting for a node.
type Config struct {
	minSigners         int
	maxSigners         int
	confirmationDepth  uint64
	monitorStartBlock  int64
	blockTime          time.Duration
	databaseDirectory  string
	logFilePath        string
	grpcPort           string
	libp2pUDPPort      string
	libp2pTCPPort      string
	allowedPeers       []AllowedPeer
	logger             log.Logger
}

// AllowedPeer names one authoritative validator-set member: its display
// name, its long-lived public key, and the network address peers dial it
// at. The `allowed_peers` list in its entirety is the authoritative
// validator set (spec §6).
type AllowedPeer struct {
	Name      string
	PublicKey string // hex-encoded, compressed secp256k1 point
	Address   string // libp2p multiaddr or host:port, transport-dependent
}

const (
	// DefaultMinSigners is the threshold used when no configuration supplies one.
	DefaultMinSigners = 2
	// DefaultMaxSigners is the validator-set cardinality used when no configuration supplies one.
	DefaultMaxSigners = 3
	// DefaultConfirmationDepth is the number of blocks behind tip the oracle treats as final.
	DefaultConfirmationDepth = 6
	// DefaultBlockTime is the round timeout target.
	DefaultBlockTime = 10 * time.Second
	// DefaultDatabaseDirectory is the relative path bboltdb opens under when none is configured.
	DefaultDatabaseDirectory = "./data"
	// DefaultGRPCPort is the internal control-surface gRPC port.
	DefaultGRPCPort = "8888"
	// DefaultLibp2pTCPPort is the libp2p TCP transport port.
	DefaultLibp2pTCPPort = "9000"
	// DefaultLibp2pUDPPort is the libp2p UDP (QUIC) transport port.
	DefaultLibp2pUDPPort = "9000"
	// MonitorStartBlockCurrentTip is monitor_start_block's sentinel value
	// meaning "current tip minus confirmation_depth" (spec §6).
	MonitorStartBlockCurrentTip = -1
)

// New returns a Config built from the supplied options over sane defaults,
// the way core.NewConfig seeds DefaultConfigFolder/DefaultDKGTimeout/
// DefaultControlPort before applying ConfigOption values.
func New(opts ...ConfigOption) *Config {
	c := &Config{
		minSigners:        DefaultMinSigners,
		maxSigners:        DefaultMaxSigners,
		confirmationDepth: DefaultConfirmationDepth,
		monitorStartBlock: MonitorStartBlockCurrentTip,
		blockTime:         DefaultBlockTime,
		databaseDirectory: DefaultDatabaseDirectory,
		grpcPort:          DefaultGRPCPort,
		libp2pTCPPort:     DefaultLibp2pTCPPort,
		libp2pUDPPort:     DefaultLibp2pUDPPort,
		logger:            log.DefaultLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Config) MinSigners() int                 { return c.minSigners }
func (c *Config) MaxSigners() int                 { return c.maxSigners }
func (c *Config) ConfirmationDepth() uint64       { return c.confirmationDepth }
func (c *Config) MonitorStartBlock() int64        { return c.monitorStartBlock }
func (c *Config) BlockTime() time.Duration        { return c.blockTime }
func (c *Config) DatabaseDirectory() string       { return c.databaseDirectory }
func (c *Config) LogFilePath() string             { return c.logFilePath }
func (c *Config) GRPCPort() string                { return c.grpcPort }
func (c *Config) Libp2pUDPPort() string           { return c.libp2pUDPPort }
func (c *Config) Libp2pTCPPort() string           { return c.libp2pTCPPort }
func (c *Config) AllowedPeers() []AllowedPeer      { return c.allowedPeers }
func (c *Config) Logger() log.Logger              { return c.logger }

func WithMinSigners(n int) ConfigOption {
	return func(c *Config) { c.minSigners = n }
}

func WithMaxSigners(n int) ConfigOption {
	return func(c *Config) { c.maxSigners = n }
}

func WithConfirmationDepth(depth uint64) ConfigOption {
	return func(c *Config) { c.confirmationDepth = depth }
}

func WithMonitorStartBlock(height int64) ConfigOption {
	return func(c *Config) { c.monitorStartBlock = height }
}

func WithBlockTime(d time.Duration) ConfigOption {
	return func(c *Config) { c.blockTime = d }
}

func WithDatabaseDirectory(dir string) ConfigOption {
	return func(c *Config) { c.databaseDirectory = dir }
}

func WithLogFilePath(path string) ConfigOption {
	return func(c *Config) { c.logFilePath = path }
}

func WithGRPCPort(port string) ConfigOption {
	return func(c *Config) { c.grpcPort = port }
}

func WithLibp2pUDPPort(port string) ConfigOption {
	return func(c *Config) { c.libp2pUDPPort = port }
}

func WithLibp2pTCPPort(port string) ConfigOption {
	return func(c *Config) { c.libp2pTCPPort = port }
}

func WithAllowedPeers(peers []AllowedPeer) ConfigOption {
	return func(c *Config) { c.allowedPeers = peers }
}

// WithLogger overrides the default logger, mirroring core.WithLogLevel's
// role of injecting a constructed logger into the Config.
func WithLogger(l log.Logger) ConfigOption {
	return func(c *Config) { c.logger = l }
}
