package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/fedvault/node/internal/config"
	"github.com/fedvault/node/internal/keystore"
	"github.com/fedvault/node/internal/log"
	"github.com/fedvault/node/internal/network"
	"github.com/fedvault/node/internal/oracle"
	"github.com/fedvault/node/internal/orchestrator"
	"github.com/fedvault/node/internal/rpc"
	"github.com/fedvault/node/internal/storage"
	"github.com/fedvault/node/internal/validator"

	"github.com/btcsuite/btcd/chaincfg"
)

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path to the node's TOML configuration file",
		Value:   "./config.toml",
	}
	selfFlag = &cli.StringFlag{
		Name:     "self",
		Usage:    "name of this node's entry in the config's allowed_peers list",
		Required: true,
	}
	identityFlag = &cli.StringFlag{
		Name:  "identity",
		Usage: "path to this node's persisted libp2p identity key",
		Value: "./identity.key",
	}
	listenFlag = &cli.StringFlag{
		Name:  "listen",
		Usage: "libp2p listen multiaddr",
		Value: "/ip4/0.0.0.0/tcp/9000",
	}
	networkFlag = &cli.StringFlag{
		Name:  "network",
		Usage: "bitcoin network: mainnet, testnet3, regtest, simnet",
		Value: "regtest",
	}
)

func toArray(flags ...cli.Flag) []cli.Flag {
	return flags
}

func banner() {
	fmt.Fprintln(os.Stderr, "fedvault node — permissioned federated custody")
}

func main() {
	app := cli.NewApp()
	app.Name = "node"
	app.Usage = "run a federated custody validator"
	app.Commands = []*cli.Command{
		startCommand,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var startCommand = &cli.Command{
	Name:  "start",
	Usage: "start this validator's node process",
	Flags: toArray(configFlag, selfFlag, identityFlag, listenFlag, networkFlag),
	Action: func(c *cli.Context) error {
		banner()
		return runStart(c)
	},
}

func netParamsFor(name string) (*chaincfg.Params, error) {
	switch name {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", name)
	}
}

func runStart(c *cli.Context) error {
	cfg, err := config.LoadFile(c.String(configFlag.Name))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	l := cfg.Logger()

	set, err := cfg.ValidatorSet()
	if err != nil {
		return fmt.Errorf("building validator set: %w", err)
	}

	selfInfo, ok := set.ByName(c.String(selfFlag.Name))
	if !ok {
		return fmt.Errorf("no allowed_peers entry named %q", c.String(selfFlag.Name))
	}
	self := selfInfo.ID

	netParams, err := netParamsFor(c.String(networkFlag.Name))
	if err != nil {
		return err
	}

	identityPath := c.String(identityFlag.Name)
	priv, err := network.LoadOrCreateIdentity(identityPath, l.Named("network"))
	if err != nil {
		return fmt.Errorf("loading libp2p identity: %w", err)
	}

	addressByID := make(map[validator.ID]string, len(set.Members()))
	for _, m := range set.Members() {
		addressByID[m.ID] = m.Address
	}
	peerMap, err := network.NewPeerMap(set.Members(), addressByID)
	if err != nil {
		return fmt.Errorf("building peer map: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	net, err := network.NewLibP2P(ctx, self, priv, c.String(listenFlag.Name), peerMap.Resolve, peerMap.ReverseResolve, l.Named("network"))
	if err != nil {
		return fmt.Errorf("constructing libp2p host: %w", err)
	}
	peerMap.RegisterWithHost(net.Host())

	store, err := storage.Open(cfg.DatabaseDirectory(), l.Named("storage"))
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	shares := keystore.New(cfg.DatabaseDirectory())

	o := oracle.NewMock()

	node, err := orchestrator.New(self, set, net, store, o, netParams, l, shares.Save, shares.Load)
	if err != nil {
		return fmt.Errorf("constructing node: %w", err)
	}

	if err := node.Start(ctx); err != nil {
		return fmt.Errorf("starting node: %w", err)
	}

	rpcServer, err := rpc.NewServer(node, cfg.GRPCPort(), l.Named("rpc"))
	if err != nil {
		return fmt.Errorf("starting rpc server: %w", err)
	}
	go func() {
		if err := rpcServer.Serve(); err != nil {
			l.Warnw("rpc server stopped", "err", err)
		}
	}()
	defer rpcServer.Stop()

	l.Infow("node started", "self", self, "grpc_addr", rpcServer.Addr())

	err = node.Run(ctx)
	if err != nil && ctx.Err() != nil {
		l.Infow("node shutting down", "reason", ctx.Err())
		return nil
	}
	return err
}
