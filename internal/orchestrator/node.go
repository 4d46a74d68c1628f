// Package orchestrator wires one validator's DKG process, signing manager,
// wallet, withdrawal-intent table, and the ABCI/consensus components
// together behind a single ordered handler chain (spec §2, §5). It is the
// only component that mutates the wallet or the withdrawal-intent table;
// every other piece of shared state is reached only through ABCI's or
// consensus's own request/response surface.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/google/uuid"

	"github.com/fedvault/node/internal/abci"
	"github.com/fedvault/node/internal/consensus"
	"github.com/fedvault/node/internal/dkg"
	"github.com/fedvault/node/internal/key"
	"github.com/fedvault/node/internal/log"
	"github.com/fedvault/node/internal/network"
	"github.com/fedvault/node/internal/oracle"
	"github.com/fedvault/node/internal/signing"
	"github.com/fedvault/node/internal/storage"
	"github.com/fedvault/node/internal/validator"
	"github.com/fedvault/node/internal/wallet"
	"github.com/fedvault/node/internal/wire"
)

// Handler processes one NetworkEvent, ignoring any it does not recognise.
// Every pipeline stage below (DKG, signing, deposit, withdrawal,
// consensus) implements it, and Node.dispatch calls each in a fixed order
// for every event (spec §2: "an ordered list of handlers").
type Handler interface {
	Handle(ctx context.Context, ev wire.NetworkEvent) error
}

// handlerFunc adapts the HandleEvent method every lower-level component
// already exposes into a Handler.
type handlerFunc func(ctx context.Context, ev wire.NetworkEvent) error

func (f handlerFunc) Handle(ctx context.Context, ev wire.NetworkEvent) error { return f(ctx, ev) }

// Node is one validator's complete runtime: the pieces DKG, signing, and
// consensus keep concerning their own protocols, plus the wallet,
// withdrawal-intent table, and chain interface the orchestrator alone
// owns.
type Node struct {
	self validator.ID
	set  *validator.Set
	net  network.Network
	log  log.Logger

	netParams *chaincfg.Params

	chain   *abci.Chain
	oracle  oracle.Oracle
	store   *storage.Store
	consMgr *consensus.Manager
	dkgProc *dkg.Process
	signer  *signing.Manager

	wallet      *wallet.Wallet
	withdrawals *withdrawalTable

	handlers []Handler
}

// New constructs a Node. The wallet is installed once DKG completes (or
// immediately, if a key share is already persisted); until then, deposit
// address derivation and withdrawal signing are unavailable.
func New(
	self validator.ID,
	set *validator.Set,
	net network.Network,
	store *storage.Store,
	o oracle.Oracle,
	netParams *chaincfg.Params,
	l log.Logger,
	persist dkg.PersistFunc,
	load dkg.LoadFunc,
) (*Node, error) {
	chain, err := abci.NewChain(store, o, l.Named("abci"))
	if err != nil {
		return nil, err
	}

	consMgr, err := consensus.NewManager(self, set, net, chain, l.Named("consensus"))
	if err != nil {
		return nil, err
	}

	n := &Node{
		self:        self,
		set:         set,
		net:         net,
		log:         l,
		netParams:   netParams,
		chain:       chain,
		oracle:      o,
		store:       store,
		consMgr:     consMgr,
		withdrawals: newWithdrawalTable(),
	}

	n.signer = signing.NewManager(self, set, set.Threshold(), nil, net, l.Named("signing"))
	n.signer.OnSigned(n.handleSigningResult)

	n.dkgProc = dkg.NewProcess(self, set, set.Threshold(), net, l.Named("dkg"), persist, load)
	n.dkgProc.OnComplete(n.installKeyShare)

	if share, ok := load(); ok {
		n.installKeyShare(share)
	}

	n.handlers = []Handler{
		handlerFunc(n.dkgProc.HandleEvent),
		handlerFunc(n.signer.HandleEvent),
		handlerFunc(n.handleDepositEvent),
		handlerFunc(n.handleWithdrawalEvent),
		handlerFunc(n.handleControlEvent),
		handlerFunc(n.consMgr.HandleEvent),
	}

	return n, nil
}

// installKeyShare wires a completed (or previously persisted) key share
// into the signing manager and constructs the wallet, deriving every
// future deposit address from the group key (spec §4.1: DKG completion
// "installs" the share for signing to use).
func (n *Node) installKeyShare(share *key.Share) {
	n.signer.SetShare(share)
	n.wallet = wallet.New(share.Public.GroupKey, n.netParams, n.log.Named("wallet"))
}

// Start subscribes every component to its gossipsub topics and begins DKG
// if no key share is yet persisted.
func (n *Node) Start(ctx context.Context) error {
	if err := n.consMgr.Subscribe(); err != nil {
		return err
	}
	for _, topic := range []string{wire.TopicDepositIntents, wire.TopicWithdrawals} {
		if err := n.net.Subscribe(topic); err != nil {
			return err
		}
	}
	if n.wallet == nil {
		return n.dkgProc.Start(ctx)
	}
	return nil
}

// Run drains the network's event stream and the oracle's confirmed-deposit
// stream, dispatching each through the ordered handler chain, until ctx is
// cancelled (spec §4.4: the oracle's watch loop surfaces confirmations
// locally on every node, which is what lets each independently submit the
// matching Deposit transaction to its own pending block).
func (n *Node) Run(ctx context.Context) error {
	confirmed := n.oracle.ConfirmedDeposits()
	for {
		select {
		case ev := <-n.net.Events():
			n.dispatch(ctx, ev)
		case cd := <-confirmed:
			n.dispatch(ctx, wire.OracleDepositConfirmedEvent{ConfirmedTx: cd.RawTx})
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (n *Node) dispatch(ctx context.Context, ev wire.NetworkEvent) {
	for _, h := range n.handlers {
		if err := h.Handle(ctx, ev); err != nil {
			n.log.Warnw("handler returned error", "error", err)
		}
	}
}

// Dispatch services one internal RPC request synchronously: it is the entry
// point internal/rpc's gRPC service calls into for every request it
// receives (spec §6 "internal RPC surface"). Every handler in the chain
// replies on the same buffered channel before Handle returns, so the reply
// is always already waiting by the time dispatch comes back.
func (n *Node) Dispatch(ctx context.Context, req wire.SelfRequest) wire.SelfResponse {
	replyCh := make(chan wire.SelfResponse, 1)
	n.dispatch(ctx, wire.RPCEvent{Request: req, Reply: replyCh})
	select {
	case resp := <-replyCh:
		return resp
	default:
		return wire.ErrorResponse{Err: fmt.Errorf("orchestrator: no handler produced a response for %T", req)}
	}
}

// Chain exposes the ABCI interface for read-only queries (e.g. CheckBalance)
// that don't need to go through the handler chain.
func (n *Node) Chain() *abci.Chain { return n.chain }

// Bootstrap starts the first consensus round; see consensus.Manager.Bootstrap.
func (n *Node) Bootstrap(ctx context.Context) error { return n.consMgr.Bootstrap(ctx) }

func freshTrackingID() string {
	return uuid.New().String()
}
