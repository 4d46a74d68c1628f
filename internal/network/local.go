package network

import (
	"context"
	"errors"
	"sync"

	"github.com/fedvault/node/internal/log"
	"github.com/fedvault/node/internal/validator"
	"github.com/fedvault/node/internal/wire"
)

// ErrPeerNotRegistered is returned when SendDirect targets a peer unknown to
// the hub the Local network is attached to.
var ErrPeerNotRegistered = errors.New("network: peer not registered with the local hub")

// Hub is an in-process switchboard connecting a set of Local networks,
// standing in for the real libp2p gossipsub/direct-stream transport. It
// plays the same role dkg_test.go / chain_test.go's in-process test
// harnesses play for drand: every node under test shares one Hub instead
// of opening real sockets.
type Hub struct {
	mu      sync.Mutex
	peers   map[validator.ID]*Local
	topics  map[string]map[validator.ID]bool
	log     log.Logger
}

// NewHub creates an empty switchboard.
func NewHub(l log.Logger) *Hub {
	return &Hub{
		peers:  make(map[validator.ID]*Local),
		topics: make(map[string]map[validator.ID]bool),
		log:    l,
	}
}

func (h *Hub) register(n *Local) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peers[n.self] = n
}

// Local is an in-memory Network implementation attached to a Hub. All
// network operations are synchronous Go channel sends; there is no real
// serialisation, which keeps unit and scenario tests deterministic.
type Local struct {
	hub    *Hub
	self   validator.ID
	events chan wire.NetworkEvent
}

// NewLocal creates a Local network for self, registered with hub.
func NewLocal(hub *Hub, self validator.ID) *Local {
	n := &Local{
		hub:    hub,
		self:   self,
		events: make(chan wire.NetworkEvent, 256),
	}
	hub.register(n)
	return n
}

func (n *Local) Self() validator.ID { return n.self }

func (n *Local) Subscribe(topic string) error {
	n.hub.mu.Lock()
	defer n.hub.mu.Unlock()
	if n.hub.topics[topic] == nil {
		n.hub.topics[topic] = make(map[validator.ID]bool)
	}
	n.hub.topics[topic][n.self] = true
	return nil
}

func (n *Local) Broadcast(_ context.Context, topic string, msg wire.BroadcastMessage) error {
	n.hub.mu.Lock()
	subscribers := n.hub.topics[topic]
	peers := make([]*Local, 0, len(subscribers))
	for id := range subscribers {
		if id == n.self {
			continue
		}
		if p, ok := n.hub.peers[id]; ok {
			peers = append(peers, p)
		}
	}
	n.hub.mu.Unlock()

	for _, p := range peers {
		ev := wire.PeerBroadcastEvent{Topic: topic, From: n.self, Message: msg}
		select {
		case p.events <- ev:
		default:
			n.hub.log.Warnw("dropping broadcast, subscriber event queue full", "topic", topic, "to", p.self)
		}
	}
	return nil
}

func (n *Local) SendDirect(_ context.Context, peer validator.ID, msg wire.DirectMessage) error {
	n.hub.mu.Lock()
	p, ok := n.hub.peers[peer]
	n.hub.mu.Unlock()
	if !ok {
		return ErrPeerNotRegistered
	}
	ev := wire.PeerDirectEvent{From: n.self, Message: msg}
	select {
	case p.events <- ev:
	default:
		return errors.New("network: peer event queue full")
	}
	return nil
}

func (n *Local) Events() <-chan wire.NetworkEvent { return n.events }

func (n *Local) Close() error {
	n.hub.mu.Lock()
	delete(n.hub.peers, n.self)
	n.hub.mu.Unlock()
	return nil
}
