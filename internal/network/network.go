// Package network is the abstract messaging contract the rest of the node
// consumes: gossipsub-style broadcast topics and a direct unicast
// request/response stream (spec §6). The actual peer discovery and
// transport are external collaborators (spec §1); this package names the
// interface they must provide, a libp2p-backed implementation of it
// (libp2p.go), and an in-process implementation used by tests and
// single-machine demos (local.go).
package network

import (
	"context"

	"github.com/fedvault/node/internal/validator"
	"github.com/fedvault/node/internal/wire"
)

// Network is the messaging contract consumed by the DKG, signing,
// consensus, and orchestrator components. Every inbound message — broadcast
// or direct — surfaces as a wire.NetworkEvent on the channel returned by
// Events, so that, combined with oracle and RPC events, a node has exactly
// one event stream (spec §2 dataflow paragraph).
type Network interface {
	// Self returns this node's own validator ID.
	Self() validator.ID

	// Broadcast gossips msg on topic to every subscriber.
	Broadcast(ctx context.Context, topic string, msg wire.BroadcastMessage) error

	// SendDirect unicasts msg to peer over the direct-message stream
	// protocol. It does not wait for application-level acknowledgement;
	// the recipient acknowledges, if at all, with a reverse DirectMessage
	// that will surface as its own NetworkEvent.
	SendDirect(ctx context.Context, peer validator.ID, msg wire.DirectMessage) error

	// Subscribe registers interest in topic; messages published on it
	// after this call surface on Events.
	Subscribe(topic string) error

	// Events returns the single channel on which every inbound peer
	// message surfaces, preserving arrival order (spec §5).
	Events() <-chan wire.NetworkEvent

	// Close releases transport resources.
	Close() error
}
