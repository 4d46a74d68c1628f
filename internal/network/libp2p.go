package network

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p-core/crypto"
	"github.com/libp2p/go-libp2p-core/host"
	"github.com/libp2p/go-libp2p-core/network"
	libp2ppeer "github.com/libp2p/go-libp2p-core/peer"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/fedvault/node/internal/log"
	"github.com/fedvault/node/internal/validator"
	"github.com/fedvault/node/internal/wire"
)

// directMessageProtocol is the single stream protocol ID direct messages
// travel over (spec §6). Framing is a 4-byte big-endian length prefix
// followed by a gob-encoded wire.DirectMessage, mirroring the length-prefixed
// protobuf framing net/listener.go uses, without requiring a generated
// protobuf schema for this node's message set.
const directMessageProtocol = network.ProtocolID(wire.DirectMessageProtoID)

// LibP2P is the production Network implementation: gossipsub broadcast
// topics plus a direct unicast stream protocol, constructed the way
// lp2p.ConstructHost builds a drand relay host.
type LibP2P struct {
	self   validator.ID
	host   host.Host
	pubsub *pubsub.PubSub
	codec  *directCodec

	resolver      func(validator.ID) (libp2ppeer.ID, error)
	reverseLookup func(libp2ppeer.ID) (validator.ID, error)

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
	subs   map[string]*pubsub.Subscription

	events chan wire.NetworkEvent
	log    log.Logger
	cancel context.CancelFunc
}

// NewLibP2P constructs a host listening on listenAddr, joins gossipsub, and
// registers the direct-message stream handler. resolver maps a validator ID
// to its libp2p peer ID; reverseLookup is its inverse, used to attribute an
// inbound direct stream to the validator that opened it. Both are populated
// from the `allowed_peers` configuration (spec §6).
func NewLibP2P(
	ctx context.Context,
	self validator.ID,
	priv crypto.PrivKey,
	listenAddr string,
	resolver func(validator.ID) (libp2ppeer.ID, error),
	reverseLookup func(libp2ppeer.ID) (validator.ID, error),
	l log.Logger,
) (*LibP2P, error) {
	opts := []libp2p.Option{
		libp2p.Identity(priv),
		libp2p.DisableRelay(),
	}
	if listenAddr != "" {
		opts = append(opts, libp2p.ListenAddrStrings(listenAddr))
	} else {
		opts = append(opts, libp2p.NoListenAddrs)
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("constructing libp2p host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("constructing gossipsub: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	n := &LibP2P{
		self:          self,
		host:          h,
		pubsub:        ps,
		codec:         &directCodec{},
		resolver:      resolver,
		reverseLookup: reverseLookup,
		topics:        make(map[string]*pubsub.Topic),
		subs:          make(map[string]*pubsub.Subscription),
		events:        make(chan wire.NetworkEvent, 1024),
		log:           l,
		cancel:        cancel,
	}

	h.SetStreamHandler(directMessageProtocol, n.handleDirectStream)
	_ = runCtx
	return n, nil
}

func (n *LibP2P) Self() validator.ID { return n.self }

// Host exposes the underlying libp2p host so callers can seed its
// peerstore (e.g. via PeerMap.RegisterWithHost) before dialing begins.
func (n *LibP2P) Host() host.Host { return n.host }

func (n *LibP2P) joinTopic(topic string) (*pubsub.Topic, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if t, ok := n.topics[topic]; ok {
		return t, nil
	}
	t, err := n.pubsub.Join(topic)
	if err != nil {
		return nil, err
	}
	n.topics[topic] = t
	return t, nil
}

func (n *LibP2P) Subscribe(topic string) error {
	t, err := n.joinTopic(topic)
	if err != nil {
		return err
	}
	sub, err := t.Subscribe()
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.subs[topic] = sub
	n.mu.Unlock()

	go n.readTopic(topic, sub)
	return nil
}

func (n *LibP2P) readTopic(topic string, sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(context.Background())
		if err != nil {
			n.log.Debugw("topic subscription closed", "topic", topic, "err", err)
			return
		}
		if msg.ReceivedFrom == n.host.ID() {
			continue
		}
		bm, err := n.codec.decodeBroadcast(msg.Data)
		if err != nil {
			n.log.Warnw("dropping undecodable broadcast", "topic", topic, "err", err)
			continue
		}
		n.events <- wire.PeerBroadcastEvent{Topic: topic, Message: bm}
	}
}

func (n *LibP2P) Broadcast(_ context.Context, topic string, msg wire.BroadcastMessage) error {
	t, err := n.joinTopic(topic)
	if err != nil {
		return err
	}
	data, err := n.codec.encodeBroadcast(msg)
	if err != nil {
		return err
	}
	return t.Publish(context.Background(), data)
}

func (n *LibP2P) SendDirect(ctx context.Context, peer validator.ID, msg wire.DirectMessage) error {
	peerID, err := n.resolver(peer)
	if err != nil {
		return fmt.Errorf("resolving peer %s: %w", peer, err)
	}
	s, err := n.host.NewStream(ctx, peerID, directMessageProtocol)
	if err != nil {
		return fmt.Errorf("opening direct stream to %s: %w", peer, err)
	}
	defer s.Close()

	data, err := n.codec.encodeDirect(msg)
	if err != nil {
		return err
	}
	return writeFramed(s, data)
}

func (n *LibP2P) handleDirectStream(s network.Stream) {
	defer s.Close()
	from, err := n.reverseLookup(s.Conn().RemotePeer())
	if err != nil {
		n.log.Warnw("dropping direct stream from unrecognised peer", "peer", s.Conn().RemotePeer(), "err", err)
		return
	}
	data, err := readFramed(s)
	if err != nil {
		n.log.Warnw("direct stream read failed", "err", err)
		return
	}
	dm, err := n.codec.decodeDirect(data)
	if err != nil {
		n.log.Warnw("dropping undecodable direct message", "err", err)
		return
	}
	n.events <- wire.PeerDirectEvent{From: from, Message: dm}
}

func (n *LibP2P) Events() <-chan wire.NetworkEvent { return n.events }

func (n *LibP2P) Close() error {
	n.cancel()
	return n.host.Close()
}

// ListenMultiaddrs returns the addresses this host actually bound to, for
// registration with peer discovery.
func (n *LibP2P) ListenMultiaddrs() []ma.Multiaddr {
	return n.host.Addrs()
}

func writeFramed(w io.Writer, payload []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := bw.Write(payload); err != nil {
		return err
	}
	return bw.Flush()
}

func readFramed(r io.Reader) ([]byte, error) {
	br := bufio.NewReader(r)
	var hdr [4]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(br, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
