// Package dkg implements the three-round, dealer-less distributed key
// generation protocol (spec §4.1): readiness, commitment broadcast, pairwise
// package exchange, and finalisation into a persisted key.Share and a
// group-wide key.PublicKeyPackage.
package dkg

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/fedvault/node/internal/key"
	"github.com/fedvault/node/internal/log"
	"github.com/fedvault/node/internal/network"
	"github.com/fedvault/node/internal/validator"
	"github.com/fedvault/node/internal/wire"
)

// Status tracks where this node's in-progress DKG run stands.
type Status int

const (
	StatusFresh Status = iota
	StatusAwaitingRound1
	StatusAwaitingRound2
	StatusComplete
)

func (s Status) String() string {
	switch s {
	case StatusFresh:
		return "Fresh"
	case StatusAwaitingRound1:
		return "AwaitingRound1"
	case StatusAwaitingRound2:
		return "AwaitingRound2"
	case StatusComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// ErrAlreadyHaveShare is returned by Start when a key share is already
// persisted: "a node with a persisted key share skips DKG" (spec §4.1).
var ErrAlreadyHaveShare = errors.New("dkg: key share already persisted, skipping DKG")

// PersistFunc saves a completed key.Share (the secret half is expected to be
// encrypted at rest by the caller; this package hands over the plaintext
// in-memory form per spec's explicit carve-out of key encryption as an
// external concern).
type PersistFunc func(*key.Share) error

// LoadFunc reports whether a key.Share already exists for this validator.
type LoadFunc func() (*key.Share, bool)

// Process runs (at most) one DKG instance at a time for this node.
type Process struct {
	mu sync.Mutex

	self      validator.ID
	set       *validator.Set
	threshold int
	net       network.Network
	log       log.Logger
	persist   PersistFunc
	load      LoadFunc

	status      Status
	readyPeers  map[validator.ID]bool
	poly        *polynomial // secret_1, discarded after round 2 begins
	commitments map[validator.ID][]*secp256k1.PublicKey
	shares      map[validator.ID]*secp256k1.ModNScalar // secret_2, discarded after round 3

	onComplete func(*key.Share)
}

// NewProcess constructs a DKG process for a fixed validator set and
// threshold. net must already be wired to this node's identity.
func NewProcess(self validator.ID, set *validator.Set, threshold int, net network.Network, l log.Logger, persist PersistFunc, load LoadFunc) *Process {
	return &Process{
		self:      self,
		set:       set,
		threshold: threshold,
		net:       net,
		log:       l.Named("dkg"),
		persist:   persist,
		load:      load,
	}
}

// OnComplete registers a callback fired (outside the process' lock) when
// this node finishes DKG successfully.
func (p *Process) OnComplete(fn func(*key.Share)) {
	p.mu.Lock()
	p.onComplete = fn
	p.mu.Unlock()
}

func (p *Process) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Start begins round 0: subscribing to start-dkg and announcing readiness.
// It is a no-op error if a key share is already persisted.
func (p *Process) Start(ctx context.Context) error {
	if _, ok := p.load(); ok {
		return ErrAlreadyHaveShare
	}

	if err := p.net.Subscribe(wire.TopicStartDKG); err != nil {
		return fmt.Errorf("subscribing to %s: %w", wire.TopicStartDKG, err)
	}
	if err := p.net.Subscribe(wire.TopicRound1); err != nil {
		return fmt.Errorf("subscribing to %s: %w", wire.TopicRound1, err)
	}

	p.mu.Lock()
	if p.readyPeers == nil {
		p.readyPeers = make(map[validator.ID]bool)
	}
	p.readyPeers[p.self] = true
	ready := len(p.readyPeers)
	n := p.set.Len()
	p.mu.Unlock()

	payload, err := encodeGob(readyPayload{From: p.self})
	if err != nil {
		return err
	}
	if err := p.net.Broadcast(ctx, wire.TopicStartDKG, wire.DkgBroadcast{Payload: payload}); err != nil {
		return err
	}

	if ready == n {
		return p.beginRound1(ctx)
	}
	return nil
}

// HandleEvent dispatches one inbound NetworkEvent relevant to DKG. Events
// for other components are ignored (return nil).
func (p *Process) HandleEvent(ctx context.Context, ev wire.NetworkEvent) error {
	switch e := ev.(type) {
	case wire.PeerBroadcastEvent:
		switch e.Topic {
		case wire.TopicStartDKG:
			return p.handleReady(ctx, e.Message)
		case wire.TopicRound1:
			return p.handleRound1(ctx, e.Message)
		}
	case wire.PeerDirectEvent:
		if r2, ok := e.Message.(wire.Round2Package); ok {
			return p.handleRound2(ctx, r2)
		}
	}
	return nil
}

func (p *Process) handleReady(ctx context.Context, msg wire.BroadcastMessage) error {
	bm, ok := msg.(wire.DkgBroadcast)
	if !ok {
		return nil
	}
	var payload readyPayload
	if err := decodeGob(bm.Payload, &payload); err != nil {
		p.log.Warnw("dropping undecodable readiness announcement", "err", err)
		return nil
	}
	if !p.set.Contains(payload.From) {
		p.log.Warnw("dropping readiness announcement from non-validator", "from", payload.From)
		return nil
	}

	p.mu.Lock()
	if p.readyPeers == nil {
		p.readyPeers = make(map[validator.ID]bool)
	}
	if p.readyPeers[payload.From] {
		p.mu.Unlock()
		return nil // idempotent: first wins
	}
	p.readyPeers[payload.From] = true
	ready := len(p.readyPeers)
	n := p.set.Len()
	alreadyStarted := p.status != StatusFresh
	p.mu.Unlock()

	if ready == n && !alreadyStarted {
		return p.beginRound1(ctx)
	}
	return nil
}

func (p *Process) beginRound1(ctx context.Context) error {
	poly, err := newPolynomial(p.threshold - 1)
	if err != nil {
		return p.abort(fmt.Errorf("generating round-1 polynomial: %w", err))
	}

	p.mu.Lock()
	p.status = StatusAwaitingRound1
	p.poly = poly
	p.commitments = map[validator.ID][]*secp256k1.PublicKey{p.self: poly.commitments()}
	n := p.set.Len()
	haveAll := len(p.commitments) == n
	p.mu.Unlock()

	serialized := make([][]byte, len(poly.commitments()))
	for i, c := range poly.commitments() {
		serialized[i] = c.SerializeCompressed()
	}
	payload, err := encodeGob(round1Payload{From: p.self, Commitments: serialized})
	if err != nil {
		return p.abort(err)
	}
	if err := p.net.Broadcast(ctx, wire.TopicRound1, wire.DkgBroadcast{Payload: payload}); err != nil {
		return p.abort(fmt.Errorf("broadcasting round-1 package: %w", err))
	}

	if haveAll {
		return p.beginRound2(ctx)
	}
	return nil
}

func (p *Process) handleRound1(ctx context.Context, msg wire.BroadcastMessage) error {
	bm, ok := msg.(wire.DkgBroadcast)
	if !ok {
		return nil
	}
	var payload round1Payload
	if err := decodeGob(bm.Payload, &payload); err != nil {
		p.log.Warnw("dropping undecodable round-1 package", "err", err)
		return nil
	}
	if !p.set.Contains(payload.From) {
		p.log.Warnw("dropping round-1 package from non-validator", "from", payload.From)
		return nil
	}

	commitments := make([]*secp256k1.PublicKey, len(payload.Commitments))
	for i, b := range payload.Commitments {
		pk, err := secp256k1.ParsePubKey(b)
		if err != nil {
			return p.abort(fmt.Errorf("parsing round-1 commitment from %s: %w", payload.From, err))
		}
		commitments[i] = pk
	}

	p.mu.Lock()
	if p.commitments == nil {
		p.mu.Unlock()
		return nil // round 1 hasn't started locally yet; this message is early, drop it (liveness comes from reaching n later)
	}
	if _, exists := p.commitments[payload.From]; exists {
		p.mu.Unlock()
		return nil // idempotent: first wins
	}
	p.commitments[payload.From] = commitments
	haveAll := len(p.commitments) == p.set.Len()
	p.mu.Unlock()

	if haveAll {
		return p.beginRound2(ctx)
	}
	return nil
}

func (p *Process) beginRound2(ctx context.Context) error {
	p.mu.Lock()
	if p.status != StatusAwaitingRound1 {
		p.mu.Unlock()
		return nil
	}
	poly := p.poly
	p.status = StatusAwaitingRound2
	p.poly = nil // secret_1 discarded
	p.shares = make(map[validator.ID]*secp256k1.ModNScalar)
	p.mu.Unlock()

	selfIdx, err := participantIndex(p.set, p.self)
	if err != nil {
		return p.abort(err)
	}
	selfShare := poly.evaluate(selfIdx)
	p.mu.Lock()
	p.shares[p.self] = selfShare
	haveAll := len(p.shares) == p.set.Len()
	p.mu.Unlock()

	for _, v := range p.set.Members() {
		if v.ID == p.self {
			continue
		}
		idx, err := participantIndex(p.set, v.ID)
		if err != nil {
			return p.abort(err)
		}
		share := poly.evaluate(idx)
		shareBytes := share.Bytes()
		payload, err := encodeGob(round2Payload{From: p.self, ShareBytes: shareBytes[:]})
		if err != nil {
			return p.abort(err)
		}
		if err := p.net.SendDirect(ctx, v.ID, wire.Round2Package{From: p.self, Payload: payload}); err != nil {
			p.log.Errorw("sending round-2 package failed", "to", v.ID, "err", err)
		}
	}

	if haveAll {
		return p.finalize(ctx)
	}
	return nil
}

func (p *Process) handleRound2(ctx context.Context, msg wire.Round2Package) error {
	if !p.set.Contains(msg.From) {
		p.log.Warnw("dropping round-2 package from non-validator", "from", msg.From)
		return nil
	}
	var payload round2Payload
	if err := decodeGob(msg.Payload, &payload); err != nil || payload.From != msg.From {
		p.log.Warnw("dropping malformed round-2 package", "from", msg.From)
		return nil
	}

	var share secp256k1.ModNScalar
	var buf32 [32]byte
	copy(buf32[:], payload.ShareBytes)
	if overflow := share.SetBytes(&buf32); overflow != 0 {
		return p.abort(fmt.Errorf("round-2 share from %s overflows the scalar field", msg.From))
	}

	p.mu.Lock()
	if p.shares == nil || p.commitments == nil {
		p.mu.Unlock()
		return nil // round 2 hasn't started locally yet
	}
	senderCommitments, ok := p.commitments[msg.From]
	if !ok {
		p.mu.Unlock()
		return p.abort(fmt.Errorf("round-2 package from %s with no matching round-1 commitment", msg.From))
	}
	if _, exists := p.shares[msg.From]; exists {
		p.mu.Unlock()
		return nil // idempotent: first wins
	}
	p.mu.Unlock()

	selfIdx, err := participantIndex(p.set, p.self)
	if err != nil {
		return p.abort(err)
	}
	if !verifyShare(selfIdx, &share, senderCommitments) {
		return p.abort(fmt.Errorf("round-2 share from %s failed VSS verification", msg.From))
	}

	p.mu.Lock()
	p.shares[msg.From] = &share
	haveAll := len(p.shares) == p.set.Len()
	p.mu.Unlock()

	if haveAll {
		return p.finalize(ctx)
	}
	return nil
}

func (p *Process) finalize(ctx context.Context) error {
	_ = ctx
	p.mu.Lock()
	if p.status != StatusAwaitingRound2 {
		p.mu.Unlock()
		return nil
	}

	secret := new(secp256k1.ModNScalar).SetInt(0)
	for _, s := range p.shares {
		secret.Add(s)
	}

	var groupKey *secp256k1.PublicKey
	for _, commitments := range p.commitments {
		constantTerm := commitments[0]
		if groupKey == nil {
			groupKey = constantTerm
		} else {
			groupKey = addPoints(groupKey, constantTerm)
		}
	}

	verifyingShares := make(map[validator.ID]*secp256k1.PublicKey, p.set.Len())
	for _, v := range p.set.Members() {
		idx, err := participantIndex(p.set, v.ID)
		if err != nil {
			p.mu.Unlock()
			return p.abort(err)
		}
		var share *secp256k1.PublicKey
		for _, commitments := range p.commitments {
			contribution := evaluateCommitments(idx, commitments)
			if share == nil {
				share = contribution
			} else {
				share = addPoints(share, contribution)
			}
		}
		verifyingShares[v.ID] = share
	}

	pkg := &key.PublicKeyPackage{
		GroupKey:        groupKey,
		VerifyingShares: verifyingShares,
		Threshold:       p.threshold,
	}
	finalShare := &key.Share{
		ValidatorID: p.self,
		Secret:      secret,
		Public:      pkg,
	}
	p.status = StatusComplete
	p.poly = nil
	p.commitments = nil
	p.shares = nil
	p.readyPeers = nil
	onComplete := p.onComplete
	p.mu.Unlock()

	if err := p.persist(finalShare); err != nil {
		return fmt.Errorf("persisting completed key share: %w", err)
	}
	p.log.Infow("DKG completed successfully")
	if onComplete != nil {
		onComplete(finalShare)
	}
	return nil
}

// abort clears all in-memory DKG state so a fresh run can be started later
// (spec §4.1 edge-case policies): no partial key is ever persisted.
func (p *Process) abort(cause error) error {
	p.mu.Lock()
	p.status = StatusFresh
	p.poly = nil
	p.commitments = nil
	p.shares = nil
	p.readyPeers = nil
	p.mu.Unlock()

	p.log.Errorw("DKG run aborted", "err", cause)
	return cause
}

type readyPayload struct {
	From validator.ID
}

type round1Payload struct {
	From        validator.ID
	Commitments [][]byte
}

type round2Payload struct {
	From       validator.ID
	ShareBytes []byte
}

func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
