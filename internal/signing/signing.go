// Package signing drives the two-round threshold Schnorr signing protocol
// (spec §4.2): a coordinator selects t-1 live peers, collects round-1 nonce
// commitments, binds a signing package, and aggregates t round-2 signature
// shares into a single group signature.
package signing

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/google/uuid"

	"github.com/fedvault/node/internal/curve"
	"github.com/fedvault/node/internal/key"
	"github.com/fedvault/node/internal/log"
	"github.com/fedvault/node/internal/network"
	"github.com/fedvault/node/internal/validator"
	"github.com/fedvault/node/internal/wire"
)

var (
	// ErrSessionActive is returned when a second session is requested in a
	// role (coordinator or participant) that already has one active (spec
	// §4.2 "a coordinator may have at most one active signing session at a
	// time; same for a participant").
	ErrSessionActive = errors.New("signing: a session is already active for this role")

	// ErrInsufficientPeers is returned when fewer than t-1 other validators
	// are known, so a quorum cannot be reached.
	ErrInsufficientPeers = errors.New("signing: not enough known peers to reach the signing threshold")
)

// Result is a completed group signature over Message, ready to be converted
// to whatever encoding the consumer (the wallet, attaching a witness) needs.
type Result struct {
	SignID  uint64
	Message [32]byte
	R       *secp256k1.PublicKey
	Z       *secp256k1.ModNScalar
}

// Bytes returns the canonical (R || z) 65-byte encoding: compressed R
// followed by the 32-byte big-endian scalar z.
func (r *Result) Bytes() []byte {
	z := r.Z.Bytes()
	out := make([]byte, 0, 33+32)
	out = append(out, r.R.SerializeCompressed()...)
	out = append(out, z[:]...)
	return out
}

// BIP340 returns the 64-byte (x_R || z) witness a Bitcoin key-path spend
// attaches: R's x-only coordinate followed by the 32-byte scalar, matching
// the format a BIP-341 verifier expects.
func (r *Result) BIP340() [64]byte {
	compressed := r.R.SerializeCompressed()
	z := r.Z.Bytes()
	var out [64]byte
	copy(out[:32], compressed[1:33])
	copy(out[32:], z[:])
	return out
}

// Verify checks z*G == R + e*groupKey for the Fiat-Shamir challenge this
// package derives during round 1 (e = H(R || groupKey || message)).
func Verify(groupKey *secp256k1.PublicKey, message [32]byte, r *secp256k1.PublicKey, z *secp256k1.ModNScalar) bool {
	lhs := curve.ScalarBaseMul(z)
	e := curve.HashToScalar(r.SerializeCompressed(), groupKey.SerializeCompressed(), message[:])
	rhs := curve.AddPoints(r, curve.ScalarMul(e, groupKey))
	return lhs.X().Equals(rhs.X()) && lhs.Y().Equals(rhs.Y())
}

type coordinatorSession struct {
	signID       uint64
	message      [32]byte
	participants []validator.ID // self first, then the selected peers
	nonce        *secp256k1.ModNScalar
	commitments  map[validator.ID]*secp256k1.PublicKey
	shares       map[validator.ID]*secp256k1.ModNScalar
	r            *secp256k1.PublicKey
	e            *secp256k1.ModNScalar
}

type participantSession struct {
	signID      uint64
	coordinator validator.ID
	message     [32]byte
	nonce       *secp256k1.ModNScalar
}

// Manager owns at most one active coordinator session and at most one
// active participant session for this node, mirroring the single-goroutine
// state ownership the rest of the node uses (spec §5).
type Manager struct {
	mu sync.Mutex

	self      validator.ID
	set       *validator.Set
	threshold int
	share     *key.Share
	net       network.Network
	log       log.Logger

	coordinator *coordinatorSession
	participant *participantSession

	onSigned func(Result)
}

// NewManager constructs a signing Manager. share may be nil until DKG
// completes; every session-starting call fails with key.ErrNoKeyShare until
// it is set via SetShare.
func NewManager(self validator.ID, set *validator.Set, threshold int, share *key.Share, net network.Network, l log.Logger) *Manager {
	return &Manager{
		self:      self,
		set:       set,
		threshold: threshold,
		share:     share,
		net:       net,
		log:       l.Named("signing"),
	}
}

// SetShare installs the key share produced by a completed DKG run.
func (m *Manager) SetShare(share *key.Share) {
	m.mu.Lock()
	m.share = share
	m.mu.Unlock()
}

// OnSigned registers a callback fired (outside the lock) whenever this node
// finishes a coordinator session it started.
func (m *Manager) OnSigned(fn func(Result)) {
	m.mu.Lock()
	m.onSigned = fn
	m.mu.Unlock()
}

// StartSigningSession begins the coordinator role over a 32-byte digest,
// selecting t-1 live peers uniformly at random and issuing SignRequests.
// onStarted, if non-nil, is called with the freshly assigned sign_id before
// any completion is possible, so a caller can record state the eventual
// OnSigned callback will need to look up: at threshold 1 this node's own
// commitment already satisfies the session, and completion happens
// synchronously inside this call, before StartSigningSession returns.
func (m *Manager) StartSigningSession(ctx context.Context, message [32]byte, onStarted func(signID uint64)) (uint64, error) {
	m.mu.Lock()
	if m.coordinator != nil {
		m.mu.Unlock()
		return 0, ErrSessionActive
	}
	if m.share == nil {
		m.mu.Unlock()
		return 0, key.ErrNoKeyShare
	}
	threshold := m.threshold

	candidates := make([]validator.ID, 0, m.set.Len())
	for _, v := range m.set.Members() {
		if v.ID != m.self {
			candidates = append(candidates, v.ID)
		}
	}
	if len(candidates) < threshold-1 {
		m.mu.Unlock()
		return 0, ErrInsufficientPeers
	}
	peers, err := randomSubset(candidates, threshold-1)
	if err != nil {
		m.mu.Unlock()
		return 0, err
	}

	nonce, err := curve.RandomScalar()
	if err != nil {
		m.mu.Unlock()
		return 0, err
	}
	commitment := curve.ScalarBaseMul(nonce)
	signID := freshSignID()

	participants := append([]validator.ID{m.self}, peers...)
	session := &coordinatorSession{
		signID:       signID,
		message:      message,
		participants: participants,
		nonce:        nonce,
		commitments:  map[validator.ID]*secp256k1.PublicKey{m.self: commitment},
		shares:       make(map[validator.ID]*secp256k1.ModNScalar),
	}
	m.coordinator = session
	haveAll := len(session.commitments) == len(session.participants)
	m.mu.Unlock()

	if onStarted != nil {
		onStarted(signID)
	}

	for _, peer := range peers {
		if err := m.net.SendDirect(ctx, peer, wire.SignRequest{SignID: signID, Message: message}); err != nil {
			m.log.Errorw("sending sign request failed", "to", peer, "err", err)
		}
	}

	// threshold == 1: self's own commitment is already the full quorum, so
	// round 2 begins immediately rather than waiting on handleCommitments.
	if haveAll {
		if err := m.beginRound2(ctx, session); err != nil {
			return 0, err
		}
	}
	return signID, nil
}

// Abort clears an active coordinator session stuck below quorum (spec §4.2
// failure semantics: "a coordinator whose session stalls clears its state
// and returns an error to the initiator; the requester may retry"). There
// is no internal timer; the caller decides when a session has stalled.
func (m *Manager) Abort(signID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.coordinator != nil && m.coordinator.signID == signID {
		m.coordinator = nil
		return nil
	}
	if m.participant != nil && m.participant.signID == signID {
		m.participant = nil
		return nil
	}
	return fmt.Errorf("signing: no active session with sign_id %d", signID)
}

// HandleEvent dispatches one inbound NetworkEvent relevant to signing.
func (m *Manager) HandleEvent(ctx context.Context, ev wire.NetworkEvent) error {
	pde, ok := ev.(wire.PeerDirectEvent)
	if !ok {
		return nil
	}
	switch msg := pde.Message.(type) {
	case wire.SignRequest:
		return m.handleSignRequest(ctx, pde.From, msg)
	case wire.Commitments:
		return m.handleCommitments(ctx, pde.From, msg)
	case wire.SignPackage:
		return m.handleSignPackage(ctx, pde.From, msg)
	case wire.SignatureShare:
		return m.handleSignatureShare(ctx, pde.From, msg)
	}
	return nil
}

func (m *Manager) handleSignRequest(ctx context.Context, from validator.ID, req wire.SignRequest) error {
	m.mu.Lock()
	if m.share == nil {
		m.mu.Unlock()
		return nil
	}
	if m.participant != nil {
		m.log.Warnw("rejecting signing invitation, already in an active participant session", "from", from, "sign_id", req.SignID)
		m.mu.Unlock()
		return nil
	}
	nonce, err := curve.RandomScalar()
	if err != nil {
		m.mu.Unlock()
		return err
	}
	commitment := curve.ScalarBaseMul(nonce)
	m.participant = &participantSession{signID: req.SignID, coordinator: from, message: req.Message, nonce: nonce}
	m.mu.Unlock()

	return m.net.SendDirect(ctx, from, wire.Commitments{SignID: req.SignID, Bytes: commitment.SerializeCompressed()})
}

func (m *Manager) handleCommitments(ctx context.Context, from validator.ID, msg wire.Commitments) error {
	m.mu.Lock()
	if m.coordinator == nil || m.coordinator.signID != msg.SignID {
		m.mu.Unlock()
		return nil // sign_id mismatch: discard
	}
	if _, exists := m.coordinator.commitments[from]; exists {
		m.mu.Unlock()
		return nil // idempotent: first wins
	}
	pk, err := secp256k1.ParsePubKey(msg.Bytes)
	if err != nil {
		// "a share that fails to deserialise aborts only that contributor"
		m.log.Warnw("dropping undeserialisable commitment, contributor excluded", "from", from, "err", err)
		m.mu.Unlock()
		return nil
	}
	m.coordinator.commitments[from] = pk
	haveAll := len(m.coordinator.commitments) == len(m.coordinator.participants)
	var session *coordinatorSession
	if haveAll {
		session = m.coordinator
	}
	m.mu.Unlock()

	if haveAll {
		return m.beginRound2(ctx, session)
	}
	return nil
}

func (m *Manager) beginRound2(ctx context.Context, session *coordinatorSession) error {
	commitmentPoints := make([]*secp256k1.PublicKey, len(session.participants))
	for i, id := range session.participants {
		commitmentPoints[i] = session.commitments[id]
	}
	r := curve.SumPoints(commitmentPoints...)
	e := curve.HashToScalar(r.SerializeCompressed(), m.share.Public.GroupKey.SerializeCompressed(), session.message[:])

	m.mu.Lock()
	session.r = r
	session.e = e
	m.mu.Unlock()

	indices, err := scalarIndices(m.set, session.participants)
	if err != nil {
		return m.abortCoordinator(session.signID, err)
	}
	selfIndex, err := m.set.ScalarIndex(m.self)
	if err != nil {
		return m.abortCoordinator(session.signID, err)
	}
	selfShare := computeShare(session.nonce, e, curve.LagrangeCoefficient(selfIndex, indices), m.share.Secret)

	m.mu.Lock()
	session.shares[m.self] = selfShare
	haveAll := len(session.shares) == len(session.participants)
	m.mu.Unlock()

	rBytes := r.SerializeCompressed()
	eScalarBytes := e.Bytes()
	payload, err := encodeGob(signingPackagePayload{
		SignID:       session.signID,
		Participants: session.participants,
		R:            rBytes,
		E:            eScalarBytes[:],
		Message:      session.message,
	})
	if err != nil {
		return m.abortCoordinator(session.signID, err)
	}

	for _, id := range session.participants {
		if id == m.self {
			continue
		}
		if err := m.net.SendDirect(ctx, id, wire.SignPackage{SignID: session.signID, Package: payload}); err != nil {
			m.log.Errorw("sending signing package failed", "to", id, "err", err)
		}
	}

	if haveAll {
		return m.aggregate(session)
	}
	return nil
}

func (m *Manager) handleSignPackage(ctx context.Context, from validator.ID, msg wire.SignPackage) error {
	m.mu.Lock()
	if m.participant == nil || m.participant.signID != msg.SignID || m.participant.coordinator != from {
		m.mu.Unlock()
		return nil
	}
	session := m.participant
	m.mu.Unlock()

	var payload signingPackagePayload
	if err := decodeGob(msg.Package, &payload); err != nil || payload.SignID != msg.SignID {
		m.log.Errorw("discarding signing session: malformed signing package", "sign_id", msg.SignID, "err", err)
		m.clearParticipant(msg.SignID)
		return nil
	}

	r, err := secp256k1.ParsePubKey(payload.R)
	if err != nil {
		m.log.Errorw("discarding signing session: malformed R", "sign_id", msg.SignID, "err", err)
		m.clearParticipant(msg.SignID)
		return nil
	}
	var eBuf [32]byte
	copy(eBuf[:], payload.E)
	var e secp256k1.ModNScalar
	e.SetBytes(&eBuf)

	indices, err := scalarIndices(m.set, payload.Participants)
	if err != nil {
		m.clearParticipant(msg.SignID)
		return err
	}
	selfIndex, err := m.set.ScalarIndex(m.self)
	if err != nil {
		m.clearParticipant(msg.SignID)
		return err
	}
	lambda := curve.LagrangeCoefficient(selfIndex, indices)
	z := computeShare(session.nonce, &e, lambda, m.share.Secret)
	_ = r // bound into the challenge already; kept for future witness assembly by the wallet

	m.clearParticipant(msg.SignID) // "participant state for the session is cleared after sending"

	zBytes := z.Bytes()
	return m.net.SendDirect(ctx, from, wire.SignatureShare{SignID: msg.SignID, Bytes: zBytes[:]})
}

func (m *Manager) clearParticipant(signID uint64) {
	m.mu.Lock()
	if m.participant != nil && m.participant.signID == signID {
		m.participant = nil
	}
	m.mu.Unlock()
}

func (m *Manager) handleSignatureShare(_ context.Context, from validator.ID, msg wire.SignatureShare) error {
	m.mu.Lock()
	if m.coordinator == nil || m.coordinator.signID != msg.SignID {
		m.mu.Unlock()
		return nil
	}
	if _, exists := m.coordinator.shares[from]; exists {
		m.mu.Unlock()
		return nil // idempotent: first wins
	}

	var buf [32]byte
	copy(buf[:], msg.Bytes)
	var z secp256k1.ModNScalar
	if overflow := z.SetBytes(&buf); overflow != 0 {
		// "aborts only that contributor; the session continues if the
		// quorum can still be reached with remaining responses"
		m.log.Warnw("dropping overflowing signature share, contributor excluded", "from", from)
		m.mu.Unlock()
		return nil
	}
	m.coordinator.shares[from] = &z
	haveAll := len(m.coordinator.shares) == len(m.coordinator.participants)
	var session *coordinatorSession
	if haveAll {
		session = m.coordinator
	}
	m.mu.Unlock()

	if haveAll {
		return m.aggregate(session)
	}
	return nil
}

func (m *Manager) aggregate(session *coordinatorSession) error {
	z := new(secp256k1.ModNScalar).SetInt(0)
	for _, share := range session.shares {
		z.Add(share)
	}
	result := Result{SignID: session.signID, Message: session.message, R: session.r, Z: z}

	m.mu.Lock()
	if m.coordinator != nil && m.coordinator.signID == session.signID {
		m.coordinator = nil
	}
	onSigned := m.onSigned
	m.mu.Unlock()

	m.log.Infow("signing session aggregated group signature", "sign_id", session.signID)
	if onSigned != nil {
		onSigned(result)
	}
	return nil
}

func (m *Manager) abortCoordinator(signID uint64, cause error) error {
	m.mu.Lock()
	if m.coordinator != nil && m.coordinator.signID == signID {
		m.coordinator = nil
	}
	m.mu.Unlock()
	m.log.Errorw("signing session aborted", "sign_id", signID, "err", cause)
	return cause
}

func computeShare(nonce, e, lambda *secp256k1.ModNScalar, secret *secp256k1.ModNScalar) *secp256k1.ModNScalar {
	weighted := new(secp256k1.ModNScalar).Set(lambda).Mul(secret)
	eTerm := new(secp256k1.ModNScalar).Set(e).Mul(weighted)
	return new(secp256k1.ModNScalar).Set(nonce).Add(eTerm)
}

func scalarIndices(set *validator.Set, ids []validator.ID) ([]*secp256k1.ModNScalar, error) {
	out := make([]*secp256k1.ModNScalar, len(ids))
	for i, id := range ids {
		idx, err := set.ScalarIndex(id)
		if err != nil {
			return nil, err
		}
		out[i] = idx
	}
	return out, nil
}

// randomSubset picks k distinct elements from candidates uniformly at
// random (spec §4.2 "selects t-1 peers uniformly at random from the known
// live set").
func randomSubset(candidates []validator.ID, k int) ([]validator.ID, error) {
	pool := make([]validator.ID, len(candidates))
	copy(pool, candidates)
	for i := len(pool) - 1; i > 0; i-- {
		jBig, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return nil, err
		}
		j := int(jBig.Int64())
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:k], nil
}

// freshSignID derives a 64-bit session identifier from a fresh UUID,
// consistent with how the orchestrator draws deposit tracking IDs from
// google/uuid.
func freshSignID() uint64 {
	id := uuid.New()
	return binary.BigEndian.Uint64(id[:8])
}

type signingPackagePayload struct {
	SignID       uint64
	Participants []validator.ID
	R            []byte
	E            []byte
	Message      [32]byte
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
