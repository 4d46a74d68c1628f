// Package wire defines the closed tagged-union message types that cross
// component and node boundaries: direct (unicast) messages, broadcast
// (gossipsub) messages, and the network events the orchestrator dispatches
// through its handler chain. Each union is a Go interface implemented by a
// fixed set of structs, matched on by type switch, following drand.Packet's
// variant style rather than dynamic dispatch (design note in
// SPEC_FULL.md §9).
package wire

import "github.com/fedvault/node/internal/validator"

// DirectMessage is the union carried on the single stream protocol
// "/direct-message/1.0.0" (spec §6). Responses to a DirectMessage are empty;
// acknowledgement is by a corresponding reverse DirectMessage.
type DirectMessage interface {
	isDirectMessage()
}

type Ping struct{}
type Pong struct{}

// Round2Package carries one peer's FROST DKG round-2 package, addressed
// unicast to that peer alone (spec §4.1).
type Round2Package struct {
	From    validator.ID
	Payload []byte
}

// SignRequest is the coordinator's invitation to participate in a signing
// session over 32-byte digest Message (spec §4.2).
type SignRequest struct {
	SignID  uint64
	Message [32]byte
}

// Commitments carries one participant's round-1 nonce commitments back to
// the coordinator.
type Commitments struct {
	SignID uint64
	Bytes  []byte
}

// SignPackage is the coordinator's round-2 broadcast of the bound signing
// package to each selected participant.
type SignPackage struct {
	SignID  uint64
	Package []byte
}

// SignatureShare is one participant's round-2 contribution, unicast back to
// the coordinator.
type SignatureShare struct {
	SignID uint64
	Bytes  []byte
}

func (Ping) isDirectMessage()           {}
func (Pong) isDirectMessage()           {}
func (Round2Package) isDirectMessage()  {}
func (SignRequest) isDirectMessage()    {}
func (Commitments) isDirectMessage()    {}
func (SignPackage) isDirectMessage()    {}
func (SignatureShare) isDirectMessage() {}

// BroadcastMessage is the union carried on the gossipsub "broadcast" topic
// (spec §6), plus the dedicated "start-dkg" and "round1" topics which carry
// their own bare payloads (see Topic* constants below).
type BroadcastMessage interface {
	isBroadcastMessage()
}

type ConsensusBroadcast struct{ Payload []byte } // carries a ConsensusMessage
type BlockBroadcast struct{ Payload []byte }
type DepositIntentBroadcast struct{ Payload []byte }
type PendingSpendBroadcast struct{ Payload []byte }
type DkgBroadcast struct{ Payload []byte }

func (ConsensusBroadcast) isBroadcastMessage()     {}
func (BlockBroadcast) isBroadcastMessage()         {}
func (DepositIntentBroadcast) isBroadcastMessage() {}
func (PendingSpendBroadcast) isBroadcastMessage()  {}
func (DkgBroadcast) isBroadcastMessage()           {}

// Gossipsub topic names (spec §6).
const (
	TopicStartDKG        = "start-dkg"
	TopicRound1          = "round1"
	TopicBroadcast       = "broadcast"
	TopicDepositIntents  = "deposit-intents"
	TopicWithdrawals     = "withdrawls" // spelling preserved from the source protocol
	DirectMessageProtoID = "/direct-message/1.0.0"
)

// ConsensusMessage is the union of BFT consensus wire messages (spec §4.3).
type ConsensusMessage interface {
	isConsensusMessage()
}

type LeaderAnnouncement struct {
	Leader validator.ID
	Round  uint64
}

type BlockProposal struct {
	Proposer validator.ID
	RawBlock []byte
}

type VoteKind uint8

const (
	VotePrevote VoteKind = iota
	VotePrecommit
)

type Vote struct {
	Round     uint64
	Height    uint64
	BlockHash [32]byte
	Voter     validator.ID
	Kind      VoteKind
}

type NewRound struct {
	Round uint64
}

func (LeaderAnnouncement) isConsensusMessage() {}
func (BlockProposal) isConsensusMessage()      {}
func (Vote) isConsensusMessage()               {}
func (NewRound) isConsensusMessage()           {}

// NetworkEvent is the union of externally-originated events the
// orchestrator dispatches through its ordered handler chain (spec §2, §5):
// peer messages, oracle confirmations, and RPC requests all enter through
// this single stream so ordering is deterministic per node.
type NetworkEvent interface {
	isNetworkEvent()
}

// PeerDirectEvent wraps an inbound DirectMessage together with the sender.
type PeerDirectEvent struct {
	From    validator.ID
	Message DirectMessage
}

// PeerBroadcastEvent wraps an inbound gossipsub message together with the
// topic it arrived on and the sender (best-effort; gossipsub does not
// authenticate topic senders beyond the embedded validator signature, which
// is verified by the handler before acting on it).
type PeerBroadcastEvent struct {
	Topic   string
	From    validator.ID
	Message BroadcastMessage
}

// OracleDepositConfirmedEvent is emitted when the (external) oracle observes
// a confirmed on-chain transaction paying a registered deposit address.
type OracleDepositConfirmedEvent struct {
	ConfirmedTx []byte
}

// RPCEvent wraps one internal RPC surface request together with an optional
// one-shot reply channel (spec §5, §6).
type RPCEvent struct {
	Request SelfRequest
	Reply   chan<- SelfResponse
}

func (PeerDirectEvent) isNetworkEvent()             {}
func (PeerBroadcastEvent) isNetworkEvent()           {}
func (OracleDepositConfirmedEvent) isNetworkEvent()  {}
func (RPCEvent) isNetworkEvent()                     {}

// SelfRequest is the union of internal orchestrator RPC requests (spec §6);
// it maps 1:1 onto the external gRPC surface the (out of scope) CLI driver
// exposes.
type SelfRequest interface {
	isSelfRequest()
}

type SpendRequest struct {
	AmountSat   uint64
	FeeSat      uint64
	AddressTo   string
	UserPubKey  []byte
}

type StartSigningSessionRequest struct {
	HexMessage string
}

type CreateDepositRequest struct {
	UserPubKey []byte
	AmountSat  uint64
}

type GetPendingDepositIntentsRequest struct{}

type CheckBalanceRequest struct {
	Address string
}

type ProposeWithdrawalRequest struct {
	AmountSat       uint64
	AddressTo       string
	UserPubKey      []byte
	BlocksToConfirm *uint32
}

type ConfirmWithdrawalRequest struct {
	Challenge [32]byte
	Signature []byte
}

type TriggerConsensusRoundRequest struct {
	ForceRound bool
}

type ConfirmDepositRequest struct {
	ConfirmedTx []byte
}

func (SpendRequest) isSelfRequest()                    {}
func (StartSigningSessionRequest) isSelfRequest()       {}
func (CreateDepositRequest) isSelfRequest()             {}
func (GetPendingDepositIntentsRequest) isSelfRequest()  {}
func (CheckBalanceRequest) isSelfRequest()              {}
func (ProposeWithdrawalRequest) isSelfRequest()         {}
func (ConfirmWithdrawalRequest) isSelfRequest()         {}
func (TriggerConsensusRoundRequest) isSelfRequest()     {}
func (ConfirmDepositRequest) isSelfRequest()            {}

// SelfResponse is the reply union matching SelfRequest.
type SelfResponse interface {
	isSelfResponse()
}

type ErrorResponse struct{ Err error }

type SpendResponse struct{ TxID string }

type CreateDepositResponse struct {
	TrackingID     string
	DepositAddress string
}

type PendingDepositIntentsResponse struct {
	TrackingIDs []string
}

type CheckBalanceResponse struct{ BalanceSat uint64 }

type ProposeWithdrawalResponse struct {
	QuotedFeeSat uint64
	Total        uint64
	Challenge    [32]byte
}

type ConfirmWithdrawalResponse struct{ TxID string }

type AckResponse struct{}

func (ErrorResponse) isSelfResponse()                 {}
func (SpendResponse) isSelfResponse()                 {}
func (CreateDepositResponse) isSelfResponse()         {}
func (PendingDepositIntentsResponse) isSelfResponse() {}
func (CheckBalanceResponse) isSelfResponse()          {}
func (ProposeWithdrawalResponse) isSelfResponse()     {}
func (ConfirmWithdrawalResponse) isSelfResponse()     {}
func (AckResponse) isSelfResponse()                   {}
