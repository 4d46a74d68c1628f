package orchestrator

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	btcwire "github.com/btcsuite/btcd/wire"

	"github.com/fedvault/node/internal/abci"
	"github.com/fedvault/node/internal/oracle"
	"github.com/fedvault/node/internal/signing"
	"github.com/fedvault/node/internal/wallet"
	"github.com/fedvault/node/internal/wire"
)

// pendingWithdrawal is a quoted withdrawal awaiting the user's signed
// confirmation over its challenge (spec §4.4 withdrawal lifecycle step 1-2).
type pendingWithdrawal struct {
	amountSat  uint64
	feeSat     uint64
	addressTo  string
	userPubKey []byte
}

// signingWithdrawal is a withdrawal whose spend transaction has been built
// and handed to the signing manager as a coordinator session, awaiting the
// aggregated signature (spec §4.4 withdrawal lifecycle step 3).
type signingWithdrawal struct {
	tx         *btcwire.MsgTx
	feeSat     uint64
	amountSat  uint64
	userPubKey []byte
}

// withdrawalTable is the orchestrator's only mutable withdrawal state: the
// set of outstanding challenges and the set of in-flight signing sessions,
// each consumed exactly once.
type withdrawalTable struct {
	mu          sync.Mutex
	byChallenge map[[32]byte]pendingWithdrawal
	bySignID    map[uint64]signingWithdrawal
}

func newWithdrawalTable() *withdrawalTable {
	return &withdrawalTable{
		byChallenge: make(map[[32]byte]pendingWithdrawal),
		bySignID:    make(map[uint64]signingWithdrawal),
	}
}

func (t *withdrawalTable) putPending(challenge [32]byte, w pendingWithdrawal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byChallenge[challenge] = w
}

// takePending removes and returns the intent for challenge; a challenge is
// consumed whether or not the confirming signature turns out to be valid,
// so it can never be replayed (spec §4.4: "a challenge is single-use").
func (t *withdrawalTable) takePending(challenge [32]byte) (pendingWithdrawal, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.byChallenge[challenge]
	delete(t.byChallenge, challenge)
	return w, ok
}

func (t *withdrawalTable) putSigning(signID uint64, w signingWithdrawal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bySignID[signID] = w
}

func (t *withdrawalTable) takeSigning(signID uint64) (signingWithdrawal, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.bySignID[signID]
	delete(t.bySignID, signID)
	return w, ok
}

// handleWithdrawalEvent is the withdrawal stage of the handler chain: it
// services ProposeWithdrawal/ConfirmWithdrawal RPCs and mirrors a peer's
// completed withdrawal into this node's own chain state and wallet (spec
// §4.4 withdrawal lifecycle).
func (n *Node) handleWithdrawalEvent(ctx context.Context, ev wire.NetworkEvent) error {
	switch e := ev.(type) {
	case wire.RPCEvent:
		switch req := e.Request.(type) {
		case wire.ProposeWithdrawalRequest:
			reply(e.Reply, n.proposeWithdrawal(ctx, req))
		case wire.ConfirmWithdrawalRequest:
			reply(e.Reply, n.confirmWithdrawal(ctx, req))
		}
		return nil

	case wire.PeerBroadcastEvent:
		if e.Topic != wire.TopicWithdrawals {
			return nil
		}
		if msg, ok := e.Message.(wire.PendingSpendBroadcast); ok {
			return n.ingestPeerPendingSpend(ctx, msg.Payload)
		}
	}
	return nil
}

// proposeWithdrawal quotes the fee for a withdrawal by dry-running the
// spend, and issues a single-use challenge the client must sign with the
// account's private key to confirm it (spec §4.4 withdrawal lifecycle step
// 1).
func (n *Node) proposeWithdrawal(ctx context.Context, req wire.ProposeWithdrawalRequest) wire.SelfResponse {
	if n.wallet == nil {
		return wire.ErrorResponse{Err: fmt.Errorf("orchestrator: key generation has not completed")}
	}

	accountKey := accountKeyForUserPubKey(req.UserPubKey)
	balance := n.chain.State().BalanceOf(accountKey)
	if balance < req.AmountSat {
		return wire.ErrorResponse{Err: fmt.Errorf("orchestrator: insufficient balance")}
	}

	fee, err := n.oracle.EstimateFee(ctx, oracle.PriorityNormal)
	if err != nil {
		return wire.ErrorResponse{Err: err}
	}

	total, _, err := n.wallet.EstimateSpend(req.AmountSat, fee.SatPerVByte, req.AddressTo)
	if err != nil {
		return wire.ErrorResponse{Err: err}
	}
	if balance < total {
		return wire.ErrorResponse{Err: fmt.Errorf("orchestrator: insufficient balance to cover amount plus fee")}
	}
	feeSat := total - req.AmountSat

	challenge, err := wallet.NewWithdrawalChallenge()
	if err != nil {
		return wire.ErrorResponse{Err: err}
	}
	n.withdrawals.putPending(challenge, pendingWithdrawal{
		amountSat:  req.AmountSat,
		feeSat:     feeSat,
		addressTo:  req.AddressTo,
		userPubKey: req.UserPubKey,
	})

	return wire.ProposeWithdrawalResponse{QuotedFeeSat: feeSat, Total: total, Challenge: challenge}
}

// confirmWithdrawal verifies the user's signature over a previously-issued
// challenge, builds the real spend transaction, and starts a threshold
// signing session over its sighash (spec §4.4 withdrawal lifecycle step
// 2-3).
func (n *Node) confirmWithdrawal(ctx context.Context, req wire.ConfirmWithdrawalRequest) wire.SelfResponse {
	intent, ok := n.withdrawals.takePending(req.Challenge)
	if !ok {
		return wire.ErrorResponse{Err: fmt.Errorf("orchestrator: unknown or already-consumed challenge")}
	}

	userKey, err := btcec.ParsePubKey(intent.userPubKey)
	if err != nil {
		return wire.ErrorResponse{Err: fmt.Errorf("orchestrator: malformed user public key: %w", err)}
	}
	verified, err := wallet.VerifyWithdrawalConfirmation(userKey, req.Challenge, req.Signature)
	if err != nil {
		return wire.ErrorResponse{Err: err}
	}
	if !verified {
		return wire.ErrorResponse{Err: fmt.Errorf("orchestrator: invalid withdrawal confirmation signature")}
	}

	if n.wallet == nil {
		return wire.ErrorResponse{Err: fmt.Errorf("orchestrator: key generation has not completed")}
	}
	tx, sighash, err := n.wallet.CreateSpend(intent.amountSat, intent.feeSat, intent.addressTo)
	if err != nil {
		return wire.ErrorResponse{Err: err}
	}

	_, err = n.signer.StartSigningSession(ctx, sighash, func(signID uint64) {
		n.withdrawals.putSigning(signID, signingWithdrawal{
			tx:         tx,
			feeSat:     intent.feeSat,
			amountSat:  intent.amountSat,
			userPubKey: intent.userPubKey,
		})
	})
	if err != nil {
		return wire.ErrorResponse{Err: err}
	}

	return wire.ConfirmWithdrawalResponse{TxID: tx.TxHash().String()}
}

// handleSigningResult is the signing manager's completion callback. A
// completed session that isn't in the withdrawal table belongs to some
// other signing purpose and is ignored here (spec §2 handler convention:
// "ignore what's not mine"). For a withdrawal it finalises the
// transaction, broadcasts it, debits the account locally, and gossips the
// pending spend so every peer stays in lockstep (spec §4.4 withdrawal
// lifecycle step 3-4, grounded on handle_signed_withdrawal).
func (n *Node) handleSigningResult(result signing.Result) {
	sw, ok := n.withdrawals.takeSigning(result.SignID)
	if !ok {
		return
	}
	ctx := context.Background()

	wallet.AttachWitness(sw.tx, result.BIP340())

	var buf bytes.Buffer
	if err := sw.tx.Serialize(&buf); err != nil {
		n.log.Errorw("serialising signed withdrawal failed", "error", err)
		return
	}
	rawTx := buf.Bytes()

	if err := n.oracle.BroadcastTransaction(ctx, rawTx); err != nil {
		n.log.Errorw("broadcasting withdrawal transaction failed", "error", err)
	}

	accountKey := accountKeyForUserPubKey(sw.userPubKey)
	debit := sw.amountSat + sw.feeSat
	n.chain.SubmitTransaction(abci.Transaction{
		Type:    abci.TransactionWithdrawal,
		Version: abci.CurrentTransactionVersion,
		Ops: []abci.Op{
			abci.OpPush{Value: amountOperand(debit)},
			abci.OpPush{Value: []byte(accountKey)},
			abci.OpDecrementBalance{},
		},
	})

	payload, err := encodePendingSpend(pendingSpendGossip{RawTx: rawTx, UserPubKey: sw.userPubKey, FeeSat: sw.feeSat})
	if err != nil {
		n.log.Errorw("encoding pending-spend broadcast failed", "error", err)
		return
	}
	if err := n.net.Broadcast(ctx, wire.TopicWithdrawals, wire.PendingSpendBroadcast{Payload: payload}); err != nil {
		n.log.Errorw("broadcasting pending-spend record failed", "error", err)
	}
}

// pendingSpendGossip is the gob-encoded payload carried by
// wire.PendingSpendBroadcast, mirroring a PendingSpend record.
type pendingSpendGossip struct {
	RawTx      []byte
	UserPubKey []byte
	FeeSat     uint64
}

func encodePendingSpend(p pendingSpendGossip) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodePendingSpend(payload []byte) (pendingSpendGossip, error) {
	var p pendingSpendGossip
	err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&p)
	return p, err
}

// ingestPeerPendingSpend mirrors a peer-coordinated withdrawal locally: it
// relays the transaction, reconciles the wallet's UTXO set, and debits the
// same account the coordinator already debited on its own node (spec §4.4
// withdrawal lifecycle step 4, grounded on handle_withdrawl_message).
func (n *Node) ingestPeerPendingSpend(ctx context.Context, payload []byte) error {
	p, err := decodePendingSpend(payload)
	if err != nil {
		n.log.Warnw("dropping malformed pending-spend broadcast", "error", err)
		return nil
	}

	tx := btcwire.NewMsgTx(btcwire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(p.RawTx)); err != nil {
		n.log.Warnw("dropping unparsable pending-spend broadcast", "error", err)
		return nil
	}
	if len(tx.TxOut) == 0 {
		n.log.Warnw("dropping pending-spend broadcast with no outputs")
		return nil
	}

	if err := n.oracle.BroadcastTransaction(ctx, p.RawTx); err != nil {
		n.log.Warnw("relaying peer withdrawal transaction failed", "error", err)
	}
	if n.wallet != nil {
		n.wallet.IngestExternalTransaction(tx)
	}

	accountKey := accountKeyForUserPubKey(p.UserPubKey)
	debit := uint64(tx.TxOut[0].Value) + p.FeeSat
	n.chain.SubmitTransaction(abci.Transaction{
		Type:    abci.TransactionWithdrawal,
		Version: abci.CurrentTransactionVersion,
		Ops: []abci.Op{
			abci.OpPush{Value: amountOperand(debit)},
			abci.OpPush{Value: []byte(accountKey)},
			abci.OpDecrementBalance{},
		},
	})
	return nil
}
