package orchestrator

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/fedvault/node/internal/abci"
	"github.com/fedvault/node/internal/wire"
)

// handleControlEvent services the remaining RPC surface that isn't tied to
// deposits or withdrawals: balance queries, a raw manual spend, a raw
// manual signing session, and forcing a new consensus round (spec §6).
func (n *Node) handleControlEvent(ctx context.Context, ev wire.NetworkEvent) error {
	e, ok := ev.(wire.RPCEvent)
	if !ok {
		return nil
	}
	switch req := e.Request.(type) {
	case wire.CheckBalanceRequest:
		reply(e.Reply, n.checkBalance(req))
	case wire.SpendRequest:
		reply(e.Reply, n.spend(ctx, req))
	case wire.StartSigningSessionRequest:
		reply(e.Reply, n.startSigningSession(ctx, req))
	case wire.TriggerConsensusRoundRequest:
		reply(e.Reply, n.triggerConsensusRound(ctx))
	}
	return nil
}

func (n *Node) checkBalance(req wire.CheckBalanceRequest) wire.SelfResponse {
	balance := n.chain.State().BalanceOf(abci.Address(req.Address))
	return wire.CheckBalanceResponse{BalanceSat: balance}
}

// spend performs an unchallenged, admin-triggered withdrawal: it debits
// req.UserPubKey directly rather than going through the propose/confirm
// challenge dance withdrawal.go implements for client-facing requests.
func (n *Node) spend(ctx context.Context, req wire.SpendRequest) wire.SelfResponse {
	if n.wallet == nil {
		return wire.ErrorResponse{Err: fmt.Errorf("orchestrator: key generation has not completed")}
	}
	accountKey := accountKeyForUserPubKey(req.UserPubKey)
	balance := n.chain.State().BalanceOf(accountKey)
	if total := req.AmountSat + req.FeeSat; balance < total {
		return wire.ErrorResponse{Err: fmt.Errorf("orchestrator: insufficient balance")}
	}

	tx, sighash, err := n.wallet.CreateSpend(req.AmountSat, req.FeeSat, req.AddressTo)
	if err != nil {
		return wire.ErrorResponse{Err: err}
	}
	_, err = n.signer.StartSigningSession(ctx, sighash, func(signID uint64) {
		n.withdrawals.putSigning(signID, signingWithdrawal{
			tx:         tx,
			feeSat:     req.FeeSat,
			amountSat:  req.AmountSat,
			userPubKey: req.UserPubKey,
		})
	})
	if err != nil {
		return wire.ErrorResponse{Err: err}
	}
	return wire.SpendResponse{TxID: tx.TxHash().String()}
}

// startSigningSession begins a threshold signing session over an arbitrary
// caller-supplied 32-byte digest, bypassing the wallet entirely. Used by
// operators exercising the signing protocol directly (e.g. co-signing a
// message unrelated to a vault spend). The caller observes completion
// through its own OnSigned hook; this RPC only reports that the session
// started.
func (n *Node) startSigningSession(ctx context.Context, req wire.StartSigningSessionRequest) wire.SelfResponse {
	raw, err := hex.DecodeString(req.HexMessage)
	if err != nil || len(raw) != 32 {
		return wire.ErrorResponse{Err: fmt.Errorf("orchestrator: hex_message must decode to exactly 32 bytes")}
	}
	var message [32]byte
	copy(message[:], raw)

	signID, err := n.signer.StartSigningSession(ctx, message, nil)
	if err != nil {
		return wire.ErrorResponse{Err: err}
	}
	n.log.Infow("started manual signing session", "sign_id", signID)
	return wire.AckResponse{}
}

func (n *Node) triggerConsensusRound(ctx context.Context) wire.SelfResponse {
	if err := n.consMgr.ForceNewRound(ctx); err != nil {
		return wire.ErrorResponse{Err: err}
	}
	return wire.AckResponse{}
}
