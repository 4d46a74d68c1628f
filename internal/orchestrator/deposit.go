package orchestrator

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	btcwire "github.com/btcsuite/btcd/wire"

	"github.com/fedvault/node/internal/abci"
	"github.com/fedvault/node/internal/wire"
)

// amountOperand encodes a sat amount the way OpCheckOracle/OpIncrementBalance/
// OpDecrementBalance expect to pop it: 8 bytes, big-endian.
func amountOperand(amountSat uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], amountSat)
	return b[:]
}

// accountKeyForUserPubKey is the canonical ChainState account key for a
// client-supplied public key: every component that touches a balance
// (deposit credit, withdrawal debit, CheckBalance) must derive the key the
// same way.
func accountKeyForUserPubKey(pub []byte) abci.Address {
	return abci.Address(hex.EncodeToString(pub))
}

// handleDepositEvent is the deposit stage of the handler chain: it
// services CreateDeposit RPCs and folds oracle-confirmed payments into the
// pending block (spec §4.4 deposit lifecycle).
func (n *Node) handleDepositEvent(ctx context.Context, ev wire.NetworkEvent) error {
	switch e := ev.(type) {
	case wire.RPCEvent:
		switch req := e.Request.(type) {
		case wire.CreateDepositRequest:
			reply(e.Reply, n.createDeposit(ctx, req))
		case wire.GetPendingDepositIntentsRequest:
			reply(e.Reply, n.pendingDepositIntents())
		case wire.ConfirmDepositRequest:
			reply(e.Reply, n.confirmDeposit(ctx, req.ConfirmedTx))
		}
		return nil

	case wire.OracleDepositConfirmedEvent:
		_ = n.confirmDeposit(ctx, e.ConfirmedTx)
		return nil

	case wire.PeerBroadcastEvent:
		if e.Topic != wire.TopicDepositIntents {
			return nil
		}
		if msg, ok := e.Message.(wire.DepositIntentBroadcast); ok {
			return n.ingestPeerDepositIntent(msg.Payload)
		}
	}
	return nil
}

func (n *Node) createDeposit(ctx context.Context, req wire.CreateDepositRequest) wire.SelfResponse {
	if n.wallet == nil {
		return wire.ErrorResponse{Err: fmt.Errorf("orchestrator: key generation has not completed")}
	}

	trackingID := freshTrackingID()
	address, err := n.wallet.NewDepositAddress(trackingID)
	if err != nil {
		return wire.ErrorResponse{Err: err}
	}

	intent := &abci.DepositIntent{
		TrackingID:     trackingID,
		DepositAddress: address,
		UserPubKey:     req.UserPubKey,
		AmountSat:      req.AmountSat,
	}
	if err := n.chain.RegisterDepositIntent(intent); err != nil {
		return wire.ErrorResponse{Err: err}
	}
	n.oracle.RegisterAddress(address)

	payload, err := encodeDepositIntent(intent)
	if err == nil {
		_ = n.net.Broadcast(ctx, wire.TopicDepositIntents, wire.DepositIntentBroadcast{Payload: payload})
	}

	return wire.CreateDepositResponse{TrackingID: trackingID, DepositAddress: address}
}

func (n *Node) pendingDepositIntents() wire.SelfResponse {
	ids, err := n.chain.PendingDepositIntentTrackingIDs()
	if err != nil {
		return wire.ErrorResponse{Err: err}
	}
	return wire.PendingDepositIntentsResponse{TrackingIDs: ids}
}

// ingestPeerDepositIntent mirrors a peer-broadcast deposit intent locally:
// the wallet must watch the address so it recognises the eventual payment
// even though this node did not itself derive it.
func (n *Node) ingestPeerDepositIntent(payload []byte) error {
	intent, err := decodeDepositIntentPayload(payload)
	if err != nil {
		n.log.Warnw("dropping malformed deposit-intent broadcast", "error", err)
		return nil
	}
	if n.wallet != nil {
		n.wallet.RegisterAddress(intent.DepositAddress)
	}
	n.oracle.RegisterAddress(intent.DepositAddress)
	return n.chain.RegisterDepositIntent(intent)
}

// confirmDeposit locates the intent a confirmed transaction pays and
// submits a Deposit transaction (OpCheckOracle, OpIncrementBalance) that
// atomically attests and credits the user's account (spec §4.4 deposit
// lifecycle step 2).
func (n *Node) confirmDeposit(ctx context.Context, rawTx []byte) wire.SelfResponse {
	tx := btcwire.NewMsgTx(btcwire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(rawTx)); err != nil {
		return wire.ErrorResponse{Err: err}
	}
	txHash := tx.TxHash()

	credited := 0
	for vout, out := range tx.TxOut {
		_, addrs, _, err := txscript.ExtractPkScriptAddrs(out.PkScript, n.netParams)
		if err != nil || len(addrs) != 1 {
			continue
		}
		address := addrs[0].EncodeAddress()

		intent, ok := n.chain.DepositIntentByAddress(address)
		if !ok {
			continue
		}

		var hash [32]byte
		copy(hash[:], txHash[:])

		// OpCheckOracle and OpIncrementBalance share one allowance map keyed
		// by the same address operand, so both pushes use the account key
		// (not the deposit address) — the oracle attests that txHash pays
		// amount to this account, and the same key is credited.
		accountKey := accountKeyForUserPubKey(intent.UserPubKey)
		vmTx := abci.Transaction{
			Type:    abci.TransactionDeposit,
			Version: abci.CurrentTransactionVersion,
			Ops: []abci.Op{
				abci.OpPush{Value: amountOperand(uint64(out.Value))},
				abci.OpPush{Value: []byte(accountKey)},
				abci.OpPush{Value: hash[:]},
				abci.OpCheckOracle{},
				abci.OpPush{Value: amountOperand(uint64(out.Value))},
				abci.OpPush{Value: []byte(accountKey)},
				abci.OpIncrementBalance{},
			},
		}
		n.chain.SubmitTransaction(vmTx)

		if n.wallet != nil {
			_ = n.wallet.ApplyConfirmedDeposit(txHash, uint32(vout), address, uint64(out.Value))
		}
		credited++
	}

	if credited == 0 {
		return wire.ErrorResponse{Err: fmt.Errorf("orchestrator: confirmed transaction pays no registered deposit address")}
	}
	return wire.AckResponse{}
}

func encodeDepositIntent(intent *abci.DepositIntent) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(intent); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeDepositIntentPayload(payload []byte) (*abci.DepositIntent, error) {
	var intent abci.DepositIntent
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

func reply(ch chan<- wire.SelfResponse, resp wire.SelfResponse) {
	if ch == nil {
		return
	}
	select {
	case ch <- resp:
	default:
	}
}
