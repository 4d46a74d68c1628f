// Package rpc exposes the orchestrator's internal SelfRequest/SelfResponse
// surface over gRPC (spec §6 "internal RPC surface"), grounded on the
// control-plane gRPC service in net/control.go, whose request/response types
// are generated from a protobuf schema (protobuf/drand). This surface is
// internal-only (its server and client are both in this module, started by
// cmd/node and dialled over localhost), so rather than hand-maintain a .proto schema for a single
// always-co-deployed envelope, it swaps gRPC's wire codec for one that
// gob-encodes the existing wire.SelfRequest/SelfResponse unions — reusing
// the same envelope-over-interface technique internal/network/codec.go
// already uses for direct messages, just carried over gRPC's framing and
// connection management instead of a hand-rolled length prefix.
package rpc

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/fedvault/node/internal/wire"
)

func init() {
	gob.Register(wire.SpendRequest{})
	gob.Register(wire.StartSigningSessionRequest{})
	gob.Register(wire.CreateDepositRequest{})
	gob.Register(wire.GetPendingDepositIntentsRequest{})
	gob.Register(wire.CheckBalanceRequest{})
	gob.Register(wire.ProposeWithdrawalRequest{})
	gob.Register(wire.ConfirmWithdrawalRequest{})
	gob.Register(wire.TriggerConsensusRoundRequest{})
	gob.Register(wire.ConfirmDepositRequest{})

	gob.Register(wire.SpendResponse{})
	gob.Register(wire.CreateDepositResponse{})
	gob.Register(wire.PendingDepositIntentsResponse{})
	gob.Register(wire.CheckBalanceResponse{})
	gob.Register(wire.ProposeWithdrawalResponse{})
	gob.Register(wire.ConfirmWithdrawalResponse{})
	gob.Register(wire.AckResponse{})
}

// requestEnvelope is the single message type every Call RPC carries,
// wrapping whichever concrete SelfRequest variant the caller issued.
type requestEnvelope struct {
	Request wire.SelfRequest
}

// responseEnvelope carries the reply. wire.ErrorResponse is never
// gob-registered or put in Response directly: encoding/gob cannot encode an
// arbitrary error value (the concrete type behind errors.New is an
// unexported struct), so an error response is flattened to a plain string
// and reconstructed with fmt.Errorf on the far side.
type responseEnvelope struct {
	Response wire.SelfResponse
	ErrMsg   string
}

func encodeResponse(resp wire.SelfResponse) responseEnvelope {
	if errResp, ok := resp.(wire.ErrorResponse); ok {
		msg := "unknown error"
		if errResp.Err != nil {
			msg = errResp.Err.Error()
		}
		return responseEnvelope{ErrMsg: msg}
	}
	return responseEnvelope{Response: resp}
}

func decodeResponse(env responseEnvelope) wire.SelfResponse {
	if env.ErrMsg != "" {
		return wire.ErrorResponse{Err: fmt.Errorf("%s", env.ErrMsg)}
	}
	return env.Response
}

// gobCodec implements google.golang.org/grpc/encoding.Codec, replacing
// protobuf on the wire with gob so the orchestrator's existing wire types
// can cross gRPC's framing unmodified.
type gobCodec struct{}

func (gobCodec) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("rpc: gob encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("rpc: gob decode: %w", err)
	}
	return nil
}

func (gobCodec) Name() string { return "gob" }
