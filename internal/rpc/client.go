package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"

	"github.com/fedvault/node/internal/wire"
)

// Client issues requests to a localhost node's internal RPC surface,
// grounded on net/control.go's ControlClient.
type Client struct {
	conn   *grpc.ClientConn
	client ControlServer
}

// clientStub adapts the generated-by-hand ControlServer method shape onto a
// grpc.ClientConn, the way protoc-gen-go would emit a *controlClient.
type clientStub struct {
	cc *grpc.ClientConn
}

func (c *clientStub) Call(ctx context.Context, in *requestEnvelope) (*responseEnvelope, error) {
	out := new(responseEnvelope)
	if err := c.cc.Invoke(ctx, "/rpc.Control/Call", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// NewClient dials a node's internal RPC surface at "localhost:port".
func NewClient(port string) (*Client, error) {
	addr := fmt.Sprintf("localhost:%s", port)
	conn, err := grpc.Dial(addr,
		grpc.WithInsecure(), //nolint:staticcheck // internal loopback surface only, matches net/control.go's client dial options
		grpc.WithDefaultCallOptions(grpc.ForceCodec(gobCodec{})),
	)
	if err != nil {
		return nil, fmt.Errorf("rpc: dialing %s: %w", addr, err)
	}
	return &Client{conn: conn, client: &clientStub{cc: conn}}, nil
}

// Close tears down the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// Call issues req and returns the orchestrator's response, unwrapped from
// its envelope.
func (c *Client) Call(ctx context.Context, req wire.SelfRequest) (wire.SelfResponse, error) {
	env, err := c.client.Call(ctx, &requestEnvelope{Request: req})
	if err != nil {
		return nil, err
	}
	return decodeResponse(*env), nil
}

// CheckBalance queries a settled account balance.
func (c *Client) CheckBalance(ctx context.Context, address string) (wire.CheckBalanceResponse, error) {
	resp, err := c.Call(ctx, wire.CheckBalanceRequest{Address: address})
	if err != nil {
		return wire.CheckBalanceResponse{}, err
	}
	return asResponse[wire.CheckBalanceResponse](resp)
}

// CreateDeposit requests a fresh deposit address for a user.
func (c *Client) CreateDeposit(ctx context.Context, userPubKey []byte, amountSat uint64) (wire.CreateDepositResponse, error) {
	resp, err := c.Call(ctx, wire.CreateDepositRequest{UserPubKey: userPubKey, AmountSat: amountSat})
	if err != nil {
		return wire.CreateDepositResponse{}, err
	}
	return asResponse[wire.CreateDepositResponse](resp)
}

// ProposeWithdrawal requests a fee quote and challenge for a withdrawal.
func (c *Client) ProposeWithdrawal(ctx context.Context, req wire.ProposeWithdrawalRequest) (wire.ProposeWithdrawalResponse, error) {
	resp, err := c.Call(ctx, req)
	if err != nil {
		return wire.ProposeWithdrawalResponse{}, err
	}
	return asResponse[wire.ProposeWithdrawalResponse](resp)
}

// ConfirmWithdrawal submits the user's signature over a previously-issued
// challenge.
func (c *Client) ConfirmWithdrawal(ctx context.Context, req wire.ConfirmWithdrawalRequest) (wire.ConfirmWithdrawalResponse, error) {
	resp, err := c.Call(ctx, req)
	if err != nil {
		return wire.ConfirmWithdrawalResponse{}, err
	}
	return asResponse[wire.ConfirmWithdrawalResponse](resp)
}

// TriggerConsensusRound forces a new consensus round to begin.
func (c *Client) TriggerConsensusRound(ctx context.Context) error {
	resp, err := c.Call(ctx, wire.TriggerConsensusRoundRequest{ForceRound: true})
	if err != nil {
		return err
	}
	_, err = asResponse[wire.AckResponse](resp)
	return err
}

// asResponse downcasts resp to T, surfacing an ErrorResponse's wrapped
// error as a Go error instead of a silent zero value.
func asResponse[T wire.SelfResponse](resp wire.SelfResponse) (T, error) {
	var zero T
	if errResp, ok := resp.(wire.ErrorResponse); ok {
		return zero, errResp.Err
	}
	t, ok := resp.(T)
	if !ok {
		return zero, fmt.Errorf("rpc: unexpected response type %T", resp)
	}
	return t, nil
}
