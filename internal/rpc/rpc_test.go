package rpc

import (
	"context"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fedvault/node/internal/log"
	"github.com/fedvault/node/internal/wire"
)

// fakeDispatcher stands in for *orchestrator.Node: it echoes back a
// canned response per request type without any chain/wallet/signing state.
type fakeDispatcher struct {
	onDispatch func(req wire.SelfRequest) wire.SelfResponse
}

func (f *fakeDispatcher) Dispatch(_ context.Context, req wire.SelfRequest) wire.SelfResponse {
	return f.onDispatch(req)
}

func startTestServer(t *testing.T, d Dispatcher) string {
	t.Helper()
	srv, err := NewServer(d, "0", log.DefaultLogger())
	require.NoError(t, err)
	go func() {
		_ = srv.Serve()
	}()
	t.Cleanup(srv.Stop)

	_, port, err := net.SplitHostPort(srv.Addr())
	require.NoError(t, err)
	return port
}

func dialTestClient(t *testing.T, port string) *Client {
	t.Helper()
	c, err := NewClient(port)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCallRoundTripsCheckBalance(t *testing.T) {
	d := &fakeDispatcher{onDispatch: func(req wire.SelfRequest) wire.SelfResponse {
		cb, ok := req.(wire.CheckBalanceRequest)
		require.True(t, ok)
		require.Equal(t, "some-account", cb.Address)
		return wire.CheckBalanceResponse{BalanceSat: 4200}
	}}
	port := startTestServer(t, d)
	client := dialTestClient(t, port)

	resp, err := client.CheckBalance(context.Background(), "some-account")
	require.NoError(t, err)
	require.Equal(t, uint64(4200), resp.BalanceSat)
}

func TestCallSurfacesErrorResponseAsGoError(t *testing.T) {
	d := &fakeDispatcher{onDispatch: func(req wire.SelfRequest) wire.SelfResponse {
		return wire.ErrorResponse{Err: fmt.Errorf("orchestrator: insufficient balance")}
	}}
	port := startTestServer(t, d)
	client := dialTestClient(t, port)

	_, err := client.CreateDeposit(context.Background(), []byte{0x02, 0x03}, 1000)
	require.Error(t, err)
	require.Contains(t, err.Error(), "insufficient balance")
}

func TestCallRoundTripsProposeAndConfirmWithdrawal(t *testing.T) {
	d := &fakeDispatcher{onDispatch: func(req wire.SelfRequest) wire.SelfResponse {
		switch r := req.(type) {
		case wire.ProposeWithdrawalRequest:
			require.Equal(t, uint64(500), r.AmountSat)
			return wire.ProposeWithdrawalResponse{QuotedFeeSat: 10, Total: 510, Challenge: [32]byte{1, 2, 3}}
		case wire.ConfirmWithdrawalRequest:
			require.Equal(t, [32]byte{1, 2, 3}, r.Challenge)
			return wire.ConfirmWithdrawalResponse{TxID: "deadbeef"}
		}
		return wire.ErrorResponse{Err: fmt.Errorf("unexpected request %T", req)}
	}}
	port := startTestServer(t, d)
	client := dialTestClient(t, port)

	proposeResp, err := client.ProposeWithdrawal(context.Background(), wire.ProposeWithdrawalRequest{AmountSat: 500, AddressTo: "addr"})
	require.NoError(t, err)
	require.Equal(t, uint64(10), proposeResp.QuotedFeeSat)

	confirmResp, err := client.ConfirmWithdrawal(context.Background(), wire.ConfirmWithdrawalRequest{Challenge: proposeResp.Challenge, Signature: []byte{0xAA}})
	require.NoError(t, err)
	require.Equal(t, "deadbeef", confirmResp.TxID)
}

func TestCallRoundTripsTriggerConsensusRound(t *testing.T) {
	var received wire.SelfRequest
	d := &fakeDispatcher{onDispatch: func(req wire.SelfRequest) wire.SelfResponse {
		received = req
		return wire.AckResponse{}
	}}
	port := startTestServer(t, d)
	client := dialTestClient(t, port)

	require.NoError(t, client.TriggerConsensusRound(context.Background()))
	tr, ok := received.(wire.TriggerConsensusRoundRequest)
	require.True(t, ok)
	require.True(t, tr.ForceRound)
}
