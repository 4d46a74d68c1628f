package network

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fedvault/node/internal/log"
	"github.com/fedvault/node/internal/validator"
	"github.com/fedvault/node/internal/wire"
)

func TestLocalSendDirectDeliversToRegisteredPeer(t *testing.T) {
	hub := NewHub(log.DefaultLogger())
	a := NewLocal(hub, validator.ID("a"))
	b := NewLocal(hub, validator.ID("b"))

	require.NoError(t, a.SendDirect(context.Background(), validator.ID("b"), wire.Ping{}))

	ev := <-b.Events()
	direct, ok := ev.(wire.PeerDirectEvent)
	require.True(t, ok)
	require.Equal(t, validator.ID("a"), direct.From)
	require.IsType(t, wire.Ping{}, direct.Message)
}

func TestLocalSendDirectToUnknownPeerErrors(t *testing.T) {
	hub := NewHub(log.DefaultLogger())
	a := NewLocal(hub, validator.ID("a"))

	err := a.SendDirect(context.Background(), validator.ID("ghost"), wire.Ping{})
	require.ErrorIs(t, err, ErrPeerNotRegistered)
}

func TestLocalBroadcastOnlyReachesSubscribers(t *testing.T) {
	hub := NewHub(log.DefaultLogger())
	a := NewLocal(hub, validator.ID("a"))
	b := NewLocal(hub, validator.ID("b"))
	c := NewLocal(hub, validator.ID("c"))

	require.NoError(t, a.Subscribe("topic"))
	require.NoError(t, b.Subscribe("topic"))
	// c never subscribes.

	require.NoError(t, a.Broadcast(context.Background(), "topic", wire.BlockBroadcast{Payload: []byte("x")}))

	ev := <-b.Events()
	bc, ok := ev.(wire.PeerBroadcastEvent)
	require.True(t, ok)
	require.Equal(t, "topic", bc.Topic)
	require.Equal(t, validator.ID("a"), bc.From)

	select {
	case <-c.Events():
		t.Fatal("non-subscriber should not receive the broadcast")
	default:
	}
}

func TestLocalCloseRemovesFromHub(t *testing.T) {
	hub := NewHub(log.DefaultLogger())
	a := NewLocal(hub, validator.ID("a"))
	b := NewLocal(hub, validator.ID("b"))

	require.NoError(t, a.Close())
	err := b.SendDirect(context.Background(), validator.ID("a"), wire.Ping{})
	require.ErrorIs(t, err, ErrPeerNotRegistered)
}
