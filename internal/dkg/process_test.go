package dkg

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"

	"github.com/fedvault/node/internal/key"
	"github.com/fedvault/node/internal/log"
	"github.com/fedvault/node/internal/network"
	"github.com/fedvault/node/internal/validator"
	"github.com/fedvault/node/internal/wire"
)

func testValidatorSet(t *testing.T, n int) (*validator.Set, []validator.ID) {
	t.Helper()
	infos := make([]*validator.Info, n)
	ids := make([]validator.ID, n)
	for i := 0; i < n; i++ {
		priv, err := secp256k1.GeneratePrivateKey()
		require.NoError(t, err)
		pub := priv.PubKey()
		id := validator.IDFromPublicKey(pub)
		infos[i] = &validator.Info{ID: id, PublicKey: pub, Name: string(rune('A' + i))}
		ids[i] = id
	}
	return validator.NewSet(infos), ids
}

// runAllDKG drives n processes to completion over a shared in-memory Hub,
// running each process' event loop in its own goroutine, and returns the
// persisted key.Share for each validator keyed by ID once every node has
// finished (or the test times out).
func runAllDKG(t *testing.T, n, threshold int) map[validator.ID]*key.Share {
	t.Helper()
	set, ids := testValidatorSet(t, n)
	hub := network.NewHub(log.DefaultLogger())

	var mu sync.Mutex
	shares := make(map[validator.ID]*key.Share)

	procs := make([]*Process, n)
	nets := make([]*network.Local, n)
	for i, id := range ids {
		nets[i] = network.NewLocal(hub, id)
		persisted := false
		persist := func(s *key.Share) error {
			mu.Lock()
			shares[s.ValidatorID] = s
			mu.Unlock()
			persisted = true
			return nil
		}
		load := func() (*key.Share, bool) {
			if persisted {
				mu.Lock()
				s := shares[id]
				mu.Unlock()
				return s, true
			}
			return nil, false
		}
		procs[i] = NewProcess(id, set, threshold, nets[i], log.DefaultLogger(), persist, load)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i := range procs {
		wg.Add(1)
		go func(p *Process, net *network.Local) {
			defer wg.Done()
			for {
				select {
				case ev := <-net.Events():
					_ = p.HandleEvent(ctx, ev)
				case <-ctx.Done():
					return
				}
			}
		}(procs[i], nets[i])
	}

	for _, p := range procs {
		require.NoError(t, p.Start(ctx))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(shares) == n
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	wg.Wait()
	return shares
}

func TestDKGCompletesThreeOfThree(t *testing.T) {
	shares := runAllDKG(t, 3, 2)
	require.Len(t, shares, 3)

	var want *key.PublicKeyPackage
	for _, s := range shares {
		require.NotNil(t, s.Secret)
		if want == nil {
			want = s.Public
			continue
		}
		require.True(t, want.Equal(s.Public), "all nodes must agree on the public key package")
	}
}

func TestDuplicateRound1PackageIsIdempotent(t *testing.T) {
	set, ids := testValidatorSet(t, 3)
	hub := network.NewHub(log.DefaultLogger())
	net := network.NewLocal(hub, ids[0])
	p := NewProcess(ids[0], set, 2, net, log.DefaultLogger(),
		func(*key.Share) error { return nil },
		func() (*key.Share, bool) { return nil, false })

	ctx := context.Background()
	require.NoError(t, p.Start(ctx))
	// Enter round 1 directly so this node's own commitment is in place and a
	// peer's round-1 package is accepted rather than dropped as early.
	require.NoError(t, p.beginRound1(ctx))

	poly, err := newPolynomial(1)
	require.NoError(t, err)
	commitments := poly.commitments()
	serialized := make([][]byte, len(commitments))
	for i, c := range commitments {
		serialized[i] = c.SerializeCompressed()
	}
	payload, err := encodeGob(round1Payload{From: ids[1], Commitments: serialized})
	require.NoError(t, err)

	// Deliver the same round-1 package twice; the second must be a no-op and
	// must not panic or double-count membership.
	ev := wire.PeerBroadcastEvent{
		Topic:   wire.TopicRound1,
		From:    ids[1],
		Message: wire.DkgBroadcast{Payload: payload},
	}
	require.NoError(t, p.HandleEvent(ctx, ev))
	require.NoError(t, p.HandleEvent(ctx, ev))

	p.mu.Lock()
	count := len(p.commitments)
	p.mu.Unlock()
	require.Equal(t, 2, count) // self + ids[1], duplicate dropped
}
