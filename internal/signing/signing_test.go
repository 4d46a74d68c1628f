package signing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"

	"github.com/fedvault/node/internal/dkg"
	"github.com/fedvault/node/internal/key"
	"github.com/fedvault/node/internal/log"
	"github.com/fedvault/node/internal/network"
	"github.com/fedvault/node/internal/validator"
)

func dkgThenSigning(t *testing.T, n, threshold int) ([]*Manager, map[validator.ID]*key.Share, *network.Hub, []*network.Local, []validator.ID) {
	t.Helper()
	infos := make([]*validator.Info, n)
	ids := make([]validator.ID, n)
	for i := 0; i < n; i++ {
		priv, err := secp256k1.GeneratePrivateKey()
		require.NoError(t, err)
		pub := priv.PubKey()
		id := validator.IDFromPublicKey(pub)
		infos[i] = &validator.Info{ID: id, PublicKey: pub}
		ids[i] = id
	}
	set := validator.NewSet(infos)
	hub := network.NewHub(log.DefaultLogger())

	var mu sync.Mutex
	shares := make(map[validator.ID]*key.Share)

	dkgProcs := make([]*dkg.Process, n)
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
		dkgProcs[i] = dkg.NewProcess(id, set, threshold, nets[i], log.DefaultLogger(), persist, load)
	}

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	for i := range dkgProcs {
		wg.Add(1)
		go func(p *dkg.Process, net *network.Local) {
			defer wg.Done()
			for {
				select {
				case ev := <-net.Events():
					_ = p.HandleEvent(ctx, ev)
				case <-ctx.Done():
					return
				}
			}
		}(dkgProcs[i], nets[i])
	}
	for _, p := range dkgProcs {
		require.NoError(t, p.Start(ctx))
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(shares) == n
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	wg.Wait()

	managers := make([]*Manager, n)
	for i, id := range ids {
		managers[i] = NewManager(id, set, threshold, shares[id], nets[i], log.DefaultLogger())
	}
	return managers, shares, hub, nets, ids
}

func runSigningEventLoops(ctx context.Context, managers []*Manager, nets []*network.Local) *sync.WaitGroup {
	var wg sync.WaitGroup
	for i := range managers {
		wg.Add(1)
		go func(m *Manager, net *network.Local) {
			defer wg.Done()
			for {
				select {
				case ev := <-net.Events():
					_ = m.HandleEvent(ctx, ev)
				case <-ctx.Done():
					return
				}
			}
		}(managers[i], nets[i])
	}
	return &wg
}

func TestThresholdSigningProducesVerifiableSignature(t *testing.T) {
	managers, shares, _, nets, ids := dkgThenSigning(t, 3, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := runSigningEventLoops(ctx, managers, nets)
	defer wg.Wait()
	defer cancel()

	var resultMu sync.Mutex
	var result *Result
	managers[0].OnSigned(func(r Result) {
		resultMu.Lock()
		result = &r
		resultMu.Unlock()
	})

	var message [32]byte
	copy(message[:], []byte("threshold-signing-scenario-test"))
	signID, err := managers[0].StartSigningSession(ctx, message, nil)
	require.NoError(t, err)
	require.NotZero(t, signID)

	require.Eventually(t, func() bool {
		resultMu.Lock()
		defer resultMu.Unlock()
		return result != nil
	}, 5*time.Second, 10*time.Millisecond)

	resultMu.Lock()
	defer resultMu.Unlock()
	require.Equal(t, signID, result.SignID)
	require.True(t, Verify(shares[ids[0]].Public.GroupKey, message, result.R, result.Z))
}

func TestStartingSecondCoordinatorSessionFails(t *testing.T) {
	managers, _, _, nets, _ := dkgThenSigning(t, 3, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := runSigningEventLoops(ctx, managers, nets)
	defer wg.Wait()
	defer cancel()

	var message [32]byte
	_, err := managers[0].StartSigningSession(ctx, message, nil)
	require.NoError(t, err)

	_, err = managers[0].StartSigningSession(ctx, message, nil)
	require.ErrorIs(t, err, ErrSessionActive)
}
