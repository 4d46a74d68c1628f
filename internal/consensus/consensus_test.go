package consensus

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"

	"github.com/fedvault/node/internal/abci"
	"github.com/fedvault/node/internal/log"
	"github.com/fedvault/node/internal/network"
	"github.com/fedvault/node/internal/oracle"
	"github.com/fedvault/node/internal/storage"
	"github.com/fedvault/node/internal/validator"
	"github.com/fedvault/node/internal/wire"
)

func newTestSet(t *testing.T, n int) (*validator.Set, []validator.ID) {
	t.Helper()
	infos := make([]*validator.Info, n)
	ids := make([]validator.ID, n)
	for i := 0; i < n; i++ {
		priv, err := secp256k1.GeneratePrivateKey()
		require.NoError(t, err)
		id := validator.IDFromPublicKey(priv.PubKey())
		infos[i] = &validator.Info{ID: id, PublicKey: priv.PubKey()}
		ids[i] = id
	}
	return validator.NewSet(infos), ids
}

func newTestManagers(t *testing.T, n int) ([]*Manager, []*network.Local, []*abci.Chain) {
	t.Helper()
	set, ids := newTestSet(t, n)
	hub := network.NewHub(log.DefaultLogger())

	managers := make([]*Manager, n)
	nets := make([]*network.Local, n)
	chains := make([]*abci.Chain, n)
	for i, id := range ids {
		nets[i] = network.NewLocal(hub, id)
		store, err := storage.Open(t.TempDir(), log.DefaultLogger())
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		chain, err := abci.NewChain(store, oracle.NewMock(), log.DefaultLogger())
		require.NoError(t, err)
		chains[i] = chain

		mgr, err := NewManager(id, set, nets[i], chain, log.DefaultLogger())
		require.NoError(t, err)
		require.NoError(t, mgr.Subscribe())
		managers[i] = mgr
	}
	return managers, nets, chains
}

func runEventLoops(ctx context.Context, managers []*Manager, nets []*network.Local) *sync.WaitGroup {
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

func TestConsensusFinalisesFirstBlockAcrossFourValidators(t *testing.T) {
	managers, nets, _ := newTestManagers(t, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := runEventLoops(ctx, managers, nets)
	defer wg.Wait()
	defer cancel()

	require.NoError(t, managers[0].Bootstrap(ctx))

	require.Eventually(t, func() bool {
		for _, m := range managers {
			if m.Height() != 1 {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)
}

func TestLeaderRotatesByRoundModuloN(t *testing.T) {
	set, ids := newTestSet(t, 3)
	canonical := append([]validator.ID(nil), ids...)
	sort.Slice(canonical, func(i, j int) bool { return canonical[i] < canonical[j] })
	for round := uint64(0); round < 6; round++ {
		expected := set.At(int(round))
		require.Equal(t, canonical[int(round)%3], expected.ID)
	}
}

func TestVoteFromNonValidatorIsIgnored(t *testing.T) {
	managers, nets, _ := newTestManagers(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := runEventLoops(ctx, managers, nets)
	defer wg.Wait()
	defer cancel()

	require.NoError(t, managers[0].Bootstrap(ctx))
	time.Sleep(50 * time.Millisecond)

	foreign, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	stranger := validator.IDFromPublicKey(foreign.PubKey())

	managers[0].mu.Lock()
	round := managers[0].currentRound
	before := len(managers[0].prevotes)
	managers[0].mu.Unlock()

	require.NoError(t, managers[0].tallyVote(ctx, wire.Vote{
		Round: round,
		Voter: stranger,
		Kind:  wire.VotePrevote,
	}))

	managers[0].mu.Lock()
	after := len(managers[0].prevotes)
	managers[0].mu.Unlock()
	require.Equal(t, before, after, "a non-validator's vote must not be tallied")
}
