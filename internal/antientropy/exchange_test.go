package antientropy

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kvring/internal/bkey"
	"kvring/internal/clock"
	"kvring/internal/storage"
	"kvring/internal/vnode"
)

func openTestVnode(t *testing.T, partition uint32) *vnode.Vnode {
	t.Helper()
	dataDir := t.TempDir()
	engine, err := storage.Open(filepath.Join(dataDir, "data.db"), storage.DefaultOpenOptions())
	require.NoError(t, err)
	v, err := vnode.Open(vnode.Config{DataDir: dataDir, Partition: partition, MerkleBranching: 4}, engine, vnode.NewNoopStats())
	require.NoError(t, err)
	t.Cleanup(func() { v.Close() })
	return v
}

// mutualRepair reconciles bk between a and b exactly as a two-vnode get
// coordinator in repair_mode would: read both,
// sync, write the result back to whichever side was behind.
func mutualRepair(a, b *vnode.Vnode) RepairFunc {
	return func(ctx context.Context, bk bkey.BKey) error {
		ca, errA := a.Read(bk)
		if errA != nil && errA != vnode.ErrNotFound {
			return errA
		}
		cb, errB := b.Read(bk)
		if errB != nil && errB != vnode.ErrNotFound {
			return errB
		}
		final := clock.Sync(ca, cb)
		if err := a.Repair(bk, final); err != nil {
			return err
		}
		return b.Repair(bk, final)
	}
}

func waitForTreeBuilt(t *testing.T, v *vnode.Vnode) {
	t.Helper()
	require.Eventually(t, v.TreeBuilt, time.Second, time.Millisecond)
}

func TestExchangeNoopWhenRootsMatch(t *testing.T) {
	a := openTestVnode(t, 0)
	b := openTestVnode(t, 1)
	waitForTreeBuilt(t, a)
	waitForTreeBuilt(t, b)

	n, err := Exchange(context.Background(), LocalPeer{V: a}, LocalPeer{V: b}, mutualRepair(a, b))
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestExchangeRefusedBeforeTreeBuilt(t *testing.T) {
	a := &notBuiltPeer{}
	b := &notBuiltPeer{}
	_, err := Exchange(context.Background(), a, b, func(context.Context, bkey.BKey) error { return nil })
	require.ErrorIs(t, err, ErrNotReady)
}

type notBuiltPeer struct{}

func (notBuiltPeer) TreeBuilt() bool                      { return false }
func (notBuiltPeer) RootHash() uint64                      { return 0 }
func (notBuiltPeer) InternalHashes() []uint64              { return nil }
func (notBuiltPeer) LeafHashesUnder(int) []uint64          { return nil }
func (notBuiltPeer) CandidateKeys(int) []bkey.BKey         { return nil }

func TestExchangeRepairsDivergedKey(t *testing.T) {
	a := openTestVnode(t, 0)
	b := openTestVnode(t, 1)
	waitForTreeBuilt(t, a)
	waitForTreeBuilt(t, b)

	bk := bkey.New("bucket", "k1")
	_, err := a.Write(bk, clock.Context{}, []byte("v1"), false)
	require.NoError(t, err)

	n, err := Exchange(context.Background(), LocalPeer{V: a}, LocalPeer{V: b}, mutualRepair(a, b))
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, 1)

	cb, err := b.Read(bk)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("v1")}, clock.Values(cb))
}

// Scenario E: a healed partition's 100 missed
// puts converge to the other replica within one exchange.
func TestScenarioE_AntiEntropyConvergesAfterPartitionHeals(t *testing.T) {
	a := openTestVnode(t, 0)
	b := openTestVnode(t, 1)
	waitForTreeBuilt(t, a)
	waitForTreeBuilt(t, b)

	for i := 0; i < 100; i++ {
		bk := bkey.New("bucket", fmt.Sprintf("k%d", i))
		_, err := a.Write(bk, clock.Context{}, []byte("v"), false)
		require.NoError(t, err)
	}

	for {
		n, err := Exchange(context.Background(), LocalPeer{V: a}, LocalPeer{V: b}, mutualRepair(a, b))
		require.NoError(t, err)
		if n == 0 {
			break
		}
	}

	for i := 0; i < 100; i++ {
		bk := bkey.New("bucket", fmt.Sprintf("k%d", i))
		cb, err := b.Read(bk)
		require.NoError(t, err)
		require.Equal(t, [][]byte{[]byte("v")}, clock.Values(cb))
	}
}
