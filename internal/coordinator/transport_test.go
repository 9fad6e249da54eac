package coordinator

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kvring/internal/bkey"
	"kvring/internal/clock"
	"kvring/internal/storage"
	"kvring/internal/vnode"
)

// vnodeTransport adapts a set of in-process vnodes to Transport, for
// coordinator tests exercising real storage/clock/Merkle behavior
// without an HTTP hop.
type vnodeTransport struct {
	nodes map[uint32]*vnode.Vnode
}

func (t *vnodeTransport) Read(_ context.Context, target ReplicaTarget, bk bkey.BKey) (clock.Clock, error) {
	v, ok := t.nodes[target.Partition]
	if !ok {
		return clock.Clock{}, vnode.ErrNotReady
	}
	return v.Read(bk)
}

func (t *vnodeTransport) Write(_ context.Context, target ReplicaTarget, bk bkey.BKey, cctx clock.Context, value []byte, tombstone bool) (clock.Context, error) {
	v, ok := t.nodes[target.Partition]
	if !ok {
		return nil, vnode.ErrNotReady
	}
	return v.Write(bk, cctx, value, tombstone)
}

func (t *vnodeTransport) Repair(_ context.Context, target ReplicaTarget, bk bkey.BKey, final clock.Clock) error {
	v, ok := t.nodes[target.Partition]
	if !ok {
		return vnode.ErrNotReady
	}
	return v.Repair(bk, final)
}

func (t *vnodeTransport) removeNode(partition uint32) { delete(t.nodes, partition) }

func newTestCluster(t *testing.T, n int) (*vnodeTransport, []ReplicaTarget) {
	t.Helper()
	transport := &vnodeTransport{nodes: make(map[uint32]*vnode.Vnode, n)}
	targets := make([]ReplicaTarget, n)
	for i := 0; i < n; i++ {
		dataDir := t.TempDir()
		engine, err := storage.Open(filepath.Join(dataDir, "data.db"), storage.DefaultOpenOptions())
		require.NoError(t, err)
		v, err := vnode.Open(vnode.Config{DataDir: dataDir, Partition: uint32(i), MerkleBranching: 4}, engine, vnode.NewNoopStats())
		require.NoError(t, err)
		t.Cleanup(func() { v.Close() })
		transport.nodes[uint32(i)] = v
		targets[i] = ReplicaTarget{Partition: uint32(i), Node: "n"}
	}
	return transport, targets
}

// slowTransport delays every call, for coordinator-timeout tests
// (scenario F).
type slowTransport struct {
	inner Transport
	delay time.Duration
}

func (s *slowTransport) Read(ctx context.Context, target ReplicaTarget, bk bkey.BKey) (clock.Clock, error) {
	time.Sleep(s.delay)
	return s.inner.Read(ctx, target, bk)
}

func (s *slowTransport) Write(ctx context.Context, target ReplicaTarget, bk bkey.BKey, cctx clock.Context, value []byte, tombstone bool) (clock.Context, error) {
	time.Sleep(s.delay)
	return s.inner.Write(ctx, target, bk, cctx, value, tombstone)
}

func (s *slowTransport) Repair(ctx context.Context, target ReplicaTarget, bk bkey.BKey, final clock.Clock) error {
	time.Sleep(s.delay)
	return s.inner.Repair(ctx, target, bk, final)
}

// failRatioTransport probabilistically drops inbound writes, simulating
// replica loss for coordinator fault-injection tests. Test-harness
// only: production wiring (cmd/server) never constructs one.
type failRatioTransport struct {
	inner Transport
	ratio float64
	rng   *rand.Rand
}

var errSimulatedDrop = errors.New("coordinator: simulated put drop")

func (f *failRatioTransport) Read(ctx context.Context, target ReplicaTarget, bk bkey.BKey) (clock.Clock, error) {
	return f.inner.Read(ctx, target, bk)
}

func (f *failRatioTransport) Write(ctx context.Context, target ReplicaTarget, bk bkey.BKey, cctx clock.Context, value []byte, tombstone bool) (clock.Context, error) {
	if f.rng.Float64() < f.ratio {
		return nil, errSimulatedDrop
	}
	return f.inner.Write(ctx, target, bk, cctx, value, tombstone)
}

func (f *failRatioTransport) Repair(ctx context.Context, target ReplicaTarget, bk bkey.BKey, final clock.Clock) error {
	return f.inner.Repair(ctx, target, bk, final)
}
