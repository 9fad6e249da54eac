package vnode

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kvring/internal/bkey"
	"kvring/internal/clock"
	"kvring/internal/storage"
)

func openTestVnode(t *testing.T, partition uint32) *Vnode {
	t.Helper()
	dataDir := t.TempDir()
	engine, err := storage.Open(filepath.Join(dataDir, "data.db"), storage.DefaultOpenOptions())
	require.NoError(t, err)

	v, err := Open(Config{DataDir: dataDir, Partition: partition, MerkleBranching: 4}, engine, NewNoopStats())
	require.NoError(t, err)
	t.Cleanup(func() { v.Close() })
	return v
}

func TestReadMissingKeyReturnsNotFound(t *testing.T) {
	v := openTestVnode(t, 0)
	_, err := v.Read(bkey.New("b", "missing"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestWriteThenRead(t *testing.T) {
	v := openTestVnode(t, 0)
	bk := bkey.New("b", "k1")

	_, err := v.Write(bk, clock.Context{}, []byte("v1"), false)
	require.NoError(t, err)

	c, err := v.Read(bk)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("v1")}, clock.Values(c))
}

func TestWriteWithObservedContextSupersedesPriorValue(t *testing.T) {
	v := openTestVnode(t, 0)
	bk := bkey.New("b", "k1")

	ctx1, err := v.Write(bk, clock.Context{}, []byte("v1"), false)
	require.NoError(t, err)

	_, err = v.Write(bk, ctx1, []byte("v2"), false)
	require.NoError(t, err)

	c, err := v.Read(bk)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("v2")}, clock.Values(c))
}

func TestBlindConcurrentWritesProduceSiblings(t *testing.T) {
	v := openTestVnode(t, 0)
	bk := bkey.New("b", "k1")

	_, err := v.Write(bk, clock.Context{}, []byte("A"), false)
	require.NoError(t, err)
	_, err = v.Write(bk, clock.Context{}, []byte("B"), false)
	require.NoError(t, err)

	c, err := v.Read(bk)
	require.NoError(t, err)
	require.Len(t, clock.Values(c), 2)
}

func TestDeleteTombstoneSuppressesValues(t *testing.T) {
	v := openTestVnode(t, 0)
	bk := bkey.New("b", "k1")

	ctx, err := v.Write(bk, clock.Context{}, []byte("v1"), false)
	require.NoError(t, err)

	_, err = v.Write(bk, ctx, clock.Tombstone, true)
	require.NoError(t, err)

	c, err := v.Read(bk)
	require.NoError(t, err)
	require.Empty(t, clock.Values(c))
}

func TestRepairMergesRemoteClock(t *testing.T) {
	v := openTestVnode(t, 0)
	bk := bkey.New("b", "k1")

	_, err := v.Write(bk, clock.Context{}, []byte("local"), false)
	require.NoError(t, err)

	remote := clock.Update(clock.New(), clock.Context{}, []byte("remote"), clock.VnodeID{Partition: 99, Epoch: 1}, false)
	require.NoError(t, v.Repair(bk, remote))

	c, err := v.Read(bk)
	require.NoError(t, err)
	require.ElementsMatch(t, [][]byte{[]byte("local"), []byte("remote")}, clock.Values(c))
}

func TestRepairNoopWhenAlreadyDominant(t *testing.T) {
	v := openTestVnode(t, 0)
	bk := bkey.New("b", "k1")

	_, err := v.Write(bk, clock.Context{}, []byte("v1"), false)
	require.NoError(t, err)
	before, err := v.Read(bk)
	require.NoError(t, err)

	require.NoError(t, v.Repair(bk, clock.New()))

	after, err := v.Read(bk)
	require.NoError(t, err)
	require.Equal(t, clock.Values(before), clock.Values(after))
}

func TestEpochIncrementsAcrossReopens(t *testing.T) {
	dataDir := t.TempDir()

	engine1, err := storage.Open(filepath.Join(dataDir, "data.db"), storage.DefaultOpenOptions())
	require.NoError(t, err)
	v1, err := Open(Config{DataDir: dataDir, Partition: 3, MerkleBranching: 4}, engine1, NewNoopStats())
	require.NoError(t, err)
	firstEpoch := v1.ID().Epoch
	require.NoError(t, v1.Close())

	engine2, err := storage.Open(filepath.Join(dataDir, "data.db"), storage.DefaultOpenOptions())
	require.NoError(t, err)
	v2, err := Open(Config{DataDir: dataDir, Partition: 3, MerkleBranching: 4}, engine2, NewNoopStats())
	require.NoError(t, err)
	defer v2.Close()

	require.Greater(t, v2.ID().Epoch, firstEpoch)
}

func TestTreeEventuallyBuilds(t *testing.T) {
	v := openTestVnode(t, 0)
	require.Eventually(t, v.TreeBuilt, time.Second, time.Millisecond)
}

func TestMailboxOverloadReturnsError(t *testing.T) {
	dataDir := t.TempDir()
	engine, err := storage.Open(filepath.Join(dataDir, "data.db"), storage.DefaultOpenOptions())
	require.NoError(t, err)
	v, err := Open(Config{DataDir: dataDir, Partition: 0, MerkleBranching: 4, MailboxSize: 1}, engine, NewNoopStats())
	require.NoError(t, err)
	defer v.Close()

	started := make(chan struct{})
	block := make(chan struct{})
	require.True(t, v.enqueue(func() { close(started); <-block }))
	<-started // run() is now blocked inside the first job; the buffer is empty again

	require.True(t, v.enqueue(func() {})) // fills the single buffered slot

	_, err = v.Read(bkey.New("b", "k"))
	require.ErrorIs(t, err, ErrOverload)
	close(block)
}
