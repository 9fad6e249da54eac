package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kvring/internal/bkey"
	"kvring/internal/clock"
)

func TestGetNotFoundBeforeAnyWrite(t *testing.T) {
	transport, targets := newTestCluster(t, 3)
	bk := bkey.New("b", "k1")

	res := Get(context.Background(), transport, bk, targets, GetOptions{MinAcks: 2, ReturnValue: true})
	require.NoError(t, res.Err)
	require.False(t, res.Found)
	require.Empty(t, res.Values)
}

func TestGetReturnsValueOnceWritten(t *testing.T) {
	transport, targets := newTestCluster(t, 3)
	bk := bkey.New("b", "k1")

	_, err := transport.Write(context.Background(), targets[0], bk, clock.Context{}, []byte("v1"), false)
	require.NoError(t, err)

	res := Get(context.Background(), transport, bk, targets, GetOptions{MinAcks: 3, ReturnValue: true})
	require.NoError(t, res.Err)
	require.True(t, res.Found)
	require.Equal(t, [][]byte{[]byte("v1")}, res.Values)
}

func TestGetTimeoutWhenQuorumUnreachable(t *testing.T) {
	transport, targets := newTestCluster(t, 3)
	transport.removeNode(targets[1].Partition)
	transport.removeNode(targets[2].Partition)

	res := Get(context.Background(), transport, bkey.New("b", "k1"), targets, GetOptions{
		MinAcks: 2,
		Timeout: 50 * time.Millisecond,
	})
	require.ErrorIs(t, res.Err, ErrTimeout)
}

func TestGetReadRepairFixesStaleReplica(t *testing.T) {
	transport, targets := newTestCluster(t, 3)
	bk := bkey.New("b", "k1")

	// Only replicas 0 and 1 ever see the write.
	_, err := transport.Write(context.Background(), targets[0], bk, clock.Context{}, []byte("v1"), false)
	require.NoError(t, err)
	_, err = transport.Write(context.Background(), targets[1], bk, clock.Context{}, []byte("v1"), false)
	require.NoError(t, err)

	res := Get(context.Background(), transport, bk, targets, GetOptions{
		MinAcks:      2,
		DoReadRepair: true,
		ReturnValue:  true,
	})
	require.NoError(t, res.Err)
	require.True(t, res.Found)

	require.Eventually(t, func() bool {
		c, err := transport.Read(context.Background(), targets[2], bk)
		return err == nil && len(clock.Values(c)) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestGetRepairModeForcesTwoTargetsAndSuppressesValue(t *testing.T) {
	transport, targets := newTestCluster(t, 3)
	bk := bkey.New("b", "k1")

	_, err := transport.Write(context.Background(), targets[0], bk, clock.Context{}, []byte("v1"), false)
	require.NoError(t, err)

	res := Get(context.Background(), transport, bk, targets, GetOptions{
		ReturnValue: true, // should be forced off by RepairMode
		RepairMode:  &RepairMode{A: targets[0], B: targets[1]},
	})
	require.NoError(t, res.Err)
	require.False(t, res.Found)
	require.Empty(t, res.Values)
}

func TestGetEmptyTargetsIsNoQuorum(t *testing.T) {
	transport, _ := newTestCluster(t, 1)
	res := Get(context.Background(), transport, bkey.New("b", "k1"), nil, GetOptions{})
	require.ErrorIs(t, res.Err, ErrNoQuorum)
}
