package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kvring/internal/bkey"
	"kvring/internal/clock"
)

func TestPutOkWhenQuorumReached(t *testing.T) {
	transport, targets := newTestCluster(t, 3)
	transport.removeNode(targets[2].Partition) // only 2 of 3 reachable

	res := Put(context.Background(), transport, bkey.New("b", "k1"), clock.Context{}, []byte("v1"), targets, PutOptions{MinAcks: 2})
	require.NoError(t, res.Err)
}

func TestPutErrorWhenQuorumUnreachable(t *testing.T) {
	transport, targets := newTestCluster(t, 3)
	transport.removeNode(targets[1].Partition)
	transport.removeNode(targets[2].Partition)

	res := Put(context.Background(), transport, bkey.New("b", "k1"), clock.Context{}, []byte("v1"), targets, PutOptions{MinAcks: 2})
	require.Error(t, res.Err)
}

func TestPutTimeoutWhenAllSlow(t *testing.T) {
	transport, targets := newTestCluster(t, 3)
	slow := &slowTransport{inner: transport, delay: time.Second}

	res := Put(context.Background(), slow, bkey.New("b", "k1"), clock.Context{}, []byte("v1"), targets, PutOptions{
		MinAcks: 2,
		Timeout: 20 * time.Millisecond,
	})
	require.ErrorIs(t, res.Err, ErrTimeout)
}

func TestPutNoReplyReturnsImmediately(t *testing.T) {
	transport, targets := newTestCluster(t, 3)
	slow := &slowTransport{inner: transport, delay: 200 * time.Millisecond}

	start := time.Now()
	res := Put(context.Background(), slow, bkey.New("b", "k1"), clock.Context{}, []byte("v1"), targets, PutOptions{
		MinAcks: 2,
		NoReply: true,
	})
	require.NoError(t, res.Err)
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestPutDeleteWritesTombstone(t *testing.T) {
	transport, targets := newTestCluster(t, 3)
	bk := bkey.New("b", "k1")

	ctx, err := transport.Write(context.Background(), targets[0], bk, clock.Context{}, []byte("v1"), false)
	require.NoError(t, err)

	res := Put(context.Background(), transport, bk, ctx, nil, targets, PutOptions{MinAcks: 3, Operation: OpDelete})
	require.NoError(t, res.Err)

	c, err := transport.Read(context.Background(), targets[0], bk)
	require.NoError(t, err)
	require.Empty(t, clock.Values(c))
}

func TestPutEmptyTargetsIsNoQuorum(t *testing.T) {
	transport, _ := newTestCluster(t, 1)
	res := Put(context.Background(), transport, bkey.New("b", "k1"), clock.Context{}, []byte("v1"), nil, PutOptions{})
	require.ErrorIs(t, res.Err, ErrNoQuorum)
}
