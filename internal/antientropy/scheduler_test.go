package antientropy

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingPeer struct{ notBuiltPeer }

func TestSchedulerRunsExchangeOnTick(t *testing.T) {
	var calls int32
	picker := func() (string, Peer, bool) {
		return "a-b", countingPeer{}, true
	}
	run := func(ctx context.Context, p Peer) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, nil
	}

	s := NewScheduler(5*time.Millisecond, NewTokenBucket(90), picker, run)
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) > 0 }, time.Second, time.Millisecond)
}

func TestSchedulerSkipsWhenNoPeerAvailable(t *testing.T) {
	var calls int32
	picker := func() (string, Peer, bool) { return "", nil, false }
	run := func(ctx context.Context, p Peer) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, nil
	}

	s := NewScheduler(5*time.Millisecond, NewTokenBucket(90), picker, run)
	s.Start()
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	require.Zero(t, atomic.LoadInt32(&calls))
}

func TestSchedulerDropsTickWhilePairInFlight(t *testing.T) {
	started := make(chan struct{}, 10)
	release := make(chan struct{})
	var calls int32

	picker := func() (string, Peer, bool) { return "pair", countingPeer{}, true }
	run := func(ctx context.Context, p Peer) (int, error) {
		atomic.AddInt32(&calls, 1)
		started <- struct{}{}
		<-release
		return 0, nil
	}

	s := NewScheduler(5*time.Millisecond, NewTokenBucket(90), picker, run)
	s.Start()

	<-started // first exchange is now running and holding the pair busy
	time.Sleep(30 * time.Millisecond) // several ticks fire while it's in flight
	close(release)
	s.Stop()

	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSchedulerRespectsTokenBucket(t *testing.T) {
	var calls int32
	picker := func() (string, Peer, bool) {
		return time.Now().String(), countingPeer{}, true // distinct id per tick, so in-flight dedup doesn't mask this
	}
	run := func(ctx context.Context, p Peer) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, nil
	}

	bucket := NewTokenBucket(1)
	bucket.Allow() // drain the single token/burst up front

	s := NewScheduler(5*time.Millisecond, bucket, picker, run)
	s.Start()
	time.Sleep(20 * time.Millisecond)
	s.Stop()

	require.Zero(t, atomic.LoadInt32(&calls))
}
