package antientropy

import (
	"context"
	"sync"
	"time"
)

// PickPeer selects the next exchange partner for a tick: an opaque id
// used to deduplicate in-flight pairs, the Peer itself, and whether one
// was available at all (e.g. the ring may currently have no other
// partition in range).
type PickPeer func() (id string, peer Peer, ok bool)

// RunExchange performs one exchange against the picked peer, returning
// the number of keys repaired.
type RunExchange func(ctx context.Context, peer Peer) (int, error)

// Scheduler drives one vnode's anti-entropy tick: every
// interval it picks a peer, and — unless that pair already has an
// exchange in flight or the token bucket is empty — runs one exchange
// in the background. Grounded on the prior implementation's periodic-heartbeat shape
// (internal/cluster/membership.go's gossip ticker) generalized to
// "at most one exchange per vnode pair, tokens gate new work".
type Scheduler struct {
	interval    time.Duration
	bucket      *TokenBucket
	pickPeer    PickPeer
	runExchange RunExchange

	inFlight sync.Map // id -> struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewScheduler builds a scheduler; interval defaults to
// DEFAULT_SYNC_INTERVAL (2s) if <= 0.
func NewScheduler(interval time.Duration, bucket *TokenBucket, pickPeer PickPeer, runExchange RunExchange) *Scheduler {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Scheduler{
		interval:    interval,
		bucket:      bucket,
		pickPeer:    pickPeer,
		runExchange: runExchange,
		stopCh:      make(chan struct{}),
	}
}

// Start runs the tick loop in a background goroutine until Stop is
// called.
func (s *Scheduler) Start() { go s.loop() }

// Stop ends the tick loop. Idempotent.
func (s *Scheduler) Stop() { s.stopOnce.Do(func() { close(s.stopCh) }) }

func (s *Scheduler) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) tick() {
	id, peer, ok := s.pickPeer()
	if !ok {
		return
	}
	if _, busy := s.inFlight.LoadOrStore(id, struct{}{}); busy {
		return
	}
	if !s.bucket.Allow() {
		s.inFlight.Delete(id)
		return
	}

	go func() {
		defer s.inFlight.Delete(id)
		_, _ = s.runExchange(context.Background(), peer)
	}()
}
