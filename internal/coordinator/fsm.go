// Package coordinator implements the get/put coordinator state machines:
// explicit tagged-state FSMs driving a preflist to quorum, a
// behavioral-module pattern (no reflection-based state dispatch).
// Grounded on the prior implementation's
// Replicator.ReplicateWrite/CoordinateRead (channel + select timeout
// loop, internal/cluster/replicator.go) and
// other_examples/a96507bf_iSwiin-mini-dynamo's Coordinator.Get/PutRecord
// (phased quorum collection with read-repair dispatch), generalized to
// the design's full waiting/waiting2/finalize split and repair-mode
// override.
package coordinator

import (
	"context"
	"errors"
	"time"

	"kvring/internal/bkey"
	"kvring/internal/clock"
)

// Errors returned to the caller, mirroring the design
var (
	ErrTimeout = errors.New("coordinator: timeout")
	ErrNoQuorum = errors.New("coordinator: quorum not reached")
)

// ReplicaTarget names one vnode a coordinator can address: its partition
// plus whatever Transport needs to reach it (left opaque to this
// package — an in-process *vnode.Vnode in tests, an HTTP peer in
// production).
type ReplicaTarget struct {
	Partition uint32
	Node      string
}

// Transport is how a coordinator reaches a replica's vnode. Exactly one
// implementation exists per process: internal/transport wires this to
// either a local *vnode.Vnode or an HTTP call to a peer, depending on
// whether ReplicaTarget.Node is this node.
type Transport interface {
	Read(ctx context.Context, target ReplicaTarget, bk bkey.BKey) (clock.Clock, error)
	Write(ctx context.Context, target ReplicaTarget, bk bkey.BKey, cctx clock.Context, value []byte, tombstone bool) (clock.Context, error)
	Repair(ctx context.Context, target ReplicaTarget, bk bkey.BKey, final clock.Clock) error
}

// readReply is the event a get FSM steps on as replica reads complete.
type readReply struct {
	target ReplicaTarget
	clock  clock.Clock
	err    error
}

// writeReply is the event a put FSM steps on as replica writes complete.
type writeReply struct {
	target ReplicaTarget
	err    error
}

// normalizeReadReply turns a replica read outcome into the empty-clock
// object sync() expects on error or not-found, so it still
// participates in sync() without special-casing.
func normalizeReadReply(c clock.Clock, err error) clock.Clock {
	if err != nil {
		return clock.New()
	}
	return c
}

// syncAll folds every collected reply through clock.Sync, the design
// "final = sync(all replies)".
func syncAll(replies map[ReplicaTarget]clock.Clock) clock.Clock {
	final := clock.New()
	for _, c := range replies {
		final = clock.Sync(final, c)
	}
	return final
}

// outdatedTargets returns the replicas whose reply is strictly dominated
// by final — the read-repair candidate set for finalize.
func outdatedTargets(replies map[ReplicaTarget]clock.Clock, final clock.Clock) []ReplicaTarget {
	var out []ReplicaTarget
	for target, c := range replies {
		if clock.Less(c, final) {
			out = append(out, target)
		}
	}
	return out
}

func dispatchRepair(ctx context.Context, transport Transport, bk bkey.BKey, targets []ReplicaTarget, final clock.Clock) {
	for _, target := range targets {
		_ = transport.Repair(ctx, target, bk, final)
	}
}

func defaultTimeout(d time.Duration, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
