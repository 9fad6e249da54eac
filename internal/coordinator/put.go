package coordinator

import (
	"context"
	"time"

	"kvring/internal/bkey"
	"kvring/internal/clock"
)

type putState int

const (
	putExecute putState = iota
	putWaiting
)

// Operation distinguishes a put's write/delete intent.
// Delete is a write carrying the tombstone sentinel.
type Operation int

const (
	OpWrite Operation = iota
	OpDelete
)

// PutOptions configures a put coordination.
type PutOptions struct {
	Operation Operation
	MinAcks   int // W, 1 <= W <= N; default N if unset
	Timeout   time.Duration
	NoReply   bool // fire-and-forget: caller gets an empty result immediately
}

// PutResult is what the coordinator hands back: Err is nil on a quorum
// write, ErrTimeout if W acks didn't arrive in time, or the last
// observed replica error (the design "the specific error returned on
// shortfall is the last observed replica error, else timeout").
type PutResult struct {
	Err error
}

// Put drives a write or delete for bk across targets to quorum (the design
// §4.6): execute dispatches the same (ctx, value) to every target, each
// of which assigns its own independent dot; waiting replies ok to the
// caller as soon as MinAcks good acks arrive, or an error/timeout
// otherwise. Convergence across the replicas that didn't yet see this
// write is achieved later by sync() on read or anti-entropy, not by this
// FSM waiting for them.
func Put(ctx context.Context, transport Transport, bk bkey.BKey, cctx clock.Context, value []byte, targets []ReplicaTarget, opts PutOptions) PutResult {
	n := len(targets)
	if n == 0 {
		return PutResult{Err: ErrNoQuorum}
	}

	minAcks := opts.MinAcks
	if minAcks < 1 {
		minAcks = n
	}
	if minAcks > n {
		minAcks = n
	}

	f := &putFSM{
		bk:        bk,
		targets:   targets,
		transport: transport,
		cctx:      cctx,
		value:     value,
		tombstone: opts.Operation == OpDelete,
		minAcks:   minAcks,
		n:         n,
		respCh:    make(chan writeReply, n),
	}
	timeout := defaultTimeout(opts.Timeout, 20*time.Second)

	if opts.NoReply {
		go f.run(context.Background(), timeout)
		return PutResult{}
	}
	return f.run(ctx, timeout)
}

type putFSM struct {
	state     putState
	bk        bkey.BKey
	targets   []ReplicaTarget
	transport Transport
	cctx      clock.Context
	value     []byte
	tombstone bool
	minAcks   int
	n         int
	respCh    chan writeReply
}

func (f *putFSM) run(ctx context.Context, timeout time.Duration) PutResult {
	f.execute(ctx)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	return f.waiting(timer.C)
}

func (f *putFSM) execute(ctx context.Context) {
	f.state = putExecute
	for _, target := range f.targets {
		target := target
		go func() {
			_, err := f.transport.Write(ctx, target, f.bk, f.cctx, f.value, f.tombstone)
			f.respCh <- writeReply{target: target, err: err}
		}()
	}
}

func (f *putFSM) waiting(timeoutCh <-chan time.Time) PutResult {
	f.state = putWaiting

	goodAcks, totalAcks := 0, 0
	var lastErr error

	for totalAcks < f.n {
		select {
		case r := <-f.respCh:
			totalAcks++
			if r.err == nil {
				goodAcks++
			} else {
				lastErr = r.err
			}
			if goodAcks >= f.minAcks {
				return PutResult{}
			}
		case <-timeoutCh:
			return PutResult{Err: ErrTimeout}
		}
	}

	// Every replica answered and quorum was never reached.
	if lastErr == nil {
		lastErr = ErrNoQuorum
	}
	return PutResult{Err: lastErr}
}
