package coordinator

import (
	"context"
	"time"

	"kvring/internal/bkey"
	"kvring/internal/clock"
)

type getState int

const (
	getExecute getState = iota
	getWaiting
	getWaiting2
	getFinalize
)

// RepairMode forces a get's replica set to exactly two vnodes with
// min=max=2 acks and suppresses the client-visible value (the design
// "optional repair_mode(vnode_a, vnode_b)"). Used by anti-entropy
// key-repair to sync a single candidate key between two vnodes.
type RepairMode struct {
	A, B ReplicaTarget
}

// GetOptions configures a get coordination.
type GetOptions struct {
	MinAcks      int // R, 1 <= R <= N; default N if unset
	DoReadRepair bool
	ReturnValue  bool
	Timeout      time.Duration
	RepairMode   *RepairMode
}

// GetResult is what the coordinator hands back to the client. Err is
// ErrTimeout if fewer than MinAcks replicas answered before the timeout;
// otherwise Found/Values/Ctx reflect the synced reply.
type GetResult struct {
	Found  bool
	Values [][]byte
	Ctx    clock.Context
	Err    error
}

// Get drives a read for bk across targets to quorum:
// execute dispatches reads to every target; waiting collects replies
// until MinAcks are in (or times out); the client-visible result is
// built right there. If not every target has answered yet, the
// remainder is collected in the background (waiting2) and, once in (or
// timed out), finalize fires read-repair against any replica whose
// reply was strictly dominated by the synced result — all after the
// client has already been answered — this is the deliberate choice of
// replying on MinAcks rather than waiting for every target (DESIGN.md
// open-question #1).
func Get(ctx context.Context, transport Transport, bk bkey.BKey, targets []ReplicaTarget, opts GetOptions) GetResult {
	if opts.RepairMode != nil {
		targets = []ReplicaTarget{opts.RepairMode.A, opts.RepairMode.B}
		opts.MinAcks = 2
		opts.ReturnValue = false
	}

	n := len(targets)
	if n == 0 {
		return GetResult{Err: ErrNoQuorum}
	}

	minAcks := opts.MinAcks
	if minAcks < 1 {
		minAcks = n
	}
	if minAcks > n {
		minAcks = n
	}

	f := &getFSM{
		bk:        bk,
		targets:   targets,
		transport: transport,
		opts:      opts,
		minAcks:   minAcks,
		n:         n,
		replies:   make(map[ReplicaTarget]clock.Clock, n),
		respCh:    make(chan readReply, n),
	}
	return f.run(ctx, defaultTimeout(opts.Timeout, 15*time.Second))
}

type getFSM struct {
	state     getState
	bk        bkey.BKey
	targets   []ReplicaTarget
	transport Transport
	opts      GetOptions
	minAcks   int
	n         int
	replies   map[ReplicaTarget]clock.Clock
	respCh    chan readReply
}

func (f *getFSM) run(ctx context.Context, timeout time.Duration) GetResult {
	f.execute(ctx)

	timer := time.NewTimer(timeout)
	result, ok := f.waiting(timer.C)
	if !ok {
		timer.Stop()
		return GetResult{Err: ErrTimeout}
	}

	if len(f.replies) >= f.n {
		timer.Stop()
		f.state = getFinalize
		f.finalize(context.Background())
		return result
	}

	f.state = getWaiting2
	go func() {
		defer timer.Stop()
		f.waiting2(timer.C)
		f.state = getFinalize
		f.finalize(context.Background())
	}()

	return result
}

func (f *getFSM) execute(ctx context.Context) {
	f.state = getExecute
	for _, target := range f.targets {
		target := target
		go func() {
			c, err := f.transport.Read(ctx, target, f.bk)
			f.respCh <- readReply{target: target, clock: c, err: err}
		}()
	}
}

func (f *getFSM) waiting(timeoutCh <-chan time.Time) (GetResult, bool) {
	f.state = getWaiting
	for len(f.replies) < f.minAcks {
		select {
		case r := <-f.respCh:
			f.replies[r.target] = normalizeReadReply(r.clock, r.err)
		case <-timeoutCh:
			return GetResult{}, false
		}
	}
	return f.buildResult(), true
}

func (f *getFSM) buildResult() GetResult {
	final := syncAll(f.replies)
	result := GetResult{Ctx: clock.Join(final)}
	if !f.opts.ReturnValue {
		return result
	}
	values := clock.Values(final)
	if len(values) == 0 {
		return result
	}
	result.Found = true
	result.Values = values
	return result
}

// waiting2 keeps collecting replies until every target has answered or
// the timer fires; on timeout it simply stops, leaving finalize to work
// with whatever it has (the design: "Timeout in waiting2 → proceed to
// finalize with the responses collected so far").
func (f *getFSM) waiting2(timeoutCh <-chan time.Time) {
	for len(f.replies) < f.n {
		select {
		case r := <-f.respCh:
			f.replies[r.target] = normalizeReadReply(r.clock, r.err)
		case <-timeoutCh:
			return
		}
	}
}

func (f *getFSM) finalize(ctx context.Context) {
	if !f.opts.DoReadRepair {
		return
	}
	final := syncAll(f.replies)
	dispatchRepair(ctx, f.transport, f.bk, outdatedTargets(f.replies, final), final)
}
