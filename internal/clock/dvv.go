// Package clock implements the causal object model described in the design
// §3/§4.2: a dotted version vector (DVV) used to detect conflicting writes
// and drive read-repair. It replaces the prior implementation's plain last-write-wins
// VectorClock (internal/store/vector_clock.go in the original) with a
// clock that tracks individual dotted values instead of just a per-vnode
// high-water mark, so concurrent siblings survive merges instead of being
// collapsed by a wall-clock tiebreak.
//
// The package is pure and side-effect-free: every operation takes clocks
// by value (its own internal maps are always copied before mutation) and
// returns a new Clock.
package clock

import "bytes"

// VnodeID identifies the vnode that assigned a dot. Epoch guards against
// dot reuse after a crash/restart of the owning vnode (the design "Vnode
// identity").
type VnodeID struct {
	Partition uint32
	Epoch     uint32
}

// Dot is a globally unique (vnode, counter) pair labelling one write.
type Dot struct {
	Vnode   VnodeID
	Counter uint64
}

// Tombstone is the sentinel value written by a delete. values() suppresses
// entries carrying it.
var Tombstone = []byte(nil)

// dottedValue is one value tagged with the dot assigned at the vnode that
// first wrote it.
type dottedValue struct {
	Counter   uint64
	Value     []byte
	Tombstone bool
}

// entry is the per-vnode slot of a clock: the high-water counter ever
// assigned at that vnode (kept even after the values it tagged are
// discarded, so dots are never reused) plus the surviving dotted values.
type entry struct {
	MaxCounter uint64
	Values     []dottedValue
}

func (e entry) clone() entry {
	out := entry{MaxCounter: e.MaxCounter, Values: make([]dottedValue, len(e.Values))}
	copy(out.Values, e.Values)
	return out
}

// anonValue is a value with no assigned dot yet (the design: "a sequence
// of values not yet dotted").
type anonValue struct {
	Value     []byte
	Tombstone bool
}

// Clock is a dotted version vector: per-vnode counters and the values
// dotted at each, plus any anonymous (undotted) values.
type Clock struct {
	entries   map[VnodeID]entry
	anonymous []anonValue
}

// New returns an empty clock.
func New() Clock {
	return Clock{}
}

// Context is the value-less projection of a clock: an opaque
// token clients echo on writes to express causal ancestry.
type Context map[VnodeID]uint64

func (c Clock) clone() Clock {
	out := Clock{}
	if len(c.entries) > 0 {
		out.entries = make(map[VnodeID]entry, len(c.entries))
		for vid, e := range c.entries {
			out.entries[vid] = e.clone()
		}
	}
	if len(c.anonymous) > 0 {
		out.anonymous = append([]anonValue(nil), c.anonymous...)
	}
	return out
}

func maxCounter(c Clock, vid VnodeID) uint64 {
	return c.entries[vid].MaxCounter
}

// Join returns the context (value-less version vector) of c.
func Join(c Clock) Context {
	ctx := make(Context, len(c.entries))
	for vid, e := range c.entries {
		ctx[vid] = e.MaxCounter
	}
	return ctx
}

func ctxCounter(ctx Context, vid VnodeID) uint64 {
	if ctx == nil {
		return 0
	}
	return ctx[vid]
}

// discardDominated returns a copy of c with every dotted value whose
// counter is covered by ctx (counter <= ctx[vid]) removed. The per-vnode
// MaxCounter is left untouched so future dots keep increasing.
func discardDominated(c Clock, ctx Context) Clock {
	out := c.clone()
	for vid, e := range out.entries {
		threshold := ctxCounter(ctx, vid)
		if threshold == 0 {
			continue
		}
		kept := e.Values[:0:0]
		for _, v := range e.Values {
			if v.Counter > threshold {
				kept = append(kept, v)
			}
		}
		e.Values = kept
		out.entries[vid] = e
	}
	return out
}

// Update assigns value a fresh dot at vid, discarding from clock any
// values strictly dominated by ctx and retaining concurrent siblings
//. A delete is Update with tombstone=true.
func Update(clock Clock, ctx Context, value []byte, vid VnodeID, tombstone bool) Clock {
	out := discardDominated(clock, ctx)
	if out.entries == nil {
		out.entries = make(map[VnodeID]entry, 1)
	}
	e := out.entries[vid]
	e.MaxCounter++
	e.Values = append(append([]dottedValue(nil), e.Values...), dottedValue{
		Counter:   e.MaxCounter,
		Value:     value,
		Tombstone: tombstone,
	})
	out.entries[vid] = e
	return out
}

// Sync computes the least upper bound of a and b: the union of dots and
// their associated values, discarding any value strictly dominated by the
// other side's max counter for its vnode.
func Sync(a, b Clock) Clock {
	out := Clock{entries: make(map[VnodeID]entry)}

	vids := make(map[VnodeID]struct{}, len(a.entries)+len(b.entries))
	for vid := range a.entries {
		vids[vid] = struct{}{}
	}
	for vid := range b.entries {
		vids[vid] = struct{}{}
	}

	for vid := range vids {
		ea, okA := a.entries[vid]
		eb, okB := b.entries[vid]

		merged := entry{MaxCounter: maxU64(ea.MaxCounter, eb.MaxCounter)}

		seen := make(map[uint64]dottedValue, len(ea.Values)+len(eb.Values))
		inA := make(map[uint64]bool, len(ea.Values))
		inB := make(map[uint64]bool, len(eb.Values))
		for _, v := range ea.Values {
			seen[v.Counter] = v
			inA[v.Counter] = true
		}
		for _, v := range eb.Values {
			seen[v.Counter] = v
			inB[v.Counter] = true
		}

		for counter, v := range seen {
			keep := (inA[counter] && inB[counter]) ||
				(inA[counter] && (!okB || counter > eb.MaxCounter)) ||
				(inB[counter] && (!okA || counter > ea.MaxCounter))
			if keep {
				merged.Values = append(merged.Values, v)
			}
		}
		out.entries[vid] = merged
	}

	out.anonymous = mergeAnonymous(a.anonymous, b.anonymous)
	return out
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func mergeAnonymous(a, b []anonValue) []anonValue {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	var out []anonValue
	seen := func(v anonValue) bool {
		for _, o := range out {
			if o.Tombstone == v.Tombstone && bytes.Equal(o.Value, v.Value) {
				return true
			}
		}
		return false
	}
	for _, v := range a {
		if !seen(v) {
			out = append(out, v)
		}
	}
	for _, v := range b {
		if !seen(v) {
			out = append(out, v)
		}
	}
	return out
}

// Values returns the surviving, non-tombstoned values of c, each distinct
// value once (the same bytes dotted at several vnodes count as one).
// Zero values means not found; more than one means an unresolved
// concurrent conflict the client must reconcile.
func Values(c Clock) [][]byte {
	var out [][]byte
	add := func(value []byte) {
		for _, o := range out {
			if bytes.Equal(o, value) {
				return
			}
		}
		out = append(out, value)
	}
	for _, e := range c.entries {
		for _, v := range e.Values {
			if !v.Tombstone {
				add(v.Value)
			}
		}
	}
	for _, v := range c.anonymous {
		if !v.Tombstone {
			add(v.Value)
		}
	}
	return out
}

// Less reports whether a is strictly dominated by b: every vnode counter
// in a is less than or equal to the corresponding counter in b, and a is
// not equal to b. Used by read-repair to find stale replicas.
func Less(a, b Clock) bool {
	vids := make(map[VnodeID]struct{}, len(a.entries)+len(b.entries))
	for vid := range a.entries {
		vids[vid] = struct{}{}
	}
	for vid := range b.entries {
		vids[vid] = struct{}{}
	}

	equal := true
	for vid := range vids {
		ca := maxCounter(a, vid)
		cb := maxCounter(b, vid)
		if ca > cb {
			return false
		}
		if ca != cb {
			equal = false
		}
	}
	return !equal
}

// Equal reports whether a and b carry the same version-vector counters.
// (Two clocks can be Equal under this definition while disagreeing on
// which concurrent siblings survived a partial sync; this is the
// version-vector notion of equality used by Less/sync convergence.)
func Equal(a, b Clock) bool {
	return !Less(a, b) && !Less(b, a)
}
