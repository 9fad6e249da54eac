// Package vnode implements the authoritative per-partition replica of
// the design: local storage, local causal clock, dot assignment, and
// the Merkle tree anti-entropy consults. Exactly one goroutine processes
// a given vnode's mailbox, so reads/writes/repairs against the same key
// are totally ordered — grounded on the prior implementation's
// Node.executeReadQuorum/executeWriteQuorum goroutine-and-channel shape
// (internal/cluster/node.go) and narendran-go-chord's localVnode/
// Ring.schedule() background-job pattern, generalized to a single
// serial worker with an unbounded-by-design message set instead of a
// fixed read/write pair.
package vnode

import (
	"errors"
	"fmt"
	"strconv"

	"kvring/internal/bkey"
	"kvring/internal/clock"
	"kvring/internal/storage"
)

// Errors surfaced to the coordinator. They never crash the vnode;
// storage failures and overload are ordinary returns.
var (
	ErrNotFound = errors.New("vnode: not found")
	ErrOverload = errors.New("vnode: mailbox full")
	ErrNotReady = errors.New("vnode: not ready")
)

// Config configures a single vnode's on-disk footprint.
type Config struct {
	DataDir         string
	Partition       uint32
	MerkleBranching int
	MailboxSize     int
}

// Vnode is the per-partition actor. All exported methods are safe to
// call from any goroutine; each enqueues a closure onto the single
// mailbox and blocks for its result, except Repair which fires the same
// way but has no client-visible value.
type Vnode struct {
	id      clock.VnodeID
	engine  storage.Engine
	tree    *merkleTree
	stats   *Stats
	label   string
	mailbox chan func()
	stop    chan struct{}
}

// Open (re)initializes the vnode rooted at cfg.DataDir/cfg.Partition,
// bumping its persisted epoch and kicking off a background Merkle
// rebuild from engine's current contents. The tree reports not-built
// (TreeBuilt() == false) until that fold completes.
func Open(cfg Config, engine storage.Engine, stats *Stats) (*Vnode, error) {
	id, err := loadAndBumpEpoch(cfg.DataDir, cfg.Partition)
	if err != nil {
		return nil, fmt.Errorf("vnode: epoch: %w", err)
	}

	mailboxSize := cfg.MailboxSize
	if mailboxSize <= 0 {
		mailboxSize = 256
	}

	v := &Vnode{
		id:      id,
		engine:  engine,
		tree:    newMerkleTree(cfg.MerkleBranching),
		stats:   stats,
		label:   strconv.FormatUint(uint64(cfg.Partition), 10),
		mailbox: make(chan func(), mailboxSize),
		stop:    make(chan struct{}),
	}

	go v.run()
	go v.rebuildTree()

	return v, nil
}

// ID returns the vnode's (partition, epoch) identity.
func (v *Vnode) ID() clock.VnodeID { return v.id }

func (v *Vnode) run() {
	for {
		select {
		case job := <-v.mailbox:
			job()
		case <-v.stop:
			return
		}
	}
}

func (v *Vnode) enqueue(job func()) bool {
	select {
	case v.mailbox <- job:
		return true
	default:
		return false
	}
}

func (v *Vnode) rebuildTree() {
	_ = v.engine.Fold(func(k, val []byte) bool {
		bk, err := bkey.Decode(k)
		if err != nil {
			return true
		}
		c, err := clock.Decode(val)
		if err != nil {
			return true
		}
		v.tree.update(bk, c)
		return true
	})
	v.tree.markBuilt()
}

// Read loads the object stored at bk. ErrNotFound means no object has
// ever been written at this vnode for bk.
func (v *Vnode) Read(bk bkey.BKey) (clock.Clock, error) {
	type result struct {
		c   clock.Clock
		err error
	}
	respCh := make(chan result, 1)

	ok := v.enqueue(func() {
		c, found, err := v.loadClock(bk)
		if err != nil {
			respCh <- result{err: err}
			return
		}
		if !found {
			respCh <- result{err: ErrNotFound}
			return
		}
		v.stats.reads.WithLabelValues(v.label).Inc()
		respCh <- result{c: c}
	})
	if !ok {
		return clock.Clock{}, ErrOverload
	}

	r := <-respCh
	return r.c, r.err
}

// Write assigns value a fresh dot from this vnode's identity, discarding
// any prior values ctx causally dominates. A
// delete is a Write with tombstone=true and value set to clock.Tombstone.
// The returned Context is the new object's context.
func (v *Vnode) Write(bk bkey.BKey, ctx clock.Context, value []byte, tombstone bool) (clock.Context, error) {
	type result struct {
		ctx clock.Context
		err error
	}
	respCh := make(chan result, 1)

	ok := v.enqueue(func() {
		current, _, err := v.loadClock(bk)
		if err != nil {
			respCh <- result{err: err}
			return
		}

		updated := clock.Update(current, ctx, value, v.id, tombstone)
		if err := v.persistClock(bk, updated); err != nil {
			respCh <- result{err: err}
			return
		}

		v.tree.update(bk, updated)
		v.stats.writes.WithLabelValues(v.label).Inc()
		respCh <- result{ctx: clock.Join(updated)}
	})
	if !ok {
		return nil, ErrOverload
	}

	r := <-respCh
	return r.ctx, r.err
}

// Repair syncs final into the locally stored clock for bk and persists
// the result if it changed. There is no reply
// value beyond success/failure — read-repair and anti-entropy key-repair
// both fire-and-forget this the same way.
func (v *Vnode) Repair(bk bkey.BKey, final clock.Clock) error {
	done := make(chan error, 1)

	ok := v.enqueue(func() {
		current, _, err := v.loadClock(bk)
		if err != nil {
			done <- err
			return
		}

		merged := clock.Sync(current, final)
		if clock.Equal(merged, current) {
			done <- nil
			return
		}

		if err := v.persistClock(bk, merged); err != nil {
			done <- err
			return
		}
		v.tree.update(bk, merged)
		v.stats.repairs.WithLabelValues(v.label).Inc()
		done <- nil
	})
	if !ok {
		return ErrOverload
	}
	return <-done
}

func (v *Vnode) loadClock(bk bkey.BKey) (clock.Clock, bool, error) {
	raw, ok, err := v.engine.Get(bk.Encode())
	if err != nil {
		v.countStorageErr(err)
		return clock.Clock{}, false, err
	}
	if !ok {
		return clock.New(), false, nil
	}
	c, err := clock.Decode(raw)
	if err != nil {
		return clock.Clock{}, false, fmt.Errorf("vnode: decode stored clock for %s: %w", bk, err)
	}
	return c, true, nil
}

func (v *Vnode) persistClock(bk bkey.BKey, c clock.Clock) error {
	if err := v.engine.Put(bk.Encode(), clock.Encode(c)); err != nil {
		v.countStorageErr(err)
		return err
	}
	return nil
}

func (v *Vnode) countStorageErr(err error) {
	kind := "io"
	var se *storage.StorageError
	if errors.As(err, &se) {
		kind = se.Kind.String()
	}
	v.stats.errors.WithLabelValues(v.label, kind).Inc()
}

// --- Merkle tree accessors consulted by internal/antientropy ---

// TreeBuilt reports whether the first full fold has completed; exchanges
// are refused while false.
func (v *Vnode) TreeBuilt() bool { return v.tree.isBuilt() }

// RootHash is the top-level digest compared first in an exchange.
func (v *Vnode) RootHash() uint64 { return v.tree.rootHash() }

// InternalHashes returns the b internal-node hashes under the root.
func (v *Vnode) InternalHashes() []uint64 { return v.tree.internalHashes() }

// LeafHashesUnder returns the b leaf hashes under internal node idx.
func (v *Vnode) LeafHashesUnder(idx int) []uint64 { return v.tree.leafHashesUnder(idx) }

// CandidateKeys returns the keys stored in leaf bucket idx, for the
// requestor side of an exchange to issue key-repair against once a leaf
// mismatch is found.
func (v *Vnode) CandidateKeys(idx int) []bkey.BKey { return v.tree.candidateKeys(idx) }

// Close stops the vnode's mailbox loop and releases its storage handle.
// Does not delete persisted data (see storage.Engine.Destroy for that).
func (v *Vnode) Close() error {
	close(v.stop)
	return v.engine.Close()
}
