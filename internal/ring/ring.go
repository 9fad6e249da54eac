// Package ring implements the consistent-hash preflist computation of
// the design: mapping a key to its ordered replica set and
// enumerating a partition's anti-entropy peers.
//
// Grounded on the prior implementation's internal/cluster/ring.go (sorted-slice +
// binary-search placement), generalized from "N distinct physical nodes"
// to the design's model of a fixed 2^P-partition ring whose slots are each
// owned by a node, so a vnode's identity (its partition index) is stable
// across membership changes even though its owner is not.
package ring

import (
	"fmt"
	"math/big"
	"sort"

	"kvring/internal/bkey"
)

// Partition is a ring slot index in [0, 2^P).
type Partition uint32

// ReplicaEntry pairs a partition with its current owning node.
type ReplicaEntry struct {
	Partition Partition
	Node      string
}

// Snapshot is an immutable view of ring ownership, safe to read
// concurrently without locking — a new Snapshot replaces the owning
// Membership's pointer wholesale on every membership change (the design
// "in-flight coordinators finish against the snapshot they started with").
type Snapshot struct {
	p      int // exponent: there are 2^p partitions
	owners []string
}

// New builds a ring of 2^p partitions and assigns ownership round-robin
// across nodes, in sorted order for determinism. p is typically 6-10
//.
func New(p int, nodes []string) Snapshot {
	if p <= 0 {
		p = 6
	}
	n := 1 << uint(p)
	owners := make([]string, n)

	sorted := append([]string(nil), nodes...)
	sort.Strings(sorted)

	if len(sorted) > 0 {
		for i := 0; i < n; i++ {
			owners[i] = sorted[i%len(sorted)]
		}
	}
	return Snapshot{p: p, owners: owners}
}

// NumPartitions returns 2^p.
func (s Snapshot) NumPartitions() int { return len(s.owners) }

// Owner returns the node owning partition idx.
func (s Snapshot) Owner(idx Partition) string {
	if len(s.owners) == 0 {
		return ""
	}
	return s.owners[int(idx)%len(s.owners)]
}

// partitionFor maps a key's hash160 to its ring slot: the low bits of the
// hash modulo the partition count, which is how every example in the pack
// that shards a fixed hash space over 2^p slots (the prior implementation's own
// sha256-mod-ring, buddystore's finger table) reduces a wide hash down to
// a small index space.
func (s Snapshot) partitionFor(bk bkey.BKey) Partition {
	if len(s.owners) == 0 {
		return 0
	}
	h := bk.Hash160()
	mod := big.NewInt(int64(len(s.owners)))
	idx := new(big.Int).Mod(h, mod)
	return Partition(idx.Uint64())
}

// Primary returns the first live partition clockwise from bk's hash
// position.
func (s Snapshot) Primary(bk bkey.BKey) ReplicaEntry {
	p := s.partitionFor(bk)
	return ReplicaEntry{Partition: p, Node: s.Owner(p)}
}

// Replicas returns the first n distinct partitions encountered walking
// the ring clockwise from bk's hash position, each paired with its
// current owner. The first entry is the primary.
func (s Snapshot) Replicas(bk bkey.BKey, n int) []ReplicaEntry {
	total := s.NumPartitions()
	if total == 0 || n <= 0 {
		return nil
	}
	if n > total {
		n = total
	}
	start := s.partitionFor(bk)

	out := make([]ReplicaEntry, n)
	for i := 0; i < n; i++ {
		p := Partition((int(start) + i) % total)
		out[i] = ReplicaEntry{Partition: p, Node: s.Owner(p)}
	}
	return out
}

// Peers returns the partitions sharing at least one preflist with
// partition: the n-1 clockwise successors and the n-1 counter-clockwise
// predecessors, predecessors first in ring order. Used by
// anti-entropy to pick an exchange partner.
func (s Snapshot) Peers(partition Partition, n int) []Partition {
	total := s.NumPartitions()
	if total == 0 || n <= 1 {
		return nil
	}
	width := n - 1
	if width > total-1 {
		width = total - 1
	}

	out := make([]Partition, 0, 2*width)
	for i := width; i >= 1; i-- {
		pred := Partition((int(partition) - i + total) % total)
		out = append(out, pred)
	}
	for i := 1; i <= width; i++ {
		succ := Partition((int(partition) + i) % total)
		out = append(out, succ)
	}
	return out
}

// ResponsiblePreflists returns, for each n in ns, the partitions for
// which partition falls within the first n clockwise successors —
// equivalently, the predecessors (within n-1 of partition) whose own
// preflist of size n includes partition, plus partition itself. Used to
// scope anti-entropy Merkle exchanges to the preflists partition actually
// participates in.
func (s Snapshot) ResponsiblePreflists(partition Partition, ns []int) map[int][]Partition {
	total := s.NumPartitions()
	out := make(map[int][]Partition, len(ns))
	if total == 0 {
		return out
	}
	for _, n := range ns {
		if n <= 0 {
			continue
		}
		width := n - 1
		if width > total-1 {
			width = total - 1
		}
		owners := make([]Partition, 0, n)
		owners = append(owners, partition)
		for i := 1; i <= width; i++ {
			owners = append(owners, Partition((int(partition)-i+total)%total))
		}
		out[n] = owners
	}
	return out
}

// String is a debug helper.
func (p Partition) String() string { return fmt.Sprintf("p%d", uint32(p)) }
