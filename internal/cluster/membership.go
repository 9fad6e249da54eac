// Package cluster tracks which nodes are in the ring and maintains the
// immutable ring snapshot the rest of the core reads: a new snapshot
// replaces the pointer atomically on membership change. Node
// bookkeeping is kept from the prior implementation's Membership; its
// variable-vnode *Ring is replaced by an atomically-swapped
// internal/ring.Snapshot to match the fixed-2^P-partition model.
package cluster

import (
	"fmt"
	"sync"
	"sync/atomic"

	"kvring/internal/ring"
)

// Node represents a single cluster member.
type Node struct {
	ID      string `json:"id"`
	Address string `json:"address"` // host:port
	IsAlive bool   `json:"is_alive"`
}

// Membership tracks which nodes are in the cluster and holds the
// current ring snapshot built from the alive set.
// In production you would replace this with a gossip protocol (e.g.
// SWIM/Serf), but static membership is the right starting point.
type Membership struct {
	mu                sync.RWMutex
	nodes             map[string]*Node // nodeID -> Node
	partitionExponent int

	snapshot atomic.Pointer[ring.Snapshot]
}

// NewMembership creates membership seeded with the provided node list,
// with a ring of 2^partitionExponent partitions.
func NewMembership(nodes []Node, partitionExponent int) *Membership {
	m := &Membership{
		nodes:             make(map[string]*Node, len(nodes)),
		partitionExponent: partitionExponent,
	}
	for i := range nodes {
		n := nodes[i]
		n.IsAlive = true
		m.nodes[n.ID] = &n
	}
	m.rebuildSnapshot()
	return m
}

func (m *Membership) rebuildSnapshot() {
	m.mu.RLock()
	names := make([]string, 0, len(m.nodes))
	for id, n := range m.nodes {
		if n.IsAlive {
			names = append(names, id)
		}
	}
	m.mu.RUnlock()

	snap := ring.New(m.partitionExponent, names)
	m.snapshot.Store(&snap)
}

// Join adds a new node to the cluster and rebuilds the ring snapshot.
func (m *Membership) Join(node Node) error {
	m.mu.Lock()
	if _, ok := m.nodes[node.ID]; ok {
		m.mu.Unlock()
		return fmt.Errorf("node %s already in cluster", node.ID)
	}
	node.IsAlive = true
	m.nodes[node.ID] = &node
	m.mu.Unlock()

	m.rebuildSnapshot()
	return nil
}

// Leave removes a node from the cluster (graceful departure) and
// rebuilds the ring snapshot.
func (m *Membership) Leave(nodeID string) error {
	m.mu.Lock()
	if _, ok := m.nodes[nodeID]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("node %s not in cluster", nodeID)
	}
	delete(m.nodes, nodeID)
	m.mu.Unlock()

	m.rebuildSnapshot()
	return nil
}

// GetNode returns the Node for a given ID.
func (m *Membership) GetNode(id string) (*Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[id]
	return n, ok
}

// All returns a copy of all current nodes.
func (m *Membership) All() []Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, *n)
	}
	return out
}

// Ring returns the current ring snapshot for key routing. Safe to call
// concurrently with Join/Leave; the returned value never mutates.
func (m *Membership) Ring() ring.Snapshot {
	return *m.snapshot.Load()
}
