// Package antientropy implements the background Merkle-tree
// reconciliation loop: each vnode periodically compares its tree
// against one peer's, descends on mismatch, and key-repairs every
// candidate key a differing leaf turns up. No example repo in the
// corpus implements Merkle anti-entropy, so the exchange protocol is
// built directly from the required convergence property, structured as a
// request/response walk in the same style as the get/put coordinators
// (internal/coordinator) for consistency, and hashed with
// cespare/xxhash/v2 (erigon) to match internal/vnode's Merkle tree.
package antientropy

import (
	"context"
	"errors"

	"kvring/internal/bkey"
)

// ErrNotReady is returned when either side's Merkle tree hasn't
// completed its first full fold yet (the design: "during startup /
// handoff, a vnode marks its tree not built; exchanges are refused").
var ErrNotReady = errors.New("antientropy: tree not built")

// Peer is one side of an exchange: the local vnode being compared, or
// the remote one. internal/vnode.Vnode satisfies this directly via
// LocalPeer; a real cluster wires the remote side to an HTTP call.
type Peer interface {
	TreeBuilt() bool
	RootHash() uint64
	InternalHashes() []uint64
	LeafHashesUnder(internalIdx int) []uint64
	CandidateKeys(leafIdx int) []bkey.BKey
}

// RepairFunc reconciles a single candidate key found to differ between
// local and peer. Production wiring implements this as a two-vnode get
// coordinator in repair_mode (the design step 4,
// internal/coordinator.RepairMode); tests may implement it directly.
type RepairFunc func(ctx context.Context, bk bkey.BKey) error

// Exchange runs one Merkle comparison between local and peer (the design
// §4.7 steps 1-4): equal root hashes mean nothing to do; otherwise every
// internal node whose hash differs is descended into, and every leaf
// under it that differs contributes its keys (from both sides, since
// either side may hold a key absent from the other) to repair. Returns
// the number of keys repaired.
func Exchange(ctx context.Context, local, peer Peer, repair RepairFunc) (int, error) {
	if !local.TreeBuilt() || !peer.TreeBuilt() {
		return 0, ErrNotReady
	}
	if local.RootHash() == peer.RootHash() {
		return 0, nil
	}

	localInternal := local.InternalHashes()
	peerInternal := peer.InternalHashes()

	repaired := 0
	for i := 0; i < len(localInternal) && i < len(peerInternal); i++ {
		if localInternal[i] == peerInternal[i] {
			continue
		}

		localLeaves := local.LeafHashesUnder(i)
		peerLeaves := peer.LeafHashesUnder(i)
		branching := len(localLeaves)

		for j := 0; j < len(localLeaves) && j < len(peerLeaves); j++ {
			if localLeaves[j] == peerLeaves[j] {
				continue
			}

			leafIdx := i*branching + j
			for _, bk := range unionKeys(local.CandidateKeys(leafIdx), peer.CandidateKeys(leafIdx)) {
				if err := repair(ctx, bk); err != nil {
					return repaired, err
				}
				repaired++
			}
		}
	}
	return repaired, nil
}

func unionKeys(a, b []bkey.BKey) []bkey.BKey {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]bkey.BKey, 0, len(a)+len(b))
	for _, group := range [2][]bkey.BKey{a, b} {
		for _, k := range group {
			s := k.String()
			if seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, k)
		}
	}
	return out
}
