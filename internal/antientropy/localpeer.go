package antientropy

import (
	"kvring/internal/bkey"
	"kvring/internal/vnode"
)

// LocalPeer adapts an in-process *vnode.Vnode to Peer, for exchanging
// with a vnode owned by this same node (or, in tests, for exchanging
// between two in-memory vnodes without a network hop).
type LocalPeer struct{ V *vnode.Vnode }

func (p LocalPeer) TreeBuilt() bool      { return p.V.TreeBuilt() }
func (p LocalPeer) RootHash() uint64     { return p.V.RootHash() }
func (p LocalPeer) InternalHashes() []uint64 { return p.V.InternalHashes() }

func (p LocalPeer) LeafHashesUnder(internalIdx int) []uint64 {
	return p.V.LeafHashesUnder(internalIdx)
}

func (p LocalPeer) CandidateKeys(leafIdx int) []bkey.BKey {
	return p.V.CandidateKeys(leafIdx)
}
