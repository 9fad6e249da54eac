package vnode

import (
	"bytes"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"

	"kvring/internal/bkey"
	"kvring/internal/clock"
)

// merkleTree is a vnode's anti-entropy digest over its keyspace (the design
// §4.7): fixed branching factor b, depth 2, i.e. b² leaf buckets grouped
// under b internal nodes. Hashing uses cespare/xxhash/v2 rather than the
// cryptographic sha1 internal/bkey uses for ring placement — this digest
// is purely an internal checksum recomputed on every write, so raw speed
// wins over collision-resistance.
type merkleTree struct {
	mu sync.RWMutex

	b      int
	leaves []leafBucket // len == b*b
	built  bool
}

type leafBucket struct {
	entries []leafEntry // sorted by key
}

type leafEntry struct {
	key       []byte // bkey.Encode()
	clockHash uint64
}

func newMerkleTree(b int) *merkleTree {
	if b <= 0 {
		b = 6
	}
	return &merkleTree{b: b, leaves: make([]leafBucket, b*b)}
}

func (t *merkleTree) bucketFor(bk bkey.BKey) int {
	h := xxhash.Sum64(bk.Encode())
	return int(h % uint64(len(t.leaves)))
}

// update incorporates a single key's new clock into its leaf bucket,
// replacing any prior entry for the same key (the design: "on any
// write/repair/delete the vnode updates the affected leaf hash
// incrementally").
func (t *merkleTree) update(bk bkey.BKey, c clock.Clock) {
	encodedKey := bk.Encode()
	clockHash := xxhash.Sum64(clock.Encode(c))

	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.bucketFor(bk)
	bucket := &t.leaves[idx]

	i := sort.Search(len(bucket.entries), func(i int) bool {
		return bytes.Compare(bucket.entries[i].key, encodedKey) >= 0
	})
	if i < len(bucket.entries) && bytes.Equal(bucket.entries[i].key, encodedKey) {
		bucket.entries[i].clockHash = clockHash
		return
	}
	bucket.entries = append(bucket.entries, leafEntry{})
	copy(bucket.entries[i+1:], bucket.entries[i:])
	bucket.entries[i] = leafEntry{key: encodedKey, clockHash: clockHash}
}

// leafHash hashes the concatenation of (key, clockHash) over every entry
// in bucket idx, in sorted order (already maintained by update).
func (t *merkleTree) leafHash(idx int) uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.leafHashLocked(idx)
}

func (t *merkleTree) leafHashLocked(idx int) uint64 {
	h := xxhash.New()
	for _, e := range t.leaves[idx].entries {
		h.Write(e.key)
		var buf [8]byte
		putUint64(buf[:], e.clockHash)
		h.Write(buf[:])
	}
	return h.Sum64()
}

// internalHash hashes the concatenation of the b leaf hashes under
// internal node idx (idx in [0, b)).
func (t *merkleTree) internalHash(idx int) uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h := xxhash.New()
	for _, leafIdx := range t.leavesUnderLocked(idx) {
		var buf [8]byte
		putUint64(buf[:], t.leafHashLocked(leafIdx))
		h.Write(buf[:])
	}
	return h.Sum64()
}

func (t *merkleTree) leavesUnderLocked(internalIdx int) []int {
	out := make([]int, t.b)
	for i := 0; i < t.b; i++ {
		out[i] = internalIdx*t.b + i
	}
	return out
}

// rootHash hashes the concatenation of the b internal-node hashes.
func (t *merkleTree) rootHash() uint64 {
	h := xxhash.New()
	for i := 0; i < t.b; i++ {
		var buf [8]byte
		putUint64(buf[:], t.internalHash(i))
		h.Write(buf[:])
	}
	return h.Sum64()
}

// internalHashes returns all b internal-node hashes, for the first
// descent step of an exchange.
func (t *merkleTree) internalHashes() []uint64 {
	out := make([]uint64, t.b)
	for i := 0; i < t.b; i++ {
		out[i] = t.internalHash(i)
	}
	return out
}

// leafHashesUnder returns the b leaf hashes under internal node idx.
func (t *merkleTree) leafHashesUnder(internalIdx int) []uint64 {
	t.mu.RLock()
	leaves := t.leavesUnderLocked(internalIdx)
	t.mu.RUnlock()

	out := make([]uint64, len(leaves))
	for i, l := range leaves {
		out[i] = t.leafHash(l)
	}
	return out
}

// candidateKeys returns the decoded bkeys stored in leaf idx, for the
// requestor to issue key-repair against once a leaf mismatch is found.
func (t *merkleTree) candidateKeys(idx int) []bkey.BKey {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]bkey.BKey, 0, len(t.leaves[idx].entries))
	for _, e := range t.leaves[idx].entries {
		bk, err := bkey.Decode(e.key)
		if err != nil {
			continue
		}
		out = append(out, bk)
	}
	return out
}

func (t *merkleTree) isBuilt() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.built
}

func (t *merkleTree) markBuilt() {
	t.mu.Lock()
	t.built = true
	t.mu.Unlock()
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
