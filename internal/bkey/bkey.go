// Package bkey implements the (bucket, key) identifier used throughout the
// core: ring placement, storage namespacing, and vnode addressing all key
// off the same opaque byte-string pair.
package bkey

import (
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"math/big"
)

// BKey is an opaque (bucket, key) pair. Both fields are arbitrary byte
// strings; neither is interpreted by the core.
type BKey struct {
	Bucket []byte
	Key    []byte
}

// New builds a BKey from string bucket/key names, the common case for
// client-facing APIs.
func New(bucket, key string) BKey {
	return BKey{Bucket: []byte(bucket), Key: []byte(key)}
}

// Encode serializes bk as a length-prefixed concatenation suitable for use
// as a storage-engine key: 4-byte big-endian bucket length, bucket bytes,
// 4-byte big-endian key length, key bytes.
func (bk BKey) Encode() []byte {
	out := make([]byte, 0, 8+len(bk.Bucket)+len(bk.Key))
	var lenBuf [4]byte

	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(bk.Bucket)))
	out = append(out, lenBuf[:]...)
	out = append(out, bk.Bucket...)

	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(bk.Key)))
	out = append(out, lenBuf[:]...)
	out = append(out, bk.Key...)
	return out
}

// Decode parses the wire form produced by Encode.
func Decode(b []byte) (BKey, error) {
	if len(b) < 4 {
		return BKey{}, fmt.Errorf("bkey: truncated bucket length")
	}
	bucketLen := binary.BigEndian.Uint32(b)
	b = b[4:]
	if uint32(len(b)) < bucketLen {
		return BKey{}, fmt.Errorf("bkey: truncated bucket")
	}
	bucket := b[:bucketLen]
	b = b[bucketLen:]

	if len(b) < 4 {
		return BKey{}, fmt.Errorf("bkey: truncated key length")
	}
	keyLen := binary.BigEndian.Uint32(b)
	b = b[4:]
	if uint32(len(b)) < keyLen {
		return BKey{}, fmt.Errorf("bkey: truncated key")
	}
	key := b[:keyLen]

	return BKey{Bucket: append([]byte(nil), bucket...), Key: append([]byte(nil), key...)}, nil
}

// String renders a human-readable "bucket/key" form for logs.
func (bk BKey) String() string {
	return fmt.Sprintf("%s/%s", bk.Bucket, bk.Key)
}

// Hash160 computes the ring position of bk: sha1(bucket || key)
// interpreted as an unsigned 160-bit integer, per the design's hash160
// primitive. SHA-1 is used deliberately here rather than a faster
// non-cryptographic hash — this value decides data ownership across the
// whole cluster and low collision probability matters more than raw
// throughput; the Merkle-tree digests computed per-write (internal/vnode)
// use a faster hash instead because those are purely internal checksums.
func (bk BKey) Hash160() *big.Int {
	h := sha1.New()
	h.Write(bk.Bucket)
	h.Write(bk.Key)
	sum := h.Sum(nil)
	return new(big.Int).SetBytes(sum)
}
