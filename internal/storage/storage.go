// Package storage is the thin, synchronous contract a vnode uses to talk
// to its embedded ordered-key engine. The core treats the
// engine as an external collaborator; this package adapts that contract
// onto go.etcd.io/bbolt, a real embedded ordered B+tree store from the
// example corpus (github.com/erigontech/erigon's go.mod lists it as an
// indirect dependency), replacing the prior implementation's hand-rolled WAL+snapshot
// store (internal/store/store.go, wal.go, snapshot.go in the original)
// whose durability and ordering guarantees bbolt already provides natively.
package storage

import (
	"bytes"
	"fmt"
)

// StorageError is the typed error surfaced to the vnode.
type StorageError struct {
	Kind Kind
	Err  error
}

// Kind enumerates the storage failure classes the core cares about.
type Kind int

const (
	// KindIO covers ordinary engine I/O failures.
	KindIO Kind = iota
	// KindLock means the engine reported lock contention (a prior
	// instance's file lock had not yet been released).
	KindLock
	// KindCorrupt means the persisted bytes failed to decode.
	KindCorrupt
)

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (k Kind) String() string {
	switch k {
	case KindLock:
		return "lock"
	case KindCorrupt:
		return "corrupt"
	default:
		return "io"
	}
}

// KV op used in a Batch call.
type Op struct {
	Key    []byte
	Value  []byte // ignored when Delete is set
	Delete bool
}

// Engine is the per-vnode storage contract. Keys are the
// serialized (bucket, key) pair produced by internal/bkey.
type Engine interface {
	Get(key []byte) ([]byte, bool, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Batch(ops []Op) error
	// Fold calls fn for every key/value pair in ascending key order,
	// stopping early if fn returns false.
	Fold(fn func(key, value []byte) bool) error
	// FoldKeys is Fold without decoding values, for cheap full scans.
	FoldKeys(fn func(key []byte) bool) error
	IsEmpty() (bool, error)
	Destroy() error
	Close() error
}

// compareKeys orders keys the same way bbolt's B+tree does: lexical byte
// order. Exposed for callers that need to reason about fold order without
// importing bbolt directly.
func compareKeys(a, b []byte) int { return bytes.Compare(a, b) }
