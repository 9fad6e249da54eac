package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	bolt "go.etcd.io/bbolt"
)

var dataBucket = []byte("data")

// BoltEngine is the bbolt-backed Engine. Each vnode owns exactly one
// BoltEngine over its own file — bbolt already serializes writers and
// fsyncs on commit, so the prior implementation's hand-written WAL-then-memory dance
// (internal/store/store.go Put/Delete in the original) collapses into a
// single transactional Put/Delete here.
type BoltEngine struct {
	db   *bolt.DB
	path string
}

// OpenOptions configures the lock-retry policy of the design
type OpenOptions struct {
	MaxRetries  int
	InitialWait time.Duration
}

// DefaultOpenOptions retries a locked database up to 5 times
// with 2000ms backoff before surfacing the failure.
func DefaultOpenOptions() OpenOptions {
	return OpenOptions{MaxRetries: 5, InitialWait: 2000 * time.Millisecond}
}

// Open opens (creating if absent) the bbolt file at path, retrying on
// lock contention per opts. Lock contention happens when a just-crashed
// or just-stopped vnode's prior process hasn't released its file lock
// yet; go.etcd.io/bbolt surfaces that as bolt.ErrTimeout when Open is
// given a Timeout option.
func Open(path string, opts OpenOptions) (*BoltEngine, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &StorageError{Kind: KindIO, Err: fmt.Errorf("create data dir: %w", err)}
	}

	boltOpts := &bolt.Options{Timeout: 1 * time.Second}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opts.InitialWait
	bo.Multiplier = 1 // the design calls for a fixed 2000ms backoff, not exponential growth
	bo.RandomizationFactor = 0
	bo.MaxInterval = opts.InitialWait
	boWithRetries := backoff.WithMaxRetries(bo, uint64(maxInt(opts.MaxRetries, 0)))

	var db *bolt.DB
	operation := func() error {
		d, err := bolt.Open(path, 0o644, boltOpts)
		if err != nil {
			if errors.Is(err, bolt.ErrTimeout) {
				return &StorageError{Kind: KindLock, Err: err}
			}
			return backoff.Permanent(&StorageError{Kind: KindIO, Err: err})
		}
		db = d
		return nil
	}

	if err := backoff.Retry(operation, boWithRetries); err != nil {
		return nil, err
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(dataBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, &StorageError{Kind: KindIO, Err: err}
	}

	return &BoltEngine{db: db, path: path}, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (e *BoltEngine) Get(key []byte) ([]byte, bool, error) {
	var value []byte
	err := e.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(dataBucket).Get(key)
		if v != nil {
			value = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, &StorageError{Kind: KindIO, Err: err}
	}
	return value, value != nil, nil
}

func (e *BoltEngine) Put(key, value []byte) error {
	err := e.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(dataBucket).Put(key, value)
	})
	if err != nil {
		return &StorageError{Kind: KindIO, Err: err}
	}
	return nil
}

func (e *BoltEngine) Delete(key []byte) error {
	err := e.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(dataBucket).Delete(key)
	})
	if err != nil {
		return &StorageError{Kind: KindIO, Err: err}
	}
	return nil
}

func (e *BoltEngine) Batch(ops []Op) error {
	err := e.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(dataBucket)
		for _, op := range ops {
			if op.Delete {
				if err := b.Delete(op.Key); err != nil {
					return err
				}
				continue
			}
			if err := b.Put(op.Key, op.Value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &StorageError{Kind: KindIO, Err: err}
	}
	return nil
}

func (e *BoltEngine) Fold(fn func(key, value []byte) bool) error {
	err := e.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(dataBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if !fn(k, v) {
				break
			}
		}
		return nil
	})
	if err != nil {
		return &StorageError{Kind: KindIO, Err: err}
	}
	return nil
}

func (e *BoltEngine) FoldKeys(fn func(key []byte) bool) error {
	err := e.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(dataBucket).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if !fn(k) {
				break
			}
		}
		return nil
	})
	if err != nil {
		return &StorageError{Kind: KindIO, Err: err}
	}
	return nil
}

func (e *BoltEngine) IsEmpty() (bool, error) {
	empty := true
	err := e.db.View(func(tx *bolt.Tx) error {
		k, _ := tx.Bucket(dataBucket).Cursor().First()
		empty = k == nil
		return nil
	})
	if err != nil {
		return false, &StorageError{Kind: KindIO, Err: err}
	}
	return empty, nil
}

// Destroy closes the database and removes the underlying file, retrying
// a failed removal up to twice, 500ms apart.
func (e *BoltEngine) Destroy() error {
	path := e.path
	if err := e.db.Close(); err != nil {
		return &StorageError{Kind: KindIO, Err: err}
	}

	bo := backoff.NewConstantBackOff(500 * time.Millisecond)
	operation := func() error {
		err := os.Remove(path)
		if err == nil || os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return backoff.Retry(operation, backoff.WithMaxRetries(bo, 2))
}

func (e *BoltEngine) Close() error {
	if err := e.db.Close(); err != nil {
		return &StorageError{Kind: KindIO, Err: err}
	}
	return nil
}
