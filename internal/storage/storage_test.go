package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *BoltEngine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vnode.db")
	e, err := Open(path, DefaultOpenOptions())
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestGetMissingKey(t *testing.T) {
	e := openTemp(t)
	v, ok, err := e.Get([]byte("missing"))
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, v)
}

func TestPutThenGet(t *testing.T) {
	e := openTemp(t)
	require.NoError(t, e.Put([]byte("k"), []byte("v")))

	v, ok, err := e.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), v)
}

func TestDeleteRemovesKey(t *testing.T) {
	e := openTemp(t)
	require.NoError(t, e.Put([]byte("k"), []byte("v")))
	require.NoError(t, e.Delete([]byte("k")))

	_, ok, err := e.Get([]byte("k"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBatchMixedOps(t *testing.T) {
	e := openTemp(t)
	require.NoError(t, e.Put([]byte("a"), []byte("1")))

	err := e.Batch([]Op{
		{Key: []byte("a"), Delete: true},
		{Key: []byte("b"), Value: []byte("2")},
		{Key: []byte("c"), Value: []byte("3")},
	})
	require.NoError(t, err)

	_, ok, _ := e.Get([]byte("a"))
	require.False(t, ok)
	v, ok, _ := e.Get([]byte("b"))
	require.True(t, ok)
	require.Equal(t, []byte("2"), v)
}

func TestFoldVisitsInAscendingOrder(t *testing.T) {
	e := openTemp(t)
	require.NoError(t, e.Put([]byte("b"), []byte("2")))
	require.NoError(t, e.Put([]byte("a"), []byte("1")))
	require.NoError(t, e.Put([]byte("c"), []byte("3")))

	var keys []string
	require.NoError(t, e.Fold(func(k, v []byte) bool {
		keys = append(keys, string(k))
		return true
	}))
	require.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestFoldStopsEarly(t *testing.T) {
	e := openTemp(t)
	require.NoError(t, e.Put([]byte("a"), []byte("1")))
	require.NoError(t, e.Put([]byte("b"), []byte("2")))
	require.NoError(t, e.Put([]byte("c"), []byte("3")))

	var seen int
	require.NoError(t, e.Fold(func(k, v []byte) bool {
		seen++
		return false
	}))
	require.Equal(t, 1, seen)
}

func TestFoldKeysOmitsValues(t *testing.T) {
	e := openTemp(t)
	require.NoError(t, e.Put([]byte("a"), []byte("1")))

	var keys []string
	require.NoError(t, e.FoldKeys(func(k []byte) bool {
		keys = append(keys, string(k))
		return true
	}))
	require.Equal(t, []string{"a"}, keys)
}

func TestIsEmpty(t *testing.T) {
	e := openTemp(t)
	empty, err := e.IsEmpty()
	require.NoError(t, err)
	require.True(t, empty)

	require.NoError(t, e.Put([]byte("a"), []byte("1")))
	empty, err = e.IsEmpty()
	require.NoError(t, err)
	require.False(t, empty)
}

func TestDestroyRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vnode.db")
	e, err := Open(path, DefaultOpenOptions())
	require.NoError(t, err)
	require.NoError(t, e.Put([]byte("a"), []byte("1")))

	require.NoError(t, e.Destroy())
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))

	_, err = Open(path, DefaultOpenOptions())
	require.NoError(t, err)
}

func TestStorageErrorUnwraps(t *testing.T) {
	inner := require.AnError
	se := &StorageError{Kind: KindLock, Err: inner}
	require.ErrorIs(t, se, inner)
	require.Contains(t, se.Error(), "lock")
}
