package bkey

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	bk := New("users", "alice")
	decoded, err := Decode(bk.Encode())
	require.NoError(t, err)
	require.Equal(t, bk.Bucket, decoded.Bucket)
	require.Equal(t, bk.Key, decoded.Key)
}

func TestEncodeDistinguishesBoundary(t *testing.T) {
	// ("ab", "c") must not collide with ("a", "bc") — the length prefix is
	// what keeps the two distinct in the flat key space.
	a := New("ab", "c")
	b := New("a", "bc")
	require.NotEqual(t, a.Encode(), b.Encode())
}

func TestHash160Deterministic(t *testing.T) {
	bk := New("b", "k1")
	require.Equal(t, bk.Hash160(), New("b", "k1").Hash160())
	require.NotEqual(t, bk.Hash160(), New("b", "k2").Hash160())
}

func TestDecodeTruncated(t *testing.T) {
	_, err := Decode([]byte{0, 0})
	require.Error(t, err)
}
