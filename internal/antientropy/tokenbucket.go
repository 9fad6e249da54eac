package antientropy

import (
	"context"

	"golang.org/x/time/rate"
)

// TokenBucket limits how fast a vnode starts Merkle-tree operations
// (default 90 tokens), so a burst of anti-entropy ticks can't starve
// client traffic for storage I/O. It is a rate limit, not a count of
// operations in flight: a token is spent when an operation starts and is
// not returned when it finishes, and tokens refill over time whether or
// not earlier operations have completed. Wraps
// golang.org/x/time/rate.Limiter rather than a hand-rolled bucket.
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket builds a bucket refilling at tokens/sec with burst
// capacity tokens — only a single knob is configured, so refill rate and
// burst share it.
func NewTokenBucket(tokens int) *TokenBucket {
	if tokens <= 0 {
		tokens = 90
	}
	return &TokenBucket{limiter: rate.NewLimiter(rate.Limit(tokens), tokens)}
}

// Allow reports whether a token is available right now, consuming it if
// so. A tick that can't get a token is dropped, not queued.
func (b *TokenBucket) Allow() bool { return b.limiter.Allow() }

// Wait blocks until a token is available or ctx is done.
func (b *TokenBucket) Wait(ctx context.Context) error { return b.limiter.Wait(ctx) }
