package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket gates inbound signaling messages per connection: each message
// costs one token, so a client may burst up to the capacity and then sustain
// rate messages per second.
//
// Refill is tracked in nanoseconds of credit rather than fractional tokens,
// so the arithmetic stays integer-exact under any fake clock. At a rate of R
// tokens/sec, one token corresponds to 1e9/R nanoseconds of elapsed time.
type TokenBucket struct {
	mu sync.Mutex

	clock    Clock
	capacity int64 // whole tokens
	rate     int64 // tokens per second

	creditNanos int64 // accumulated refill time, capped at capacity worth
	last        time.Time
}

func NewTokenBucket(clock Clock, capacity, rate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if capacity < 0 {
		capacity = 0
	}
	if rate < 0 {
		rate = 0
	}
	b := &TokenBucket{
		clock:    clock,
		capacity: capacity,
		rate:     rate,
		last:     clock.Now(),
	}
	// A fresh bucket starts full.
	b.creditNanos = b.capacityNanos()
	return b
}

// Allow consumes tokens if available. tokens <= 0 always succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if tokens <= 0 {
		return true
	}
	if b.rate <= 0 {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.accrueLocked()

	cost, ok := b.tokensToNanos(tokens)
	if !ok || b.creditNanos < cost {
		return false
	}
	b.creditNanos -= cost
	return true
}

// accrueLocked folds elapsed wall time into the credit balance.
func (b *TokenBucket) accrueLocked() {
	now := b.clock.Now()
	elapsed := now.Sub(b.last)
	b.last = now
	if elapsed <= 0 {
		// A backwards clock moves the reference point without granting or
		// revoking credit.
		return
	}

	full := b.capacityNanos()
	if remaining := full - b.creditNanos; elapsed.Nanoseconds() >= remaining {
		b.creditNanos = full
		return
	}
	b.creditNanos += elapsed.Nanoseconds()
}

func (b *TokenBucket) capacityNanos() int64 {
	n, ok := b.tokensToNanos(b.capacity)
	if !ok {
		return int64(^uint64(0) >> 1)
	}
	return n
}

// tokensToNanos converts a token count into refill-time credit. Reports false
// on overflow.
func (b *TokenBucket) tokensToNanos(tokens int64) (int64, bool) {
	if tokens <= 0 || b.rate <= 0 {
		return 0, true
	}
	perToken := int64(time.Second) / b.rate
	if perToken == 0 {
		perToken = 1
	}
	const maxInt64 = int64(^uint64(0) >> 1)
	if tokens > maxInt64/perToken {
		return 0, false
	}
	return tokens * perToken, true
}
