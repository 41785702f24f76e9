package http

import "time"

// tokenBucket limits per-connection inbound message rate. Single-goroutine
// use only: each connection's read loop owns its own bucket.
type tokenBucket struct {
	rate     float64
	capacity float64
	tokens   float64
	last     time.Time
}

func newTokenBucket(messagesPerSecond int) *tokenBucket {
	rate := float64(messagesPerSecond)
	return &tokenBucket{
		rate:     rate,
		capacity: rate,
		tokens:   rate,
		last:     time.Now(),
	}
}

func (tb *tokenBucket) Allow(now time.Time) bool {
	elapsed := now.Sub(tb.last).Seconds()
	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.last = now

	if tb.tokens < 1 {
		return false
	}
	tb.tokens--
	return true
}
