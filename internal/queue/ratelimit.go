package queue

import "time"

// tokenBucket meters job activations. Not self-locking: the queue
// calls it under its own mutex.
type tokenBucket struct {
	tokens   float64
	capacity float64
	rps      float64
	last     time.Time
}

// newTokenBucket starts full so a fresh queue can burst up to the
// per-minute budget immediately.
func newTokenBucket(rps float64, burst int) *tokenBucket {
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &tokenBucket{
		tokens:   float64(burst),
		capacity: float64(burst),
		rps:      rps,
	}
}

// reserve consumes a token and returns 0, or returns how long until
// the next token accrues.
func (b *tokenBucket) reserve(now time.Time) time.Duration {
	if !b.last.IsZero() {
		b.tokens += now.Sub(b.last).Seconds() * b.rps
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
	}
	b.last = now

	if b.tokens >= 1 {
		b.tokens--
		return 0
	}
	wait := time.Duration((1 - b.tokens) / b.rps * float64(time.Second))
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait
}
