// Package ratelimit implements in-process RPM admission with a lazy-refill token bucket.
package ratelimit

import (
	"sync"
	"time"
)

// Result is the outcome of a rate limit check.
type Result struct {
	Allowed           bool
	Limit             int64
	Remaining         int64
	RetryAfterSeconds float64
}

// Bucket is a token bucket with lazy refill (no background goroutine).
type Bucket struct {
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastFill time.Time
}

func newBucket(limit int64, now time.Time) *Bucket {
	return &Bucket{
		tokens:   float64(limit),
		max:      float64(limit),
		rate:     float64(limit) / 60.0, // per-minute limit -> per-second rate
		lastFill: now,
	}
}

// refill adds tokens based on elapsed time since last refill.
func (b *Bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastFill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = min(b.max, b.tokens+elapsed*b.rate)
	b.lastFill = now
}

// tryConsume refills, then takes n tokens if available.
func (b *Bucket) tryConsume(n float64, now time.Time) (remaining int64, allowed bool) {
	b.refill(now)
	if b.tokens >= n {
		b.tokens -= n
		return int64(b.tokens), true
	}
	return 0, false
}

// retryAfter returns seconds until n tokens are available.
func (b *Bucket) retryAfter(n float64) float64 {
	if b.tokens >= n {
		return 0
	}
	return (n - b.tokens) / b.rate
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now. Tests use it to step time deterministically.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// Limiter admits calls at up to rpm per minute. It never blocks; a rejected
// caller decides for itself when to try again.
type Limiter struct {
	mu    sync.Mutex
	rpm   *Bucket // nil if unlimited
	limit int64
	now   func() time.Time
}

// NewLimiter creates a Limiter starting at full capacity. rpm <= 0 means unlimited.
func NewLimiter(rpm int64, opts ...Option) *Limiter {
	l := &Limiter{limit: rpm, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	if rpm > 0 {
		l.rpm = newBucket(rpm, l.now())
	}
	return l
}

// Acquire consumes one token and reports whether the call was admitted.
func (l *Limiter) Acquire() bool {
	return l.Allow().Allowed
}

// Allow consumes one token. A rejection leaves the token count unchanged
// apart from the refill and reports how long until a token is free.
func (l *Limiter) Allow() Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rpm == nil {
		return Result{Allowed: true}
	}

	remaining, ok := l.rpm.tryConsume(1, l.now())
	if ok {
		return Result{
			Allowed:   true,
			Limit:     l.limit,
			Remaining: remaining,
		}
	}
	return Result{
		Allowed:           false,
		Limit:             l.limit,
		Remaining:         0,
		RetryAfterSeconds: l.rpm.retryAfter(1),
	}
}

// Snapshot returns current state without consuming.
func (l *Limiter) Snapshot() Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rpm == nil {
		return Result{Allowed: true, Remaining: -1}
	}
	l.rpm.refill(l.now())
	return Result{
		Allowed:   l.rpm.tokens >= 1,
		Limit:     l.limit,
		Remaining: int64(l.rpm.tokens),
	}
}
