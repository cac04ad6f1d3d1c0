// Package ratelimit limits how often each key may be used with token
// buckets. Buckets start full and refill continuously at capacity tokens
// per window.
//
//	limiter := ratelimit.New(60, time.Minute) // 60 calls per minute per key
//
//	if !limiter.Allow("add_task") {
//	    return errBusy
//	}
//
//	// Or block until a token is available
//	if err := limiter.Wait(ctx, "add_task"); err != nil {
//	    return err
//	}
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Common errors.
var (
	ErrClosed = errors.New("limiter closed")
)

// Capacity describes a key's bucket.
type Capacity struct {
	Key       string
	Available int
	Total     int
	Window    time.Duration
}

// bucket implements a token bucket.
type bucket struct {
	available  int
	lastRefill time.Time
}

// Limiter holds one bucket per key. It is safe for concurrent use.
type Limiter struct {
	capacity int
	window   time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
	closed  bool
	nowFunc func() time.Time // for testing
}

// New creates a limiter allowing capacity uses per window for each key.
// A non-positive capacity or window allows everything.
func New(capacity int, window time.Duration) *Limiter {
	return &Limiter{
		capacity: capacity,
		window:   window,
		buckets:  make(map[string]*bucket),
		nowFunc:  time.Now,
	}
}

func (l *Limiter) unlimited() bool {
	return l.capacity <= 0 || l.window <= 0
}

// refill adds the tokens earned since the last refill. lastRefill only
// advances by whole tokens so partial progress is kept.
func (l *Limiter) refill(b *bucket, now time.Time) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	per := l.window / time.Duration(l.capacity)
	if per <= 0 {
		per = 1
	}
	tokens := int(elapsed / per)
	if tokens == 0 {
		return
	}
	b.available += tokens
	b.lastRefill = b.lastRefill.Add(time.Duration(tokens) * per)
	if b.available >= l.capacity {
		b.available = l.capacity
		b.lastRefill = now
	}
}

func (l *Limiter) bucket(key string, now time.Time) *bucket {
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{available: l.capacity, lastRefill: now}
		l.buckets[key] = b
	}
	l.refill(b, now)
	return b
}

// reserve takes a token for key, or reports how long until one is due.
func (l *Limiter) reserve(key string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false, 0, ErrClosed
	}
	if l.unlimited() {
		return true, 0, nil
	}

	now := l.nowFunc()
	b := l.bucket(key, now)
	if b.available > 0 {
		b.available--
		return true, 0, nil
	}
	per := l.window / time.Duration(l.capacity)
	return false, b.lastRefill.Add(per).Sub(now), nil
}

// Allow takes a token for key without blocking.
func (l *Limiter) Allow(key string) bool {
	ok, _, err := l.reserve(key)
	return ok && err == nil
}

// Wait blocks until a token for key is available or ctx ends.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	for {
		ok, delay, err := l.reserve(key)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if delay <= 0 {
			delay = time.Millisecond
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Capacity returns the state of key's bucket.
func (l *Limiter) Capacity(key string) Capacity {
	l.mu.Lock()
	defer l.mu.Unlock()

	c := Capacity{Key: key, Total: l.capacity, Window: l.window}
	if l.unlimited() {
		c.Available = l.capacity
		return c
	}
	c.Available = l.bucket(key, l.nowFunc()).available
	return c
}

// Close makes every later call fail with ErrClosed.
func (l *Limiter) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	l.closed = true
	return nil
}
