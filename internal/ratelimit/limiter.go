// Package ratelimit provides per-client token-bucket admission for the
// dispatcher. Buckets are refilled lazily from elapsed time; a rejected
// check never consumes a token.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultIdleTTL = 10 * time.Minute

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type Limiter struct {
	mu        sync.Mutex
	enabled   bool
	perSecond float64
	burst     int
	buckets   map[string]*bucket
}

func New(enabled bool, perSecond float64, burst int) *Limiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		enabled:   enabled,
		perSecond: perSecond,
		burst:     burst,
		buckets:   make(map[string]*bucket),
	}
}

// Allow reports whether one request from key is admitted now.
func (l *Limiter) Allow(key string) bool {
	return l.allowAt(key, time.Now())
}

func (l *Limiter) allowAt(key string, now time.Time) bool {
	l.mu.Lock()
	if !l.enabled {
		l.mu.Unlock()
		return true
	}
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(l.perSecond), l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	return b.limiter.AllowN(now, 1)
}

func (l *Limiter) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Reconfigure replaces rate parameters and drops existing buckets so the
// new rate applies immediately to every client.
func (l *Limiter) Reconfigure(enabled bool, perSecond float64, burst int) {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	l.mu.Lock()
	l.enabled = enabled
	l.perSecond = perSecond
	l.burst = burst
	l.buckets = make(map[string]*bucket)
	l.mu.Unlock()
}

// Sweep drops buckets idle longer than ttl and returns how many were removed.
func (l *Limiter) Sweep(ttl time.Duration) int {
	return l.sweepAt(time.Now(), ttl)
}

func (l *Limiter) sweepAt(now time.Time, ttl time.Duration) int {
	if ttl <= 0 {
		ttl = defaultIdleTTL
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > ttl {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// StartSweeping removes idle buckets on an interval until ctx is done.
func (l *Limiter) StartSweeping(ctx context.Context, interval, ttl time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep(ttl)
		}
	}
}
