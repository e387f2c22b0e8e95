package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is a fixed-window counter keyed by caller.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) bool
}

// Rule binds a limit to a key namespace.
type Rule struct {
	Prefix string
	Limit  int
	Window time.Duration
}

func (r Rule) Allow(ctx context.Context, limiter Limiter, key string) bool {
	if limiter == nil || key == "" {
		return true
	}
	return limiter.Allow(ctx, r.Prefix+":"+key, r.Limit, r.Window)
}

type MemoryLimiter struct {
	mu      sync.Mutex
	now     func() time.Time
	buckets map[string]*bucket
}

type bucket struct {
	count     int
	windowEnd time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{now: time.Now, buckets: make(map[string]*bucket)}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) bool {
	if key == "" || limit <= 0 || window <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	b, ok := l.buckets[key]
	if !ok || now.After(b.windowEnd) {
		l.buckets[key] = &bucket{count: 1, windowEnd: now.Add(window)}
		l.sweep(now)
		return true
	}
	if b.count >= limit {
		return false
	}
	b.count++
	return true
}

// sweep drops expired windows once the map grows.
func (l *MemoryLimiter) sweep(now time.Time) {
	if len(l.buckets) < 4096 {
		return
	}
	for key, b := range l.buckets {
		if now.After(b.windowEnd) {
			delete(l.buckets, key)
		}
	}
}

type NoopLimiter struct{}

func (NoopLimiter) Allow(context.Context, string, int, time.Duration) bool {
	return true
}
