package services

import (
	"context"
	"sync"
	"time"

	"go-relayer/internal/metrics"
	"go-relayer/internal/types"
)

// RateLimitDecision is the outcome of one rate limit check
type RateLimitDecision struct {
	Allowed    bool
	Count      int           // accepted requests in the current window, including this one if allowed
	RetryAfter time.Duration // time until the window resets, set when rejected
}

// RateLimiter decides accept/reject per caller key against a fixed window.
// Implementations must make each decision a single atomic update of the key's entry.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (RateLimitDecision, error)
}

// CheckRateLimit runs limiter for key and converts a rejection into *types.RateLimitedError
func CheckRateLimit(ctx context.Context, limiter RateLimiter, key string) error {
	decision, err := limiter.Allow(ctx, key)
	if err != nil {
		return &types.UpstreamUnavailableError{Op: "rate limit check", Err: err}
	}
	if !decision.Allowed {
		metrics.RateLimitedTotal.Inc()
		return &types.RateLimitedError{RetryAfter: decision.RetryAfter}
	}
	return nil
}

type rateLimitEntry struct {
	count       int
	windowStart time.Time
}

// MemoryRateLimiter is an in-process fixed window limiter
type MemoryRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*rateLimitEntry
	max     int
	window  time.Duration
	now     func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewMemoryRateLimiter creates a limiter accepting max requests per window per key
func NewMemoryRateLimiter(max int, window time.Duration) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		entries: make(map[string]*rateLimitEntry),
		max:     max,
		window:  window,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
}

// Allow counts a request for key. The first request, or the first after the window
// has elapsed, resets the counter to 1. Rejected requests are not counted.
func (l *MemoryRateLimiter) Allow(_ context.Context, key string) (RateLimitDecision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, exists := l.entries[key]
	if !exists || now.Sub(entry.windowStart) >= l.window {
		l.entries[key] = &rateLimitEntry{count: 1, windowStart: now}
		return RateLimitDecision{Allowed: true, Count: 1}, nil
	}

	if entry.count >= l.max {
		return RateLimitDecision{
			Allowed:    false,
			Count:      entry.count,
			RetryAfter: entry.windowStart.Add(l.window).Sub(now),
		}, nil
	}

	entry.count++
	return RateLimitDecision{Allowed: true, Count: entry.count}, nil
}

// StartEviction periodically drops entries whose window has elapsed
func (l *MemoryRateLimiter) StartEviction(interval time.Duration) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-l.stopCh:
				return
			case <-ticker.C:
				l.evictExpired()
			}
		}
	}()
}

func (l *MemoryRateLimiter) evictExpired() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	evicted := 0
	for key, entry := range l.entries {
		if now.Sub(entry.windowStart) >= l.window {
			delete(l.entries, key)
			evicted++
		}
	}
	return evicted
}

// Stop halts eviction
func (l *MemoryRateLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	l.wg.Wait()
}
