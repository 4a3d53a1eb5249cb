package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"wildid/internal/models"
)

// bucket holds a client's token bucket and its last access time for eviction.
type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter is an in-memory issuance throttle backed by
// golang.org/x/time/rate. Each client IP gets its own token bucket. A
// background goroutine evicts buckets not touched within twice the cleanup
// interval, bounding memory under IP churn.
type MemoryLimiter struct {
	rate            rate.Limit
	burst           int
	limit           int // requests per minute, for Info.Limit
	cleanupInterval time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
	done    chan struct{}
	closed  bool
}

// NewMemoryLimiter creates an issuance throttle from the configured
// per-minute rate, burst size and cleanup interval, and starts the eviction
// goroutine.
func NewMemoryLimiter(cfg models.IssueLimitConfig) *MemoryLimiter {
	m := &MemoryLimiter{
		rate:            rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute)),
		burst:           cfg.BurstSize,
		limit:           cfg.RequestsPerMinute,
		cleanupInterval: cfg.CleanupInterval,
		buckets:         make(map[string]*bucket),
		done:            make(chan struct{}),
	}
	go m.cleanup()
	return m
}

// Allow reports whether a request from the given key is within its budget.
func (m *MemoryLimiter) Allow(key string) (bool, Info) {
	m.mu.Lock()
	b, exists := m.buckets[key]
	if !exists {
		b = &bucket{limiter: rate.NewLimiter(m.rate, m.burst)}
		m.buckets[key] = b
	}
	b.lastSeen = time.Now()
	m.mu.Unlock()

	allowed := b.limiter.Allow()

	now := time.Now()
	tokens := b.limiter.TokensAt(now)
	remaining := int(math.Max(0, math.Floor(tokens)))

	// Time until the bucket refills completely.
	tokensNeeded := float64(m.burst) - tokens
	resetAt := now
	if tokensNeeded > 0 {
		resetAt = now.Add(time.Duration(tokensNeeded / float64(m.rate) * float64(time.Second)))
	}

	info := Info{
		Limit:     m.limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}

	if !allowed {
		// Time until the next token becomes available.
		reservation := b.limiter.Reserve()
		info.RetryAfter = reservation.Delay()
		reservation.Cancel()
	}

	return allowed, info
}

// Close stops the background eviction goroutine.
func (m *MemoryLimiter) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
}

func (m *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictStale()
		}
	}
}

// evictStale removes buckets idle for longer than twice the cleanup interval.
func (m *MemoryLimiter) evictStale() {
	cutoff := time.Now().Add(-2 * m.cleanupInterval)
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, b := range m.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(m.buckets, key)
		}
	}
}
