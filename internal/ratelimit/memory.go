package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryBucket struct {
	windowStart time.Time
	window      time.Duration
	count       int64
}

func (b *memoryBucket) expired(now time.Time) bool {
	return now.Sub(b.windowStart) >= b.window
}

// MemoryLimiter keeps windows in process memory. It is only correct for a
// single replica.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*memoryBucket
	now     func() time.Time
	calls   int
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{buckets: make(map[string]*memoryBucket), now: time.Now}
}

func (m *MemoryLimiter) Take(_ context.Context, identifier string, cost, limit int64, window time.Duration) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.calls++
	if m.calls%1024 == 0 {
		m.prune(now)
	}

	b, ok := m.buckets[identifier]
	if !ok || now.Sub(b.windowStart) >= window {
		b = &memoryBucket{windowStart: now, window: window}
		m.buckets[identifier] = b
	}
	b.count += cost

	return newResult(b.count, limit, b.windowStart.Add(window)), nil
}

// prune drops buckets whose own window has passed; call sites use different
// windows.
func (m *MemoryLimiter) prune(now time.Time) {
	for k, b := range m.buckets {
		if b.expired(now) {
			delete(m.buckets, k)
		}
	}
}
