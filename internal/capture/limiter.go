package capture

import (
	"net/netip"
	"sync"
	"time"
)

// SourceLimiter caps the packets accepted per source address within a
// fixed window. Counts reset when the window rotates.
type SourceLimiter struct {
	mu          sync.Mutex
	current     map[netip.Addr]int
	windowStart time.Time
	window      time.Duration
	limit       int
	rejected    int64
}

// NewSourceLimiter returns nil, which allows everything, when limit <= 0.
// A non-positive window defaults to 10s.
func NewSourceLimiter(limit int, window time.Duration) *SourceLimiter {
	if limit <= 0 {
		return nil
	}
	if window <= 0 {
		window = 10 * time.Second
	}
	return &SourceLimiter{
		current: make(map[netip.Addr]int),
		window:  window,
		limit:   limit,
	}
}

// Allow counts one packet from src at now and reports whether it is within
// the limit.
func (l *SourceLimiter) Allow(src netip.Addr, now time.Time) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.windowStart.IsZero() || now.Sub(l.windowStart) >= l.window {
		clear(l.current)
		l.windowStart = now
	}
	l.current[src]++
	if l.current[src] > l.limit {
		l.rejected++
		return false
	}
	return true
}

// Rejected returns the total number of rejected packets.
func (l *SourceLimiter) Rejected() int64 {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rejected
}

// ActiveSources returns the number of distinct sources in the current window.
func (l *SourceLimiter) ActiveSources() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.current)
}
