package rate

import (
	"context"
	"sync"
	"time"

	xrate "golang.org/x/time/rate"
)

// Config defines rate limiting parameters for an outbound integration.
type Config struct {
	RequestsPerSecond float64
	Burst             int
	// IdleTTL is how long an unused per-key limiter is kept before Prune drops it.
	IdleTTL time.Duration
}

type entry struct {
	limiter    *xrate.Limiter
	lastAccess time.Time
}

// Manager holds per-key token bucket limiters (one per oracle role or payment provider).
type Manager struct {
	mu       sync.Mutex
	limiters map[string]*entry
	defaults Config
}

func NewManager(defaults Config) *Manager {
	if defaults.Burst <= 0 {
		defaults.Burst = 1
	}
	if defaults.IdleTTL <= 0 {
		defaults.IdleTTL = 30 * time.Minute
	}
	return &Manager{
		limiters: make(map[string]*entry),
		defaults: defaults,
	}
}

// GetLimiter returns the limiter for key, creating it from the defaults on first use.
func (m *Manager) GetLimiter(key string) *xrate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.limiters[key]
	if !ok {
		limit := xrate.Inf
		if m.defaults.RequestsPerSecond > 0 {
			limit = xrate.Limit(m.defaults.RequestsPerSecond)
		}
		e = &entry{limiter: xrate.NewLimiter(limit, m.defaults.Burst)}
		m.limiters[key] = e
	}
	e.lastAccess = time.Now()
	return e.limiter
}

// Allow reports whether a call for key may proceed right now.
func (m *Manager) Allow(key string) bool {
	return m.GetLimiter(key).Allow()
}

// Wait blocks until a token for key is available or ctx is done.
func (m *Manager) Wait(ctx context.Context, key string) error {
	return m.GetLimiter(key).Wait(ctx)
}

// Prune drops limiters idle for longer than IdleTTL and returns how many were removed.
func (m *Manager) Prune() int {
	cutoff := time.Now().Add(-m.defaults.IdleTTL)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, e := range m.limiters {
		if e.lastAccess.Before(cutoff) {
			delete(m.limiters, k)
			n++
		}
	}
	return n
}

// StartPruner runs Prune on interval until ctx is done.
func (m *Manager) StartPruner(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Prune()
		case <-ctx.Done():
			return
		}
	}
}
