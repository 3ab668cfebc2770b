package service

import (
	"context"
	"sync"
	"time"
)

// MemoryAbuseGuard is a sliding-window counter held in process memory.
// Suitable for a single instance; multi-instance deployments should use
// RedisAbuseGuard so the window is shared.
type MemoryAbuseGuard struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time
}

func NewMemoryAbuseGuard() *MemoryAbuseGuard {
	return &MemoryAbuseGuard{
		windows: make(map[string][]time.Time),
		now:     time.Now,
	}
}

func (g *MemoryAbuseGuard) Check(ctx context.Context, key string, limit int, window time.Duration) (AbuseDecision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	cutoff := now.Add(-window)

	hits := g.windows[key]
	kept := hits[:0]
	for _, t := range hits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= limit {
		g.windows[key] = kept
		retry := kept[0].Add(window).Sub(now)
		if retry < time.Second {
			retry = time.Second
		}
		return AbuseDecision{Limited: true, RetryAfter: retry}, nil
	}

	g.windows[key] = append(kept, now)
	return AbuseDecision{}, nil
}

// Prune drops keys whose every hit has aged out. Run it periodically so the
// map does not grow unbounded under churning keys.
func (g *MemoryAbuseGuard) Prune(maxAge time.Duration) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := g.now().Add(-maxAge)
	removed := 0
	for key, hits := range g.windows {
		live := false
		for _, t := range hits {
			if t.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(g.windows, key)
			removed++
		}
	}
	return removed
}
