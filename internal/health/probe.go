package health

import (
	"context"
	"sync"
	"time"
)

// CheckFunc reports whether one dependency is usable.
type CheckFunc func(ctx context.Context) error

type CheckResult struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// ProbeRunner runs registered readiness checks with a shared timeout.
type ProbeRunner struct {
	mu      sync.RWMutex
	checks  []namedCheck
	timeout time.Duration
}

type namedCheck struct {
	name string
	fn   CheckFunc
}

func NewProbeRunner(timeout time.Duration) *ProbeRunner {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ProbeRunner{timeout: timeout}
}

func (p *ProbeRunner) Register(name string, fn CheckFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checks = append(p.checks, namedCheck{name: name, fn: fn})
}

// Ready runs every check and reports overall readiness plus per-check
// results for the response body.
func (p *ProbeRunner) Ready(ctx context.Context) (bool, []CheckResult) {
	p.mu.RLock()
	checks := make([]namedCheck, len(p.checks))
	copy(checks, p.checks)
	p.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ready := true
	results := make([]CheckResult, 0, len(checks))
	for _, c := range checks {
		res := CheckResult{Name: c.name, Healthy: true}
		if err := c.fn(ctx); err != nil {
			res.Healthy = false
			res.Error = err.Error()
			ready = false
		}
		results = append(results, res)
	}
	return ready, results
}
