// Package ratelimit implements per-identity fixed-window request
// counting. The backing store is an in-process map, which assumes a
// single-instance deployment; a shared store can replace it behind the
// same Limiter interface without touching the gateway pipeline.
package ratelimit

import (
	"sync"
	"time"
)

// Tier names a rate-limit configuration.
type Tier string

const (
	TierStandard  Tier = "standard"
	TierPremium   Tier = "premium"
	TierIngestion Tier = "ingestion"
)

// Config is one tier's (limit, window) pair. Prefix namespaces the
// identity so tiers never share windows.
type Config struct {
	Limit  int
	Window time.Duration
	Prefix string
}

// Result reports the outcome of one Check call.
type Result struct {
	Success    bool
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
}

// Limiter is the minimal surface the gateway pipeline depends on.
type Limiter interface {
	Check(identifier string) Result
	Reset(identifier string)
}

type window struct {
	count   int
	resetAt time.Time
}

// FixedWindow is the in-memory Limiter. Safe for concurrent use; the
// increment-or-create runs under one mutex so no counts are lost.
type FixedWindow struct {
	cfg Config

	mu      sync.Mutex
	windows map[string]*window
}

// NewFixedWindow creates a limiter for one tier configuration.
func NewFixedWindow(cfg Config) *FixedWindow {
	if cfg.Prefix == "" {
		cfg.Prefix = "rl"
	}
	return &FixedWindow{
		cfg:     cfg,
		windows: make(map[string]*window),
	}
}

// Check counts one request for the identity. A missing or expired
// window restarts at count 1. Over the limit, RetryAfter carries the
// time remaining in the window.
func (l *FixedWindow) Check(identifier string) Result {
	key := l.cfg.Prefix + ":" + identifier
	now := time.Now()

	l.mu.Lock()
	w := l.windows[key]
	if w == nil || !now.Before(w.resetAt) {
		w = &window{count: 1, resetAt: now.Add(l.cfg.Window)}
		l.windows[key] = w
	} else {
		w.count++
	}
	count, resetAt := w.count, w.resetAt
	l.mu.Unlock()

	remaining := l.cfg.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	res := Result{
		Success:   count <= l.cfg.Limit,
		Limit:     l.cfg.Limit,
		Remaining: remaining,
		Reset:     resetAt,
	}
	if !res.Success {
		res.RetryAfter = resetAt.Sub(now)
	}
	return res
}

// Reset forces the identity's window to restart with count 0.
func (l *FixedWindow) Reset(identifier string) {
	key := l.cfg.Prefix + ":" + identifier
	l.mu.Lock()
	l.windows[key] = &window{count: 0, resetAt: time.Now().Add(l.cfg.Window)}
	l.mu.Unlock()
}

// Sweep drops expired windows. Correctness never depends on this; it
// only bounds memory growth.
func (l *FixedWindow) Sweep() {
	now := time.Now()
	l.mu.Lock()
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
		}
	}
	l.mu.Unlock()
}

var _ Limiter = (*FixedWindow)(nil)

// DefaultTiers builds the three limiters the API uses.
func DefaultTiers() map[Tier]*FixedWindow {
	return map[Tier]*FixedWindow{
		TierStandard:  NewFixedWindow(Config{Limit: 60, Window: time.Minute, Prefix: "api:std"}),
		TierPremium:   NewFixedWindow(Config{Limit: 200, Window: time.Minute, Prefix: "api:pre"}),
		TierIngestion: NewFixedWindow(Config{Limit: 200, Window: time.Minute, Prefix: "api:ing"}),
	}
}

// Limiters widens the concrete tier map to the interface surface the
// gateway pipeline depends on.
func Limiters(tiers map[Tier]*FixedWindow) map[Tier]Limiter {
	out := make(map[Tier]Limiter, len(tiers))
	for tier, l := range tiers {
		out[tier] = l
	}
	return out
}

// StartCleanupWorker sweeps all given limiters once per minute.
func StartCleanupWorker(limiters map[Tier]*FixedWindow) {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			for _, l := range limiters {
				l.Sweep()
			}
		}
	}()
}
