// Package ratelimit implements the shared, token-bucket-like request
// counter (C8): a primary counter backed by Redis with an in-memory
// sliding-window fallback, arranged behind a circuit breaker so the
// limiter never fails open and never blocks a request on a dead Redis.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Result is the outcome of a Limiter.Allow check.
type Result struct {
	Allowed   bool
	Remaining int
	RetryAfter time.Duration
}

// Limiter checks and increments a sliding-window counter keyed by an
// arbitrary string (e.g. "ip:1.2.3.4:minute" or "agent:<id>:minute").
type Limiter struct {
	primary  *redisBackend
	fallback *memoryBackend

	failThreshold int
	openDuration  time.Duration

	mu               sync.Mutex
	consecutiveFails int
	circuitOpenUntil time.Time
	halfOpenTried    bool
}

// Config configures a Limiter's backends and circuit-breaker thresholds.
type Config struct {
	// Redis is the primary backend's client. A nil client runs the limiter
	// on the in-memory fallback only (used by tests and by deployments that
	// intentionally skip Redis).
	Redis *redis.Client
	// FailThreshold is the number of consecutive primary failures before the
	// circuit opens. Defaults to 5 per §4.8.
	FailThreshold int
	// OpenDuration is how long the circuit stays open before a half-open
	// trial request. Defaults to 30s per §4.8.
	OpenDuration time.Duration
	// FallbackCap bounds the number of distinct keys the in-memory fallback
	// tracks, per §4.8's 10,000-key cap.
	FallbackCap int
}

// New builds a Limiter from cfg, applying §4.8's defaults.
func New(cfg Config) *Limiter {
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 5
	}
	if cfg.OpenDuration == 0 {
		cfg.OpenDuration = 30 * time.Second
	}
	if cfg.FallbackCap == 0 {
		cfg.FallbackCap = 10_000
	}
	l := &Limiter{
		fallback:      newMemoryBackend(cfg.FallbackCap),
		failThreshold: cfg.FailThreshold,
		openDuration:  cfg.OpenDuration,
	}
	if cfg.Redis != nil {
		l.primary = &redisBackend{client: cfg.Redis}
	}
	return l
}

// Allow reports whether the next request under key, given limit requests
// per window, is permitted. It never returns an error: on every primary
// failure it transparently falls back to the in-memory counter, per
// §4.8's "never fails open" contract (fails CLOSED onto the fallback,
// not open to unlimited traffic).
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) Result {
	now := time.Now()

	if l.primary != nil && l.circuitState(now) != circuitOpen {
		res, err := l.primary.incr(ctx, key, limit, window)
		if err == nil {
			l.recordSuccess()
			return res
		}
		l.recordFailure(now)
		slog.Warn("ratelimit: primary backend failed, falling back", "key", key, "err", err)
	}

	return l.fallback.allow(key, limit, window, now)
}

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

func (l *Limiter) circuitState(now time.Time) circuitState {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.circuitOpenUntil.IsZero() || now.After(l.circuitOpenUntil) {
		if !l.circuitOpenUntil.IsZero() && !l.halfOpenTried {
			l.halfOpenTried = true
			return circuitHalfOpen
		}
		return circuitClosed
	}
	return circuitOpen
}

func (l *Limiter) recordFailure(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.consecutiveFails++
	// A failure after the open window has lapsed (the half-open trial)
	// re-opens the circuit rather than leaving it closed.
	if l.consecutiveFails >= l.failThreshold && (l.circuitOpenUntil.IsZero() || now.After(l.circuitOpenUntil)) {
		l.circuitOpenUntil = now.Add(l.openDuration)
		l.halfOpenTried = false
		slog.Warn("ratelimit: circuit opened", "until", l.circuitOpenUntil)
	}
}

func (l *Limiter) recordSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.consecutiveFails = 0
	l.circuitOpenUntil = time.Time{}
	l.halfOpenTried = false
}

// SweepFallback prunes expired windows from the in-memory fallback. Run on
// a 10-minute ticker alongside the primary's own key expiry (Redis prunes
// itself via EXPIRE; only the fallback needs an explicit sweep).
func (l *Limiter) SweepFallback(now time.Time) {
	l.fallback.sweep(now)
}

// RunSweeper starts a background ticker that prunes the in-memory fallback
// every interval until ctx is done. Call once at process startup.
func RunSweeper(ctx context.Context, l *Limiter, interval time.Duration) {
	if interval == 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			l.SweepFallback(t)
		}
	}
}
