package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Resource keys for the two shared budgets.
const (
	ResourceExtraction = "extraction"
	ResourceGeocoding  = "geocoding"
)

// ErrUnknownResource is returned when Acquire is called for a resource that
// was never configured. This is a programming error, not a transient one.
var ErrUnknownResource = errors.New("rate limit resource not configured")

type bucket struct {
	max         int
	window      time.Duration
	windowStart time.Time
	used        int
}

// Limiter enforces per-resource fixed-window budgets: each bucket refills its
// full allowance at every window boundary, and Acquire blocks callers once
// the allowance for the current window is spent. One Limiter is shared
// process-wide so the budget holds across all concurrent workers.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	logger  *logrus.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an empty limiter. Resources must be configured before use.
func New(logger *logrus.Logger) *Limiter {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Limiter{
		buckets: make(map[string]*bucket),
		logger:  logger,
		now:     time.Now,
		sleep:   sleepWithContext,
	}
}

// Configure installs (or replaces) the bucket for a resource.
func (l *Limiter) Configure(resource string, maxRequests int, window time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buckets[resource] = &bucket{
		max:         maxRequests,
		window:      window,
		windowStart: l.now(),
	}
	l.logger.WithFields(logrus.Fields{
		"resource":     resource,
		"max_requests": maxRequests,
		"window":       window.String(),
	}).Info("Configured rate limit")
}

// Acquire blocks until a token for the resource is available or the context
// is done. Acquiring an unconfigured resource fails immediately.
func (l *Limiter) Acquire(ctx context.Context, resource string) error {
	for {
		l.mu.Lock()
		b, ok := l.buckets[resource]
		if !ok {
			l.mu.Unlock()
			return fmt.Errorf("%w: %q", ErrUnknownResource, resource)
		}

		now := l.now()
		if now.Sub(b.windowStart) >= b.window {
			b.windowStart = now
			b.used = 0
		}
		if b.used < b.max {
			b.used++
			l.mu.Unlock()
			return nil
		}
		wait := b.window - now.Sub(b.windowStart)
		l.mu.Unlock()

		l.logger.WithFields(logrus.Fields{
			"resource": resource,
			"wait":     wait.String(),
		}).Debug("Rate limit reached, waiting for next window")

		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
