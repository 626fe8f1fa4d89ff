package remote

import (
	"log/slog"
	"sync"
	"time"

	"audiobook-feed/internal/metrics"
)

// Default cool-down windows.
const (
	DefaultRateLimitBackoff = 60 * time.Second
	DefaultFailureBackoff   = 2 * time.Minute
)

// Health is the circuit breaker of one catalog. While open, every catalog
// operation short-circuits without touching the network.
type Health struct {
	name             string
	rateLimitBackoff time.Duration
	failureBackoff   time.Duration
	now              func() time.Time
	metrics          *metrics.Metrics

	mu               sync.Mutex
	unavailableUntil time.Time
}

// HealthOption configures a Health.
type HealthOption func(*Health)

// WithBackoff overrides the rate-limit and failure cool-downs. Zero keeps the default.
func WithBackoff(rateLimit, failure time.Duration) HealthOption {
	return func(h *Health) {
		if rateLimit > 0 {
			h.rateLimitBackoff = rateLimit
		}
		if failure > 0 {
			h.failureBackoff = failure
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) HealthOption {
	return func(h *Health) {
		if now != nil {
			h.now = now
		}
	}
}

// WithMetrics records breaker trips.
func WithMetrics(m *metrics.Metrics) HealthOption {
	return func(h *Health) {
		h.metrics = m
	}
}

// NewHealth creates a closed breaker for the named catalog.
func NewHealth(name string, opts ...HealthOption) *Health {
	h := &Health{
		name:             name,
		rateLimitBackoff: DefaultRateLimitBackoff,
		failureBackoff:   DefaultFailureBackoff,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Available reports whether calls may reach the network.
func (h *Health) Available() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.now().Before(h.unavailableUntil)
}

// UnavailableUntil returns the end of the current cool-down, zero when closed.
func (h *Health) UnavailableUntil() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.now().Before(h.unavailableUntil) {
		return time.Time{}
	}
	return h.unavailableUntil
}

// TripRateLimit opens the breaker for retryAfter, or the default rate-limit
// backoff when the server gave no usable hint.
func (h *Health) TripRateLimit(retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = h.rateLimitBackoff
	}
	h.trip(retryAfter, "rate_limited")
}

// TripFailure opens the breaker for the failure cool-down.
func (h *Health) TripFailure() {
	h.trip(h.failureBackoff, "failed")
}

// Reset closes the breaker.
func (h *Health) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unavailableUntil = time.Time{}
}

func (h *Health) trip(d time.Duration, reason string) {
	h.mu.Lock()
	until := h.now().Add(d)
	// A shorter hint never shortens a cool-down already in force.
	if until.After(h.unavailableUntil) {
		h.unavailableUntil = until
	}
	until = h.unavailableUntil
	h.mu.Unlock()

	h.metrics.BreakerTrip(h.name, reason)
	slog.Warn("Catalog marked unavailable", "catalog", h.name, "reason", reason, "until", until.Format(time.RFC3339))
}
