// Package ratelimit implements a distributed sliding-window admission
// check. Window state lives in Redis as one sorted set of timestamps per
// client key so enforcement holds across instances. If the coordination
// store is unreachable the limiter fails open: the request is admitted
// and the failure is surfaced as a warning metric.
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

const (
	// DefaultWindow and DefaultCapacity implement "5 requests per second".
	DefaultWindow   = time.Second
	DefaultCapacity = 5

	// storeTimeout bounds coordination-store calls so a slow store cannot
	// stall admission; a timeout counts as unreachable (fail open).
	storeTimeout = 50 * time.Millisecond
)

// Store slides the window for a key: drop entries older than now-window,
// append now, and report the resulting count and the oldest surviving
// entry. Implementations must make the sequence atomic per key.
type Store interface {
	Slide(ctx context.Context, key string, now time.Time, window, ttl time.Duration) (count int, oldest time.Time, err error)
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	FailOpen   bool
	RetryAfter time.Duration
}

// Limiter performs sliding-window admission checks.
type Limiter struct {
	store    Store
	window   time.Duration
	capacity int
	logger   log.Logger
	metrics  *Metrics
}

// New creates a limiter. A nil metrics disables instrumentation.
func New(store Store, window time.Duration, capacity int, logger log.Logger, metrics *Metrics) *Limiter {
	if logger == nil {
		logger = log.Nop()
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Limiter{
		store:    store,
		window:   window,
		capacity: capacity,
		logger:   logger,
		metrics:  metrics,
	}
}

// Allow runs the admission check for the given client key.
func (l *Limiter) Allow(ctx context.Context, key string) Decision {
	now := time.Now()

	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	count, oldest, err := l.store.Slide(sctx, "ratelimit:"+key, now, l.window, 2*l.window)
	if err != nil {
		l.logger.Warn(ctx, "rate limit store unreachable, failing open", "key", key, "error", err)
		if l.metrics != nil {
			l.metrics.FailOpenTotal.Inc()
		}
		return Decision{Allowed: true, FailOpen: true}
	}

	if count > l.capacity {
		retry := l.window - now.Sub(oldest)
		if retry < time.Second {
			retry = time.Second
		}
		if l.metrics != nil {
			l.metrics.RejectedTotal.Inc()
		}
		return Decision{Allowed: false, RetryAfter: retry}
	}

	if l.metrics != nil {
		l.metrics.AllowedTotal.Inc()
	}
	return Decision{Allowed: true}
}

// Middleware rejects over-limit requests with 429 and a Retry-After header.
// keyFn derives the client identifier from the request.
func (l *Limiter) Middleware(keyFn func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := l.Allow(r.Context(), keyFn(r))
			if !d.Allowed {
				secs := int(d.RetryAfter.Round(time.Second) / time.Second)
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate_limited","retry_after":` + strconv.Itoa(secs) + `}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
