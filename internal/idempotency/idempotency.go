// Package idempotency replays the first successful response for mutating
// calls that carry an Idempotency-Key header. The cache is process-local
// with TTL eviction; the interface is narrow enough that a shared store
// can be substituted without behavioral change.
package idempotency

import (
	"bytes"
	"net/http"
	"sync"
	"time"
)

// Header is the client-supplied idempotency key header.
const Header = "Idempotency-Key"

// DefaultTTL is how long a cached response is replayable.
const DefaultTTL = time.Hour

type entry struct {
	body        []byte
	contentType string
	expiresAt   time.Time
}

// Cache stores first successful response bodies keyed by idempotency key.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

// NewCache creates a cache with the given TTL (DefaultTTL if zero).
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached body for a key if present and unexpired.
func (c *Cache) Get(key string) ([]byte, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, "", false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, "", false
	}
	return e.body, e.contentType, true
}

// Put records the first successful response for a key. Later writes for
// the same key are ignored so replays stay byte-identical.
func (c *Cache) Put(key string, body []byte, contentType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && c.now().Before(e.expiresAt) {
		return
	}
	c.entries[key] = entry{
		body:        append([]byte(nil), body...),
		contentType: contentType,
		expiresAt:   c.now().Add(c.ttl),
	}
}

// Sweep drops expired entries. Called periodically by the owner.
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}

// captureWriter buffers a handler's response so it can be cached.
type captureWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (w *captureWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *captureWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	w.buf.Write(p)
	return w.ResponseWriter.Write(p)
}

// Middleware replays cached responses for repeated keys and records the
// first successful (2xx) response for new ones. Requests without the
// header pass through untouched.
func (c *Cache) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(Header)
		if key == "" || r.Method == http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}

		if body, ct, ok := c.Get(key); ok {
			if ct != "" {
				w.Header().Set("Content-Type", ct)
			}
			w.Header().Set("X-Idempotency-Replay", "true")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(body)
			return
		}

		cw := &captureWriter{ResponseWriter: w}
		next.ServeHTTP(cw, r)

		if cw.status >= 200 && cw.status < 300 {
			c.Put(key, cw.buf.Bytes(), cw.Header().Get("Content-Type"))
		}
	})
}
