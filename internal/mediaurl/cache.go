// Package mediaurl resolves attachment paths to short-lived signed URLs and
// caches them for the lifetime of a client session.
package mediaurl

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTTL is the validity requested for every signed URL.
	DefaultTTL = 5 * time.Minute
	// DefaultRefreshMargin re-signs URLs this long before they expire.
	DefaultRefreshMargin = 30 * time.Second
	signTimeout          = 10 * time.Second
)

// Signer issues a signed URL for a vault path.
type Signer interface {
	SignURL(ctx context.Context, path string, ttl time.Duration) (string, error)
}

type entry struct {
	url      string
	issuedAt time.Time
}

// Cache maps attachment paths to signed URLs. Concurrent requests for the
// same path share one signing call. A path that failed to sign is not retried
// until the next render cycle.
type Cache struct {
	signer Signer
	ttl    time.Duration
	margin time.Duration
	now    func() time.Time
	logger *slog.Logger

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]entry
	failed  map[string]struct{}
	// epoch changes on Clear so in-flight results from before it are dropped.
	epoch uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets the validity requested from the signer.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithRefreshMargin sets how long before expiry a URL is re-signed.
func WithRefreshMargin(m time.Duration) Option {
	return func(c *Cache) { c.margin = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger used for signing failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New returns an empty Cache backed by signer.
func New(signer Signer, opts ...Option) *Cache {
	c := &Cache{
		signer:  signer,
		ttl:     DefaultTTL,
		margin:  DefaultRefreshMargin,
		now:     time.Now,
		logger:  slog.Default(),
		entries: make(map[string]entry),
		failed:  make(map[string]struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.margin >= c.ttl {
		c.margin = c.ttl / 2
	}
	return c
}

// Resolve returns a signed URL for path. ok is false when signing failed;
// the failure is remembered until NextCycle and never returned as an error.
func (c *Cache) Resolve(ctx context.Context, path string) (string, bool) {
	c.mu.Lock()
	if _, bad := c.failed[path]; bad {
		c.mu.Unlock()
		return "", false
	}
	if e, hit := c.entries[path]; hit && c.fresh(e) {
		c.mu.Unlock()
		return e.url, true
	}
	epoch := c.epoch
	c.mu.Unlock()

	ch := c.group.DoChan(path, func() (any, error) {
		return c.sign(ctx, path, epoch)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", false
		}
		return res.Val.(string), true
	case <-ctx.Done():
		return "", false
	}
}

func (c *Cache) sign(ctx context.Context, path string, epoch uint64) (string, error) {
	// The call is shared; one caller giving up must not fail the others.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), signTimeout)
	defer cancel()

	issued := c.now()
	url, err := c.signer.SignURL(ctx, path, c.ttl)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return url, err
	}
	if err != nil {
		c.logger.Warn("sign media url failed", slog.String("path", path), slog.String("error", err.Error()))
		c.failed[path] = struct{}{}
		delete(c.entries, path)
		return "", err
	}
	c.entries[path] = entry{url: url, issuedAt: issued}
	return url, nil
}

func (c *Cache) fresh(e entry) bool {
	return c.now().Before(e.issuedAt.Add(c.ttl - c.margin))
}

// NextCycle forgets failures so the next render retries them.
func (c *Cache) NextCycle() {
	c.mu.Lock()
	clear(c.failed)
	c.mu.Unlock()
}

// Clear drops every cached URL and failure. Call on sign-out.
func (c *Cache) Clear() {
	c.mu.Lock()
	clear(c.entries)
	clear(c.failed)
	c.epoch++
	c.mu.Unlock()
}

// Len returns the number of cached URLs.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
