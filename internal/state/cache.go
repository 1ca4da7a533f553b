// Package state holds live data behind a lock that readers never wait
// on: a refresh builds the next value off to the side and swaps it in.
package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rileyhilliard/fleetwatch/internal/errors"
	"github.com/rileyhilliard/fleetwatch/internal/logger"
	"github.com/rileyhilliard/fleetwatch/internal/metrics"
)

// MsgInProgress is returned by a non-blocking refresh that found another
// refresh running.
const MsgInProgress = "refresh in progress"

const defaultKey = "refresh"

// Producer builds the next value from the previously committed one,
// which is nil until the first successful refresh or Seed.
type Producer[T any] func(ctx context.Context, prev *T) (*T, error)

// View is a consistent read of the cache.
type View[T any] struct {
	// Data is nil until the cache has been populated.
	Data        *T
	LastError   string
	LastErrorAt time.Time
	// LastRefresh is the time of the last successful refresh, zero if
	// none has happened yet (a seeded value doesn't count).
	LastRefresh time.Time
}

// Ready reports whether there is data to serve.
func (v View[T]) Ready() bool {
	return v.Data != nil
}

// Result reports the outcome of a refresh.
type Result struct {
	OK      bool   `json:"ok"`
	Message string `json:"detail"`
}

// Cache is a single-writer, many-reader holder for a value of type T.
type Cache[T any] struct {
	name    string
	log     logger.Logger
	metrics *metrics.Recorder
	now     func() time.Time

	// refreshMu is held for the whole duration of a refresh.
	refreshMu sync.Mutex
	group     singleflight.Group

	mu          sync.RWMutex
	current     *T
	lastError   string
	lastErrorAt time.Time
	lastRefresh time.Time
}

// New creates an empty cache. name labels logs and metrics.
func New[T any](name string, log logger.Logger, m *metrics.Recorder) *Cache[T] {
	if log == nil {
		log = logger.Noop()
	}
	return &Cache[T]{name: name, log: log, metrics: m, now: time.Now}
}

// Snapshot returns the committed value and its metadata without waiting
// for a running refresh.
func (c *Cache[T]) Snapshot() View[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return View[T]{
		Data:        c.current,
		LastError:   c.lastError,
		LastErrorAt: c.lastErrorAt,
		LastRefresh: c.lastRefresh,
	}
}

// Seed installs a value, typically loaded from disk at startup, without
// recording a refresh.
func (c *Cache[T]) Seed(value *T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = value
}

// Refresh runs producer and commits its result. See RefreshKeyed.
func (c *Cache[T]) Refresh(ctx context.Context, producer Producer[T], blocking bool) Result {
	return c.RefreshKeyed(ctx, defaultKey, producer, blocking)
}

// RefreshKeyed runs producer under the refresh lock. A non-blocking call
// that finds the lock taken returns immediately with MsgInProgress.
// Blocking calls with the same key that overlap share one execution and
// its result; different keys wait for each other.
func (c *Cache[T]) RefreshKeyed(ctx context.Context, key string, producer Producer[T], blocking bool) Result {
	if !blocking {
		if !c.refreshMu.TryLock() {
			c.metrics.ObserveRefresh(c.name, metrics.OutcomeBusy)
			return Result{OK: false, Message: MsgInProgress}
		}
		defer c.refreshMu.Unlock()
		return c.run(ctx, producer)
	}

	v, _, _ := c.group.Do(key, func() (interface{}, error) {
		c.refreshMu.Lock()
		defer c.refreshMu.Unlock()
		return c.run(ctx, producer), nil
	})
	return v.(Result)
}

func (c *Cache[T]) run(ctx context.Context, producer Producer[T]) (res Result) {
	c.mu.RLock()
	prev := c.current
	c.mu.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			res = c.fail(fmt.Errorf("refresh panicked: %v", r))
		}
	}()

	next, err := producer(ctx, prev)
	if err != nil {
		return c.fail(err)
	}
	if next == nil {
		return c.fail(fmt.Errorf("refresh produced no data"))
	}

	c.mu.Lock()
	c.current = next
	c.lastError = ""
	c.lastErrorAt = time.Time{}
	c.lastRefresh = c.now()
	c.mu.Unlock()

	c.metrics.ObserveRefresh(c.name, metrics.OutcomeOK)
	return Result{OK: true, Message: "refreshed"}
}

func (c *Cache[T]) fail(err error) Result {
	msg := errors.Summarize(err)

	c.mu.Lock()
	c.lastError = msg
	c.lastErrorAt = c.now()
	c.mu.Unlock()

	c.metrics.ObserveRefresh(c.name, metrics.OutcomeError)
	c.log.Warn("%s refresh failed: %s", c.name, msg)
	return Result{OK: false, Message: "refresh failed: " + msg}
}
