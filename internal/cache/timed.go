package cache

import (
	"context"
	"time"
)

// DefaultTTL is how long a fetched value is served before it is refetched.
const DefaultTTL = 600 * time.Second

// FetchFunc loads a fresh value, usually over the network.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Timed holds a single value together with the time it was fetched.
//
// The slot lock is held across the fetch, so callers that arrive while a
// refresh is running wait for it and then observe its result instead of
// issuing their own request. Waiting respects the caller's context.
type Timed[T any] struct {
	ttl  time.Duration
	now  func() time.Time
	slot chan struct{}

	value     T
	fetchedAt time.Time
	valid     bool
}

// NewTimed creates an empty cache. A non-positive ttl selects DefaultTTL.
func NewTimed[T any](ttl time.Duration) *Timed[T] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Timed[T]{
		ttl:  ttl,
		now:  time.Now,
		slot: make(chan struct{}, 1),
	}
}

// SetClock replaces the time source. Intended for tests.
func (c *Timed[T]) SetClock(now func() time.Time) {
	c.now = now
}

// TTL returns the staleness threshold.
func (c *Timed[T]) TTL() time.Duration {
	return c.ttl
}

func (c *Timed[T]) lock(ctx context.Context) error {
	select {
	case c.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Timed[T]) unlock() {
	<-c.slot
}

// GetOrRefresh returns the cached value while it is fresh, otherwise calls
// fetch and stores its result. A failed fetch leaves the previous value in
// place and returns the fetch error.
func (c *Timed[T]) GetOrRefresh(ctx context.Context, fetch FetchFunc[T]) (T, error) {
	var zero T
	if err := c.lock(ctx); err != nil {
		return zero, err
	}
	defer c.unlock()

	if c.valid && c.now().Sub(c.fetchedAt) < c.ttl {
		return c.value, nil
	}

	value, err := fetch(ctx)
	if err != nil {
		return zero, err
	}

	c.value = value
	c.fetchedAt = c.now()
	c.valid = true
	return value, nil
}

// Peek returns the cached value and its age without fetching. ok is false
// when nothing has been cached yet.
func (c *Timed[T]) Peek(ctx context.Context) (value T, age time.Duration, ok bool, err error) {
	if err = c.lock(ctx); err != nil {
		return value, 0, false, err
	}
	defer c.unlock()

	if !c.valid {
		return value, 0, false, nil
	}
	return c.value, c.now().Sub(c.fetchedAt), true, nil
}

// Invalidate drops the cached value so the next lookup fetches.
func (c *Timed[T]) Invalidate(ctx context.Context) error {
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.unlock()

	var zero T
	c.value = zero
	c.valid = false
	return nil
}
