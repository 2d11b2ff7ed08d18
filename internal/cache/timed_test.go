package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(ttl time.Duration) (*Timed[int], *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	c := NewTimed[int](ttl)
	c.SetClock(clock.Now)
	return c, clock
}

func TestTimed_ServesFreshValue(t *testing.T) {
	c, clock := newTestCache(600 * time.Second)
	ctx := context.Background()

	var fetches int
	fetch := func(ctx context.Context) (int, error) {
		fetches++
		return 40 + fetches, nil
	}

	first, err := c.GetOrRefresh(ctx, fetch)
	if err != nil {
		t.Fatalf("first lookup failed: %v", err)
	}

	clock.Advance(599 * time.Second)
	second, err := c.GetOrRefresh(ctx, fetch)
	if err != nil {
		t.Fatalf("second lookup failed: %v", err)
	}

	if fetches != 1 {
		t.Errorf("expected 1 fetch within TTL, got %d", fetches)
	}
	if first != second {
		t.Errorf("expected identical cached value, got %d and %d", first, second)
	}
}

func TestTimed_RefreshesAfterTTL(t *testing.T) {
	c, clock := newTestCache(600 * time.Second)
	ctx := context.Background()

	var fetches int
	fetch := func(ctx context.Context) (int, error) {
		fetches++
		return fetches, nil
	}

	c.GetOrRefresh(ctx, fetch)
	clock.Advance(600 * time.Second)

	got, err := c.GetOrRefresh(ctx, fetch)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if fetches != 2 {
		t.Errorf("expected exactly one extra fetch after TTL, got %d total", fetches)
	}
	if got != 2 {
		t.Errorf("expected refreshed value 2, got %d", got)
	}
}

func TestTimed_FailedRefreshKeepsStaleValue(t *testing.T) {
	c, clock := newTestCache(time.Minute)
	ctx := context.Background()

	if _, err := c.GetOrRefresh(ctx, func(ctx context.Context) (int, error) { return 7, nil }); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	clock.Advance(2 * time.Minute)

	fetchErr := errors.New("feed down")
	if _, err := c.GetOrRefresh(ctx, func(ctx context.Context) (int, error) { return 0, fetchErr }); !errors.Is(err, fetchErr) {
		t.Fatalf("expected fetch error, got %v", err)
	}

	value, age, ok, err := c.Peek(ctx)
	if err != nil || !ok {
		t.Fatalf("expected stale value to survive, ok=%v err=%v", ok, err)
	}
	if value != 7 {
		t.Errorf("expected stale value 7, got %d", value)
	}
	if age != 2*time.Minute {
		t.Errorf("expected age 2m, got %v", age)
	}

	// The next attempt fetches again.
	got, err := c.GetOrRefresh(ctx, func(ctx context.Context) (int, error) { return 8, nil })
	if err != nil || got != 8 {
		t.Errorf("expected recovery with 8, got %d (%v)", got, err)
	}
}

func TestTimed_ConcurrentCallersShareOneFetch(t *testing.T) {
	c := NewTimed[int](time.Minute)
	ctx := context.Background()

	var fetches atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (int, error) {
		fetches.Add(1)
		<-release
		return 99, nil
	}

	const callers = 10
	var wg sync.WaitGroup
	results := make([]int, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrRefresh(ctx, fetch)
			if err != nil {
				t.Errorf("caller %d failed: %v", i, err)
			}
			results[i] = v
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := fetches.Load(); n != 1 {
		t.Errorf("expected a single fetch, got %d", n)
	}
	for i, v := range results {
		if v != 99 {
			t.Errorf("caller %d got %d, want 99", i, v)
		}
	}
}

func TestTimed_WaiterHonoursContext(t *testing.T) {
	c := NewTimed[int](time.Minute)

	started := make(chan struct{})
	release := make(chan struct{})
	go c.GetOrRefresh(context.Background(), func(ctx context.Context) (int, error) {
		close(started)
		<-release
		return 1, nil
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.GetOrRefresh(ctx, func(ctx context.Context) (int, error) { return 2, nil }); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded while waiting, got %v", err)
	}

	close(release)

	// The slot is released once the first fetch returns.
	got, err := c.GetOrRefresh(context.Background(), func(ctx context.Context) (int, error) { return 3, nil })
	if err != nil || got != 1 {
		t.Errorf("expected cached 1, got %d (%v)", got, err)
	}
}

func TestTimed_DefaultTTLAndInvalidate(t *testing.T) {
	c := NewTimed[string](0)
	if c.TTL() != DefaultTTL {
		t.Errorf("expected default TTL %v, got %v", DefaultTTL, c.TTL())
	}

	ctx := context.Background()
	c.GetOrRefresh(ctx, func(ctx context.Context) (string, error) { return "a", nil })
	if err := c.Invalidate(ctx); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
	if _, _, ok, _ := c.Peek(ctx); ok {
		t.Error("expected empty cache after invalidate")
	}
}
