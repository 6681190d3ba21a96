package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCache(maxSize int, ttl time.Duration) (*LRU[string], *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := New[string](Config{Name: "test", MaxSize: maxSize, TTL: ttl})
	c.now = clock.Now
	return c, clock
}

func TestBasicGetSet(t *testing.T) {
	c, _ := newTestCache(10, time.Minute)

	if _, ok := c.Get("a"); ok {
		t.Error("expected miss on empty cache")
	}
	c.Set("a", "alpha")
	got, ok := c.Get("a")
	if !ok || got != "alpha" {
		t.Fatalf("Get(a) = %q, %v", got, ok)
	}

	stats := c.GetStats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Size != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestTTLExpiration(t *testing.T) {
	c, clock := newTestCache(10, 60*time.Second)
	c.Set("k", "v")

	clock.Advance(59 * time.Second)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("expected hit before TTL")
	}

	clock.Advance(time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expired entry must never be returned")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry still stored, Len() = %d", c.Len())
	}
	if c.GetStats().Evictions == 0 {
		t.Error("expected an eviction due to TTL")
	}
}

func TestZeroTTLNeverExpires(t *testing.T) {
	c, clock := newTestCache(2, 0)
	c.Set("k", "v")
	clock.Advance(24 * time.Hour)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("zero TTL should disable expiry")
	}
}

func TestLRUEviction(t *testing.T) {
	c, _ := newTestCache(3, time.Minute)
	c.Set("a", "1")
	c.Set("b", "2")
	c.Set("c", "3")

	// Touch a so b becomes the least recently used.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected hit for a")
	}
	c.Set("d", "4")

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	for _, k := range []string{"a", "c", "d"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("%s should still be cached", k)
		}
	}
	if c.Len() != 3 {
		t.Errorf("Len() = %d, want 3", c.Len())
	}
}

func TestSetExistingKeyRefreshes(t *testing.T) {
	c, clock := newTestCache(2, time.Minute)
	c.Set("a", "old")
	clock.Advance(50 * time.Second)
	c.Set("a", "new")
	clock.Advance(50 * time.Second)

	got, ok := c.Get("a")
	if !ok || got != "new" {
		t.Fatalf("Get(a) = %q, %v", got, ok)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestEvictExpired(t *testing.T) {
	c, clock := newTestCache(10, time.Minute)
	c.Set("old", "1")
	clock.Advance(45 * time.Second)
	c.Set("new", "2")
	clock.Advance(30 * time.Second)

	if n := c.EvictExpired(); n != 1 {
		t.Errorf("EvictExpired() = %d, want 1", n)
	}
	if _, ok := c.Get("new"); !ok {
		t.Error("fresh entry evicted")
	}
}

func TestStartPeriodicEviction(t *testing.T) {
	c, clock := newTestCache(10, time.Minute)
	c.Set("old", "1")
	clock.Advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.StartPeriodicEviction(ctx, 5*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for c.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expired entry was not swept")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestClear(t *testing.T) {
	c, _ := newTestCache(4, time.Minute)
	c.Set("a", "1")
	c.Set("b", "2")
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len() after Clear = %d", c.Len())
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New[int](Config{Name: "concurrent", MaxSize: 32, TTL: time.Minute})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (g*200+i)%50)
				c.Set(key, i)
				c.Get(key)
			}
		}(g)
	}
	wg.Wait()

	if c.Len() > 32 {
		t.Errorf("Len() = %d exceeds capacity", c.Len())
	}
}
