package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	cur time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{cur: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cur
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.cur = f.cur.Add(d)
	f.mu.Unlock()
}

func newTestLimiter() (*Limiter, *fakeClock) {
	clock := newFakeClock()
	return NewLimiter(NewMemoryStore()).WithClock(clock.Now), clock
}

func TestCheckAllowsUpToLimit(t *testing.T) {
	limiter, _ := newTestLimiter()
	cfg := Config{MaxRequests: 3, Window: time.Minute, KeyPrefix: "api"}

	for i := 0; i < 3; i++ {
		d := limiter.Check("1.2.3.4", cfg)
		if !d.Allowed {
			t.Fatalf("request %d denied, want allowed", i+1)
		}
		if want := 3 - (i + 1); d.Remaining != want {
			t.Errorf("request %d: remaining = %d, want %d", i+1, d.Remaining, want)
		}
	}

	d := limiter.Check("1.2.3.4", cfg)
	if d.Allowed {
		t.Fatal("request over the limit was allowed")
	}
	if d.Remaining != 0 {
		t.Errorf("denied decision remaining = %d, want 0", d.Remaining)
	}
	if d.RetryAfter < 1 || d.RetryAfter > 60 {
		t.Errorf("retryAfter = %d, want within (0, 60]", d.RetryAfter)
	}
}

func TestCheckWindowResetRestoresFullQuota(t *testing.T) {
	limiter, clock := newTestLimiter()
	cfg := Config{MaxRequests: 2, Window: time.Minute, KeyPrefix: "api"}

	limiter.Check("k", cfg)
	limiter.Check("k", cfg)
	if d := limiter.Check("k", cfg); d.Allowed {
		t.Fatal("expected denial at the limit")
	}

	clock.Advance(61 * time.Second)

	d := limiter.Check("k", cfg)
	if !d.Allowed {
		t.Fatal("request after window reset denied")
	}
	if d.Remaining != 1 {
		t.Errorf("fresh window remaining = %d, want 1", d.Remaining)
	}
	if want := clock.Now().Add(time.Minute); !d.ResetAt.Equal(want) {
		t.Errorf("fresh window resetAt = %v, want %v", d.ResetAt, want)
	}
}

func TestCheckDenialDoesNotExtendWindow(t *testing.T) {
	limiter, clock := newTestLimiter()
	cfg := Config{MaxRequests: 1, Window: time.Minute, KeyPrefix: "api"}

	first := limiter.Check("k", cfg)

	// Hammering a denied key must not move its reset point.
	for i := 0; i < 10; i++ {
		clock.Advance(time.Second)
		d := limiter.Check("k", cfg)
		if d.Allowed {
			t.Fatalf("hammer request %d allowed", i)
		}
		if !d.ResetAt.Equal(first.ResetAt) {
			t.Fatalf("resetAt moved from %v to %v", first.ResetAt, d.ResetAt)
		}
	}
}

func TestCheckRetryAfterReportsFullRemainder(t *testing.T) {
	limiter, clock := newTestLimiter()
	cfg := Config{MaxRequests: 5, Window: 15 * time.Minute, KeyPrefix: "login"}

	for i := 0; i < 5; i++ {
		limiter.Check("10.0.0.1", cfg)
	}
	clock.Advance(1 * time.Second)

	d := limiter.Check("10.0.0.1", cfg)
	if d.Allowed {
		t.Fatal("sixth login attempt allowed")
	}
	if d.RetryAfter != 899 {
		t.Errorf("retryAfter = %d, want 899", d.RetryAfter)
	}
}

func TestCheckKeysAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter()
	cfg := Config{MaxRequests: 1, Window: time.Minute, KeyPrefix: "api"}

	if d := limiter.Check("a", cfg); !d.Allowed {
		t.Fatal("first key denied")
	}
	if d := limiter.Check("a", cfg); d.Allowed {
		t.Fatal("first key allowed over limit")
	}
	if d := limiter.Check("b", cfg); !d.Allowed {
		t.Fatal("second key denied by first key's quota")
	}
}

func TestCheckPrefixesAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter()
	loginCfg := Config{MaxRequests: 1, Window: time.Minute, KeyPrefix: "login"}
	apiCfg := Config{MaxRequests: 1, Window: time.Minute, KeyPrefix: "api"}

	limiter.Check("client", loginCfg)
	if d := limiter.Check("client", loginCfg); d.Allowed {
		t.Fatal("login quota not exhausted")
	}
	if d := limiter.Check("client", apiCfg); !d.Allowed {
		t.Fatal("api quota consumed by login prefix")
	}
}

func TestCheckConcurrentRequestsNeverExceedLimit(t *testing.T) {
	store := NewMemoryStore()
	limiter := NewLimiter(store)
	cfg := Config{MaxRequests: 50, Window: time.Minute, KeyPrefix: "api"}

	const workers = 20
	const perWorker = 10

	var wg sync.WaitGroup
	allowed := make(chan struct{}, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if limiter.Check("shared", cfg).Allowed {
					allowed <- struct{}{}
				}
			}
		}()
	}
	wg.Wait()
	close(allowed)

	count := 0
	for range allowed {
		count++
	}
	if count > cfg.MaxRequests {
		t.Errorf("allowed %d requests, limit is %d", count, cfg.MaxRequests)
	}
	if count < cfg.MaxRequests {
		t.Errorf("allowed %d requests, expected the full budget of %d", count, cfg.MaxRequests)
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		delta time.Duration
		want  int
	}{
		{15 * time.Minute, 900},
		{899*time.Second + 500*time.Millisecond, 900},
		{500 * time.Millisecond, 1},
		{0, 1},
		{-time.Second, 1},
	}
	for _, tc := range tests {
		if got := retryAfterSeconds(now.Add(tc.delta), now); got != tc.want {
			t.Errorf("retryAfterSeconds(+%v) = %d, want %d", tc.delta, got, tc.want)
		}
	}
}

func TestMemoryStoreCompareAndSwap(t *testing.T) {
	store := NewMemoryStore()
	reset := time.Now().Add(time.Minute)

	if !store.CompareAndSwap("k", Record{}, Record{Count: 1, ResetAt: reset}) {
		t.Fatal("create-if-absent CAS failed on empty store")
	}
	if store.CompareAndSwap("k", Record{}, Record{Count: 1, ResetAt: reset}) {
		t.Fatal("create-if-absent CAS succeeded over existing record")
	}
	cur, ok := store.Get("k")
	if !ok {
		t.Fatal("record missing after CAS")
	}
	if !store.CompareAndSwap("k", cur, Record{Count: 2, ResetAt: reset}) {
		t.Fatal("CAS with matching old record failed")
	}
	if store.CompareAndSwap("k", cur, Record{Count: 3, ResetAt: reset}) {
		t.Fatal("CAS with stale old record succeeded")
	}
}

func TestMemoryStoreSweepRemovesOnlyExpired(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()

	for i := 0; i < 5; i++ {
		store.CompareAndSwap(fmt.Sprintf("dead-%d", i), Record{}, Record{Count: 1, ResetAt: now.Add(-time.Second)})
	}
	store.CompareAndSwap("live", Record{}, Record{Count: 1, ResetAt: now.Add(time.Minute)})

	if removed := store.Sweep(now); removed != 5 {
		t.Errorf("Sweep removed %d records, want 5", removed)
	}
	if _, ok := store.Get("live"); !ok {
		t.Error("Sweep removed a live record")
	}
	if got := store.Len(); got != 1 {
		t.Errorf("store has %d records after sweep, want 1", got)
	}
}

func TestSweeperLifecycle(t *testing.T) {
	store := NewMemoryStore()
	store.CompareAndSwap("expired", Record{}, Record{Count: 1, ResetAt: time.Now().Add(-time.Minute)})

	sweeper := NewSweeper(store, 10*time.Millisecond)
	sweeper.Start()
	defer sweeper.Stop()

	deadline := time.After(2 * time.Second)
	for {
		if store.Len() == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("sweeper did not remove expired record in time")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// Stop twice must not panic.
	sweeper.Stop()
	sweeper.Stop()
}
