package ratelimit

import (
	"time"
)

// Config describes one endpoint class of admission control.
type Config struct {
	MaxRequests int
	Window      time.Duration
	KeyPrefix   string
	Message     string
}

// Decision is the outcome of a single admission check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int // seconds until the window resets, set when denied
}

// Limiter implements fixed-window admission control over a Store. Fixed
// windows trade boundary-burst precision for O(1) memory per key, which is
// the right trade for abuse deterrence.
type Limiter struct {
	store Store
	now   func() time.Time
}

func NewLimiter(store Store) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

// WithClock swaps the time source, used by tests for deterministic windows.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

const casRetries = 8

// Check records one request for clientKey and decides allow/deny. It never
// fails: an absent record is a first request, and CAS contention resolves
// by retrying against the freshly observed record.
func (l *Limiter) Check(clientKey string, cfg Config) Decision {
	key := cfg.KeyPrefix + ":" + clientKey

	for attempt := 0; attempt < casRetries; attempt++ {
		now := l.now()
		cur, ok := l.store.Get(key)

		if !ok || !now.Before(cur.ResetAt) {
			// First request for this key, or the previous window elapsed.
			fresh := Record{Count: 1, ResetAt: now.Add(cfg.Window)}
			old := Record{}
			if ok {
				old = cur
			}
			if l.store.CompareAndSwap(key, old, fresh) {
				return Decision{
					Allowed:   true,
					Limit:     cfg.MaxRequests,
					Remaining: cfg.MaxRequests - 1,
					ResetAt:   fresh.ResetAt,
				}
			}
			continue
		}

		if cur.Count >= cfg.MaxRequests {
			return Decision{
				Allowed:    false,
				Limit:      cfg.MaxRequests,
				Remaining:  0,
				ResetAt:    cur.ResetAt,
				RetryAfter: retryAfterSeconds(cur.ResetAt, now),
			}
		}

		next := Record{Count: cur.Count + 1, ResetAt: cur.ResetAt}
		if l.store.CompareAndSwap(key, cur, next) {
			return Decision{
				Allowed:   true,
				Limit:     cfg.MaxRequests,
				Remaining: cfg.MaxRequests - next.Count,
				ResetAt:   cur.ResetAt,
			}
		}
	}

	// Pathological contention: admit rather than block legitimate traffic.
	return Decision{
		Allowed:   true,
		Limit:     cfg.MaxRequests,
		Remaining: 0,
		ResetAt:   l.now().Add(cfg.Window),
	}
}

func retryAfterSeconds(resetAt, now time.Time) int {
	d := resetAt.Sub(now)
	if d <= 0 {
		return 1
	}
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
