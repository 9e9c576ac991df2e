package ratelimit

import "time"

// Record is a fixed-window counter for a single client key.
type Record struct {
	Count   int
	ResetAt time.Time
}

// IsZero reports whether the record is the absent sentinel.
func (r Record) IsZero() bool {
	return r.Count == 0 && r.ResetAt.IsZero()
}

// Store is the keyed counter storage behind the limiter. The in-memory
// implementation serves single-process deployments; a shared-cache variant
// can be swapped in for multi-process setups without touching the
// admission algorithm.
//
// Per-key read-modify-write cycles go through CompareAndSwap so concurrent
// checks for the same key cannot lose increments. A zero-valued old Record
// means "insert only if no record exists".
type Store interface {
	// Get returns the record for key, and whether one exists.
	Get(key string) (Record, bool)
	// CompareAndSwap replaces the record for key only if the stored value
	// still equals old. A zero old record means create-if-absent.
	CompareAndSwap(key string, old, new Record) bool
	// Sweep removes records fully expired at now and returns how many were
	// dropped. Memory hygiene only; Get/CompareAndSwap stay correct with or
	// without sweeping.
	Sweep(now time.Time) int
}
