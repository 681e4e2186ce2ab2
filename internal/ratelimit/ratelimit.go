// Package ratelimit provides fixed-window request limiting per
// (subject, operation class) pair, backed by the shared store.
//
// Fixed windows were chosen over token buckets deliberately: the counters
// are a single atomic increment per request, and burst smoothing is not
// worth the extra state for this traffic shape. The limiter fails open:
// if the store is unreachable, rate-limiting correctness is sacrificed for
// availability of the underlying feature.
package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/vendloc/vendloc/internal/store"
)

// Preset names an operation class with its limit and window.
type Preset struct {
	Name   string
	Limit  int64
	Window time.Duration
}

// Operation-class presets.
var (
	// Strict covers account-mutating operations.
	Strict = Preset{Name: "strict", Limit: 5, Window: time.Minute}
	// Standard covers user location updates.
	Standard = Preset{Name: "standard", Limit: 15, Window: time.Minute}
	// Lenient covers vendor location updates.
	Lenient = Preset{Name: "lenient", Limit: 30, Window: time.Minute}
	// Status covers read-only polling.
	Status = Preset{Name: "status", Limit: 60, Window: time.Minute}
)

// Limiter counts requests in fixed windows keyed by subject and preset.
type Limiter struct {
	store store.Store
}

// New creates a limiter on the given store client.
func New(st store.Store) *Limiter {
	return &Limiter{store: st}
}

// Allow consumes one request for subjectID under the preset. It reports
// false only when the post-increment count exceeds the preset limit; the
// count is never decremented mid-window. On store failure it logs and
// reports true.
func (l *Limiter) Allow(ctx context.Context, subjectID string, p Preset) bool {
	key := "ratelimit:" + p.Name + ":" + subjectID
	count, err := l.store.Incr(ctx, key, p.Window)
	if err != nil {
		log.Printf("ratelimit: store unavailable, failing open for %q: %v", subjectID, err)
		return true
	}
	return count <= p.Limit
}
