// Package store defines the narrow shared-store client interface the gateway
// components depend on.
//
// All cross-instance mutable state (connection bindings, room membership,
// rate-limit counters) lives behind this interface so the registry, limiter,
// and synchronizer stay stateless and horizontally scalable. Implementations
// live in subpackages: redisstore for production, memstore for tests and
// single-node runs.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a requested key is missing.
var ErrNotFound = errors.New("key not found")

// Store is the key-value client contract. Every call is an I/O boundary with
// a bounded timeout owned by the implementation; a timeout surfaces as an
// error to the caller.
type Store interface {
	// Get returns the value at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set writes value at key. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// SetAdd adds members to the set at key.
	SetAdd(ctx context.Context, key string, members ...string) error

	// SetRemove removes members from the set at key.
	SetRemove(ctx context.Context, key string, members ...string) error

	// SetMembers returns all members of the set at key. A missing set is an
	// empty result, not an error.
	SetMembers(ctx context.Context, key string) ([]string, error)

	// Incr atomically increments the counter at key and returns the new
	// value. When the post-increment value is 1 the key's expiry is set to
	// window in the same operation, so the (count, expiry) pair is
	// established atomically at window start.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)

	// Scan returns all keys with the given prefix. Used by the periodic
	// membership reconciliation pass, never on a request path.
	Scan(ctx context.Context, prefix string) ([]string, error)
}
