// Package redisstore implements the shared store contract on Redis.
//
// Redis is the only durable, cross-instance state boundary: any gateway
// instance may service any connection's events as long as it can reach the
// store. Every call runs under a bounded timeout so no operation blocks a
// connection's event loop indefinitely.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vendloc/vendloc/internal/platform/timeouts"
	"github.com/vendloc/vendloc/internal/store"
)

// incrWindow establishes the (count, expiry) pair atomically: the expiry is
// stamped in the same script invocation that starts a fresh window.
var incrWindow = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 and tonumber(ARGV[1]) > 0 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Store is a Redis-backed store.Store implementation.
type Store struct {
	client      *redis.Client
	callTimeout time.Duration
}

// New wraps an existing Redis client. The caller owns the client lifecycle.
func New(client *redis.Client) *Store {
	return &Store{
		client:      client,
		callTimeout: timeouts.StoreCall,
	}
}

func (s *Store) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.callTimeout)
}

// Get returns the value at key, or store.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	callCtx, cancel := s.callCtx(ctx)
	defer cancel()

	value, err := s.client.Get(callCtx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, nil
}

// Set writes value at key with an optional ttl.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	callCtx, cancel := s.callCtx(ctx)
	defer cancel()

	if err := s.client.Set(callCtx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes the given keys.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	callCtx, cancel := s.callCtx(ctx)
	defer cancel()

	if err := s.client.Del(callCtx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// SetAdd adds members to the set at key.
func (s *Store) SetAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	callCtx, cancel := s.callCtx(ctx)
	defer cancel()

	if err := s.client.SAdd(callCtx, key, anySlice(members)...).Err(); err != nil {
		return fmt.Errorf("redis sadd %s: %w", key, err)
	}
	return nil
}

// SetRemove removes members from the set at key.
func (s *Store) SetRemove(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	callCtx, cancel := s.callCtx(ctx)
	defer cancel()

	if err := s.client.SRem(callCtx, key, anySlice(members)...).Err(); err != nil {
		return fmt.Errorf("redis srem %s: %w", key, err)
	}
	return nil
}

// SetMembers returns all members of the set at key.
func (s *Store) SetMembers(ctx context.Context, key string) ([]string, error) {
	callCtx, cancel := s.callCtx(ctx)
	defer cancel()

	members, err := s.client.SMembers(callCtx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers %s: %w", key, err)
	}
	return members, nil
}

// Incr increments the counter at key, stamping the window expiry when a
// fresh window starts.
func (s *Store) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	callCtx, cancel := s.callCtx(ctx)
	defer cancel()

	seconds := int64(window / time.Second)
	count, err := incrWindow.Run(callCtx, s.client, []string{key}, seconds).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	return count, nil
}

// Scan returns all keys with the given prefix.
func (s *Store) Scan(ctx context.Context, prefix string) ([]string, error) {
	callCtx, cancel := s.callCtx(ctx)
	defer cancel()

	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(callCtx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan %s: %w", prefix, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

func anySlice(members []string) []any {
	out := make([]any, len(members))
	for i, member := range members {
		out[i] = member
	}
	return out
}
