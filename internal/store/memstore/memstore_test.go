package memstore

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/vendloc/vendloc/internal/store"
)

func TestSetGetDelete(t *testing.T) {
	ctx := context.Background()
	st := New()

	if _, err := st.Get(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("get missing = %v, want store.ErrNotFound", err)
	}

	if err := st.Set(ctx, "conn:1", "payload", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := st.Get(ctx, "conn:1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "payload" {
		t.Fatalf("get = %q, want %q", got, "payload")
	}

	if err := st.Delete(ctx, "conn:1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := st.Get(ctx, "conn:1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("get deleted = %v, want store.ErrNotFound", err)
	}
}

func TestSetExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	st := New()
	now := time.Unix(1000, 0)
	st.Now = func() time.Time { return now }

	if err := st.Set(ctx, "token", "v", 30*time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := st.Get(ctx, "token"); err != nil {
		t.Fatalf("get before expiry: %v", err)
	}

	now = now.Add(31 * time.Second)
	if _, err := st.Get(ctx, "token"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("get after expiry = %v, want store.ErrNotFound", err)
	}
}

func TestSetOperations(t *testing.T) {
	ctx := context.Background()
	st := New()

	if err := st.SetAdd(ctx, "subs:room-1", "user-a", "user-b"); err != nil {
		t.Fatalf("set add: %v", err)
	}
	if err := st.SetAdd(ctx, "subs:room-1", "user-a"); err != nil {
		t.Fatalf("set add duplicate: %v", err)
	}

	members, err := st.SetMembers(ctx, "subs:room-1")
	if err != nil {
		t.Fatalf("set members: %v", err)
	}
	sort.Strings(members)
	if len(members) != 2 || members[0] != "user-a" || members[1] != "user-b" {
		t.Fatalf("members = %v, want [user-a user-b]", members)
	}

	if err := st.SetRemove(ctx, "subs:room-1", "user-a"); err != nil {
		t.Fatalf("set remove: %v", err)
	}
	if err := st.SetRemove(ctx, "subs:other", "user-a"); err != nil {
		t.Fatalf("set remove on absent set: %v", err)
	}
	members, err = st.SetMembers(ctx, "subs:room-1")
	if err != nil {
		t.Fatalf("set members: %v", err)
	}
	if len(members) != 1 || members[0] != "user-b" {
		t.Fatalf("members = %v, want [user-b]", members)
	}
}

func TestIncrStampsWindowOnFirstIncrement(t *testing.T) {
	ctx := context.Background()
	st := New()
	now := time.Unix(2000, 0)
	st.Now = func() time.Time { return now }

	for want := int64(1); want <= 3; want++ {
		count, err := st.Incr(ctx, "ratelimit:standard:user-1", time.Minute)
		if err != nil {
			t.Fatalf("incr: %v", err)
		}
		if count != want {
			t.Fatalf("count = %d, want %d", count, want)
		}
	}

	// Counts past the first must not extend the window.
	now = now.Add(59 * time.Second)
	if count, _ := st.Incr(ctx, "ratelimit:standard:user-1", time.Minute); count != 4 {
		t.Fatalf("count inside window = %d, want 4", count)
	}

	now = now.Add(2 * time.Second)
	count, err := st.Incr(ctx, "ratelimit:standard:user-1", time.Minute)
	if err != nil {
		t.Fatalf("incr after expiry: %v", err)
	}
	if count != 1 {
		t.Fatalf("count after window = %d, want 1", count)
	}
}

func TestScanFiltersByPrefixAndExpiry(t *testing.T) {
	ctx := context.Background()
	st := New()
	now := time.Unix(3000, 0)
	st.Now = func() time.Time { return now }

	if err := st.Set(ctx, "conn:1", "a", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := st.Set(ctx, "conn:2", "b", time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := st.Set(ctx, "entity:1", "c", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := st.SetAdd(ctx, "conn:members", "x"); err != nil {
		t.Fatalf("set add: %v", err)
	}

	now = now.Add(2 * time.Second)
	keys, err := st.Scan(ctx, "conn:")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "conn:1" || keys[1] != "conn:members" {
		t.Fatalf("keys = %v, want [conn:1 conn:members]", keys)
	}
}
