package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), "redis://"+s.Addr())
	if err != nil {
		t.Fatalf("NewRedisClient failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client, nil), s
}

func TestRedisCacheGetSet(t *testing.T) {
	c, s := setupTestCache(t)
	ctx := context.Background()

	if _, ok := c.Get(ctx, "missing"); ok {
		t.Fatal("expected miss for unknown key")
	}

	c.Set(ctx, "k1", []byte(`{"a":1}`), time.Minute)
	got, ok := c.Get(ctx, "k1")
	if !ok || string(got) != `{"a":1}` {
		t.Fatalf("Get = %q, %v", got, ok)
	}

	s.FastForward(2 * time.Minute)
	if _, ok := c.Get(ctx, "k1"); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestRedisCacheInvalidateExactAndPattern(t *testing.T) {
	c, s := setupTestCache(t)
	ctx := context.Background()
	keys := NewKeys("tf")

	c.Set(ctx, keys.Task("t1"), []byte("1"), time.Minute)
	c.Set(ctx, keys.Task("t2"), []byte("2"), time.Minute)
	c.Set(ctx, keys.UserNotificationPage("u1", 1, 20, false), []byte("p1"), time.Minute)
	c.Set(ctx, keys.UserNotificationPage("u1", 2, 20, true), []byte("p2"), time.Minute)
	c.Set(ctx, keys.UserNotificationPage("u2", 1, 20, false), []byte("other"), time.Minute)
	c.Set(ctx, keys.UserUnreadCount("u1"), []byte("3"), time.Minute)

	set := NewKeySet(keys.Task("t1"))
	set.Merge(keys.ForNotifications("u1"))
	c.Invalidate(ctx, set)

	for _, gone := range []string{
		keys.Task("t1"),
		keys.UserNotificationPage("u1", 1, 20, false),
		keys.UserNotificationPage("u1", 2, 20, true),
		keys.UserUnreadCount("u1"),
	} {
		if s.Exists(gone) {
			t.Fatalf("expected %s to be invalidated", gone)
		}
	}
	for _, kept := range []string{keys.Task("t2"), keys.UserNotificationPage("u2", 1, 20, false)} {
		if !s.Exists(kept) {
			t.Fatalf("expected %s to survive", kept)
		}
	}
}

func TestRedisCacheDegradesWhenBackendDown(t *testing.T) {
	c, s := setupTestCache(t)
	ctx := context.Background()
	c.Set(ctx, "k", []byte("v"), time.Minute)

	s.Close()

	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("expected miss while backend is down")
	}
	c.Set(ctx, "k", []byte("v2"), time.Minute)
	c.Invalidate(ctx, NewKeySet("k"))
}

func TestNilClientIsPassThrough(t *testing.T) {
	c := NewRedisCache(nil, nil)
	ctx := context.Background()
	c.Set(ctx, "k", []byte("v"), time.Minute)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("nil client must never hit")
	}
	c.Invalidate(ctx, NewKeySet("k"))
	if err := c.Ping(ctx); err == nil {
		t.Fatal("expected Ping error for disabled cache")
	}
}

func TestNewRedisClientUnreachable(t *testing.T) {
	client, err := NewRedisClient(context.Background(), "redis://127.0.0.1:1/0")
	if err == nil {
		t.Fatal("expected connection error")
	}
	if client != nil {
		t.Fatal("expected nil client on failure")
	}
}

func TestFetchReadThrough(t *testing.T) {
	c, _ := setupTestCache(t)
	ctx := context.Background()
	loads := 0
	load := func(context.Context) ([]string, error) {
		loads++
		return []string{"a", "b"}, nil
	}

	for i := 0; i < 3; i++ {
		got, err := Fetch(ctx, c, "list", time.Minute, load)
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		if len(got) != 2 || got[0] != "a" {
			t.Fatalf("unexpected value %v", got)
		}
	}
	if loads != 1 {
		t.Fatalf("expected a single load, got %d", loads)
	}

	c.Invalidate(ctx, NewKeySet("list"))
	if _, err := Fetch(ctx, c, "list", time.Minute, load); err != nil {
		t.Fatalf("Fetch after invalidate: %v", err)
	}
	if loads != 2 {
		t.Fatalf("expected reload after invalidation, got %d loads", loads)
	}
}

func TestFetchPropagatesLoadError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Fetch(context.Background(), Noop{}, "k", time.Minute, func(context.Context) (int, error) {
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected load error, got %v", err)
	}
}

func TestFetchIgnoresCorruptEntries(t *testing.T) {
	c, _ := setupTestCache(t)
	ctx := context.Background()
	c.Set(ctx, "n", []byte("not json"), time.Minute)

	got, err := Fetch(ctx, c, "n", time.Minute, func(context.Context) (int, error) { return 7, nil })
	if err != nil || got != 7 {
		t.Fatalf("Fetch = %d, %v", got, err)
	}
	raw, ok := c.Get(ctx, "n")
	if !ok || string(raw) != "7" {
		t.Fatalf("expected entry to be rewritten, got %q", raw)
	}
}
