package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), "redis://"+s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	store, _ := setupTestRedis(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisStoreUnreachable(t *testing.T) {
	s := miniredis.RunT(t)
	addr := s.Addr()
	s.Close()
	if _, err := NewRedisStore(context.Background(), "redis://"+addr); err == nil {
		t.Fatal("expected error for unreachable redis")
	}
	if _, err := NewRedisStore(context.Background(), "::not a url"); err == nil {
		t.Fatal("expected error for malformed url")
	}
}

func TestRevokeAndCheck(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	revoked, err := store.IsRevoked(ctx, "jti-1")
	if err != nil || revoked {
		t.Fatalf("fresh token: revoked=%v err=%v", revoked, err)
	}
	if err := store.Revoke(ctx, "jti-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	revoked, err = store.IsRevoked(ctx, "jti-1")
	if err != nil || !revoked {
		t.Fatalf("revoked token: revoked=%v err=%v", revoked, err)
	}
	if other, _ := store.IsRevoked(ctx, "jti-2"); other {
		t.Fatal("revocation must be per token id")
	}
}

func TestRevocationExpiresWithToken(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Revoke(ctx, "jti-1", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	s.FastForward(2 * time.Minute)
	if revoked, _ := store.IsRevoked(ctx, "jti-1"); revoked {
		t.Fatal("revocation entry should expire with the token")
	}
}

func TestRevokeExpiredTokenIsNoop(t *testing.T) {
	store, s := setupTestRedis(t)
	if err := store.Revoke(context.Background(), "jti-old", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if keys := s.Keys(); len(keys) != 0 {
		t.Fatalf("expected no keys, got %v", keys)
	}
	if err := store.Revoke(context.Background(), "", time.Now().Add(time.Minute)); err == nil {
		t.Fatal("expected error for empty token id")
	}
}

func TestIsRevokedReportsBackendErrors(t *testing.T) {
	store, s := setupTestRedis(t)
	s.Close()
	if _, err := store.IsRevoked(context.Background(), "jti-1"); err == nil {
		t.Fatal("expected error when redis is down")
	}
}
