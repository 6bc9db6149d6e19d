package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	store, _ := setupTestRedis(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	store, _ := setupTestRedis(t)

	ctx := context.Background()
	expiresAt := time.Now().Add(24 * time.Hour)

	err := store.SaveRefreshSession(ctx, "hash-1", Session{UserID: "user_123", UserName: "Ada"}, expiresAt)
	if err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	sess, err := store.LookupRefreshSession(ctx, "hash-1")
	if err != nil {
		t.Fatalf("LookupRefreshSession failed: %v", err)
	}
	if sess.UserID != "user_123" {
		t.Errorf("expected user_123, got %s", sess.UserID)
	}
	if sess.UserName != "Ada" {
		t.Errorf("expected Ada, got %s", sess.UserName)
	}
	if sess.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be stamped")
	}
}

func TestLookupExpiredSession(t *testing.T) {
	store, s := setupTestRedis(t)

	ctx := context.Background()
	expiresAt := time.Now().Add(10 * time.Millisecond)

	if err := store.SaveRefreshSession(ctx, "expired", Session{UserID: "user_456"}, expiresAt); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	s.FastForward(20 * time.Millisecond)

	if _, err := store.LookupRefreshSession(ctx, "expired"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for expired session, got %v", err)
	}
}

func TestSaveAlreadyExpiredSession(t *testing.T) {
	store, _ := setupTestRedis(t)

	err := store.SaveRefreshSession(context.Background(), "stale", Session{UserID: "user_1"}, time.Now().Add(-time.Minute))
	if err == nil {
		t.Error("expected error saving an already expired session")
	}
}

func TestLookupNonExistentSession(t *testing.T) {
	store, _ := setupTestRedis(t)

	if _, err := store.LookupRefreshSession(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRevokeRefreshSession(t *testing.T) {
	store, _ := setupTestRedis(t)

	ctx := context.Background()
	expiresAt := time.Now().Add(24 * time.Hour)

	if err := store.SaveRefreshSession(ctx, "revoke-me", Session{UserID: "user_789"}, expiresAt); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	if _, err := store.LookupRefreshSession(ctx, "revoke-me"); err != nil {
		t.Fatalf("lookup before revoke failed: %v", err)
	}

	if err := store.RevokeRefreshSession(ctx, "revoke-me"); err != nil {
		t.Fatalf("RevokeRefreshSession failed: %v", err)
	}

	if _, err := store.LookupRefreshSession(ctx, "revoke-me"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after revoke, got %v", err)
	}
}

func TestRevokeNonExistentSession(t *testing.T) {
	store, _ := setupTestRedis(t)

	if err := store.RevokeRefreshSession(context.Background(), "missing"); err != nil {
		t.Errorf("revoking a missing session should not error, got %v", err)
	}
}

func TestSessionIsolation(t *testing.T) {
	store, _ := setupTestRedis(t)

	ctx := context.Background()
	expiresAt := time.Now().Add(24 * time.Hour)

	if err := store.SaveRefreshSession(ctx, "hash-a", Session{UserID: "user_a"}, expiresAt); err != nil {
		t.Fatalf("save a: %v", err)
	}
	if err := store.SaveRefreshSession(ctx, "hash-b", Session{UserID: "user_b"}, expiresAt); err != nil {
		t.Fatalf("save b: %v", err)
	}

	if err := store.RevokeRefreshSession(ctx, "hash-a"); err != nil {
		t.Fatalf("revoke a: %v", err)
	}

	if _, err := store.LookupRefreshSession(ctx, "hash-a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected hash-a gone, got %v", err)
	}
	sess, err := store.LookupRefreshSession(ctx, "hash-b")
	if err != nil {
		t.Fatalf("lookup b after revoking a: %v", err)
	}
	if sess.UserID != "user_b" {
		t.Errorf("expected user_b, got %s", sess.UserID)
	}
}
