package auth

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"accordgo/internal/redis"
	"accordgo/internal/storage"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// One connection so the in-memory database and pragma are shared.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func insertTestUser(t *testing.T, db *sql.DB) int64 {
	t.Helper()
	res, err := db.Exec(
		`INSERT INTO users (email, display_name, password_hash, created_at) VALUES ('u@example.com', 'U', 'x', ?)`,
		time.Now().UTC(),
	)
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

func TestIssueAndValidateToken(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db, time.Hour)
	userID := insertTestUser(t, db)
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, userID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	got, err := svc.ValidateToken(ctx, token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got != userID {
		t.Fatalf("wrong user id %d, want %d", got, userID)
	}

	if _, err := svc.ValidateToken(ctx, "no-such-token"); err == nil {
		t.Fatalf("unknown token must fail")
	}
	if _, err := svc.ValidateToken(ctx, ""); err == nil {
		t.Fatalf("empty token must fail")
	}
}

func TestExpiredTokenIsRejectedAndDeleted(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db, time.Hour)
	userID := insertTestUser(t, db)
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, userID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := db.Exec(
		`UPDATE user_tokens SET expires_at = ? WHERE token = ?`,
		time.Now().UTC().Add(-time.Minute), token,
	); err != nil {
		t.Fatalf("expire token: %v", err)
	}

	if _, err := svc.ValidateToken(ctx, token); err == nil {
		t.Fatalf("expired token must be rejected")
	}
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM user_tokens WHERE token = ?`, token).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expired token should be deleted on sight")
	}
}

func TestRevokeToken(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db, time.Hour)
	userID := insertTestUser(t, db)
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, userID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := svc.RevokeToken(ctx, token); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := svc.ValidateToken(ctx, token); err == nil {
		t.Fatalf("revoked token must be rejected")
	}
	if err := svc.RevokeToken(ctx, ""); err != nil {
		t.Fatalf("revoking an empty token is a no-op, got %v", err)
	}
}

func TestRevokeUserTokens(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db, time.Hour)
	userID := insertTestUser(t, db)
	ctx := context.Background()

	first, _ := svc.IssueToken(ctx, userID)
	second, _ := svc.IssueToken(ctx, userID)

	if err := svc.RevokeUserTokens(ctx, userID); err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	for _, token := range []string{first, second} {
		if _, err := svc.ValidateToken(ctx, token); err == nil {
			t.Fatalf("token %q should be gone", token)
		}
	}
}

func newCachedService(t *testing.T, db *sql.DB) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := redis.NewClientFromAddr(mr.Addr())
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })
	return NewService(db, time.Hour).WithCache(rdb)
}

func TestCachedValidateSkipsDatabase(t *testing.T) {
	db := openTestDB(t)
	svc := newCachedService(t, db)
	userID := insertTestUser(t, db)
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, userID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	// First lookup warms the cache.
	if _, err := svc.ValidateToken(ctx, token); err != nil {
		t.Fatalf("validate: %v", err)
	}
	// Remove the row behind the cache's back; the cached entry still serves.
	if _, err := db.Exec(`DELETE FROM user_tokens WHERE token = ?`, token); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := svc.ValidateToken(ctx, token)
	if err != nil {
		t.Fatalf("cached validate: %v", err)
	}
	if got != userID {
		t.Fatalf("wrong cached user id %d", got)
	}
}

func TestRevokeInvalidatesCache(t *testing.T) {
	db := openTestDB(t)
	svc := newCachedService(t, db)
	userID := insertTestUser(t, db)
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, userID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := svc.ValidateToken(ctx, token); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	if err := svc.RevokeToken(ctx, token); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := svc.ValidateToken(ctx, token); err == nil {
		t.Fatalf("revoked token must not be served from cache")
	}
}
