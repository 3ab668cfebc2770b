package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/kelmah-platform/auth-token-service/internal/domain"
)

func newTokenRepoForTest(t *testing.T) RefreshTokenRepository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewRefreshTokenRepository(db)
}

func activeToken(tokenID, userID string) *domain.RefreshToken {
	return &domain.RefreshToken{
		TokenID:   tokenID,
		UserID:    userID,
		TokenHash: "hash-" + tokenID,
		ExpiresAt: time.Now().Add(2 * time.Hour),
		Version:   1,
	}
}

func TestRefreshTokenCreateDuplicateTokenID(t *testing.T) {
	repo := newTokenRepoForTest(t)
	ctx := context.Background()

	if err := repo.Create(ctx, activeToken("tok-1", "u1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := repo.Create(ctx, activeToken("tok-1", "u1"))
	if !errors.Is(err, ErrDuplicateTokenID) {
		t.Fatalf("expected ErrDuplicateTokenID, got %v", err)
	}
}

func TestRefreshTokenFindActiveFilters(t *testing.T) {
	repo := newTokenRepoForTest(t)
	ctx := context.Background()

	if err := repo.Create(ctx, activeToken("tok-active", "u1")); err != nil {
		t.Fatalf("create active: %v", err)
	}
	expired := activeToken("tok-expired", "u1")
	expired.ExpiresAt = time.Now().Add(-time.Hour)
	if err := repo.Create(ctx, expired); err != nil {
		t.Fatalf("create expired: %v", err)
	}
	if err := repo.Create(ctx, activeToken("tok-revoked", "u1")); err != nil {
		t.Fatalf("create revoked: %v", err)
	}
	if err := repo.Revoke(ctx, "tok-revoked", "test"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	if _, err := repo.FindActiveByTokenID(ctx, "tok-active"); err != nil {
		t.Fatalf("active token should be found: %v", err)
	}
	for _, id := range []string{"tok-expired", "tok-revoked", "tok-missing"} {
		if _, err := repo.FindActiveByTokenID(ctx, id); !errors.Is(err, ErrTokenNotFound) {
			t.Fatalf("FindActiveByTokenID(%q): expected ErrTokenNotFound, got %v", id, err)
		}
	}

	list, err := repo.ListActiveByUserID(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].TokenID != "tok-active" {
		t.Fatalf("expected only the active token, got %+v", list)
	}
}

func TestRefreshTokenRevokeIdempotent(t *testing.T) {
	repo := newTokenRepoForTest(t)
	ctx := context.Background()

	if err := repo.Create(ctx, activeToken("tok-1", "u1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Revoke(ctx, "tok-1", "first reason"); err != nil {
		t.Fatalf("first revoke: %v", err)
	}

	list, err := repo.ListActiveByUserID(ctx, "u1")
	if err != nil || len(list) != 0 {
		t.Fatalf("expected no active tokens, got %v %v", list, err)
	}

	// revoking again is a no-op and keeps the original reason
	if err := repo.Revoke(ctx, "tok-1", "second reason"); err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	if err := repo.Revoke(ctx, "tok-unknown", "whatever"); err != nil {
		t.Fatalf("revoking unknown token must not error: %v", err)
	}
}

func TestRefreshTokenRotate(t *testing.T) {
	repo := newTokenRepoForTest(t)
	ctx := context.Background()

	if err := repo.Create(ctx, activeToken("tok-old", "u1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Rotate(ctx, "tok-old", activeToken("tok-new", "u1")); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	if _, err := repo.FindActiveByTokenID(ctx, "tok-old"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("old token should be inactive after rotation, got %v", err)
	}
	next, err := repo.FindActiveByTokenID(ctx, "tok-new")
	if err != nil {
		t.Fatalf("new token should be active: %v", err)
	}
	if next.UserID != "u1" {
		t.Fatalf("unexpected new record: %+v", next)
	}

	// a second rotation of the already rotated token must lose
	err = repo.Rotate(ctx, "tok-old", activeToken("tok-other", "u1"))
	if !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound on stale rotation, got %v", err)
	}
	if _, err := repo.FindActiveByTokenID(ctx, "tok-other"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatal("loser's replacement token must not be created")
	}
}

func TestRefreshTokenRevokeAllForUser(t *testing.T) {
	repo := newTokenRepoForTest(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := repo.Create(ctx, activeToken("u1-"+id, "u1")); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if err := repo.Create(ctx, activeToken("u2-a", "u2")); err != nil {
		t.Fatalf("create other user: %v", err)
	}

	count, err := repo.RevokeAllForUser(ctx, "u1", "logout all")
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 revoked, got %d", count)
	}
	if _, err := repo.FindActiveByTokenID(ctx, "u2-a"); err != nil {
		t.Fatalf("other user's token must stay active: %v", err)
	}
}

func TestRefreshTokenSweepExpired(t *testing.T) {
	repo := newTokenRepoForTest(t)
	ctx := context.Background()

	expired := activeToken("tok-expired", "u1")
	expired.ExpiresAt = time.Now().Add(-time.Hour)
	if err := repo.Create(ctx, expired); err != nil {
		t.Fatalf("create expired: %v", err)
	}

	oldRevokedAt := time.Now().Add(-48 * time.Hour).UTC()
	reason := "old"
	oldRevoked := activeToken("tok-old-revoked", "u1")
	oldRevoked.Revoked = true
	oldRevoked.RevokedAt = &oldRevokedAt
	oldRevoked.RevokedReason = &reason
	if err := repo.Create(ctx, oldRevoked); err != nil {
		t.Fatalf("create old revoked: %v", err)
	}

	if err := repo.Create(ctx, activeToken("tok-fresh", "u1")); err != nil {
		t.Fatalf("create fresh: %v", err)
	}
	if err := repo.Create(ctx, activeToken("tok-recent-revoked", "u1")); err != nil {
		t.Fatalf("create recent revoked: %v", err)
	}
	if err := repo.Revoke(ctx, "tok-recent-revoked", "recent"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	deleted, err := repo.SweepExpired(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deleted (expired + old revoked), got %d", deleted)
	}
	if _, err := repo.FindActiveByTokenID(ctx, "tok-fresh"); err != nil {
		t.Fatalf("fresh token must survive sweep: %v", err)
	}
}
