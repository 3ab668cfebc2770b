package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kelmah-platform/auth-token-service/internal/domain"
	"github.com/kelmah-platform/auth-token-service/internal/observability"
)

var (
	ErrTokenNotFound    = errors.New("refresh token not found")
	ErrDuplicateTokenID = errors.New("duplicate token id")
)

// RevokedRetention keeps revoked records around for audit before the sweep
// deletes them.
const RevokedRetention = 30 * 24 * time.Hour

type RefreshTokenRepository interface {
	Create(ctx context.Context, t *domain.RefreshToken) error
	FindActiveByTokenID(ctx context.Context, tokenID string) (*domain.RefreshToken, error)
	ListActiveByUserID(ctx context.Context, userID string) ([]domain.RefreshToken, error)
	// Rotate atomically revokes the old record (reason "rotated") and creates
	// the replacement. It fails with ErrTokenNotFound when the old record is
	// no longer active, which makes concurrent rotations of the same token
	// resolve to exactly one winner.
	Rotate(ctx context.Context, oldTokenID string, next *domain.RefreshToken) error
	Revoke(ctx context.Context, tokenID, reason string) error
	RevokeAllForUser(ctx context.Context, userID, reason string) (int64, error)
	SweepExpired(ctx context.Context, retention time.Duration) (int64, error)
}

type GormRefreshTokenRepository struct{ db *gorm.DB }

func NewRefreshTokenRepository(db *gorm.DB) RefreshTokenRepository {
	return &GormRefreshTokenRepository{db: db}
}

func (r *GormRefreshTokenRepository) Create(ctx context.Context, t *domain.RefreshToken) error {
	now := time.Now().UTC()
	if t.LastUsedAt == nil {
		t.LastUsedAt = &now
	}
	err := r.db.WithContext(ctx).Create(t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			observability.RecordRepositoryOperation(ctx, "refresh_token", "create", "duplicate")
			return ErrDuplicateTokenID
		}
		observability.RecordRepositoryOperation(ctx, "refresh_token", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "create", "success")
	return nil
}

func (r *GormRefreshTokenRepository) FindActiveByTokenID(ctx context.Context, tokenID string) (*domain.RefreshToken, error) {
	var t domain.RefreshToken
	err := r.db.WithContext(ctx).
		Where("token_id = ? AND revoked = ? AND expires_at > ?", tokenID, false, time.Now()).
		First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "refresh_token", "find_active_by_token_id", "not_found")
			return nil, ErrTokenNotFound
		}
		observability.RecordRepositoryOperation(ctx, "refresh_token", "find_active_by_token_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "find_active_by_token_id", "success")
	return &t, nil
}

func (r *GormRefreshTokenRepository) ListActiveByUserID(ctx context.Context, userID string) ([]domain.RefreshToken, error) {
	var tokens []domain.RefreshToken
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND revoked = ? AND expires_at > ?", userID, false, time.Now()).
		Order("last_used_at DESC").
		Find(&tokens).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "list_active_by_user_id", "error")
		return tokens, err
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "list_active_by_user_id", "success")
	return tokens, nil
}

func (r *GormRefreshTokenRepository) Rotate(ctx context.Context, oldTokenID string, next *domain.RefreshToken) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var old domain.RefreshToken
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("token_id = ? AND revoked = ? AND expires_at > ?", oldTokenID, false, time.Now()).
			First(&old).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTokenNotFound
			}
			return err
		}
		now := time.Now().UTC()
		if err := tx.Model(&domain.RefreshToken{}).
			Where("id = ?", old.ID).
			Updates(map[string]any{
				"revoked":        true,
				"revoked_at":     now,
				"revoked_reason": "rotated",
				"last_used_at":   now,
				"usage_count":    gorm.Expr("usage_count + 1"),
			}).Error; err != nil {
			return err
		}
		return tx.Create(next).Error
	})
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			observability.RecordRepositoryOperation(ctx, "refresh_token", "rotate", "not_found")
		} else {
			observability.RecordRepositoryOperation(ctx, "refresh_token", "rotate", "error")
		}
		return err
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "rotate", "success")
	return nil
}

func (r *GormRefreshTokenRepository) Revoke(ctx context.Context, tokenID, reason string) error {
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).Model(&domain.RefreshToken{}).
		Where("token_id = ? AND revoked = ?", tokenID, false).
		Updates(map[string]any{"revoked": true, "revoked_at": now, "revoked_reason": reason}).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "revoke", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "revoke", "success")
	return nil
}

func (r *GormRefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID, reason string) (int64, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&domain.RefreshToken{}).
		Where("user_id = ? AND revoked = ? AND expires_at > ?", userID, false, now).
		Updates(map[string]any{"revoked": true, "revoked_at": now, "revoked_reason": reason})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "revoke_all_for_user", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "revoke_all_for_user", "success")
	return res.RowsAffected, nil
}

func (r *GormRefreshTokenRepository) SweepExpired(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = RevokedRetention
	}
	now := time.Now()
	res := r.db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Or("revoked = ? AND revoked_at < ?", true, now.Add(-retention)).
		Delete(&domain.RefreshToken{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "sweep_expired", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "sweep_expired", "success")
	observability.RecordSweepDeleted(ctx, res.RowsAffected)
	return res.RowsAffected, nil
}
