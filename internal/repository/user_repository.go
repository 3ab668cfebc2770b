package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/kelmah-platform/auth-token-service/internal/domain"
	"github.com/kelmah-platform/auth-token-service/internal/observability"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrDuplicateUser = errors.New("user already exists")
)

type UserRepository interface {
	Create(ctx context.Context, u *domain.User) error
	FindByID(ctx context.Context, id string) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	// BumpTokenVersion increments the user's token-version and returns the
	// new value. Every outstanding token carrying the old version becomes
	// invalid without being enumerated.
	BumpTokenVersion(ctx context.Context, id string) (int, error)
	// RecordFailedLogin increments the failure counter and locks the account
	// for lockFor once threshold is reached. Returns the updated user.
	RecordFailedLogin(ctx context.Context, id string, threshold int, lockFor time.Duration) (*domain.User, error)
	ResetFailedLogins(ctx context.Context, id string) error
	RecordLogin(ctx context.Context, id, ip string) error
}

type GormUserRepository struct{ db *gorm.DB }

func NewUserRepository(db *gorm.DB) UserRepository {
	return &GormUserRepository{db: db}
}

func (r *GormUserRepository) Create(ctx context.Context, u *domain.User) error {
	err := r.db.WithContext(ctx).Create(u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			observability.RecordRepositoryOperation(ctx, "user", "create", "duplicate")
			return ErrDuplicateUser
		}
		observability.RecordRepositoryOperation(ctx, "user", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "user", "create", "success")
	return nil
}

func (r *GormUserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "user", "find_by_id", "not_found")
			return nil, ErrUserNotFound
		}
		observability.RecordRepositoryOperation(ctx, "user", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "user", "find_by_id", "success")
	return &u, nil
}

func (r *GormUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	var u domain.User
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "user", "find_by_email", "not_found")
			return nil, ErrUserNotFound
		}
		observability.RecordRepositoryOperation(ctx, "user", "find_by_email", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "user", "find_by_email", "success")
	return &u, nil
}

func (r *GormUserRepository) BumpTokenVersion(ctx context.Context, id string) (int, error) {
	var version int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.User{}).
			Where("id = ?", id).
			Update("token_version", gorm.Expr("token_version + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrUserNotFound
		}
		var u domain.User
		if err := tx.Select("token_version").Where("id = ?", id).First(&u).Error; err != nil {
			return err
		}
		version = u.TokenVersion
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			observability.RecordRepositoryOperation(ctx, "user", "bump_token_version", "not_found")
		} else {
			observability.RecordRepositoryOperation(ctx, "user", "bump_token_version", "error")
		}
		return 0, err
	}
	observability.RecordRepositoryOperation(ctx, "user", "bump_token_version", "success")
	return version, nil
}

func (r *GormUserRepository) RecordFailedLogin(ctx context.Context, id string, threshold int, lockFor time.Duration) (*domain.User, error) {
	var out *domain.User
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var u domain.User
		if err := tx.Where("id = ?", id).First(&u).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		u.FailedLoginAttempts++
		updates := map[string]any{"failed_login_attempts": u.FailedLoginAttempts}
		if threshold > 0 && u.FailedLoginAttempts >= threshold {
			until := time.Now().UTC().Add(lockFor)
			u.AccountLockedUntil = &until
			updates["account_locked_until"] = until
		}
		if err := tx.Model(&domain.User{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		out = &u
		return nil
	})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "record_failed_login", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "user", "record_failed_login", "success")
	return out, nil
}

func (r *GormUserRepository) ResetFailedLogins(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", id).
		Updates(map[string]any{"failed_login_attempts": 0, "account_locked_until": nil}).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "reset_failed_logins", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "user", "reset_failed_logins", "success")
	return nil
}

func (r *GormUserRepository) RecordLogin(ctx context.Context, id, ip string) error {
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", id).
		Updates(map[string]any{"last_login_at": now, "last_login_ip": ip}).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "record_login", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "user", "record_login", "success")
	return nil
}
