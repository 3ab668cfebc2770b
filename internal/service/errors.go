package service

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy surfaced to the HTTP layer. Refresh-path failures collapse
// into ErrRefreshTokenInvalid so responses never reveal whether a token was
// unknown, revoked or failed the hash check.
var (
	ErrNoToken                 = errors.New("access token required")
	ErrInvalidTokenFormat      = errors.New("invalid token format")
	ErrTokenExpired            = errors.New("access token expired")
	ErrTokenInvalid            = errors.New("invalid access token")
	ErrTokenIPMismatch         = errors.New("token ip mismatch")
	ErrTokenInvalidated        = errors.New("token has been invalidated")
	ErrAccountDeactivated      = errors.New("account has been deactivated")
	ErrAccountLocked           = errors.New("account is locked")
	ErrEmailNotVerified        = errors.New("email verification required")
	ErrInsufficientPermissions = errors.New("insufficient permissions")
	ErrInvalidCredentials      = errors.New("invalid email or password")
	ErrRefreshTokenInvalid     = errors.New("invalid or expired refresh token")
	ErrUserExists              = errors.New("an account with this email already exists")
	ErrStoreUnavailable        = errors.New("auth service unavailable")
	ErrRateLimited             = errors.New("too many requests")
)

// LockedError carries the unlock time alongside ErrAccountLocked identity.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account is locked until %s", e.Until.Format(time.RFC3339))
}

func (e *LockedError) Is(target error) bool { return target == ErrAccountLocked }

// RateLimitedError carries the retry hint alongside ErrRateLimited identity.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many requests, retry after %s", e.RetryAfter)
}

func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }
