package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kelmah-platform/auth-token-service/internal/domain"
	"github.com/kelmah-platform/auth-token-service/internal/observability"
	"github.com/kelmah-platform/auth-token-service/internal/repository"
	"github.com/kelmah-platform/auth-token-service/internal/security"
)

const (
	loginFailureThreshold = 5
	loginLockDuration     = 30 * time.Minute

	loginRateLimit    = 5
	loginRateWindow   = 15 * time.Minute
	refreshRateLimit  = 10
	refreshRateWindow = time.Minute
)

// AuthService implements the credential flows around the token lifecycle:
// login, refresh, logout and logout-everywhere.
type AuthService struct {
	users  repository.UserRepository
	tokens *TokenService
	guard  AbuseGuard
	audit  observability.AuditSink
}

type LoginResult struct {
	Tokens *TokenPair `json:"tokens"`
	User   *Principal `json:"user"`
}

func NewAuthService(users repository.UserRepository, tokens *TokenService, guard AbuseGuard, audit observability.AuditSink) *AuthService {
	if audit == nil {
		audit = observability.NopAuditSink{}
	}
	return &AuthService{users: users, tokens: tokens, guard: guard, audit: audit}
}

// Login verifies credentials and issues a token pair. The account lock check
// runs before password verification so a locked account never spends a
// bcrypt compare.
func (s *AuthService) Login(ctx context.Context, email, password string, rememberMe bool, rc RequestContext) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := s.checkGuard(ctx, "login:"+rc.IP+":"+email, loginRateLimit, loginRateWindow); err != nil {
		observability.RecordAuthLogin("rate_limited")
		return nil, err
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			// flatten timing so unknown emails are indistinguishable
			security.BurnPasswordCheck(password)
			observability.RecordAuthLogin("invalid_credentials")
			return nil, ErrInvalidCredentials
		}
		return nil, storeErr(err)
	}

	if !user.IsActive {
		observability.RecordAuthLogin("deactivated")
		return nil, ErrAccountDeactivated
	}
	now := time.Now()
	if user.IsLocked(now) {
		observability.RecordAuthLogin("locked")
		return nil, &LockedError{Until: *user.AccountLockedUntil}
	}

	if !security.VerifyPassword(password, user.PasswordHash) {
		updated, recErr := s.users.RecordFailedLogin(ctx, user.ID, loginFailureThreshold, loginLockDuration)
		if recErr == nil && updated.IsLocked(time.Now()) {
			s.audit.Record(ctx, observability.AuditEvent{
				UserID: user.ID, Action: "ACCOUNT_LOCKED", IP: rc.IP, UserAgent: rc.UserAgent,
				Details: map[string]any{"failed_attempts": updated.FailedLoginAttempts},
			})
			observability.RecordAuthLogin("locked")
			return nil, &LockedError{Until: *updated.AccountLockedUntil}
		}
		observability.RecordAuthLogin("invalid_credentials")
		return nil, ErrInvalidCredentials
	}

	if err := s.users.ResetFailedLogins(ctx, user.ID); err != nil {
		return nil, storeErr(err)
	}
	if err := s.users.RecordLogin(ctx, user.ID, rc.IP); err != nil {
		return nil, storeErr(err)
	}

	pair, err := s.tokens.Issue(ctx, user, rc, rememberMe)
	if err != nil {
		observability.RecordAuthLogin("error")
		return nil, err
	}

	s.audit.Record(ctx, observability.AuditEvent{
		UserID: user.ID, Action: "USER_LOGIN", IP: rc.IP, UserAgent: rc.UserAgent,
		Details: map[string]any{"email": user.Email, "remember_me": rememberMe},
	})
	observability.RecordAuthLogin("success")
	return &LoginResult{
		Tokens: pair,
		User: &Principal{
			ID:            user.ID,
			Email:         user.Email,
			Role:          user.Role,
			EmailVerified: user.IsEmailVerified,
			TokenVersion:  user.TokenVersion,
		},
	}, nil
}

// Refresh rotates a composite refresh token into a new pair.
func (s *AuthService) Refresh(ctx context.Context, composite string, rc RequestContext) (*TokenPair, *Principal, error) {
	if err := s.checkGuard(ctx, "refresh:"+rc.IP, refreshRateLimit, refreshRateWindow); err != nil {
		observability.RecordAuthRefresh("rate_limited")
		return nil, nil, err
	}
	pair, principal, err := s.tokens.Rotate(ctx, composite, rc)
	if err != nil {
		observability.RecordAuthRefresh("failure")
		return nil, nil, err
	}
	observability.RecordAuthRefresh("success")
	return pair, principal, nil
}

// Logout revokes the presented refresh token. Tolerant by design: revoking
// an unknown or already revoked token still reports success.
func (s *AuthService) Logout(ctx context.Context, userID, composite string, rc RequestContext) error {
	if composite != "" {
		if err := s.tokens.Revoke(ctx, composite, "user logout"); err != nil {
			observability.RecordAuthLogout("failure")
			return err
		}
	}
	s.audit.Record(ctx, observability.AuditEvent{
		UserID: userID, Action: "USER_LOGOUT", IP: rc.IP, UserAgent: rc.UserAgent,
	})
	observability.RecordAuthLogout("success")
	return nil
}

// LogoutAll revokes every session and bumps the token-version.
func (s *AuthService) LogoutAll(ctx context.Context, userID string, rc RequestContext) (int64, error) {
	count, _, err := s.tokens.RevokeAll(ctx, userID, "user logout - all devices")
	if err != nil {
		observability.RecordAuthLogout("failure")
		return 0, err
	}
	s.audit.Record(ctx, observability.AuditEvent{
		UserID: userID, Action: "LOGOUT_ALL_DEVICES", IP: rc.IP, UserAgent: rc.UserAgent,
		Details: map[string]any{"revoked_tokens": count},
	})
	observability.RecordAuthLogout("success")
	return count, nil
}

// Register creates a user with a bcrypt password hash. The wider onboarding
// flow (verification email and so on) lives outside this service.
func (s *AuthService) Register(ctx context.Context, email, password, firstName, lastName, role string, rc RequestContext) (*domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := s.checkGuard(ctx, "register:"+rc.IP, 3, time.Hour); err != nil {
		return nil, err
	}
	if role != "worker" && role != "hirer" {
		role = "worker"
	}
	hash, err := security.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		FirstName:    firstName,
		LastName:     lastName,
		Role:         role,
		IsActive:     true,
		TokenVersion: 1,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateUser) {
			return nil, ErrUserExists
		}
		return nil, storeErr(err)
	}
	s.audit.Record(ctx, observability.AuditEvent{
		UserID: user.ID, Action: "USER_REGISTER", IP: rc.IP, UserAgent: rc.UserAgent,
		Details: map[string]any{"email": user.Email, "role": user.Role},
	})
	return user, nil
}

func (s *AuthService) checkGuard(ctx context.Context, key string, limit int, window time.Duration) error {
	if s.guard == nil {
		return nil
	}
	decision, err := s.guard.Check(ctx, key, limit, window)
	if err != nil {
		// the guard failing must not take logins down with it
		s.audit.Record(ctx, observability.AuditEvent{
			Action: "ABUSE_GUARD_ERROR", Details: map[string]any{"key": key, "error": err.Error()},
		})
		return nil
	}
	if decision.Limited {
		return &RateLimitedError{RetryAfter: decision.RetryAfter}
	}
	return nil
}
