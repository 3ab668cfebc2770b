package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/kelmah-platform/auth-token-service/internal/domain"
	"github.com/kelmah-platform/auth-token-service/internal/observability"
	"github.com/kelmah-platform/auth-token-service/internal/repository"
	"github.com/kelmah-platform/auth-token-service/internal/security"
)

// TokenService orchestrates issuance, verification, rotation and revocation
// of the access/refresh token pair.
type TokenService struct {
	codec        *security.TokenCodec
	tokens       repository.RefreshTokenRepository
	users        repository.UserRepository
	audit        observability.AuditSink
	accessTTL    time.Duration
	refreshTTL   time.Duration
	rememberTTL  time.Duration
	storeTimeout time.Duration
}

func NewTokenService(
	codec *security.TokenCodec,
	tokens repository.RefreshTokenRepository,
	users repository.UserRepository,
	audit observability.AuditSink,
	accessTTL, refreshTTL time.Duration,
) *TokenService {
	if audit == nil {
		audit = observability.NopAuditSink{}
	}
	return &TokenService{
		codec:        codec,
		tokens:       tokens,
		users:        users,
		audit:        audit,
		accessTTL:    accessTTL,
		refreshTTL:   refreshTTL,
		rememberTTL:  30 * 24 * time.Hour,
		storeTimeout: 5 * time.Second,
	}
}

// Issue mints a fresh access token and composite refresh token for the user
// and persists the refresh record. rememberMe extends the refresh lifetime.
func (s *TokenService) Issue(ctx context.Context, user *domain.User, rc RequestContext, rememberMe bool) (*TokenPair, error) {
	ttl := s.refreshTTL
	if rememberMe {
		ttl = s.rememberTTL
	}
	pair, record, err := s.mint(user, rc, ttl)
	if err != nil {
		return nil, err
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	err = s.tokens.Create(storeCtx, record)
	if errors.Is(err, repository.ErrDuplicateTokenID) {
		// uuid collisions are a near-impossibility but must not crash the
		// issuance path: regenerate once and retry.
		s.audit.Record(ctx, observability.AuditEvent{
			UserID: user.ID, Action: "TOKEN_ID_COLLISION", IP: rc.IP, UserAgent: rc.UserAgent,
			Details: map[string]any{"token_id": record.TokenID},
		})
		pair, record, err = s.mint(user, rc, ttl)
		if err != nil {
			return nil, err
		}
		err = s.tokens.Create(storeCtx, record)
	}
	if err != nil {
		return nil, storeErr(err)
	}

	s.audit.Record(ctx, observability.AuditEvent{
		UserID: user.ID, Action: "REFRESH_TOKEN_CREATED", IP: rc.IP, UserAgent: rc.UserAgent,
		Details: map[string]any{"token_id": record.TokenID, "expires_at": record.ExpiresAt},
	})
	return pair, nil
}

// VerifyAccess validates an access token and performs the live user check:
// the embedded token-version must still match and the account must be active.
func (s *TokenService) VerifyAccess(ctx context.Context, raw string, rc RequestContext) (*Principal, error) {
	claims, err := s.codec.VerifyAccessToken(raw, security.AccessContext{IP: rc.IP, Fingerprint: rc.Fingerprint})
	if err != nil {
		switch {
		case errors.Is(err, security.ErrTokenExpired):
			observability.RecordTokenValidation(ctx, "expired", "access")
			return nil, ErrTokenExpired
		case errors.Is(err, security.ErrTokenIPMismatch):
			observability.RecordTokenValidation(ctx, "ip_mismatch", "access")
			return nil, ErrTokenIPMismatch
		default:
			observability.RecordTokenValidation(ctx, "invalid", "access")
			return nil, ErrTokenInvalid
		}
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	user, err := s.users.FindByID(storeCtx, claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			observability.RecordTokenValidation(ctx, "user_not_found", "access")
			return nil, ErrTokenInvalid
		}
		// a failed liveness check is never treated as valid
		return nil, storeErr(err)
	}
	if !user.IsActive {
		observability.RecordTokenValidation(ctx, "deactivated", "access")
		return nil, ErrAccountDeactivated
	}
	if claims.Version != user.TokenVersion {
		observability.RecordTokenValidation(ctx, "version_mismatch", "access")
		return nil, ErrTokenInvalidated
	}
	if rc.Fingerprint != "" && claims.Fingerprint != "" && claims.Fingerprint != rc.Fingerprint {
		// advisory only: surfaced for anomaly correlation, never a deny
		s.audit.Record(ctx, observability.AuditEvent{
			UserID: user.ID, Action: "FINGERPRINT_MISMATCH", IP: rc.IP, UserAgent: rc.UserAgent,
			Details: map[string]any{"expected": claims.Fingerprint, "got": rc.Fingerprint},
		})
	}

	observability.RecordTokenValidation(ctx, "valid", "access")
	return &Principal{
		ID:            user.ID,
		Email:         user.Email,
		Role:          user.Role,
		EmailVerified: user.IsEmailVerified,
		TokenVersion:  user.TokenVersion,
	}, nil
}

// Rotate exchanges a composite refresh token for a new token pair. The old
// record is revoked in the same transaction that creates the new one, so
// concurrent rotations of the same token produce exactly one winner. Any
// verification failure of a stored record revokes it as a replay precaution.
func (s *TokenService) Rotate(ctx context.Context, composite string, rc RequestContext) (*TokenPair, *Principal, error) {
	signed, raw, err := security.SplitCompositeToken(composite)
	if err != nil {
		return nil, nil, ErrInvalidTokenFormat
	}
	claims, err := s.codec.DecodeRefreshJWT(signed)
	if err != nil {
		// tampered or expired JWT half: reject before touching the store
		observability.RecordTokenValidation(ctx, "invalid", "refresh")
		return nil, nil, ErrRefreshTokenInvalid
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	record, err := s.tokens.FindActiveByTokenID(storeCtx, claims.ID)
	if err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			observability.RecordTokenValidation(ctx, "not_found", "refresh")
			return nil, nil, ErrRefreshTokenInvalid
		}
		return nil, nil, storeErr(err)
	}

	if record.IsSuspicious(time.Now()) {
		s.audit.Record(ctx, observability.AuditEvent{
			UserID: record.UserID, Action: "SUSPICIOUS_REFRESH", IP: rc.IP, UserAgent: rc.UserAgent,
			Details: map[string]any{"token_id": record.TokenID, "usage_count": record.UsageCount},
		})
	}
	if rc.Fingerprint != "" && record.Fingerprint != "" && record.Fingerprint != rc.Fingerprint {
		s.audit.Record(ctx, observability.AuditEvent{
			UserID: record.UserID, Action: "FINGERPRINT_MISMATCH", IP: rc.IP, UserAgent: rc.UserAgent,
			Details: map[string]any{"token_id": record.TokenID},
		})
	}

	if detail := s.validateRefresh(claims, raw, record); detail != "" {
		s.revokeCompromised(ctx, record, detail, rc)
		observability.RecordTokenValidation(ctx, "rejected", "refresh")
		return nil, nil, ErrRefreshTokenInvalid
	}

	user, err := s.users.FindByID(storeCtx, record.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.revokeCompromised(ctx, record, "user not found", rc)
			return nil, nil, ErrRefreshTokenInvalid
		}
		return nil, nil, storeErr(err)
	}
	if !user.IsActive {
		return nil, nil, ErrAccountDeactivated
	}
	if user.TokenVersion != claims.Version {
		s.revokeCompromised(ctx, record, "token version mismatch", rc)
		return nil, nil, ErrRefreshTokenInvalid
	}

	pair, next, err := s.mint(user, rc, s.refreshTTL)
	if err != nil {
		return nil, nil, err
	}
	if err := s.tokens.Rotate(storeCtx, record.TokenID, next); err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			// lost the race to a concurrent rotation
			observability.RecordTokenValidation(ctx, "rotation_race", "refresh")
			return nil, nil, ErrRefreshTokenInvalid
		}
		return nil, nil, storeErr(err)
	}

	s.audit.Record(ctx, observability.AuditEvent{
		UserID: user.ID, Action: "TOKEN_REFRESH", IP: rc.IP, UserAgent: rc.UserAgent,
		Details: map[string]any{"old_token_id": record.TokenID, "new_token_id": next.TokenID},
	})
	observability.RecordTokenValidation(ctx, "rotated", "refresh")
	return pair, &Principal{
		ID:            user.ID,
		Email:         user.Email,
		Role:          user.Role,
		EmailVerified: user.IsEmailVerified,
		TokenVersion:  user.TokenVersion,
	}, nil
}

// Revoke marks the record behind a composite refresh token revoked. Best
// effort: an unparseable token is a no-op, revoking twice is a no-op.
func (s *TokenService) Revoke(ctx context.Context, composite, reason string) error {
	tokenID := s.codec.ExtractRefreshTokenID(composite)
	if tokenID == "" {
		return nil
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.tokens.Revoke(storeCtx, tokenID, reason); err != nil {
		return storeErr(err)
	}
	return nil
}

// RevokeAll revokes every active refresh record for the user and bumps the
// token-version so outstanding access tokens die with them. Returns the
// count of revoked records and the new version.
func (s *TokenService) RevokeAll(ctx context.Context, userID, reason string) (int64, int, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	count, err := s.tokens.RevokeAllForUser(storeCtx, userID, reason)
	if err != nil {
		return 0, 0, storeErr(err)
	}
	version, err := s.users.BumpTokenVersion(storeCtx, userID)
	if err != nil {
		return count, 0, storeErr(err)
	}
	s.audit.Record(ctx, observability.AuditEvent{
		UserID: userID, Action: "TOKENS_REVOKED_ALL",
		Details: map[string]any{"count": count, "reason": reason, "new_version": version},
	})
	return count, version, nil
}

// SweepExpired deletes expired records plus revoked records older than the
// audit retention window. Run periodically by the app's background job.
func (s *TokenService) SweepExpired(ctx context.Context) (int64, error) {
	return s.tokens.SweepExpired(ctx, repository.RevokedRetention)
}

// ListSessions returns the user's active refresh records for session
// management views.
func (s *TokenService) ListSessions(ctx context.Context, userID string) ([]domain.RefreshToken, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	tokens, err := s.tokens.ListActiveByUserID(storeCtx, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	return tokens, nil
}

func (s *TokenService) mint(user *domain.User, rc RequestContext, refreshTTL time.Duration) (*TokenPair, *domain.RefreshToken, error) {
	access, err := s.codec.SignAccessToken(user.ID, user.Role, user.TokenVersion,
		security.AccessContext{IP: rc.IP, Fingerprint: rc.Fingerprint}, s.accessTTL)
	if err != nil {
		return nil, nil, err
	}
	tokenID := uuid.NewString()
	rawSecret, err := security.NewRawSecret()
	if err != nil {
		return nil, nil, err
	}
	signed, err := s.codec.SignRefreshJWT(user.ID, tokenID, user.TokenVersion, refreshTTL)
	if err != nil {
		return nil, nil, err
	}
	expiresAt := time.Now().Add(refreshTTL).UTC()
	record := &domain.RefreshToken{
		TokenID:     tokenID,
		UserID:      user.ID,
		TokenHash:   security.HashSecret(rawSecret),
		ExpiresAt:   expiresAt,
		DeviceInfo:  rc.UserAgent,
		Fingerprint: rc.Fingerprint,
		IP:          rc.IP,
		Version:     user.TokenVersion,
	}
	pair := &TokenPair{
		AccessToken:      access,
		RefreshToken:     security.JoinCompositeToken(signed, rawSecret),
		TokenType:        "Bearer",
		ExpiresIn:        int(s.accessTTL.Seconds()),
		RefreshExpiresAt: expiresAt,
	}
	return pair, record, nil
}

// validateRefresh returns a non-empty failure detail when the raw half or
// the claims do not match the stored record.
func (s *TokenService) validateRefresh(claims *security.RefreshClaims, raw string, record *domain.RefreshToken) string {
	if !security.SecretHashEquals(security.HashSecret(raw), record.TokenHash) {
		return "secret hash mismatch"
	}
	if claims.Subject != record.UserID {
		return "subject mismatch"
	}
	if claims.Version != record.Version {
		return "token version mismatch"
	}
	return ""
}

func (s *TokenService) revokeCompromised(ctx context.Context, record *domain.RefreshToken, detail string, rc RequestContext) {
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	_ = s.tokens.Revoke(storeCtx, record.TokenID, "verification failed: "+detail)
	s.audit.Record(ctx, observability.AuditEvent{
		UserID: record.UserID, Action: "REFRESH_TOKEN_REVOKED", IP: rc.IP, UserAgent: rc.UserAgent,
		Details: map[string]any{"token_id": record.TokenID, "detail": detail},
	})
}

func storeErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrStoreUnavailable
	}
	return errors.Join(ErrStoreUnavailable, err)
}
