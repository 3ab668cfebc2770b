package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/kelmah-platform/auth-token-service/internal/http/response"
	"github.com/kelmah-platform/auth-token-service/internal/observability"
	"github.com/kelmah-platform/auth-token-service/internal/security"
	"github.com/kelmah-platform/auth-token-service/internal/service"
)

type contextKey string

const (
	principalContextKey contextKey = "principal"
	tokenPairContextKey contextKey = "token_pair"
)

// AuthOptions narrows who passes the gate beyond holding a valid token.
type AuthOptions struct {
	AllowedRoles         []string
	RequireVerifiedEmail bool
}

// Gate authenticates requests against the token service and enforces
// per-route authorization options.
type Gate struct {
	tokens *service.TokenService
	auth   *service.AuthService
}

func NewGate(tokens *service.TokenService, auth *service.AuthService) *Gate {
	return &Gate{tokens: tokens, auth: auth}
}

// Authenticate verifies the bearer access token and stores the resulting
// principal in the request context.
func (g *Gate) Authenticate(opts AuthOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, source := extractAccessToken(r)
			if raw == "" {
				observability.RecordTokenValidation(r.Context(), "missing", "none")
				response.Error(w, r, http.StatusUnauthorized, "NO_TOKEN", "authentication required", nil)
				return
			}

			principal, err := g.tokens.VerifyAccess(r.Context(), raw, RequestContextFrom(r))
			if err != nil {
				observability.RecordTokenValidation(r.Context(), "invalid", source)
				WriteServiceError(w, r, err)
				return
			}
			observability.RecordTokenValidation(r.Context(), "valid", source)

			if opts.RequireVerifiedEmail && !principal.EmailVerified {
				response.Error(w, r, http.StatusForbidden, "EMAIL_NOT_VERIFIED", "email verification required", nil)
				return
			}
			if len(opts.AllowedRoles) > 0 && !roleAllowed(principal.Role, opts.AllowedRoles) {
				response.Error(w, r, http.StatusForbidden, "INSUFFICIENT_PERMISSIONS", "insufficient permissions", nil)
				return
			}

			ctx := context.WithValue(r.Context(), principalContextKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AuthenticateRefresh rotates the refresh token carried in the body or
// cookie and stores the new pair and principal for the handler.
func (g *Gate) AuthenticateRefresh(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		composite := extractRefreshToken(r)
		if composite == "" {
			response.Error(w, r, http.StatusUnauthorized, "NO_TOKEN", "refresh token required", nil)
			return
		}

		pair, principal, err := g.auth.Refresh(r.Context(), composite, RequestContextFrom(r))
		if err != nil {
			WriteServiceError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), principalContextKey, principal)
		ctx = context.WithValue(ctx, tokenPairContextKey, pair)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func PrincipalFromContext(ctx context.Context) (*service.Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*service.Principal)
	return p, ok
}

func TokenPairFromContext(ctx context.Context) (*service.TokenPair, bool) {
	p, ok := ctx.Value(tokenPairContextKey).(*service.TokenPair)
	return p, ok
}

// RequestContextFrom captures the caller identity signals the token
// service binds tokens to.
func RequestContextFrom(r *http.Request) service.RequestContext {
	return service.RequestContext{
		IP:          clientIP(r),
		UserAgent:   r.Header.Get("User-Agent"),
		Fingerprint: security.FingerprintFromRequest(r),
	}
}

// WriteServiceError maps service sentinel errors onto the HTTP error
// envelope. Unknown errors become a 500 without leaking internals.
func WriteServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var locked *service.LockedError
	var limited *service.RateLimitedError

	switch {
	case errors.Is(err, service.ErrNoToken):
		response.Error(w, r, http.StatusUnauthorized, "NO_TOKEN", "authentication required", nil)
	case errors.Is(err, service.ErrInvalidTokenFormat):
		response.Error(w, r, http.StatusUnauthorized, "INVALID_TOKEN_FORMAT", "malformed token", nil)
	case errors.Is(err, service.ErrTokenExpired):
		response.Error(w, r, http.StatusUnauthorized, "TOKEN_EXPIRED", "access token expired", map[string]any{"shouldRefresh": true})
	case errors.Is(err, service.ErrTokenInvalidated):
		response.Error(w, r, http.StatusUnauthorized, "TOKEN_INVALIDATED", "token has been invalidated", nil)
	case errors.Is(err, service.ErrTokenIPMismatch), errors.Is(err, service.ErrTokenInvalid):
		response.Error(w, r, http.StatusUnauthorized, "INVALID_TOKEN", "invalid access token", nil)
	case errors.Is(err, service.ErrAccountDeactivated):
		response.Error(w, r, http.StatusForbidden, "ACCOUNT_DEACTIVATED", "account is deactivated", nil)
	case errors.Is(err, service.ErrEmailNotVerified):
		response.Error(w, r, http.StatusForbidden, "EMAIL_NOT_VERIFIED", "email verification required", nil)
	case errors.Is(err, service.ErrInsufficientPermissions):
		response.Error(w, r, http.StatusForbidden, "INSUFFICIENT_PERMISSIONS", "insufficient permissions", nil)
	case errors.Is(err, service.ErrRefreshTokenInvalid):
		response.Error(w, r, http.StatusUnauthorized, "REFRESH_TOKEN_INVALID", "invalid or expired refresh token", nil)
	case errors.Is(err, service.ErrInvalidCredentials):
		response.Error(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password", nil)
	case errors.As(err, &locked):
		response.Error(w, r, http.StatusForbidden, "ACCOUNT_LOCKED", "account temporarily locked", map[string]any{
			"locked_until": locked.Until.UTC(),
		})
	case errors.Is(err, service.ErrUserExists):
		response.Error(w, r, http.StatusConflict, "USER_EXISTS", "account already exists", nil)
	case errors.As(err, &limited):
		w.Header().Set("Retry-After", retryAfterHeader(limited.RetryAfter))
		response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
	case errors.Is(err, service.ErrStoreUnavailable):
		response.Error(w, r, http.StatusServiceUnavailable, "AUTH_SERVICE_UNAVAILABLE", "authentication service unavailable", nil)
	default:
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", nil)
	}
}

func extractAccessToken(r *http.Request) (string, string) {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:]), "bearer"
	}
	if c, err := r.Cookie("access_token"); err == nil && c.Value != "" {
		return c.Value, "cookie"
	}
	return "", "none"
}

func extractRefreshToken(r *http.Request) string {
	if c, err := r.Cookie("refresh_token"); err == nil && c.Value != "" {
		return c.Value
	}
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
		return strings.TrimSpace(body.RefreshToken)
	}
	return ""
}

func roleAllowed(role string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(role, a) {
			return true
		}
	}
	return false
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
