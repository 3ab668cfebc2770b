package service

import (
	"context"
	"time"
)

// Principal is the normalized identity attached to a request after a
// successful access-token verification.
type Principal struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Role          string `json:"role"`
	EmailVerified bool   `json:"email_verified"`
	TokenVersion  int    `json:"-"`
}

// RequestContext carries the per-request attributes that bind tokens to a
// rough device identity.
type RequestContext struct {
	IP          string
	UserAgent   string
	Fingerprint string
}

// TokenPair is what issuance and rotation hand back to the client.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int       `json:"expires_in"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// AbuseDecision is the outcome of a rate-limit check.
type AbuseDecision struct {
	Limited    bool
	RetryAfter time.Duration
}

// AbuseGuard is the injected rate-limit contract. The backing store is a
// deployment decision: in-memory for a single instance, Redis for many.
type AbuseGuard interface {
	Check(ctx context.Context, key string, limit int, window time.Duration) (AbuseDecision, error)
}
