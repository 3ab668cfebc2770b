package security

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenInvalid       = errors.New("token invalid")
	ErrTokenIPMismatch    = errors.New("token ip mismatch")
	ErrInvalidTokenFormat = errors.New("invalid token format")
)

// AccessClaims is the payload of a short-lived, stateless access token.
// Version carries the user's token-version at issuance so a global
// invalidation can reject the token without enumerating outstanding ones.
type AccessClaims struct {
	Role        string `json:"role"`
	Version     int    `json:"version"`
	IP          string `json:"ip,omitempty"`
	Fingerprint string `json:"fp,omitempty"`
	jwt.RegisteredClaims
}

// RefreshClaims is the signed half of a composite refresh token. The jti
// claim is the opaque token-id the store is keyed by.
type RefreshClaims struct {
	TokenType string `json:"type"`
	Version   int    `json:"version"`
	jwt.RegisteredClaims
}

type TokenCodec struct {
	issuer        string
	audience      string
	accessSecret  []byte
	refreshSecret []byte
}

func NewTokenCodec(issuer, audience, accessSecret, refreshSecret string) *TokenCodec {
	return &TokenCodec{
		issuer:        issuer,
		audience:      audience,
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
	}
}

// AccessContext carries the request attributes embedded into (and checked
// against) access token claims.
type AccessContext struct {
	IP          string
	Fingerprint string
}

func (c *TokenCodec) SignAccessToken(userID, role string, version int, attrs AccessContext, ttl time.Duration) (string, error) {
	claims := AccessClaims{
		Role:        role,
		Version:     version,
		IP:          attrs.IP,
		Fingerprint: attrs.Fingerprint,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   userID,
			Audience:  []string{c.audience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.accessSecret)
}

// VerifyAccessToken checks signature, issuer, audience and expiry. When the
// claims embed an issuing IP and the caller's IP differs, the token is
// rejected with ErrTokenIPMismatch as a possible theft signal.
func (c *TokenCodec) VerifyAccessToken(raw string, attrs AccessContext) (*AccessClaims, error) {
	claims := &AccessClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return c.accessSecret, nil
	}, jwt.WithIssuer(c.issuer), jwt.WithAudience(c.audience))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !tok.Valid {
		return nil, ErrTokenInvalid
	}
	if attrs.IP != "" && claims.IP != "" && claims.IP != attrs.IP {
		return nil, ErrTokenIPMismatch
	}
	return claims, nil
}

func (c *TokenCodec) SignRefreshJWT(userID, tokenID string, version int, ttl time.Duration) (string, error) {
	claims := RefreshClaims{
		TokenType: "refresh",
		Version:   version,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   userID,
			Audience:  []string{c.audience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ID:        tokenID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.refreshSecret)
}

// DecodeRefreshJWT verifies the signed half of a composite refresh token.
// Expired or tampered tokens fail here, before any store lookup.
func (c *TokenCodec) DecodeRefreshJWT(raw string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return c.refreshSecret, nil
	}, jwt.WithIssuer(c.issuer), jwt.WithAudience(c.audience))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !tok.Valid || claims.TokenType != "refresh" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// ExtractRefreshTokenID pulls the jti claim out of a composite refresh token
// without verifying the signature. Used on logout, where a best-effort revoke
// of an already expired token is still wanted.
func (c *TokenCodec) ExtractRefreshTokenID(composite string) string {
	signed, _, err := SplitCompositeToken(composite)
	if err != nil {
		return ""
	}
	claims := &RefreshClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(signed, claims); err != nil {
		return ""
	}
	return claims.ID
}

// SplitCompositeToken splits the wire form <jwt>.<rawSecret> into its signed
// and raw halves. A composite token has exactly four dot-separated segments:
// three from the JWT plus the raw secret.
func SplitCompositeToken(composite string) (signed, raw string, err error) {
	parts := strings.Split(composite, ".")
	if len(parts) != 4 {
		return "", "", ErrInvalidTokenFormat
	}
	for _, p := range parts {
		if p == "" {
			return "", "", ErrInvalidTokenFormat
		}
	}
	return strings.Join(parts[:3], "."), parts[3], nil
}

// JoinCompositeToken builds the wire form from a signed refresh JWT and the
// raw secret hex string.
func JoinCompositeToken(signed, raw string) string {
	return signed + "." + raw
}
