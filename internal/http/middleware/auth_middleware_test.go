package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kelmah-platform/auth-token-service/internal/domain"
	"github.com/kelmah-platform/auth-token-service/internal/repository"
	"github.com/kelmah-platform/auth-token-service/internal/security"
	"github.com/kelmah-platform/auth-token-service/internal/service"
)

type gateFixture struct {
	gate   *Gate
	tokens *service.TokenService
	users  repository.UserRepository
	user   *domain.User
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := repository.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repository.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	codec := security.NewTokenCodec(
		"iss",
		"aud",
		"abcdefghijklmnopqrstuvwxyz123456",
		"abcdefghijklmnopqrstuvwxyz654321",
	)
	tokenRepo := repository.NewRefreshTokenRepository(db)
	userRepo := repository.NewUserRepository(db)
	tokenSvc := service.NewTokenService(codec, tokenRepo, userRepo, nil, 15*time.Minute, 24*time.Hour)
	authSvc := service.NewAuthService(userRepo, tokenSvc, nil, nil)

	user := &domain.User{
		ID:              "user-1",
		Email:           "gate@example.com",
		PasswordHash:    "unused",
		Role:            "worker",
		IsActive:        true,
		IsEmailVerified: true,
		TokenVersion:    1,
	}
	if err := userRepo.Create(context.Background(), user); err != nil {
		t.Fatalf("create user: %v", err)
	}

	return &gateFixture{
		gate:   NewGate(tokenSvc, authSvc),
		tokens: tokenSvc,
		users:  userRepo,
		user:   user,
	}
}

func (f *gateFixture) issue(t *testing.T) *service.TokenPair {
	t.Helper()
	pair, err := f.tokens.Issue(context.Background(), f.user, service.RequestContext{UserAgent: "test"}, false)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return pair
}

func decodeErrorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return payload.Error.Code
}

func TestGateMissingToken(t *testing.T) {
	f := newGateFixture(t)
	h := f.gate.Authenticate(AuthOptions{})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr); code != "NO_TOKEN" {
		t.Fatalf("expected NO_TOKEN, got %q", code)
	}
}

func TestGateValidTokenStoresPrincipal(t *testing.T) {
	f := newGateFixture(t)
	pair := f.issue(t)

	var seen *service.Principal
	h := f.gate.Authenticate(AuthOptions{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d body=%s", rr.Code, rr.Body.String())
	}
	if seen == nil || seen.ID != "user-1" {
		t.Fatalf("principal not propagated: %+v", seen)
	}
}

func TestGateGarbageTokenRejected(t *testing.T) {
	f := newGateFixture(t)
	h := f.gate.Authenticate(AuthOptions{})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer not.a.token")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr); code != "INVALID_TOKEN" {
		t.Fatalf("expected INVALID_TOKEN, got %q", code)
	}
}

func TestGateRoleEnforcement(t *testing.T) {
	f := newGateFixture(t)
	pair := f.issue(t)

	h := f.gate.Authenticate(AuthOptions{AllowedRoles: []string{"hirer"}})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr); code != "INSUFFICIENT_PERMISSIONS" {
		t.Fatalf("expected INSUFFICIENT_PERMISSIONS, got %q", code)
	}

	allowed := f.gate.Authenticate(AuthOptions{AllowedRoles: []string{"worker", "hirer"}})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req = httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rr = httptest.NewRecorder()
	allowed.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for allowed role, got %d", rr.Code)
	}
}

func TestGateRequireVerifiedEmail(t *testing.T) {
	f := newGateFixture(t)
	unverified := &domain.User{
		ID:           "user-unverified",
		Email:        "unverified@example.com",
		PasswordHash: "unused",
		Role:         "worker",
		IsActive:     true,
		TokenVersion: 1,
	}
	if err := f.users.Create(context.Background(), unverified); err != nil {
		t.Fatalf("create user: %v", err)
	}
	pair, err := f.tokens.Issue(context.Background(), unverified, service.RequestContext{}, false)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	h := f.gate.Authenticate(AuthOptions{RequireVerifiedEmail: true})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr); code != "EMAIL_NOT_VERIFIED" {
		t.Fatalf("expected EMAIL_NOT_VERIFIED, got %q", code)
	}
}

func TestGateAuthenticateRefresh(t *testing.T) {
	f := newGateFixture(t)
	pair := f.issue(t)

	var gotPair *service.TokenPair
	h := f.gate.AuthenticateRefresh(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPair, _ = TokenPairFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	body, _ := json.Marshal(map[string]string{"refreshToken": pair.RefreshToken})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if gotPair == nil || gotPair.RefreshToken == pair.RefreshToken {
		t.Fatal("handler must receive a rotated pair")
	}

	// replaying the rotated-out token is rejected
	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", bytes.NewReader(body))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 on replay, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr); code != "REFRESH_TOKEN_INVALID" {
		t.Fatalf("expected REFRESH_TOKEN_INVALID, got %q", code)
	}
}
