package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kelmah-platform/auth-token-service/internal/http/handler"
	"github.com/kelmah-platform/auth-token-service/internal/http/middleware"
	"github.com/kelmah-platform/auth-token-service/internal/http/router"
	"github.com/kelmah-platform/auth-token-service/internal/observability"
	"github.com/kelmah-platform/auth-token-service/internal/repository"
	"github.com/kelmah-platform/auth-token-service/internal/security"
	"github.com/kelmah-platform/auth-token-service/internal/service"
)

const (
	testAccessSecret  = "abcdefghijklmnopqrstuvwxyz123456"
	testRefreshSecret = "654321zyxwvutsrqponmlkjihgfedcba"
)

var serverSeq atomic.Int64

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

type tokenPairView struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type loginView struct {
	Tokens tokenPairView `json:"tokens"`
	User   struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Role  string `json:"role"`
	} `json:"user"`
}

// newAuthTestServer stands up the full router on a fresh in-memory database
// and returns a cookie-jar client pointed at it.
func newAuthTestServer(t *testing.T) (string, *http.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf("file:integration%d?mode=memory&cache=shared", serverSeq.Add(1))
	db, err := repository.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := repository.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	codec := security.NewTokenCodec("auth-token-service", "kelmah-platform", testAccessSecret, testRefreshSecret)
	tokenRepo := repository.NewRefreshTokenRepository(db)
	userRepo := repository.NewUserRepository(db)
	audit := observability.NopAuditSink{}

	tokenSvc := service.NewTokenService(codec, tokenRepo, userRepo, audit, 15*time.Minute, 7*24*time.Hour)
	authSvc := service.NewAuthService(userRepo, tokenSvc, service.NewMemoryAbuseGuard(), audit)

	r := router.NewRouter(router.Dependencies{
		AuthHandler:      handler.NewAuthHandler(authSvc, tokenSvc, handler.CookieSettings{}),
		Gate:             middleware.NewGate(tokenSvc, authSvc),
		AbuseGuard:       service.NewMemoryAbuseGuard(),
		APIRateLimitRPM:  1000,
		AuthRateLimitRPM: 1000,
		RateLimitMode:    middleware.FailClosed,
	})
	srv := httptest.NewServer(r)

	return srv.URL, newJarClient(t), srv.Close
}

func doJSON(t *testing.T, client *http.Client, method, target string, body any, headers map[string]string) (*http.Response, envelope) {
	t.Helper()
	return doRaw(t, client, method, target, body, headers, nil)
}

func doRaw(t *testing.T, client *http.Client, method, target string, body any, headers map[string]string, cookies []*http.Cookie) (*http.Response, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, target, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", "integration-test/1.0")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode envelope from %q: %v", raw, err)
		}
	}
	return resp, env
}

func cookieValue(t *testing.T, client *http.Client, baseURL, name string) string {
	t.Helper()
	u, err := url.Parse(baseURL + "/api/v1/auth/refresh")
	if err != nil {
		t.Fatalf("parse base url: %v", err)
	}
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func newJarClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{Jar: jar, Timeout: 10 * time.Second}
}

func registerAndLogin(t *testing.T, client *http.Client, baseURL, email, password string) loginView {
	t.Helper()

	resp, env := doJSON(t, client, http.MethodPost, baseURL+"/api/v1/auth/register", map[string]string{
		"email":     email,
		"password":  password,
		"firstName": "Test",
		"lastName":  "Account",
		"role":      "worker",
	}, nil)
	if resp.StatusCode != http.StatusCreated || !env.Success {
		t.Fatalf("register failed: status=%d success=%v", resp.StatusCode, env.Success)
	}

	resp, env = doJSON(t, client, http.MethodPost, baseURL+"/api/v1/auth/login", map[string]any{
		"email":    email,
		"password": password,
	}, nil)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("login failed: status=%d success=%v", resp.StatusCode, env.Success)
	}

	var view loginView
	if err := json.Unmarshal(env.Data, &view); err != nil {
		t.Fatalf("decode login payload: %v", err)
	}
	if view.Tokens.AccessToken == "" || view.Tokens.RefreshToken == "" {
		t.Fatalf("login returned incomplete tokens: %+v", view.Tokens)
	}
	return view
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}
