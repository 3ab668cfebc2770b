package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kelmah-platform/auth-token-service/internal/service"
)

type failingGuard struct{}

func (failingGuard) Check(context.Context, string, int, time.Duration) (service.AbuseDecision, error) {
	return service.AbuseDecision{}, errors.New("backend down")
}

func TestRateLimiterAllowsThenDenies(t *testing.T) {
	rl := NewRateLimiter(service.NewMemoryAbuseGuard(), 2, time.Minute, FailClosed, "test")
	h := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		if rr.Code != http.StatusNoContent {
			t.Fatalf("request %d should pass, got %d", i, rr.Code)
		}
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header on 429")
	}
	if rr.Header().Get("X-RateLimit-Limit") != "2" {
		t.Fatalf("unexpected limit header %q", rr.Header().Get("X-RateLimit-Limit"))
	}
}

func TestRateLimiterScopesAreIndependent(t *testing.T) {
	guard := service.NewMemoryAbuseGuard()
	api := NewRateLimiter(guard, 1, time.Minute, FailClosed, "api").Middleware()
	auth := NewRateLimiter(guard, 1, time.Minute, FailClosed, "auth").Middleware()

	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	rr := httptest.NewRecorder()
	api(ok).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("api request should pass, got %d", rr.Code)
	}

	// same client IP, different scope: still allowed
	rr = httptest.NewRecorder()
	auth(ok).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("auth scope must have its own counter, got %d", rr.Code)
	}
}

func TestRateLimiterFailureModes(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	open := NewRateLimiter(failingGuard{}, 1, time.Minute, FailOpen, "test").Middleware()
	rr := httptest.NewRecorder()
	open(ok).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("fail-open must allow on backend error, got %d", rr.Code)
	}

	closed := NewRateLimiter(failingGuard{}, 1, time.Minute, FailClosed, "test").Middleware()
	rr = httptest.NewRecorder()
	closed(ok).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("fail-closed must deny on backend error, got %d", rr.Code)
	}
}

func TestRetryAfterHeaderRounding(t *testing.T) {
	cases := map[time.Duration]string{
		0:                      "1",
		200 * time.Millisecond: "1",
		time.Second:            "1",
		90 * time.Second:       "90",
	}
	for d, want := range cases {
		if got := retryAfterHeader(d); got != want {
			t.Fatalf("retryAfterHeader(%v)=%q want %q", d, got, want)
		}
	}
}
