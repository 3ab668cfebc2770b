package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/kelmah-platform/auth-token-service/internal/health"
	"github.com/kelmah-platform/auth-token-service/internal/http/handler"
	"github.com/kelmah-platform/auth-token-service/internal/http/middleware"
	"github.com/kelmah-platform/auth-token-service/internal/http/response"
	"github.com/kelmah-platform/auth-token-service/internal/service"
)

type Dependencies struct {
	AuthHandler      *handler.AuthHandler
	Gate             *middleware.Gate
	AbuseGuard       service.AbuseGuard
	APIRateLimitRPM  int
	AuthRateLimitRPM int
	RateLimitMode    middleware.FailureMode
	Readiness        *health.ProbeRunner
	EnableOTelHTTP   bool
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.BodyLimit(1 << 20))
	r.Use(middleware.NewRateLimiter(dep.AbuseGuard, dep.APIRateLimitRPM, time.Minute, dep.RateLimitMode, "api").Middleware())

	authLimiter := middleware.NewRateLimiter(dep.AbuseGuard, dep.AuthRateLimitRPM, time.Minute, dep.RateLimitMode, "auth").Middleware()

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.With(authLimiter).Post("/register", dep.AuthHandler.Register)
		r.With(authLimiter).Post("/login", dep.AuthHandler.Login)
		r.With(authLimiter, dep.Gate.AuthenticateRefresh).Post("/refresh", dep.AuthHandler.Refresh)

		r.Group(func(r chi.Router) {
			r.Use(dep.Gate.Authenticate(middleware.AuthOptions{}))
			r.Post("/logout", dep.AuthHandler.Logout)
			r.Post("/logout-all", dep.AuthHandler.LogoutAll)
			r.Get("/me", dep.AuthHandler.Me)
			r.Get("/sessions", dep.AuthHandler.Sessions)
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
