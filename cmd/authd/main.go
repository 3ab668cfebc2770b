package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/kelmah-platform/auth-token-service/internal/app"
	"github.com/kelmah-platform/auth-token-service/internal/config"
	"github.com/kelmah-platform/auth-token-service/internal/health"
	"github.com/kelmah-platform/auth-token-service/internal/http/handler"
	httpmiddleware "github.com/kelmah-platform/auth-token-service/internal/http/middleware"
	"github.com/kelmah-platform/auth-token-service/internal/http/router"
	"github.com/kelmah-platform/auth-token-service/internal/observability"
	"github.com/kelmah-platform/auth-token-service/internal/repository"
	"github.com/kelmah-platform/auth-token-service/internal/security"
	"github.com/kelmah-platform/auth-token-service/internal/service"
	"github.com/kelmah-platform/auth-token-service/internal/tools/authcheck"
	"github.com/kelmah-platform/auth-token-service/internal/tools/common"
)

func main() {
	root := &cobra.Command{Use: "authd", Short: "Token lifecycle and authentication service"}
	root.AddCommand(newServeCommand(), newSweepCommand(), authcheck.NewRootCommand())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newServeCommand() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and background token sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := common.LoadEnvFile(envFile); err != nil {
				return err
			}
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			return a.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "path to a dotenv file")
	return cmd
}

func newSweepCommand() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired and long-revoked refresh tokens, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := common.LoadEnvFile(envFile); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			cfg, err := config.Load(ctx)
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			db, err := repository.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}

			tokens := repository.NewRefreshTokenRepository(db)
			deleted, err := tokens.SweepExpired(ctx, repository.RevokedRetention)
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			logger.Info("sweep completed", "deleted", deleted)
			return nil
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "path to a dotenv file")
	return cmd
}

func buildApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, err
	}

	settings := observability.Settings{
		Metrics: observability.MetricsSettings{
			Enabled:     cfg.MetricsEnabled,
			Endpoint:    cfg.OTLPEndpoint,
			Insecure:    !cfg.IsProduction(),
			ServiceName: "auth-token-service",
			Environment: cfg.Environment,
		},
		Tracing: observability.TracingSettings{
			Enabled:     cfg.TracingEnabled,
			Endpoint:    cfg.OTLPEndpoint,
			Insecure:    !cfg.IsProduction(),
			ServiceName: "auth-token-service",
			Environment: cfg.Environment,
			SampleRatio: cfg.TraceSampleRatio,
		},
		Logging: observability.LoggingSettings{
			Enabled:     cfg.OTelLoggingEnabled,
			Endpoint:    cfg.OTLPEndpoint,
			Insecure:    !cfg.IsProduction(),
			ServiceName: "auth-token-service",
			Environment: cfg.Environment,
			Level:       slog.LevelInfo,
		},
	}

	logger, loggerProvider, err := observability.InitLogging(ctx, settings.Logging)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	runtime, err := observability.InitRuntime(ctx, settings, logger)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}
	runtime.LoggerProvider = loggerProvider

	db, err := repository.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := repository.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	var redisClient redis.UniversalClient
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}

	memGuard := service.NewMemoryAbuseGuard()
	var guard service.AbuseGuard = memGuard
	if redisClient != nil {
		guard = service.NewRedisAbuseGuard(redisClient, "abuse_guard")
	}

	codec := security.NewTokenCodec(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTSecret, cfg.JWTRefreshSecret)
	tokenRepo := repository.NewRefreshTokenRepository(db)
	userRepo := repository.NewUserRepository(db)
	audit := observability.NewSlogAuditSink(logger)

	tokenSvc := service.NewTokenService(codec, tokenRepo, userRepo, audit, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	authSvc := service.NewAuthService(userRepo, tokenSvc, guard, audit)

	gate := httpmiddleware.NewGate(tokenSvc, authSvc)
	authHandler := handler.NewAuthHandler(authSvc, tokenSvc, handler.CookieSettings{
		Secure: cfg.CookieSecure,
		Domain: cfg.CookieDomain,
	})

	readiness := health.NewProbeRunner(2 * time.Second)
	readiness.Register("database", func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})
	if redisClient != nil {
		readiness.Register("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	mode := httpmiddleware.FailClosed
	if cfg.RateLimitFailOpen {
		mode = httpmiddleware.FailOpen
	}
	mux := router.NewRouter(router.Dependencies{
		AuthHandler:      authHandler,
		Gate:             gate,
		AbuseGuard:       guard,
		APIRateLimitRPM:  cfg.APIRateLimitRPM,
		AuthRateLimitRPM: cfg.AuthRateLimitRPM,
		RateLimitMode:    mode,
		Readiness:        readiness,
		EnableOTelHTTP:   cfg.EnableOTelHTTP,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       time.Minute,
	}

	return app.New(cfg, logger, server, tokenSvc, memGuard, readiness, runtime), nil
}
