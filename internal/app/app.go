package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kelmah-platform/auth-token-service/internal/config"
	"github.com/kelmah-platform/auth-token-service/internal/health"
	"github.com/kelmah-platform/auth-token-service/internal/observability"
	"github.com/kelmah-platform/auth-token-service/internal/service"
)

// App owns the HTTP server and the background token sweep. Run blocks until
// a shutdown signal arrives, then drains the server before stopping
// observability exporters.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Tokens        *service.TokenService
	Guard         *service.MemoryAbuseGuard
	Readiness     *health.ProbeRunner
	Observability *observability.Runtime
}

func New(cfg *config.Config, logger *slog.Logger, server *http.Server, tokens *service.TokenService, guard *service.MemoryAbuseGuard, readiness *health.ProbeRunner, runtime *observability.Runtime) *App {
	return &App{
		Config:        cfg,
		Logger:        logger,
		Server:        server,
		Tokens:        tokens,
		Guard:         guard,
		Readiness:     readiness,
		Observability: runtime,
	}
}

func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("http server starting", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return a.runSweepLoop(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) runSweepLoop(ctx context.Context) error {
	if a.Tokens == nil || a.Config.SweepInterval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(a.Config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
			deleted, err := a.Tokens.SweepExpired(sweepCtx)
			cancel()
			if err != nil {
				a.Logger.Error("token sweep failed", "error", err)
				continue
			}
			if deleted > 0 {
				a.Logger.Info("token sweep completed", "deleted", deleted)
			}
			if a.Guard != nil {
				a.Guard.Prune(time.Hour)
			}
		}
	}
}

func (a *App) shutdown() error {
	a.Logger.Info("shutting down", "timeout", a.Config.ShutdownTimeout)
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.Observability != nil {
		if err := a.Observability.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
