package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "auth-token-service"

type appMetrics struct {
	loginCounter           metric.Int64Counter
	refreshCounter         metric.Int64Counter
	logoutCounter          metric.Int64Counter
	tokenValidationCounter metric.Int64Counter
	repoCounter            metric.Int64Counter
	sweepCounter           metric.Int64Counter
	rateLimitCounter       metric.Int64Counter
}

var (
	metricsMu sync.RWMutex
	metrics   *appMetrics
)

// MetricsSettings is the slice of configuration the metrics runtime needs;
// kept separate from config.Config to avoid an import cycle.
type MetricsSettings struct {
	Enabled        bool
	Endpoint       string
	Insecure       bool
	ServiceName    string
	Environment    string
	ExportInterval time.Duration
}

func InitMetrics(ctx context.Context, settings MetricsSettings, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !settings.Enabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(settings.Endpoint)}
	if settings.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", settings.ServiceName),
			attribute.String("deployment.environment", settings.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(settings.ExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter(meterName)
	m := &appMetrics{}
	if m.loginCounter, err = meter.Int64Counter("auth.login.attempts"); err != nil {
		return nil, err
	}
	if m.refreshCounter, err = meter.Int64Counter("auth.refresh.attempts"); err != nil {
		return nil, err
	}
	if m.logoutCounter, err = meter.Int64Counter("auth.logout.attempts"); err != nil {
		return nil, err
	}
	if m.tokenValidationCounter, err = meter.Int64Counter("token.validation.events"); err != nil {
		return nil, err
	}
	if m.repoCounter, err = meter.Int64Counter("repository.operations"); err != nil {
		return nil, err
	}
	if m.sweepCounter, err = meter.Int64Counter("token.sweep.deleted"); err != nil {
		return nil, err
	}
	if m.rateLimitCounter, err = meter.Int64Counter("rate.limit.decisions"); err != nil {
		return nil, err
	}

	metricsMu.Lock()
	metrics = m
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", settings.Endpoint)
	return mp, nil
}

func current() *appMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return metrics
}

func RecordAuthLogin(status string) {
	m := current()
	if m == nil {
		return
	}
	m.loginCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordAuthRefresh(status string) {
	m := current()
	if m == nil {
		return
	}
	m.refreshCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordAuthLogout(status string) {
	m := current()
	if m == nil {
		return
	}
	m.logoutCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordTokenValidation(ctx context.Context, outcome, source string) {
	m := current()
	if m == nil {
		return
	}
	m.tokenValidationCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.String("source", source),
		),
	)
}

func RecordRepositoryOperation(ctx context.Context, entity, operation, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.repoCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("entity", entity),
			attribute.String("operation", operation),
			attribute.String("outcome", outcome),
		),
	)
}

func RecordSweepDeleted(ctx context.Context, count int64) {
	m := current()
	if m == nil || count <= 0 {
		return
	}
	m.sweepCounter.Add(ctx, count)
}

func RecordRateLimitDecision(ctx context.Context, scope, decision string) {
	m := current()
	if m == nil {
		return
	}
	m.rateLimitCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("scope", scope),
			attribute.String("decision", decision),
		),
	)
}
