package observability

import (
	"context"

	"github.com/smallbiznis/companion/internal/config"
	"github.com/smallbiznis/companion/internal/observability/logger"
	"github.com/smallbiznis/companion/internal/observability/metrics"
	"github.com/smallbiznis/companion/internal/observability/tracing"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("observability",
	fx.Provide(newLogger),
	fx.Provide(newTracerProvider),
	fx.Provide(newHTTPMetrics),
	fx.Provide(newDomainMetrics),
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
)

func newLogger(lc fx.Lifecycle, cfg config.Config) (*zap.Logger, error) {
	log, err := logger.New(logger.Config{
		ServiceName: cfg.AppName,
		Environment: cfg.Environment,
		Level:       cfg.Observability.LogLevel,
	})
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = log.Sync()
			return nil
		},
	})
	return log, nil
}

func newTracerProvider(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*sdktrace.TracerProvider, error) {
	return tracing.NewProvider(lc, tracing.Config{
		Enabled:          cfg.Observability.TracingEnabled,
		ServiceName:      cfg.AppName,
		ServiceVersion:   cfg.AppVersion,
		Environment:      cfg.Environment,
		ExporterEndpoint: cfg.Observability.ExporterEndpoint,
		ExporterProtocol: cfg.Observability.ExporterProtocol,
		ExporterInsecure: cfg.Observability.ExporterInsecure,
		ExporterHeaders:  tracing.ParseHeaders(cfg.Observability.ExporterHeaders),
		SamplingRatio:    cfg.Observability.SamplingRatio,
	}, log)
}

func newHTTPMetrics(cfg config.Config) (*metrics.HTTPMetrics, error) {
	return metrics.NewHTTPMetrics(metrics.Config{
		ServiceName: cfg.AppName,
		Environment: cfg.Environment,
	}, otel.GetMeterProvider())
}

func newDomainMetrics(cfg config.Config) *metrics.DomainMetrics {
	if !cfg.Observability.MetricsEnabled {
		return nil
	}
	return metrics.DomainWithConfig(metrics.Config{
		ServiceName: cfg.AppName,
		Environment: cfg.Environment,
	})
}
