package observability

import (
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/upimatch/internal/observability/logger"
	"github.com/smallbiznis/upimatch/internal/observability/metrics"
	"github.com/smallbiznis/upimatch/internal/observability/tracing"
)

// Module wires logging, tracing and both metric pipelines (OTLP instruments for the
// matching engine, Prometheus for HTTP and the sweeper).
var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		Config.Logger,
		Config.Tracing,
		Config.Metrics,
	),
	fx.Provide(
		logger.New,
		tracing.NewProvider,
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
		metrics.Sweeper,
	),
	fx.Invoke(announce),
)

// announce forces the tracer provider to exist before the first request and logs
// where telemetry is going.
func announce(cfg Config, _ *sdktrace.TracerProvider, log *zap.Logger) {
	log.Info("observability configured",
		zap.String("env", cfg.Environment),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("otlp_enabled", cfg.OTLP.Enabled),
		zap.String("otlp_endpoint", cfg.OTLP.Endpoint),
		zap.String("otlp_protocol", cfg.OTLP.Protocol),
		zap.Float64("trace_sampling_ratio", cfg.OTLP.SamplingRatio),
	)
}
