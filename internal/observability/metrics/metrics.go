package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Notification outcomes.
const (
	OutcomeMatched   = "matched"
	OutcomeUnmatched = "unmatched"
	OutcomeNoAmount  = "no_amount"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes reconciliation instruments.
type Metrics struct {
	intentsCreated  metric.Int64Counter
	notifications   metric.Int64Counter
	intentsExpired  metric.Int64Counter
	matchLatency    metric.Float64Histogram
	rateLimitDenied metric.Int64Counter
	journalFailures metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "upimatch"
	}
	meter := provider.Meter(name)

	intentsCreated, err := meter.Int64Counter("upimatch_intents_created_total")
	if err != nil {
		return nil, err
	}
	notifications, err := meter.Int64Counter("upimatch_notifications_total")
	if err != nil {
		return nil, err
	}
	intentsExpired, err := meter.Int64Counter("upimatch_intents_expired_total")
	if err != nil {
		return nil, err
	}
	matchLatency, err := meter.Float64Histogram("upimatch_match_latency_seconds",
		metric.WithDescription("Time from intent creation to a successful match."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("upimatch_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}
	journalFailures, err := meter.Int64Counter("upimatch_journal_failures_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		intentsCreated:  intentsCreated,
		notifications:   notifications,
		intentsExpired:  intentsExpired,
		matchLatency:    matchLatency,
		rateLimitDenied: rateLimitDenied,
		journalFailures: journalFailures,
	}, nil
}

func (m *Metrics) RecordIntentCreated(ctx context.Context) {
	if m == nil {
		return
	}
	m.intentsCreated.Add(ctx, 1)
}

// RecordNotification counts an ingested SMS by outcome.
func (m *Metrics) RecordNotification(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.notifications.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordMatchLatency observes how long an intent waited before it was paid.
func (m *Metrics) RecordMatchLatency(ctx context.Context, waited time.Duration) {
	if m == nil || waited < 0 {
		return
	}
	m.matchLatency.Record(ctx, waited.Seconds())
}

func (m *Metrics) RecordExpired(ctx context.Context, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.intentsExpired.Add(ctx, int64(count))
}

// RecordRateLimitDenied counts throttled webhook calls.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordJournalFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.journalFailures.Add(ctx, 1)
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"outcome":     {},
	"endpoint":    {},
	"status_code": {},
	"job":         {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
