package observability

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/smallbiznis/upimatch/internal/config"
	"github.com/smallbiznis/upimatch/internal/observability/logger"
	"github.com/smallbiznis/upimatch/internal/observability/metrics"
	"github.com/smallbiznis/upimatch/internal/observability/tracing"
)

// Config holds the service identity plus its log and OTLP settings.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	Log  LogSettings
	OTLP OTLPSettings
}

type LogSettings struct {
	Level  string
	Format string
	// zap sampling: identical lines allowed per second before every Nth is kept
	SampleInitial    int
	SampleThereafter int
}

type OTLPSettings struct {
	Enabled       bool
	Endpoint      string
	Protocol      string
	SamplingRatio float64
}

// LoadConfig reads LOG_*, OTEL_* and deployment overrides on top of the app config.
func LoadConfig(cfg config.Config) Config {
	v := viper.New()
	v.SetDefault("service", "upimatch")
	if name := strings.TrimSpace(cfg.AppName); name != "" {
		v.SetDefault("service", name)
	}
	v.SetDefault("environment", cfg.Environment)
	v.SetDefault("version", cfg.AppVersion)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.sample_initial", 100)
	v.SetDefault("log.sample_thereafter", 100)
	v.SetDefault("otlp.enabled", false)
	v.SetDefault("otlp.endpoint", cfg.OTLPEndpoint)
	v.SetDefault("otlp.protocol", "grpc")
	v.SetDefault("otlp.sampling_ratio", 0.1)

	_ = v.BindEnv("environment", "DEPLOYMENT_ENV")
	_ = v.BindEnv("version", "SERVICE_VERSION")
	_ = v.BindEnv("log.level", "LOG_LEVEL")
	_ = v.BindEnv("log.format", "LOG_FORMAT")
	_ = v.BindEnv("log.sample_initial", "LOG_SAMPLE_INITIAL")
	_ = v.BindEnv("log.sample_thereafter", "LOG_SAMPLE_THEREAFTER")
	_ = v.BindEnv("otlp.enabled", "OTEL_ENABLED")
	_ = v.BindEnv("otlp.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	// the first non-empty variable wins
	_ = v.BindEnv("otlp.protocol", "OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "OTEL_EXPORTER_OTLP_PROTOCOL")
	_ = v.BindEnv("otlp.sampling_ratio", "OTEL_SAMPLING_RATIO")

	return Config{
		ServiceName: strings.TrimSpace(v.GetString("service")),
		Environment: strings.TrimSpace(v.GetString("environment")),
		Version:     strings.TrimSpace(v.GetString("version")),
		Log: LogSettings{
			Level:            normalized(v.GetString("log.level")),
			Format:           normalized(v.GetString("log.format")),
			SampleInitial:    v.GetInt("log.sample_initial"),
			SampleThereafter: v.GetInt("log.sample_thereafter"),
		},
		OTLP: OTLPSettings{
			Enabled:       v.GetBool("otlp.enabled"),
			Endpoint:      strings.TrimSpace(v.GetString("otlp.endpoint")),
			Protocol:      normalized(v.GetString("otlp.protocol")),
			SamplingRatio: v.GetFloat64("otlp.sampling_ratio"),
		},
	}
}

// Debug is true for debug logging or a development-like environment. It also
// keeps gin out of release mode.
func (c Config) Debug() bool {
	if normalized(c.Log.Level) == "debug" {
		return true
	}
	switch normalized(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func (c Config) Logger() logger.Config {
	return logger.Config{
		ServiceName:         c.ServiceName,
		Environment:         c.Environment,
		Version:             c.Version,
		Level:               c.Log.Level,
		Format:              c.Log.Format,
		SamplingInitial:     c.Log.SampleInitial,
		SamplingThereafter:  c.Log.SampleThereafter,
		IncludeCaller:       true,
		IncludeStackOnError: c.Debug(),
	}
}

func (c Config) Tracing() tracing.Config {
	return tracing.Config{
		Enabled:          c.OTLP.Enabled,
		ServiceName:      c.ServiceName,
		ServiceVersion:   c.Version,
		Environment:      c.Environment,
		ExporterEndpoint: c.OTLP.Endpoint,
		ExporterProtocol: c.OTLP.Protocol,
		SamplingRatio:    c.OTLP.SamplingRatio,
	}
}

func (c Config) Metrics() metrics.Config {
	return metrics.Config{
		Enabled:          c.OTLP.Enabled,
		ExporterEndpoint: c.OTLP.Endpoint,
		ExporterProtocol: c.OTLP.Protocol,
		ServiceName:      c.ServiceName,
		Environment:      c.Environment,
	}
}

func normalized(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
