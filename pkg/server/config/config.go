// Package config contains all knobs and defaults used to configure a wro server.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/wrogo/wro/pkg/options"
)

const (
	DefaultHTTPPrefix = "/wro"

	ModelEngineFile     = "file"
	ModelEngineSqlite   = "sqlite"
	ModelEnginePostgres = "postgres"
	ModelEngineMySQL    = "mysql"
)

var (
	logFormats          = []string{"text", "json"}
	logLevels           = []string{"none", "debug", "info", "warn", "error", "panic", "fatal"}
	logTimestampFormats = []string{"Unix", "ISO8601"}
	modelEngines        = []string{ModelEngineFile, ModelEngineSqlite, ModelEnginePostgres, ModelEngineMySQL}
)

// TLSConfig defines configuration specific to Transport Layer Security (TLS) settings.
type TLSConfig struct {
	Enabled  bool
	CertPath string `mapstructure:"cert"`
	KeyPath  string `mapstructure:"key"`
}

// HTTPConfig defines the bundle server.
type HTTPConfig struct {
	Enabled bool
	Addr    string
	TLS     *TLSConfig

	// Prefix is the path below which bundles and admin handlers are served.
	Prefix string

	CORSAllowedOrigins []string
	CORSAllowedHeaders []string
}

// GRPCConfig defines the server exposing the gRPC health service.
type GRPCConfig struct {
	Enabled bool
	Addr    string
	TLS     *TLSConfig
}

// LogConfig defines wro server configurations for log specific settings. For production we
// recommend using the 'json' log format.
type LogConfig struct {
	// Format is the log format to use in the log output (e.g. 'text' or 'json')
	Format string

	// Level is the log level to use in the log output (e.g. 'none', 'debug', or 'info')
	Level string

	// Format of the timestamp in the log output (e.g. 'Unix'(default) or 'ISO8601')
	TimestampFormat string
}

type TraceConfig struct {
	Enabled     bool
	OTLP        OTLPTraceConfig `mapstructure:"otlp"`
	SampleRatio float64
	ServiceName string
}

type OTLPTraceConfig struct {
	Endpoint string
	TLS      OTLPTraceTLSConfig
}

type OTLPTraceTLSConfig struct {
	Enabled bool
}

// MetricConfig defines configurations for serving prometheus metrics.
type MetricConfig struct {
	Enabled bool
	Addr    string
}

// ProfilerConfig defines server configurations specific to pprof profiling.
type ProfilerConfig struct {
	Enabled bool
	Addr    string
}

// ModelConfig defines where the model is read from.
type ModelConfig struct {
	// Engine is one of 'file', 'sqlite', 'postgres' or 'mysql'.
	Engine string

	// Path of the YAML or JSON model file, for the 'file' engine.
	Path string

	// URI, Username and Password of the database, for the SQL engines.
	URI          string
	Username     string
	Password     string
	MaxOpenConns int
}

// ResourcesConfig defines where unprefixed and classpath: URIs are resolved.
type ResourcesConfig struct {
	ContextRoot   string
	ClasspathRoot string
}

type Config struct {
	HTTP      HTTPConfig
	GRPC      GRPCConfig
	Log       LogConfig
	Trace     TraceConfig
	Metrics   MetricConfig
	Profiler  ProfilerConfig
	Model     ModelConfig
	Resources ResourcesConfig

	// Wro holds the pipeline options. They are re-read when the
	// configuration file changes.
	Wro options.Options `mapstructure:"wro"`
}

// DefaultConfig returns the wro server default configurations.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Enabled:            true,
			Addr:               "0.0.0.0:8080",
			TLS:                &TLSConfig{Enabled: false},
			Prefix:             DefaultHTTPPrefix,
			CORSAllowedOrigins: []string{"*"},
			CORSAllowedHeaders: []string{"*"},
		},
		GRPC: GRPCConfig{
			Enabled: true,
			Addr:    "0.0.0.0:8081",
			TLS:     &TLSConfig{Enabled: false},
		},
		Log: LogConfig{
			Format:          "text",
			Level:           "info",
			TimestampFormat: "Unix",
		},
		Trace: TraceConfig{
			Enabled: false,
			OTLP: OTLPTraceConfig{
				Endpoint: "0.0.0.0:4317",
				TLS: OTLPTraceTLSConfig{
					Enabled: false,
				},
			},
			SampleRatio: 0.2,
			ServiceName: "wro",
		},
		Metrics: MetricConfig{
			Enabled: true,
			Addr:    "0.0.0.0:2112",
		},
		Profiler: ProfilerConfig{
			Enabled: false,
			Addr:    ":3001",
		},
		Model: ModelConfig{
			Engine:       ModelEngineFile,
			Path:         "wro.yaml",
			MaxOpenConns: 10,
		},
		Resources: ResourcesConfig{
			ContextRoot: ".",
		},
		Wro: options.DefaultOptions(),
	}
}

// Verify returns every problem found in the configuration.
func (cfg *Config) Verify() error {
	var errs []error

	if !slices.Contains(logFormats, cfg.Log.Format) {
		errs = append(errs, fmt.Errorf("config 'log.format' must be one of ['%s']", strings.Join(logFormats, "', '")))
	}
	if !slices.Contains(logLevels, cfg.Log.Level) {
		errs = append(errs, fmt.Errorf("config 'log.level' must be one of ['%s']", strings.Join(logLevels, "', '")))
	}
	if !slices.Contains(logTimestampFormats, cfg.Log.TimestampFormat) {
		errs = append(errs, fmt.Errorf("config 'log.TimestampFormat' must be one of ['%s']", strings.Join(logTimestampFormats, "', '")))
	}

	if cfg.HTTP.TLS != nil && cfg.HTTP.TLS.Enabled && (cfg.HTTP.TLS.CertPath == "" || cfg.HTTP.TLS.KeyPath == "") {
		errs = append(errs, errors.New("'http.tls.cert' and 'http.tls.key' configs must be set"))
	}
	if cfg.GRPC.TLS != nil && cfg.GRPC.TLS.Enabled && (cfg.GRPC.TLS.CertPath == "" || cfg.GRPC.TLS.KeyPath == "") {
		errs = append(errs, errors.New("'grpc.tls.cert' and 'grpc.tls.key' configs must be set"))
	}
	if cfg.HTTP.Enabled && !strings.HasPrefix(cfg.HTTP.Prefix, "/") {
		errs = append(errs, fmt.Errorf("config 'http.prefix' must start with '/', got '%s'", cfg.HTTP.Prefix))
	}

	if cfg.Trace.Enabled && (cfg.Trace.SampleRatio < 0 || cfg.Trace.SampleRatio > 1) {
		errs = append(errs, fmt.Errorf("config 'trace.sampleRatio' must be between 0 and 1, got %v", cfg.Trace.SampleRatio))
	}

	switch cfg.Model.Engine {
	case ModelEngineFile:
		if cfg.Model.Path == "" {
			errs = append(errs, errors.New("config 'model.path' must be set for the 'file' model engine"))
		}
	case ModelEngineSqlite, ModelEnginePostgres, ModelEngineMySQL:
		if cfg.Model.URI == "" {
			errs = append(errs, fmt.Errorf("config 'model.uri' must be set for the '%s' model engine", cfg.Model.Engine))
		}
	default:
		errs = append(errs, fmt.Errorf("config 'model.engine' must be one of ['%s']", strings.Join(modelEngines, "', '")))
	}

	if err := cfg.Wro.Verify(); err != nil {
		errs = append(errs, fmt.Errorf("invalid 'wro' options: %w", err))
	}

	return errors.Join(errs...)
}
