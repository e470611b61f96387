// Package run contains the command to run a wro server.
package run

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	goruntime "runtime"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	semconv "go.opentelemetry.io/otel/semconv/v1.12.0"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	healthv1pb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"sigs.k8s.io/controller-runtime/pkg/certwatcher"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/wrogo/wro/internal/build"
	"github.com/wrogo/wro/pkg/locator"
	"github.com/wrogo/wro/pkg/logger"
	"github.com/wrogo/wro/pkg/manager"
	"github.com/wrogo/wro/pkg/model"
	"github.com/wrogo/wro/pkg/model/sqlmodel"
	"github.com/wrogo/wro/pkg/options"
	serverconfig "github.com/wrogo/wro/pkg/server/config"
	"github.com/wrogo/wro/pkg/server/health"
	wrohttp "github.com/wrogo/wro/pkg/server/http"
	"github.com/wrogo/wro/pkg/telemetry"
)

func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the wro server",
		Long:  "Run the wro server.",
		Run:   run,
		Args:  cobra.NoArgs,
	}

	defaultConfig := serverconfig.DefaultConfig()
	defaultOptions := defaultConfig.Wro
	flags := cmd.Flags()

	flags.Bool("http-enabled", defaultConfig.HTTP.Enabled, "enable/disable the bundle HTTP server")

	flags.String("http-addr", defaultConfig.HTTP.Addr, "the host:port address to serve the HTTP server on")

	flags.String("http-prefix", defaultConfig.HTTP.Prefix, "the path below which bundles and admin handlers are served")

	flags.Bool("http-tls-enabled", defaultConfig.HTTP.TLS.Enabled, "enable/disable transport layer security (TLS)")

	flags.String("http-tls-cert", defaultConfig.HTTP.TLS.CertPath, "the (absolute) file path of the certificate to use for the TLS connection")

	flags.String("http-tls-key", defaultConfig.HTTP.TLS.KeyPath, "the (absolute) file path of the TLS key that should be used for the TLS connection")

	cmd.MarkFlagsRequiredTogether("http-tls-enabled", "http-tls-cert", "http-tls-key")

	flags.StringSlice("http-cors-allowed-origins", defaultConfig.HTTP.CORSAllowedOrigins, "specifies the CORS allowed origins")

	flags.StringSlice("http-cors-allowed-headers", defaultConfig.HTTP.CORSAllowedHeaders, "specifies the CORS allowed headers")

	flags.Bool("grpc-enabled", defaultConfig.GRPC.Enabled, "enable/disable the gRPC health server")

	flags.String("grpc-addr", defaultConfig.GRPC.Addr, "the host:port address to serve the gRPC health server on")

	flags.Bool("grpc-tls-enabled", defaultConfig.GRPC.TLS.Enabled, "enable/disable transport layer security (TLS)")

	flags.String("grpc-tls-cert", defaultConfig.GRPC.TLS.CertPath, "the (absolute) file path of the certificate to use for the TLS connection")

	flags.String("grpc-tls-key", defaultConfig.GRPC.TLS.KeyPath, "the (absolute) file path of the TLS key that should be used for the TLS connection")

	cmd.MarkFlagsRequiredTogether("grpc-tls-enabled", "grpc-tls-cert", "grpc-tls-key")

	flags.String("model-engine", defaultConfig.Model.Engine, "where the model is read from ('file', 'sqlite', 'postgres' or 'mysql')")

	flags.String("model-path", defaultConfig.Model.Path, "the YAML or JSON model file, for the 'file' model engine")

	flags.String("model-uri", defaultConfig.Model.URI, "the connection uri of the database holding the model")

	flags.String("model-username", "", "the connection username to use to connect to the model database (overwrites any username provided in the connection uri)")

	flags.String("model-password", "", "the connection password to use to connect to the model database (overwrites any password provided in the connection uri)")

	flags.Int("model-max-open-conns", defaultConfig.Model.MaxOpenConns, "the maximum number of open connections to the model database")

	flags.String("resources-context-root", defaultConfig.Resources.ContextRoot, "the directory unprefixed and servletContext: resource URIs are resolved against")

	flags.String("resources-classpath-root", defaultConfig.Resources.ClasspathRoot, "the directory classpath: resource URIs are resolved against (disabled when empty)")

	flags.Bool("profiler-enabled", defaultConfig.Profiler.Enabled, "enable/disable pprof profiling")

	flags.String("profiler-addr", defaultConfig.Profiler.Addr, "the host:port address to serve the pprof profiler server on")

	flags.String("log-format", defaultConfig.Log.Format, "the log format to output logs in")

	flags.String("log-level", defaultConfig.Log.Level, "the log level to use")

	flags.String("log-timestamp-format", defaultConfig.Log.TimestampFormat, "the timestamp format to use for log messages")

	flags.Bool("trace-enabled", defaultConfig.Trace.Enabled, "enable tracing")

	flags.String("trace-otlp-endpoint", defaultConfig.Trace.OTLP.Endpoint, "the endpoint of the trace collector")

	flags.Bool("trace-otlp-tls-enabled", defaultConfig.Trace.OTLP.TLS.Enabled, "use TLS connection for trace collector")

	flags.Float64("trace-sample-ratio", defaultConfig.Trace.SampleRatio, "the fraction of traces to sample. 1 means all, 0 means none.")

	flags.String("trace-service-name", defaultConfig.Trace.ServiceName, "the service name included in sampled traces.")

	flags.Bool("metrics-enabled", defaultConfig.Metrics.Enabled, "enable/disable prometheus metrics on the '/metrics' endpoint")

	flags.String("metrics-addr", defaultConfig.Metrics.Addr, "the host:port address to serve the prometheus metrics server on")

	flags.Bool("debug", defaultOptions.Debug, "serve bundles with no-cache headers and enable the admin request handlers")

	flags.Bool("disable-cache", defaultOptions.DisableCache, "build every bundle on every request")

	flags.String("encoding", defaultOptions.Encoding, "the charset resources are read and bundles are written in")

	flags.Duration("model-update-period", defaultOptions.ModelUpdatePeriod, "how often the model is reloaded. 0 disables periodic reloads")

	flags.Duration("cache-update-period", defaultOptions.CacheUpdatePeriod, "how often every cached bundle is invalidated. 0 disables periodic invalidation")

	flags.Duration("model-load-timeout", defaultOptions.ModelLoadTimeout, "how long the initial model load is retried")

	flags.Int("engine-pool-size", defaultOptions.EnginePoolSize, "the maximum number of instances per processor engine pool")

	flags.Duration("engine-pool-timeout", defaultOptions.EnginePoolTimeout, "how long a processor waits for an engine instance")

	flags.Duration("build-wait-timeout", defaultOptions.BuildWaitTimeout, "how long a request waits for a bundle built by another request")

	flags.Bool("grace-mode", defaultOptions.GraceMode, "serve stale bundles while they are rebuilt in the background")

	flags.String("pre-processors", defaultOptions.PreProcessors, "a comma-separated list of pre-processor aliases")

	flags.String("post-processors", defaultOptions.PostProcessors, "a comma-separated list of post-processor aliases")

	flags.Bool("parallel-preprocessing", defaultOptions.ParallelPreprocessing, "pre-process the resources of a bundle concurrently")

	flags.Int("max-parallelism", defaultOptions.MaxParallelism, "the maximum number of resources pre-processed concurrently per bundle")

	flags.Bool("ignore-missing-resources", defaultOptions.IgnoreMissingResources, "replace unavailable resources with empty content instead of failing the bundle")

	flags.Bool("gzip-enabled", defaultOptions.GzipEnabled, "gzip responses of clients accepting it")

	flags.String("header", defaultOptions.Header, "custom response headers, formatted as 'Name: value | Name2: value2'")

	flags.Bool("admin-enabled", defaultOptions.AdminEnabled, "enable the reloadCache and reloadModel request handlers outside debug mode")

	flags.String("cache-strategy", defaultOptions.CacheStrategy, "the bundle cache store ('memory' or 'lru')")

	flags.Int("cache-max-entries", defaultOptions.CacheMaxEntries, "the capacity of the 'lru' bundle cache store")

	// NOTE: if you add a new flag here, update the function below, too

	cmd.PreRun = bindRunFlagsFunc(flags)

	return cmd
}

// ReadConfig returns the server configuration, merging the config file,
// environment variables and flags.
func ReadConfig() (*serverconfig.Config, error) {
	config := serverconfig.DefaultConfig()

	viper.SetTypeByDefaultValue(true)
	err := viper.ReadInConfig()
	if err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("failed to load server config: %w", err)
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal server config: %w", err)
	}

	return config, nil
}

func run(_ *cobra.Command, _ []string) {
	config, err := ReadConfig()
	if err != nil {
		panic(err)
	}

	if err := config.Verify(); err != nil {
		panic(err)
	}

	logger := logger.MustNewLogger(config.Log.Format, config.Log.Level, config.Log.TimestampFormat)
	serverCtx := &ServerContext{Logger: logger}
	if err := serverCtx.Run(context.Background(), config); err != nil {
		panic(err)
	}
}

// ServerContext holds what is shared by the servers started by Run.
type ServerContext struct {
	Logger logger.Logger
}

func (s *ServerContext) telemetryConfig(config *serverconfig.Config) func() error {
	if config.Trace.Enabled {
		s.Logger.Info(fmt.Sprintf("🕵 tracing enabled: sampling ratio is %v and sending traces to '%s', tls: %t", config.Trace.SampleRatio, config.Trace.OTLP.Endpoint, config.Trace.OTLP.TLS.Enabled))

		options := []telemetry.TracerOption{
			telemetry.WithOTLPEndpoint(
				config.Trace.OTLP.Endpoint,
			),
			telemetry.WithAttributes(
				semconv.ServiceNameKey.String(config.Trace.ServiceName),
				semconv.ServiceVersionKey.String(build.Version),
			),
			telemetry.WithSamplingRatio(config.Trace.SampleRatio),
		}

		if !config.Trace.OTLP.TLS.Enabled {
			options = append(options, telemetry.WithOTLPInsecure())
		}

		tp := telemetry.MustNewTracerProvider(options...)
		return func() error {
			// the batch span processor may take up to 5 seconds to flush
			ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
			defer cancel()
			return tp.Close(ctx)
		}
	}
	telemetry.Noop()
	return func() error {
		return nil
	}
}

// modelConfig returns the factory reading the model, and a func releasing it.
func (s *ServerContext) modelConfig(ctx context.Context, config *serverconfig.Config) (model.Factory, func() error, error) {
	switch config.Model.Engine {
	case serverconfig.ModelEngineFile:
		s.Logger.Info("reading the model from a file", zap.String("path", config.Model.Path))
		return model.NewFileFactory(config.Model.Path), func() error { return nil }, nil
	case serverconfig.ModelEngineSqlite, serverconfig.ModelEnginePostgres, serverconfig.ModelEngineMySQL:
		factory, err := sqlmodel.New(ctx, sqlmodel.Config{
			Engine:         config.Model.Engine,
			URI:            config.Model.URI,
			Username:       config.Model.Username,
			Password:       config.Model.Password,
			MaxOpenConns:   config.Model.MaxOpenConns,
			ConnectTimeout: config.Wro.ModelLoadTimeout,
			Logger:         s.Logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("initialize %s model factory: %w", config.Model.Engine, err)
		}
		s.Logger.Info(fmt.Sprintf("using '%s' model engine", config.Model.Engine))
		return factory, factory.Close, nil
	default:
		return nil, nil, fmt.Errorf("model engine '%s' is unsupported", config.Model.Engine)
	}
}

func classpath(config *serverconfig.Config) fs.FS {
	if config.Resources.ClasspathRoot == "" {
		return nil
	}
	return os.DirFS(config.Resources.ClasspathRoot)
}

// applyConfigChange re-reads the configuration and pushes the wro options
// into source. Invalid options are logged and ignored.
func (s *ServerContext) applyConfigChange(source *options.Source) {
	config, err := ReadConfig()
	if err != nil {
		s.Logger.Error("failed to re-read config, keeping previous options", zap.Error(err))
		return
	}
	if err := config.Wro.Verify(); err != nil {
		s.Logger.Error("invalid options in changed config, keeping previous options", zap.Error(err))
		return
	}

	if changed := source.Update(config.Wro); len(changed) > 0 {
		s.Logger.Info("options changed", zap.Any("properties", changed))
	}
}

// httpHandler returns the bundle handler wrapped by the HTTP middlewares,
// and a func releasing it.
func (s *ServerContext) httpHandler(config *serverconfig.Config, mgr *manager.Manager) (http.Handler, func(), error) {
	bundles, err := wrohttp.NewHandler(mgr,
		wrohttp.WithLogger(s.Logger),
		wrohttp.WithPrefix(config.HTTP.Prefix))
	if err != nil {
		return nil, nil, err
	}

	mux := http.NewServeMux()
	mux.Handle(strings.TrimSuffix(config.HTTP.Prefix, "/")+"/", bundles)
	handler := http.Handler(mux)

	if config.Trace.Enabled {
		handler = otelhttp.NewHandler(handler, "wro")
	}

	handler = cors.New(cors.Options{
		AllowedOrigins:   config.HTTP.CORSAllowedOrigins,
		AllowCredentials: true,
		AllowedHeaders:   config.HTTP.CORSAllowedHeaders,
		AllowedMethods:   []string{http.MethodGet, http.MethodHead, http.MethodPost},
		ExposedHeaders:   []string{wrohttp.RequestIDHeader, "ETag"},
	}).Handler(handler)

	return wrohttp.PanicRecoveryHandler(handler, s.Logger), bundles.Close, nil
}

func (s *ServerContext) listen(ctx context.Context, addr string, tlsConfig *serverconfig.TLSConfig, name string) (net.Listener, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on '%s': %w", addr, err)
	}

	if tlsConfig == nil || !tlsConfig.Enabled {
		s.Logger.Warn(name + " TLS is disabled, serving connections using insecure plaintext")
		return listener, nil
	}

	getCertificate, err := watchAndLoadCertificateWithCertWatcher(ctx, tlsConfig.CertPath, tlsConfig.KeyPath, s.Logger)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}
	s.Logger.Info(name + " TLS is enabled, serving connections using the provided certificate")
	return tls.NewListener(listener, &tls.Config{GetCertificate: getCertificate}), nil
}

// Run starts the manager and the configured servers, and blocks until ctx is
// cancelled or a server fails. Everything is shut down in reverse order.
func (s *ServerContext) Run(ctx context.Context, config *serverconfig.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracerProviderCloser := s.telemetryConfig(config)

	factory, closeFactory, err := s.modelConfig(ctx, config)
	if err != nil {
		_ = tracerProviderCloser()
		return err
	}

	source := options.NewSource(config.Wro)
	mgr, err := manager.New(source, factory,
		manager.WithLogger(s.Logger),
		manager.WithLocators(locator.NewDefaultRegistry(config.Resources.ContextRoot, classpath(config), s.Logger)))
	if err != nil {
		_ = closeFactory()
		_ = tracerProviderCloser()
		return err
	}

	if err := mgr.Start(ctx); err != nil {
		return errors.Join(err, s.shutdown(nil, nil, mgr, closeFactory, tracerProviderCloser))
	}

	if viper.ConfigFileUsed() != "" {
		viper.OnConfigChange(func(e fsnotify.Event) {
			s.Logger.Info("config file changed", zap.String("file", e.Name))
			s.applyConfigChange(source)
		})
		viper.WatchConfig()
	}

	s.Logger.Info(
		"starting wro service...",
		zap.String("version", build.Version),
		zap.String("date", build.Date),
		zap.String("commit", build.Commit),
		zap.String("go-version", goruntime.Version()),
	)

	g, gctx := errgroup.WithContext(ctx)
	var servers []*http.Server
	var closeHandler func()

	// fail releases what has been started so far
	fail := func(err error) error {
		shutdownErr := s.shutdown(servers, nil, mgr, closeFactory, tracerProviderCloser)
		if closeHandler != nil {
			closeHandler()
		}
		_ = g.Wait()
		return errors.Join(err, shutdownErr)
	}

	serveHTTP := func(srv *http.Server, l net.Listener, name string) {
		servers = append(servers, srv)
		g.Go(func() error {
			s.Logger.Info(fmt.Sprintf("🚀 starting %s on '%s'...", name, l.Addr()))
			if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s closed with unexpected error: %w", name, err)
			}
			s.Logger.Info(name + " shut down.")
			return nil
		})
	}

	if config.HTTP.Enabled {
		handler, closeFn, err := s.httpHandler(config, mgr)
		if err != nil {
			return fail(err)
		}
		closeHandler = closeFn

		l, err := s.listen(gctx, config.HTTP.Addr, config.HTTP.TLS, "HTTP")
		if err != nil {
			return fail(err)
		}
		serveHTTP(&http.Server{Addr: config.HTTP.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}, l, "HTTP server")
	}

	if config.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		l, err := net.Listen("tcp", config.Metrics.Addr)
		if err != nil {
			return fail(err)
		}
		serveHTTP(&http.Server{Addr: config.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}, l, "prometheus metrics server")
	}

	if config.Profiler.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

		l, err := net.Listen("tcp", config.Profiler.Addr)
		if err != nil {
			return fail(err)
		}
		serveHTTP(&http.Server{Addr: config.Profiler.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}, l, "pprof profiler")
	}

	var grpcServer *grpc.Server
	if config.GRPC.Enabled {
		var serverOpts []grpc.ServerOption
		if config.GRPC.TLS != nil && config.GRPC.TLS.Enabled {
			getCertificate, err := watchAndLoadCertificateWithCertWatcher(gctx, config.GRPC.TLS.CertPath, config.GRPC.TLS.KeyPath, s.Logger)
			if err != nil {
				return fail(err)
			}
			serverOpts = append(serverOpts, grpc.Creds(credentials.NewTLS(&tls.Config{GetCertificate: getCertificate})))
		}

		// nosemgrep: grpc-server-insecure-connection
		grpcServer = grpc.NewServer(serverOpts...)
		healthv1pb.RegisterHealthServer(grpcServer, &health.Checker{TargetService: mgr, TargetServiceName: health.ServiceName})
		reflection.Register(grpcServer)

		lis, err := net.Listen("tcp", config.GRPC.Addr)
		if err != nil {
			return fail(fmt.Errorf("failed to listen: %w", err))
		}

		g.Go(func() error {
			s.Logger.Info(fmt.Sprintf("🚀 starting gRPC health server on '%s'...", lis.Addr().String()))
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("gRPC server closed with unexpected error: %w", err)
			}
			s.Logger.Info("gRPC server shut down.")
			return nil
		})
	}

	// wait for cancellation signal or a failing server
	<-gctx.Done()
	s.Logger.Info("attempting to shutdown gracefully...")

	shutdownErr := s.shutdown(servers, grpcServer, mgr, closeFactory, tracerProviderCloser)
	if closeHandler != nil {
		closeHandler()
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.Logger.Info("server exited. goodbye 👋")
	return shutdownErr
}

// shutdown stops the servers, then the manager, the model factory and the
// tracer provider.
func (s *ServerContext) shutdown(servers []*http.Server, grpcServer *grpc.Server, mgr *manager.Manager, closeFactory func() error, closeTracer func() error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := len(servers) - 1; i >= 0; i-- {
		if err := servers[i].Shutdown(ctx); err != nil {
			s.Logger.Info("failed to shutdown server", zap.String("addr", servers[i].Addr), zap.Error(err))
		}
	}

	if grpcServer != nil {
		grpcServer.GracefulStop()
	}

	mgr.Close()

	var errs []error
	if err := closeFactory(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close the model factory: %w", err))
	}
	if err := closeTracer(); err != nil {
		s.Logger.Error("failed to shutdown tracing", zap.Error(err))
	}
	return errors.Join(errs...)
}

func watchAndLoadCertificateWithCertWatcher(ctx context.Context, certPath, keyPath string, logger logger.Logger) (func(*tls.ClientHelloInfo) (*tls.Certificate, error), error) {
	log.SetLogger(logr.New(nil))
	// Create a certificate watcher
	watcher, err := certwatcher.New(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create certwatcher: %w", err)
	}

	// Load the initial certificate
	if err := watcher.ReadCertificate(); err != nil {
		return nil, fmt.Errorf("failed to load initial certificate: %w", err)
	}
	logger.Info("Initial TLS certificate loaded.", zap.String("certPath", certPath), zap.String("keyPath", keyPath))

	// Start watching for certificate changes
	go func() {
		logger.Info("Starting certificate watcher...", zap.String("certPath", certPath), zap.String("keyPath", keyPath))
		if err := watcher.Start(ctx); err != nil {
			logger.Error("Certwatcher encountered an error", zap.Error(err))
		}
	}()

	// Return a function that retrieves the updated certificate
	getCertificate := func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		return watcher.GetCertificate(nil)
	}

	return getCertificate, nil
}
