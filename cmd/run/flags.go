package run

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/wrogo/wro/cmd/util"
)

// bindRunFlagsFunc binds the cobra cmd flags to the equivalent config value being managed
// by viper. This bridges the config between cobra flags and viper flags.
func bindRunFlagsFunc(flags *pflag.FlagSet) func(*cobra.Command, []string) {
	return func(command *cobra.Command, args []string) {
		util.MustBindPFlag("http.enabled", flags.Lookup("http-enabled"))
		util.MustBindEnv("http.enabled", "WRO_HTTP_ENABLED")

		util.MustBindPFlag("http.addr", flags.Lookup("http-addr"))
		util.MustBindEnv("http.addr", "WRO_HTTP_ADDR")

		util.MustBindPFlag("http.prefix", flags.Lookup("http-prefix"))
		util.MustBindEnv("http.prefix", "WRO_HTTP_PREFIX")

		util.MustBindPFlag("http.tls.enabled", flags.Lookup("http-tls-enabled"))
		util.MustBindEnv("http.tls.enabled", "WRO_HTTP_TLS_ENABLED")

		util.MustBindPFlag("http.tls.cert", flags.Lookup("http-tls-cert"))
		util.MustBindEnv("http.tls.cert", "WRO_HTTP_TLS_CERT")

		util.MustBindPFlag("http.tls.key", flags.Lookup("http-tls-key"))
		util.MustBindEnv("http.tls.key", "WRO_HTTP_TLS_KEY")

		command.MarkFlagsRequiredTogether("http-tls-enabled", "http-tls-cert", "http-tls-key")

		util.MustBindPFlag("http.corsAllowedOrigins", flags.Lookup("http-cors-allowed-origins"))
		util.MustBindEnv("http.corsAllowedOrigins", "WRO_HTTP_CORS_ALLOWED_ORIGINS", "WRO_HTTP_CORSALLOWEDORIGINS")

		util.MustBindPFlag("http.corsAllowedHeaders", flags.Lookup("http-cors-allowed-headers"))
		util.MustBindEnv("http.corsAllowedHeaders", "WRO_HTTP_CORS_ALLOWED_HEADERS", "WRO_HTTP_CORSALLOWEDHEADERS")

		util.MustBindPFlag("grpc.enabled", flags.Lookup("grpc-enabled"))
		util.MustBindEnv("grpc.enabled", "WRO_GRPC_ENABLED")

		util.MustBindPFlag("grpc.addr", flags.Lookup("grpc-addr"))
		util.MustBindEnv("grpc.addr", "WRO_GRPC_ADDR")

		util.MustBindPFlag("grpc.tls.enabled", flags.Lookup("grpc-tls-enabled"))
		util.MustBindEnv("grpc.tls.enabled", "WRO_GRPC_TLS_ENABLED")

		util.MustBindPFlag("grpc.tls.cert", flags.Lookup("grpc-tls-cert"))
		util.MustBindEnv("grpc.tls.cert", "WRO_GRPC_TLS_CERT")

		util.MustBindPFlag("grpc.tls.key", flags.Lookup("grpc-tls-key"))
		util.MustBindEnv("grpc.tls.key", "WRO_GRPC_TLS_KEY")

		command.MarkFlagsRequiredTogether("grpc-tls-enabled", "grpc-tls-cert", "grpc-tls-key")

		util.MustBindPFlag("model.engine", flags.Lookup("model-engine"))
		util.MustBindEnv("model.engine", "WRO_MODEL_ENGINE")

		util.MustBindPFlag("model.path", flags.Lookup("model-path"))
		util.MustBindEnv("model.path", "WRO_MODEL_PATH")

		util.MustBindPFlag("model.uri", flags.Lookup("model-uri"))
		util.MustBindEnv("model.uri", "WRO_MODEL_URI")

		util.MustBindPFlag("model.username", flags.Lookup("model-username"))
		util.MustBindEnv("model.username", "WRO_MODEL_USERNAME")

		util.MustBindPFlag("model.password", flags.Lookup("model-password"))
		util.MustBindEnv("model.password", "WRO_MODEL_PASSWORD")

		util.MustBindPFlag("model.maxOpenConns", flags.Lookup("model-max-open-conns"))
		util.MustBindEnv("model.maxOpenConns", "WRO_MODEL_MAX_OPEN_CONNS", "WRO_MODEL_MAXOPENCONNS")

		util.MustBindPFlag("resources.contextRoot", flags.Lookup("resources-context-root"))
		util.MustBindEnv("resources.contextRoot", "WRO_RESOURCES_CONTEXT_ROOT", "WRO_RESOURCES_CONTEXTROOT")

		util.MustBindPFlag("resources.classpathRoot", flags.Lookup("resources-classpath-root"))
		util.MustBindEnv("resources.classpathRoot", "WRO_RESOURCES_CLASSPATH_ROOT", "WRO_RESOURCES_CLASSPATHROOT")

		util.MustBindPFlag("profiler.enabled", flags.Lookup("profiler-enabled"))
		util.MustBindEnv("profiler.enabled", "WRO_PROFILER_ENABLED")

		util.MustBindPFlag("profiler.addr", flags.Lookup("profiler-addr"))
		util.MustBindEnv("profiler.addr", "WRO_PROFILER_ADDR")

		util.MustBindPFlag("log.format", flags.Lookup("log-format"))
		util.MustBindEnv("log.format", "WRO_LOG_FORMAT")

		util.MustBindPFlag("log.level", flags.Lookup("log-level"))
		util.MustBindEnv("log.level", "WRO_LOG_LEVEL")

		util.MustBindPFlag("log.timestampFormat", flags.Lookup("log-timestamp-format"))
		util.MustBindEnv("log.timestampFormat", "WRO_LOG_TIMESTAMP_FORMAT", "WRO_LOG_TIMESTAMPFORMAT")

		util.MustBindPFlag("trace.enabled", flags.Lookup("trace-enabled"))
		util.MustBindEnv("trace.enabled", "WRO_TRACE_ENABLED")

		util.MustBindPFlag("trace.otlp.endpoint", flags.Lookup("trace-otlp-endpoint"))
		util.MustBindEnv("trace.otlp.endpoint", "WRO_TRACE_OTLP_ENDPOINT")

		util.MustBindPFlag("trace.otlp.tls.enabled", flags.Lookup("trace-otlp-tls-enabled"))
		util.MustBindEnv("trace.otlp.tls.enabled", "WRO_TRACE_OTLP_TLS_ENABLED")

		util.MustBindPFlag("trace.sampleRatio", flags.Lookup("trace-sample-ratio"))
		util.MustBindEnv("trace.sampleRatio", "WRO_TRACE_SAMPLE_RATIO", "WRO_TRACE_SAMPLERATIO")

		util.MustBindPFlag("trace.serviceName", flags.Lookup("trace-service-name"))
		util.MustBindEnv("trace.serviceName", "WRO_TRACE_SERVICE_NAME", "WRO_TRACE_SERVICENAME")

		util.MustBindPFlag("metrics.enabled", flags.Lookup("metrics-enabled"))
		util.MustBindEnv("metrics.enabled", "WRO_METRICS_ENABLED")

		util.MustBindPFlag("metrics.addr", flags.Lookup("metrics-addr"))
		util.MustBindEnv("metrics.addr", "WRO_METRICS_ADDR")

		util.MustBindPFlag("wro.debug", flags.Lookup("debug"))
		util.MustBindEnv("wro.debug", "WRO_DEBUG")

		util.MustBindPFlag("wro.disableCache", flags.Lookup("disable-cache"))
		util.MustBindEnv("wro.disableCache", "WRO_DISABLE_CACHE")

		util.MustBindPFlag("wro.encoding", flags.Lookup("encoding"))
		util.MustBindEnv("wro.encoding", "WRO_ENCODING")

		util.MustBindPFlag("wro.modelUpdatePeriod", flags.Lookup("model-update-period"))
		util.MustBindEnv("wro.modelUpdatePeriod", "WRO_MODEL_UPDATE_PERIOD")

		util.MustBindPFlag("wro.cacheUpdatePeriod", flags.Lookup("cache-update-period"))
		util.MustBindEnv("wro.cacheUpdatePeriod", "WRO_CACHE_UPDATE_PERIOD")

		util.MustBindPFlag("wro.modelLoadTimeout", flags.Lookup("model-load-timeout"))
		util.MustBindEnv("wro.modelLoadTimeout", "WRO_MODEL_LOAD_TIMEOUT")

		util.MustBindPFlag("wro.enginePoolSize", flags.Lookup("engine-pool-size"))
		util.MustBindEnv("wro.enginePoolSize", "WRO_ENGINE_POOL_SIZE")

		util.MustBindPFlag("wro.enginePoolTimeout", flags.Lookup("engine-pool-timeout"))
		util.MustBindEnv("wro.enginePoolTimeout", "WRO_ENGINE_POOL_TIMEOUT")

		util.MustBindPFlag("wro.buildWaitTimeout", flags.Lookup("build-wait-timeout"))
		util.MustBindEnv("wro.buildWaitTimeout", "WRO_BUILD_WAIT_TIMEOUT")

		util.MustBindPFlag("wro.graceMode", flags.Lookup("grace-mode"))
		util.MustBindEnv("wro.graceMode", "WRO_GRACE_MODE")

		util.MustBindPFlag("wro.preProcessors", flags.Lookup("pre-processors"))
		util.MustBindEnv("wro.preProcessors", "WRO_PRE_PROCESSORS")

		util.MustBindPFlag("wro.postProcessors", flags.Lookup("post-processors"))
		util.MustBindEnv("wro.postProcessors", "WRO_POST_PROCESSORS")

		util.MustBindPFlag("wro.parallelPreprocessing", flags.Lookup("parallel-preprocessing"))
		util.MustBindEnv("wro.parallelPreprocessing", "WRO_PARALLEL_PREPROCESSING")

		util.MustBindPFlag("wro.maxParallelism", flags.Lookup("max-parallelism"))
		util.MustBindEnv("wro.maxParallelism", "WRO_MAX_PARALLELISM")

		util.MustBindPFlag("wro.ignoreMissingResources", flags.Lookup("ignore-missing-resources"))
		util.MustBindEnv("wro.ignoreMissingResources", "WRO_IGNORE_MISSING_RESOURCES")

		util.MustBindPFlag("wro.gzipEnabled", flags.Lookup("gzip-enabled"))
		util.MustBindEnv("wro.gzipEnabled", "WRO_GZIP_ENABLED")

		util.MustBindPFlag("wro.header", flags.Lookup("header"))
		util.MustBindEnv("wro.header", "WRO_HEADER")

		util.MustBindPFlag("wro.adminEnabled", flags.Lookup("admin-enabled"))
		util.MustBindEnv("wro.adminEnabled", "WRO_ADMIN_ENABLED")

		util.MustBindPFlag("wro.cacheStrategy", flags.Lookup("cache-strategy"))
		util.MustBindEnv("wro.cacheStrategy", "WRO_CACHE_STRATEGY")

		util.MustBindPFlag("wro.cacheMaxEntries", flags.Lookup("cache-max-entries"))
		util.MustBindEnv("wro.cacheMaxEntries", "WRO_CACHE_MAX_ENTRIES")
	}
}
