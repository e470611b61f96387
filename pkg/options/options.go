// Package options holds the runtime configuration of the pipeline and the
// observer registry that notifies components when a property changes.
package options

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

const (
	DefaultEncoding          = "UTF-8"
	DefaultEnginePoolTimeout = 5 * time.Second
	DefaultBuildWaitTimeout  = 30 * time.Second
	DefaultModelLoadTimeout  = 30 * time.Second
	DefaultCacheStrategy     = CacheStrategyMemory
	DefaultCacheMaxEntries   = 1000

	CacheStrategyMemory = "memory"
	CacheStrategyLRU    = "lru"
)

// Options is an immutable snapshot of the pipeline configuration. A period
// of zero disables the corresponding refresh.
type Options struct {
	Debug        bool   `json:"debug" mapstructure:"debug"`
	DisableCache bool   `json:"disableCache" mapstructure:"disableCache"`
	Encoding     string `json:"encoding" mapstructure:"encoding"`

	ModelUpdatePeriod time.Duration `json:"modelUpdatePeriod" mapstructure:"modelUpdatePeriod"`
	CacheUpdatePeriod time.Duration `json:"cacheUpdatePeriod" mapstructure:"cacheUpdatePeriod"`
	ModelLoadTimeout  time.Duration `json:"modelLoadTimeout" mapstructure:"modelLoadTimeout"`

	EnginePoolSize    int           `json:"enginePoolSize" mapstructure:"enginePoolSize"`
	EnginePoolTimeout time.Duration `json:"enginePoolTimeout" mapstructure:"enginePoolTimeout"`
	BuildWaitTimeout  time.Duration `json:"buildWaitTimeout" mapstructure:"buildWaitTimeout"`
	GraceMode         bool          `json:"graceMode" mapstructure:"graceMode"`

	// PreProcessors and PostProcessors are comma separated alias lists.
	PreProcessors  string `json:"preProcessors" mapstructure:"preProcessors"`
	PostProcessors string `json:"postProcessors" mapstructure:"postProcessors"`

	ParallelPreprocessing  bool `json:"parallelPreprocessing" mapstructure:"parallelPreprocessing"`
	MaxParallelism         int  `json:"maxParallelism" mapstructure:"maxParallelism"`
	IgnoreMissingResources bool `json:"ignoreMissingResources" mapstructure:"ignoreMissingResources"`

	GzipEnabled  bool   `json:"gzipEnabled" mapstructure:"gzipEnabled"`
	Header       string `json:"header" mapstructure:"header"`
	AdminEnabled bool   `json:"adminEnabled" mapstructure:"adminEnabled"`

	CacheStrategy   string `json:"cacheStrategy" mapstructure:"cacheStrategy"`
	CacheMaxEntries int    `json:"cacheMaxEntries" mapstructure:"cacheMaxEntries"`
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Encoding:          DefaultEncoding,
		ModelLoadTimeout:  DefaultModelLoadTimeout,
		EnginePoolSize:    runtime.GOMAXPROCS(0),
		EnginePoolTimeout: DefaultEnginePoolTimeout,
		BuildWaitTimeout:  DefaultBuildWaitTimeout,
		MaxParallelism:    runtime.GOMAXPROCS(0),
		GzipEnabled:       true,
		CacheStrategy:     DefaultCacheStrategy,
		CacheMaxEntries:   DefaultCacheMaxEntries,
	}
}

// Verify checks that the options are usable.
func (o Options) Verify() error {
	var errs []error
	if o.ModelUpdatePeriod < 0 {
		errs = append(errs, fmt.Errorf("modelUpdatePeriod (%s) cannot be negative", o.ModelUpdatePeriod))
	}
	if o.CacheUpdatePeriod < 0 {
		errs = append(errs, fmt.Errorf("cacheUpdatePeriod (%s) cannot be negative", o.CacheUpdatePeriod))
	}
	if o.EnginePoolSize < 1 {
		errs = append(errs, fmt.Errorf("enginePoolSize (%d) must be at least 1", o.EnginePoolSize))
	}
	if o.EnginePoolTimeout <= 0 {
		errs = append(errs, fmt.Errorf("enginePoolTimeout (%s) must be positive", o.EnginePoolTimeout))
	}
	if o.BuildWaitTimeout <= 0 {
		errs = append(errs, fmt.Errorf("buildWaitTimeout (%s) must be positive", o.BuildWaitTimeout))
	}
	if o.MaxParallelism < 1 {
		errs = append(errs, fmt.Errorf("maxParallelism (%d) must be at least 1", o.MaxParallelism))
	}
	switch o.CacheStrategy {
	case CacheStrategyMemory:
	case CacheStrategyLRU:
		if o.CacheMaxEntries < 1 {
			errs = append(errs, fmt.Errorf("cacheMaxEntries (%d) must be at least 1 for the '%s' cache strategy", o.CacheMaxEntries, CacheStrategyLRU))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cacheStrategy '%s'", o.CacheStrategy))
	}
	if strings.TrimSpace(o.Encoding) == "" {
		errs = append(errs, errors.New("encoding cannot be empty"))
	}
	if _, err := ParseHeaders(o.Header); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Header is one custom response header.
type Header struct {
	Name  string
	Value string
}

// ParseHeaders parses the header option, formatted as
// "Name: value | Name2: value2". Names are matched case insensitively and the
// first occurrence of a name wins.
func ParseHeaders(s string) ([]Header, error) {
	var headers []Header
	seen := map[string]struct{}{}
	for _, part := range strings.Split(s, "|") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header '%s', expected 'Name: value'", part)
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		headers = append(headers, Header{Name: name, Value: strings.TrimSpace(value)})
	}
	return headers, nil
}
