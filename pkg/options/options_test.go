package options

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultOptionsVerify(t *testing.T) {
	require.NoError(t, DefaultOptions().Verify())
}

func TestVerify(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(*Options)
		errMsg string
	}{
		{name: "negative_model_period", mutate: func(o *Options) { o.ModelUpdatePeriod = -time.Second }, errMsg: "modelUpdatePeriod"},
		{name: "negative_cache_period", mutate: func(o *Options) { o.CacheUpdatePeriod = -time.Second }, errMsg: "cacheUpdatePeriod"},
		{name: "pool_size", mutate: func(o *Options) { o.EnginePoolSize = 0 }, errMsg: "enginePoolSize"},
		{name: "pool_timeout", mutate: func(o *Options) { o.EnginePoolTimeout = 0 }, errMsg: "enginePoolTimeout"},
		{name: "wait_timeout", mutate: func(o *Options) { o.BuildWaitTimeout = 0 }, errMsg: "buildWaitTimeout"},
		{name: "parallelism", mutate: func(o *Options) { o.MaxParallelism = 0 }, errMsg: "maxParallelism"},
		{name: "strategy", mutate: func(o *Options) { o.CacheStrategy = "disk" }, errMsg: "unknown cacheStrategy 'disk'"},
		{name: "lru_capacity", mutate: func(o *Options) { o.CacheStrategy = CacheStrategyLRU; o.CacheMaxEntries = 0 }, errMsg: "cacheMaxEntries"},
		{name: "encoding", mutate: func(o *Options) { o.Encoding = " " }, errMsg: "encoding"},
		{name: "header", mutate: func(o *Options) { o.Header = "broken" }, errMsg: "invalid header"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			o := DefaultOptions()
			tc.mutate(&o)
			require.ErrorContains(t, o.Verify(), tc.errMsg)
		})
	}
}

func TestParseHeaders(t *testing.T) {
	headers, err := ParseHeaders("Expires: Thu, 15 Apr 2010 20:00:00 GMT | cache-control: max-age=10 | Cache-Control: no-cache |")
	require.NoError(t, err)
	require.Equal(t, []Header{
		{Name: "Expires", Value: "Thu, 15 Apr 2010 20:00:00 GMT"},
		{Name: "cache-control", Value: "max-age=10"},
	}, headers)

	headers, err = ParseHeaders("")
	require.NoError(t, err)
	require.Empty(t, headers)

	_, err = ParseHeaders(": value")
	require.Error(t, err)
}
