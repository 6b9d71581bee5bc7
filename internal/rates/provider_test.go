package rates

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProvider(t *testing.T, baseURL string, fallback string, ttl time.Duration) *Provider {
	t.Helper()
	return NewProvider(Config{
		BaseURL:      baseURL,
		Timeout:      time.Second,
		FallbackRate: decimal.RequireFromString(fallback),
		CacheTTL:     ttl,
	}, nil)
}

func TestGetRateFetchesAndCaches(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "RUB", r.URL.Query().Get("currency"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"currency":"RUB","rate":"95.50"}`))
	}))
	defer server.Close()

	p := newProvider(t, server.URL, "0", time.Minute)

	rate, err := p.GetRate(context.Background(), "RUB")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("95.50").Equal(rate))

	// Second call is served from cache.
	_, err = p.GetRate(context.Background(), "RUB")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestGetRateStaleCacheOnUpstreamFailure(t *testing.T) {
	var fail atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"currency":"RUB","rate":"95.50"}`))
	}))
	defer server.Close()

	// Zero TTL so the cache is always stale and the upstream is retried.
	p := newProvider(t, server.URL, "0", 0)

	rate, err := p.GetRate(context.Background(), "RUB")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("95.50").Equal(rate))

	fail.Store(true)
	rate, err = p.GetRate(context.Background(), "RUB")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("95.50").Equal(rate), "stale cache should be served")
}

func TestGetRateStaticFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	p := newProvider(t, server.URL, "90", time.Minute)

	rate, err := p.GetRate(context.Background(), "RUB")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("90").Equal(rate))
}

func TestGetRateRejectsMalformedRate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"currency":"RUB","rate":"not-a-number"}`))
	}))
	defer server.Close()

	p := newProvider(t, server.URL, "0", time.Minute)

	_, err := p.GetRate(context.Background(), "RUB")
	assert.Error(t, err)
}
