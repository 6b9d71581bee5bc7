// Package rates fetches the crypto market rate used by the freezing
// calculation. The upstream exchange is slow and occasionally down, so the
// client sits behind a circuit breaker with a cached-then-static fallback.
package rates

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/wyfcoding/p2pexchange/pkg/logger"
	"github.com/wyfcoding/p2pexchange/pkg/metrics"
)

// Config holds the provider settings.
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	FallbackRate decimal.Decimal
	CacheTTL     time.Duration
}

type cachedRate struct {
	rate      decimal.Decimal
	fetchedAt time.Time
}

// Provider fetches market rates over HTTP.
type Provider struct {
	client   *resty.Client
	breaker  *gobreaker.CircuitBreaker
	fallback decimal.Decimal
	cacheTTL time.Duration
	metrics  *metrics.Metrics

	mu    sync.RWMutex
	cache map[string]cachedRate
}

type rateResponse struct {
	Currency string `json:"currency"`
	Rate     string `json:"rate"`
}

// NewProvider creates the provider.
func NewProvider(cfg Config, m *metrics.Metrics) *Provider {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "market-rates",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "Rate provider breaker state changed",
				"from", from.String(), "to", to.String())
		},
	})

	return &Provider{
		client:   client,
		breaker:  breaker,
		fallback: cfg.FallbackRate,
		cacheTTL: cfg.CacheTTL,
		metrics:  m,
		cache:    make(map[string]cachedRate),
	}
}

// GetRate returns the market rate for the currency. A fresh cached value is
// served directly; otherwise the upstream is queried through the breaker,
// falling back to the last known rate and finally to the configured static
// rate.
func (p *Provider) GetRate(ctx context.Context, currency string) (decimal.Decimal, error) {
	if rate, ok := p.fresh(currency); ok {
		p.count("cached")
		return rate, nil
	}

	result, err := p.breaker.Execute(func() (any, error) {
		return p.fetch(ctx, currency)
	})
	if err == nil {
		rate := result.(decimal.Decimal)
		p.store(currency, rate)
		p.count("ok")
		return rate, nil
	}

	p.count("error")
	logger.Warn(ctx, "Rate fetch failed, using fallback", "currency", currency, "error", err)

	// Stale cache beats a static constant.
	p.mu.RLock()
	cached, ok := p.cache[currency]
	p.mu.RUnlock()
	if ok {
		return cached.rate, nil
	}
	if p.fallback.IsPositive() {
		return p.fallback, nil
	}
	return decimal.Zero, fmt.Errorf("rate unavailable for %s: %w", currency, err)
}

func (p *Provider) fetch(ctx context.Context, currency string) (decimal.Decimal, error) {
	var body rateResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParam("currency", currency).
		SetResult(&body).
		Get("/v1/market/rate")
	if err != nil {
		return decimal.Zero, err
	}
	if resp.IsError() {
		return decimal.Zero, fmt.Errorf("rate endpoint returned %s", resp.Status())
	}
	rate, err := decimal.NewFromString(body.Rate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("malformed rate %q: %w", body.Rate, err)
	}
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive rate %s", rate)
	}
	return rate, nil
}

func (p *Provider) fresh(currency string) (decimal.Decimal, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cached, ok := p.cache[currency]
	if !ok || time.Since(cached.fetchedAt) > p.cacheTTL {
		return decimal.Zero, false
	}
	return cached.rate, true
}

func (p *Provider) store(currency string, rate decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache[currency] = cachedRate{rate: rate, fetchedAt: time.Now()}
}

func (p *Provider) count(result string) {
	if p.metrics != nil {
		p.metrics.RateFetchesTotal.WithLabelValues(result).Inc()
	}
}
