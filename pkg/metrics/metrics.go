// Package metrics provides Prometheus collectors for the allocation engine
// and an HTTP endpoint to expose them.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wyfcoding/p2pexchange/pkg/logger"
)

// Metrics is the collector set of the allocator daemon.
type Metrics struct {
	// Allocation attempts by outcome (allocated, no_candidate, no_requisite,
	// insufficient_collateral, duplicate_order, infra_error)
	AllocationsTotal *prometheus.CounterVec
	// Allocation attempt duration by outcome
	AllocationDuration *prometheus.HistogramVec
	// Candidates rejected by the constraint filter, by check name
	FilterRejectionsTotal *prometheus.CounterVec
	// Commit-time re-validation losses recovered by advancing to the next
	// candidate
	RaceRetriesTotal prometheus.Counter
	// Settlement transitions by target status
	SettlementTransitionsTotal *prometheus.CounterVec
	// Collateral currently frozen, summed over traders
	FrozenCollateral prometheus.Gauge
	// Transactions expired by the watcher
	ExpiredTransactionsTotal prometheus.Counter
	// Outbox events relayed to Kafka
	OutboxRelayedTotal prometheus.Counter
	// Outbox relay failures
	OutboxFailuresTotal prometheus.Counter
	// Market rate fetches by result (ok, error, cached)
	RateFetchesTotal *prometheus.CounterVec
}

// New creates the collector set. All metrics live under the payments
// namespace with the service name as subsystem.
func New(serviceName string) *Metrics {
	return &Metrics{
		AllocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "payments",
			Subsystem: serviceName,
			Name:      "allocations_total",
			Help:      "Total allocation attempts by outcome",
		}, []string{"outcome"}),
		AllocationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "payments",
			Subsystem: serviceName,
			Name:      "allocation_duration_seconds",
			Help:      "Allocation attempt duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		FilterRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "payments",
			Subsystem: serviceName,
			Name:      "filter_rejections_total",
			Help:      "Candidates rejected by the constraint filter, by check",
		}, []string{"check"}),
		RaceRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "payments",
			Subsystem: serviceName,
			Name:      "race_retries_total",
			Help:      "Commit-time collateral re-validation losses",
		}),
		SettlementTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "payments",
			Subsystem: serviceName,
			Name:      "settlement_transitions_total",
			Help:      "Transaction status transitions by target status",
		}, []string{"status"}),
		FrozenCollateral: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "payments",
			Subsystem: serviceName,
			Name:      "frozen_collateral",
			Help:      "Collateral currently frozen across all traders",
		}),
		ExpiredTransactionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "payments",
			Subsystem: serviceName,
			Name:      "expired_transactions_total",
			Help:      "Transactions expired by the watcher",
		}),
		OutboxRelayedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "payments",
			Subsystem: serviceName,
			Name:      "outbox_relayed_total",
			Help:      "Outbox events relayed to Kafka",
		}),
		OutboxFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "payments",
			Subsystem: serviceName,
			Name:      "outbox_failures_total",
			Help:      "Outbox relay failures",
		}),
		RateFetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "payments",
			Subsystem: serviceName,
			Name:      "rate_fetches_total",
			Help:      "Market rate fetches by result",
		}, []string{"result"}),
	}
}

// Register registers all collectors with the default registerer.
func (m *Metrics) Register() error {
	collectors := []prometheus.Collector{
		m.AllocationsTotal,
		m.AllocationDuration,
		m.FilterRejectionsTotal,
		m.RaceRetriesTotal,
		m.SettlementTransitionsTotal,
		m.FrozenCollateral,
		m.ExpiredTransactionsTotal,
		m.OutboxRelayedTotal,
		m.OutboxFailuresTotal,
		m.RateFetchesTotal,
	}

	for _, collector := range collectors {
		if err := prometheus.DefaultRegisterer.Register(collector); err != nil {
			logger.Error(context.Background(), "Failed to register metric", "error", err)
			return err
		}
	}

	logger.Info(context.Background(), "Metrics registered successfully")
	return nil
}

// StartHTTPServer exposes the default registry over HTTP.
func StartHTTPServer(port int, path string) error {
	if path == "" {
		path = "/metrics"
	}

	http.Handle(path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info(context.Background(), "Starting Prometheus HTTP server", "addr", addr, "path", path)

	go func() {
		if err := http.ListenAndServe(addr, nil); err != nil {
			logger.Error(context.Background(), "Failed to start Prometheus HTTP server", "error", err)
		}
	}()

	return nil
}
