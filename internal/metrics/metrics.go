// Package metrics declares the ledger's Prometheus collectors.
// Batch commands push them to a Pushgateway; the admin server exposes them on /metrics.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "hostledger"

var (
	CarryforwardOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "carryforward_outcomes_total",
			Help:      "Carryforward results by terminal outcome",
		},
		[]string{"outcome", "dry_run"},
	)
	CoverageStatuses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "carryforward_coverage_total",
			Help:      "Coverage verifier classifications by status",
		},
		[]string{"status"},
	)
	InvoicesEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_invoices_total",
			Help:      "Settlement invoices written, by currency",
		},
		[]string{"currency"},
	)
	InvoicesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_invoices_published_total",
			Help:      "Invoice requests relayed to the payable topic, by result",
		},
		[]string{"result"},
	)
	SettlementTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_transitions_total",
			Help:      "TransactionSettlement status transitions",
		},
		[]string{"from", "to"},
	)
	FXConversions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fx_conversions_total",
			Help:      "Explicit currency conversions",
		},
		[]string{"from", "to"},
	)
	BalanceCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "balance_cache_lookups_total",
			Help:      "Current-balance cache lookups by result (hit, stale, miss)",
		},
		[]string{"result"},
	)
	UnitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "unit_of_work_duration_seconds",
			Help:      "Duration of one account or host unit of work",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"procedure"},
	)
)

// ObserveSince records the time elapsed since start for procedure.
func ObserveSince(procedure string, start time.Time) {
	UnitDuration.WithLabelValues(procedure).Observe(time.Since(start).Seconds())
}

// Push sends the default registry to a Pushgateway under job. An empty url is a no-op.
func Push(ctx context.Context, url, job string) error {
	if url == "" {
		return nil
	}
	return push.New(url, job).Gatherer(prometheus.DefaultGatherer).PushContext(ctx)
}
