// Package metrics provides internal prometheus instrumentation for the
// call-interception pipeline. This package is internal and should not
// be imported by external projects.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Collector publishes call and budget metrics.
type Collector struct {
	callsTotal     *prometheus.CounterVec
	callDuration   *prometheus.HistogramVec
	tokensUsed     *prometheus.CounterVec
	costUSD        *prometheus.CounterVec
	rejections     *prometheus.CounterVec
	spentGauge     *prometheus.GaugeVec
	remainingGauge *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector creates a collector registered on the given registerer
// (prometheus.DefaultRegisterer in production, a fresh registry in
// tests). Registering the same namespace twice on one registerer fails
// with an error, not a panic.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) (*Collector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Collector{logger: logger.With(zap.String("component", "metrics"))}

	c.callsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "calls_total",
		Help:      "Total number of metered calls",
	}, []string{"model", "status"})

	c.callDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "call_duration_seconds",
		Help:      "Metered call duration in seconds",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"model"})

	c.tokensUsed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tokens_used_total",
		Help:      "Total number of tokens committed to ledgers",
	}, []string{"model", "direction"})

	c.costUSD = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cost_usd_total",
		Help:      "Total committed cost in USD",
	}, []string{"model"})

	c.rejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rejections_total",
		Help:      "Calls rejected before execution",
	}, []string{"reason"})

	c.spentGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "run_spent_usd",
		Help:      "Spend accumulated by the run's ledger",
	}, []string{"run_id"})

	c.remainingGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "run_remaining_usd",
		Help:      "Budget remaining on the run's ledger",
	}, []string{"run_id"})

	for _, col := range []prometheus.Collector{
		c.callsTotal, c.callDuration, c.tokensUsed, c.costUSD,
		c.rejections, c.spentGauge, c.remainingGauge,
	} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return c, nil
}

// RecordCall publishes one committed or failed call.
func (c *Collector) RecordCall(model, status string, inputTokens, outputTokens int, costUSD, durationSeconds float64) {
	c.callsTotal.WithLabelValues(model, status).Inc()
	c.callDuration.WithLabelValues(model).Observe(durationSeconds)
	c.tokensUsed.WithLabelValues(model, "input").Add(float64(inputTokens))
	c.tokensUsed.WithLabelValues(model, "output").Add(float64(outputTokens))
	c.costUSD.WithLabelValues(model).Add(costUSD)
}

// RecordRejection publishes a pre-execution rejection.
func (c *Collector) RecordRejection(reason string) {
	c.rejections.WithLabelValues(reason).Inc()
}

// UpdateBudget publishes the run ledger gauges.
func (c *Collector) UpdateBudget(runID string, spentUSD, remainingUSD float64) {
	c.spentGauge.WithLabelValues(runID).Set(spentUSD)
	c.remainingGauge.WithLabelValues(runID).Set(remainingUSD)
}
