// Package metrics exposes sync counters as a prometheus.Collector.
//
// A nil *Collector is valid and records nothing, so components can take an
// optional collector without guarding every call.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "mcsync"

// Outcome labels.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeIgnored   = "ignored"
	OutcomeRecovered = "recovered"
	OutcomeExhausted = "exhausted"
)

// Collector is a prometheus.Collector for the sync engine.
type Collector struct {
	remoteCalls       *prometheus.CounterVec
	retryOutcomes     *prometheus.CounterVec
	backfillRecords   *prometheus.CounterVec
	backfillPages     *prometheus.CounterVec
	configDiagnostics *prometheus.CounterVec
}

// NewCollector returns a new Collector.
func NewCollector() *Collector {
	return &Collector{
		remoteCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "remote_calls_total",
				Help:      "Calls made to the audience service.",
			}, []string{"operation", "outcome"},
		),
		retryOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "retry_outcomes_total",
				Help:      "Retried operations that recovered or exhausted their attempts.",
			}, []string{"outcome"},
		),
		backfillRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "backfill_records_total",
				Help:      "Records processed by backfill pages.",
			}, []string{"task_type", "result"},
		),
		backfillPages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "backfill_pages_total",
				Help:      "Backfill pages by resulting task status.",
			}, []string{"task_type", "status"},
		),
		configDiagnostics: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "config_diagnostics_total",
				Help:      "Configuration problems that excluded a setting.",
			}, []string{"key", "code"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.remoteCalls.Describe(ch)
	c.retryOutcomes.Describe(ch)
	c.backfillRecords.Describe(ch)
	c.backfillPages.Describe(ch)
	c.configDiagnostics.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.remoteCalls.Collect(ch)
	c.retryOutcomes.Collect(ch)
	c.backfillRecords.Collect(ch)
	c.backfillPages.Collect(ch)
	c.configDiagnostics.Collect(ch)
}

// RemoteCall counts one audience call.
func (c *Collector) RemoteCall(operation, outcome string) {
	if c == nil {
		return
	}
	c.remoteCalls.WithLabelValues(operation, outcome).Inc()
}

// RetryOutcome counts a retried operation that recovered or gave up.
func (c *Collector) RetryOutcome(outcome string) {
	if c == nil {
		return
	}
	c.retryOutcomes.WithLabelValues(outcome).Inc()
}

// BackfillRecords adds page results for a task type.
func (c *Collector) BackfillRecords(taskType string, succeeded, failed int) {
	if c == nil {
		return
	}
	c.backfillRecords.WithLabelValues(taskType, OutcomeSuccess).Add(float64(succeeded))
	c.backfillRecords.WithLabelValues(taskType, OutcomeError).Add(float64(failed))
}

// BackfillPage counts one dispatched page and the status it ended in.
func (c *Collector) BackfillPage(taskType, status string) {
	if c == nil {
		return
	}
	c.backfillPages.WithLabelValues(taskType, status).Inc()
}

// ConfigDiagnostic counts one excluded setting.
func (c *Collector) ConfigDiagnostic(key, code string) {
	if c == nil {
		return
	}
	c.configDiagnostics.WithLabelValues(key, code).Inc()
}
