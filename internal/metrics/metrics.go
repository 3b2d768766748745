package metrics

import (
	"dqaudit/internal/sla"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Batch outcomes used as the "outcome" label.
const (
	OutcomeCommitted = "committed"
	OutcomeAborted   = "aborted"
	OutcomeFailed    = "append_failed"
)

// Metrics tracks batch runs and the latest verdict per rule. Each instance
// owns its registry so a process can expose it or write it to a textfile.
type Metrics struct {
	Registry *prometheus.Registry

	BatchesTotal  *prometheus.CounterVec
	RuleErrors    *prometheus.CounterVec
	BatchDuration prometheus.Histogram
	FailedRows    *prometheus.GaugeVec
	VerdictStatus *prometheus.GaugeVec
	LastBatchUnix prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		BatchesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dqaudit_batches_total",
			Help: "Total number of rule batches by outcome",
		}, []string{"outcome"}),
		RuleErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dqaudit_rule_errors_total",
			Help: "Total number of rule execution errors by kind",
		}, []string{"kind"}),
		BatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dqaudit_batch_duration_seconds",
			Help:    "Duration of a batch from snapshot to audit commit",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		FailedRows: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dqaudit_failed_rows",
			Help: "Failed rows of the latest audit record per rule",
		}, []string{"check_name"}),
		VerdictStatus: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dqaudit_sla_status",
			Help: "1 for the current SLA status of each rule, labelled by status and severity",
		}, []string{"check_name", "sla_status", "severity"}),
		LastBatchUnix: f.NewGauge(prometheus.GaugeOpts{
			Name: "dqaudit_last_batch_timestamp_seconds",
			Help: "Unix time of the latest committed batch",
		}),
	}
}

// ObserveBatch records the outcome of one batch. start is when the snapshot
// was taken.
func (m *Metrics) ObserveBatch(outcome string, start time.Time, errorKinds []string) {
	m.BatchesTotal.WithLabelValues(outcome).Inc()
	m.BatchDuration.Observe(time.Since(start).Seconds())
	for _, k := range errorKinds {
		m.RuleErrors.WithLabelValues(k).Inc()
	}
}

// SetVerdicts replaces the per-rule gauges with the given verdict set.
func (m *Metrics) SetVerdicts(verdicts []sla.Verdict, batchTime time.Time) {
	m.FailedRows.Reset()
	m.VerdictStatus.Reset()
	for _, v := range verdicts {
		m.FailedRows.WithLabelValues(v.CheckName).Set(float64(v.FailedRows))
		m.VerdictStatus.WithLabelValues(v.CheckName, string(v.Status), v.Severity.String()).Set(1)
	}
	if !batchTime.IsZero() {
		m.LastBatchUnix.Set(float64(batchTime.Unix()))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// WriteTextfile writes the registry for the node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
