package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus instruments of a Processor. A nil *Metrics
// records nothing.
type Metrics struct {
	Records       *prometheus.CounterVec
	StageFailures *prometheus.CounterVec
	Decisions     *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
}

// NewMetrics registers the instruments with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Records: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edoagree_records_total",
				Help: "Counterparties processed, by terminal outcome",
			},
			[]string{"company", "outcome"},
		),
		StageFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edoagree_stage_failures_total",
				Help: "Stage failures, by error kind",
			},
			[]string{"company", "stage", "kind"},
		),
		Decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edoagree_decisions_total",
				Help: "Arbitration decisions",
			},
			[]string{"company", "stage", "decision"},
		),
		StageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "edoagree_stage_duration_seconds",
				Help:    "Time spent in each stage",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"company", "stage"},
		),
	}
}

func (m *Metrics) observeStage(company string, stage Stage, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(company, stage.String()).Observe(d.Seconds())
}

func (m *Metrics) stageFailed(company string, stage Stage, kind string) {
	if m == nil {
		return
	}
	m.StageFailures.WithLabelValues(company, stage.String(), kind).Inc()
}

func (m *Metrics) decided(company string, stage Stage, d Decision) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(company, stage.String(), d.String()).Inc()
}

func (m *Metrics) recordOutcome(company string, o Outcome) {
	if m == nil {
		return
	}
	m.Records.WithLabelValues(company, o.String()).Inc()
}
