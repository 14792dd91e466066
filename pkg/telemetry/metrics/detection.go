package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DetectionMetrics tracks content screening.
//
// Metrics:
//   - cylestio_scans_total: Text fields screened
//   - cylestio_matches_total: Pattern matches by category and severity
//   - cylestio_classifications_total: Screening results by alert level
//   - cylestio_blocked_total: Calls blocked
//   - cylestio_rules_skipped_total: Rules skipped by the scan budget
type DetectionMetrics struct {
	scansTotal           prometheus.Counter
	matchesTotal         *prometheus.CounterVec
	classificationsTotal *prometheus.CounterVec
	blockedTotal         prometheus.Counter
	rulesSkippedTotal    *prometheus.CounterVec
}

// NewDetectionMetrics creates and registers detection metrics with the provided registry.
func NewDetectionMetrics(namespace string, registry *prometheus.Registry) *DetectionMetrics {
	dm := &DetectionMetrics{
		scansTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scans_total",
				Help:      "Total number of text fields screened",
			},
		),

		matchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "matches_total",
				Help:      "Total number of pattern matches",
			},
			[]string{"category", "severity"},
		),

		classificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "classifications_total",
				Help:      "Total number of screened events by alert level",
			},
			[]string{"alert_level"},
		),

		blockedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "blocked_total",
				Help:      "Total number of blocked calls",
			},
		),

		rulesSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rules_skipped_total",
				Help:      "Total number of rules skipped because the scan budget ran out",
			},
			[]string{"pattern"},
		),
	}

	registry.MustRegister(
		dm.scansTotal,
		dm.matchesTotal,
		dm.classificationsTotal,
		dm.blockedTotal,
		dm.rulesSkippedTotal,
	)

	return dm
}
