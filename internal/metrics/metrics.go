// Package metrics declares the process-wide Prometheus collectors shared by
// every cooperative task, following the teacher's direct dependency on
// prometheus/client_golang for its own daemon instrumentation.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// TransientErrors counts retried-but-eventually-successful (or
	// exhausted) transient I/O failures, tagged by the subsystem that hit
	// them, per spec.md §7's transient-error taxonomy.
	TransientErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "via",
			Name:      "transient_errors_total",
			Help:      "Count of transient I/O errors encountered, by subsystem.",
		},
		[]string{"subsystem"},
	)

	// SessionReset counts MuSig2 withdrawal-session resets, the counter
	// named explicitly in spec.md's end-to-end scenario 6.
	SessionReset = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "via",
			Name:      "session_reset_total",
			Help:      "Count of withdrawal MuSig2 sessions reset after a failed or abandoned round.",
		},
	)

	// StuckInscriptionL1Batch holds the L1 batch number of the most recent
	// batch-commit inscription found unconfirmed past the stuck threshold,
	// the gauge named in spec.md §4.11 scenario 5.
	StuckInscriptionL1Batch = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "via",
			Name:      "stuck_inscription_l1_batch",
			Help:      "L1 batch number of the most recent batch-commit inscription found stuck awaiting confirmation.",
		},
	)

	// ReorgDepth records the depth of the most recently classified reorg,
	// zero for a run with no reorg since process start.
	ReorgDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "via",
			Name:      "reorg_depth_blocks",
			Help:      "Depth in blocks of the most recently classified chain reorganization.",
		},
	)
)

// MustRegister registers every collector in this package against reg. Called
// once at daemon startup; a second call (e.g. in a test that imports the
// package twice) would panic, matching prometheus' own registration
// contract, so callers should only invoke this from cmd/via-node.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		TransientErrors,
		SessionReset,
		StuckInscriptionL1Batch,
		ReorgDepth,
	)
}
