// Package metrics exposes Prometheus instrumentation for the custody
// pipeline. All record methods are safe on a nil receiver so engines can
// run without metrics wired.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the coordinator.
type Metrics struct {
	// Submission metrics
	SubmissionsTotal *prometheus.CounterVec
	StakeLockedMicro *prometheus.CounterVec

	// Verification metrics
	SessionsStarted *prometheus.CounterVec
	VerdictsTotal   *prometheus.CounterVec
	TamperAttempts  prometheus.Counter
	ConsensusTotal  *prometheus.CounterVec

	// Settlement metrics
	StakeMovedMicro *prometheus.CounterVec
	BountyPaidMicro prometheus.Counter

	// Ledger metrics
	LedgerCalls    *prometheus.CounterVec
	LedgerDuration *prometheus.HistogramVec

	// HTTP metrics
	RequestDuration *prometheus.HistogramVec
}

// New creates and registers every collector on the default registry.
func New() *Metrics {
	return &Metrics{
		SubmissionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whistlechain_submissions_total",
				Help: "Evidence submissions accepted by the pipeline",
			},
			[]string{"category", "tier"}, // tier: FREE, STAKED
		),

		StakeLockedMicro: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whistlechain_stake_locked_microalgos_total",
				Help: "MicroAlgos locked in escrow at submission",
			},
			[]string{"category"},
		),

		SessionsStarted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whistlechain_verification_sessions_total",
				Help: "Multi-inspector verification sessions started",
			},
			[]string{"category"},
		),

		VerdictsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whistlechain_verdicts_total",
				Help: "Committed and revealed verdicts",
			},
			[]string{"phase"}, // phase: commit, reveal
		),

		TamperAttempts: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "whistlechain_tamper_attempts_total",
				Help: "Reveals whose hash did not match the sealed commitment",
			},
		),

		ConsensusTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whistlechain_consensus_outcomes_total",
				Help: "Finalized consensus outcomes",
			},
			[]string{"status"}, // status: VERIFIED, REJECTED, DISPUTED
		),

		StakeMovedMicro: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whistlechain_stake_moved_microalgos_total",
				Help: "MicroAlgos released, forfeited or locked at resolution",
			},
			[]string{"action"}, // action: refund, forfeit, none
		),

		BountyPaidMicro: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "whistlechain_bounty_paid_microalgos_total",
				Help: "MicroAlgos paid out to whistleblowers",
			},
		),

		LedgerCalls: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whistlechain_ledger_calls_total",
				Help: "Application calls sent to the evidence registry contract",
			},
			[]string{"op", "outcome"}, // outcome: ok, error
		),

		LedgerDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "whistlechain_ledger_call_duration_seconds",
				Help:    "Round-trip time of registry application calls",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
			},
			[]string{"op"},
		),

		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "whistlechain_http_request_duration_seconds",
				Help:    "HTTP handler latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}
}

// RecordSubmission counts an accepted submission and its locked stake.
func (m *Metrics) RecordSubmission(category, tier string, stakeMicro uint64) {
	if m == nil {
		return
	}
	m.SubmissionsTotal.WithLabelValues(category, tier).Inc()
	if stakeMicro > 0 {
		m.StakeLockedMicro.WithLabelValues(category).Add(float64(stakeMicro))
	}
}

// RecordSessionStart counts a verification session.
func (m *Metrics) RecordSessionStart(category string) {
	if m == nil {
		return
	}
	m.SessionsStarted.WithLabelValues(category).Inc()
}

// RecordVerdict counts a commit or reveal.
func (m *Metrics) RecordVerdict(phase string) {
	if m == nil {
		return
	}
	m.VerdictsTotal.WithLabelValues(phase).Inc()
}

// RecordTamperAttempt counts a mismatched reveal.
func (m *Metrics) RecordTamperAttempt() {
	if m == nil {
		return
	}
	m.TamperAttempts.Inc()
}

// RecordConsensus counts a finalized outcome.
func (m *Metrics) RecordConsensus(status string) {
	if m == nil {
		return
	}
	m.ConsensusTotal.WithLabelValues(status).Inc()
}

// RecordStakeMoved counts stake settled at resolution.
func (m *Metrics) RecordStakeMoved(action string, amountMicro uint64) {
	if m == nil {
		return
	}
	m.StakeMovedMicro.WithLabelValues(action).Add(float64(amountMicro))
}

// RecordBountyPaid counts a whistleblower payout.
func (m *Metrics) RecordBountyPaid(amountMicro uint64) {
	if m == nil {
		return
	}
	m.BountyPaidMicro.Add(float64(amountMicro))
}

// RecordLedgerCall records one registry application call.
func (m *Metrics) RecordLedgerCall(op string, seconds float64, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.LedgerCalls.WithLabelValues(op, outcome).Inc()
	m.LedgerDuration.WithLabelValues(op).Observe(seconds)
}

// RecordRequest records one handled HTTP request.
func (m *Metrics) RecordRequest(method, path, status string, seconds float64) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(method, path, status).Observe(seconds)
}
