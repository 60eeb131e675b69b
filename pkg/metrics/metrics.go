// Package metrics exposes Prometheus metrics for the conversation service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus collectors are process-wide by design
var (
	// TurnsTotal counts completed turns by the mode that handled them and
	// the outcome status (ok, llm_error, store_error).
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incubator_turns_total",
			Help: "Total number of conversation turns by mode and status",
		},
		[]string{"mode", "status"},
	)

	// TurnDuration observes end-to-end turn handling time.
	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "incubator_turn_duration_seconds",
			Help:    "Duration of turn handling in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	// GateDenialsTotal counts gate denials by current mode and reason.
	GateDenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incubator_gate_denials_total",
			Help: "Total number of gate denials by mode and reason",
		},
		[]string{"mode", "reason"},
	)

	// SwitchesTotal counts applied entity-type switches.
	SwitchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incubator_switches_total",
			Help: "Total number of applied entity-type switches by from and to mode",
		},
		[]string{"from", "to"},
	)

	// PaymentGatePassesTotal counts successful transitions into payment mode.
	PaymentGatePassesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "incubator_payment_gate_passes_total",
			Help: "Total number of successful payment gate transitions",
		},
	)

	// OTPSendsTotal counts verification code sends by outcome
	// (sent, throttled, delivery_error).
	OTPSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incubator_otp_sends_total",
			Help: "Total number of verification code sends by outcome",
		},
		[]string{"outcome"},
	)

	// OTPVerifiesTotal counts verification attempts by outcome
	// (verified, incorrect, expired, exhausted).
	OTPVerifiesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incubator_otp_verifies_total",
			Help: "Total number of verification attempts by outcome",
		},
		[]string{"outcome"},
	)

	// CheckoutsTotal counts created checkout sessions by outcome.
	CheckoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incubator_checkouts_total",
			Help: "Total number of checkout creations by outcome",
		},
		[]string{"outcome"},
	)

	// PaymentStatusChecksTotal counts provider status queries by reported status.
	PaymentStatusChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incubator_payment_status_checks_total",
			Help: "Total number of payment status checks by reported status",
		},
		[]string{"status"},
	)

	// MutationsRefusedTotal counts model-requested mutations refused by the
	// capability check.
	MutationsRefusedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incubator_mutations_refused_total",
			Help: "Total number of mutations refused by capability validation",
		},
		[]string{"mode", "mutation"},
	)

	// SummariesTotal counts background summarizer runs by outcome
	// (ok, skipped_inflight, error).
	SummariesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incubator_summaries_total",
			Help: "Total number of background summarizer runs by outcome",
		},
		[]string{"outcome"},
	)
)
