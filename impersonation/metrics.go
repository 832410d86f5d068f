package impersonation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flock",
		Subsystem: "impersonation",
		Name:      "sessions_started_total",
		Help:      "Total number of impersonation sessions started",
	})

	startFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flock",
		Subsystem: "impersonation",
		Name:      "start_failures_total",
		Help:      "Impersonation start attempts rejected, by cause",
	}, []string{"cause"})

	sessionsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flock",
		Subsystem: "impersonation",
		Name:      "sessions_ended_total",
		Help:      "Impersonation sessions closed, by end reason",
	}, []string{"reason"})

	actionsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flock",
		Subsystem: "impersonation",
		Name:      "actions_recorded_total",
		Help:      "Actions appended to impersonation session logs",
	})

	validationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flock",
		Subsystem: "impersonation",
		Name:      "validation_failures_total",
		Help:      "Impersonation cookies rejected on read, by cause",
	}, []string{"cause"})
)

// Validation failure causes.
const (
	causeTokenInvalid   = "token_invalid"
	causeTokenExpired   = "token_expired"
	causeSessionMissing = "session_missing"
	causeSessionExpired = "session_expired"
	causeClaimsMismatch = "claims_mismatch"
	causeCallerMismatch = "caller_mismatch"
	causeStoreError     = "store_error"
)
