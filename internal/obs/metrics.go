package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectedClients    = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "peerline_connected_clients", Help: "Registered connections by role"}, []string{"role"})
	WaitingRequesters   = promauto.NewGauge(prometheus.GaugeOpts{Name: "peerline_waiting_requesters", Help: "Requesters currently in the waiting queue"})
	AvailableResponders = promauto.NewGauge(prometheus.GaugeOpts{Name: "peerline_available_responders", Help: "Responders currently available for matching"})
	ActiveSessions      = promauto.NewGauge(prometheus.GaugeOpts{Name: "peerline_active_sessions", Help: "Sessions tracked by the live registry"})

	MatchesTotal      = promauto.NewCounter(prometheus.CounterOpts{Name: "peerline_matches_total", Help: "Successful accept-match handoffs"})
	MatchFailedTotal  = promauto.NewCounterVec(prometheus.CounterOpts{Name: "peerline_match_failed_total", Help: "Failed matches by reason"}, []string{"reason"})
	RollbacksTotal    = promauto.NewCounter(prometheus.CounterOpts{Name: "peerline_rollbacks_total", Help: "Orchestration transactions rolled back"})
	SweepRunsTotal    = promauto.NewCounterVec(prometheus.CounterOpts{Name: "peerline_sweep_runs_total", Help: "Cleanup sweep executions by sweep"}, []string{"sweep"})
	SweepErrorsTotal  = promauto.NewCounterVec(prometheus.CounterOpts{Name: "peerline_sweep_errors_total", Help: "Cleanup sweep storage errors by sweep"}, []string{"sweep"})
	SafetyAlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "peerline_safety_alerts_total", Help: "Safety escalations relayed by severity"}, []string{"severity"})

	SessionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{Name: "peerline_session_duration_seconds", Help: "Session lifetime seconds", Buckets: prometheus.ExponentialBuckets(10, 2, 12)})
	OrchestrationSeconds   = promauto.NewHistogram(prometheus.HistogramOpts{Name: "peerline_orchestration_seconds", Help: "Session creation transaction duration", Buckets: prometheus.ExponentialBuckets(0.01, 2, 12)})
)
