package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Orchestrator
	// ============================================
	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "withdraw_state_transitions_total",
			Help: "Total number of orchestrator state transitions",
		},
		[]string{"from", "to"},
	)

	Submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "withdraw_submissions_total",
			Help: "Total number of withdrawal submissions by outcome",
		},
		[]string{"outcome"},
	)

	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "withdraw_step_duration_seconds",
			Help:    "Pipeline step duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"state"},
	)

	// ============================================
	// Chain
	// ============================================
	ChainReadRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "withdraw_chain_read_retries_total",
			Help: "Total number of retried chain reads",
		},
		[]string{"method"},
	)

	ChainReadFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "withdraw_chain_read_failures_total",
			Help: "Total number of chain reads that exhausted retries",
		},
		[]string{"method"},
	)

	ApprovalsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "withdraw_approvals_sent_total",
		Help: "Total number of allowance approval transactions broadcast",
	})

	// ============================================
	// Relay / ledger
	// ============================================
	RelaySubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "withdraw_relay_submissions_total",
			Help: "Total number of relay submissions by result",
		},
		[]string{"result"},
	)

	LedgerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "withdraw_ledger_requests_total",
			Help: "Total number of ledger requests",
		},
		[]string{"operation", "result"},
	)

	// ============================================
	// Verification polling
	// ============================================
	PollErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "withdraw_poll_errors_total",
		Help: "Total number of failed verification status polls",
	})

	ActivePollers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "withdraw_active_pollers",
		Help: "Number of running verification pollers",
	})

	// ============================================
	// Infrastructure
	// ============================================
	DBConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "withdraw_db_connection_status",
		Help: "Database connection status (1=healthy, 0=unhealthy)",
	})

	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "withdraw_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})

	NATSMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "withdraw_nats_messages_published_total",
			Help: "Total number of NATS messages published",
		},
		[]string{"subject", "result"},
	)

	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "withdraw_websocket_clients",
		Help: "Number of connected websocket clients",
	})
)
