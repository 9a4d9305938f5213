package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Database connection metrics
	// ============================================
	DBConnectionActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "locker_db_connection_active",
		Help: "Number of active database connections",
	})

	DBConnectionIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "locker_db_connection_idle",
		Help: "Number of idle database connections",
	})

	DBConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "locker_db_connection_status",
		Help: "Database connection status (1=healthy, 0=unhealthy)",
	})

	// ============================================
	// Ingestion metrics
	// ============================================
	IngestEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locker_ingest_events_total",
			Help: "Indexer and change events received, by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	LedgerUpserts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locker_ledger_upserts_total",
			Help: "Ledger upserts by result (created, confirmed, noop, error)",
		},
		[]string{"result"},
	)

	// ============================================
	// NATS connection and message metrics
	// ============================================
	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "locker_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})

	NATSMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locker_nats_messages_received_total",
			Help: "Total number of NATS messages received",
		},
		[]string{"subject"},
	)

	NATSMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locker_nats_messages_published_total",
			Help: "Total number of ledger events published to NATS",
		},
		[]string{"event_type"},
	)

	// ============================================
	// Automation metrics
	// ============================================
	AutomationTriggers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locker_automation_triggers_total",
			Help: "generateAutomations outcomes (triggered, skipped, lost_claim, error)",
		},
		[]string{"outcome"},
	)

	AutomationSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locker_automation_submissions_total",
			Help: "Executor submissions per automation type and result",
		},
		[]string{"type", "result"},
	)

	ExecutorCallDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "locker_executor_call_duration_seconds",
		Help:    "Executor call duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	AutomationQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "locker_automation_queue_depth",
		Help: "Deposits waiting in per-locker automation lanes",
	})

	StalledDeposits = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "locker_stalled_deposits",
		Help: "Deposits marked STARTED with no outbound transfer referencing them",
	})

	// ============================================
	// Event listener metrics
	// ============================================
	EventListenerStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "locker_event_listener_status",
			Help: "Event listener status (1=active, 0=inactive)",
		},
		[]string{"listener"},
	)

	EventListenerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locker_event_listener_errors_total",
			Help: "Total number of event listener errors",
		},
		[]string{"listener", "error_type"},
	)
)
