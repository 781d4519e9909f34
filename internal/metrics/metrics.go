// Package metrics provides Prometheus instrumentation for the bridge
// daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridged_http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bridged_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Client hub metrics.
var (
	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridged_connected_clients",
		Help: "Number of currently connected /rpc clients.",
	})

	ReplayLogSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridged_replay_log_size",
		Help: "Number of envelopes currently held in the replay log.",
	})
)

// Agent bridge metrics.
var (
	AgentAlive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridged_agent_alive",
		Help: "1 if the agent subprocess is currently running, 0 otherwise.",
	})

	PendingApprovals = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridged_pending_approvals",
		Help: "Number of approval requests awaiting a client decision.",
	})

	PendingUserInputs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridged_pending_user_inputs",
		Help: "Number of user-input requests awaiting a client answer.",
	})

	ForwardedRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridged_forwarded_requests_total",
		Help: "Total number of client requests forwarded to the agent subprocess.",
	}, []string{"method"})
)

// Rollout tailer metrics.
var (
	TrackedRolloutFiles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridged_tracked_rollout_files",
		Help: "Number of rollout files currently tracked by the tailer.",
	})

	DedupSetSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridged_dedup_set_size",
		Help: "Number of line hashes currently held in the tailer's dedup set.",
	})

	RolloutRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridged_rollout_records_total",
		Help: "Total number of rollout records processed, by record type.",
	}, []string{"record_type"})
)

// WebSocket metrics.
var (
	WSConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridged_ws_connections_active",
		Help: "Number of active WebSocket connections.",
	})

	WSMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridged_ws_messages_total",
		Help: "Total number of WebSocket messages sent.",
	})
)
