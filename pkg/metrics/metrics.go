package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Health metrics
	NodesHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warden_node_healthy",
			Help: "Whether a node passed its last health check (1 = healthy, 0 = unhealthy)",
		},
		[]string{"node", "network"},
	)

	HealthChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_health_checks_total",
			Help: "Total number of health checks by node and outcome",
		},
		[]string{"node", "outcome"},
	)

	NodeBlockHeight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warden_node_block_height",
			Help: "Last observed block height per node",
		},
		[]string{"node", "network"},
	)

	// Alerting metrics
	AlertsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_alerts_sent_total",
			Help: "Total number of webhook alerts sent by severity",
		},
		[]string{"severity"},
	)

	AlertDeliveryFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_alert_delivery_failures_total",
			Help: "Total number of webhook deliveries that failed",
		},
	)

	// Operation metrics
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_operations_total",
			Help: "Total number of operations by kind and terminal status",
		},
		[]string{"kind", "status"},
	)

	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warden_operation_duration_seconds",
			Help:    "Operation duration from dispatch to terminal status in seconds",
			Buckets: prometheus.ExponentialBuckets(10, 4, 8),
		},
		[]string{"kind"},
	)

	MaintenanceWindowsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_maintenance_windows_active",
			Help: "Number of maintenance windows currently open",
		},
	)

	OperationsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_operations_active",
			Help: "Number of operations currently tracked in flight",
		},
	)

	// Scheduler metrics
	ScheduledDispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_scheduled_dispatches_total",
			Help: "Total number of cron dispatches by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// Agent metrics
	AgentJobsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_agent_jobs_running",
			Help: "Number of agent jobs currently running",
		},
	)

	AgentRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_agent_requests_total",
			Help: "Total number of agent API requests by path and status",
		},
		[]string{"path", "status"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(NodesHealthy)
	prometheus.MustRegister(HealthChecksTotal)
	prometheus.MustRegister(NodeBlockHeight)
	prometheus.MustRegister(AlertsSentTotal)
	prometheus.MustRegister(AlertDeliveryFailures)
	prometheus.MustRegister(OperationsTotal)
	prometheus.MustRegister(OperationDuration)
	prometheus.MustRegister(MaintenanceWindowsActive)
	prometheus.MustRegister(OperationsActive)
	prometheus.MustRegister(ScheduledDispatchesTotal)
	prometheus.MustRegister(AgentJobsRunning)
	prometheus.MustRegister(AgentRequestsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
