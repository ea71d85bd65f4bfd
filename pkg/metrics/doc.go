/*
Package metrics provides Prometheus metrics collection and exposition for Warden.

The metrics package defines and registers all Warden metrics using the
Prometheus client library, providing observability into node health, alerting
activity, operation throughput and latency, scheduler dispatches, and agent
load. Metrics are exposed via the manager's /metrics endpoint for scraping.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  │  - Automatic Go runtime metrics             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Health: per-node gauge, check counter,     │          │
	│  │          block height                        │          │
	│  │  Alerting: alerts sent, delivery failures   │          │
	│  │  Operations: totals, duration histogram,    │          │
	│  │          active gauges                       │          │
	│  │  Scheduler: dispatch counter                 │          │
	│  │  Agent: running jobs, request counter       │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics (manager API)             │          │
	│  │  - Format: Prometheus text exposition       │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Metrics Catalog

Health Metrics:

warden_node_healthy{node, network}:
  - Type: Gauge
  - Description: Last health check outcome (1 healthy, 0 unhealthy)
  - Set by: pkg/monitor each check cycle

warden_health_checks_total{node, outcome}:
  - Type: Counter
  - Description: Health checks by outcome (healthy/unhealthy)

warden_node_block_height{node, network}:
  - Type: Gauge
  - Description: Last observed block height

Alerting Metrics:

warden_alerts_sent_total{severity}:
  - Type: Counter
  - Description: Webhook alerts delivered, by severity

warden_alert_delivery_failures_total:
  - Type: Counter
  - Description: Webhook deliveries that errored or timed out

Operation Metrics:

warden_operations_total{kind, status}:
  - Type: Counter
  - Description: Operations reaching a terminal status

warden_operation_duration_seconds{kind}:
  - Type: Histogram
  - Description: Dispatch-to-terminal duration
  - Buckets: exponential from 10s ×4, 8 buckets (pruning and snapshots
    run for hours)

warden_operations_active:
  - Type: Gauge
  - Description: Operation tracker entries in flight (sampled)

warden_maintenance_windows_active:
  - Type: Gauge
  - Description: Open maintenance windows (sampled)

Scheduler Metrics:

warden_scheduled_dispatches_total{kind, outcome}:
  - Type: Counter
  - Description: Cron ticks by outcome (dispatched/skipped/failed)

Agent Metrics:

warden_agent_jobs_running:
  - Type: Gauge
  - Description: Jobs currently executing on this agent

warden_agent_requests_total{path, status}:
  - Type: Counter
  - Description: Agent API requests by route and HTTP status

# Collector

The Collector samples the two in-flight gauges every 15 seconds from a
FleetSource (implemented by the manager). Sampling rather than inc/dec keeps
the gauges honest across janitor cleanups and error paths.

	collector := metrics.NewCollector(mgr)
	collector.Start()
	defer collector.Stop()

# Timer Helper

	timer := metrics.NewTimer()
	// ... operation runs ...
	timer.ObserveDurationVec(metrics.OperationDuration, "pruning")

# Component Health

The package also carries a small component-health registry backing the
manager's /healthz and /readyz endpoints. Subsystems report in as they
start; GetHealth and GetReadiness serve the aggregate.

	metrics.SetComponent("storage", true, "")
	metrics.SetComponent("monitor", false, "probe loop stalled")

# Usage

Exposing metrics (manager API does this):

	router.GET("/metrics", gin.WrapH(metrics.Handler()))

Recording a terminal operation:

	metrics.OperationsTotal.WithLabelValues("pruning", "completed").Inc()

# See Also

  - pkg/manager for gauge sources and the /metrics route
  - pkg/monitor for health gauge updates
  - Prometheus naming: https://prometheus.io/docs/practices/naming/
*/
package metrics
