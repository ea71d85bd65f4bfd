/*
Package manager assembles and runs the Warden control plane.

The manager package owns every long-lived component of the central
process: the audit store, the event broker, the per-node claim
trackers, one HTTP client per agent host, the health monitor, the cron
scheduler, the operation dispatcher, the metrics sampler, the janitor
loops, and the operator API. Construction wires them together from
loaded configuration; Start and Stop drive their shared lifecycle.

# Architecture

One manager process supervises the whole fleet:

	┌──────────────────── MANAGER PROCESS ──────────────────────┐
	│                                                             │
	│  ┌─────────────────────────────────────────────┐          │
	│  │        Operator API (gin, port 8746)         │          │
	│  │  - Fleet status, nodes, operations, records  │          │
	│  │  - Manual dispatch, force-end maintenance    │          │
	│  │  - SSE event stream, /healthz, /metrics      │          │
	│  └──────────────────┬──────────────────────────┘          │
	│                     │                                       │
	│  ┌──────────────────▼──────────────────────────┐          │
	│  │               Manager                        │          │
	│  │  - Builds one client per agent host          │          │
	│  │  - Owns both trackers and the broker         │          │
	│  │  - Runs the janitor sweeps                   │          │
	│  │  - Implements metrics.FleetSource            │          │
	│  └───┬──────────────┬──────────────┬───────────┘          │
	│      │              │              │                       │
	│  ┌───▼────┐   ┌─────▼─────┐   ┌───▼────────┐             │
	│  │Monitor │   │ Scheduler │   │ Dispatcher │             │
	│  │RPC poll│   │ cron fire │   │ claim+post │             │
	│  └───┬────┘   └─────┬─────┘   └───┬────────┘             │
	│      │              │              │                       │
	│      └──────────────┼──────────────┘                       │
	│                     │                                       │
	│  ┌──────────────────▼──────────────────────────┐          │
	│  │   Trackers / Broker / Audit Store (SQLite)   │          │
	│  │  - OperationTracker: one op per node         │          │
	│  │  - MaintenanceTracker: open windows          │          │
	│  │  - events.Broker: fan-out to SSE + alerting  │          │
	│  │  - storage.Store: health + operation rows    │          │
	│  └─────────────────────────────────────────────┘          │
	│                                                             │
	└──────────────────────────┬──────────────────────────────┘
	                           │ HTTPS + bearer token
	          ┌────────────────┼────────────────┐
	          ▼                ▼                ▼
	      agent host       agent host       agent host

# Core Components

Manager:
  - Opens the audit store and validates every cron expression at
    construction time, before anything dials out
  - Resolves one bearer key per agent host from secrets.toml
  - Serves the operator API and blocks in Start until Stop

OperationTracker:
  - In-memory claim map enforcing one operation per node
  - A second dispatch for a busy node fails with a BusyError

MaintenanceTracker:
  - Records open maintenance windows per node
  - Consulted by the monitor (suppress alerts) and the scheduler
    (skip ticks) while an operation runs

Janitors:
  - Operation sweep (hourly): reaps tracker entries older than 24h
    and fails audit rows still marked running from before that
    horizon, covering polls lost to a manager restart
  - Window sweep (6h): force-closes windows older than 48h

# Lifecycle

Start launches the broker, the metrics sampler, the monitor, the
scheduler, and the janitor loop, then serves the operator API until
Stop. Stop tears down in reverse order: listener first so no new work
arrives, then scheduler and monitor, janitors, sampler, broker, and
finally the audit store. Goroutines polling in-flight agent jobs are
deliberately not waited on; the agent finishes the job regardless and
the next janitor sweep reconciles the audit trail.

# Authentication

/healthz, /readyz and /metrics are always open. The /api/v1 group
requires the bearer key named by [manager] api_key_ref; with an empty
reference the operator API runs unauthenticated, intended for
localhost-only binds.
*/
package manager
