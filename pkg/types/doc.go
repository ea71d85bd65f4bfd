/*
Package types defines the core data structures shared by the Warden
manager and agent.

This package contains the domain model for fleet maintenance: operation
kinds, agent jobs, busy entries, manager-side tracker records, health
observations, alert payloads, and the JSON request bodies accepted by
the agent HTTP surface. Both tiers import it; it imports nothing but
the standard library.

# Core Types

Operations:
  - OperationKind: closed set of maintenance operation classes
    (pruning, snapshot_create, snapshot_restore, state_sync, restart,
    hermes_restart), with per-class polling deadlines
  - ActiveOperation: manager tracker record with user attribution
  - MaintenanceWindow: alert/scheduler suppression marker for a node

Agent Jobs:
  - Job: volatile handle to a detached operation sequence
  - JobStatus: running, completed, failed (single terminal transition)
  - BusyEntry: per-target in-flight marker in the agent registry

Health & Alerting:
  - NodeHealth: one observation (height, catching-up, validator)
  - Alert: webhook payload with severity and host attribution
  - AlertSeverity: critical, warning, info, recovery

Requests:
  - CommandRequest, ServiceRequest, LogRequest: synchronous agent calls
  - PruningRequest, SnapshotCreateRequest, SnapshotRestoreRequest,
    StateSyncRequest: asynchronous sequences returning a job id
  - TriggerCheckRequest, CleanupRequest: log scanning and janitor

# Error Taxonomy

The shared failure classes are expressed as sentinel errors
(ErrNotFound, ErrAuthFailed, ErrTimeout, ErrConfigInvalid,
ErrPostcondition) plus the structured BusyError, which names the
operation kind currently holding a target and for how long. Callers
classify with errors.Is and errors.As; IsBusy is a convenience for the
most common check.

# Design Patterns

Enumeration Pattern:

	All enums use typed string constants:
	  type OperationKind string
	  const (
	      OperationPruning        OperationKind = "pruning"
	      OperationSnapshotCreate OperationKind = "snapshot_create"
	  )

Wire Compatibility:

	Every type carries JSON tags; the agent and manager exchange these
	structs verbatim over HTTP. Optional fields use omitempty so request
	bodies stay minimal.

# Thread Safety

Types here are plain data. The maps that hold them (registry, job
store, trackers, alert state) do their own locking; see pkg/agent and
pkg/manager.

# See Also

  - pkg/agent for the registry, job store, and operation sequences
  - pkg/manager for the trackers consuming ActiveOperation and
    MaintenanceWindow
  - pkg/alerting for the state machine emitting Alert payloads
*/
package types
