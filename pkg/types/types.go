package types

import (
	"time"
)

// OperationKind identifies a maintenance operation class. The set is
// closed: anything outside it is rejected at dispatch.
type OperationKind string

const (
	OperationPruning         OperationKind = "pruning"
	OperationSnapshotCreate  OperationKind = "snapshot_create"
	OperationSnapshotRestore OperationKind = "snapshot_restore"
	OperationStateSync       OperationKind = "state_sync"
	OperationRestart         OperationKind = "restart"
	OperationHermesRestart   OperationKind = "hermes_restart"
)

// Valid reports whether k is one of the known operation kinds.
func (k OperationKind) Valid() bool {
	switch k {
	case OperationPruning, OperationSnapshotCreate, OperationSnapshotRestore,
		OperationStateSync, OperationRestart, OperationHermesRestart:
		return true
	}
	return false
}

// Deadline returns the operation-class deadline the manager enforces
// while polling for a terminal result.
func (k OperationKind) Deadline() time.Duration {
	switch k {
	case OperationPruning:
		return 5 * time.Hour
	case OperationSnapshotCreate, OperationSnapshotRestore, OperationStateSync:
		return 24 * time.Hour
	case OperationRestart:
		return 30 * time.Minute
	case OperationHermesRestart:
		return 15 * time.Minute
	}
	return time.Hour
}

// JobStatus represents the lifecycle state of an agent job
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether s is a final job state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is the agent-side handle to a detached operation sequence. It is
// volatile: a restart of the agent loses all jobs by design.
type Job struct {
	ID          string         `json:"id"`
	Target      string         `json:"target"`
	Kind        OperationKind  `json:"kind"`
	Status      JobStatus      `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// BusyEntry marks a target with an operation in flight on the agent
type BusyEntry struct {
	Kind      OperationKind `json:"operation"`
	StartedAt time.Time     `json:"started_at"`
}

// ActiveOperation is the manager-side record of an in-flight operation,
// keyed by node name in the operation tracker.
type ActiveOperation struct {
	Target    string        `json:"target"`
	Kind      OperationKind `json:"kind"`
	StartedBy string        `json:"started_by,omitempty"`
	StartedAt time.Time     `json:"started_at"`
}

// MaintenanceWindow suppresses health alerts and scheduled dispatch for
// a node while an operation runs, keyed by node name.
type MaintenanceWindow struct {
	Target           string        `json:"target"`
	Kind             OperationKind `json:"kind"`
	Host             string        `json:"host"`
	EstimatedMinutes int           `json:"estimated_minutes"`
	StartedAt        time.Time     `json:"started_at"`
}

// NodeHealth is a single health observation for a node
type NodeHealth struct {
	NodeName         string    `json:"node_name"`
	Healthy          bool      `json:"healthy"`
	Error            string    `json:"error,omitempty"`
	BlockHeight      int64     `json:"block_height,omitempty"`
	CatchingUp       bool      `json:"catching_up"`
	ValidatorAddress string    `json:"validator_address,omitempty"`
	CheckedAt        time.Time `json:"checked_at"`
}

// AlertSeverity classifies webhook emissions
type AlertSeverity string

const (
	SeverityCritical AlertSeverity = "critical"
	SeverityWarning  AlertSeverity = "warning"
	SeverityInfo     AlertSeverity = "info"
	SeverityRecovery AlertSeverity = "recovery"
)

// Alert is the webhook payload sent to operators
type Alert struct {
	Timestamp  time.Time     `json:"timestamp"`
	AlertType  string        `json:"alert_type"`
	Severity   AlertSeverity `json:"severity"`
	NodeName   string        `json:"node_name"`
	ServerHost string        `json:"server_host"`
	Message    string        `json:"message"`
	Details    string        `json:"details,omitempty"`
}
