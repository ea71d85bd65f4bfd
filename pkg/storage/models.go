package storage

import "time"

// Operation status values persisted in the audit trail
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// HealthRecord is one health observation for a node, appended every check cycle
type HealthRecord struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	NodeName         string    `gorm:"index:idx_health_node_time,priority:1" json:"node_name"`
	Timestamp        time.Time `gorm:"index:idx_health_node_time,priority:2" json:"timestamp"`
	Healthy          bool      `json:"healthy"`
	Error            string    `json:"error,omitempty"`
	Height           int64     `json:"height,omitempty"`
	CatchingUp       bool      `json:"catching_up"`
	ValidatorAddress string    `json:"validator_address,omitempty"`
}

// MaintenanceOperation is one dispatched operation, created at dispatch time
// with status running and finalized exactly once on terminal status
type MaintenanceOperation struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Kind        string     `json:"kind"`
	TargetName  string     `gorm:"index:idx_ops_target_started,priority:1" json:"target_name"`
	Status      string     `gorm:"index:idx_ops_status_started,priority:1" json:"status"`
	StartedAt   time.Time  `gorm:"index:idx_ops_target_started,priority:2;index:idx_ops_status_started,priority:2" json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	Details     string     `json:"details,omitempty"`
}
