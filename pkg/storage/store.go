package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const defaultListLimit = 100

// Store persists the audit trail: health observations and operation records
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the SQLite database at path and migrates the schema
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&HealthRecord{}, &MaintenanceOperation{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{db: db}, nil
}

// SaveHealthRecord appends one health observation
func (s *Store) SaveHealthRecord(record *HealthRecord) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	if err := s.db.Create(record).Error; err != nil {
		return fmt.Errorf("failed to save health record: %w", err)
	}
	return nil
}

// ListHealthRecords returns the most recent observations for a node, newest first
func (s *Store) ListHealthRecords(nodeName string, limit int) ([]HealthRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	var records []HealthRecord
	query := s.db.Order("timestamp DESC").Limit(limit)
	if nodeName != "" {
		query = query.Where("node_name = ?", nodeName)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list health records: %w", err)
	}
	return records, nil
}

// CreateOperation inserts a new operation row with status running
func (s *Store) CreateOperation(op *MaintenanceOperation) error {
	if op.Status == "" {
		op.Status = StatusRunning
	}
	if op.StartedAt.IsZero() {
		op.StartedAt = time.Now().UTC()
	}
	if err := s.db.Create(op).Error; err != nil {
		return fmt.Errorf("failed to create operation record: %w", err)
	}
	return nil
}

// CompleteOperation finalizes an operation row with a terminal status.
// Rows already terminal are left untouched.
func (s *Store) CompleteOperation(id uint, status string, errMsg string) error {
	now := time.Now().UTC()
	result := s.db.Model(&MaintenanceOperation{}).
		Where("id = ? AND status = ?", id, StatusRunning).
		Updates(map[string]interface{}{
			"status":       status,
			"completed_at": &now,
			"error":        errMsg,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to complete operation record: %w", result.Error)
	}
	return nil
}

// OperationFilter narrows ListOperations results
type OperationFilter struct {
	TargetName string
	Status     string
	Limit      int
}

// ListOperations returns operation rows matching the filter, newest first
func (s *Store) ListOperations(filter OperationFilter) ([]MaintenanceOperation, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := s.db.Order("started_at DESC").Limit(limit)
	if filter.TargetName != "" {
		query = query.Where("target_name = ?", filter.TargetName)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var ops []MaintenanceOperation
	if err := query.Find(&ops).Error; err != nil {
		return nil, fmt.Errorf("failed to list operation records: %w", err)
	}
	return ops, nil
}

// FailStuckOperations marks running rows that started before the cutoff as
// failed. Returns the number of rows reaped.
func (s *Store) FailStuckOperations(cutoff time.Time) (int64, error) {
	now := time.Now().UTC()
	result := s.db.Model(&MaintenanceOperation{}).
		Where("status = ? AND started_at < ?", StatusRunning, cutoff).
		Updates(map[string]interface{}{
			"status":       StatusFailed,
			"completed_at": &now,
			"error":        "operation exceeded retention horizon",
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to reap stuck operations: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Close closes the underlying database connection
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to access database handle: %w", err)
	}
	return sqlDB.Close()
}
