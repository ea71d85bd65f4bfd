package manager

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stakeops/warden/pkg/log"
	"github.com/stakeops/warden/pkg/types"
)

// OperationTracker enforces at most one in-flight operation per node on
// the manager side. The agent registry enforces the same invariant on
// the host; this tracker keeps the manager from even dialing out.
type OperationTracker struct {
	mu     sync.RWMutex
	ops    map[string]types.ActiveOperation
	logger zerolog.Logger
}

// NewOperationTracker creates an empty tracker
func NewOperationTracker() *OperationTracker {
	return &OperationTracker{
		ops:    make(map[string]types.ActiveOperation),
		logger: log.WithComponent("op-tracker"),
	}
}

// Start claims the node for an operation. A node with an entry in
// flight returns a BusyError naming the active kind.
func (t *OperationTracker) Start(node string, kind types.OperationKind, startedBy string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.ops[node]; ok {
		return &types.BusyError{Target: node, Kind: entry.Kind, Since: entry.StartedAt}
	}
	t.ops[node] = types.ActiveOperation{
		Target:    node,
		Kind:      kind,
		StartedBy: startedBy,
		StartedAt: time.Now().UTC(),
	}
	return nil
}

// Finish releases the node. Releasing an absent entry is a no-op so
// deferred releases stay safe on every exit path.
func (t *OperationTracker) Finish(node string) {
	t.mu.Lock()
	delete(t.ops, node)
	t.mu.Unlock()
}

// IsActive reports whether the node has an operation in flight
func (t *OperationTracker) IsActive(node string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.ops[node]
	return ok
}

// Get returns the active entry for a node
func (t *OperationTracker) Get(node string) (types.ActiveOperation, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.ops[node]
	return entry, ok
}

// List returns a snapshot of all active operations
func (t *OperationTracker) List() []types.ActiveOperation {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snapshot := make([]types.ActiveOperation, 0, len(t.ops))
	for _, entry := range t.ops {
		snapshot = append(snapshot, entry)
	}
	return snapshot
}

// Count returns the number of active operations
func (t *OperationTracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.ops)
}

// Cleanup removes entries older than the horizon and returns them.
// The janitor uses the removals to fail the matching audit rows.
func (t *OperationTracker) Cleanup(olderThan time.Duration) []types.ActiveOperation {
	now := time.Now().UTC()

	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []types.ActiveOperation
	for node, entry := range t.ops {
		if now.Sub(entry.StartedAt) > olderThan {
			delete(t.ops, node)
			removed = append(removed, entry)
		}
	}
	if len(removed) > 0 {
		t.logger.Warn().Int("removed", len(removed)).Msg("reaped stuck operation entries")
	}
	return removed
}

// MaintenanceTracker records which nodes are inside a maintenance
// window. The monitor suppresses alerting and auto-restore for nodes
// with an open window; the scheduler skips their cron ticks.
type MaintenanceTracker struct {
	mu      sync.RWMutex
	windows map[string]types.MaintenanceWindow
	logger  zerolog.Logger
}

// NewMaintenanceTracker creates an empty tracker
func NewMaintenanceTracker() *MaintenanceTracker {
	return &MaintenanceTracker{
		windows: make(map[string]types.MaintenanceWindow),
		logger:  log.WithComponent("maintenance"),
	}
}

// Start opens a window for the node. A node with an open window
// returns a BusyError naming the active kind.
func (t *MaintenanceTracker) Start(node string, kind types.OperationKind, estimatedMinutes int, host string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if window, ok := t.windows[node]; ok {
		return &types.BusyError{Target: node, Kind: window.Kind, Since: window.StartedAt}
	}
	t.windows[node] = types.MaintenanceWindow{
		Target:           node,
		Kind:             kind,
		Host:             host,
		EstimatedMinutes: estimatedMinutes,
		StartedAt:        time.Now().UTC(),
	}
	return nil
}

// End closes the window. Reports whether one was open.
func (t *MaintenanceTracker) End(node string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.windows[node]
	delete(t.windows, node)
	return ok
}

// InMaintenance reports whether the node has an open window
func (t *MaintenanceTracker) InMaintenance(node string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.windows[node]
	return ok
}

// Get returns the open window for a node
func (t *MaintenanceTracker) Get(node string) (types.MaintenanceWindow, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	window, ok := t.windows[node]
	return window, ok
}

// List returns a snapshot of all open windows
func (t *MaintenanceTracker) List() []types.MaintenanceWindow {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snapshot := make([]types.MaintenanceWindow, 0, len(t.windows))
	for _, window := range t.windows {
		snapshot = append(snapshot, window)
	}
	return snapshot
}

// Count returns the number of open windows
func (t *MaintenanceTracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.windows)
}

// Cleanup removes windows older than the horizon and returns the count
func (t *MaintenanceTracker) Cleanup(olderThan time.Duration) int {
	now := time.Now().UTC()

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for node, window := range t.windows {
		if now.Sub(window.StartedAt) > olderThan {
			delete(t.windows, node)
			removed++
		}
	}
	if removed > 0 {
		t.logger.Warn().Int("removed", removed).Msg("reaped expired maintenance windows")
	}
	return removed
}
