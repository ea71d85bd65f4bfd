package manager

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stakeops/warden/pkg/types"
)

func TestOperationTrackerMutualExclusion(t *testing.T) {
	tracker := NewOperationTracker()

	require.NoError(t, tracker.Start("node-1", types.OperationPruning, "cron"))

	err := tracker.Start("node-1", types.OperationSnapshotCreate, "manual")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pruning")

	var busy *types.BusyError
	require.True(t, errors.As(err, &busy))
	assert.Equal(t, "node-1", busy.Target)
	assert.Equal(t, types.OperationPruning, busy.Kind)

	tracker.Finish("node-1")
	require.NoError(t, tracker.Start("node-1", types.OperationSnapshotCreate, "manual"))
}

func TestOperationTrackerIndependentNodes(t *testing.T) {
	tracker := NewOperationTracker()

	require.NoError(t, tracker.Start("node-1", types.OperationPruning, "cron"))
	require.NoError(t, tracker.Start("node-2", types.OperationStateSync, "manual"))

	assert.True(t, tracker.IsActive("node-1"))
	assert.True(t, tracker.IsActive("node-2"))
	assert.False(t, tracker.IsActive("node-3"))
	assert.Equal(t, 2, tracker.Count())

	entry, ok := tracker.Get("node-2")
	require.True(t, ok)
	assert.Equal(t, types.OperationStateSync, entry.Kind)
	assert.Equal(t, "manual", entry.StartedBy)
	assert.False(t, entry.StartedAt.IsZero())
}

func TestOperationTrackerFinishIsIdempotent(t *testing.T) {
	tracker := NewOperationTracker()

	require.NoError(t, tracker.Start("node-1", types.OperationRestart, ""))
	tracker.Finish("node-1")
	tracker.Finish("node-1")
	tracker.Finish("never-started")

	assert.Equal(t, 0, tracker.Count())
}

func TestOperationTrackerCleanup(t *testing.T) {
	tracker := NewOperationTracker()

	require.NoError(t, tracker.Start("node-old", types.OperationPruning, "cron"))
	require.NoError(t, tracker.Start("node-new", types.OperationRestart, "manual"))

	// Backdate one entry past the horizon
	tracker.mu.Lock()
	entry := tracker.ops["node-old"]
	entry.StartedAt = time.Now().UTC().Add(-25 * time.Hour)
	tracker.ops["node-old"] = entry
	tracker.mu.Unlock()

	removed := tracker.Cleanup(24 * time.Hour)
	require.Len(t, removed, 1)
	assert.Equal(t, "node-old", removed[0].Target)
	assert.False(t, tracker.IsActive("node-old"))
	assert.True(t, tracker.IsActive("node-new"))
}

func TestMaintenanceTrackerSingleWindow(t *testing.T) {
	tracker := NewMaintenanceTracker()

	require.NoError(t, tracker.Start("node-1", types.OperationSnapshotRestore, 120, "val-host-1"))

	err := tracker.Start("node-1", types.OperationPruning, 60, "val-host-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "snapshot_restore")

	window, ok := tracker.Get("node-1")
	require.True(t, ok)
	assert.Equal(t, 120, window.EstimatedMinutes)
	assert.Equal(t, "val-host-1", window.Host)

	assert.True(t, tracker.End("node-1"))
	assert.False(t, tracker.End("node-1"))
	assert.False(t, tracker.InMaintenance("node-1"))

	require.NoError(t, tracker.Start("node-1", types.OperationPruning, 60, "val-host-1"))
}

func TestMaintenanceTrackerCleanup(t *testing.T) {
	tracker := NewMaintenanceTracker()

	require.NoError(t, tracker.Start("node-old", types.OperationStateSync, 240, "val-host-1"))
	require.NoError(t, tracker.Start("node-new", types.OperationRestart, 10, "val-host-2"))

	tracker.mu.Lock()
	window := tracker.windows["node-old"]
	window.StartedAt = time.Now().UTC().Add(-49 * time.Hour)
	tracker.windows["node-old"] = window
	tracker.mu.Unlock()

	assert.Equal(t, 1, tracker.Cleanup(48*time.Hour))
	assert.False(t, tracker.InMaintenance("node-old"))
	assert.True(t, tracker.InMaintenance("node-new"))
	assert.Equal(t, 1, tracker.Count())
}

func TestTrackerListSnapshots(t *testing.T) {
	ops := NewOperationTracker()
	windows := NewMaintenanceTracker()

	require.NoError(t, ops.Start("node-1", types.OperationPruning, "cron"))
	require.NoError(t, windows.Start("node-1", types.OperationPruning, 60, "val-host-1"))

	opList := ops.List()
	windowList := windows.List()
	require.Len(t, opList, 1)
	require.Len(t, windowList, 1)

	// Mutating the snapshot must not touch tracker state
	opList[0].Target = "mutated"
	windowList[0].Target = "mutated"
	assert.True(t, ops.IsActive("node-1"))
	assert.True(t, windows.InMaintenance("node-1"))
}
