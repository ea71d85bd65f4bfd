/*
Package storage provides the SQLite-backed audit trail for the Warden manager.

The storage package persists two append-mostly tables: health observations
from the monitor and maintenance-operation records from the dispatcher. It is
the only durable state in Warden. Agents are deliberately stateless and the
manager's trackers are in-memory; everything that must survive a restart for
audit purposes lands here.

# Architecture

	┌────────────────── AUDIT STORE ───────────────────────┐
	│                                                        │
	│  ┌──────────────────────────────────────────┐        │
	│  │                Store                      │        │
	│  │  - gorm over SQLite (single file)         │        │
	│  │  - schema migrated at open                │        │
	│  │  - silent gorm logger (zerolog is the     │        │
	│  │    single log stream)                     │        │
	│  └───────────┬──────────────────┬───────────┘        │
	│              │                  │                     │
	│  ┌───────────▼──────┐  ┌────────▼────────────────┐   │
	│  │  health_records  │  │ maintenance_operations  │   │
	│  │                  │  │                         │   │
	│  │  node_name       │  │  kind                   │   │
	│  │  timestamp       │  │  target_name            │   │
	│  │  healthy         │  │  status                 │   │
	│  │  error           │  │  started_at             │   │
	│  │  height          │  │  completed_at           │   │
	│  │  catching_up     │  │  error                  │   │
	│  │  validator_addr  │  │  details                │   │
	│  └──────────────────┘  └─────────────────────────┘   │
	│                                                        │
	│  Indices:                                              │
	│    (node_name, timestamp)                              │
	│    (target_name, started_at)                           │
	│    (status, started_at)                                │
	└────────────────────────────────────────────────────┘

# Record Lifecycles

Health records:
 1. Monitor probes a node's RPC endpoint
 2. SaveHealthRecord appends the observation
 3. ListHealthRecords serves the API's recent-history queries

Operation records:
 1. CreateOperation at dispatch (status running)
 2. CompleteOperation on terminal status (completed or failed); rows
    already terminal are never rewritten
 3. FailStuckOperations reaps rows stuck in running past the janitor
    horizon (24h by default)

# Usage

	store, err := storage.Open("/var/lib/warden/warden.db")
	if err != nil {
		return err
	}
	defer store.Close()

	op := &storage.MaintenanceOperation{
		Kind:       "pruning",
		TargetName: "osmosis-1",
	}
	if err := store.CreateOperation(op); err != nil {
		return err
	}
	// ... operation runs ...
	_ = store.CompleteOperation(op.ID, storage.StatusCompleted, "")

Filtering the audit trail:

	ops, err := store.ListOperations(storage.OperationFilter{
		TargetName: "osmosis-1",
		Status:     storage.StatusFailed,
		Limit:      50,
	})

# Design Notes

SQLite was chosen over a server database because a single manager process
owns the file and the write rate is low (one health row per node per check
cycle, one operation row per dispatch). gorm's connection pool serializes
writers; queries stay on indexed paths.

CompleteOperation guards on status = running so that a late janitor pass and
a normal completion cannot both rewrite a row. The first terminal transition
wins.

# See Also

  - pkg/manager for the dispatcher and janitors writing operation rows
  - pkg/monitor for the health observations feeding health_records
*/
package storage
