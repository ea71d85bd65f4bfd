/*
Package agent executes privileged node operations on a single host.

The agent is the manager's hands: it stops and starts systemd units,
runs the pruner, cuts and restores snapshots, and rewrites CometBFT
configs for state sync. It holds no persistent state. The operation
registry and the job store are in-memory maps, and an agent restart
forgets both; the manager's audit trail is the durable record.

# Architecture

	┌───────────────────── AGENT PROCESS ───────────────────────┐
	│                                                             │
	│  ┌─────────────────────────────────────────────┐          │
	│  │        HTTP API (gin, port 8745)             │          │
	│  │  - Bearer auth on every route but /healthz   │          │
	│  └──────────────────┬──────────────────────────┘          │
	│                     │                                       │
	│  ┌──────────────────▼──────────────────────────┐          │
	│  │               Agent                          │          │
	│  │                                               │          │
	│  │  Operation registry (map[target]BusyEntry)   │          │
	│  │   - one operation per target, ever           │          │
	│  │  Job store (map[id]*Job)                     │          │
	│  │   - running → completed | failed, once       │          │
	│  │  Janitor                                     │          │
	│  │   - hourly sweep of stuck entries (24h)      │          │
	│  │     and old terminal jobs (48h)              │          │
	│  └──────────────────┬──────────────────────────┘          │
	│                     │                                       │
	│  ┌──────────────────▼──────────────────────────┐          │
	│  │          Operation sequences                 │          │
	│  │  Pruning        stop → prune → start         │          │
	│  │  SnapshotCreate stop → tar → start           │          │
	│  │  SnapshotRestore stop → wipe → untar → start │          │
	│  │  StateSync      config → reset → poll → off  │          │
	│  └──────────────────┬──────────────────────────┘          │
	│                     │                                       │
	│  ┌──────────────────▼──────────────────────────┐          │
	│  │         Runner over Commander                │          │
	│  │  systemctl · tar · cosmos-pruner · stat ·    │          │
	│  │  test · cp · rm · chown · tail · truncate    │          │
	│  └─────────────────────────────────────────────┘          │
	└────────────────────────────────────────────────────────┘

# Async execution

ExecuteAsync claims the target in the registry, creates a running job,
and detaches the sequence in a goroutine. The API answers immediately
with the job id; the manager polls the job until it is terminal. A
second operation for a busy target is rejected with the active kind,
whatever the requested kind is. Panics inside a sequence fail the job
and release the claim.

Job ids are {kind}_{target}_{unix}; a collision within one second gets
a numeric suffix.

# Sequence invariants

Every sequence that stops a service verifies it afterwards: systemctl
must report exactly "active" or the job fails with a postcondition
error. Snapshot creation copies priv_validator_state.json aside before
archiving so a restore can never revive a stale signing state, and a
restore only writes the signing state the request explicitly names. A
state sync that exceeds its deadline leaves the service running for
inspection and keeps state sync enabled unless the request asked for
it to be switched off.

# Commander

All host interaction funnels through the Commander interface, so tests
script every systemctl, tar, and pruner invocation without touching
the machine. The production Commander shells out via os/exec with
separate capture of both streams; non-zero exits surface as
ProcessError with the exit code and whichever stream had content.
*/
package agent
