/*
Package monitor is the manager's health loop: every interval it probes
each enabled node's RPC, computes a health verdict, persists the
observation, and drives alerting and auto-restore.

# Health Verdict

A node is healthy when all three hold:

  - the status RPC answered within the timeout
  - catching_up is false
  - the block height progressed since the last check

"Progressed" tolerates jitter: the first two checks at an identical
height stay healthy, the third marks a stall. A strictly greater height
resets the counter.

# Check Pipeline

	┌─────────────────────── every interval ───────────────────────┐
	│                                                               │
	│  for each enabled node (concurrently):                        │
	│                                                               │
	│    probe RPC ──► verdict ──► persist health record            │
	│                      │                                        │
	│        in maintenance?── yes ──► stop (history only)          │
	│                      │ no                                     │
	│                      ├──► publish unhealthy/recovered event   │
	│                      ├──► alert pipeline (maybe webhook)      │
	│                      └──► unhealthy? check restore triggers   │
	│                                │ matched, outside cooldown    │
	│                                └──► dispatch snapshot restore │
	│                                                               │
	└───────────────────────────────────────────────────────────────┘

A node inside a maintenance window still gets its history row, but no
events, no alerts, and no auto-restore. Trigger patterns are only
checked on unhealthy observations; a healthy node's logs are left
alone.

# Auto-Restore

When a trigger pattern (for example "AppHash mismatch") appears in the
node's log and the per-node cooldown (default 2 h) has passed, the
monitor dispatches a snapshot restore attributed to "auto-restore".
The cooldown starts only when the dispatch was accepted, so a busy
node retries on the next unhealthy check.
*/
package monitor
