/*
Package scheduler fires maintenance operations at their configured
times: node pruning, node snapshots, and hermes restarts.

Expressions are six-field cron (seconds first) evaluated in the
manager's local timezone, parsed and run by robfig/cron. Each schedule
is wrapped in a skip-if-still-running chain so a tick that arrives
while the previous dispatch is still claiming never stacks.

Per tick the scheduler resolves the target and kind, skips with a log
line when the target is inside a maintenance window, and otherwise
hands the operation to the dispatcher fire-and-forget. Terminal results
are recorded by the dispatcher; the scheduler never awaits completion.

Malformed expressions fail at construction, so `warden validate` can
reject a bad config before anything starts.
*/
package scheduler
