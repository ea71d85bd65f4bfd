/*
Package log provides structured logging for Warden using zerolog.

The log package wraps the zerolog library to provide JSON-structured
logging with component-specific loggers, configurable log levels, and
helper functions for common logging patterns. All logs include
timestamps and support filtering by severity level.

# Architecture

	┌────────────────── LOGGING SYSTEM ───────────────────┐
	│                                                       │
	│  Global Logger (zerolog, initialized via log.Init)   │
	│        │                                              │
	│        ├── Config: level, JSON/console, writer       │
	│        │                                              │
	│        └── Child loggers                              │
	│             - WithComponent("monitor")                │
	│             - WithNode("osmosis-1-node1")             │
	│             - WithHost("validator-host-1")            │
	│             - WithJobID("pruning_node1_1700000000")   │
	└───────────────────────────────────────────────────────┘

# Usage

Initialize once at process start:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

Component loggers carry a fixed field through every line:

	logger := log.WithComponent("scheduler")
	logger.Info().Str("node", node).Msg("dispatching pruning")

Package-level helpers cover one-off lines:

	log.Info("manager started")
	log.Errorf("health check failed", err)

# Output Formats

JSON (production):

	{"level":"info","component":"monitor","node":"osmosis-1-node1",
	 "time":"2026-01-12T10:30:00Z","message":"node recovered"}

Console (development): human-readable, colorized, RFC 3339 timestamps.

# Integration Points

Every Warden package logs through this wrapper. The manager and agent
both call Init from their cobra commands before any component starts.

# See Also

  - cmd/warden for initialization flags
*/
package log
