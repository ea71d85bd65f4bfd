// Package api exposes the agent's operations over an authenticated
// HTTP surface. Every route answers one JSON envelope shape so the
// manager-side client parses a single document regardless of endpoint
// or outcome.
//
// # Surface
//
//	POST /command/execute          run a shell command (bounded)
//	POST /service/status           systemctl is-active state
//	POST /service/start            start a unit
//	POST /service/stop             stop a unit
//	POST /service/uptime           seconds since unit became active
//	POST /logs/truncate            empty a log file in place
//	POST /logs/delete-all          remove a log and rotated siblings
//	POST /pruning/execute          async: prune block store
//	POST /snapshot/create          async: archive node data
//	POST /snapshot/restore         async: restore node data
//	POST /snapshot/check-triggers  scan a log tail for patterns
//	POST /state-sync/execute       async: state sync recovery
//	GET  /operation/status/:job_id poll a job record
//	POST /status/busy              per-target operation registry
//	POST /status/cleanup           sweep stale registry/job entries
//	GET  /healthz                  liveness, unauthenticated
//
// # Authentication
//
// Everything except /healthz requires "Authorization: Bearer <key>".
// The key comes from configuration or the AGENT_API_KEY environment
// variable; when both are empty the server refuses every authenticated
// route rather than running open. Comparison is constant time.
//
// # Async operations
//
// The four sequence endpoints claim the target and return immediately:
//
//	client                      server
//	  |  POST /pruning/execute    |
//	  |--------------------------->| claim target, spawn sequence
//	  |  200 {job_id, running}     |
//	  |<---------------------------|
//	  |  GET /operation/status/id  |   (repeat until terminal)
//	  |--------------------------->|
//	  |  200 {completed, result}   |
//	  |<---------------------------|
//
// A second request for a busy target answers 409 with the active kind
// and start time in the envelope Data, which the manager client turns
// back into a typed busy error.
package api
