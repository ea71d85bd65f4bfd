/*
Package client is the manager's outbound surface: the HTTP client for
per-host agents, the CometBFT RPC client for node introspection, and
the dispatcher that drives maintenance operations end to end.

# Architecture

The dispatcher sits between the manager's bookkeeping and the agents:

	┌──────────────── pkg/manager ────────────────────────────────┐
	│                                                              │
	│   scheduler / monitor / API handlers                         │
	│        │                                                     │
	│        ▼                                                     │
	│   dispatcher.Dispatch(Request)                               │
	│                                                              │
	└────────┼─────────────────────────────────────────────────────┘
	         │
	┌────────▼──────── pkg/client ─────────────────────────────────┐
	│                                                               │
	│  1. claim maintenance window + operation entry                │
	│  2. insert running audit row, publish started events          │
	│  3. POST payload to the host agent                            │
	│  4. poll job status until terminal                            │
	│  5. finalize audit row, publish terminal event                │
	│  6. release claims in reverse order                           │
	│                                                               │
	│  Client ──── bearer-auth resty calls ────────────► agent API  │
	│  RPC ─────── status / block queries ─────────────► node RPC   │
	│                                                               │
	└───────────────────────────────────────────────────────────────┘

# Agent Client

Client wraps one agent endpoint with resty. Every call decodes the
shared response envelope and maps HTTP status codes onto the error
taxonomy in pkg/types: 401 becomes ErrAuthFailed, 404 ErrNotFound, and
409 is rebuilt into a *types.BusyError so callers can branch with
types.IsBusy. WaitForJob polls a job id until it reaches a terminal
status, treating transport hiccups as retryable and a vanished job or
lost auth as fatal.

# CometBFT RPC

RPC speaks to the node's own RPC port for health probes and state-sync
bootstrap. ResolveTrustAnchor walks the configured RPC servers, takes
the first reachable one, and anchors trust at the latest height minus a
configurable offset (default 2000 blocks), clamped to genesis.

# Dispatcher

Dispatch is the single entry point for all operation kinds. It claims
the node, records the operation, and detaches a goroutine that polls to
completion bounded by the kind's deadline (pruning 5 h, snapshots and
state sync 24 h, restarts 30 m / 15 m). The two restart kinds run their
stop/start/verify sequence synchronously in that goroutine instead of
posting a job. Claims are always released operation entry first, window
second, so a node never appears claim-free while its window is open.

The dispatcher depends on four small interfaces (OperationGuard,
MaintenanceGuard, Auditor, Publisher) implemented by the manager's
trackers, the storage layer, and the event broker. That keeps this
package free of a dependency on pkg/manager.

# Usage

	agents := map[string]*client.Client{
	    "val-host-1": client.New(&client.Config{
	        Host:    "val-host-1",
	        BaseURL: "http://10.0.0.5:8080",
	        APIKey:  os.Getenv("WARDEN_AGENT_KEY"),
	        Timeout: 30 * time.Second,
	    }),
	}

	d := client.NewDispatcher(&client.DispatcherConfig{
	    Clients:    agents,
	    Operations: opsTracker,
	    Windows:    maintTracker,
	    Audit:      store,
	    Broker:     broker,
	})

	jobID, err := d.Dispatch(ctx, &client.Request{
	    Node:      "osmosis-1",
	    Host:      "val-host-1",
	    Kind:      types.OperationPruning,
	    StartedBy: "schedule",
	    Pruning:   &types.PruningRequest{...},
	})
*/
package client
