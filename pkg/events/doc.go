/*
Package events provides an in-memory event broker for Warden's pub/sub messaging.

The events package implements a lightweight event bus for broadcasting fleet
events to interested subscribers. It supports asynchronous event delivery with
non-blocking publish semantics, enabling loose coupling between the manager's
health monitor, scheduler, dispatcher, and API event stream.

# Architecture

Warden's event system provides non-blocking pub/sub messaging with buffered
channels:

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │              Event Broker                   │          │
	│  │  - In-memory message bus                    │          │
	│  │  - Topic-agnostic (all events broadcast)    │          │
	│  │  - Non-blocking publish                     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          Event Distribution                 │          │
	│  │                                              │          │
	│  │  Publisher → Event Channel (buffer: 100)    │          │
	│  │       ↓                                      │          │
	│  │  Broadcast Loop                              │          │
	│  │       ↓                                      │          │
	│  │  Subscriber Channels (buffer: 50 each)      │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Event Types                       │          │
	│  │                                              │          │
	│  │  Health Events:                             │          │
	│  │    - node.unhealthy                         │          │
	│  │    - node.recovered                         │          │
	│  │                                              │          │
	│  │  Alert Events:                              │          │
	│  │    - alert.sent                             │          │
	│  │                                              │          │
	│  │  Operation Events:                          │          │
	│  │    - operation.started                      │          │
	│  │    - operation.completed                    │          │
	│  │    - operation.failed                       │          │
	│  │                                              │          │
	│  │  Maintenance Events:                        │          │
	│  │    - maintenance.started                    │          │
	│  │    - maintenance.ended                      │          │
	│  └────────────────────────────────────────────┘           │
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Subscribers                      │          │
	│  │                                              │          │
	│  │  API Server: Stream events via SSE          │          │
	│  │  Alerting: React to health transitions      │          │
	│  │  Metrics: Count events for dashboards       │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Event Broker:
  - Central message bus for event distribution
  - Manages subscriber lifecycle
  - Non-blocking publish (buffered channel)
  - Graceful shutdown via stop channel

Event:
  - ID: Unique event identifier (UUID)
  - Type: Event type (node.unhealthy, operation.failed, etc.)
  - Timestamp: When event occurred
  - Node: Node the event relates to (if any)
  - Host: Host the event relates to (if any)
  - Message: Human-readable description
  - Metadata: Key-value pairs for additional context

Subscriber:
  - Channel that receives Event pointers
  - Buffered (50 events) to handle bursts
  - Created via broker.Subscribe()
  - Closed via broker.Unsubscribe()

# Event Flow

Publish Flow:
 1. Publisher calls broker.Publish(event)
 2. Missing ID/timestamp filled in
 3. Event added to main event channel (non-blocking)
 4. Broadcast loop receives event
 5. Event sent to all subscriber channels
 6. Full subscriber buffers skip (no blocking)

Subscribe Flow:
 1. Subscriber calls broker.Subscribe()
 2. New buffered channel created
 3. Channel registered in subscriber map
 4. Subscriber receives events via channel

Unsubscribe Flow:
 1. Subscriber calls broker.Unsubscribe(channel)
 2. Channel removed from subscriber map
 3. Channel closed

# Usage

Creating and Starting Broker:

	import "github.com/stakeops/warden/pkg/events"

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

Subscribing to Events:

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
		}
	}()

Publishing Events:

	broker.Publish(events.NewEvent(
		events.EventOperationStarted,
		"osmosis-1",
		"pruning started",
	).WithHost("val-host-3").WithMetadata("job_id", "pruning_osmosis-1_1712345678"))

# Event Types Catalog

Health Events:

EventNodeUnhealthy:
  - Published when: Node transitions healthy → unhealthy
  - Metadata: reason (rpc_unreachable, catching_up, height_stuck)
  - Subscribers: API (SSE stream), alerting

EventNodeRecovered:
  - Published when: Node transitions unhealthy → healthy
  - Metadata: unhealthy_for (duration)
  - Subscribers: API (SSE stream), alerting

Alert Events:

EventAlertSent:
  - Published when: Webhook notification delivered
  - Metadata: severity, consecutive_failures
  - Subscribers: API (SSE stream)

Operation Events:

EventOperationStarted:
  - Published when: Operation dispatched to an agent
  - Metadata: kind, job_id, trigger (cron/manual/auto-restore)
  - Subscribers: API (SSE stream)

EventOperationCompleted:
  - Published when: Agent reports terminal success
  - Metadata: kind, job_id, duration
  - Subscribers: API (SSE stream)

EventOperationFailed:
  - Published when: Agent reports terminal failure or polling times out
  - Metadata: kind, job_id, error
  - Subscribers: API (SSE stream)

Maintenance Events:

EventMaintenanceStarted:
  - Published when: Maintenance window opens for a node
  - Metadata: reason
  - Subscribers: API (SSE stream)

EventMaintenanceEnded:
  - Published when: Maintenance window closes
  - Metadata: duration
  - Subscribers: API (SSE stream)

# Design Patterns

Non-Blocking Publish:
  - Publish sends to buffered channel
  - Returns immediately (no waiting)
  - Events may be dropped if buffer full
  - Trade-off: Throughput over guaranteed delivery

Fan-Out Pattern:
  - Single event broadcast to all subscribers
  - Each subscriber gets own channel
  - Independent processing rates
  - Full buffers skip to prevent blocking

Fire-and-Forget:
  - No acknowledgment from subscribers
  - No retry on delivery failure
  - Suitable for monitoring streams, not audit records
  - Durable history lives in pkg/storage, not here

# Limitations

Current Limitations:
  - In-memory only (no persistence)
  - No event replay or history
  - No guaranteed delivery (best effort)
  - No topic-based filtering (all events broadcast)

Workarounds:
  - Persistence: operation history is written to pkg/storage separately
  - Filtering: filter at subscriber side by event type

# Best Practices

Do:
  - Always defer broker.Unsubscribe(sub)
  - Process events asynchronously in goroutine
  - Filter events by type at subscriber
  - Start broker before publishing events

Don't:
  - Block in subscriber event loop
  - Rely on event delivery for audit trails
  - Forget to unsubscribe (causes leaks)

# See Also

  - pkg/manager for health and operation event publishing
  - pkg/storage for the durable operation history
  - Pub/sub pattern: https://en.wikipedia.org/wiki/Publish%E2%80%93subscribe_pattern
*/
package events
