/*
Package alerting implements Warden's progressive webhook alerting.

The alerting package keeps a per-node state machine over consecutive health
observations and emits webhooks on an escalating schedule: nothing for the
first two failed checks, a critical alert on the third, then follow-ups at
6h, 6h, 12h, and daily while the failure persists. A recovery webhook goes
out only if the span actually produced an alert.

# State Machine

Per node, over (previous, current) health:

	previous        current   action
	─────────────────────────────────────────────────────────────
	absent or true  true      no-op
	absent or true  false     initialize span; consecutive=1
	false           false     increment; emit when due
	false           true      recovery webhook iff any alert sent;
	                          clear state

Emission schedule on a continuing failure:

	alert #1   consecutive >= 3
	alert #2   6h  after #1
	alert #3   6h  after #2
	alert #4   12h after #3
	alert #5+  24h apart

# Delivery

WebhookNotifier posts the alert as JSON with a 10 second timeout. Delivery
failures are logged and counted but never alter the state machine; a failed
webhook still advances the schedule so a flaky receiver does not get
hammered every check cycle.

Payload:

	{
	  "timestamp":   "2024-04-01T12:02:00Z",
	  "alert_type":  "node_unhealthy",
	  "severity":    "critical",
	  "node_name":   "val-host-1-osmosis",
	  "server_host": "val-host-1",
	  "message":     "node val-host-1-osmosis has failed 3 consecutive health checks",
	  "details":     "rpc unreachable"
	}

# Usage

	notifier := alerting.NewWebhookNotifier(cfg.AlertWebhookURL)
	pipeline := alerting.NewPipeline(notifier)

	// per health observation, outside maintenance windows:
	if alert := pipeline.Observe(ctx, node, host, healthy, errMsg); alert != nil {
		broker.Publish(events.NewEvent(events.EventAlertSent, node, alert.Message))
	}

A nil notifier (empty webhook URL) disables emission entirely.

# Clock Injection

The pipeline reads time through an injected clock so the escalation schedule
is testable without sleeping. Tests replace the clock; production uses
time.Now.

# See Also

  - pkg/monitor for the health observations driving the pipeline
  - pkg/metrics for alert counters
*/
package alerting
