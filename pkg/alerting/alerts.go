package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stakeops/warden/pkg/log"
	"github.com/stakeops/warden/pkg/metrics"
	"github.com/stakeops/warden/pkg/types"
)

// Alert types carried in webhook payloads
const (
	AlertTypeNodeUnhealthy = "node_unhealthy"
	AlertTypeNodeRecovered = "node_recovered"
)

// firstAlertThreshold is the number of consecutive failed checks before the
// first webhook goes out. Checks 1 and 2 of a stall tolerate jitter.
const firstAlertThreshold = 3

// Notifier delivers alerts to an external receiver
type Notifier interface {
	Send(ctx context.Context, alert *types.Alert) error
}

// alertState tracks one node's progress through an unhealthy span
type alertState struct {
	firstUnhealthyAt time.Time
	lastAlertAt      time.Time
	alertCount       int
	consecutive      int
	everAlerted      bool
}

// Pipeline is a per-node alert state machine. State entries exist only while
// the last observed health is false; recovery deletes them.
type Pipeline struct {
	mu       sync.RWMutex
	states   map[string]*alertState
	notifier Notifier
	now      func() time.Time
}

// NewPipeline creates an alert pipeline. A nil notifier disables emission
// (the state machine still runs so recovery stays silent).
func NewPipeline(notifier Notifier) *Pipeline {
	return &Pipeline{
		states:   make(map[string]*alertState),
		notifier: notifier,
		now:      time.Now,
	}
}

// Observe drives the state machine with one health observation and returns
// the alert that was delivered, if any.
func (p *Pipeline) Observe(ctx context.Context, node, host string, healthy bool, observedErr string) *types.Alert {
	alert := p.transition(node, host, healthy, observedErr)
	if alert == nil {
		return nil
	}
	return p.emit(ctx, alert)
}

// transition applies the observation under the lock and decides whether an
// alert is due. Delivery happens outside the lock.
func (p *Pipeline) transition(node, host string, healthy bool, observedErr string) *types.Alert {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	state, exists := p.states[node]

	if healthy {
		if !exists {
			return nil
		}
		delete(p.states, node)
		if !state.everAlerted {
			return nil
		}
		downFor := now.Sub(state.firstUnhealthyAt).Round(time.Second)
		return &types.Alert{
			Timestamp:  now.UTC(),
			AlertType:  AlertTypeNodeRecovered,
			Severity:   types.SeverityRecovery,
			NodeName:   node,
			ServerHost: host,
			Message:    fmt.Sprintf("node %s recovered after %s", node, downFor),
		}
	}

	if !exists {
		p.states[node] = &alertState{
			firstUnhealthyAt: now,
			consecutive:      1,
		}
		return nil
	}

	state.consecutive++

	due := false
	if !state.everAlerted {
		due = state.consecutive >= firstAlertThreshold
	} else {
		due = now.Sub(state.lastAlertAt) >= nextAlertInterval(state.alertCount+1)
	}
	if !due {
		return nil
	}

	state.everAlerted = true
	state.alertCount++
	state.lastAlertAt = now

	return &types.Alert{
		Timestamp:  now.UTC(),
		AlertType:  AlertTypeNodeUnhealthy,
		Severity:   types.SeverityCritical,
		NodeName:   node,
		ServerHost: host,
		Message:    fmt.Sprintf("node %s has failed %d consecutive health checks", node, state.consecutive),
		Details:    observedErr,
	}
}

// emit delivers the alert. Delivery failures are logged and dropped; the
// state machine has already advanced.
func (p *Pipeline) emit(ctx context.Context, alert *types.Alert) *types.Alert {
	if p.notifier == nil {
		return nil
	}

	logger := log.WithComponent("alerting")
	if err := p.notifier.Send(ctx, alert); err != nil {
		metrics.AlertDeliveryFailures.Inc()
		logger.Error().
			Err(err).
			Str("node", alert.NodeName).
			Str("alert_type", alert.AlertType).
			Msg("Webhook delivery failed")
		return nil
	}

	metrics.AlertsSentTotal.WithLabelValues(string(alert.Severity)).Inc()
	logger.Info().
		Str("node", alert.NodeName).
		Str("alert_type", alert.AlertType).
		Str("severity", string(alert.Severity)).
		Msg("Alert sent")
	return alert
}

// nextAlertInterval returns the minimum gap before alert number n goes out.
// The sequence escalates: 6h, 6h, 12h, then daily.
func nextAlertInterval(n int) time.Duration {
	switch {
	case n <= 3:
		return 6 * time.Hour
	case n == 4:
		return 12 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// ActiveSpans returns the number of nodes currently in an unhealthy span
func (p *Pipeline) ActiveSpans() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.states)
}
