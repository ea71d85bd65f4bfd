package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stakeops/warden/pkg/types"
)

type captureNotifier struct {
	mu       sync.Mutex
	alerts   []*types.Alert
	attempts int
	fail     bool
}

func (c *captureNotifier) Send(_ context.Context, alert *types.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.attempts++
	if c.fail {
		return errors.New("receiver down")
	}
	c.alerts = append(c.alerts, alert)
	return nil
}

func (c *captureNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.alerts)
}

// newTestPipeline returns a pipeline on a simulated clock plus the advance func
func newTestPipeline(notifier Notifier) (*Pipeline, func(time.Duration)) {
	current := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	p := NewPipeline(notifier)
	p.now = func() time.Time { return current }
	return p, func(d time.Duration) { current = current.Add(d) }
}

func TestProgressiveAlertSchedule(t *testing.T) {
	notifier := &captureNotifier{}
	p, advance := newTestPipeline(notifier)
	ctx := context.Background()

	observe := func() *types.Alert {
		return p.Observe(ctx, "node-X", "val-host-1", false, "rpc unreachable")
	}

	// One-minute spacing: no webhook until the third consecutive failure
	assert.Nil(t, observe())
	advance(time.Minute)
	assert.Nil(t, observe())
	assert.Equal(t, 0, notifier.count())

	advance(time.Minute)
	first := observe()
	require.NotNil(t, first)
	assert.Equal(t, 1, notifier.count())
	assert.Equal(t, AlertTypeNodeUnhealthy, first.AlertType)
	assert.Equal(t, types.SeverityCritical, first.Severity)
	assert.Equal(t, "node-X", first.NodeName)
	assert.Equal(t, "val-host-1", first.ServerHost)
	assert.Contains(t, first.Message, "3 consecutive")
	assert.Equal(t, "rpc unreachable", first.Details)

	// Still inside the 6h window: continuing failures stay quiet
	advance(time.Minute)
	assert.Nil(t, observe())
	advance(5 * time.Hour)
	assert.Nil(t, observe())
	assert.Equal(t, 1, notifier.count())

	// Second alert at 6h, third at +6h, fourth at +12h, fifth at +24h
	advance(59 * time.Minute)
	require.NotNil(t, observe())
	assert.Equal(t, 2, notifier.count())

	advance(6 * time.Hour)
	require.NotNil(t, observe())
	assert.Equal(t, 3, notifier.count())

	advance(6 * time.Hour)
	assert.Nil(t, observe(), "fourth alert needs 12h, not 6h")
	advance(6 * time.Hour)
	require.NotNil(t, observe())
	assert.Equal(t, 4, notifier.count())

	advance(12 * time.Hour)
	assert.Nil(t, observe(), "fifth alert needs 24h, not 12h")
	advance(12 * time.Hour)
	require.NotNil(t, observe())
	assert.Equal(t, 5, notifier.count())
}

func TestTransientFailureStaysSilent(t *testing.T) {
	notifier := &captureNotifier{}
	p, advance := newTestPipeline(notifier)
	ctx := context.Background()

	assert.Nil(t, p.Observe(ctx, "node-X", "val-host-1", false, "rpc unreachable"))
	advance(time.Minute)
	assert.Nil(t, p.Observe(ctx, "node-X", "val-host-1", false, "rpc unreachable"))
	advance(time.Minute)

	// Recovery before the first alert: no recovery webhook either
	assert.Nil(t, p.Observe(ctx, "node-X", "val-host-1", true, ""))
	assert.Equal(t, 0, notifier.count())
	assert.Equal(t, 0, p.ActiveSpans())
}

func TestRecoveryAfterPersistentFailure(t *testing.T) {
	notifier := &captureNotifier{}
	p, advance := newTestPipeline(notifier)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p.Observe(ctx, "node-X", "val-host-1", false, "catching up")
		advance(time.Minute)
	}
	require.Equal(t, 1, notifier.count())

	recovery := p.Observe(ctx, "node-X", "val-host-1", true, "")
	require.NotNil(t, recovery)
	assert.Equal(t, 2, notifier.count())
	assert.Equal(t, AlertTypeNodeRecovered, recovery.AlertType)
	assert.Equal(t, types.SeverityRecovery, recovery.Severity)
	assert.Contains(t, recovery.Message, "recovered after")
	assert.Equal(t, 0, p.ActiveSpans())
}

func TestNodesTrackedIndependently(t *testing.T) {
	notifier := &captureNotifier{}
	p, advance := newTestPipeline(notifier)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p.Observe(ctx, "node-A", "val-host-1", false, "down")
		p.Observe(ctx, "node-B", "val-host-2", false, "down")
		advance(time.Minute)
	}

	require.Equal(t, 2, notifier.count())
	assert.Equal(t, 2, p.ActiveSpans())

	names := map[string]bool{}
	for _, alert := range notifier.alerts {
		names[alert.NodeName] = true
	}
	assert.True(t, names["node-A"])
	assert.True(t, names["node-B"])
}

func TestDeliveryFailureDoesNotRescheduleEarly(t *testing.T) {
	notifier := &captureNotifier{fail: true}
	p, advance := newTestPipeline(notifier)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.Nil(t, p.Observe(ctx, "node-X", "val-host-1", false, "down"))
		advance(time.Minute)
	}
	assert.Equal(t, 1, notifier.attempts)

	// The failed delivery still counts as alert #1; the next attempt
	// waits for the 6h interval instead of firing every observation.
	advance(time.Minute)
	assert.Nil(t, p.Observe(ctx, "node-X", "val-host-1", false, "down"))
	assert.Equal(t, 1, notifier.attempts)

	advance(6 * time.Hour)
	p.Observe(ctx, "node-X", "val-host-1", false, "down")
	assert.Equal(t, 2, notifier.attempts)
}

func TestNilNotifierDisablesEmission(t *testing.T) {
	p, advance := newTestPipeline(nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		assert.Nil(t, p.Observe(ctx, "node-X", "val-host-1", false, "down"))
		advance(time.Minute)
	}
	assert.Nil(t, p.Observe(ctx, "node-X", "val-host-1", true, ""))
}

func TestWebhookNotifierPostsPayload(t *testing.T) {
	var received types.Alert
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL)
	alert := &types.Alert{
		Timestamp:  time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC),
		AlertType:  AlertTypeNodeUnhealthy,
		Severity:   types.SeverityCritical,
		NodeName:   "node-X",
		ServerHost: "val-host-1",
		Message:    "node node-X has failed 3 consecutive health checks",
		Details:    "rpc unreachable",
	}

	require.NoError(t, notifier.Send(context.Background(), alert))
	assert.Equal(t, "node_unhealthy", received.AlertType)
	assert.Equal(t, types.SeverityCritical, received.Severity)
	assert.Equal(t, "node-X", received.NodeName)
	assert.Equal(t, "val-host-1", received.ServerHost)
	assert.Equal(t, "rpc unreachable", received.Details)
}

func TestWebhookNotifierErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL)
	err := notifier.Send(context.Background(), &types.Alert{NodeName: "node-X"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
