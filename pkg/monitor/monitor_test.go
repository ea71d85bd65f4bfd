package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stakeops/warden/pkg/alerting"
	"github.com/stakeops/warden/pkg/client"
	"github.com/stakeops/warden/pkg/config"
	"github.com/stakeops/warden/pkg/events"
	"github.com/stakeops/warden/pkg/storage"
	"github.com/stakeops/warden/pkg/types"
)

type probeResult struct {
	status *client.NodeStatus
	err    error
}

type fakeProber struct {
	mu        sync.Mutex
	responses []probeResult
	calls     int
}

func (p *fakeProber) Status(ctx context.Context, rpcURL string) (*client.NodeStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.calls
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	p.calls++
	r := p.responses[idx]
	if r.status == nil {
		return nil, r.err
	}
	status := *r.status
	return &status, r.err
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []*storage.HealthRecord
}

func (r *fakeRecorder) SaveHealthRecord(rec *storage.HealthRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	saved := *rec
	r.records = append(r.records, &saved)
	return nil
}

func (r *fakeRecorder) last() *storage.HealthRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records) == 0 {
		return nil
	}
	return r.records[len(r.records)-1]
}

func (r *fakeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

type fakeChecker struct {
	mu      sync.Mutex
	matched bool
	pattern string
	err     error
	calls   int
}

func (c *fakeChecker) CheckTriggers(ctx context.Context, req *types.TriggerCheckRequest) (bool, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.matched, c.pattern, c.err
}

type fakeRestorer struct {
	mu       sync.Mutex
	requests []*client.Request
	err      error
}

func (r *fakeRestorer) Dispatch(ctx context.Context, req *client.Request) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	return "job-1", r.err
}

func (r *fakeRestorer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

type fakeMaint struct {
	mu    sync.Mutex
	nodes map[string]bool
}

func (f *fakeMaint) InMaintenance(node string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nodes[node]
}

type fakeBroker struct {
	mu     sync.Mutex
	events []*events.Event
}

func (f *fakeBroker) Publish(event *events.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeBroker) eventTypes() []events.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]events.EventType, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

type captureNotifier struct {
	mu     sync.Mutex
	alerts []*types.Alert
}

func (n *captureNotifier) Send(ctx context.Context, alert *types.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	saved := *alert
	n.alerts = append(n.alerts, &saved)
	return nil
}

func testNode() *config.NodeConfig {
	return &config.NodeConfig{
		Name:        "val-host-1-osmosis",
		Host:        "val-host-1",
		Network:     "osmosis",
		RPCURL:      "http://127.0.0.1:26657",
		Enabled:     true,
		DeployPath:  "/opt/osmosis",
		ServiceName: "osmosisd",
		LogPath:     "/var/log/osmosis.log",
		BackupPath:  "/backups",
	}
}

func okStatus(height int64) probeResult {
	return probeResult{status: &client.NodeStatus{Height: height, ValidatorAddress: "AABB"}}
}

type monitorHarness struct {
	monitor  *Monitor
	node     *config.NodeConfig
	prober   *fakeProber
	recorder *fakeRecorder
	restorer *fakeRestorer
	broker   *fakeBroker
	maint    *fakeMaint
	checker  *fakeChecker
	notifier *captureNotifier
}

func newHarness(t *testing.T, responses ...probeResult) *monitorHarness {
	t.Helper()

	h := &monitorHarness{
		node:     testNode(),
		prober:   &fakeProber{responses: responses},
		recorder: &fakeRecorder{},
		restorer: &fakeRestorer{},
		broker:   &fakeBroker{},
		maint:    &fakeMaint{nodes: make(map[string]bool)},
		checker:  &fakeChecker{},
		notifier: &captureNotifier{},
	}
	h.monitor = New(&Config{
		Nodes:       []*config.NodeConfig{h.node},
		Interval:    time.Hour,
		RPCTimeout:  time.Second,
		Prober:      h.prober,
		Checkers:    map[string]TriggerChecker{"val-host-1": h.checker},
		Maintenance: h.maint,
		Recorder:    h.recorder,
		Pipeline:    alerting.NewPipeline(h.notifier),
		Restorer:    h.restorer,
		Broker:      h.broker,
		AutoRestore: config.AutoRestoreConfig{
			Enabled:         true,
			Triggers:        []string{"AppHash mismatch"},
			CooldownMinutes: 120,
		},
	})
	return h
}

func (h *monitorHarness) check() {
	h.monitor.checkNode(context.Background(), h.node)
}

func TestHealthyProgression(t *testing.T) {
	h := newHarness(t, okStatus(100), okStatus(101), okStatus(102))

	for i := 0; i < 3; i++ {
		h.check()
	}

	assert.Equal(t, 3, h.recorder.count())
	last := h.recorder.last()
	assert.True(t, last.Healthy)
	assert.Equal(t, int64(102), last.Height)
	assert.Equal(t, "AABB", last.ValidatorAddress)
	assert.Empty(t, h.broker.eventTypes())
	assert.True(t, h.monitor.Healthy(h.node.Name))
}

func TestStuckHeightToleratesTwoChecks(t *testing.T) {
	h := newHarness(t, okStatus(500), okStatus(500), okStatus(500), okStatus(500))

	h.check()
	assert.True(t, h.monitor.Healthy(h.node.Name), "first observation is healthy")

	h.check()
	assert.True(t, h.monitor.Healthy(h.node.Name), "second identical height still healthy")

	h.check()
	assert.False(t, h.monitor.Healthy(h.node.Name), "third identical height is a stall")
	assert.Contains(t, h.recorder.last().Error, "height stuck at 500")

	assert.Contains(t, h.broker.eventTypes(), events.EventNodeUnhealthy)
}

func TestStuckCounterResetsOnProgress(t *testing.T) {
	h := newHarness(t, okStatus(500), okStatus(500), okStatus(501), okStatus(501), okStatus(501))

	for i := 0; i < 4; i++ {
		h.check()
	}
	assert.True(t, h.monitor.Healthy(h.node.Name), "progress at check 3 resets the stall counter")

	h.check()
	assert.False(t, h.monitor.Healthy(h.node.Name))
}

func TestCatchingUpIsUnhealthy(t *testing.T) {
	h := newHarness(t, probeResult{status: &client.NodeStatus{Height: 100, CatchingUp: true}})

	h.check()
	assert.False(t, h.monitor.Healthy(h.node.Name))
	assert.Equal(t, "node is catching up", h.recorder.last().Error)
	assert.True(t, h.recorder.last().CatchingUp)
}

func TestUnreachableRPCIsUnhealthy(t *testing.T) {
	h := newHarness(t, probeResult{err: errors.New("connection refused")})

	h.check()
	assert.False(t, h.monitor.Healthy(h.node.Name))
	assert.Contains(t, h.recorder.last().Error, "rpc unreachable")
	assert.Contains(t, h.broker.eventTypes(), events.EventNodeUnhealthy)
}

func TestRecoveryPublishesEvent(t *testing.T) {
	h := newHarness(t,
		probeResult{err: errors.New("connection refused")},
		okStatus(200),
	)

	h.check()
	h.check()

	kinds := h.broker.eventTypes()
	assert.Contains(t, kinds, events.EventNodeUnhealthy)
	assert.Contains(t, kinds, events.EventNodeRecovered)
	assert.True(t, h.monitor.Healthy(h.node.Name))
}

func TestMaintenanceSuppressesAlertingAndRestore(t *testing.T) {
	h := newHarness(t, probeResult{err: errors.New("connection refused")})
	h.maint.nodes[h.node.Name] = true
	h.checker.matched = true
	h.checker.pattern = "AppHash mismatch"

	for i := 0; i < 4; i++ {
		h.check()
	}

	// History still accumulates, but nothing downstream fires.
	assert.Equal(t, 4, h.recorder.count())
	assert.Empty(t, h.broker.eventTypes())
	assert.Empty(t, h.notifier.alerts)
	assert.Equal(t, 0, h.restorer.count())
	assert.Equal(t, 0, h.checker.calls)
}

func TestThirdUnhealthyCheckAlerts(t *testing.T) {
	h := newHarness(t, probeResult{err: errors.New("connection refused")})

	h.check()
	h.check()
	assert.Empty(t, h.notifier.alerts, "first two failures stay silent")

	h.check()
	require.Len(t, h.notifier.alerts, 1)
	assert.Equal(t, types.SeverityCritical, h.notifier.alerts[0].Severity)
	assert.Contains(t, h.broker.eventTypes(), events.EventAlertSent)
}

func TestAutoRestoreDispatchesOnTrigger(t *testing.T) {
	h := newHarness(t, probeResult{err: errors.New("connection refused")})
	h.checker.matched = true
	h.checker.pattern = "AppHash mismatch"

	h.check()

	require.Equal(t, 1, h.restorer.count())
	req := h.restorer.requests[0]
	assert.Equal(t, types.OperationSnapshotRestore, req.Kind)
	assert.Equal(t, "auto-restore", req.StartedBy)
	assert.Equal(t, h.node.Name, req.Node)
	require.NotNil(t, req.SnapshotRestore)
	assert.Equal(t, "osmosis", req.SnapshotRestore.Network)
	assert.Empty(t, req.SnapshotRestore.SnapshotPath, "agent resolves the newest archive")
}

func TestAutoRestoreHonorsCooldown(t *testing.T) {
	h := newHarness(t, probeResult{err: errors.New("connection refused")})
	h.checker.matched = true

	current := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	h.monitor.now = func() time.Time { return current }

	h.check()
	require.Equal(t, 1, h.restorer.count())

	// Inside the 2 h cooldown: the trigger is not even checked.
	current = current.Add(30 * time.Minute)
	h.check()
	assert.Equal(t, 1, h.restorer.count())
	assert.Equal(t, 1, h.checker.calls)

	// Past the cooldown the restore fires again.
	current = current.Add(2 * time.Hour)
	h.check()
	assert.Equal(t, 2, h.restorer.count())
}

func TestAutoRestoreSkipsWhenNoMatch(t *testing.T) {
	h := newHarness(t, probeResult{err: errors.New("connection refused")})
	h.checker.matched = false

	h.check()
	assert.Equal(t, 1, h.checker.calls)
	assert.Equal(t, 0, h.restorer.count())
}

func TestAutoRestoreDisabled(t *testing.T) {
	h := newHarness(t, probeResult{err: errors.New("connection refused")})
	h.monitor.cfg.AutoRestore.Enabled = false
	h.checker.matched = true

	h.check()
	assert.Equal(t, 0, h.checker.calls)
	assert.Equal(t, 0, h.restorer.count())
}

func TestAutoRestoreDispatchFailureSkipsCooldown(t *testing.T) {
	h := newHarness(t, probeResult{err: errors.New("connection refused")})
	h.checker.matched = true
	h.restorer.err = &types.BusyError{Target: h.node.Name, Kind: types.OperationPruning, Since: time.Now()}

	h.check()
	require.Equal(t, 1, h.restorer.count())

	// The failed dispatch must not start the cooldown clock.
	h.restorer.err = nil
	h.check()
	assert.Equal(t, 2, h.restorer.count())
}

func TestSnapshotReportsTrackedNodes(t *testing.T) {
	h := newHarness(t, okStatus(700))

	h.check()
	snap := h.monitor.Snapshot()
	require.Contains(t, snap, h.node.Name)
	assert.True(t, snap[h.node.Name].Healthy)
	assert.Equal(t, int64(700), snap[h.node.Name].BlockHeight)
}

func TestStartStopLoop(t *testing.T) {
	h := newHarness(t, okStatus(100), okStatus(101), okStatus(102), okStatus(103))
	h.monitor.cfg.Interval = 20 * time.Millisecond

	h.monitor.Start()
	require.Eventually(t, func() bool { return h.recorder.count() >= 2 },
		2*time.Second, 10*time.Millisecond)
	h.monitor.Stop()

	after := h.recorder.count()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, h.recorder.count(), "no checks after Stop")
}
