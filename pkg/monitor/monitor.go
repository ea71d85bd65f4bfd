package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stakeops/warden/pkg/alerting"
	"github.com/stakeops/warden/pkg/client"
	"github.com/stakeops/warden/pkg/config"
	"github.com/stakeops/warden/pkg/events"
	"github.com/stakeops/warden/pkg/log"
	"github.com/stakeops/warden/pkg/metrics"
	"github.com/stakeops/warden/pkg/storage"
	"github.com/stakeops/warden/pkg/types"
)

// stuckHeightChecks is how many consecutive identical heights mark a
// node unhealthy. The first two checks of a stall tolerate RPC jitter.
const stuckHeightChecks = 3

// StatusProber fetches sync status from a node's RPC endpoint.
// Implemented by client.RPC.
type StatusProber interface {
	Status(ctx context.Context, rpcURL string) (*client.NodeStatus, error)
}

// TriggerChecker scans the tail of a node log for restore trigger
// patterns. Implemented by client.Client.
type TriggerChecker interface {
	CheckTriggers(ctx context.Context, req *types.TriggerCheckRequest) (bool, string, error)
}

// MaintenanceChecker reports whether a node has an open window.
// Implemented by the manager's maintenance tracker.
type MaintenanceChecker interface {
	InMaintenance(node string) bool
}

// Recorder persists health observations. Implemented by storage.Store.
type Recorder interface {
	SaveHealthRecord(rec *storage.HealthRecord) error
}

// Restorer dispatches the automatic snapshot restore. Implemented by
// client.Dispatcher.
type Restorer interface {
	Dispatch(ctx context.Context, req *client.Request) (string, error)
}

// Publisher fans events out to subscribers. Implemented by events.Broker.
type Publisher interface {
	Publish(event *events.Event)
}

// Config wires the monitor's collaborators
type Config struct {
	Nodes      []*config.NodeConfig
	Interval   time.Duration
	RPCTimeout time.Duration

	Prober      StatusProber
	Checkers    map[string]TriggerChecker
	Maintenance MaintenanceChecker
	Recorder    Recorder
	Pipeline    *alerting.Pipeline
	Restorer    Restorer
	Broker      Publisher

	AutoRestore config.AutoRestoreConfig
}

// nodeState is the monitor's memory of one node between checks
type nodeState struct {
	lastHeight  int64
	stuckChecks int
	healthy     bool
	observed    bool
	lastRestore time.Time
}

// observation is the outcome of a single health check
type observation struct {
	healthy         bool
	reason          string
	becameUnhealthy bool
	becameHealthy   bool
}

// Monitor polls every enabled node on a fixed interval: probe the
// node's RPC, compute health, persist the record, then drive alerting
// and auto-restore unless the node is in maintenance.
type Monitor struct {
	cfg    *Config
	logger zerolog.Logger

	mu    sync.RWMutex
	state map[string]*nodeState

	now    func() time.Time
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a monitor
func New(cfg *Config) *Monitor {
	if cfg.Interval == 0 {
		cfg.Interval = 90 * time.Second
	}
	if cfg.RPCTimeout == 0 {
		cfg.RPCTimeout = 10 * time.Second
	}
	return &Monitor{
		cfg:    cfg,
		logger: log.WithComponent("monitor"),
		state:  make(map[string]*nodeState),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

// Start launches the polling loop. The first pass runs immediately.
func (m *Monitor) Start() {
	m.logger.Info().
		Int("nodes", len(m.cfg.Nodes)).
		Dur("interval", m.cfg.Interval).
		Bool("auto_restore", m.cfg.AutoRestore.Enabled).
		Msg("Starting health monitor")

	m.wg.Add(1)
	go m.loop()
}

// Stop halts the polling loop and waits for in-flight checks.
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	m.logger.Info().Msg("Health monitor stopped")
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.checkAll()
	for {
		select {
		case <-ticker.C:
			m.checkAll()
		case <-m.stopCh:
			return
		}
	}
}

// checkAll probes every node concurrently. Nodes are independent; one
// slow RPC must not delay the others.
func (m *Monitor) checkAll() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Interval)
	defer cancel()

	var wg sync.WaitGroup
	for _, node := range m.cfg.Nodes {
		wg.Add(1)
		go func(n *config.NodeConfig) {
			defer wg.Done()
			m.checkNode(ctx, n)
		}(node)
	}
	wg.Wait()
}

func (m *Monitor) checkNode(ctx context.Context, node *config.NodeConfig) {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.RPCTimeout)
	status, probeErr := m.cfg.Prober.Status(probeCtx, node.RPCURL)
	cancel()

	obs := m.evaluate(node.Name, status, probeErr)

	record := &storage.HealthRecord{
		NodeName: node.Name,
		Healthy:  obs.healthy,
		Error:    obs.reason,
	}
	if status != nil {
		record.Height = status.Height
		record.CatchingUp = status.CatchingUp
		record.ValidatorAddress = status.ValidatorAddress
	}
	if err := m.cfg.Recorder.SaveHealthRecord(record); err != nil {
		m.logger.Error().Err(err).Str("node", node.Name).Msg("Health record save failed")
	}

	outcome := "healthy"
	healthyGauge := 1.0
	if !obs.healthy {
		outcome = "unhealthy"
		healthyGauge = 0
	}
	metrics.HealthChecksTotal.WithLabelValues(node.Name, outcome).Inc()
	metrics.NodesHealthy.WithLabelValues(node.Name, node.Network).Set(healthyGauge)
	if status != nil {
		metrics.NodeBlockHeight.WithLabelValues(node.Name, node.Network).Set(float64(status.Height))
	}

	if !obs.healthy {
		m.logger.Warn().
			Str("node", node.Name).
			Str("reason", obs.reason).
			Msg("Node unhealthy")
	}

	// An open maintenance window means the node is expected to be
	// down. Record history, but no alerts and no auto-restore.
	if m.cfg.Maintenance != nil && m.cfg.Maintenance.InMaintenance(node.Name) {
		m.logger.Debug().Str("node", node.Name).Msg("Node in maintenance, suppressing alerting")
		return
	}

	if obs.becameUnhealthy {
		m.cfg.Broker.Publish(events.NewEvent(events.EventNodeUnhealthy, node.Name, obs.reason).
			WithHost(node.Host))
	}
	if obs.becameHealthy {
		m.cfg.Broker.Publish(events.NewEvent(events.EventNodeRecovered, node.Name, "node recovered").
			WithHost(node.Host))
	}

	if m.cfg.Pipeline != nil {
		if alert := m.cfg.Pipeline.Observe(ctx, node.Name, node.Host, obs.healthy, obs.reason); alert != nil {
			m.cfg.Broker.Publish(events.NewEvent(events.EventAlertSent, node.Name, alert.Message).
				WithHost(node.Host).
				WithMetadata("severity", string(alert.Severity)).
				WithMetadata("alert_type", alert.AlertType))
		}
	}

	if !obs.healthy {
		m.maybeAutoRestore(ctx, node)
	}
}

// evaluate folds one probe result into the node's state and returns
// the health verdict plus any edge transition.
func (m *Monitor) evaluate(name string, status *client.NodeStatus, probeErr error) observation {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.state[name]
	if !ok {
		s = &nodeState{}
		m.state[name] = s
	}

	var obs observation
	switch {
	case probeErr != nil:
		obs.reason = fmt.Sprintf("rpc unreachable: %v", probeErr)

	default:
		// Height bookkeeping applies to every successful probe. A
		// strictly greater height resets the stall counter.
		if !s.observed || status.Height > s.lastHeight {
			s.stuckChecks = 1
		} else {
			s.stuckChecks++
		}
		s.lastHeight = status.Height

		switch {
		case status.CatchingUp:
			obs.reason = "node is catching up"
		case s.stuckChecks >= stuckHeightChecks:
			obs.reason = fmt.Sprintf("height stuck at %d across %d checks", status.Height, s.stuckChecks)
		default:
			obs.healthy = true
		}
	}

	obs.becameUnhealthy = !obs.healthy && (!s.observed || s.healthy)
	obs.becameHealthy = obs.healthy && s.observed && !s.healthy

	s.healthy = obs.healthy
	s.observed = true
	return obs
}

// maybeAutoRestore checks the node log for trigger patterns and
// dispatches a snapshot restore when one matches outside the cooldown.
func (m *Monitor) maybeAutoRestore(ctx context.Context, node *config.NodeConfig) {
	ar := m.cfg.AutoRestore
	if !ar.Enabled || len(ar.Triggers) == 0 || node.LogPath == "" || m.cfg.Restorer == nil {
		return
	}
	checker, ok := m.cfg.Checkers[node.Host]
	if !ok {
		return
	}

	cooldown := time.Duration(ar.CooldownMinutes) * time.Minute
	m.mu.RLock()
	lastRestore := m.state[node.Name].lastRestore
	m.mu.RUnlock()
	if !lastRestore.IsZero() && m.now().Sub(lastRestore) < cooldown {
		m.logger.Debug().
			Str("node", node.Name).
			Time("last_restore", lastRestore).
			Msg("Auto-restore in cooldown")
		return
	}

	matched, pattern, err := checker.CheckTriggers(ctx, &types.TriggerCheckRequest{
		LogPath:  node.LogPath,
		Patterns: ar.Triggers,
	})
	if err != nil {
		m.logger.Warn().Err(err).Str("node", node.Name).Msg("Trigger check failed")
		return
	}
	if !matched {
		return
	}

	m.logger.Warn().
		Str("node", node.Name).
		Str("pattern", pattern).
		Msg("Restore trigger matched, dispatching snapshot restore")

	_, err = m.cfg.Restorer.Dispatch(ctx, &client.Request{
		Node:      node.Name,
		Host:      node.Host,
		Kind:      types.OperationSnapshotRestore,
		StartedBy: "auto-restore",
		SnapshotRestore: &types.SnapshotRestoreRequest{
			NodeName:    node.Name,
			Network:     node.Network,
			DeployPath:  node.DeployPath,
			BackupPath:  node.BackupPath,
			ServiceName: node.ServiceName,
			LogPath:     node.LogPath,
		},
	})
	if err != nil {
		m.logger.Error().Err(err).Str("node", node.Name).Msg("Auto-restore dispatch failed")
		return
	}

	m.mu.Lock()
	m.state[node.Name].lastRestore = m.now()
	m.mu.Unlock()
}

// Healthy reports the last computed health for a node. Unknown nodes
// and nodes not yet checked report false.
func (m *Monitor) Healthy(node string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.state[node]
	return ok && s.observed && s.healthy
}

// Snapshot returns the last computed health of every tracked node.
func (m *Monitor) Snapshot() map[string]types.NodeHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]types.NodeHealth, len(m.state))
	for name, s := range m.state {
		if !s.observed {
			continue
		}
		out[name] = types.NodeHealth{
			NodeName:    name,
			Healthy:     s.healthy,
			BlockHeight: s.lastHeight,
		}
	}
	return out
}
