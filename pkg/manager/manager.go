package manager

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stakeops/warden/pkg/alerting"
	"github.com/stakeops/warden/pkg/client"
	"github.com/stakeops/warden/pkg/config"
	"github.com/stakeops/warden/pkg/events"
	"github.com/stakeops/warden/pkg/log"
	"github.com/stakeops/warden/pkg/metrics"
	"github.com/stakeops/warden/pkg/monitor"
	"github.com/stakeops/warden/pkg/scheduler"
	"github.com/stakeops/warden/pkg/storage"
)

// Janitor cadence and retention horizons. An operation entry older
// than the retention means its polling goroutine died with the
// manager; the sweep releases the node and fails the audit row.
const (
	opSweepInterval     = time.Hour
	opRetention         = 24 * time.Hour
	windowSweepInterval = 6 * time.Hour
	windowRetention     = 48 * time.Hour
)

// Manager is the control-plane process. It owns the audit store, the
// event broker, both trackers, one HTTP client per agent host, and the
// background components driving them: health monitor, cron scheduler,
// dispatcher, metrics sampler, janitors, and the operator API.
type Manager struct {
	cfg     *config.Config
	store   *storage.Store
	broker  *events.Broker
	ops     *OperationTracker
	windows *MaintenanceTracker

	clients    map[string]*client.Client
	dispatcher *client.Dispatcher
	pipeline   *alerting.Pipeline
	monitor    *monitor.Monitor
	scheduler  *scheduler.Scheduler
	collector  *metrics.Collector

	http   *http.Server
	logger zerolog.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New assembles a manager from loaded configuration. Construction
// opens the audit store, builds one client per host, and validates
// every cron expression; nothing dials an agent until Start.
func New(cfg *config.Config) (*Manager, error) {
	store, err := storage.Open(cfg.Manager.DatabasePath)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:     cfg,
		store:   store,
		broker:  events.NewBroker(),
		ops:     NewOperationTracker(),
		windows: NewMaintenanceTracker(),
		clients: make(map[string]*client.Client),
		logger:  log.WithComponent("manager"),
		stopCh:  make(chan struct{}),
	}

	var notifier alerting.Notifier
	if cfg.Manager.AlertWebhookURL != "" {
		notifier = alerting.NewWebhookNotifier(cfg.Manager.AlertWebhookURL)
	}
	m.pipeline = alerting.NewPipeline(notifier)

	rpcTimeout := time.Duration(cfg.Manager.RPCTimeoutSeconds) * time.Second
	checkers := make(map[string]monitor.TriggerChecker)
	for host, hc := range cfg.Hosts {
		key, err := cfg.APIKey(hc.Server.APIKeyRef)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("host %s: %w", host, err)
		}
		agent := client.New(&client.Config{
			Host:    host,
			BaseURL: hc.Server.AgentURL(),
			APIKey:  key,
			Timeout: time.Duration(hc.Server.RequestTimeoutSeconds) * time.Second,
		})
		m.clients[host] = agent
		checkers[host] = agent
	}

	m.dispatcher = client.NewDispatcher(&client.DispatcherConfig{
		Clients:    m.clients,
		Operations: m.ops,
		Windows:    m.windows,
		Audit:      store,
		Broker:     m.broker,
		RPCTimeout: rpcTimeout,
	})

	m.monitor = monitor.New(&monitor.Config{
		Nodes:       cfg.EnabledNodes(),
		Interval:    time.Duration(cfg.Manager.CheckIntervalSeconds) * time.Second,
		RPCTimeout:  rpcTimeout,
		Prober:      client.NewRPC(rpcTimeout),
		Checkers:    checkers,
		Maintenance: m.windows,
		Recorder:    store,
		Pipeline:    m.pipeline,
		Restorer:    m.dispatcher,
		Broker:      m.broker,
		AutoRestore: cfg.AutoRestore,
	})

	sched, err := scheduler.New(&scheduler.Config{
		Nodes:       cfg.EnabledNodes(),
		Hermes:      cfg.AllHermes(),
		Maintenance: m.windows,
		Dispatcher:  m.dispatcher,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	m.scheduler = sched

	m.collector = metrics.NewCollector(m)

	apiKey, err := cfg.ManagerAPIKey()
	if err != nil {
		store.Close()
		return nil, err
	}
	m.http = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Manager.Host, cfg.Manager.Port),
		Handler: m.router(apiKey),
	}

	return m, nil
}

// Start launches every background component and serves the operator
// API. It blocks until Stop shuts the listener down.
func (m *Manager) Start() error {
	m.broker.Start()
	m.collector.Start()
	m.monitor.Start()
	m.scheduler.Start()

	metrics.SetComponent("storage", true, "")
	metrics.SetComponent("monitor", true, "")
	metrics.SetComponent("scheduler", true, "")

	m.wg.Add(1)
	go m.janitorLoop()

	m.logger.Info().
		Str("addr", m.http.Addr).
		Int("hosts", len(m.clients)).
		Int("nodes", len(m.cfg.EnabledNodes())).
		Int("schedules", m.scheduler.ScheduleCount()).
		Msg("manager started")

	if err := m.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("manager api: %w", err)
	}
	return nil
}

// Stop shuts components down in reverse start order: the listener
// first so no new work arrives, then scheduler and monitor, the
// janitor, the sampler, the broker, and finally the audit store.
// In-flight operation polls keep running until the process exits.
func (m *Manager) Stop(ctx context.Context) error {
	var firstErr error
	if err := m.http.Shutdown(ctx); err != nil {
		firstErr = err
	}

	m.scheduler.Stop()
	m.monitor.Stop()

	close(m.stopCh)
	m.wg.Wait()

	m.collector.Stop()
	m.broker.Stop()

	if err := m.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		return firstErr
	}
	m.logger.Info().Msg("manager stopped")
	return nil
}

// ActiveOperationCount implements metrics.FleetSource.
func (m *Manager) ActiveOperationCount() int {
	return m.ops.Count()
}

// ActiveWindowCount implements metrics.FleetSource.
func (m *Manager) ActiveWindowCount() int {
	return m.windows.Count()
}

func (m *Manager) janitorLoop() {
	defer m.wg.Done()

	opTicker := time.NewTicker(opSweepInterval)
	windowTicker := time.NewTicker(windowSweepInterval)
	defer opTicker.Stop()
	defer windowTicker.Stop()

	for {
		select {
		case <-opTicker.C:
			m.sweepOperations()
		case <-windowTicker.C:
			m.sweepWindows()
		case <-m.stopCh:
			return
		}
	}
}

// sweepOperations reaps tracker entries past the retention horizon and
// fails audit rows still marked running from before it.
func (m *Manager) sweepOperations() {
	m.ops.Cleanup(opRetention)

	reaped, err := m.store.FailStuckOperations(time.Now().UTC().Add(-opRetention))
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to reap stuck audit rows")
		return
	}
	if reaped > 0 {
		m.logger.Warn().Int64("rows", reaped).Msg("marked stuck operations failed")
	}
}

func (m *Manager) sweepWindows() {
	if removed := m.windows.Cleanup(windowRetention); removed > 0 {
		m.logger.Warn().Int("windows", removed).Msg("force-closed expired maintenance windows")
	}
}
