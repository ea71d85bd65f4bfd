package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/stakeops/warden/pkg/client"
	"github.com/stakeops/warden/pkg/config"
	"github.com/stakeops/warden/pkg/log"
	"github.com/stakeops/warden/pkg/metrics"
	"github.com/stakeops/warden/pkg/types"
)

// scheduleParser accepts the six-field form (seconds first) plus the
// @every / @daily descriptors.
var scheduleParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule validates a cron expression without registering it.
func ParseSchedule(expr string) error {
	_, err := scheduleParser.Parse(expr)
	return err
}

// MaintenanceChecker reports whether a target has an open window.
// Implemented by the manager's maintenance tracker.
type MaintenanceChecker interface {
	InMaintenance(node string) bool
}

// Dispatcher starts operations. Implemented by client.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *client.Request) (string, error)
}

// Config wires the scheduler's collaborators
type Config struct {
	Nodes       []*config.NodeConfig
	Hermes      []*config.HermesConfig
	Maintenance MaintenanceChecker
	Dispatcher  Dispatcher
}

// Scheduler fires maintenance operations at their configured times.
// Schedules come from node config (pruning, snapshot) and hermes
// config (restart); expressions are six-field cron in the manager's
// local timezone.
type Scheduler struct {
	cfg     *Config
	cron    *cron.Cron
	logger  zerolog.Logger
	entries int
}

// New builds a scheduler and registers every configured schedule.
// A malformed cron expression is a config error.
func New(cfg *Config) (*Scheduler, error) {
	logger := log.WithComponent("scheduler")
	s := &Scheduler{
		cfg: cfg,
		cron: cron.New(
			cron.WithParser(scheduleParser),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger: logger})),
		),
		logger: logger,
	}
	if err := s.register(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) register() error {
	for _, node := range s.cfg.Nodes {
		node := node
		if node.PruningSchedule != "" {
			if err := s.add(node.PruningSchedule, func() { s.firePruning(node) }); err != nil {
				return fmt.Errorf("%w: node %s pruning schedule %q: %v",
					types.ErrConfigInvalid, node.Name, node.PruningSchedule, err)
			}
			s.logger.Debug().Str("node", node.Name).Str("schedule", node.PruningSchedule).Msg("Registered pruning schedule")
		}
		if node.SnapshotSchedule != "" {
			if err := s.add(node.SnapshotSchedule, func() { s.fireSnapshot(node) }); err != nil {
				return fmt.Errorf("%w: node %s snapshot schedule %q: %v",
					types.ErrConfigInvalid, node.Name, node.SnapshotSchedule, err)
			}
			s.logger.Debug().Str("node", node.Name).Str("schedule", node.SnapshotSchedule).Msg("Registered snapshot schedule")
		}
	}

	for _, hermes := range s.cfg.Hermes {
		hermes := hermes
		if hermes.RestartSchedule == "" {
			continue
		}
		if err := s.add(hermes.RestartSchedule, func() { s.fireHermesRestart(hermes) }); err != nil {
			return fmt.Errorf("%w: hermes %s restart schedule %q: %v",
				types.ErrConfigInvalid, hermes.Name, hermes.RestartSchedule, err)
		}
		s.logger.Debug().Str("hermes", hermes.Name).Str("schedule", hermes.RestartSchedule).Msg("Registered hermes restart schedule")
	}
	return nil
}

func (s *Scheduler) add(expr string, fn func()) error {
	if _, err := s.cron.AddFunc(expr, fn); err != nil {
		return err
	}
	s.entries++
	return nil
}

// Start launches the cron runner
func (s *Scheduler) Start() {
	s.logger.Info().Int("schedules", s.entries).Msg("Starting scheduler")
	s.cron.Start()
}

// Stop halts the runner and waits for any job already firing.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Scheduler stopped")
}

// ScheduleCount returns how many schedules were registered.
func (s *Scheduler) ScheduleCount() int {
	return s.entries
}

func (s *Scheduler) firePruning(node *config.NodeConfig) {
	s.fire(types.OperationPruning, &client.Request{
		Node:      node.Name,
		Host:      node.Host,
		Kind:      types.OperationPruning,
		StartedBy: "schedule",
		Pruning: &types.PruningRequest{
			NodeName:       node.Name,
			ServiceName:    node.ServiceName,
			DeployPath:     node.DeployPath,
			BlocksToKeep:   node.PruningBlocksKeep,
			VersionsToKeep: node.PruningVersionsKeep,
			LogPath:        node.LogPath,
			PrunerBin:      node.PrunerBin,
		},
	})
}

func (s *Scheduler) fireSnapshot(node *config.NodeConfig) {
	s.fire(types.OperationSnapshotCreate, &client.Request{
		Node:      node.Name,
		Host:      node.Host,
		Kind:      types.OperationSnapshotCreate,
		StartedBy: "schedule",
		SnapshotCreate: &types.SnapshotCreateRequest{
			NodeName:    node.Name,
			Network:     node.Network,
			DeployPath:  node.DeployPath,
			BackupPath:  node.BackupPath,
			ServiceName: node.ServiceName,
			LogPath:     node.LogPath,
		},
	})
}

func (s *Scheduler) fireHermesRestart(hermes *config.HermesConfig) {
	s.fire(types.OperationHermesRestart, &client.Request{
		Node:      hermes.Name,
		Host:      hermes.Host,
		Kind:      types.OperationHermesRestart,
		StartedBy: "schedule",
		Service:   hermes.ServiceName,
	})
}

// fire dispatches one scheduled operation. The dispatcher detaches its
// own polling goroutine; the cron tick only pays for the claim and the
// initial POST.
func (s *Scheduler) fire(kind types.OperationKind, req *client.Request) {
	if s.cfg.Maintenance != nil && s.cfg.Maintenance.InMaintenance(req.Node) {
		s.logger.Info().
			Str("target", req.Node).
			Str("kind", string(kind)).
			Msg("Skipping scheduled dispatch, target in maintenance")
		metrics.ScheduledDispatchesTotal.WithLabelValues(string(kind), "skipped").Inc()
		return
	}

	jobID, err := s.cfg.Dispatcher.Dispatch(context.Background(), req)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("target", req.Node).
			Str("kind", string(kind)).
			Msg("Scheduled dispatch failed")
		metrics.ScheduledDispatchesTotal.WithLabelValues(string(kind), "failed").Inc()
		return
	}

	s.logger.Info().
		Str("target", req.Node).
		Str("kind", string(kind)).
		Str("job_id", jobID).
		Msg("Scheduled dispatch started")
	metrics.ScheduledDispatchesTotal.WithLabelValues(string(kind), "dispatched").Inc()
}

// cronLogger adapts zerolog to the cron.Logger interface so the
// skip-if-still-running chain can report overlapping ticks.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(kvMap(keysAndValues)).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(kvMap(keysAndValues)).Msg(msg)
}

func kvMap(kv []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		fields[key] = kv[i+1]
	}
	return fields
}
