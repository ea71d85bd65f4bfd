package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/stakeops/warden/pkg/events"
	"github.com/stakeops/warden/pkg/log"
	"github.com/stakeops/warden/pkg/metrics"
	"github.com/stakeops/warden/pkg/storage"
	"github.com/stakeops/warden/pkg/types"
)

// OperationGuard is the manager-side single-operation-per-node claim.
// Implemented by the manager's operation tracker.
type OperationGuard interface {
	Start(node string, kind types.OperationKind, startedBy string) error
	Finish(node string)
}

// MaintenanceGuard opens and closes maintenance windows.
// Implemented by the manager's maintenance tracker.
type MaintenanceGuard interface {
	Start(node string, kind types.OperationKind, estimatedMinutes int, host string) error
	End(node string) bool
}

// Auditor persists operation rows. Implemented by storage.Store.
type Auditor interface {
	CreateOperation(op *storage.MaintenanceOperation) error
	CompleteOperation(id uint, status string, errMsg string) error
}

// Publisher fans events out to subscribers. Implemented by events.Broker.
type Publisher interface {
	Publish(event *events.Event)
}

// Request describes one operation to dispatch. Exactly one payload
// field matching Kind must be set; Service names the unit for the two
// restart kinds.
type Request struct {
	Node      string
	Host      string
	Kind      types.OperationKind
	StartedBy string

	Pruning         *types.PruningRequest
	SnapshotCreate  *types.SnapshotCreateRequest
	SnapshotRestore *types.SnapshotRestoreRequest
	StateSync       *types.StateSyncRequest
	Service         string

	// TrustOffset overrides the default gap below the latest height
	// when the state-sync payload omits its trust anchor.
	TrustOffset int64
}

// DispatcherConfig wires the dispatcher's collaborators
type DispatcherConfig struct {
	Clients    map[string]*Client
	Operations OperationGuard
	Windows    MaintenanceGuard
	Audit      Auditor
	Broker     Publisher
	RPCTimeout time.Duration
}

// Dispatcher drives operations end to end: claim the maintenance
// window and the operation entry, post to the agent, poll to a
// terminal status, then persist, publish, and release in reverse
// claim order.
type Dispatcher struct {
	clients map[string]*Client
	rpc     *RPC
	ops     OperationGuard
	windows MaintenanceGuard
	audit   Auditor
	broker  Publisher
	logger  zerolog.Logger

	// restartPause sits between unit start and the verify probe
	restartPause time.Duration
}

// NewDispatcher creates a dispatcher
func NewDispatcher(cfg *DispatcherConfig) *Dispatcher {
	rpcTimeout := cfg.RPCTimeout
	if rpcTimeout == 0 {
		rpcTimeout = 10 * time.Second
	}
	return &Dispatcher{
		clients:      cfg.Clients,
		rpc:          NewRPC(rpcTimeout),
		ops:          cfg.Operations,
		windows:      cfg.Windows,
		audit:        cfg.Audit,
		broker:       cfg.Broker,
		logger:       log.WithComponent("dispatch"),
		restartPause: 2 * time.Second,
	}
}

// Dispatch claims the node, starts the operation, and detaches a
// goroutine that waits for the terminal status. It returns the agent
// job id for async kinds (empty for the restart kinds) as soon as the
// operation is underway; busy and dispatch failures surface here.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (string, error) {
	if !req.Kind.Valid() {
		return "", fmt.Errorf("unknown operation kind %q: %w", req.Kind, types.ErrConfigInvalid)
	}
	agent, ok := d.clients[req.Host]
	if !ok {
		return "", fmt.Errorf("no agent configured for host %s: %w", req.Host, types.ErrNotFound)
	}

	// Claim order: window first, then the operation entry. A failed
	// second claim rolls back the first.
	estimated := int(req.Kind.Deadline().Minutes())
	if err := d.windows.Start(req.Node, req.Kind, estimated, req.Host); err != nil {
		return "", err
	}
	if err := d.ops.Start(req.Node, req.Kind, req.StartedBy); err != nil {
		d.windows.End(req.Node)
		return "", err
	}

	row := &storage.MaintenanceOperation{
		Kind:       string(req.Kind),
		TargetName: req.Node,
		Details:    req.detailsJSON(),
	}
	if err := d.audit.CreateOperation(row); err != nil {
		d.ops.Finish(req.Node)
		d.windows.End(req.Node)
		return "", fmt.Errorf("audit record failed: %w", err)
	}

	d.broker.Publish(events.NewEvent(events.EventOperationStarted, req.Node,
		fmt.Sprintf("%s started", req.Kind)).
		WithHost(req.Host).
		WithMetadata("kind", string(req.Kind)).
		WithMetadata("trigger", req.StartedBy))

	d.broker.Publish(events.NewEvent(events.EventMaintenanceStarted, req.Node,
		fmt.Sprintf("maintenance window opened for %s", req.Kind)).
		WithHost(req.Host).
		WithMetadata("kind", string(req.Kind)))

	timer := metrics.NewTimer()

	if req.Kind == types.OperationRestart || req.Kind == types.OperationHermesRestart {
		go d.runRestart(agent, req, row.ID, timer)
		return "", nil
	}

	jobID, err := d.startJob(ctx, agent, req)
	if err != nil {
		d.complete(req, row.ID, "", timer, err)
		d.ops.Finish(req.Node)
		d.releaseWindow(req)
		return "", err
	}

	go d.awaitJob(agent, req, row.ID, jobID, timer)
	return jobID, nil
}

// startJob posts the payload matching the request kind and returns the
// agent job id. State sync resolves its trust anchor first when the
// caller left it empty.
func (d *Dispatcher) startJob(ctx context.Context, agent *Client, req *Request) (string, error) {
	switch req.Kind {
	case types.OperationPruning:
		if req.Pruning == nil {
			return "", fmt.Errorf("pruning payload missing: %w", types.ErrConfigInvalid)
		}
		return agent.StartPruning(ctx, req.Pruning)

	case types.OperationSnapshotCreate:
		if req.SnapshotCreate == nil {
			return "", fmt.Errorf("snapshot payload missing: %w", types.ErrConfigInvalid)
		}
		return agent.StartSnapshotCreate(ctx, req.SnapshotCreate)

	case types.OperationSnapshotRestore:
		if req.SnapshotRestore == nil {
			return "", fmt.Errorf("restore payload missing: %w", types.ErrConfigInvalid)
		}
		return agent.StartSnapshotRestore(ctx, req.SnapshotRestore)

	case types.OperationStateSync:
		if req.StateSync == nil {
			return "", fmt.Errorf("state-sync payload missing: %w", types.ErrConfigInvalid)
		}
		if req.StateSync.TrustHeight == 0 || req.StateSync.TrustHash == "" {
			anchor, err := d.rpc.ResolveTrustAnchor(ctx, req.StateSync.RPCServers, req.TrustOffset)
			if err != nil {
				return "", err
			}
			req.StateSync.TrustHeight = anchor.Height
			req.StateSync.TrustHash = anchor.Hash
			d.logger.Info().
				Str("node", req.Node).
				Int64("trust_height", anchor.Height).
				Str("trust_hash", anchor.Hash).
				Msg("Resolved state-sync trust anchor")
		}
		return agent.StartStateSync(ctx, req.StateSync)
	}
	return "", fmt.Errorf("kind %s is not dispatchable as a job: %w", req.Kind, types.ErrConfigInvalid)
}

// awaitJob polls the agent until the job is terminal. Releases are
// deferred so every exit path restores both trackers, operation entry
// before window.
func (d *Dispatcher) awaitJob(agent *Client, req *Request, rowID uint, jobID string, timer *metrics.Timer) {
	defer d.releaseWindow(req)
	defer d.ops.Finish(req.Node)

	job, err := agent.WaitForJob(context.Background(), jobID, req.Kind.Deadline())
	switch {
	case err != nil:
		d.complete(req, rowID, jobID, timer, err)
	case job.Status == types.JobStatusFailed:
		d.complete(req, rowID, jobID, timer, errors.New(job.Error))
	default:
		d.complete(req, rowID, jobID, timer, nil)
	}
}

// runRestart performs the synchronous stop/start/verify sequence for
// the two restart kinds, under the same claim/release discipline.
func (d *Dispatcher) runRestart(agent *Client, req *Request, rowID uint, timer *metrics.Timer) {
	defer d.releaseWindow(req)
	defer d.ops.Finish(req.Node)

	ctx, cancel := context.WithTimeout(context.Background(), req.Kind.Deadline())
	defer cancel()

	d.complete(req, rowID, "", timer, d.restartSequence(ctx, agent, req.Service))
}

func (d *Dispatcher) restartSequence(ctx context.Context, agent *Client, service string) error {
	if service == "" {
		return fmt.Errorf("restart needs a service name: %w", types.ErrConfigInvalid)
	}
	if err := agent.StopService(ctx, service); err != nil {
		return fmt.Errorf("stop %s: %w", service, err)
	}
	if err := agent.StartService(ctx, service); err != nil {
		return fmt.Errorf("start %s: %w", service, err)
	}

	select {
	case <-time.After(d.restartPause):
	case <-ctx.Done():
		return fmt.Errorf("restart interrupted: %w", types.ErrTimeout)
	}

	status, err := agent.ServiceStatus(ctx, service)
	if err != nil {
		return fmt.Errorf("verify %s: %w", service, err)
	}
	if status != "active" {
		return fmt.Errorf("service %s is %s after restart: %w", service, status, types.ErrPostcondition)
	}
	return nil
}

// complete applies the terminal bookkeeping: audit row, metrics, event
func (d *Dispatcher) complete(req *Request, rowID uint, jobID string, timer *metrics.Timer, opErr error) {
	status := storage.StatusCompleted
	errMsg := ""
	if opErr != nil {
		status = storage.StatusFailed
		errMsg = fmt.Sprintf("host %s: %s: %s", req.Host, req.Kind, opErr.Error())
	}

	if err := d.audit.CompleteOperation(rowID, status, errMsg); err != nil {
		d.logger.Error().Err(err).Uint("row_id", rowID).Msg("Audit completion failed")
	}

	metrics.OperationsTotal.WithLabelValues(string(req.Kind), status).Inc()
	timer.ObserveDurationVec(metrics.OperationDuration, string(req.Kind))

	duration := timer.Duration().Round(time.Second)
	if opErr != nil {
		d.broker.Publish(events.NewEvent(events.EventOperationFailed, req.Node,
			fmt.Sprintf("%s failed: %s", req.Kind, opErr.Error())).
			WithHost(req.Host).
			WithMetadata("kind", string(req.Kind)).
			WithMetadata("job_id", jobID).
			WithMetadata("error", opErr.Error()))
		d.logger.Error().
			Err(opErr).
			Str("node", req.Node).
			Str("kind", string(req.Kind)).
			Str("job_id", jobID).
			Dur("duration", duration).
			Msg("Operation failed")
		return
	}

	d.broker.Publish(events.NewEvent(events.EventOperationCompleted, req.Node,
		fmt.Sprintf("%s completed in %s", req.Kind, duration)).
		WithHost(req.Host).
		WithMetadata("kind", string(req.Kind)).
		WithMetadata("job_id", jobID).
		WithMetadata("duration", duration.String()))
	d.logger.Info().
		Str("node", req.Node).
		Str("kind", string(req.Kind)).
		Str("job_id", jobID).
		Dur("duration", duration).
		Msg("Operation completed")
}

// releaseWindow closes the maintenance window and announces it
func (d *Dispatcher) releaseWindow(req *Request) {
	if d.windows.End(req.Node) {
		d.broker.Publish(events.NewEvent(events.EventMaintenanceEnded, req.Node,
			fmt.Sprintf("maintenance window closed after %s", req.Kind)).
			WithHost(req.Host).
			WithMetadata("kind", string(req.Kind)))
	}
}

// detailsJSON summarizes the dispatch parameters for the audit row
func (r *Request) detailsJSON() string {
	details := map[string]any{
		"host":    r.Host,
		"trigger": r.StartedBy,
	}
	switch {
	case r.Pruning != nil:
		details["blocks_to_keep"] = r.Pruning.BlocksToKeep
		details["versions_to_keep"] = r.Pruning.VersionsToKeep
	case r.SnapshotCreate != nil:
		details["backup_path"] = r.SnapshotCreate.BackupPath
	case r.SnapshotRestore != nil:
		if r.SnapshotRestore.SnapshotPath != "" {
			details["snapshot_path"] = r.SnapshotRestore.SnapshotPath
		}
	case r.StateSync != nil:
		details["timeout_seconds"] = r.StateSync.TimeoutSeconds
	case r.Service != "":
		details["service"] = r.Service
	}

	blob, err := json.Marshal(details)
	if err != nil {
		return ""
	}
	return string(blob)
}
