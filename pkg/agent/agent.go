package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stakeops/warden/pkg/log"
	"github.com/stakeops/warden/pkg/metrics"
	"github.com/stakeops/warden/pkg/types"
)

const (
	// DefaultRegistryTTL is how long a busy entry may live before the
	// janitor treats it as stuck.
	DefaultRegistryTTL = 24 * time.Hour
	// DefaultJobTTL is how long terminal jobs are retained.
	DefaultJobTTL = 48 * time.Hour
	// DefaultCleanupInterval is the in-process janitor period.
	DefaultCleanupInterval = time.Hour
)

// OpFunc is a detached operation sequence: it returns a result
// document or an error, and the job records whichever it was.
type OpFunc func(ctx context.Context) (map[string]any, error)

// Config holds agent configuration
type Config struct {
	// Commander overrides the host-backed command executor (tests).
	Commander Commander

	RegistryTTL     time.Duration
	JobTTL          time.Duration
	CleanupInterval time.Duration
}

// Agent executes privileged operations on one host. It keeps no
// persistent state: the registry and job store are in-memory maps and
// a restart forgets everything by design.
type Agent struct {
	runner *Runner

	busyMu sync.RWMutex
	busy   map[string]types.BusyEntry

	jobsMu sync.RWMutex
	jobs   map[string]*types.Job

	registryTTL     time.Duration
	jobTTL          time.Duration
	cleanupInterval time.Duration

	// statesync polling knobs, overridable in tests
	pollInterval time.Duration
	restartPause time.Duration

	stopCh chan struct{}
	logger zerolog.Logger
}

// NewAgent creates an agent with the given configuration.
func NewAgent(cfg *Config) *Agent {
	if cfg == nil {
		cfg = &Config{}
	}
	cmd := cfg.Commander
	if cmd == nil {
		cmd = NewCommander()
	}
	a := &Agent{
		runner:          NewRunner(cmd),
		busy:            make(map[string]types.BusyEntry),
		jobs:            make(map[string]*types.Job),
		registryTTL:     cfg.RegistryTTL,
		jobTTL:          cfg.JobTTL,
		cleanupInterval: cfg.CleanupInterval,
		pollInterval:    10 * time.Second,
		restartPause:    2 * time.Second,
		stopCh:          make(chan struct{}),
		logger:          log.WithComponent("agent"),
	}
	if a.registryTTL == 0 {
		a.registryTTL = DefaultRegistryTTL
	}
	if a.jobTTL == 0 {
		a.jobTTL = DefaultJobTTL
	}
	if a.cleanupInterval == 0 {
		a.cleanupInterval = DefaultCleanupInterval
	}
	return a
}

// Runner exposes the host operations for the synchronous endpoints.
func (a *Agent) Runner() *Runner {
	return a.runner
}

// Start launches the in-process janitor.
func (a *Agent) Start() {
	go a.janitorLoop()
	a.logger.Info().Dur("interval", a.cleanupInterval).Msg("agent janitor started")
}

// Stop terminates the janitor. In-flight jobs keep running; the agent
// process exiting is what actually ends them.
func (a *Agent) Stop() {
	close(a.stopCh)
}

// ExecuteAsync claims the target in the registry, creates a running
// job, and launches fn detached. The registry entry is removed on
// every exit path of the detached task; panics in fn fail the job.
func (a *Agent) ExecuteAsync(target string, kind types.OperationKind, fn OpFunc) (string, error) {
	a.busyMu.Lock()
	if entry, ok := a.busy[target]; ok {
		a.busyMu.Unlock()
		return "", &types.BusyError{Target: target, Kind: entry.Kind, Since: entry.StartedAt}
	}
	now := time.Now().UTC()
	a.busy[target] = types.BusyEntry{Kind: kind, StartedAt: now}
	a.busyMu.Unlock()

	job := a.newJob(target, kind, now)
	metrics.AgentJobsRunning.Inc()

	a.logger.Info().
		Str("target", target).
		Str("kind", string(kind)).
		Str("job_id", job.ID).
		Msg("operation started")

	go a.runJob(job.ID, target, fn)

	return job.ID, nil
}

func (a *Agent) newJob(target string, kind types.OperationKind, now time.Time) *types.Job {
	a.jobsMu.Lock()
	defer a.jobsMu.Unlock()

	id := fmt.Sprintf("%s_%s_%d", kind, target, now.Unix())
	if _, exists := a.jobs[id]; exists {
		for n := 2; ; n++ {
			candidate := fmt.Sprintf("%s_%d", id, n)
			if _, ok := a.jobs[candidate]; !ok {
				id = candidate
				break
			}
		}
	}

	job := &types.Job{
		ID:        id,
		Target:    target,
		Kind:      kind,
		Status:    types.JobStatusRunning,
		StartedAt: now,
	}
	a.jobs[id] = job
	return job
}

func (a *Agent) runJob(jobID, target string, fn OpFunc) {
	defer a.releaseTarget(target)
	defer func() {
		if r := recover(); r != nil {
			a.completeJob(jobID, nil, fmt.Errorf("operation panic: %v", r))
		}
	}()

	result, err := fn(context.Background())
	a.completeJob(jobID, result, err)
}

func (a *Agent) releaseTarget(target string) {
	a.busyMu.Lock()
	delete(a.busy, target)
	a.busyMu.Unlock()
}

// completeJob applies the single terminal transition. A second call
// for the same job is ignored.
func (a *Agent) completeJob(jobID string, result map[string]any, err error) {
	a.jobsMu.Lock()
	defer a.jobsMu.Unlock()

	job, ok := a.jobs[jobID]
	if !ok || job.Status.Terminal() {
		return
	}

	now := time.Now().UTC()
	job.CompletedAt = &now
	metrics.AgentJobsRunning.Dec()
	if err != nil {
		job.Status = types.JobStatusFailed
		job.Error = err.Error()
		a.logger.Error().Str("job_id", jobID).Err(err).Msg("operation failed")
		return
	}
	job.Status = types.JobStatusCompleted
	job.Result = result
	a.logger.Info().Str("job_id", jobID).Msg("operation completed")
}

// Job returns a copy of the job record.
func (a *Agent) Job(id string) (types.Job, bool) {
	a.jobsMu.RLock()
	defer a.jobsMu.RUnlock()
	job, ok := a.jobs[id]
	if !ok {
		return types.Job{}, false
	}
	return *job, true
}

// Busy returns a snapshot of the operation registry.
func (a *Agent) Busy() map[string]types.BusyEntry {
	a.busyMu.RLock()
	defer a.busyMu.RUnlock()
	snapshot := make(map[string]types.BusyEntry, len(a.busy))
	for k, v := range a.busy {
		snapshot[k] = v
	}
	return snapshot
}

// Cleanup removes busy entries older than registryOlder and terminal
// jobs completed before jobsOlder ago, returning both counts.
func (a *Agent) Cleanup(registryOlder, jobsOlder time.Duration) (registryRemoved, jobsRemoved int) {
	now := time.Now().UTC()

	a.busyMu.Lock()
	for target, entry := range a.busy {
		if now.Sub(entry.StartedAt) > registryOlder {
			delete(a.busy, target)
			registryRemoved++
		}
	}
	a.busyMu.Unlock()

	a.jobsMu.Lock()
	for id, job := range a.jobs {
		if job.Status.Terminal() && job.CompletedAt != nil && now.Sub(*job.CompletedAt) > jobsOlder {
			delete(a.jobs, id)
			jobsRemoved++
		}
	}
	a.jobsMu.Unlock()

	if registryRemoved > 0 || jobsRemoved > 0 {
		a.logger.Info().
			Int("registry_removed", registryRemoved).
			Int("jobs_removed", jobsRemoved).
			Msg("janitor cleanup")
	}
	return registryRemoved, jobsRemoved
}

func (a *Agent) janitorLoop() {
	ticker := time.NewTicker(a.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.Cleanup(a.registryTTL, a.jobTTL)
		case <-a.stopCh:
			return
		}
	}
}

// sleep waits for d unless ctx ends first.
func (a *Agent) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
