package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/stakeops/warden/pkg/log"
	"github.com/stakeops/warden/pkg/types"
)

// defaultPollInterval is how often WaitForJob asks the agent for a
// job's status.
const defaultPollInterval = 10 * time.Second

// Config holds the connection settings for one agent
type Config struct {
	// Host is the host identifier from config (the <host>.toml name).
	Host string
	// BaseURL is the agent endpoint, e.g. http://10.0.0.5:8745.
	BaseURL string
	// APIKey is the resolved bearer token for this agent.
	APIKey string
	// Timeout bounds a single HTTP request.
	Timeout time.Duration
}

// Client is the manager-side HTTP client for one agent
type Client struct {
	host   string
	http   *resty.Client
	logger zerolog.Logger

	// pollInterval is overridable in tests
	pollInterval time.Duration
}

// New creates a client for one agent
func New(cfg *Config) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetAuthToken(cfg.APIKey)

	return &Client{
		host:         cfg.Host,
		http:         httpClient,
		logger:       log.WithHost(cfg.Host),
		pollInterval: defaultPollInterval,
	}
}

// Host returns the host identifier this client talks to
func (c *Client) Host() string {
	return c.host
}

// post sends a request body and decodes the envelope, mapping HTTP
// status codes onto the shared error taxonomy.
func (c *Client) post(ctx context.Context, path string, body any, target string) (*types.AgentResponse, error) {
	var envelope types.AgentResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&envelope).
		SetError(&envelope).
		Post(path)
	if err != nil {
		return nil, fmt.Errorf("host %s: %s: %w", c.host, path, err)
	}
	if err := c.checkStatus(resp, &envelope, target); err != nil {
		return nil, err
	}
	return &envelope, nil
}

func (c *Client) get(ctx context.Context, path string, target string) (*types.AgentResponse, error) {
	var envelope types.AgentResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&envelope).
		SetError(&envelope).
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("host %s: %s: %w", c.host, path, err)
	}
	if err := c.checkStatus(resp, &envelope, target); err != nil {
		return nil, err
	}
	return &envelope, nil
}

func (c *Client) checkStatus(resp *resty.Response, envelope *types.AgentResponse, target string) error {
	if !resp.IsError() {
		return nil
	}

	msg := envelope.Error
	if msg == "" {
		msg = resp.Status()
	}

	switch resp.StatusCode() {
	case http.StatusUnauthorized:
		return fmt.Errorf("host %s: %s: %w", c.host, msg, types.ErrAuthFailed)
	case http.StatusNotFound:
		return fmt.Errorf("host %s: %s: %w", c.host, msg, types.ErrNotFound)
	case http.StatusConflict:
		return c.busyError(envelope, target, msg)
	default:
		return fmt.Errorf("host %s: %s", c.host, msg)
	}
}

// busyError rebuilds a typed BusyError from the agent's conflict
// payload so callers can classify with types.IsBusy.
func (c *Client) busyError(envelope *types.AgentResponse, target, msg string) error {
	busy := &types.BusyError{Target: target, Since: time.Now().UTC()}
	if kind, ok := envelope.Data["operation"].(string); ok {
		busy.Kind = types.OperationKind(kind)
	}
	if raw, ok := envelope.Data["started_at"].(string); ok {
		if since, err := time.Parse(time.RFC3339, raw); err == nil {
			busy.Since = since
		}
	}
	if busy.Kind == "" {
		return fmt.Errorf("host %s: %s", c.host, msg)
	}
	return busy
}

// ExecuteCommand runs a shell command on the host and returns its output
func (c *Client) ExecuteCommand(ctx context.Context, req *types.CommandRequest) (string, error) {
	envelope, err := c.post(ctx, "/command/execute", req, "")
	if err != nil {
		return "", err
	}
	return envelope.Output, nil
}

// ServiceStatus returns the systemd activity state of a unit
func (c *Client) ServiceStatus(ctx context.Context, service string) (string, error) {
	envelope, err := c.post(ctx, "/service/status", &types.ServiceRequest{Service: service}, "")
	if err != nil {
		return "", err
	}
	return envelope.Status, nil
}

// StartService starts a systemd unit
func (c *Client) StartService(ctx context.Context, service string) error {
	_, err := c.post(ctx, "/service/start", &types.ServiceRequest{Service: service}, "")
	return err
}

// StopService stops a systemd unit
func (c *Client) StopService(ctx context.Context, service string) error {
	_, err := c.post(ctx, "/service/stop", &types.ServiceRequest{Service: service}, "")
	return err
}

// ServiceUptime returns seconds since the unit became active
func (c *Client) ServiceUptime(ctx context.Context, service string) (int64, error) {
	envelope, err := c.post(ctx, "/service/uptime", &types.ServiceRequest{Service: service}, "")
	if err != nil {
		return 0, err
	}
	return envelope.UptimeSeconds, nil
}

// TruncateLog truncates a log file in place
func (c *Client) TruncateLog(ctx context.Context, logPath string) error {
	_, err := c.post(ctx, "/logs/truncate", &types.LogRequest{LogPath: logPath}, "")
	return err
}

// DeleteLogs removes a log file and its rotated siblings
func (c *Client) DeleteLogs(ctx context.Context, logPath string) error {
	_, err := c.post(ctx, "/logs/delete-all", &types.LogRequest{LogPath: logPath}, "")
	return err
}

// StartPruning dispatches a pruning job and returns its id
func (c *Client) StartPruning(ctx context.Context, req *types.PruningRequest) (string, error) {
	envelope, err := c.post(ctx, "/pruning/execute", req, req.NodeName)
	if err != nil {
		return "", err
	}
	return envelope.JobID, nil
}

// StartSnapshotCreate dispatches a snapshot-create job and returns its id
func (c *Client) StartSnapshotCreate(ctx context.Context, req *types.SnapshotCreateRequest) (string, error) {
	envelope, err := c.post(ctx, "/snapshot/create", req, req.NodeName)
	if err != nil {
		return "", err
	}
	return envelope.JobID, nil
}

// StartSnapshotRestore dispatches a snapshot-restore job and returns its id
func (c *Client) StartSnapshotRestore(ctx context.Context, req *types.SnapshotRestoreRequest) (string, error) {
	envelope, err := c.post(ctx, "/snapshot/restore", req, req.NodeName)
	if err != nil {
		return "", err
	}
	return envelope.JobID, nil
}

// StartStateSync dispatches a state-sync job and returns its id
func (c *Client) StartStateSync(ctx context.Context, req *types.StateSyncRequest) (string, error) {
	envelope, err := c.post(ctx, "/state-sync/execute", req, req.NodeName)
	if err != nil {
		return "", err
	}
	return envelope.JobID, nil
}

// CheckTriggers scans the tail of a node log for restore triggers.
// Returns whether any pattern matched and which one.
func (c *Client) CheckTriggers(ctx context.Context, req *types.TriggerCheckRequest) (bool, string, error) {
	envelope, err := c.post(ctx, "/snapshot/check-triggers", req, "")
	if err != nil {
		return false, "", err
	}
	matched, _ := envelope.Data["matched"].(bool)
	pattern, _ := envelope.Data["pattern"].(string)
	return matched, pattern, nil
}

// JobStatus fetches the current record for a job id
func (c *Client) JobStatus(ctx context.Context, jobID string) (*types.Job, error) {
	envelope, err := c.get(ctx, "/operation/status/"+jobID, "")
	if err != nil {
		return nil, err
	}
	return &types.Job{
		ID:     envelope.JobID,
		Status: types.JobStatus(envelope.Status),
		Error:  envelope.Error,
		Result: envelope.Data,
	}, nil
}

// Busy returns the agent's operation registry snapshot
func (c *Client) Busy(ctx context.Context) (map[string]types.BusyEntry, error) {
	envelope, err := c.post(ctx, "/status/busy", struct{}{}, "")
	if err != nil {
		return nil, err
	}

	busy := make(map[string]types.BusyEntry, len(envelope.Data))
	for target, raw := range envelope.Data {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		var parsed types.BusyEntry
		if kind, ok := entry["operation"].(string); ok {
			parsed.Kind = types.OperationKind(kind)
		}
		if started, ok := entry["started_at"].(string); ok {
			if ts, err := time.Parse(time.RFC3339, started); err == nil {
				parsed.StartedAt = ts
			}
		}
		busy[target] = parsed
	}
	return busy, nil
}

// Cleanup invokes the agent janitor with explicit horizons
func (c *Client) Cleanup(ctx context.Context, req *types.CleanupRequest) error {
	_, err := c.post(ctx, "/status/cleanup", req, "")
	return err
}

// Healthz checks agent liveness
func (c *Client) Healthz(ctx context.Context) error {
	_, err := c.get(ctx, "/healthz", "")
	return err
}

// WaitForJob polls the job until it reaches a terminal status or the
// deadline passes. The returned job is terminal; a deadline or context
// cancellation yields ErrTimeout.
func (c *Client) WaitForJob(ctx context.Context, jobID string, deadline time.Duration) (*types.Job, error) {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		job, err := c.JobStatus(ctx, jobID)
		switch {
		case err == nil:
			if job.Status.Terminal() {
				return job, nil
			}
		case errors.Is(err, types.ErrNotFound), errors.Is(err, types.ErrAuthFailed):
			// The job is gone (agent restarted) or we lost auth;
			// polling further cannot help.
			return nil, err
		default:
			// Transient failure: keep polling until the deadline.
			c.logger.Warn().Err(err).Str("job_id", jobID).Msg("Job poll failed")
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, fmt.Errorf("job %s did not finish within %s: %w", jobID, deadline, types.ErrTimeout)
		}
	}
}
