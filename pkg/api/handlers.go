package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stakeops/warden/pkg/agent"
	"github.com/stakeops/warden/pkg/types"
)

// defaultCommandTimeout bounds /command/execute when the request does
// not carry its own timeout.
const defaultCommandTimeout = 5 * time.Minute

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, types.AgentResponse{Success: true, Status: "ok"})
}

// bind decodes the JSON body, answering 400 on malformed input.
func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, types.AgentResponse{
			Success: false,
			Error:   fmt.Sprintf("invalid request body: %v", err),
		})
		return false
	}
	return true
}

// respondError maps the error taxonomy onto HTTP status codes. Busy
// conflicts carry the active kind and start time so the manager can
// rebuild the typed error.
func respondError(c *gin.Context, err error) {
	resp := types.AgentResponse{Success: false, Error: err.Error()}
	status := http.StatusInternalServerError

	var busy *types.BusyError
	switch {
	case errors.As(err, &busy):
		status = http.StatusConflict
		resp.Status = "busy"
		resp.Data = map[string]any{
			"operation":  string(busy.Kind),
			"started_at": busy.Since.Format(time.RFC3339),
		}
	case errors.Is(err, types.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrAuthFailed):
		status = http.StatusUnauthorized
	case errors.Is(err, types.ErrConfigInvalid):
		status = http.StatusBadRequest
	}
	c.JSON(status, resp)
}

func badRequest(c *gin.Context, field string) {
	c.JSON(http.StatusBadRequest, types.AgentResponse{
		Success: false,
		Error:   fmt.Sprintf("%s: %s is required", types.ErrConfigInvalid, field),
	})
}

func (s *Server) handleCommandExecute(c *gin.Context) {
	var req types.CommandRequest
	if !bind(c, &req) {
		return
	}
	if req.Command == "" {
		badRequest(c, "command")
		return
	}

	timeout := defaultCommandTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	output, err := s.agent.Runner().Shell(ctx, req.Command)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.AgentResponse{Success: true, Output: output})
}

func (s *Server) handleServiceStatus(c *gin.Context) {
	var req types.ServiceRequest
	if !bind(c, &req) {
		return
	}
	if req.Service == "" {
		badRequest(c, "service")
		return
	}

	status, err := s.agent.Runner().ServiceStatus(c.Request.Context(), req.Service)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.AgentResponse{Success: true, Status: status})
}

func (s *Server) handleServiceStart(c *gin.Context) {
	var req types.ServiceRequest
	if !bind(c, &req) {
		return
	}
	if req.Service == "" {
		badRequest(c, "service")
		return
	}

	if err := s.agent.Runner().ServiceStart(c.Request.Context(), req.Service); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.AgentResponse{Success: true})
}

func (s *Server) handleServiceStop(c *gin.Context) {
	var req types.ServiceRequest
	if !bind(c, &req) {
		return
	}
	if req.Service == "" {
		badRequest(c, "service")
		return
	}

	if err := s.agent.Runner().ServiceStop(c.Request.Context(), req.Service); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.AgentResponse{Success: true})
}

func (s *Server) handleServiceUptime(c *gin.Context) {
	var req types.ServiceRequest
	if !bind(c, &req) {
		return
	}
	if req.Service == "" {
		badRequest(c, "service")
		return
	}

	uptime, err := s.agent.Runner().ServiceUptime(c.Request.Context(), req.Service)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.AgentResponse{Success: true, UptimeSeconds: uptime})
}

func (s *Server) handleLogsTruncate(c *gin.Context) {
	var req types.LogRequest
	if !bind(c, &req) {
		return
	}
	if req.LogPath == "" {
		badRequest(c, "log_path")
		return
	}

	if err := s.agent.Runner().TruncateLog(c.Request.Context(), req.LogPath); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.AgentResponse{Success: true})
}

func (s *Server) handleLogsDeleteAll(c *gin.Context) {
	var req types.LogRequest
	if !bind(c, &req) {
		return
	}
	if req.LogPath == "" {
		badRequest(c, "log_path")
		return
	}

	if err := s.agent.Runner().DeleteLogs(c.Request.Context(), req.LogPath); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.AgentResponse{Success: true})
}

func (s *Server) handlePruning(c *gin.Context) {
	var req types.PruningRequest
	if !bind(c, &req) {
		return
	}
	switch {
	case req.NodeName == "":
		badRequest(c, "node_name")
		return
	case req.ServiceName == "":
		badRequest(c, "service_name")
		return
	case req.DeployPath == "":
		badRequest(c, "deploy_path")
		return
	}

	s.startJob(c, req.NodeName, types.OperationPruning, func(ctx context.Context) (map[string]any, error) {
		return s.agent.Pruning(ctx, req)
	})
}

func (s *Server) handleSnapshotCreate(c *gin.Context) {
	var req types.SnapshotCreateRequest
	if !bind(c, &req) {
		return
	}
	switch {
	case req.NodeName == "":
		badRequest(c, "node_name")
		return
	case req.ServiceName == "":
		badRequest(c, "service_name")
		return
	case req.DeployPath == "":
		badRequest(c, "deploy_path")
		return
	case req.BackupPath == "":
		badRequest(c, "backup_path")
		return
	}

	s.startJob(c, req.NodeName, types.OperationSnapshotCreate, func(ctx context.Context) (map[string]any, error) {
		return s.agent.SnapshotCreate(ctx, req)
	})
}

func (s *Server) handleSnapshotRestore(c *gin.Context) {
	var req types.SnapshotRestoreRequest
	if !bind(c, &req) {
		return
	}
	switch {
	case req.NodeName == "":
		badRequest(c, "node_name")
		return
	case req.ServiceName == "":
		badRequest(c, "service_name")
		return
	case req.DeployPath == "":
		badRequest(c, "deploy_path")
		return
	case req.SnapshotPath == "" && req.BackupPath == "":
		badRequest(c, "snapshot_path or backup_path")
		return
	}

	s.startJob(c, req.NodeName, types.OperationSnapshotRestore, func(ctx context.Context) (map[string]any, error) {
		return s.agent.SnapshotRestore(ctx, req)
	})
}

func (s *Server) handleStateSync(c *gin.Context) {
	var req types.StateSyncRequest
	if !bind(c, &req) {
		return
	}
	switch {
	case req.NodeName == "":
		badRequest(c, "node_name")
		return
	case req.ServiceName == "":
		badRequest(c, "service_name")
		return
	case req.ConfigPath == "":
		badRequest(c, "config_path")
		return
	case len(req.RPCServers) == 0:
		badRequest(c, "rpc_servers")
		return
	case req.TrustHeight == 0 || req.TrustHash == "":
		badRequest(c, "trust_height and trust_hash")
		return
	}

	s.startJob(c, req.NodeName, types.OperationStateSync, func(ctx context.Context) (map[string]any, error) {
		return s.agent.StateSync(ctx, req)
	})
}

// startJob claims the target and answers 200 with the job id, or 409
// when the target already has an operation in flight.
func (s *Server) startJob(c *gin.Context, target string, kind types.OperationKind, fn agent.OpFunc) {
	jobID, err := s.agent.ExecuteAsync(target, kind, fn)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.AgentResponse{
		Success: true,
		JobID:   jobID,
		Status:  string(types.JobStatusRunning),
	})
}

func (s *Server) handleCheckTriggers(c *gin.Context) {
	var req types.TriggerCheckRequest
	if !bind(c, &req) {
		return
	}
	if req.LogPath == "" {
		badRequest(c, "log_path")
		return
	}

	match, err := s.agent.CheckTriggers(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.AgentResponse{
		Success: true,
		Data: map[string]any{
			"matched": match.Matched,
			"pattern": match.Pattern,
			"line":    match.Line,
		},
	})
}

func (s *Server) handleJobStatus(c *gin.Context) {
	jobID := c.Param("job_id")
	job, ok := s.agent.Job(jobID)
	if !ok {
		c.JSON(http.StatusNotFound, types.AgentResponse{
			Success: false,
			Error:   fmt.Sprintf("job %s: %s", jobID, types.ErrNotFound),
		})
		return
	}
	c.JSON(http.StatusOK, types.AgentResponse{
		Success: true,
		JobID:   job.ID,
		Status:  string(job.Status),
		Error:   job.Error,
		Data:    job.Result,
	})
}

func (s *Server) handleBusy(c *gin.Context) {
	busy := s.agent.Busy()
	data := make(map[string]any, len(busy))
	for target, entry := range busy {
		data[target] = map[string]any{
			"operation":  string(entry.Kind),
			"started_at": entry.StartedAt.Format(time.RFC3339),
		}
	}
	c.JSON(http.StatusOK, types.AgentResponse{Success: true, Data: data})
}

func (s *Server) handleCleanup(c *gin.Context) {
	var req types.CleanupRequest
	if !bind(c, &req) {
		return
	}

	registryOlder := agent.DefaultRegistryTTL
	if req.RegistryHours > 0 {
		registryOlder = time.Duration(req.RegistryHours) * time.Hour
	}
	jobsOlder := agent.DefaultJobTTL
	if req.JobHours > 0 {
		jobsOlder = time.Duration(req.JobHours) * time.Hour
	}

	registryRemoved, jobsRemoved := s.agent.Cleanup(registryOlder, jobsOlder)
	c.JSON(http.StatusOK, types.AgentResponse{
		Success: true,
		Data: map[string]any{
			"registry_removed": registryRemoved,
			"jobs_removed":     jobsRemoved,
		},
	})
}
