package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/stakeops/warden/pkg/types"
)

// Pruning shrinks a node's block store and application state with an
// external pruner. The service is stopped for the duration and must
// come back as active, or the job fails.
func (a *Agent) Pruning(ctx context.Context, req types.PruningRequest) (map[string]any, error) {
	r := a.runner

	if err := r.ServiceStop(ctx, req.ServiceName); err != nil {
		return nil, err
	}
	if req.LogPath != "" {
		if err := r.TruncateLog(ctx, req.LogPath); err != nil {
			return nil, err
		}
	}

	pruner := req.PrunerBin
	if pruner == "" {
		pruner = "cosmos-pruner"
	}
	dataDir := filepath.Join(req.DeployPath, "data")
	out, err := r.Run(ctx, pruner, "prune", dataDir,
		fmt.Sprintf("--blocks=%d", req.BlocksToKeep),
		fmt.Sprintf("--versions=%d", req.VersionsToKeep))
	if err != nil {
		return nil, fmt.Errorf("pruning %s: %w", req.NodeName, err)
	}

	if err := r.ServiceStart(ctx, req.ServiceName); err != nil {
		return nil, err
	}
	if err := a.verifyActive(ctx, req.ServiceName); err != nil {
		return nil, err
	}

	return map[string]any{
		"message":       fmt.Sprintf("pruned %s keeping %d blocks and %d versions", req.NodeName, req.BlocksToKeep, req.VersionsToKeep),
		"blocks_kept":   req.BlocksToKeep,
		"versions_kept": req.VersionsToKeep,
		"pruner_output": lastLine(out),
	}, nil
}

// verifyActive is the shared sequence postcondition: systemctl must
// report exactly "active".
func (a *Agent) verifyActive(ctx context.Context, service string) error {
	status, err := a.runner.ServiceStatus(ctx, service)
	if err != nil {
		return err
	}
	if status != "active" {
		return fmt.Errorf("%w: service %s is %q, expected active", types.ErrPostcondition, service, status)
	}
	return nil
}

// lastLine keeps result documents small; pruners print progress for
// hours and only the summary line matters.
func lastLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
