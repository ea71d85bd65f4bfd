package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/stakeops/warden/pkg/types"
)

// archiveTimeLayout names snapshots so lexical order equals creation
// order: {network}_{yyyymmdd_HHMMSS}.tar.gz, always UTC.
const archiveTimeLayout = "20060102_150405"

func snapshotPrefix(network, node string) string {
	if network != "" {
		return network
	}
	return node
}

// SnapshotCreate stops the node, archives data/ (plus wasm/ when
// present) into the backup directory, and restarts. The validator
// signing state is copied aside first so a later restore cannot make
// the validator double-sign from a stale state file.
func (a *Agent) SnapshotCreate(ctx context.Context, req types.SnapshotCreateRequest) (map[string]any, error) {
	r := a.runner

	if err := r.MkdirAll(ctx, req.BackupPath); err != nil {
		return nil, err
	}
	if err := r.ServiceStop(ctx, req.ServiceName); err != nil {
		return nil, err
	}
	if req.LogPath != "" {
		if err := r.TruncateLog(ctx, req.LogPath); err != nil {
			return nil, err
		}
	}

	ts := time.Now().UTC().Format(archiveTimeLayout)

	validatorState := filepath.Join(req.DeployPath, "data", "priv_validator_state.json")
	validatorBackup := ""
	if r.FileExists(ctx, validatorState) {
		validatorBackup = filepath.Join(req.BackupPath, fmt.Sprintf("priv_validator_state_%s.json", ts))
		if err := r.CopyFile(ctx, validatorState, validatorBackup); err != nil {
			return nil, err
		}
	}

	members := []string{"data"}
	if r.DirExists(ctx, filepath.Join(req.DeployPath, "wasm")) {
		members = append(members, "wasm")
	}
	filename := fmt.Sprintf("%s_%s.tar.gz", snapshotPrefix(req.Network, req.NodeName), ts)
	archivePath := filepath.Join(req.BackupPath, filename)
	if err := r.CreateArchive(ctx, archivePath, req.DeployPath, members...); err != nil {
		return nil, err
	}
	size, err := r.FileSize(ctx, archivePath)
	if err != nil {
		return nil, err
	}

	if err := r.ServiceStart(ctx, req.ServiceName); err != nil {
		return nil, err
	}
	if err := a.verifyActive(ctx, req.ServiceName); err != nil {
		return nil, err
	}

	return map[string]any{
		"filename":         filename,
		"path":             archivePath,
		"size_bytes":       size,
		"validator_backup": validatorBackup,
	}, nil
}

// SnapshotRestore replaces a node's state directories with the
// contents of an archive. When req.SnapshotPath is empty the newest
// archive for the network in req.BackupPath is used.
func (a *Agent) SnapshotRestore(ctx context.Context, req types.SnapshotRestoreRequest) (map[string]any, error) {
	r := a.runner

	snapshot := req.SnapshotPath
	if snapshot == "" {
		if req.BackupPath == "" {
			return nil, fmt.Errorf("%w: no snapshot path given and no backup path to search", types.ErrNotFound)
		}
		latest, err := r.LatestArchive(ctx, req.BackupPath, snapshotPrefix(req.Network, req.NodeName))
		if err != nil {
			return nil, fmt.Errorf("resolving latest snapshot in %s: %w", req.BackupPath, err)
		}
		snapshot = latest
	}
	if !r.FileExists(ctx, snapshot) {
		return nil, fmt.Errorf("%w: snapshot %s", types.ErrNotFound, snapshot)
	}
	size, err := r.FileSize(ctx, snapshot)
	if err != nil {
		return nil, err
	}

	if err := r.ServiceStop(ctx, req.ServiceName); err != nil {
		return nil, err
	}
	if req.LogPath != "" {
		if err := r.TruncateLog(ctx, req.LogPath); err != nil {
			return nil, err
		}
	}

	dataDir := filepath.Join(req.DeployPath, "data")
	wasmDir := filepath.Join(req.DeployPath, "wasm")
	for _, dir := range []string{dataDir, wasmDir} {
		if r.DirExists(ctx, dir) {
			if err := r.Delete(ctx, dir); err != nil {
				return nil, err
			}
		}
	}

	codec, err := r.ExtractArchive(ctx, snapshot, req.DeployPath)
	if err != nil {
		return nil, err
	}
	if !r.DirExists(ctx, dataDir) {
		return nil, fmt.Errorf("snapshot %s did not produce a data directory under %s", snapshot, req.DeployPath)
	}

	// The caller decides which signing state survives the restore; a
	// snapshot's own priv_validator_state.json is hours old by now.
	if req.ValidatorBackup != "" {
		if !r.FileExists(ctx, req.ValidatorBackup) {
			return nil, fmt.Errorf("%w: validator state backup %s", types.ErrNotFound, req.ValidatorBackup)
		}
		if err := r.CopyFile(ctx, req.ValidatorBackup, filepath.Join(dataDir, "priv_validator_state.json")); err != nil {
			return nil, err
		}
	}

	owner, err := r.Owner(ctx, req.DeployPath)
	if err != nil {
		return nil, err
	}
	if err := r.Chown(ctx, owner, dataDir); err != nil {
		return nil, err
	}
	if r.DirExists(ctx, wasmDir) {
		if err := r.Chown(ctx, owner, wasmDir); err != nil {
			return nil, err
		}
	}

	if err := r.ServiceStart(ctx, req.ServiceName); err != nil {
		return nil, err
	}
	if err := a.verifyActive(ctx, req.ServiceName); err != nil {
		return nil, err
	}

	return map[string]any{
		"snapshot":    snapshot,
		"size_bytes":  size,
		"compression": codec,
	}, nil
}

// TriggerMatch reports the first trigger pattern found in a log tail.
type TriggerMatch struct {
	Matched bool   `json:"matched"`
	Pattern string `json:"pattern,omitempty"`
	Line    string `json:"line,omitempty"`
}

// CheckTriggers tails a log file and scans for any of the given
// substrings. The manager uses this to decide whether a node needs an
// automatic restore (corruption signatures like "wrong Block.Header.AppHash").
func (a *Agent) CheckTriggers(ctx context.Context, req types.TriggerCheckRequest) (TriggerMatch, error) {
	lines := req.TailLines
	if lines <= 0 {
		lines = 1000
	}
	if !a.runner.FileExists(ctx, req.LogPath) {
		return TriggerMatch{}, fmt.Errorf("%w: log file %s", types.ErrNotFound, req.LogPath)
	}
	out, err := a.runner.Tail(ctx, req.LogPath, lines)
	if err != nil {
		return TriggerMatch{}, err
	}
	for _, line := range strings.Split(out, "\n") {
		for _, pattern := range req.Patterns {
			if pattern != "" && strings.Contains(line, pattern) {
				return TriggerMatch{Matched: true, Pattern: pattern, Line: strings.TrimSpace(line)}, nil
			}
		}
	}
	return TriggerMatch{}, nil
}
