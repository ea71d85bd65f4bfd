package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/stakeops/warden/pkg/types"
)

// trustPeriod matches the default unbonding window of the chains we
// run; snapshots older than this are rejected by the light client.
const trustPeriod = "168h0m0s"

// StateSync wipes a node's chain state and rebuilds it from a recent
// snapshot served by other RPC nodes. On success the node is restarted
// once more with state sync disabled so a later crash does not wipe it
// again. On timeout the service is left running so the operator can
// inspect it, and the config keeps state sync enabled unless the
// request says otherwise.
func (a *Agent) StateSync(ctx context.Context, req types.StateSyncRequest) (map[string]any, error) {
	r := a.runner

	if err := r.ServiceStop(ctx, req.ServiceName); err != nil {
		return nil, err
	}
	if req.LogPath != "" {
		if err := r.TruncateLog(ctx, req.LogPath); err != nil {
			return nil, err
		}
	}

	err := editStateSync(req.ConfigPath, func(section map[string]any) {
		section["enable"] = true
		section["rpc_servers"] = strings.Join(req.RPCServers, ",")
		section["trust_height"] = req.TrustHeight
		section["trust_hash"] = req.TrustHash
		section["trust_period"] = trustPeriod
	})
	if err != nil {
		return nil, err
	}

	if _, err := r.Run(ctx, req.DaemonBin, "tendermint", "unsafe-reset-all", "--home", req.HomeDir, "--keep-addr-book"); err != nil {
		return nil, fmt.Errorf("resetting chain state for %s: %w", req.NodeName, err)
	}
	wasmCache := filepath.Join(req.HomeDir, "wasm", "cache")
	if r.DirExists(ctx, wasmCache) {
		if err := r.Delete(ctx, wasmCache); err != nil {
			return nil, err
		}
	}

	if err := r.ServiceStart(ctx, req.ServiceName); err != nil {
		return nil, err
	}

	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	deadline := time.Now().Add(timeout)
	synced := false
	for time.Now().Before(deadline) {
		if err := a.sleep(ctx, a.pollInterval); err != nil {
			return nil, err
		}
		catchingUp, err := a.daemonCatchingUp(ctx, req.DaemonBin, req.HomeDir)
		if err != nil {
			// The daemon takes a while to answer status queries after
			// a reset; keep polling until the deadline.
			a.logger.Debug().Err(err).Str("node", req.NodeName).Msg("status query failed, retrying")
			continue
		}
		if !catchingUp {
			synced = true
			break
		}
	}

	if !synced {
		if req.DisableOnTimeout {
			if err := editStateSync(req.ConfigPath, func(section map[string]any) {
				section["enable"] = false
			}); err != nil {
				a.logger.Warn().Err(err).Str("node", req.NodeName).Msg("could not disable state sync after timeout")
			}
		}
		return nil, fmt.Errorf("%w: state sync on %s still catching up after %s timeout", types.ErrTimeout, req.NodeName, timeout)
	}

	err = editStateSync(req.ConfigPath, func(section map[string]any) {
		section["enable"] = false
	})
	if err != nil {
		return nil, err
	}

	if err := r.ServiceStop(ctx, req.ServiceName); err != nil {
		return nil, err
	}
	if err := a.sleep(ctx, a.restartPause); err != nil {
		return nil, err
	}
	if err := r.ServiceStart(ctx, req.ServiceName); err != nil {
		return nil, err
	}
	if err := a.verifyActive(ctx, req.ServiceName); err != nil {
		return nil, err
	}

	return map[string]any{
		"message":      fmt.Sprintf("state sync completed for %s", req.NodeName),
		"trust_height": req.TrustHeight,
		"trust_hash":   req.TrustHash,
	}, nil
}

// daemonCatchingUp asks the local daemon for its sync status. The
// status command writes JSON to stderr on some SDK versions, so both
// streams are captured.
func (a *Agent) daemonCatchingUp(ctx context.Context, daemonBin, homeDir string) (bool, error) {
	out, err := a.runner.Shell(ctx, fmt.Sprintf("%s status --home %s 2>&1", shellQuote(daemonBin), shellQuote(homeDir)))
	if err != nil {
		return false, err
	}
	return parseCatchingUp(out)
}

// parseCatchingUp extracts sync_info.catching_up from daemon status
// output. Older SDKs emit CamelCase section names, newer ones
// snake_case; both are accepted.
func parseCatchingUp(out string) (bool, error) {
	start := strings.IndexByte(out, '{')
	if start < 0 {
		return false, fmt.Errorf("no JSON in status output %q", firstLine(out))
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(out[start:]), &doc); err != nil {
		return false, fmt.Errorf("parsing status output: %w", err)
	}
	for _, key := range []string{"sync_info", "SyncInfo"} {
		raw, ok := doc[key]
		if !ok {
			continue
		}
		var info struct {
			CatchingUp bool `json:"catching_up"`
		}
		if err := json.Unmarshal(raw, &info); err != nil {
			return false, fmt.Errorf("parsing %s: %w", key, err)
		}
		return info.CatchingUp, nil
	}
	return false, fmt.Errorf("status output has no sync_info section")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}

// editStateSync rewrites the [statesync] table of a CometBFT config
// in place, keeping every other table intact. go-toml round-trips
// unknown keys through map[string]any, so the file survives daemons
// we have never seen.
func editStateSync(configPath string, mutate func(section map[string]any)) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: config file %s", types.ErrNotFound, configPath)
		}
		return err
	}
	mode := os.FileMode(0o644)
	if fi, err := os.Stat(configPath); err == nil {
		mode = fi.Mode().Perm()
	}

	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: parsing %s: %v", types.ErrConfigInvalid, configPath, err)
	}
	section, _ := doc["statesync"].(map[string]any)
	if section == nil {
		section = map[string]any{}
	}
	mutate(section)
	doc["statesync"] = section

	out, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", configPath, err)
	}
	return os.WriteFile(configPath, out, mode)
}
