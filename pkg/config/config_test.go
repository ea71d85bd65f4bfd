package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stakeops/warden/pkg/types"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

const mainTOML = `
[manager]
host = "127.0.0.1"
check_interval_seconds = 30
alert_webhook_url = "https://hooks.example.com/warden"

[auto_restore]
enabled = true
triggers = ["panic", "wrong Block.Header.AppHash"]
`

const hostTOML = `
[server]
host = "10.0.0.5"
api_key_ref = "validator-1"

[nodes.node1]
network = "osmosis-1"
rpc_url = "http://10.0.0.5:26657"
enabled = true
deploy_path = "/home/osmosis/.osmosisd"
service_name = "osmosisd"
pruning_blocks_keep = 100
pruning_versions_keep = 100
pruning_schedule = "0 0 3 * * 0"

[nodes.validator-1-node2]
network = "juno-1"
rpc_url = "http://10.0.0.5:26658"
enabled = false

[hermes.relayer]
service_name = "hermes"
restart_schedule = "0 0 */6 * * *"

[etl.indexer]
service_name = "osmosis-indexer"
enabled = true
`

const secretsTOML = `
[servers]
validator-1 = "test-api-key"
`

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.toml", mainTOML)
	writeFile(t, dir, "validator-1.toml", hostTOML)
	writeFile(t, dir, "secrets.toml", secretsTOML)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Manager.Host)
	assert.Equal(t, DefaultManagerPort, cfg.Manager.Port)
	assert.Equal(t, 30, cfg.Manager.CheckIntervalSeconds)
	assert.Equal(t, 10, cfg.Manager.RPCTimeoutSeconds)
	assert.True(t, cfg.AutoRestore.Enabled)
	assert.Equal(t, 120, cfg.AutoRestore.CooldownMinutes)

	hc, ok := cfg.Host("validator-1")
	require.True(t, ok)
	assert.Equal(t, DefaultAgentPort, hc.Server.Port)
	assert.Equal(t, "http://10.0.0.5:8745", hc.Server.AgentURL())

	key, err := cfg.APIKey(hc.Server.APIKeyRef)
	require.NoError(t, err)
	assert.Equal(t, "test-api-key", key)
}

func TestLoadPrefixesNames(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.toml", mainTOML)
	writeFile(t, dir, "validator-1.toml", hostTOML)

	cfg, err := Load(dir)
	require.NoError(t, err)

	// Unprefixed key gets the host prepended.
	n, ok := cfg.Node("validator-1-node1")
	require.True(t, ok)
	assert.Equal(t, "validator-1", n.Host)
	assert.Equal(t, "osmosis-1", n.Network)
	assert.Equal(t, "cosmos-pruner", n.PrunerBin)
	assert.Equal(t, int64(2000), n.StateSyncTrustOffset)
	assert.Equal(t, "/home/osmosis/.osmosisd/config/config.toml", n.ConfigPath)

	// Already-prefixed key is left alone.
	_, ok = cfg.Node("validator-1-node2")
	assert.True(t, ok)
	_, ok = cfg.Node("validator-1-validator-1-node2")
	assert.False(t, ok)

	h, ok := cfg.HermesInstance("validator-1-relayer")
	require.True(t, ok)
	assert.Equal(t, "hermes", h.ServiceName)
}

func TestLoadDuplicateNodeNames(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.toml", mainTOML)
	writeFile(t, dir, "host-a.toml", `
[server]
host = "10.0.0.5"

[nodes.shared-node]
rpc_url = "http://10.0.0.5:26657"
enabled = true
`)
	writeFile(t, dir, "host-b.toml", `
[server]
host = "10.0.0.6"

[nodes.host-a-shared-node]
rpc_url = "http://10.0.0.6:26657"
enabled = true
`)

	_, err := Load(dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrConfigInvalid))
	assert.Contains(t, err.Error(), "host-a-shared-node")
}

func TestLoadEnabledNodeNeedsRPC(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.toml", mainTOML)
	writeFile(t, dir, "host-a.toml", `
[server]
host = "10.0.0.5"

[nodes.broken]
enabled = true
`)

	_, err := Load(dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrConfigInvalid))
	assert.Contains(t, err.Error(), "rpc_url")
}

func TestLoadMissingMain(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrConfigInvalid))
}

func TestAPIKeyMissing(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.toml", mainTOML)

	cfg, err := Load(dir)
	require.NoError(t, err)

	_, err = cfg.APIKey("nonexistent")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrConfigInvalid))
}

func TestEnabledNodes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.toml", mainTOML)
	writeFile(t, dir, "validator-1.toml", hostTOML)

	cfg, err := Load(dir)
	require.NoError(t, err)

	all := cfg.AllNodes()
	require.Len(t, all, 2)
	assert.Equal(t, "validator-1-node1", all[0].Name)

	enabled := cfg.EnabledNodes()
	require.Len(t, enabled, 1)
	assert.Equal(t, "validator-1-node1", enabled[0].Name)
}

func TestManagerAPIKey(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.toml", `
[manager]
api_key_ref = "manager"
`)
	writeFile(t, dir, "secrets.toml", `
[servers]
manager = "manager-key"
`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	key, err := cfg.ManagerAPIKey()
	require.NoError(t, err)
	assert.Equal(t, "manager-key", key)
}
