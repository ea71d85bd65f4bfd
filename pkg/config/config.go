package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/stakeops/warden/pkg/types"
)

const (
	// DefaultAgentPort is the agent bind port
	DefaultAgentPort = 8745
	// DefaultManagerPort is the manager API bind port
	DefaultManagerPort = 8746
)

// Config is the fully loaded manager configuration: main.toml, one
// host file per agent, and the secrets map.
type Config struct {
	Manager     ManagerConfig
	AutoRestore AutoRestoreConfig
	Hosts       map[string]*HostConfig
	secrets     map[string]string
}

// ManagerConfig is the [manager] section of main.toml
type ManagerConfig struct {
	Host                 string `toml:"host"`
	Port                 int    `toml:"port"`
	CheckIntervalSeconds int    `toml:"check_interval_seconds"`
	RPCTimeoutSeconds    int    `toml:"rpc_timeout_seconds"`
	DatabasePath         string `toml:"database_path"`
	AlertWebhookURL      string `toml:"alert_webhook_url"`
	APIKeyRef            string `toml:"api_key_ref"`
	LogLevel             string `toml:"log_level"`
	LogJSON              bool   `toml:"log_json"`
}

// AutoRestoreConfig is the [auto_restore] section of main.toml
type AutoRestoreConfig struct {
	Enabled         bool     `toml:"enabled"`
	Triggers        []string `toml:"triggers"`
	CooldownMinutes int      `toml:"cooldown_minutes"`
}

// HostConfig is one <host>.toml file: the agent endpoint plus the
// nodes, hermes instances, and ETL services living on that host.
type HostConfig struct {
	Name   string                   `toml:"-"`
	Server ServerConfig             `toml:"server"`
	Nodes  map[string]*NodeConfig   `toml:"nodes"`
	Hermes map[string]*HermesConfig `toml:"hermes"`
	ETL    map[string]*ETLConfig    `toml:"etl"`
}

// ServerConfig is the [server] section of a host file
type ServerConfig struct {
	Host                  string `toml:"host"`
	Port                  int    `toml:"port"`
	APIKeyRef             string `toml:"api_key_ref"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	MaxConcurrentOps      int    `toml:"max_concurrent_ops"`
}

// AgentURL returns the base URL of the host's agent.
func (s ServerConfig) AgentURL() string {
	return fmt.Sprintf("http://%s:%d", s.Host, s.Port)
}

// NodeConfig describes one supervised blockchain node. Immutable at
// run time; a config change requires a manager restart.
type NodeConfig struct {
	Name    string `toml:"-"`
	Host    string `toml:"-"`
	Network string `toml:"network"`
	RPCURL  string `toml:"rpc_url"`
	Enabled bool   `toml:"enabled"`

	DeployPath  string `toml:"deploy_path"`
	ServiceName string `toml:"service_name"`
	DaemonBin   string `toml:"daemon_bin"`
	ConfigPath  string `toml:"config_path"`
	LogPath     string `toml:"log_path"`
	BackupPath  string `toml:"backup_path"`

	PrunerBin           string `toml:"pruner_bin"`
	PruningBlocksKeep   int    `toml:"pruning_blocks_keep"`
	PruningVersionsKeep int    `toml:"pruning_versions_keep"`
	PruningSchedule     string `toml:"pruning_schedule"`
	SnapshotSchedule    string `toml:"snapshot_schedule"`

	StateSyncRPCServers     []string `toml:"statesync_rpc_servers"`
	StateSyncTrustOffset    int64    `toml:"statesync_trust_offset"`
	StateSyncTimeoutSeconds int      `toml:"statesync_timeout_seconds"`
}

// HermesConfig describes one IBC relayer instance on a host
type HermesConfig struct {
	Name            string `toml:"-"`
	Host            string `toml:"-"`
	ServiceName     string `toml:"service_name"`
	RestartSchedule string `toml:"restart_schedule"`
	LogPath         string `toml:"log_path"`
}

// ETLConfig describes an auxiliary indexing service on a host. ETL
// services are surfaced in fleet status and restartable manually; they
// are never scheduled.
type ETLConfig struct {
	Name        string `toml:"-"`
	Host        string `toml:"-"`
	ServiceName string `toml:"service_name"`
	Enabled     bool   `toml:"enabled"`
}

type mainFile struct {
	Manager     ManagerConfig     `toml:"manager"`
	AutoRestore AutoRestoreConfig `toml:"auto_restore"`
}

type secretsFile struct {
	Servers map[string]string `toml:"servers"`
}

// Load reads main.toml, every other *.toml host file in dir, and the
// optional sibling secrets.toml. Node, hermes, and ETL keys are
// rewritten to the {host}-{key} form so names are unique fleet-wide.
func Load(dir string) (*Config, error) {
	mainPath := filepath.Join(dir, "main.toml")
	data, err := os.ReadFile(mainPath)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", types.ErrConfigInvalid, mainPath, err)
	}

	var mf mainFile
	if err := toml.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", types.ErrConfigInvalid, mainPath, err)
	}

	cfg := &Config{
		Manager:     mf.Manager,
		AutoRestore: mf.AutoRestore,
		Hosts:       make(map[string]*HostConfig),
		secrets:     make(map[string]string),
	}
	cfg.applyDefaults()

	if err := cfg.loadSecrets(filepath.Join(dir, "secrets.toml")); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: reading config dir: %v", types.ErrConfigInvalid, err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".toml") {
			continue
		}
		if name == "main.toml" || name == "secrets.toml" {
			continue
		}
		host := strings.TrimSuffix(name, ".toml")
		hc, err := loadHostFile(filepath.Join(dir, name), host)
		if err != nil {
			return nil, err
		}
		cfg.Hosts[host] = hc
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Manager.Port == 0 {
		c.Manager.Port = DefaultManagerPort
	}
	if c.Manager.Host == "" {
		c.Manager.Host = "0.0.0.0"
	}
	if c.Manager.CheckIntervalSeconds == 0 {
		c.Manager.CheckIntervalSeconds = 90
	}
	if c.Manager.RPCTimeoutSeconds == 0 {
		c.Manager.RPCTimeoutSeconds = 10
	}
	if c.Manager.DatabasePath == "" {
		c.Manager.DatabasePath = "warden.db"
	}
	if c.Manager.LogLevel == "" {
		c.Manager.LogLevel = "info"
	}
	if c.AutoRestore.CooldownMinutes == 0 {
		c.AutoRestore.CooldownMinutes = 120
	}
}

func (c *Config) loadSecrets(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: reading %s: %v", types.ErrConfigInvalid, path, err)
	}
	var sf secretsFile
	if err := toml.Unmarshal(data, &sf); err != nil {
		return fmt.Errorf("%w: parsing %s: %v", types.ErrConfigInvalid, path, err)
	}
	for ref, key := range sf.Servers {
		c.secrets[ref] = key
	}
	return nil
}

func loadHostFile(path, host string) (*HostConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", types.ErrConfigInvalid, path, err)
	}
	hc := &HostConfig{Name: host}
	if err := toml.Unmarshal(data, hc); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", types.ErrConfigInvalid, path, err)
	}

	if hc.Server.Port == 0 {
		hc.Server.Port = DefaultAgentPort
	}
	if hc.Server.APIKeyRef == "" {
		hc.Server.APIKeyRef = host
	}
	if hc.Server.RequestTimeoutSeconds == 0 {
		hc.Server.RequestTimeoutSeconds = 30
	}
	if hc.Server.MaxConcurrentOps == 0 {
		hc.Server.MaxConcurrentOps = 2
	}

	// Rewrite table keys to their fleet-unique names.
	hc.Nodes = prefixKeys(hc.Nodes, host, func(n *NodeConfig, name string) {
		n.Name = name
		n.Host = host
		if n.ConfigPath == "" && n.DeployPath != "" {
			n.ConfigPath = filepath.Join(n.DeployPath, "config", "config.toml")
		}
		if n.PrunerBin == "" {
			n.PrunerBin = "cosmos-pruner"
		}
		if n.StateSyncTrustOffset == 0 {
			n.StateSyncTrustOffset = 2000
		}
		if n.StateSyncTimeoutSeconds == 0 {
			n.StateSyncTimeoutSeconds = 1800
		}
	})
	hc.Hermes = prefixKeys(hc.Hermes, host, func(h *HermesConfig, name string) {
		h.Name = name
		h.Host = host
	})
	hc.ETL = prefixKeys(hc.ETL, host, func(e *ETLConfig, name string) {
		e.Name = name
		e.Host = host
	})

	return hc, nil
}

// prefixKeys rewrites map keys to {host}-{key} unless already prefixed
// and lets the caller stamp the final name onto each value.
func prefixKeys[T any](in map[string]*T, host string, set func(*T, string)) map[string]*T {
	out := make(map[string]*T, len(in))
	for key, v := range in {
		name := key
		if !strings.HasPrefix(name, host+"-") {
			name = host + "-" + key
		}
		set(v, name)
		out[name] = v
	}
	return out
}

func (c *Config) validate() error {
	seen := make(map[string]string)
	for host, hc := range c.Hosts {
		if hc.Server.Host == "" {
			return fmt.Errorf("%w: host %s: [server] host is required", types.ErrConfigInvalid, host)
		}
		for name, n := range hc.Nodes {
			if prev, ok := seen[name]; ok {
				return fmt.Errorf("%w: node %s defined on both %s and %s", types.ErrConfigInvalid, name, prev, host)
			}
			seen[name] = host
			if n.Enabled && n.RPCURL == "" {
				return fmt.Errorf("%w: node %s: rpc_url is required when enabled", types.ErrConfigInvalid, name)
			}
		}
	}
	return nil
}

// APIKey resolves a key reference against secrets.toml.
func (c *Config) APIKey(ref string) (string, error) {
	key, ok := c.secrets[ref]
	if !ok || key == "" {
		return "", fmt.Errorf("%w: no secret for key reference %q", types.ErrConfigInvalid, ref)
	}
	return key, nil
}

// ManagerAPIKey resolves the manager's own bearer key. An empty
// reference means the manager API runs without authentication.
func (c *Config) ManagerAPIKey() (string, error) {
	if c.Manager.APIKeyRef == "" {
		return "", nil
	}
	return c.APIKey(c.Manager.APIKeyRef)
}

// Node finds a node by its fleet-unique name.
func (c *Config) Node(name string) (*NodeConfig, bool) {
	for _, hc := range c.Hosts {
		if n, ok := hc.Nodes[name]; ok {
			return n, true
		}
	}
	return nil, false
}

// Hermes finds a hermes instance by name.
func (c *Config) HermesInstance(name string) (*HermesConfig, bool) {
	for _, hc := range c.Hosts {
		if h, ok := hc.Hermes[name]; ok {
			return h, true
		}
	}
	return nil, false
}

// Host returns the host config a node or instance lives on.
func (c *Config) Host(name string) (*HostConfig, bool) {
	hc, ok := c.Hosts[name]
	return hc, ok
}

// AllNodes returns every configured node sorted by name.
func (c *Config) AllNodes() []*NodeConfig {
	var nodes []*NodeConfig
	for _, hc := range c.Hosts {
		for _, n := range hc.Nodes {
			nodes = append(nodes, n)
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	return nodes
}

// EnabledNodes returns the nodes the health monitor should watch.
func (c *Config) EnabledNodes() []*NodeConfig {
	var nodes []*NodeConfig
	for _, n := range c.AllNodes() {
		if n.Enabled {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// AllHermes returns every hermes instance sorted by name.
func (c *Config) AllHermes() []*HermesConfig {
	var out []*HermesConfig
	for _, hc := range c.Hosts {
		for _, h := range hc.Hermes {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ETLInstance finds an ETL service by name.
func (c *Config) ETLInstance(name string) (*ETLConfig, bool) {
	for _, hc := range c.Hosts {
		if e, ok := hc.ETL[name]; ok {
			return e, true
		}
	}
	return nil, false
}

// AllETL returns every ETL service sorted by name.
func (c *Config) AllETL() []*ETLConfig {
	var out []*ETLConfig
	for _, hc := range c.Hosts {
		for _, e := range hc.ETL {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
