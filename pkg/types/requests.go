package types

// Request bodies accepted by the agent HTTP surface. The manager-side
// client marshals these; the agent binds them from JSON.

// CommandRequest runs an arbitrary shell command on the host
type CommandRequest struct {
	Command        string `json:"command"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// ServiceRequest targets a systemd unit
type ServiceRequest struct {
	Service string `json:"service"`
}

// LogRequest targets a log file on the host
type LogRequest struct {
	LogPath string `json:"log_path"`
}

// PruningRequest shrinks a node's block store and application state
type PruningRequest struct {
	NodeName       string `json:"node_name"`
	ServiceName    string `json:"service_name"`
	DeployPath     string `json:"deploy_path"`
	BlocksToKeep   int    `json:"blocks_to_keep"`
	VersionsToKeep int    `json:"versions_to_keep"`
	LogPath        string `json:"log_path,omitempty"`
	PrunerBin      string `json:"pruner_bin,omitempty"`
}

// SnapshotCreateRequest archives a node's data and wasm directories
type SnapshotCreateRequest struct {
	NodeName    string `json:"node_name"`
	Network     string `json:"network,omitempty"`
	DeployPath  string `json:"deploy_path"`
	BackupPath  string `json:"backup_path"`
	ServiceName string `json:"service_name"`
	LogPath     string `json:"log_path,omitempty"`
}

// SnapshotRestoreRequest replaces a node's state from an archive. An
// empty SnapshotPath resolves to the newest archive for the network
// under BackupPath.
type SnapshotRestoreRequest struct {
	NodeName        string `json:"node_name"`
	Network         string `json:"network,omitempty"`
	DeployPath      string `json:"deploy_path"`
	BackupPath      string `json:"backup_path,omitempty"`
	SnapshotPath    string `json:"snapshot_path,omitempty"`
	ValidatorBackup string `json:"validator_backup,omitempty"`
	ServiceName     string `json:"service_name"`
	LogPath         string `json:"log_path,omitempty"`
}

// StateSyncRequest bootstraps a node from a trusted checkpoint instead
// of replaying the chain.
type StateSyncRequest struct {
	NodeName         string   `json:"node_name"`
	ServiceName      string   `json:"service_name"`
	DaemonBin        string   `json:"daemon_bin"`
	HomeDir          string   `json:"home_dir"`
	ConfigPath       string   `json:"config_path"`
	RPCServers       []string `json:"rpc_servers"`
	TrustHeight      int64    `json:"trust_height"`
	TrustHash        string   `json:"trust_hash"`
	TimeoutSeconds   int      `json:"timeout_seconds"`
	LogPath          string   `json:"log_path,omitempty"`
	DisableOnTimeout bool     `json:"disable_on_timeout,omitempty"`
}

// TriggerCheckRequest scans the tail of a log for operator-defined
// patterns that justify an automatic restore.
type TriggerCheckRequest struct {
	LogPath   string   `json:"log_path"`
	Patterns  []string `json:"patterns"`
	TailLines int      `json:"tail_lines,omitempty"`
}

// CleanupRequest invokes the agent janitor with explicit horizons;
// zero values fall back to the defaults (24 h registry, 48 h jobs).
type CleanupRequest struct {
	RegistryHours int `json:"registry_hours,omitempty"`
	JobHours      int `json:"job_hours,omitempty"`
}
