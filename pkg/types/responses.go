package types

// AgentResponse is the JSON envelope every agent endpoint returns.
// Fields beyond Success are populated as relevant to the route: async
// dispatches carry JobID, command output lands in Output, job and
// service statuses in Status, structured payloads in Data.
type AgentResponse struct {
	Success       bool           `json:"success"`
	Error         string         `json:"error,omitempty"`
	JobID         string         `json:"job_id,omitempty"`
	Status        string         `json:"status,omitempty"`
	Output        string         `json:"output,omitempty"`
	UptimeSeconds int64          `json:"uptime_seconds,omitempty"`
	Filename      string         `json:"filename,omitempty"`
	SizeBytes     int64          `json:"size_bytes,omitempty"`
	Path          string         `json:"path,omitempty"`
	Compression   string         `json:"compression,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
}
