package metrics

import (
	"sync"
	"time"
)

// componentHealth is the last reported state of one manager subsystem
type componentHealth struct {
	healthy bool
	message string
	updated time.Time
}

// healthRegistry collects subsystem states for /healthz and /readyz.
// Subsystems report in as they start; a subsystem that never reports
// counts against readiness but not against liveness.
type healthRegistry struct {
	mu         sync.RWMutex
	components map[string]componentHealth
	startTime  time.Time
	version    string
}

var registry = &healthRegistry{
	components: make(map[string]componentHealth),
	startTime:  time.Now(),
}

// critical lists the subsystems that must report healthy before the
// manager is considered ready to serve traffic.
var critical = []string{"storage", "monitor", "scheduler"}

// HealthStatus is the document served on /healthz and /readyz
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

// SetVersion sets the version string included in health responses
func SetVersion(version string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.version = version
}

// SetComponent records the current state of a subsystem. Components
// report healthy as they start and unhealthy when they detect a fault.
func SetComponent(name string, healthy bool, message string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	registry.components[name] = componentHealth{
		healthy: healthy,
		message: message,
		updated: time.Now(),
	}
}

// GetHealth reports liveness: healthy unless some registered component
// has reported a fault. An empty registry is healthy.
func GetHealth() HealthStatus {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	status := "healthy"
	components := make(map[string]string, len(registry.components))
	for name, comp := range registry.components {
		if !comp.healthy {
			status = "unhealthy"
			components[name] = "unhealthy: " + comp.message
		} else {
			components[name] = "healthy"
		}
	}

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Version:    registry.version,
		Uptime:     time.Since(registry.startTime).String(),
	}
}

// GetReadiness reports readiness: every critical subsystem must have
// registered and be healthy.
func GetReadiness() HealthStatus {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	status := "ready"
	message := ""
	components := make(map[string]string, len(critical))

	for _, name := range critical {
		comp, exists := registry.components[name]
		switch {
		case !exists:
			status = "not_ready"
			message = "waiting for " + name + " initialization"
			components[name] = "not registered"
		case !comp.healthy:
			status = "not_ready"
			message = "waiting for " + name
			components[name] = "not ready: " + comp.message
		default:
			components[name] = "ready"
		}
	}

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Message:    message,
		Version:    registry.version,
		Uptime:     time.Since(registry.startTime).String(),
	}
}
