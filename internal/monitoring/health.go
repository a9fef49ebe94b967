package monitoring

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Health states.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Probe checks one collaborator.
type Probe func(ctx context.Context) error

// ModelStatus describes the active model set.
type ModelStatus struct {
	Version string `json:"version"`
	Arity   int    `json:"arity"`
	Classes int    `json:"classes"`
}

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Uptime     string            `json:"uptime"`
	Model      *ModelStatus      `json:"model"`
	Components map[string]string `json:"components"`

	// Resource usage of this process
	Resources struct {
		CPUPercent float64 `json:"cpu_percent"`
		RSSBytes   uint64  `json:"rss_bytes"`
	} `json:"resources"`
}

// HealthChecker aggregates model and collaborator state. Collaborators are
// optional: a failing probe degrades the service, a missing model makes it
// unhealthy.
type HealthChecker struct {
	model   func() *ModelStatus
	started time.Time
	timeout time.Duration

	mu     sync.RWMutex
	probes map[string]Probe
	proc   *process.Process
}

// NewHealthChecker creates a checker. model reports the active model set.
func NewHealthChecker(model func() *ModelStatus) *HealthChecker {
	h := &HealthChecker{
		model:   model,
		started: time.Now(),
		timeout: 2 * time.Second,
		probes:  make(map[string]Probe),
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		h.proc = proc
	}
	return h
}

// Register adds a named collaborator probe.
func (h *HealthChecker) Register(name string, probe Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[name] = probe
}

// Check runs every probe and returns the aggregate status.
func (h *HealthChecker) Check(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Status:     StatusHealthy,
		Timestamp:  time.Now(),
		Uptime:     time.Since(h.started).Round(time.Second).String(),
		Components: make(map[string]string),
	}
	if h.model != nil {
		status.Model = h.model()
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.probes))
	for name := range h.probes {
		names = append(names, name)
	}
	h.mu.RUnlock()
	sort.Strings(names)

	for _, name := range names {
		h.mu.RLock()
		probe := h.probes[name]
		h.mu.RUnlock()

		probeCtx, cancel := context.WithTimeout(ctx, h.timeout)
		err := probe(probeCtx)
		cancel()

		if err != nil {
			status.Components[name] = "down: " + err.Error()
			status.Status = StatusDegraded
		} else {
			status.Components[name] = "up"
		}
	}

	if status.Model == nil {
		status.Status = StatusUnhealthy
	}

	h.checkResources(status)
	return status
}

// checkResources checks process resource usage
func (h *HealthChecker) checkResources(status *HealthStatus) {
	if h.proc == nil {
		return
	}
	if cpu, err := h.proc.CPUPercent(); err == nil {
		status.Resources.CPUPercent = cpu
	}
	if mem, err := h.proc.MemoryInfo(); err == nil && mem != nil {
		status.Resources.RSSBytes = mem.RSS
	}
}
