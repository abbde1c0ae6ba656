// Package resourcelimits samples the resource usage of managed service
// processes and checks it against their advisory limits. Nothing is enforced:
// violations are reported, never acted on.
package resourcelimits

import (
	"time"
)

type ResourceLimitType string

const (
	ResourceLimitTypeMemory ResourceLimitType = "memory"
	ResourceLimitTypeCPU    ResourceLimitType = "cpu"
)

type ViolationSeverity string

const (
	ViolationSeverityWarning  ViolationSeverity = "warning"
	ViolationSeverityCritical ViolationSeverity = "critical"
)

// DefaultWarningThreshold is the percentage of a limit that raises a warning
const DefaultWarningThreshold = 80.0

// ResourceUsage is one sample of a process
type ResourceUsage struct {
	PID       int       `json:"pid"`
	Timestamp time.Time `json:"timestamp"`

	MemoryRSS int64 `json:"memory_rss"` // bytes

	CPUTime    float64 `json:"cpu_time"`    // seconds since process start
	CPUPercent float64 `json:"cpu_percent"` // since the previous sample; 0 on the first

	OpenFileDescriptors int `json:"open_file_descriptors,omitempty"`
}

// MemoryMB returns the resident set size in megabytes
func (u ResourceUsage) MemoryMB() float64 {
	return float64(u.MemoryRSS) / (1024 * 1024)
}

type ResourceViolation struct {
	ServiceID    string            `json:"service_id"`
	LimitType    ResourceLimitType `json:"limit_type"`
	CurrentValue float64           `json:"current_value"`
	LimitValue   float64           `json:"limit_value"`
	Severity     ViolationSeverity `json:"severity"`
	Timestamp    time.Time         `json:"timestamp"`
	Message      string            `json:"message"`
}

// PlatformResourceMonitor reads raw usage of a process
type PlatformResourceMonitor interface {
	GetProcessUsage(pid int) (*ResourceUsage, error)
	SupportsRealTimeMonitoring() bool
}
