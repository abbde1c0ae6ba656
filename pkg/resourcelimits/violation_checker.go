package resourcelimits

import (
	"fmt"
	"time"

	"github.com/core-tools/hsu-mcp-master/pkg/registry"
)

type ResourceViolationChecker struct {
	warningThreshold float64
}

// NewResourceViolationChecker creates a checker warning at warningThreshold
// percent of each limit; a non-positive threshold uses DefaultWarningThreshold.
func NewResourceViolationChecker(warningThreshold float64) *ResourceViolationChecker {
	if warningThreshold <= 0 || warningThreshold > 100 {
		warningThreshold = DefaultWarningThreshold
	}
	return &ResourceViolationChecker{warningThreshold: warningThreshold}
}

// CheckViolations returns at most one violation per limit type, critical
// taking precedence over warning.
func (rv *ResourceViolationChecker) CheckViolations(serviceID string, usage *ResourceUsage, limits *registry.ResourceLimits) []ResourceViolation {
	if usage == nil || limits == nil {
		return nil
	}

	timestamp := usage.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	var violations []ResourceViolation
	if limits.MemoryMB > 0 {
		if v, ok := rv.check(ResourceLimitTypeMemory, usage.MemoryMB(), float64(limits.MemoryMB), "Memory RSS (%.1f MB) exceeds %s (%.1f MB)"); ok {
			violations = append(violations, v)
		}
	}
	if limits.CPUPercent > 0 {
		if v, ok := rv.check(ResourceLimitTypeCPU, usage.CPUPercent, float64(limits.CPUPercent), "CPU usage (%.1f%%) exceeds %s (%.1f%%)"); ok {
			violations = append(violations, v)
		}
	}

	for i := range violations {
		violations[i].ServiceID = serviceID
		violations[i].Timestamp = timestamp
	}
	return violations
}

func (rv *ResourceViolationChecker) check(limitType ResourceLimitType, current, limit float64, format string) (ResourceViolation, bool) {
	if current > limit {
		return ResourceViolation{
			LimitType:    limitType,
			CurrentValue: current,
			LimitValue:   limit,
			Severity:     ViolationSeverityCritical,
			Message:      fmt.Sprintf(format, current, "limit", limit),
		}, true
	}

	warningLimit := limit * (rv.warningThreshold / 100.0)
	if current > warningLimit {
		return ResourceViolation{
			LimitType:    limitType,
			CurrentValue: current,
			LimitValue:   warningLimit,
			Severity:     ViolationSeverityWarning,
			Message:      fmt.Sprintf(format, current, "warning threshold", warningLimit),
		}, true
	}
	return ResourceViolation{}, false
}
