package master

import (
	"github.com/core-tools/hsu-mcp-master/pkg/registry"
	"github.com/core-tools/hsu-mcp-master/pkg/resourcelimits"
)

// sampleUsage samples a service's process and checks its advisory limits.
// Services without a PID, or platforms without sampling, yield nothing.
func (m *Master) sampleUsage(d registry.ServiceDescriptor) (*resourcelimits.ResourceUsage, []resourcelimits.ResourceViolation) {
	if d.PID <= 0 || !m.resources.Supported() {
		return nil, nil
	}
	usage, err := m.resources.Sample(d.PID)
	if err != nil {
		m.logger.Debugf("Resource sample failed, service: %s, pid: %d, error: %v", d.ID, d.PID, err)
		return nil, nil
	}
	if m.metrics != nil {
		m.metrics.ObserveUsage(d.ID, usage.MemoryRSS, usage.CPUPercent)
	}
	return usage, m.limits.CheckViolations(d.ID, usage, d.ResourceLimits)
}

// checkResources samples every listed service and logs limit violations.
// Limits are advisory: nothing is stopped or restarted.
func (m *Master) checkResources(ids []string) []resourcelimits.ResourceViolation {
	var all []resourcelimits.ResourceViolation
	for _, d := range m.descriptors(ids) {
		_, violations := m.sampleUsage(d)
		for _, v := range violations {
			m.logger.Warnf("Resource limit exceeded, service: %s, severity: %s, %s", v.ServiceID, v.Severity, v.Message)
		}
		all = append(all, violations...)
	}
	return all
}
