package config

import (
	"fmt"

	"github.com/core-tools/hsu-mcp-master/pkg/errors"
	"github.com/core-tools/hsu-mcp-master/pkg/registry"
)

// Sane bounds for the numeric settings; values outside produce warnings
const (
	MinHealthCheckInterval      = 5
	MaxHealthCheckInterval      = 3600
	MinServiceDiscoveryInterval = 10
	MaxServiceDiscoveryInterval = 86400
	MinMaxRetryAttempts         = 0
	MaxMaxRetryAttempts         = 20
	PrivilegedPortLimit         = 1024
)

// ValidationReport lists blocking errors and non-blocking warnings in document order
type ValidationReport struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (r *ValidationReport) addError(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationReport) addWarning(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// ToError returns a ValidationError carrying the report, or nil when valid
func (r ValidationReport) ToError(message string) error {
	if r.IsValid {
		return nil
	}
	return errors.NewValidationReportError(message, r.Errors, r.Warnings)
}

// Validate checks a snapshot. It has no side effects and the output only
// depends on the input.
func Validate(snapshot registry.Snapshot) ValidationReport {
	report := ValidationReport{Errors: []string{}, Warnings: []string{}}

	validateSettings(snapshot.Settings, &report)

	ids := make(map[string]int)
	ports := make(map[int]string)
	for i, d := range snapshot.Services {
		label := d.ID
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		validateService(label, d, &report)

		if d.ID != "" {
			if first, seen := ids[d.ID]; seen {
				report.addError("service '%s': duplicate id (first defined at position %d)", d.ID, first)
			} else {
				ids[d.ID] = i
			}
		}
		if d.Port >= 1 && d.Port <= 65535 {
			if holder, seen := ports[d.Port]; seen {
				report.addError("service '%s': port %d already used by service '%s'", label, d.Port, holder)
			} else {
				ports[d.Port] = label
			}
		}
	}

	report.IsValid = len(report.Errors) == 0
	return report
}

// ValidateRegistry validates the current contents of reg
func ValidateRegistry(reg *registry.Registry) ValidationReport {
	return Validate(reg.Snapshot())
}

func validateService(label string, d registry.ServiceDescriptor, report *ValidationReport) {
	if d.ID == "" {
		report.addError("service %s: id is required", label)
	}
	if d.Name == "" {
		report.addError("service '%s': name is required", label)
	}
	if d.Type == "" {
		report.addError("service '%s': type is required", label)
	} else if !d.Type.IsKnown() {
		report.addWarning("service '%s': unknown type '%s'", label, d.Type)
	}

	if d.Port < 1 || d.Port > 65535 {
		report.addError("service '%s': port %d out of range 1-65535", label, d.Port)
	} else if d.Port < PrivilegedPortLimit {
		report.addWarning("service '%s': port %d is a privileged port", label, d.Port)
	}

	if !d.RestartPolicy.IsValid() {
		report.addWarning("service '%s': unknown restart policy '%s', treated as '%s'",
			label, d.RestartPolicy, registry.RestartOnFailure)
	}

	switch d.HealthProbe {
	case registry.HealthProbeNone, registry.HealthProbeGRPC, registry.HealthProbeProcess:
	default:
		report.addWarning("service '%s': unknown health probe '%s' ignored", label, d.HealthProbe)
	}

	if d.ResourceLimits != nil {
		if d.ResourceLimits.MemoryMB < 0 {
			report.addWarning("service '%s': negative memory limit ignored", label)
		}
		if d.ResourceLimits.CPUPercent < 0 || d.ResourceLimits.CPUPercent > 100 {
			report.addWarning("service '%s': cpu limit %d%% outside 0-100", label, d.ResourceLimits.CPUPercent)
		}
	}
}

func validateSettings(s registry.Settings, report *ValidationReport) {
	if s.HealthCheckInterval < MinHealthCheckInterval || s.HealthCheckInterval > MaxHealthCheckInterval {
		report.addWarning("%s %d outside recommended range [%d, %d]",
			KeyHealthCheckInterval, s.HealthCheckInterval, MinHealthCheckInterval, MaxHealthCheckInterval)
	}
	if s.ServiceDiscoveryInterval < MinServiceDiscoveryInterval || s.ServiceDiscoveryInterval > MaxServiceDiscoveryInterval {
		report.addWarning("%s %d outside recommended range [%d, %d]",
			KeyServiceDiscoveryInterval, s.ServiceDiscoveryInterval, MinServiceDiscoveryInterval, MaxServiceDiscoveryInterval)
	}
	if s.MaxRetryAttempts < MinMaxRetryAttempts || s.MaxRetryAttempts > MaxMaxRetryAttempts {
		report.addWarning("%s %d outside recommended range [%d, %d]",
			KeyMaxRetryAttempts, s.MaxRetryAttempts, MinMaxRetryAttempts, MaxMaxRetryAttempts)
	}
}
