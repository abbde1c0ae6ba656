package domain

import (
	"time"

	"github.com/core-tools/hsu-mcp-master/pkg/errors"
	"github.com/core-tools/hsu-mcp-master/pkg/lock"
	"github.com/core-tools/hsu-mcp-master/pkg/monitoring"
	"github.com/core-tools/hsu-mcp-master/pkg/registry"
	"github.com/core-tools/hsu-mcp-master/pkg/resourcelimits"
	"github.com/core-tools/hsu-mcp-master/pkg/restart"
	"github.com/core-tools/hsu-mcp-master/pkg/stats"

	"github.com/google/uuid"
)

// Operation names
const (
	OperationDeploy    = "deploy"
	OperationStart     = "start"
	OperationStop      = "stop"
	OperationRestart   = "restart"
	OperationStatus    = "status"
	OperationMonitor   = "monitor"
	OperationHealth    = "health"
	OperationConfigure = "configure"
	OperationBackup    = "backup"
	OperationRestore   = "restore"
	OperationCompare   = "compare"
	OperationClean     = "clean"
	OperationReset     = "reset"
	OperationRegister  = "register"
	OperationRemove    = "unregister"
	OperationReload    = "reload"
)

// Operations lists the named operations of the operational surface
var Operations = []string{
	OperationDeploy, OperationStart, OperationStop, OperationRestart, OperationStatus,
	OperationMonitor, OperationHealth, OperationConfigure, OperationBackup, OperationRestore,
	OperationCompare, OperationClean, OperationReset,
}

// Phase is one step of a multi-step operation
type Phase struct {
	Name     string        `json:"name"`
	Success  bool          `json:"success"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

// OperationResult is what every facade operation reports. ErrorType
// classifies the first recorded error.
type OperationResult struct {
	ID          string           `json:"id"`
	Operation   string           `json:"operation"`
	Environment string           `json:"environment,omitempty"`
	Success     bool             `json:"success"`
	Phases      []Phase          `json:"phases,omitempty"`
	Errors      []string         `json:"errors"`
	ErrorType   errors.ErrorType `json:"error_type,omitempty"`
	Warnings    []string         `json:"warnings"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  time.Time        `json:"finished_at"`
	Data        interface{}      `json:"data,omitempty"`
}

func NewOperationResult(operation, environment string, startedAt time.Time) OperationResult {
	return OperationResult{
		ID:          uuid.NewString(),
		Operation:   operation,
		Environment: environment,
		Errors:      []string{},
		Warnings:    []string{},
		StartedAt:   startedAt,
	}
}

// AddError records err. A validation error contributes its itemized
// errors and warnings rather than a single summary line, and a collection
// contributes each of its errors.
func (r *OperationResult) AddError(err error) {
	if err == nil {
		return
	}
	if collection, ok := err.(*errors.ErrorCollection); ok {
		for _, e := range collection.Errors {
			r.AddError(e)
		}
		return
	}
	domainErr, ok := errors.AsDomainError(err)
	if len(r.Errors) == 0 {
		r.ErrorType = errors.ErrorTypeInternal
		if ok {
			r.ErrorType = domainErr.Type
		}
	}
	if ok {
		itemized := domainErr.Strings(errors.ContextKeyErrors)
		r.Warnings = append(r.Warnings, domainErr.Strings(errors.ContextKeyWarnings)...)
		if len(itemized) > 0 {
			r.Errors = append(r.Errors, domainErr.Message)
			r.Errors = append(r.Errors, itemized...)
			return
		}
	}
	r.Errors = append(r.Errors, err.Error())
}

func (r *OperationResult) AddWarning(warning string) {
	r.Warnings = append(r.Warnings, warning)
}

// AddPhase records a finished phase and reports whether it succeeded
func (r *OperationResult) AddPhase(name string, startedAt time.Time, finishedAt time.Time, err error) bool {
	phase := Phase{Name: name, Success: err == nil, Duration: finishedAt.Sub(startedAt)}
	if err != nil {
		phase.Message = err.Error()
		r.AddError(err)
	}
	r.Phases = append(r.Phases, phase)
	return err == nil
}

// SkipPhase records a phase that did not run because an earlier one failed
func (r *OperationResult) SkipPhase(name string) {
	r.Phases = append(r.Phases, Phase{Name: name, Message: "skipped"})
}

func (r *OperationResult) Failed() bool {
	return len(r.Errors) > 0
}

// Finish stamps the result; success means no errors were recorded
func (r *OperationResult) Finish(finishedAt time.Time) {
	r.FinishedAt = finishedAt
	r.Success = len(r.Errors) == 0
}

// ServiceStatus is a registered service with its runtime bookkeeping
type ServiceStatus struct {
	registry.ServiceDescriptor
	Restart    restart.State                      `json:"restart"`
	Stats      *stats.ServiceSummary              `json:"stats,omitempty"`
	Usage      *resourcelimits.ResourceUsage      `json:"usage,omitempty"`
	Violations []resourcelimits.ResourceViolation `json:"violations,omitempty"`
}

// StatusReport is the read-only view returned by Status
type StatusReport struct {
	Services  []ServiceStatus   `json:"services"`
	Settings  registry.Settings `json:"settings"`
	Counts    map[string]int    `json:"counts"`
	Lock      *lock.Record      `json:"lock,omitempty"`
	CheckedAt time.Time         `json:"checked_at"`
}

// HealthReport is the outcome of one health pass
type HealthReport struct {
	Verdicts  []monitoring.Verdict `json:"verdicts"`
	Healthy   int                  `json:"healthy"`
	Unhealthy int                  `json:"unhealthy"`
	CheckedAt time.Time            `json:"checked_at"`
}

// NewHealthReport counts the verdicts
func NewHealthReport(verdicts []monitoring.Verdict, checkedAt time.Time) HealthReport {
	report := HealthReport{Verdicts: verdicts, CheckedAt: checkedAt}
	if report.Verdicts == nil {
		report.Verdicts = []monitoring.Verdict{}
	}
	for _, v := range verdicts {
		if v.Healthy {
			report.Healthy++
		} else {
			report.Unhealthy++
		}
	}
	return report
}
