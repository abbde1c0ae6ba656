package master

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/core-tools/hsu-mcp-master/pkg/config"
	"github.com/core-tools/hsu-mcp-master/pkg/domain"
	"github.com/core-tools/hsu-mcp-master/pkg/errors"
	"github.com/core-tools/hsu-mcp-master/pkg/logging"
	"github.com/core-tools/hsu-mcp-master/pkg/monitoring"
	"github.com/core-tools/hsu-mcp-master/pkg/process"
	"github.com/core-tools/hsu-mcp-master/pkg/registry"
	"github.com/core-tools/hsu-mcp-master/pkg/stats"
)

// Phase names
const (
	PhaseConfig   = "config"
	PhaseBackup   = "backup"
	PhaseStart    = "start"
	PhaseStop     = "stop"
	PhaseHealth   = "health"
	PhaseTemplate = "template"
	PhaseApply    = "apply"
	PhaseManifest = "manifest"
	PhaseRestore  = "restore"
	PhaseClean    = "clean"
)

// DeployReport is the Data of deploy and reset results
type DeployReport struct {
	Backup  *config.BackupHandle `json:"backup,omitempty"`
	Diff    *config.DiffResult   `json:"diff,omitempty"`
	Created bool                 `json:"created"`
	Started []string             `json:"started"`
	Health  *domain.HealthReport `json:"health,omitempty"`
}

// ServicesReport is the Data of start, stop and restart results
type ServicesReport struct {
	Services []string             `json:"services"`
	Health   *domain.HealthReport `json:"health,omitempty"`
}

// RestoreReport is the Data of a restore result
type RestoreReport struct {
	Restored config.BackupHandle  `json:"restored"`
	Backup   *config.BackupHandle `json:"backup,omitempty"`
	Diff     config.DiffResult    `json:"diff"`
}

type phase struct {
	name string
	run  func(ctx context.Context) error
}

// runPhases runs phases in order. The first failure, or a cancelled ctx,
// marks every later phase as skipped.
func (m *Master) runPhases(ctx context.Context, result *domain.OperationResult, phases ...phase) bool {
	for i, p := range phases {
		if err := ctx.Err(); err != nil {
			result.AddError(errors.NewCancelledError(fmt.Sprintf("operation cancelled before phase '%s'", p.name), err))
			for _, rest := range phases[i:] {
				result.SkipPhase(rest.name)
			}
			return false
		}

		startedAt := m.now()
		err := p.run(ctx)
		if !result.AddPhase(p.name, startedAt, m.now(), err) {
			m.logger.Errorf("Phase failed, operation: %s, phase: %s, error: %v", result.Operation, p.name, err)
			for _, rest := range phases[i+1:] {
				result.SkipPhase(rest.name)
			}
			return false
		}
		m.logger.Debugf("Phase completed, operation: %s, phase: %s", result.Operation, p.name)
	}
	return true
}

func (m *Master) Deploy(ctx context.Context, environment string) domain.OperationResult {
	environment = m.environment(environment)
	return m.locked(ctx, domain.OperationDeploy, environment, func(ctx context.Context, result *domain.OperationResult) {
		report := &DeployReport{Started: []string{}}
		result.Data = report
		m.runPhases(ctx, result, m.deployPhases(environment, m.config.Template, false, result, report)...)
	})
}

// deployPhases builds config, backup, start and health. fromTemplate discards
// the current document in favour of the template.
func (m *Master) deployPhases(environment, template string, fromTemplate bool, result *domain.OperationResult, report *DeployReport) []phase {
	return []phase{
		{PhaseConfig, func(ctx context.Context) error {
			return m.prepareConfig(environment, template, fromTemplate, result, report)
		}},
		{PhaseBackup, func(ctx context.Context) error {
			handle, err := config.BackupFile(m.config.ConfigPath, m.config.BackupDir, m.now())
			if err != nil {
				return err
			}
			report.Backup = &handle
			return nil
		}},
		{PhaseStart, func(ctx context.Context) error {
			started, err := m.startServices(ctx, m.reg.List(registry.Filter{}), true, result)
			report.Started = append(report.Started, started...)
			return err
		}},
		{PhaseHealth, func(ctx context.Context) error {
			health := m.awaitHealthy(ctx, m.probeTargets(), report.Started)
			report.Health = &health
			return m.judgeHealth(health, result)
		}},
	}
}

// prepareConfig validates the configuration document, or creates it from
// the template when it is missing.
func (m *Master) prepareConfig(environment, template string, fromTemplate bool, result *domain.OperationResult, report *DeployReport) error {
	path := m.config.ConfigPath

	var snapshot registry.Snapshot
	if !fromTemplate && fileExists(path) {
		parsed, err := config.ParseFile(path)
		if err != nil {
			return err
		}
		snapshot = parsed
	} else {
		generated, err := config.TemplateSnapshot(template, environment, nil)
		if err != nil {
			return err
		}
		snapshot = generated
		report.Created = true
	}

	validation := config.Validate(snapshot)
	if !validation.IsValid {
		return validation.ToError(fmt.Sprintf("configuration '%s' is invalid", path))
	}
	for _, warning := range validation.Warnings {
		result.AddWarning(warning)
	}

	diff := config.Diff(m.reg.Snapshot(), snapshot)
	report.Diff = &diff
	if report.Created || !diff.IsEmpty() {
		if err := m.reg.Replace(snapshot); err != nil {
			return err
		}
	}
	if report.Created {
		m.logger.Infof("Configuration created from template, path: %s, template: %s, environment: %s",
			path, template, environment)
	}

	m.applySettings()
	return nil
}

// judgeHealth turns unhealthy verdicts into errors for auto-started managed
// services and into warnings for everything else.
func (m *Master) judgeHealth(health domain.HealthReport, result *domain.OperationResult) error {
	errs := errors.NewErrorCollection()
	for _, v := range health.Verdicts {
		if v.Healthy {
			continue
		}
		d, ok := m.reg.Get(v.ServiceID)
		message := fmt.Sprintf("service '%s' is unhealthy: %s %s", v.ServiceID, v.Reason, v.Message)
		if ok && d.AutoStart && process.IsManaged(d) {
			errs.Add(errors.NewHealthCheckError(strings.TrimSpace(message), nil).WithContext("id", v.ServiceID))
			continue
		}
		result.AddWarning(strings.TrimSpace(message))
	}
	return errs.ToError()
}

func (m *Master) Start(ctx context.Context, environment string, ids ...string) domain.OperationResult {
	environment = m.environment(environment)
	return m.locked(ctx, domain.OperationStart, environment, func(ctx context.Context, result *domain.OperationResult) {
		report := &ServicesReport{Services: []string{}}
		result.Data = report

		targets, err := m.targets(ids)
		if err != nil {
			result.AddError(err)
			return
		}
		started, err := m.startServices(ctx, targets, false, result)
		report.Services = append(report.Services, started...)
		result.AddError(err)

		if len(started) > 0 {
			health := m.awaitHealthy(ctx, m.descriptors(started), started)
			report.Health = &health
			for _, v := range health.Verdicts {
				if !v.Healthy {
					result.AddWarning(fmt.Sprintf("service '%s' started but is not healthy yet: %s", v.ServiceID, v.Reason))
				}
			}
		}
	})
}

func (m *Master) Stop(ctx context.Context, environment string, ids ...string) domain.OperationResult {
	environment = m.environment(environment)
	return m.locked(ctx, domain.OperationStop, environment, func(ctx context.Context, result *domain.OperationResult) {
		report := &ServicesReport{Services: []string{}}
		result.Data = report

		targets, err := m.targets(ids)
		if err != nil {
			result.AddError(err)
			return
		}
		stopped, err := m.stopServices(ctx, targets, result)
		report.Services = append(report.Services, stopped...)
		result.AddError(err)
	})
}

func (m *Master) Restart(ctx context.Context, environment string, ids ...string) domain.OperationResult {
	environment = m.environment(environment)
	return m.locked(ctx, domain.OperationRestart, environment, func(ctx context.Context, result *domain.OperationResult) {
		report := &ServicesReport{Services: []string{}}
		result.Data = report

		targets, err := m.targets(ids)
		if err != nil {
			result.AddError(err)
			return
		}

		ok := m.runPhases(ctx, result,
			phase{PhaseStop, func(ctx context.Context) error {
				_, err := m.stopServices(ctx, targets, result)
				return err
			}},
			phase{PhaseStart, func(ctx context.Context) error {
				started, err := m.startServices(ctx, m.descriptors(idsOf(targets)), false, result)
				report.Services = append(report.Services, started...)
				return err
			}},
		)
		if ok && len(report.Services) > 0 {
			health := m.awaitHealthy(ctx, m.descriptors(report.Services), report.Services)
			report.Health = &health
			for _, v := range health.Verdicts {
				if !v.Healthy {
					result.AddWarning(fmt.Sprintf("service '%s' restarted but is not healthy yet: %s", v.ServiceID, v.Reason))
				}
			}
		}
	})
}

// startServices starts managed targets. With autoStartOnly, services without
// auto_start are left alone. Unmanaged services are reported as warnings.
func (m *Master) startServices(ctx context.Context, targets []registry.ServiceDescriptor, autoStartOnly bool, result *domain.OperationResult) ([]string, error) {
	errs := errors.NewErrorCollection()
	started := []string{}

	for _, d := range targets {
		if autoStartOnly && !d.AutoStart {
			continue
		}
		if !process.IsManaged(d) {
			result.AddWarning(fmt.Sprintf("service '%s' has no command and is only monitored", d.ID))
			continue
		}
		if err := ctx.Err(); err != nil {
			errs.Add(errors.NewCancelledError("start cancelled", err).WithContext("id", d.ID))
			break
		}
		if err := m.startService(ctx, d); err != nil {
			errs.Add(err)
			continue
		}
		started = append(started, d.ID)
	}
	return started, errs.ToError()
}

func (m *Master) startService(ctx context.Context, d registry.ServiceDescriptor) error {
	m.setHeld(d.ID, true)
	defer m.setHeld(d.ID, false)

	m.reg.UpdateStatus(d.ID, registry.StatusStarting, time.Time{})
	pid, err := m.control.Start(ctx, d)
	if err != nil {
		m.reg.UpdateStatus(d.ID, registry.StatusError, time.Time{})
		m.logger.Errorf("Failed to start service, id: %s, error: %v", d.ID, err)
		return err
	}
	m.reg.SetPID(d.ID, pid)
	m.controller.Reset(d.ID)
	m.logger.Infof("Service started, id: %s, PID: %d", d.ID, pid)
	return nil
}

// stopServices stops every target it can. Stopping is not interrupted by a
// cancelled ctx once begun.
func (m *Master) stopServices(ctx context.Context, targets []registry.ServiceDescriptor, result *domain.OperationResult) ([]string, error) {
	errs := errors.NewErrorCollection()
	stopped := []string{}
	stopCtx := context.WithoutCancel(ctx)

	for _, d := range targets {
		if !process.IsManaged(d) && d.PID == 0 {
			result.AddWarning(fmt.Sprintf("service '%s' is not managed, nothing to stop", d.ID))
			continue
		}
		if err := m.stopService(stopCtx, d); err != nil {
			errs.Add(err)
			continue
		}
		stopped = append(stopped, d.ID)
	}
	return stopped, errs.ToError()
}

func (m *Master) stopService(ctx context.Context, d registry.ServiceDescriptor) error {
	m.setHeld(d.ID, true)
	defer m.setHeld(d.ID, false)

	if err := m.control.Stop(ctx, d); err != nil {
		m.reg.UpdateStatus(d.ID, registry.StatusError, time.Time{})
		m.logger.Errorf("Failed to stop service, id: %s, error: %v", d.ID, err)
		return err
	}
	m.reg.SetPID(d.ID, 0)
	m.reg.UpdateStatus(d.ID, registry.StatusStopped, time.Time{})
	m.controller.Reset(d.ID)
	m.logger.Infof("Service stopped, id: %s", d.ID)
	return nil
}

// descriptors re-reads ids from the registry, skipping ids that vanished
func (m *Master) descriptors(ids []string) []registry.ServiceDescriptor {
	out := make([]registry.ServiceDescriptor, 0, len(ids))
	for _, id := range ids {
		if d, ok := m.reg.Get(id); ok {
			out = append(out, d)
		}
	}
	return out
}

func idsOf(services []registry.ServiceDescriptor) []string {
	ids := make([]string, 0, len(services))
	for _, d := range services {
		ids = append(ids, d.ID)
	}
	return ids
}

// healthPass probes once and applies the verdicts without scheduling restarts
func (m *Master) healthPass(ctx context.Context, services []registry.ServiceDescriptor) domain.HealthReport {
	verdicts := m.checker.CheckAll(ctx, services)
	m.applyVerdicts(verdicts)
	return domain.NewHealthReport(verdicts, m.now())
}

// awaitHealthy probes services and re-probes the ones in starting until they
// pass or StartupTimeout expires. Other services are probed once. Only the
// final verdict of each service is applied.
func (m *Master) awaitHealthy(ctx context.Context, services []registry.ServiceDescriptor, starting []string) domain.HealthReport {
	waiting := make(map[string]bool, len(starting))
	for _, id := range starting {
		waiting[id] = true
	}

	waitCtx, cancel := context.WithTimeout(ctx, m.config.StartupTimeout)
	defer cancel()

	latest := make(map[string]monitoring.Verdict, len(services))
	pending := services
	for attempt := 1; ; attempt++ {
		for _, v := range m.checker.CheckAll(ctx, pending) {
			latest[v.ServiceID] = v
		}

		var retry []registry.ServiceDescriptor
		for _, d := range pending {
			if v, ok := latest[d.ID]; ok && !v.Healthy && waiting[d.ID] {
				retry = append(retry, d)
			}
		}
		if len(retry) == 0 {
			break
		}

		timer := time.NewTimer(m.config.StartupPollInterval)
		select {
		case <-waitCtx.Done():
			timer.Stop()
			m.logger.Warnf("Services not ready within startup timeout, services: %s, timeout: %v, attempts: %d",
				strings.Join(idsOf(retry), ", "), m.config.StartupTimeout, attempt)
			return m.applyLatest(services, latest)
		case <-timer.C:
		}
		m.logger.Debugf("Waiting for services to become ready, services: %s, attempt: %d",
			strings.Join(idsOf(retry), ", "), attempt)
		pending = retry
	}
	return m.applyLatest(services, latest)
}

func (m *Master) applyLatest(services []registry.ServiceDescriptor, latest map[string]monitoring.Verdict) domain.HealthReport {
	verdicts := make([]monitoring.Verdict, 0, len(latest))
	for _, d := range services {
		if v, ok := latest[d.ID]; ok {
			verdicts = append(verdicts, v)
		}
	}
	m.applyVerdicts(verdicts)
	return domain.NewHealthReport(verdicts, m.now())
}

// Health runs one health pass over the monitored services. Concurrent
// callers share a single pass.
func (m *Master) Health(ctx context.Context) (domain.HealthReport, error) {
	if err := ctx.Err(); err != nil {
		return domain.HealthReport{}, errors.NewCancelledError("health check cancelled", err)
	}
	value, err, shared := m.health.Do(domain.OperationHealth, func() (interface{}, error) {
		return m.healthPass(ctx, m.probeTargets()), nil
	})
	if err != nil {
		return domain.HealthReport{}, err
	}
	report := value.(domain.HealthReport)
	m.logger.Debugf("Health pass completed, healthy: %d, unhealthy: %d, shared: %v",
		report.Healthy, report.Unhealthy, shared)
	return report, nil
}

func (m *Master) Status(ctx context.Context) (domain.StatusReport, error) {
	if err := ctx.Err(); err != nil {
		return domain.StatusReport{}, errors.NewCancelledError("status cancelled", err)
	}

	services := m.reg.List(registry.Filter{})
	report := domain.StatusReport{
		Services:  make([]domain.ServiceStatus, 0, len(services)),
		Settings:  m.reg.Settings(),
		Counts:    map[string]int{"total": len(services)},
		CheckedAt: m.now(),
	}

	summaries := m.summaries(idsOf(services))
	for _, d := range services {
		status := domain.ServiceStatus{ServiceDescriptor: d, Restart: m.controller.State(d.ID)}
		if summary, ok := summaries[d.ID]; ok {
			s := summary
			status.Stats = &s
		}
		status.Usage, status.Violations = m.sampleUsage(d)
		report.Services = append(report.Services, status)
		report.Counts[string(d.Status)]++
	}

	if record, held := m.lock.Current(); held {
		report.Lock = &record
	}
	return report, nil
}

func (m *Master) summaries(ids []string) map[string]stats.ServiceSummary {
	if m.stats == nil || len(ids) == 0 {
		return nil
	}
	summaries, err := m.stats.Summaries(ids)
	if err != nil {
		m.logger.Warnf("Failed to read service statistics, error: %v", err)
		return nil
	}
	return summaries
}

func (m *Master) Services(filter registry.Filter) []registry.ServiceDescriptor {
	return m.reg.List(filter)
}

func (m *Master) Service(id string) (domain.ServiceStatus, error) {
	if err := ValidateServiceID(id); err != nil {
		return domain.ServiceStatus{}, err
	}
	d, ok := m.reg.Get(id)
	if !ok {
		return domain.ServiceStatus{}, errors.NewNotFoundError(fmt.Sprintf("service '%s' is not registered", id), nil).WithContext("id", id)
	}
	status := domain.ServiceStatus{ServiceDescriptor: d, Restart: m.controller.State(id)}
	if summary, ok := m.summaries([]string{id})[id]; ok {
		status.Stats = &summary
	}
	status.Usage, status.Violations = m.sampleUsage(d)
	return status, nil
}

func (m *Master) Configure(ctx context.Context, environment, template string, overrides map[string]interface{}) domain.OperationResult {
	environment = m.environment(environment)
	if template == "" {
		template = m.config.Template
	}
	return m.locked(ctx, domain.OperationConfigure, environment, func(ctx context.Context, result *domain.OperationResult) {
		var snapshot registry.Snapshot
		m.runPhases(ctx, result,
			phase{PhaseBackup, func(ctx context.Context) error {
				return m.backupIfPresent(result)
			}},
			phase{PhaseTemplate, func(ctx context.Context) error {
				generated, err := config.TemplateSnapshot(template, environment, overrides)
				if err != nil {
					return err
				}
				validation := config.Validate(generated)
				if !validation.IsValid {
					return validation.ToError(fmt.Sprintf("template '%s' with environment '%s' is invalid", template, environment))
				}
				for _, warning := range validation.Warnings {
					result.AddWarning(warning)
				}
				snapshot = generated
				return nil
			}},
			phase{PhaseApply, func(ctx context.Context) error {
				diff := config.Diff(m.reg.Snapshot(), snapshot)
				if err := m.reg.Replace(snapshot); err != nil {
					return err
				}
				m.applySettings()
				result.Data = diff
				return nil
			}},
		)
	})
}

// backupIfPresent backs up the configuration document when it exists
func (m *Master) backupIfPresent(result *domain.OperationResult) error {
	if !fileExists(m.config.ConfigPath) {
		result.AddWarning(fmt.Sprintf("no configuration at '%s', nothing to back up", m.config.ConfigPath))
		return nil
	}
	_, err := config.BackupFile(m.config.ConfigPath, m.config.BackupDir, m.now())
	return err
}

func (m *Master) Backup(ctx context.Context) domain.OperationResult {
	return m.locked(ctx, domain.OperationBackup, m.config.Environment, func(ctx context.Context, result *domain.OperationResult) {
		var handle config.BackupHandle
		var err error
		if fileExists(m.config.ConfigPath) {
			handle, err = config.BackupFile(m.config.ConfigPath, m.config.BackupDir, m.now())
		} else {
			handle, err = config.Backup(m.reg.Snapshot(), m.config.ConfigPath, m.config.BackupDir, m.now())
		}
		if err != nil {
			result.AddError(err)
			return
		}
		result.Data = handle
	})
}

func (m *Master) Restore(ctx context.Context, manifestPath string) domain.OperationResult {
	return m.locked(ctx, domain.OperationRestore, m.config.Environment, func(ctx context.Context, result *domain.OperationResult) {
		report := &RestoreReport{}
		var restored *registry.Registry

		ok := m.runPhases(ctx, result,
			phase{PhaseManifest, func(ctx context.Context) error {
				if manifestPath == "" {
					return errors.NewValidationError("backup manifest path cannot be empty", nil)
				}
				handle, err := config.OpenBackup(manifestPath)
				if err != nil {
					return err
				}
				report.Restored = handle
				return nil
			}},
			phase{PhaseBackup, func(ctx context.Context) error {
				if !fileExists(m.config.ConfigPath) {
					return nil
				}
				handle, err := config.BackupFile(m.config.ConfigPath, m.config.BackupDir, m.now())
				if err != nil {
					return err
				}
				report.Backup = &handle
				return nil
			}},
			phase{PhaseRestore, func(ctx context.Context) error {
				reg, err := config.Restore(report.Restored, m.config.ConfigPath, logging.WithPrefix(m.logger, "config"))
				if err != nil {
					return err
				}
				restored = reg
				return nil
			}},
			phase{PhaseApply, func(ctx context.Context) error {
				snapshot := restored.Snapshot()
				report.Diff = config.Diff(m.reg.Snapshot(), snapshot)
				if err := m.reg.Replace(snapshot); err != nil {
					return err
				}
				m.applySettings()
				return nil
			}},
		)
		if ok || report.Restored.BackupPath != "" {
			result.Data = report
		}
	})
}

// Compare diffs the live configuration against a configuration document or
// a backup manifest.
func (m *Master) Compare(ctx context.Context, otherPath string) domain.OperationResult {
	return m.unlocked(ctx, domain.OperationCompare, func(ctx context.Context, result *domain.OperationResult) {
		if otherPath == "" {
			result.AddError(errors.NewValidationError("comparison path cannot be empty", nil))
			return
		}

		path := otherPath
		if strings.HasSuffix(otherPath, config.ManifestSuffix) {
			handle, err := config.OpenBackup(otherPath)
			if err != nil {
				result.AddError(err)
				return
			}
			path = handle.BackupPath
		}

		other, err := config.ParseFile(path)
		if err != nil {
			result.AddError(err)
			return
		}
		result.Data = config.Diff(m.reg.Snapshot(), other)
	})
}

// Reset backs up, stops everything, clears transient state and redeploys
// from the configured template.
func (m *Master) Reset(ctx context.Context, environment string) domain.OperationResult {
	environment = m.environment(environment)
	return m.locked(ctx, domain.OperationReset, environment, func(ctx context.Context, result *domain.OperationResult) {
		report := &DeployReport{Started: []string{}}
		result.Data = report

		phases := []phase{
			{PhaseBackup, func(ctx context.Context) error {
				return m.backupIfPresent(result)
			}},
			{PhaseStop, func(ctx context.Context) error {
				_, err := m.stopServices(ctx, m.runningServices(), result)
				return err
			}},
			{PhaseClean, func(ctx context.Context) error {
				removed, err := m.removeTempFiles()
				m.controller.ResetAll()
				m.logger.Infof("Transient state cleared, temporary files removed: %d", removed)
				return err
			}},
		}
		// the reset backup already covers the document
		for _, p := range m.deployPhases(environment, m.config.Template, true, result, report) {
			if p.name != PhaseBackup {
				phases = append(phases, p)
			}
		}
		m.runPhases(ctx, result, phases...)
	})
}

// runningServices are the services stop-all acts on
func (m *Master) runningServices() []registry.ServiceDescriptor {
	var out []registry.ServiceDescriptor
	for _, d := range m.reg.List(registry.Filter{}) {
		if d.PID > 0 || (process.IsManaged(d) && d.Status != registry.StatusStopped) {
			out = append(out, d)
		}
	}
	return out
}

func (m *Master) RegisterService(ctx context.Context, d registry.ServiceDescriptor) domain.OperationResult {
	return m.locked(ctx, domain.OperationRegister, m.config.Environment, func(ctx context.Context, result *domain.OperationResult) {
		if err := ValidateServiceID(d.ID); err != nil {
			result.AddError(err)
			return
		}

		snapshot := m.reg.Snapshot()
		snapshot.Services = append(snapshot.Services, d)
		validation := config.Validate(snapshot)
		if !validation.IsValid {
			result.AddError(validation.ToError(fmt.Sprintf("service '%s' is invalid", d.ID)))
			return
		}
		for _, warning := range validation.Warnings {
			result.AddWarning(warning)
		}

		if err := m.reg.Register(d); err != nil {
			result.AddError(err)
			return
		}
		registered, _ := m.reg.Get(d.ID)
		result.Data = registered
	})
}

func (m *Master) UnregisterService(ctx context.Context, id string) domain.OperationResult {
	return m.locked(ctx, domain.OperationRemove, m.config.Environment, func(ctx context.Context, result *domain.OperationResult) {
		if err := ValidateServiceID(id); err != nil {
			result.AddError(err)
			return
		}
		d, ok := m.reg.Get(id)
		if !ok {
			result.AddError(errors.NewNotFoundError(fmt.Sprintf("service '%s' is not registered", id), nil).WithContext("id", id))
			return
		}
		if d.PID > 0 {
			if err := m.stopService(context.WithoutCancel(ctx), d); err != nil {
				result.AddWarning(fmt.Sprintf("failed to stop service '%s' before removal: %v", id, err))
			}
		}
		if err := m.reg.Unregister(id); err != nil {
			result.AddError(err)
			return
		}
		m.controller.Reset(id)
		if m.metrics != nil {
			m.metrics.Forget(id)
		}
	})
}

// Discover scans the discovery ports and returns MCP services that are not registered
func (m *Master) Discover(ctx context.Context) ([]monitoring.DiscoveredService, error) {
	found := m.discoverer.Discover(ctx, m.config.DiscoveryHost, m.config.DiscoveryPorts)
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCancelledError("discovery cancelled", err)
	}

	registered := make(map[int]bool)
	for _, d := range m.reg.List(registry.Filter{}) {
		registered[d.Port] = true
	}

	out := make([]monitoring.DiscoveredService, 0, len(found))
	for _, s := range found {
		if registered[s.Port] {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *Master) TestConnection(ctx context.Context, host string, port int, healthPath string) monitoring.Verdict {
	if host == "" {
		host = m.config.DiscoveryHost
	}
	if err := ValidatePort(port); err != nil {
		return monitoring.Verdict{
			ServiceID: "test-connection",
			Reason:    monitoring.ReasonUnreachable,
			Message:   err.Error(),
			CheckedAt: m.now(),
		}
	}
	return m.checker.TestConnection(ctx, host, port, healthPath)
}

// Reload applies the configuration document after it changed on disk.
// A document that matches the registry is left alone.
func (m *Master) Reload(ctx context.Context) domain.OperationResult {
	return m.locked(ctx, domain.OperationReload, m.config.Environment, func(ctx context.Context, result *domain.OperationResult) {
		snapshot, err := config.ParseFile(m.config.ConfigPath)
		if err != nil {
			result.AddError(err)
			return
		}
		validation := config.Validate(snapshot)
		if !validation.IsValid {
			result.AddError(validation.ToError("reloaded configuration is invalid, keeping the current one"))
			return
		}
		for _, warning := range validation.Warnings {
			result.AddWarning(warning)
		}

		diff := config.Diff(m.reg.Snapshot(), snapshot)
		result.Data = diff
		if diff.IsEmpty() {
			return
		}
		if err := m.reg.Replace(snapshot); err != nil {
			result.AddError(err)
			return
		}
		for _, id := range diff.Removed {
			m.controller.Reset(id)
			if m.metrics != nil {
				m.metrics.Forget(id)
			}
		}
		m.applySettings()
		m.logger.Infof("Configuration reloaded, added: %d, removed: %d, modified: %d",
			len(diff.Added), len(diff.Removed), len(diff.Modified))
	})
}
