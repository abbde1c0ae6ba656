package master

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/core-tools/hsu-mcp-master/pkg/config"
	"github.com/core-tools/hsu-mcp-master/pkg/domain"
	"github.com/core-tools/hsu-mcp-master/pkg/errors"
	"github.com/core-tools/hsu-mcp-master/pkg/lock"
	"github.com/core-tools/hsu-mcp-master/pkg/logging"
	"github.com/core-tools/hsu-mcp-master/pkg/metrics"
	"github.com/core-tools/hsu-mcp-master/pkg/monitoring"
	"github.com/core-tools/hsu-mcp-master/pkg/process"
	"github.com/core-tools/hsu-mcp-master/pkg/processfile"
	"github.com/core-tools/hsu-mcp-master/pkg/registry"
	"github.com/core-tools/hsu-mcp-master/pkg/resourcelimits"
	"github.com/core-tools/hsu-mcp-master/pkg/restart"
	"github.com/core-tools/hsu-mcp-master/pkg/stats"

	"golang.org/x/sync/singleflight"
)

// Dependencies are the collaborators a Master can be given; nil members get
// defaults (Control, Prober, Resources) or are disabled (Stats, Metrics).
type Dependencies struct {
	Control   process.Control
	Prober    monitoring.Prober
	Resources resourcelimits.PlatformResourceMonitor
	Stats     *stats.Store
	Metrics   *metrics.Metrics
}

// Master is the orchestration facade. Mutating operations are serialized
// across processes by the operation lock.
type Master struct {
	config Config
	logger logging.Logger

	reg        *registry.Registry
	control    process.Control
	checker    *monitoring.Checker
	controller *restart.Controller
	lock       *lock.OperationLock
	discoverer *monitoring.Discoverer
	resources  *resourcelimits.ResourceMonitor
	limits     *resourcelimits.ResourceViolationChecker
	stats      *stats.Store
	metrics    *metrics.Metrics

	health singleflight.Group
	now    func() time.Time

	mu   sync.Mutex
	held map[string]bool
}

var _ domain.Contract = (*Master)(nil)

func NewMaster(cfg Config, deps Dependencies, logger logging.Logger) (*Master, error) {
	if cfg.ConfigPath == "" {
		return nil, errors.NewValidationError("configuration path cannot be empty", nil)
	}
	setConfigDefaults(&cfg)

	dir := filepath.Dir(cfg.ConfigPath)
	if cfg.LockPath == "" {
		cfg.LockPath = filepath.Join(dir, processfile.DefaultLockFileName)
	}
	if cfg.BackupDir == "" {
		cfg.BackupDir = filepath.Join(dir, "backups")
	}
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(dir, "logs")
	}
	if cfg.ServiceLogDir == "" {
		cfg.ServiceLogDir = filepath.Join(cfg.LogDir, "services")
	}

	masterLogger := logging.WithPrefix(logger, "master")

	m := &Master{
		config:  cfg,
		logger:  masterLogger,
		stats:   deps.Stats,
		metrics: deps.Metrics,
		now:     time.Now,
		held:    make(map[string]bool),
	}

	m.reg = m.loadRegistry()

	m.control = deps.Control
	if m.control == nil {
		m.control = process.NewExecutor(process.ExecutorConfig{
			LogDir:      cfg.ServiceLogDir,
			StopTimeout: cfg.StopTimeout,
		}, logging.WithPrefix(logger, "process"))
	}

	m.checker = monitoring.NewChecker(monitoring.CheckerConfig{
		ProbeTimeout: cfg.ProbeTimeout,
		Concurrency:  cfg.ProbeConcurrency,
	}, deps.Prober, logging.WithPrefix(logger, "health"))

	m.controller = restart.NewController(m.reg, m.control, restart.Config{
		MaxRetryAttempts: m.reg.Settings().MaxRetryAttempts,
		FailureThreshold: cfg.FailureThreshold,
		Backoff:          cfg.Backoff,
		StopTimeout:      cfg.StopTimeout,
	}, logging.WithPrefix(logger, "restart"))
	m.controller.OnRestart(m.recordRestart)

	m.lock = lock.New(cfg.LockPath, cfg.LockStaleAfter, logging.WithPrefix(logger, "lock"))
	m.discoverer = monitoring.NewDiscoverer(cfg.ProbeTimeout, logging.WithPrefix(logger, "discovery"))
	m.resources = resourcelimits.NewResourceMonitor(deps.Resources, logging.WithPrefix(logger, "resources"))
	m.limits = resourcelimits.NewResourceViolationChecker(cfg.ResourceWarningThreshold)

	masterLogger.Infof("Master created, config: %s, services: %d, environment: %s",
		cfg.ConfigPath, m.reg.Len(), cfg.Environment)
	return m, nil
}

// loadRegistry reads the configuration document. A missing or unreadable
// document yields an empty registry; deploy reports the parse failure.
func (m *Master) loadRegistry() *registry.Registry {
	regLogger := logging.WithPrefix(m.logger, "registry")

	reg, err := config.Load(m.config.ConfigPath, regLogger)
	if err != nil {
		if !errors.IsNotFoundError(err) {
			m.logger.Warnf("Configuration could not be loaded, path: %s, error: %v", m.config.ConfigPath, err)
		}
		reg = registry.New(registry.DefaultSettings(), regLogger)
	}
	reg.SetPersister(config.NewFilePersister(m.config.ConfigPath, logging.WithPrefix(m.logger, "config")))
	return reg
}

// Registry exposes the live registry for read access
func (m *Master) Registry() *registry.Registry {
	return m.reg
}

// Controller exposes the restart controller for inspection
func (m *Master) Controller() *restart.Controller {
	return m.controller
}

func (m *Master) Config() registry.Snapshot {
	return m.reg.Snapshot()
}

// Close cancels pending restarts. Managed processes are left running.
func (m *Master) Close() {
	m.controller.Close()
	m.logger.Infof("Master closed")
}

func (m *Master) environment(environment string) string {
	if environment == "" {
		return m.config.Environment
	}
	return environment
}

// locked runs body while holding the operation lock. The lock is released
// on every path, including a panic in body.
func (m *Master) locked(ctx context.Context, operation, environment string, body func(ctx context.Context, result *domain.OperationResult)) (result domain.OperationResult) {
	result = domain.NewOperationResult(operation, environment, m.now())
	defer m.finish(&result)

	if err := ValidateEnvironment(environment); err != nil {
		result.AddError(err)
		return result
	}
	if err := ctx.Err(); err != nil {
		result.AddError(errors.NewCancelledError("operation cancelled before start", err))
		return result
	}

	handle, err := m.lock.Acquire(operation)
	if err != nil {
		result.AddError(err)
		return result
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Errorf("Operation panicked, operation: %s, panic: %v", operation, r)
			result.AddError(errors.NewInternalError(fmt.Sprintf("operation panicked: %v", r), nil))
		}
		if err := handle.Release(); err != nil {
			result.AddWarning(fmt.Sprintf("failed to release operation lock: %v", err))
		}
	}()

	m.logger.Infof("Operation started, operation: %s, environment: %s, id: %s", operation, environment, result.ID)
	body(ctx, &result)
	return result
}

// unlocked runs a read-only operation with the same result bookkeeping
func (m *Master) unlocked(ctx context.Context, operation string, body func(ctx context.Context, result *domain.OperationResult)) (result domain.OperationResult) {
	result = domain.NewOperationResult(operation, "", m.now())
	defer m.finish(&result)
	defer func() {
		if r := recover(); r != nil {
			m.logger.Errorf("Operation panicked, operation: %s, panic: %v", operation, r)
			result.AddError(errors.NewInternalError(fmt.Sprintf("operation panicked: %v", r), nil))
		}
	}()
	body(ctx, &result)
	return result
}

func (m *Master) finish(result *domain.OperationResult) {
	result.Finish(m.now())
	duration := result.FinishedAt.Sub(result.StartedAt)

	if result.Success {
		m.logger.Infof("Operation completed, operation: %s, id: %s, duration: %v, warnings: %d",
			result.Operation, result.ID, duration, len(result.Warnings))
	} else {
		m.logger.Errorf("Operation failed, operation: %s, id: %s, duration: %v, errors: %s",
			result.Operation, result.ID, duration, strings.Join(result.Errors, "; "))
	}

	if m.metrics != nil {
		m.metrics.ObserveOperation(result.Operation, result.Success, duration)
	}
	if m.stats != nil {
		err := m.stats.RecordOperation(stats.OperationRecord{
			ID:          result.ID,
			Operation:   result.Operation,
			Environment: result.Environment,
			Success:     result.Success,
			Errors:      len(result.Errors),
			Warnings:    len(result.Warnings),
			StartedAt:   result.StartedAt,
			FinishedAt:  result.FinishedAt,
		})
		if err != nil {
			m.logger.Warnf("Failed to record operation statistics, operation: %s, error: %v", result.Operation, err)
		}
	}
}

// targets resolves ids to descriptors; no ids means every registered service
func (m *Master) targets(ids []string) ([]registry.ServiceDescriptor, error) {
	if len(ids) == 0 {
		return m.reg.List(registry.Filter{}), nil
	}
	out := make([]registry.ServiceDescriptor, 0, len(ids))
	for _, id := range ids {
		if err := ValidateServiceID(id); err != nil {
			return nil, err
		}
		d, ok := m.reg.Get(id)
		if !ok {
			return nil, errors.NewNotFoundError(fmt.Sprintf("service '%s' is not registered", id), nil).WithContext("id", id)
		}
		out = append(out, d)
	}
	return out, nil
}

// probeTargets are the services monitoring watches: everything except
// managed services that are stopped, either never started or stopped by an operator
func (m *Master) probeTargets() []registry.ServiceDescriptor {
	m.mu.Lock()
	held := make(map[string]bool, len(m.held))
	for id := range m.held {
		held[id] = true
	}
	m.mu.Unlock()

	all := m.reg.List(registry.Filter{})
	out := make([]registry.ServiceDescriptor, 0, len(all))
	for _, d := range all {
		if held[d.ID] {
			continue
		}
		if process.IsManaged(d) && d.Status == registry.StatusStopped {
			continue
		}
		out = append(out, d)
	}
	return out
}

func (m *Master) setHeld(id string, held bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if held {
		m.held[id] = true
	} else {
		delete(m.held, id)
	}
}

// observe feeds verdicts to the restart controller and records them
func (m *Master) observe(ctx context.Context, verdicts []monitoring.Verdict) {
	for _, v := range verdicts {
		decision := m.controller.Handle(ctx, v)
		if decision.Action == restart.ActionExhausted && decision.Err != nil {
			m.logger.Warnf("Service left in error state, id: %s, error: %v", v.ServiceID, decision.Err)
		}
	}
	m.record(verdicts)
}

// applyVerdicts hands the verdicts of a one-off health pass to the restart
// controller, which updates status and counters without scheduling restarts
func (m *Master) applyVerdicts(verdicts []monitoring.Verdict) {
	for _, v := range verdicts {
		m.controller.Observe(v)
	}
	m.record(verdicts)
}

func (m *Master) record(verdicts []monitoring.Verdict) {
	if m.metrics != nil {
		for _, v := range verdicts {
			m.metrics.ObserveProbe(v.ServiceID, v.Healthy, v.Latency)
		}
	}
	if m.stats != nil && len(verdicts) > 0 {
		records := make([]stats.HealthRecord, 0, len(verdicts))
		for _, v := range verdicts {
			records = append(records, stats.HealthRecord{
				ServiceID: v.ServiceID,
				Healthy:   v.Healthy,
				Latency:   v.Latency,
				Reason:    string(v.Reason),
				CheckedAt: v.CheckedAt,
			})
		}
		if err := m.stats.RecordHealth(records); err != nil {
			m.logger.Warnf("Failed to record health statistics, error: %v", err)
		}
	}
}

func (m *Master) recordRestart(event restart.Event) {
	if m.metrics != nil {
		m.metrics.ObserveRestart(event.ServiceID, event.Err == nil)
	}
	if m.stats != nil {
		record := stats.RestartRecord{
			ServiceID: event.ServiceID,
			Attempt:   event.Attempt,
			Success:   event.Err == nil,
			At:        event.At,
		}
		if event.Err != nil {
			record.Error = event.Err.Error()
		}
		if err := m.stats.RecordRestart(record); err != nil {
			m.logger.Warnf("Failed to record restart statistics, id: %s, error: %v", event.ServiceID, err)
		}
	}
}

// applySettings pushes registry settings into the running components
func (m *Master) applySettings() {
	m.controller.SetMaxRetryAttempts(m.reg.Settings().MaxRetryAttempts)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
