package master

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/core-tools/hsu-mcp-master/pkg/config"
	"github.com/core-tools/hsu-mcp-master/pkg/domain"
	"github.com/core-tools/hsu-mcp-master/pkg/errors"
	"github.com/core-tools/hsu-mcp-master/pkg/lock"
	"github.com/core-tools/hsu-mcp-master/pkg/logging"
	"github.com/core-tools/hsu-mcp-master/pkg/monitoring"
	"github.com/core-tools/hsu-mcp-master/pkg/registry"
	"github.com/core-tools/hsu-mcp-master/pkg/resourcelimits"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const managedDocument = `health_check_interval: 30
max_retry_attempts: 2
service_discovery_interval: 60
services:
  - id: core
    name: Core MCP
    type: core
    host: localhost
    port: 8080
    auto_start: true
    restart_policy: always
    health_path: /health
    command: /opt/mcp/core
  - id: docs
    name: Docs MCP
    type: custom
    host: localhost
    port: 8085
    auto_start: false
    restart_policy: never
security:
  enable_authentication: false
`

type MockControl struct {
	mock.Mock
}

func (m *MockControl) Start(ctx context.Context, d registry.ServiceDescriptor) (int, error) {
	args := m.Called(ctx, d)
	return args.Int(0), args.Error(1)
}

func (m *MockControl) Stop(ctx context.Context, d registry.ServiceDescriptor) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

// fakeProber reports every service healthy unless marked otherwise
type fakeProber struct {
	mu        sync.Mutex
	unhealthy map[string]monitoring.Reason
	// notReady counts the checks a service fails before it starts passing
	notReady map[string]int
	checks   map[string]int
}

func newFakeProber() *fakeProber {
	return &fakeProber{
		unhealthy: make(map[string]monitoring.Reason),
		notReady:  make(map[string]int),
		checks:    make(map[string]int),
	}
}

func (p *fakeProber) setUnhealthy(id string, reason monitoring.Reason) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unhealthy[id] = reason
}

func (p *fakeProber) setHealthy(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.unhealthy, id)
}

func (p *fakeProber) failFirst(id string, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notReady[id] = n
}

func (p *fakeProber) checkCount(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checks[id]
}

func (p *fakeProber) Probe(ctx context.Context, d registry.ServiceDescriptor) monitoring.Verdict {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checks[d.ID]++
	verdict := monitoring.Verdict{ServiceID: d.ID, Healthy: true, Latency: time.Millisecond, CheckedAt: time.Now()}
	if reason, ok := p.unhealthy[d.ID]; ok {
		verdict.Healthy = false
		verdict.Reason = reason
	}
	if n := p.notReady[d.ID]; n > 0 {
		p.notReady[d.ID] = n - 1
		verdict.Healthy = false
		verdict.Reason = monitoring.ReasonConnectionRefused
	}
	return verdict
}

// fakeResources reports fixed usage per PID
type fakeResources struct {
	mu    sync.Mutex
	usage map[int]resourcelimits.ResourceUsage
}

func (f *fakeResources) set(pid int, usage resourcelimits.ResourceUsage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usage[pid] = usage
}

func (f *fakeResources) GetProcessUsage(pid int) (*resourcelimits.ResourceUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	usage, ok := f.usage[pid]
	if !ok {
		return nil, errors.NewNotFoundError("process not found", nil)
	}
	return &usage, nil
}

func (f *fakeResources) SupportsRealTimeMonitoring() bool {
	return true
}

type testEnv struct {
	master    *Master
	control   *MockControl
	prober    *fakeProber
	resources *fakeResources
	dir       string
}

func newTestMaster(t *testing.T, document string) *testEnv {
	t.Helper()
	return newTestMasterWith(t, document, nil)
}

// newTestMasterWith lets a test adjust the master configuration before creation
func newTestMasterWith(t *testing.T, document string, configure func(cfg *Config)) *testEnv {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "mcp-services.yaml")
	if document != "" {
		require.NoError(t, os.WriteFile(configPath, []byte(document), 0644))
	}

	control := &MockControl{}
	prober := newFakeProber()
	resources := &fakeResources{usage: make(map[int]resourcelimits.ResourceUsage)}
	cfg := Config{
		ConfigPath:          configPath,
		Backoff:             []time.Duration{time.Millisecond},
		KeepLogs:            1,
		StartupTimeout:      50 * time.Millisecond,
		StartupPollInterval: 5 * time.Millisecond,
	}
	if configure != nil {
		configure(&cfg)
	}
	m, err := NewMaster(cfg, Dependencies{Control: control, Prober: prober, Resources: resources}, logging.Nop())
	require.NoError(t, err)
	t.Cleanup(m.Close)

	return &testEnv{master: m, control: control, prober: prober, resources: resources, dir: dir}
}

func byID(id string) interface{} {
	return mock.MatchedBy(func(d registry.ServiceDescriptor) bool { return d.ID == id })
}

func phaseNames(result domain.OperationResult) []string {
	names := make([]string, 0, len(result.Phases))
	for _, p := range result.Phases {
		names = append(names, p.Name)
	}
	return names
}

func statusOf(m *Master, id string) registry.Status {
	d, _ := m.Registry().Get(id)
	return d.Status
}

func TestNewMaster_RequiresConfigPath(t *testing.T) {
	_, err := NewMaster(Config{}, Dependencies{}, logging.Nop())
	assert.True(t, errors.IsValidationError(err))
}

func TestMaster_DeployCreatesConfigFromTemplate(t *testing.T) {
	env := newTestMaster(t, "")

	result := env.master.Deploy(context.Background(), "")

	require.True(t, result.Success, "errors: %v", result.Errors)
	assert.Equal(t, domain.OperationDeploy, result.Operation)
	assert.Equal(t, config.EnvironmentDevelopment, result.Environment)
	assert.Equal(t, []string{PhaseConfig, PhaseBackup, PhaseStart, PhaseHealth}, phaseNames(result))

	report := result.Data.(*DeployReport)
	assert.True(t, report.Created)
	require.NotNil(t, report.Backup)
	assert.FileExists(t, report.Backup.ManifestPath)

	snapshot, err := config.ParseFile(env.master.config.ConfigPath)
	require.NoError(t, err)
	assert.Len(t, snapshot.Services, 3)
	assert.Equal(t, 3, env.master.Registry().Len())

	// template services carry no command
	assert.Contains(t, result.Warnings, "service 'core' has no command and is only monitored")
	env.control.AssertNotCalled(t, "Start", mock.Anything, mock.Anything)

	_, held := env.master.lock.Current()
	assert.False(t, held)
}

func TestMaster_DeployStartsAutoStartServices(t *testing.T) {
	env := newTestMaster(t, managedDocument)
	env.control.On("Start", mock.Anything, byID("core")).Return(4242, nil)

	result := env.master.Deploy(context.Background(), config.EnvironmentDevelopment)

	require.True(t, result.Success, "errors: %v", result.Errors)
	report := result.Data.(*DeployReport)
	assert.False(t, report.Created)
	assert.Equal(t, []string{"core"}, report.Started)
	assert.True(t, report.Diff.IsEmpty())

	core, _ := env.master.Registry().Get("core")
	assert.Equal(t, registry.StatusRunning, core.Status)
	assert.Equal(t, 4242, core.PID)
	env.control.AssertNumberOfCalls(t, "Start", 1)
}

func TestMaster_DeployFailsWhenAutoStartServiceUnhealthy(t *testing.T) {
	env := newTestMaster(t, managedDocument)
	env.control.On("Start", mock.Anything, byID("core")).Return(4242, nil)
	env.prober.setUnhealthy("core", monitoring.ReasonConnectionRefused)

	result := env.master.Deploy(context.Background(), "")

	assert.False(t, result.Success)
	require.Len(t, result.Phases, 4)
	assert.False(t, result.Phases[3].Success)
	assert.Equal(t, registry.StatusError, statusOf(env.master, "core"))
}

func TestMaster_DeployWaitsForServiceToBecomeReady(t *testing.T) {
	env := newTestMasterWith(t, managedDocument, func(cfg *Config) {
		cfg.StartupTimeout = 5 * time.Second
	})
	env.control.On("Start", mock.Anything, byID("core")).Return(4242, nil)
	env.prober.failFirst("core", 3)

	result := env.master.Deploy(context.Background(), "")

	require.True(t, result.Success, "errors: %v", result.Errors)
	report := result.Data.(*DeployReport)
	require.NotNil(t, report.Health)
	assert.Equal(t, 0, report.Health.Unhealthy)
	assert.Equal(t, 4, env.prober.checkCount("core"))
	// docs is not being started and is checked once
	assert.Equal(t, 1, env.prober.checkCount("docs"))

	assert.Equal(t, registry.StatusRunning, statusOf(env.master, "core"))
	assert.Zero(t, env.master.Controller().State("core").ConsecutiveFailures)
}

func TestMaster_StartWaitsForServiceToBecomeReady(t *testing.T) {
	env := newTestMasterWith(t, managedDocument, func(cfg *Config) {
		cfg.StartupTimeout = 5 * time.Second
	})
	env.control.On("Start", mock.Anything, byID("core")).Return(100, nil)
	env.prober.failFirst("core", 2)

	result := env.master.Start(context.Background(), "", "core")

	require.True(t, result.Success, "errors: %v", result.Errors)
	assert.Empty(t, result.Warnings)
	assert.Equal(t, registry.StatusRunning, statusOf(env.master, "core"))
}

func TestMaster_StartReportsServiceNotReadyInTime(t *testing.T) {
	env := newTestMaster(t, managedDocument)
	env.control.On("Start", mock.Anything, byID("core")).Return(100, nil)
	env.prober.setUnhealthy("core", monitoring.ReasonConnectionRefused)

	result := env.master.Start(context.Background(), "", "core")

	assert.True(t, result.Success)
	assert.Contains(t, result.Warnings, "service 'core' started but is not healthy yet: connection-refused")
	assert.Greater(t, env.prober.checkCount("core"), 1)
	assert.Equal(t, registry.StatusError, statusOf(env.master, "core"))
	// waiting never schedules a restart
	env.master.Controller().Wait()
	env.control.AssertNumberOfCalls(t, "Start", 1)
}

func TestMaster_HealthDuringBackoffCancelsRestart(t *testing.T) {
	env := newTestMasterWith(t, managedDocument, func(cfg *Config) {
		cfg.Backoff = []time.Duration{300 * time.Millisecond}
	})
	env.control.On("Start", mock.Anything, byID("core")).Return(100, nil)
	env.control.On("Stop", mock.Anything, byID("core")).Return(nil)
	require.True(t, env.master.Start(context.Background(), "", "core").Success)

	env.prober.setUnhealthy("core", monitoring.ReasonConnectionRefused)
	env.master.Monitor(context.Background(), 20*time.Millisecond, nil)
	pending := env.master.Controller().State("core")
	require.True(t, pending.InFlight)
	require.Equal(t, 1, pending.RestartAttempts)

	env.prober.setHealthy("core")
	report, err := env.master.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Unhealthy)

	state := env.master.Controller().State("core")
	assert.Zero(t, state.ConsecutiveFailures)
	assert.Zero(t, state.RestartAttempts)
	assert.Equal(t, registry.StatusRunning, statusOf(env.master, "core"))

	env.master.Controller().Wait()
	env.control.AssertNumberOfCalls(t, "Start", 1)
	env.control.AssertNotCalled(t, "Stop", mock.Anything, mock.Anything)
}

func TestMaster_StartDuringBackoffDropsPendingRestart(t *testing.T) {
	env := newTestMasterWith(t, managedDocument, func(cfg *Config) {
		cfg.Backoff = []time.Duration{300 * time.Millisecond}
	})
	env.control.On("Start", mock.Anything, byID("core")).Return(100, nil)
	env.control.On("Stop", mock.Anything, byID("core")).Return(nil)
	require.True(t, env.master.Start(context.Background(), "", "core").Success)

	env.prober.setUnhealthy("core", monitoring.ReasonConnectionRefused)
	env.master.Monitor(context.Background(), 20*time.Millisecond, nil)
	require.True(t, env.master.Controller().State("core").InFlight)

	env.prober.setHealthy("core")
	require.True(t, env.master.Start(context.Background(), "", "core").Success)

	env.master.Controller().Wait()
	env.control.AssertNumberOfCalls(t, "Start", 2)
	env.control.AssertNotCalled(t, "Stop", mock.Anything, mock.Anything)
	assert.Equal(t, registry.StatusRunning, statusOf(env.master, "core"))
}

func TestMaster_DeployAbortsOnInvalidConfig(t *testing.T) {
	document := `services:
  - id: a
    name: A
    type: core
    port: 8080
  - id: b
    name: B
    type: core
    port: 8080
`
	env := newTestMaster(t, document)

	result := env.master.Deploy(context.Background(), "")

	assert.False(t, result.Success)
	require.Len(t, result.Phases, 4)
	assert.False(t, result.Phases[0].Success)
	for _, p := range result.Phases[1:] {
		assert.Equal(t, "skipped", p.Message)
	}
	assert.Contains(t, result.Errors, "service 'b': port 8080 already used by service 'a'")
	env.control.AssertNotCalled(t, "Start", mock.Anything, mock.Anything)

	backups, err := config.ListBackups(env.master.config.BackupDir)
	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestMaster_InvalidEnvironment(t *testing.T) {
	env := newTestMaster(t, managedDocument)

	result := env.master.Deploy(context.Background(), "moon")

	assert.False(t, result.Success)
	assert.Empty(t, result.Phases)
}

func TestMaster_OperationWhileLockedFails(t *testing.T) {
	env := newTestMaster(t, managedDocument)

	other := lock.New(env.master.config.LockPath, 0, nil)
	handle, err := other.Acquire(domain.OperationReset)
	require.NoError(t, err)

	result := env.master.Deploy(context.Background(), "")
	assert.False(t, result.Success)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "operation 'reset'")
	assert.Empty(t, result.Phases)

	// the foreign lock is untouched
	current, held := other.Current()
	require.True(t, held)
	assert.Equal(t, handle.Record().Token, current.Token)

	require.NoError(t, handle.Release())
	env.control.On("Start", mock.Anything, byID("core")).Return(1, nil)
	assert.True(t, env.master.Deploy(context.Background(), "").Success)
}

func TestMaster_StaleLockIsReclaimed(t *testing.T) {
	env := newTestMaster(t, managedDocument)
	env.control.On("Start", mock.Anything, byID("core")).Return(1, nil)

	stale := lock.Record{Operation: "deploy", OwnerPID: 999999, Token: "old", CreatedAt: time.Now().Add(-2 * time.Hour)}
	data, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(env.master.config.LockPath, data, 0644))

	result := env.master.Deploy(context.Background(), "")

	assert.True(t, result.Success, "errors: %v", result.Errors)
	assert.NoFileExists(t, env.master.config.LockPath)
}

func TestMaster_StartStopRestart(t *testing.T) {
	env := newTestMaster(t, managedDocument)
	env.control.On("Start", mock.Anything, byID("core")).Return(100, nil)
	env.control.On("Stop", mock.Anything, byID("core")).Return(nil)

	started := env.master.Start(context.Background(), "", "core")
	require.True(t, started.Success, "errors: %v", started.Errors)
	assert.Equal(t, []string{"core"}, started.Data.(*ServicesReport).Services)
	assert.Equal(t, registry.StatusRunning, statusOf(env.master, "core"))

	stopped := env.master.Stop(context.Background(), "", "core")
	require.True(t, stopped.Success, "errors: %v", stopped.Errors)
	core, _ := env.master.Registry().Get("core")
	assert.Equal(t, registry.StatusStopped, core.Status)
	assert.Zero(t, core.PID)

	restarted := env.master.Restart(context.Background(), "", "core")
	require.True(t, restarted.Success, "errors: %v", restarted.Errors)
	assert.Equal(t, []string{PhaseStop, PhaseStart}, phaseNames(restarted))

	env.control.AssertNumberOfCalls(t, "Start", 2)
	env.control.AssertNumberOfCalls(t, "Stop", 2)
}

func TestMaster_StartUnmanagedServiceWarns(t *testing.T) {
	env := newTestMaster(t, managedDocument)

	result := env.master.Start(context.Background(), "", "docs")

	assert.True(t, result.Success)
	assert.Contains(t, result.Warnings, "service 'docs' has no command and is only monitored")
	env.control.AssertNotCalled(t, "Start", mock.Anything, mock.Anything)
}

func TestMaster_StartFailureSetsError(t *testing.T) {
	env := newTestMaster(t, managedDocument)
	env.control.On("Start", mock.Anything, byID("core")).
		Return(0, errors.NewProcessError("failed to start the process", nil))

	result := env.master.Start(context.Background(), "", "core")

	assert.False(t, result.Success)
	assert.Equal(t, registry.StatusError, statusOf(env.master, "core"))
}

func TestMaster_StartUnknownService(t *testing.T) {
	env := newTestMaster(t, managedDocument)

	result := env.master.Start(context.Background(), "", "missing")

	assert.False(t, result.Success)
	assert.Contains(t, result.Errors[0], "service 'missing' is not registered")
}

func TestMaster_StoppedServicesAreNotMonitored(t *testing.T) {
	env := newTestMaster(t, managedDocument)

	// core is managed and stopped, docs is external
	ids := idsOf(env.master.probeTargets())
	assert.Equal(t, []string{"docs"}, ids)

	env.control.On("Start", mock.Anything, byID("core")).Return(100, nil)
	require.True(t, env.master.Start(context.Background(), "", "core").Success)
	assert.ElementsMatch(t, []string{"core", "docs"}, idsOf(env.master.probeTargets()))
}

func TestMaster_HealthAppliesStatus(t *testing.T) {
	env := newTestMaster(t, managedDocument)
	env.prober.setUnhealthy("docs", monitoring.ReasonTimeout)

	report, err := env.master.Health(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, report.Healthy)
	assert.Equal(t, 1, report.Unhealthy)
	assert.Equal(t, registry.StatusError, statusOf(env.master, "docs"))
	env.control.AssertNotCalled(t, "Stop", mock.Anything, mock.Anything)
}

func TestMaster_Status(t *testing.T) {
	env := newTestMaster(t, managedDocument)

	report, err := env.master.Status(context.Background())

	require.NoError(t, err)
	assert.Len(t, report.Services, 2)
	assert.Equal(t, 2, report.Counts["total"])
	assert.Equal(t, 2, report.Counts[string(registry.StatusStopped)])
	assert.Equal(t, 2, report.Settings.MaxRetryAttempts)
	assert.Nil(t, report.Lock)
}

func TestMaster_StatusReportsResourceUsage(t *testing.T) {
	document := strings.Replace(managedDocument, "    command: /opt/mcp/core\n",
		"    command: /opt/mcp/core\n    resource_limits:\n      memory_mb: 100\n", 1)
	env := newTestMaster(t, document)
	env.control.On("Start", mock.Anything, byID("core")).Return(100, nil)
	require.True(t, env.master.Start(context.Background(), "", "core").Success)
	env.resources.set(100, resourcelimits.ResourceUsage{MemoryRSS: 150 * 1024 * 1024})

	status, err := env.master.Service("core")
	require.NoError(t, err)
	require.NotNil(t, status.Usage)
	assert.Equal(t, 100, status.Usage.PID)
	require.Len(t, status.Violations, 1)
	assert.Equal(t, resourcelimits.ResourceLimitTypeMemory, status.Violations[0].LimitType)
	assert.Equal(t, resourcelimits.ViolationSeverityCritical, status.Violations[0].Severity)

	docs, err := env.master.Service("docs")
	require.NoError(t, err)
	assert.Nil(t, docs.Usage)
}

func TestMaster_MonitorRestartsUnhealthyService(t *testing.T) {
	env := newTestMaster(t, managedDocument)
	env.control.On("Start", mock.Anything, byID("core")).Return(100, nil)
	env.control.On("Stop", mock.Anything, byID("core")).Return(nil)
	require.True(t, env.master.Start(context.Background(), "", "core").Success)

	env.prober.setUnhealthy("core", monitoring.ReasonConnectionRefused)

	var mu sync.Mutex
	var cycles [][]monitoring.Verdict
	result := env.master.Monitor(context.Background(), 100*time.Millisecond, func(verdicts []monitoring.Verdict) {
		mu.Lock()
		defer mu.Unlock()
		cycles = append(cycles, verdicts)
	})
	env.master.Controller().Wait()

	require.True(t, result.Success)
	report := result.Data.(*MonitorReport)
	assert.Equal(t, 1, report.Cycles)
	assert.Equal(t, 1, report.Unhealthy["core"])
	require.Len(t, cycles, 1)
	assert.Len(t, cycles[0], 2)

	assert.Equal(t, 1, env.master.Controller().State("core").RestartAttempts)
	env.control.AssertNumberOfCalls(t, "Start", 2)
	env.control.AssertNumberOfCalls(t, "Stop", 1)
}

func TestMaster_BackupRestoreRoundTrip(t *testing.T) {
	env := newTestMaster(t, managedDocument)
	original := env.master.Config()

	backup := env.master.Backup(context.Background())
	require.True(t, backup.Success, "errors: %v", backup.Errors)
	handle := backup.Data.(config.BackupHandle)

	configured := env.master.Configure(context.Background(), config.EnvironmentProduction, config.TemplateProduction, nil)
	require.True(t, configured.Success, "errors: %v", configured.Errors)
	assert.False(t, config.Diff(original, env.master.Config()).IsEmpty())
	assert.Equal(t, 15, env.master.Config().Settings.HealthCheckInterval)

	restored := env.master.Restore(context.Background(), handle.ManifestPath)
	require.True(t, restored.Success, "errors: %v", restored.Errors)
	assert.Equal(t, []string{PhaseManifest, PhaseBackup, PhaseRestore, PhaseApply}, phaseNames(restored))
	report := restored.Data.(*RestoreReport)
	require.NotNil(t, report.Backup)

	assert.True(t, config.Diff(original, env.master.Config()).IsEmpty())

	compared := env.master.Compare(context.Background(), handle.ManifestPath)
	require.True(t, compared.Success)
	assert.True(t, compared.Data.(config.DiffResult).IsEmpty())
}

func TestMaster_RestoreCorruptBackupLeavesConfig(t *testing.T) {
	env := newTestMaster(t, managedDocument)
	backup := env.master.Backup(context.Background())
	require.True(t, backup.Success)
	handle := backup.Data.(config.BackupHandle)

	require.NoError(t, os.WriteFile(handle.BackupPath, []byte("services: [oops"), 0644))

	result := env.master.Restore(context.Background(), handle.ManifestPath)

	assert.False(t, result.Success)
	data, err := os.ReadFile(env.master.config.ConfigPath)
	require.NoError(t, err)
	assert.Equal(t, managedDocument, string(data))
}

func TestMaster_Compare(t *testing.T) {
	env := newTestMaster(t, managedDocument)
	other := filepath.Join(env.dir, "other.yaml")
	require.NoError(t, os.WriteFile(other, []byte(`health_check_interval: 60
max_retry_attempts: 2
service_discovery_interval: 60
services:
  - id: core
    name: Core MCP
    type: core
    host: localhost
    port: 8080
    auto_start: true
    restart_policy: always
    health_path: /health
    command: /opt/mcp/core
  - id: search
    name: Search
    type: websearch
    port: 8090
`), 0644))

	result := env.master.Compare(context.Background(), other)

	require.True(t, result.Success, "errors: %v", result.Errors)
	diff := result.Data.(config.DiffResult)
	assert.Equal(t, []string{"search"}, diff.Added)
	assert.Equal(t, []string{"docs"}, diff.Removed)
	require.NotEmpty(t, diff.Modified)
	assert.Equal(t, "health_check_interval", diff.Modified[0].Field)
}

func TestMaster_CleanRetention(t *testing.T) {
	env := newTestMaster(t, managedDocument)
	cfg := env.master.config
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		_, err := config.BackupFile(cfg.ConfigPath, cfg.BackupDir, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}
	leftover := filepath.Join(env.dir, "mcp-services.yaml.123"+config.TempSuffix)
	require.NoError(t, os.WriteFile(leftover, []byte("x"), 0644))

	require.NoError(t, os.MkdirAll(cfg.ServiceLogDir, 0755))
	current := filepath.Join(cfg.ServiceLogDir, "core.log")
	older := filepath.Join(cfg.ServiceLogDir, "core-20260501-100000.000.log")
	newer := filepath.Join(cfg.ServiceLogDir, "core-20260501-110000.000.log")
	for i, path := range []string{current, older, newer} {
		require.NoError(t, os.WriteFile(path, []byte("log line\n"), 0644))
		stamp := base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, os.Chtimes(path, stamp, stamp))
	}

	result := env.master.Clean(context.Background(), 2)

	require.True(t, result.Success, "errors: %v", result.Errors)
	report := result.Data.(*CleanReport)
	assert.Len(t, report.RemovedBackups, 2)
	assert.Equal(t, []string{leftover}, report.TempFiles)
	assert.Equal(t, []string{newer + CompressedLogSuffix}, report.CompressedLogs)
	assert.Equal(t, []string{older}, report.RemovedLogs)

	backups, err := config.ListBackups(cfg.BackupDir)
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.True(t, backups[0].BackupDate.Equal(base.Add(3*time.Minute)))

	assert.FileExists(t, current)
	assert.FileExists(t, newer+CompressedLogSuffix)
	assert.NoFileExists(t, newer)
	assert.NoFileExists(t, older)
	assert.NoFileExists(t, leftover)
}

func TestMaster_ResetRedeploysFromTemplate(t *testing.T) {
	env := newTestMaster(t, managedDocument)
	env.control.On("Start", mock.Anything, byID("core")).Return(100, nil)
	env.control.On("Stop", mock.Anything, byID("core")).Return(nil)
	require.True(t, env.master.Start(context.Background(), "", "core").Success)

	result := env.master.Reset(context.Background(), "")

	require.True(t, result.Success, "errors: %v", result.Errors)
	assert.Equal(t, []string{PhaseBackup, PhaseStop, PhaseClean, PhaseConfig, PhaseStart, PhaseHealth}, phaseNames(result))
	env.control.AssertNumberOfCalls(t, "Stop", 1)

	expected, err := config.TemplateSnapshot(config.TemplateDevelopment, config.EnvironmentDevelopment, nil)
	require.NoError(t, err)
	assert.True(t, config.Diff(expected, env.master.Config()).IsEmpty())

	backups, err := config.ListBackups(env.master.config.BackupDir)
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestMaster_RegisterAndUnregister(t *testing.T) {
	env := newTestMaster(t, managedDocument)

	conflict := env.master.RegisterService(context.Background(), registry.ServiceDescriptor{
		ID: "dup", Name: "Dup", Type: registry.ServiceTypeCustom, Port: 8080,
	})
	assert.False(t, conflict.Success)
	assert.Equal(t, 2, env.master.Registry().Len())

	added := env.master.RegisterService(context.Background(), registry.ServiceDescriptor{
		ID: "github", Name: "GitHub MCP", Type: registry.ServiceTypeGithub, Port: 8092,
	})
	require.True(t, added.Success, "errors: %v", added.Errors)

	snapshot, err := config.ParseFile(env.master.config.ConfigPath)
	require.NoError(t, err)
	_, ok := snapshot.Get("github")
	assert.True(t, ok)

	removed := env.master.UnregisterService(context.Background(), "github")
	require.True(t, removed.Success, "errors: %v", removed.Errors)
	_, ok = env.master.Registry().Get("github")
	assert.False(t, ok)

	missing := env.master.UnregisterService(context.Background(), "github")
	assert.False(t, missing.Success)
}

func TestMaster_ReloadAppliesChangedDocument(t *testing.T) {
	env := newTestMaster(t, managedDocument)

	unchanged := env.master.Reload(context.Background())
	require.True(t, unchanged.Success)
	assert.True(t, unchanged.Data.(config.DiffResult).IsEmpty())

	changed := `health_check_interval: 45
max_retry_attempts: 2
service_discovery_interval: 60
services:
  - id: docs
    name: Docs MCP
    type: custom
    host: localhost
    port: 8085
`
	require.NoError(t, os.WriteFile(env.master.config.ConfigPath, []byte(changed), 0644))

	result := env.master.Reload(context.Background())

	require.True(t, result.Success, "errors: %v", result.Errors)
	diff := result.Data.(config.DiffResult)
	assert.Equal(t, []string{"core"}, diff.Removed)
	assert.Equal(t, 45, env.master.Config().Settings.HealthCheckInterval)
}

func TestMaster_CancelledContext(t *testing.T) {
	env := newTestMaster(t, managedDocument)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := env.master.Deploy(ctx, "")

	assert.False(t, result.Success)
	assert.NoFileExists(t, env.master.config.LockPath)
}

func TestMaster_TestConnectionRejectsBadPort(t *testing.T) {
	env := newTestMaster(t, managedDocument)

	verdict := env.master.TestConnection(context.Background(), "localhost", 0, "")

	assert.False(t, verdict.Healthy)
	assert.Equal(t, monitoring.ReasonUnreachable, verdict.Reason)
}
