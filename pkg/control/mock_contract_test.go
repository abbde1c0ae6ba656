package control

import (
	"context"
	"time"

	"github.com/core-tools/hsu-mcp-master/pkg/domain"
	"github.com/core-tools/hsu-mcp-master/pkg/errors"
	"github.com/core-tools/hsu-mcp-master/pkg/monitoring"
	"github.com/core-tools/hsu-mcp-master/pkg/registry"

	"github.com/stretchr/testify/mock"
)

type MockContract struct {
	mock.Mock
}

func (m *MockContract) Deploy(ctx context.Context, environment string) domain.OperationResult {
	return m.Called(ctx, environment).Get(0).(domain.OperationResult)
}

func (m *MockContract) Start(ctx context.Context, environment string, ids ...string) domain.OperationResult {
	return m.Called(ctx, environment, ids).Get(0).(domain.OperationResult)
}

func (m *MockContract) Stop(ctx context.Context, environment string, ids ...string) domain.OperationResult {
	return m.Called(ctx, environment, ids).Get(0).(domain.OperationResult)
}

func (m *MockContract) Restart(ctx context.Context, environment string, ids ...string) domain.OperationResult {
	return m.Called(ctx, environment, ids).Get(0).(domain.OperationResult)
}

func (m *MockContract) Status(ctx context.Context) (domain.StatusReport, error) {
	args := m.Called(ctx)
	return args.Get(0).(domain.StatusReport), args.Error(1)
}

func (m *MockContract) Monitor(ctx context.Context, duration time.Duration, listener domain.VerdictListener) domain.OperationResult {
	return m.Called(ctx, duration).Get(0).(domain.OperationResult)
}

func (m *MockContract) Health(ctx context.Context) (domain.HealthReport, error) {
	args := m.Called(ctx)
	return args.Get(0).(domain.HealthReport), args.Error(1)
}

func (m *MockContract) Configure(ctx context.Context, environment, template string, overrides map[string]interface{}) domain.OperationResult {
	return m.Called(ctx, environment, template, overrides).Get(0).(domain.OperationResult)
}

func (m *MockContract) Backup(ctx context.Context) domain.OperationResult {
	return m.Called(ctx).Get(0).(domain.OperationResult)
}

func (m *MockContract) Restore(ctx context.Context, manifestPath string) domain.OperationResult {
	return m.Called(ctx, manifestPath).Get(0).(domain.OperationResult)
}

func (m *MockContract) Compare(ctx context.Context, otherPath string) domain.OperationResult {
	return m.Called(ctx, otherPath).Get(0).(domain.OperationResult)
}

func (m *MockContract) Clean(ctx context.Context, keep int) domain.OperationResult {
	return m.Called(ctx, keep).Get(0).(domain.OperationResult)
}

func (m *MockContract) Reset(ctx context.Context, environment string) domain.OperationResult {
	return m.Called(ctx, environment).Get(0).(domain.OperationResult)
}

func (m *MockContract) Services(filter registry.Filter) []registry.ServiceDescriptor {
	return m.Called(filter).Get(0).([]registry.ServiceDescriptor)
}

func (m *MockContract) Service(id string) (domain.ServiceStatus, error) {
	args := m.Called(id)
	return args.Get(0).(domain.ServiceStatus), args.Error(1)
}

func (m *MockContract) RegisterService(ctx context.Context, d registry.ServiceDescriptor) domain.OperationResult {
	return m.Called(ctx, d).Get(0).(domain.OperationResult)
}

func (m *MockContract) UnregisterService(ctx context.Context, id string) domain.OperationResult {
	return m.Called(ctx, id).Get(0).(domain.OperationResult)
}

func (m *MockContract) Config() registry.Snapshot {
	return m.Called().Get(0).(registry.Snapshot)
}

func (m *MockContract) Discover(ctx context.Context) ([]monitoring.DiscoveredService, error) {
	args := m.Called(ctx)
	return args.Get(0).([]monitoring.DiscoveredService), args.Error(1)
}

func (m *MockContract) TestConnection(ctx context.Context, host string, port int, healthPath string) monitoring.Verdict {
	return m.Called(ctx, host, port, healthPath).Get(0).(monitoring.Verdict)
}

func okResult(operation string) domain.OperationResult {
	result := domain.NewOperationResult(operation, "development", time.Now())
	result.Finish(time.Now())
	return result
}

func lockedResult(operation string) domain.OperationResult {
	result := domain.NewOperationResult(operation, "development", time.Now())
	result.AddError(errors.NewLockedError("another operation is in progress: operation 'reset'", "operation 'reset'"))
	result.Finish(time.Now())
	return result
}

func failedResult(operation string, message string) domain.OperationResult {
	result := domain.NewOperationResult(operation, "development", time.Now())
	result.AddWarning("partial")
	result.Errors = append(result.Errors, message)
	result.Finish(time.Now())
	return result
}
