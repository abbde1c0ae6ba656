package domain

import (
	"context"
	"time"

	"github.com/core-tools/hsu-mcp-master/pkg/monitoring"
	"github.com/core-tools/hsu-mcp-master/pkg/registry"
)

// VerdictListener receives every monitoring cycle's verdicts
type VerdictListener func(verdicts []monitoring.Verdict)

// Contract is the operational surface consumed by the CLI, the dashboard API
// and the MCP tools.
type Contract interface {
	Deploy(ctx context.Context, environment string) OperationResult
	Start(ctx context.Context, environment string, ids ...string) OperationResult
	Stop(ctx context.Context, environment string, ids ...string) OperationResult
	Restart(ctx context.Context, environment string, ids ...string) OperationResult
	Status(ctx context.Context) (StatusReport, error)
	Monitor(ctx context.Context, duration time.Duration, listener VerdictListener) OperationResult
	Health(ctx context.Context) (HealthReport, error)
	Configure(ctx context.Context, environment, template string, overrides map[string]interface{}) OperationResult
	Backup(ctx context.Context) OperationResult
	Restore(ctx context.Context, manifestPath string) OperationResult
	Compare(ctx context.Context, otherPath string) OperationResult
	Clean(ctx context.Context, keep int) OperationResult
	Reset(ctx context.Context, environment string) OperationResult

	Services(filter registry.Filter) []registry.ServiceDescriptor
	Service(id string) (ServiceStatus, error)
	RegisterService(ctx context.Context, d registry.ServiceDescriptor) OperationResult
	UnregisterService(ctx context.Context, id string) OperationResult
	Config() registry.Snapshot
	Discover(ctx context.Context) ([]monitoring.DiscoveredService, error)
	TestConnection(ctx context.Context, host string, port int, healthPath string) monitoring.Verdict
}
