package control

import (
	"sync"

	"github.com/core-tools/hsu-mcp-master/pkg/domain"
	"github.com/core-tools/hsu-mcp-master/pkg/logging"
	"github.com/core-tools/hsu-mcp-master/pkg/monitoring"
	"github.com/core-tools/hsu-mcp-master/pkg/registry"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// AggregateService is the gRPC health name that is SERVING only while every
// monitored service is healthy. The empty name reports the master itself.
const AggregateService = "mcp.services"

// HealthHandler mirrors monitoring verdicts onto the standard gRPC health service
type HealthHandler struct {
	server *health.Server
	logger logging.Logger

	mu        sync.Mutex
	unhealthy map[string]bool
}

// RegisterGRPCServerHandler registers the health service on the registrar and
// seeds one entry per registered service from its current status.
func RegisterGRPCServerHandler(grpcServerRegistrar grpc.ServiceRegistrar, handler domain.Contract, logger logging.Logger) *HealthHandler {
	if logger == nil {
		logger = logging.Nop()
	}
	h := &HealthHandler{
		server:    health.NewServer(),
		logger:    logger,
		unhealthy: make(map[string]bool),
	}
	for _, s := range handler.Services(registry.Filter{}) {
		h.set(s.ID, s.Status == registry.StatusRunning)
	}
	h.publishAggregate()

	healthpb.RegisterHealthServer(grpcServerRegistrar, h.server)
	return h
}

// Listener feeds each monitoring cycle into the health service
func (h *HealthHandler) Listener() domain.VerdictListener {
	return h.Update
}

// Update applies a set of verdicts
func (h *HealthHandler) Update(verdicts []monitoring.Verdict) {
	h.mu.Lock()
	for _, v := range verdicts {
		h.set(v.ServiceID, v.Healthy)
	}
	h.publishAggregate()
	h.mu.Unlock()

	h.logger.Debugf("gRPC health updated, verdicts: %d", len(verdicts))
}

// Shutdown reports NOT_SERVING for every name; used during graceful stop
func (h *HealthHandler) Shutdown() {
	h.server.Shutdown()
}

func (h *HealthHandler) set(id string, healthy bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if healthy {
		delete(h.unhealthy, id)
	} else {
		h.unhealthy[id] = true
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.server.SetServingStatus(id, status)
}

func (h *HealthHandler) publishAggregate() {
	status := healthpb.HealthCheckResponse_SERVING
	if len(h.unhealthy) > 0 {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.server.SetServingStatus(AggregateService, status)
}
