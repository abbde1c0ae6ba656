package control

import (
	"context"
	"io"

	"github.com/core-tools/hsu-mcp-master/pkg/errors"
	"github.com/core-tools/hsu-mcp-master/pkg/logging"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// HealthGateway queries a running master's gRPC health service
type HealthGateway struct {
	grpcClient healthpb.HealthClient
	logger     logging.Logger
}

func NewGRPCClientGateway(grpcClientConnection grpc.ClientConnInterface, logger logging.Logger) *HealthGateway {
	if logger == nil {
		logger = logging.Nop()
	}
	return &HealthGateway{
		grpcClient: healthpb.NewHealthClient(grpcClientConnection),
		logger:     logger,
	}
}

// Check returns the serving status of a service id, AggregateService, or the
// master itself when service is empty.
func (gw *HealthGateway) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	response, err := gw.grpcClient.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		gw.logger.Errorf("Health check client gateway, service: %s, error: %v", service, err)
		return healthpb.HealthCheckResponse_UNKNOWN, wrapRPCError(service, err)
	}
	gw.logger.Debugf("Health check client gateway done, service: %s, status: %s", service, response.Status)
	return response.Status, nil
}

// Watch calls onChange for every status change until ctx is done or the
// server closes the stream.
func (gw *HealthGateway) Watch(ctx context.Context, service string, onChange func(healthpb.HealthCheckResponse_ServingStatus)) error {
	stream, err := gw.grpcClient.Watch(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return wrapRPCError(service, err)
	}
	for {
		response, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return wrapRPCError(service, err)
		}
		onChange(response.Status)
	}
}

func wrapRPCError(service string, err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return errors.NewNotFoundError("service is not known to the health service", err).WithContext("service", service)
	case codes.DeadlineExceeded:
		return errors.NewTimeoutError("health check timed out", err).WithContext("service", service)
	case codes.Canceled:
		return errors.NewCancelledError("health check cancelled", err)
	}
	return errors.NewNetworkError("health check failed", err).WithContext("service", service)
}
