package monitoring

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/core-tools/hsu-mcp-master/pkg/process"
	"github.com/core-tools/hsu-mcp-master/pkg/registry"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// Reason explains an unhealthy verdict
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonTimeout           Reason = "timeout"
	ReasonConnectionRefused Reason = "connection-refused"
	ReasonHTTPError         Reason = "http-error"
	ReasonGRPCNotServing    Reason = "grpc-not-serving"
	ReasonProcessNotRunning Reason = "process-not-running"
	ReasonUnreachable       Reason = "unreachable"
)

// MetadataGRPCService names the service passed to the gRPC health check
const MetadataGRPCService = "grpc_service"

// Verdict is the outcome of probing one service once
type Verdict struct {
	ServiceID string        `json:"service_id"`
	Healthy   bool          `json:"healthy"`
	Latency   time.Duration `json:"latency"`
	CheckedAt time.Time     `json:"checked_at"`
	Reason    Reason        `json:"reason,omitempty"`
	Message   string        `json:"message,omitempty"`
}

// Prober probes a single service. Implementations never return errors;
// failures are encoded in the verdict.
type Prober interface {
	Probe(ctx context.Context, d registry.ServiceDescriptor) Verdict
}

// LayeredProber runs TCP, then HTTP when a health path is configured, then the
// optional gRPC or process layer. The first failing layer decides the verdict.
type LayeredProber struct {
	timeout    time.Duration
	httpClient *http.Client
	now        func() time.Time
}

func NewLayeredProber(timeout time.Duration) *LayeredProber {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &LayeredProber{
		timeout: timeout,
		httpClient: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		now: time.Now,
	}
}

func (p *LayeredProber) Probe(ctx context.Context, d registry.ServiceDescriptor) Verdict {
	started := p.now()
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	reason, message := p.probeLayers(ctx, d)

	return Verdict{
		ServiceID: d.ID,
		Healthy:   reason == ReasonNone,
		Latency:   p.now().Sub(started),
		CheckedAt: started,
		Reason:    reason,
		Message:   message,
	}
}

func (p *LayeredProber) probeLayers(ctx context.Context, d registry.ServiceDescriptor) (Reason, string) {
	if reason, message := p.checkTCP(ctx, d); reason != ReasonNone {
		return reason, message
	}
	if url := d.HealthURL(); url != "" {
		if reason, message := p.checkHTTP(ctx, url); reason != ReasonNone {
			return reason, message
		}
	}
	switch d.HealthProbe {
	case registry.HealthProbeGRPC:
		return p.checkGRPC(ctx, d)
	case registry.HealthProbeProcess:
		return p.checkProcess(d)
	}
	return ReasonNone, "healthy"
}

func (p *LayeredProber) checkTCP(ctx context.Context, d registry.ServiceDescriptor) (Reason, string) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", d.Address())
	if err != nil {
		return classifyNetError(ctx, err), fmt.Sprintf("TCP connection failed: %v", err)
	}
	conn.Close()
	return ReasonNone, ""
}

func (p *LayeredProber) checkHTTP(ctx context.Context, url string) (Reason, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ReasonHTTPError, fmt.Sprintf("failed to create HTTP request: %v", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		reason := classifyNetError(ctx, err)
		if reason == ReasonUnreachable {
			reason = ReasonHTTPError
		}
		return reason, fmt.Sprintf("HTTP request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return ReasonNone, ""
	}
	return ReasonHTTPError, fmt.Sprintf("HTTP health check failed: %s", resp.Status)
}

func (p *LayeredProber) checkGRPC(ctx context.Context, d registry.ServiceDescriptor) (Reason, string) {
	conn, err := grpc.NewClient(d.Address(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return ReasonUnreachable, fmt.Sprintf("gRPC client creation failed: %v", err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{
		Service: d.Metadata[MetadataGRPCService],
	})
	if err != nil {
		if status.Code(err) == codes.DeadlineExceeded || ctx.Err() != nil {
			return ReasonTimeout, fmt.Sprintf("gRPC health check timed out: %v", err)
		}
		return ReasonGRPCNotServing, fmt.Sprintf("gRPC health check failed: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return ReasonGRPCNotServing, fmt.Sprintf("gRPC health status: %s", resp.GetStatus())
	}
	return ReasonNone, ""
}

func (p *LayeredProber) checkProcess(d registry.ServiceDescriptor) (Reason, string) {
	if d.PID <= 0 {
		return ReasonProcessNotRunning, "no process recorded"
	}
	running, err := process.IsRunning(d.PID)
	if err != nil || !running {
		return ReasonProcessNotRunning, fmt.Sprintf("process not running: PID %d", d.PID)
	}
	return ReasonNone, ""
}

func classifyNetError(ctx context.Context, err error) Reason {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return ReasonConnectionRefused
	}
	return ReasonUnreachable
}
