package monitoring

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/core-tools/hsu-mcp-master/pkg/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func descriptorFor(t *testing.T, id, rawURL string) registry.ServiceDescriptor {
	t.Helper()
	host, portStr, err := net.SplitHostPort(rawURL[len("http://"):])
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return registry.ServiceDescriptor{ID: id, Host: host, Port: port}
}

func closedPort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()
	return port
}

func TestLayeredProber_HTTP(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) { http.Redirect(w, r, "/elsewhere", http.StatusFound) })
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) })
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	tests := []struct {
		name       string
		path       string
		wantHealth bool
		wantReason Reason
	}{
		{"tcp only", "", true, ReasonNone},
		{"2xx", "/health", true, ReasonNone},
		{"3xx", "/moved", true, ReasonNone},
		{"5xx", "/broken", false, ReasonHTTPError},
		{"slow", "/slow", false, ReasonTimeout},
	}

	prober := NewLayeredProber(300 * time.Millisecond)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := descriptorFor(t, "svc", server.URL)
			d.HealthPath = tt.path

			verdict := prober.Probe(context.Background(), d)

			assert.Equal(t, "svc", verdict.ServiceID)
			assert.Equal(t, tt.wantHealth, verdict.Healthy, verdict.Message)
			assert.Equal(t, tt.wantReason, verdict.Reason)
			assert.False(t, verdict.CheckedAt.IsZero())
		})
	}
}

func TestLayeredProber_ConnectionRefused(t *testing.T) {
	prober := NewLayeredProber(time.Second)

	verdict := prober.Probe(context.Background(), registry.ServiceDescriptor{ID: "down", Host: "127.0.0.1", Port: closedPort(t)})

	assert.False(t, verdict.Healthy)
	assert.Equal(t, ReasonConnectionRefused, verdict.Reason)
}

func TestLayeredProber_GRPC(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	server := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	go server.Serve(listener)
	defer server.Stop()

	d := registry.ServiceDescriptor{
		ID:          "grpc",
		Host:        "127.0.0.1",
		Port:        listener.Addr().(*net.TCPAddr).Port,
		HealthProbe: registry.HealthProbeGRPC,
		Metadata:    map[string]string{MetadataGRPCService: "mcp"},
	}
	prober := NewLayeredProber(time.Second)

	healthServer.SetServingStatus("mcp", healthpb.HealthCheckResponse_SERVING)
	assert.True(t, prober.Probe(context.Background(), d).Healthy)

	healthServer.SetServingStatus("mcp", healthpb.HealthCheckResponse_NOT_SERVING)
	verdict := prober.Probe(context.Background(), d)
	assert.False(t, verdict.Healthy)
	assert.Equal(t, ReasonGRPCNotServing, verdict.Reason)
}

type fakeProber struct {
	mu       sync.Mutex
	delay    time.Duration
	inFlight int32
	maxSeen  int32
	healthy  map[string]bool
	calls    map[string]int
}

func (f *fakeProber) Probe(ctx context.Context, d registry.ServiceDescriptor) Verdict {
	current := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		seen := atomic.LoadInt32(&f.maxSeen)
		if current <= seen || atomic.CompareAndSwapInt32(&f.maxSeen, seen, current) {
			break
		}
	}
	time.Sleep(f.delay)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[d.ID]++
	healthy := f.healthy[d.ID]
	reason := ReasonNone
	if !healthy {
		reason = ReasonTimeout
	}
	return Verdict{Healthy: healthy, Reason: reason, CheckedAt: time.Now()}
}

func servicesNamed(ids ...string) []registry.ServiceDescriptor {
	out := make([]registry.ServiceDescriptor, 0, len(ids))
	for _, id := range ids {
		out = append(out, registry.ServiceDescriptor{ID: id})
	}
	return out
}

func TestChecker_CheckAllOrderAndBound(t *testing.T) {
	prober := &fakeProber{delay: 50 * time.Millisecond, healthy: map[string]bool{"a": true, "c": true}}
	checker := NewChecker(CheckerConfig{Concurrency: 2}, prober, nil)

	started := time.Now()
	verdicts := checker.CheckAll(context.Background(), servicesNamed("a", "b", "c", "d"))
	elapsed := time.Since(started)

	require.Len(t, verdicts, 4)
	for i, id := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, id, verdicts[i].ServiceID)
	}
	assert.True(t, verdicts[0].Healthy)
	assert.False(t, verdicts[1].Healthy)
	assert.LessOrEqual(t, atomic.LoadInt32(&prober.maxSeen), int32(2))
	assert.Less(t, elapsed, 190*time.Millisecond)
}

type panickingProber struct{}

func (panickingProber) Probe(ctx context.Context, d registry.ServiceDescriptor) Verdict {
	if d.ID == "bad" {
		panic("boom")
	}
	return Verdict{Healthy: true}
}

func TestChecker_PanicIsolated(t *testing.T) {
	checker := NewChecker(CheckerConfig{}, panickingProber{}, nil)

	verdicts := checker.CheckAll(context.Background(), servicesNamed("bad", "good"))

	require.Len(t, verdicts, 2)
	assert.False(t, verdicts[0].Healthy)
	assert.True(t, verdicts[1].Healthy)
}

func TestChecker_CancelledBeforeStart(t *testing.T) {
	checker := NewChecker(CheckerConfig{}, &fakeProber{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Empty(t, checker.CheckAll(ctx, servicesNamed("a", "b")))
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	prober := &fakeProber{healthy: map[string]bool{"a": true}}
	checker := NewChecker(CheckerConfig{}, prober, nil)

	var cycles int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx, FixedInterval(20*time.Millisecond), func() []registry.ServiceDescriptor {
			return servicesNamed("a")
		}, func(verdicts []Verdict) {
			atomic.AddInt32(&cycles, 1)
		})
		close(done)
	}()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&cycles) >= 3 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	after := atomic.LoadInt32(&cycles)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, after, atomic.LoadInt32(&cycles))
}

func TestChecker_RunFollowsIntervalChanges(t *testing.T) {
	prober := &fakeProber{healthy: map[string]bool{"a": true}}
	checker := NewChecker(CheckerConfig{}, prober, nil)

	var period atomic.Int64
	period.Store(int64(10 * time.Millisecond))
	interval := func() time.Duration { return time.Duration(period.Load()) }

	var cycles int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		checker.Run(ctx, interval, func() []registry.ServiceDescriptor {
			return servicesNamed("a")
		}, func(verdicts []Verdict) {
			atomic.AddInt32(&cycles, 1)
		})
		close(done)
	}()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&cycles) >= 3 }, 2*time.Second, 5*time.Millisecond)
	period.Store(int64(time.Hour))

	// at most one more tick runs on the old period
	time.Sleep(50 * time.Millisecond)
	settled := atomic.LoadInt32(&cycles)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, settled, atomic.LoadInt32(&cycles))

	cancel()
	<-done
}

func TestChecker_AlwaysTimingOutNeverHealthy(t *testing.T) {
	prober := &fakeProber{healthy: map[string]bool{}}
	checker := NewChecker(CheckerConfig{}, prober, nil)

	for i := 0; i < 5; i++ {
		verdicts := checker.CheckAll(context.Background(), servicesNamed("stuck"))
		require.Len(t, verdicts, 1)
		assert.False(t, verdicts[0].Healthy)
		assert.Equal(t, ReasonTimeout, verdicts[0].Reason)
	}
}

func TestDiscoverer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != InfoPath {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"name": "Core", "type": "core", "version": "1.0"})
	}))
	defer server.Close()

	d := descriptorFor(t, "x", server.URL)
	discoverer := NewDiscoverer(time.Second, nil)

	found := discoverer.Discover(context.Background(), d.Host, []int{closedPort(t), d.Port})

	require.Len(t, found, 1)
	assert.Equal(t, DiscoveredService{Host: d.Host, Port: d.Port, Name: "Core", Type: "core", Version: "1.0"}, found[0])
}
