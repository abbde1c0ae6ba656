package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/core-tools/hsu-mcp-master/pkg/logging"

	"golang.org/x/sync/errgroup"
)

// InfoPath is where MCP services describe themselves
const InfoPath = "/mcp/info"

// DefaultDiscoveryPorts are scanned when no port list is configured
var DefaultDiscoveryPorts = []int{8080, 8081, 8082, 8083, 8084, 8090, 8091, 8092}

// DiscoveredService is an MCP service answering on InfoPath
type DiscoveredService struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Version string `json:"version,omitempty"`
}

type Discoverer struct {
	client      *http.Client
	concurrency int
	logger      logging.Logger
}

func NewDiscoverer(timeout time.Duration, logger logging.Logger) *Discoverer {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Discoverer{
		client:      &http.Client{Timeout: timeout},
		concurrency: DefaultConcurrency,
		logger:      logger,
	}
}

// Discover scans host on every port and returns the services that answered, sorted by port
func (d *Discoverer) Discover(ctx context.Context, host string, ports []int) []DiscoveredService {
	if len(ports) == 0 {
		ports = DefaultDiscoveryPorts
	}

	var mu sync.Mutex
	var found []DiscoveredService

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for _, port := range ports {
		g.Go(func() error {
			service, ok := d.query(gctx, host, port)
			if ok {
				mu.Lock()
				found = append(found, service)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(found, func(i, j int) bool { return found[i].Port < found[j].Port })
	d.logger.Debugf("Discovery finished, host: %s, scanned: %d, found: %d", host, len(ports), len(found))
	return found
}

func (d *Discoverer) query(ctx context.Context, host string, port int) (DiscoveredService, bool) {
	url := fmt.Sprintf("http://%s:%d%s", host, port, InfoPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return DiscoveredService{}, false
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return DiscoveredService{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return DiscoveredService{}, false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return DiscoveredService{}, false
	}

	service := DiscoveredService{Host: host, Port: port}
	if err := json.Unmarshal(body, &service); err != nil {
		d.logger.Debugf("Ignoring non-MCP info response, url: %s, error: %v", url, err)
		return DiscoveredService{}, false
	}
	service.Host = host
	service.Port = port
	return service, true
}
