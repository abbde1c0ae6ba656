package monitoring

import (
	"context"
	"time"

	"github.com/core-tools/hsu-mcp-master/pkg/logging"
	"github.com/core-tools/hsu-mcp-master/pkg/registry"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultProbeTimeout = 2 * time.Second
	DefaultConcurrency  = 8
)

type CheckerConfig struct {
	ProbeTimeout time.Duration
	Concurrency  int
}

// Checker probes services concurrently, one verdict per service per cycle
type Checker struct {
	prober      Prober
	concurrency int
	logger      logging.Logger
}

// NewChecker uses a LayeredProber when prober is nil
func NewChecker(config CheckerConfig, prober Prober, logger logging.Logger) *Checker {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}
	if prober == nil {
		prober = NewLayeredProber(config.ProbeTimeout)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Checker{
		prober:      prober,
		concurrency: config.Concurrency,
		logger:      logger,
	}
}

// CheckAll probes services with at most Concurrency probes in flight and
// returns verdicts in input order. Once ctx is cancelled no further probes
// start; probes already running complete and are included.
func (c *Checker) CheckAll(ctx context.Context, services []registry.ServiceDescriptor) []Verdict {
	results := make([]*Verdict, len(services))
	probeCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(c.concurrency)

	for i, d := range services {
		if ctx.Err() != nil {
			c.logger.Debugf("Health cycle cancelled, skipped: %d", len(services)-i)
			break
		}
		g.Go(func() error {
			verdict := c.probe(probeCtx, d)
			results[i] = &verdict
			return nil
		})
	}
	_ = g.Wait()

	verdicts := make([]Verdict, 0, len(services))
	for _, v := range results {
		if v != nil {
			verdicts = append(verdicts, *v)
		}
	}
	return verdicts
}

// probe isolates a misbehaving prober so one service cannot break the cycle
func (c *Checker) probe(ctx context.Context, d registry.ServiceDescriptor) (verdict Verdict) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Errorf("Probe panicked, id: %s, panic: %v", d.ID, r)
			verdict = Verdict{ServiceID: d.ID, CheckedAt: time.Now(), Reason: ReasonUnreachable, Message: "probe panicked"}
		}
	}()

	verdict = c.prober.Probe(ctx, d)
	verdict.ServiceID = d.ID
	if verdict.Healthy {
		c.logger.Debugf("Health check passed, id: %s, latency: %v", d.ID, verdict.Latency)
	} else {
		c.logger.Warnf("Health check failed, id: %s, reason: %s, message: %s", d.ID, verdict.Reason, verdict.Message)
	}
	return verdict
}

// Source supplies the services to probe at the start of each cycle
type Source func() []registry.ServiceDescriptor

// Sink receives every cycle's verdicts
type Sink func(verdicts []Verdict)

// Interval yields the current cycle period; Run re-reads it after every cycle
type Interval func() time.Duration

// FixedInterval is an Interval that never changes
func FixedInterval(d time.Duration) Interval {
	return func() time.Duration { return d }
}

// Run probes immediately and then once per interval until ctx is cancelled.
// A changed interval takes effect from the next tick. A cycle in progress at
// cancellation is completed and delivered.
func (c *Checker) Run(ctx context.Context, interval Interval, source Source, sink Sink) {
	period := interval()
	c.logger.Infof("Health checker started, interval: %v, concurrency: %d", period, c.concurrency)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	c.cycle(ctx, source, sink)
	for {
		select {
		case <-ctx.Done():
			c.logger.Infof("Health checker stopped")
			return
		case <-ticker.C:
			c.cycle(ctx, source, sink)
		}
		if next := interval(); next > 0 && next != period {
			c.logger.Infof("Health check interval changed, from: %v, to: %v", period, next)
			period = next
			ticker.Reset(period)
		}
	}
}

func (c *Checker) cycle(ctx context.Context, source Source, sink Sink) {
	services := source()
	if len(services) == 0 {
		return
	}
	verdicts := c.CheckAll(ctx, services)
	if sink != nil && len(verdicts) > 0 {
		sink(verdicts)
	}
}

// TestConnection probes an arbitrary endpoint without registering it
func (c *Checker) TestConnection(ctx context.Context, host string, port int, healthPath string) Verdict {
	return c.probe(ctx, registry.ServiceDescriptor{
		ID:         "test-connection",
		Host:       host,
		Port:       port,
		HealthPath: healthPath,
	})
}
