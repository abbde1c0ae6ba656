package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/core-tools/hsu-mcp-master/pkg/control"
	"github.com/core-tools/hsu-mcp-master/pkg/domain"
	"github.com/core-tools/hsu-mcp-master/pkg/errors"
	"github.com/core-tools/hsu-mcp-master/pkg/logging"
	"github.com/core-tools/hsu-mcp-master/pkg/monitoring"
	"github.com/core-tools/hsu-mcp-master/pkg/registry"

	"github.com/briandowns/spinner"
	flags "github.com/jessevdk/go-flags"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"gopkg.in/yaml.v3"
)

func addCommands(p *flags.Parser) {
	commands := []struct {
		name  string
		short string
		data  interface{}
	}{
		{"deploy", "Validate or create the configuration, start auto-start services and check health", &deployCommand{}},
		{"start", "Start managed services (all when no id is given)", &lifecycleCommand{operation: domain.OperationStart}},
		{"stop", "Stop managed services (all when no id is given)", &lifecycleCommand{operation: domain.OperationStop}},
		{"restart", "Restart managed services (all when no id is given)", &lifecycleCommand{operation: domain.OperationRestart}},
		{"status", "Show every registered service", &statusCommand{}},
		{"health", "Probe every monitored service once", &healthCommand{}},
		{"monitor", "Monitor with auto-restart until interrupted", &monitorCommand{}},
		{"configure", "Regenerate the configuration from a template", &configureCommand{}},
		{"backup", "Back up the configuration", &backupCommand{}},
		{"restore", "Restore the configuration from a backup manifest", &restoreCommand{}},
		{"compare", "Diff the configuration against a file or backup manifest", &compareCommand{}},
		{"clean", "Remove temporary files, old backups and old logs", &cleanCommand{}},
		{"reset", "Stop everything and redeploy from the template", &resetCommand{}},
		{"services", "List registered services", &servicesCommand{}},
		{"register", "Register a service from a YAML or JSON descriptor file", &registerCommand{}},
		{"unregister", "Remove a service", &unregisterCommand{}},
		{"discover", "Scan for unregistered MCP services", &discoverCommand{}},
		{"test-connection", "Probe a host and port", &testConnectionCommand{}},
		{"ping", "Query a running master over gRPC health", &pingCommand{}},
	}
	for _, c := range commands {
		if _, err := p.AddCommand(c.name, c.short, c.short, c.data); err != nil {
			panic(err)
		}
	}
}

func interruptible() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// runOperation runs op under a spinner and renders its result; a failed
// operation is returned as an error so the process exits non-zero.
func runOperation(label string, op func(ctx context.Context, s *session) domain.OperationResult) error {
	return withSession(func(s *session) error {
		ctx, cancel := interruptible()
		defer cancel()

		var sp *spinner.Spinner
		if !opts.Quiet && !opts.JSON {
			sp = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
			sp.Suffix = " " + label
			sp.Start()
		}
		result := op(ctx, s)
		if sp != nil {
			sp.Stop()
		}

		if opts.JSON {
			if err := printJSON(result); err != nil {
				return err
			}
		} else {
			renderResult(result)
		}
		if !result.Success {
			return fmt.Errorf("%s failed", result.Operation)
		}
		return nil
	})
}

type deployCommand struct {
	Environment string `long:"env" description:"target environment"`
}

func (c *deployCommand) Execute(args []string) error {
	return runOperation("Deploying...", func(ctx context.Context, s *session) domain.OperationResult {
		return s.master.Deploy(ctx, c.Environment)
	})
}

type lifecycleCommand struct {
	operation   string
	Environment string `long:"env" description:"target environment"`
}

func (c *lifecycleCommand) Execute(args []string) error {
	label := strings.ToUpper(c.operation[:1]) + c.operation[1:] + "ing..."
	if c.operation == domain.OperationStop {
		label = "Stopping..."
	}
	return runOperation(label, func(ctx context.Context, s *session) domain.OperationResult {
		switch c.operation {
		case domain.OperationStart:
			return s.master.Start(ctx, c.Environment, args...)
		case domain.OperationStop:
			return s.master.Stop(ctx, c.Environment, args...)
		}
		return s.master.Restart(ctx, c.Environment, args...)
	})
}

type statusCommand struct{}

func (c *statusCommand) Execute(args []string) error {
	return withSession(func(s *session) error {
		report, err := s.master.Status(context.Background())
		if err != nil {
			return err
		}
		if opts.JSON {
			return printJSON(report)
		}
		renderStatus(report)
		return nil
	})
}

type healthCommand struct{}

func (c *healthCommand) Execute(args []string) error {
	return withSession(func(s *session) error {
		ctx, cancel := interruptible()
		defer cancel()
		report, err := s.master.Health(ctx)
		if err != nil {
			return err
		}
		if opts.JSON {
			return printJSON(report)
		}
		renderVerdicts(report.Verdicts)
		if report.Unhealthy > 0 {
			return fmt.Errorf("%d service(s) unhealthy", report.Unhealthy)
		}
		return nil
	})
}

type monitorCommand struct {
	Duration time.Duration `long:"duration" description:"stop after this long, e.g. 10m; runs until interrupted when unset"`
}

func (c *monitorCommand) Execute(args []string) error {
	return withSession(func(s *session) error {
		ctx, cancel := interruptible()
		defer cancel()

		listener := func(verdicts []monitoring.Verdict) {
			if opts.JSON {
				_ = printJSON(verdicts)
				return
			}
			fmt.Printf("%s\n", time.Now().Format(time.RFC3339))
			renderVerdicts(verdicts)
		}
		result := s.master.Monitor(ctx, c.Duration, listener)
		if opts.JSON {
			return printJSON(result)
		}
		renderResult(result)
		return nil
	})
}

type configureCommand struct {
	Environment string   `long:"env" description:"target environment"`
	Template    string   `long:"template" description:"development, production or minimal"`
	Set         []string `long:"set" description:"override as dotted.key=value; repeatable"`
	File        string   `long:"overrides" description:"YAML or JSON file merged over the template"`
}

func (c *configureCommand) Execute(args []string) error {
	overrides, err := c.overrides()
	if err != nil {
		return err
	}
	return runOperation("Configuring...", func(ctx context.Context, s *session) domain.OperationResult {
		return s.master.Configure(ctx, c.Environment, c.Template, overrides)
	})
}

func (c *configureCommand) overrides() (map[string]interface{}, error) {
	overrides := make(map[string]interface{})
	if c.File != "" {
		data, err := os.ReadFile(c.File)
		if err != nil {
			return nil, errors.NewIOError("failed to read overrides file", err).WithContext("path", c.File)
		}
		if err := yaml.Unmarshal(data, &overrides); err != nil {
			return nil, errors.NewParseError("overrides file is not a mapping", err).WithContext("path", c.File)
		}
	}
	for _, assignment := range c.Set {
		key, raw, ok := strings.Cut(assignment, "=")
		if !ok || key == "" {
			return nil, errors.NewValidationError(fmt.Sprintf("override '%s' must look like key=value", assignment), nil)
		}
		var value interface{}
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		setPath(overrides, strings.Split(key, "."), value)
	}
	return overrides, nil
}

// setPath assigns value at a dotted path, creating intermediate maps
func setPath(m map[string]interface{}, path []string, value interface{}) {
	for _, key := range path[:len(path)-1] {
		next, ok := m[key].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			m[key] = next
		}
		m = next
	}
	m[path[len(path)-1]] = value
}

type backupCommand struct{}

func (c *backupCommand) Execute(args []string) error {
	return runOperation("Backing up...", func(ctx context.Context, s *session) domain.OperationResult {
		return s.master.Backup(ctx)
	})
}

type restoreCommand struct {
	Args struct {
		Manifest string `positional-arg-name:"manifest" required:"yes"`
	} `positional-args:"yes"`
}

func (c *restoreCommand) Execute(args []string) error {
	return runOperation("Restoring...", func(ctx context.Context, s *session) domain.OperationResult {
		return s.master.Restore(ctx, c.Args.Manifest)
	})
}

type compareCommand struct {
	Args struct {
		Path string `positional-arg-name:"path" required:"yes"`
	} `positional-args:"yes"`
}

func (c *compareCommand) Execute(args []string) error {
	return runOperation("Comparing...", func(ctx context.Context, s *session) domain.OperationResult {
		return s.master.Compare(ctx, c.Args.Path)
	})
}

type cleanCommand struct {
	Keep int `long:"keep" description:"backups to keep; defaults to the configured retention"`
}

func (c *cleanCommand) Execute(args []string) error {
	return runOperation("Cleaning...", func(ctx context.Context, s *session) domain.OperationResult {
		return s.master.Clean(ctx, c.Keep)
	})
}

type resetCommand struct {
	Environment string `long:"env" description:"target environment"`
	Yes         bool   `long:"yes" description:"confirm stopping every service"`
}

func (c *resetCommand) Execute(args []string) error {
	if !c.Yes {
		return errors.NewValidationError("reset stops every service and regenerates the configuration; pass --yes to confirm", nil)
	}
	return runOperation("Resetting...", func(ctx context.Context, s *session) domain.OperationResult {
		return s.master.Reset(ctx, c.Environment)
	})
}

type servicesCommand struct {
	Type   string `long:"type" description:"filter by service type"`
	Status string `long:"status" description:"filter by status"`
}

func (c *servicesCommand) Execute(args []string) error {
	return withSession(func(s *session) error {
		services := s.master.Services(registry.Filter{
			Type:   registry.ServiceType(c.Type),
			Status: registry.Status(c.Status),
		})
		if opts.JSON {
			return printJSON(services)
		}
		renderServices(services)
		return nil
	})
}

type registerCommand struct {
	Args struct {
		File string `positional-arg-name:"descriptor-file" required:"yes"`
	} `positional-args:"yes"`
}

func (c *registerCommand) Execute(args []string) error {
	data, err := os.ReadFile(c.Args.File)
	if err != nil {
		return errors.NewIOError("failed to read descriptor", err).WithContext("path", c.Args.File)
	}
	var descriptor registry.ServiceDescriptor
	if err := yaml.Unmarshal(data, &descriptor); err != nil {
		return errors.NewParseError("invalid service descriptor", err).WithContext("path", c.Args.File)
	}
	return runOperation("Registering...", func(ctx context.Context, s *session) domain.OperationResult {
		return s.master.RegisterService(ctx, descriptor)
	})
}

type unregisterCommand struct {
	Args struct {
		ID string `positional-arg-name:"service" required:"yes"`
	} `positional-args:"yes"`
}

func (c *unregisterCommand) Execute(args []string) error {
	return runOperation("Unregistering...", func(ctx context.Context, s *session) domain.OperationResult {
		return s.master.UnregisterService(ctx, c.Args.ID)
	})
}

type discoverCommand struct{}

func (c *discoverCommand) Execute(args []string) error {
	return withSession(func(s *session) error {
		ctx, cancel := interruptible()
		defer cancel()
		found, err := s.master.Discover(ctx)
		if err != nil {
			return err
		}
		if opts.JSON {
			return printJSON(found)
		}
		renderDiscovered(found)
		return nil
	})
}

type testConnectionCommand struct {
	Host       string `long:"host" default:"localhost" description:"host to probe"`
	Port       int    `long:"port" required:"yes" description:"port to probe"`
	HealthPath string `long:"health-path" description:"HTTP health path, e.g. /health"`
}

func (c *testConnectionCommand) Execute(args []string) error {
	return withSession(func(s *session) error {
		ctx, cancel := interruptible()
		defer cancel()
		verdict := s.master.TestConnection(ctx, c.Host, c.Port, c.HealthPath)
		if opts.JSON {
			return printJSON(verdict)
		}
		renderVerdicts([]monitoring.Verdict{verdict})
		if !verdict.Healthy {
			return fmt.Errorf("%s:%d is not reachable", c.Host, c.Port)
		}
		return nil
	})
}

type pingCommand struct {
	Address string        `long:"addr" default:"localhost:9091" description:"gRPC address of the master"`
	Service string        `long:"service" description:"service id; empty checks the master, mcp.services checks all"`
	Watch   bool          `long:"watch" description:"stream status changes until interrupted"`
	Timeout time.Duration `long:"timeout" default:"5s" description:"check timeout"`
}

func (c *pingCommand) Execute(args []string) error {
	conn, err := grpc.NewClient(c.Address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return errors.NewNetworkError("failed to connect", err).WithContext("address", c.Address)
	}
	defer conn.Close()

	gateway := control.NewGRPCClientGateway(conn, logging.Nop())
	name := c.Service
	if name == "" {
		name = "master"
	}

	if c.Watch {
		ctx, cancel := interruptible()
		defer cancel()
		return gateway.Watch(ctx, c.Service, func(status healthpb.HealthCheckResponse_ServingStatus) {
			fmt.Printf("%s %s: %s\n", time.Now().Format(time.RFC3339), name, status)
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()
	status, err := gateway.Check(ctx, c.Service)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", name, status)
	if status != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%s is %s", name, status)
	}
	return nil
}
