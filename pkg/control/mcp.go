package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/core-tools/hsu-mcp-master/pkg/domain"
	"github.com/core-tools/hsu-mcp-master/pkg/logging"
	"github.com/core-tools/hsu-mcp-master/pkg/registry"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/tidwall/jsonc"
)

// MCPServerName identifies the tool server to MCP clients
const MCPServerName = "hsu-mcp-master"

const mcpInstructions = `Lifecycle manager for MCP services. Use mcp_status and mcp_health to inspect,
mcp_deploy/mcp_start/mcp_stop/mcp_restart to act, mcp_backup/mcp_restore/mcp_compare for
configuration history. Mutating tools fail with a 'locked' error while another operation runs.`

type mcpTools struct {
	handler domain.Contract
	logger  logging.Logger
}

// NewMCPServer exposes every named operation, and the service registry
// calls, as MCP tools.
func NewMCPServer(handler domain.Contract, version string, logger logging.Logger) *server.MCPServer {
	if logger == nil {
		logger = logging.Nop()
	}
	t := &mcpTools{handler: handler, logger: logger}

	s := server.NewMCPServer(
		MCPServerName,
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(mcpInstructions),
	)

	environment := mcp.WithString("environment",
		mcp.Description("Target environment: development, staging, testing or production. Defaults to the configured one."))
	services := mcp.WithString("services",
		mcp.Description("Comma-separated service ids. Empty means every registered service."))

	s.AddTool(mcp.NewTool("mcp_deploy",
		mcp.WithDescription("Validate or create the configuration, back it up, start auto-start services and check health."),
		environment,
	), t.operation(domain.OperationDeploy))
	s.AddTool(mcp.NewTool("mcp_start",
		mcp.WithDescription("Start managed services."),
		environment, services,
	), t.operation(domain.OperationStart))
	s.AddTool(mcp.NewTool("mcp_stop",
		mcp.WithDescription("Stop managed services."),
		environment, services,
	), t.operation(domain.OperationStop))
	s.AddTool(mcp.NewTool("mcp_restart",
		mcp.WithDescription("Stop, then start managed services."),
		environment, services,
	), t.operation(domain.OperationRestart))
	s.AddTool(mcp.NewTool("mcp_status",
		mcp.WithDescription("Report every registered service with status, restart bookkeeping and statistics."),
	), t.operation(domain.OperationStatus))
	s.AddTool(mcp.NewTool("mcp_health",
		mcp.WithDescription("Probe every monitored service once."),
	), t.operation(domain.OperationHealth))
	s.AddTool(mcp.NewTool("mcp_monitor",
		mcp.WithDescription("Run health cycles with auto-restart for a bounded time."),
		mcp.WithNumber("duration_seconds", mcp.Required(), mcp.Description("How long to monitor")),
	), t.operation(domain.OperationMonitor))
	s.AddTool(mcp.NewTool("mcp_configure",
		mcp.WithDescription("Regenerate the configuration from a template, environment overlay and overrides."),
		environment,
		mcp.WithString("template", mcp.Description("Template name: development, production or minimal")),
		mcp.WithString("overrides", mcp.Description("JSON object merged over the template; comments are allowed")),
	), t.operation(domain.OperationConfigure))
	s.AddTool(mcp.NewTool("mcp_backup",
		mcp.WithDescription("Write a timestamped backup of the configuration with a checksum manifest."),
	), t.operation(domain.OperationBackup))
	s.AddTool(mcp.NewTool("mcp_restore",
		mcp.WithDescription("Restore the configuration from a backup manifest."),
		mcp.WithString("manifest", mcp.Required(), mcp.Description("Path of the .manifest.json file")),
	), t.operation(domain.OperationRestore))
	s.AddTool(mcp.NewTool("mcp_compare",
		mcp.WithDescription("Diff the live configuration against a configuration file or backup manifest."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Configuration or manifest path")),
	), t.operation(domain.OperationCompare))
	s.AddTool(mcp.NewTool("mcp_clean",
		mcp.WithDescription("Remove temporary files, old backups and old rotated logs."),
		mcp.WithNumber("keep", mcp.Description("Number of backups to keep")),
	), t.operation(domain.OperationClean))
	s.AddTool(mcp.NewTool("mcp_reset",
		mcp.WithDescription("Back up, stop everything, clear transient state and redeploy from the template."),
		environment,
	), t.operation(domain.OperationReset))

	s.AddTool(mcp.NewTool("mcp_list_services",
		mcp.WithDescription("List registered services, optionally filtered."),
		mcp.WithString("type", mcp.Description("Service type filter")),
		mcp.WithString("status", mcp.Description("Status filter: stopped, starting, running, error, unknown")),
	), t.listServices)
	s.AddTool(mcp.NewTool("mcp_get_service",
		mcp.WithDescription("Show one service with its restart state and statistics."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Service id")),
	), t.getService)
	s.AddTool(mcp.NewTool("mcp_register_service",
		mcp.WithDescription("Register a service and persist it to the configuration."),
		mcp.WithString("descriptor", mcp.Required(), mcp.Description("Service descriptor as a JSON object")),
	), t.registerService)
	s.AddTool(mcp.NewTool("mcp_unregister_service",
		mcp.WithDescription("Stop if running, then remove a service from the configuration."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Service id")),
	), t.unregisterService)
	s.AddTool(mcp.NewTool("mcp_test_connection",
		mcp.WithDescription("Probe an arbitrary host and port without registering it."),
		mcp.WithString("host", mcp.Description("Host, defaults to localhost")),
		mcp.WithNumber("port", mcp.Required(), mcp.Description("TCP port")),
		mcp.WithString("health_path", mcp.Description("HTTP health path, e.g. /health")),
	), t.testConnection)
	s.AddTool(mcp.NewTool("mcp_discover",
		mcp.WithDescription("Scan the discovery ports for MCP services that are not registered."),
	), t.discover)

	return s
}

// ServeStdio serves the MCP tools over stdin and stdout until EOF or ctx is done
func ServeStdio(ctx context.Context, s *server.MCPServer) error {
	err := server.NewStdioServer(s).Listen(ctx, os.Stdin, os.Stdout)
	if err != nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parseObject decodes a JSON object that may contain comments and trailing commas
func parseObject(text string, target interface{}) error {
	return json.Unmarshal(jsonc.ToJSON([]byte(text)), target)
}

func jsonResult(value interface{}, isError bool) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	if isError {
		return mcp.NewToolResultError(string(data)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (t *mcpTools) operation(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		opReq := OperationRequest{
			Environment:     req.GetString("environment", ""),
			Services:        splitList(req.GetString("services", "")),
			Template:        req.GetString("template", ""),
			Manifest:        req.GetString("manifest", ""),
			Path:            req.GetString("path", ""),
			Keep:            intArg(req, "keep", 0),
			DurationSeconds: intArg(req, "duration_seconds", 0),
		}
		if overrides := req.GetString("overrides", ""); overrides != "" {
			if err := parseObject(overrides, &opReq.Overrides); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("overrides must be a JSON object: %v", err)), nil
			}
		}

		t.logger.Debugf("MCP tool called, operation: %s", name)
		outcome, err := Dispatch(ctx, t.handler, name, opReq)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(outcome, !Succeeded(outcome))
	}
}

func (t *mcpTools) listServices(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := registry.Filter{
		Type:   registry.ServiceType(req.GetString("type", "")),
		Status: registry.Status(req.GetString("status", "")),
	}
	return jsonResult(t.handler.Services(filter), false)
}

func (t *mcpTools) getService(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := t.handler.Service(req.GetString("id", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(status, false)
}

func (t *mcpTools) registerService(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var descriptor registry.ServiceDescriptor
	if err := parseObject(req.GetString("descriptor", ""), &descriptor); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("descriptor must be a JSON object: %v", err)), nil
	}
	result := t.handler.RegisterService(ctx, descriptor)
	return jsonResult(result, !result.Success)
}

func (t *mcpTools) unregisterService(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result := t.handler.UnregisterService(ctx, req.GetString("id", ""))
	return jsonResult(result, !result.Success)
}

func (t *mcpTools) testConnection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	verdict := t.handler.TestConnection(ctx, req.GetString("host", ""), intArg(req, "port", 0), req.GetString("health_path", ""))
	return jsonResult(verdict, false)
}

func (t *mcpTools) discover(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	found, err := t.handler.Discover(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(found, false)
}
