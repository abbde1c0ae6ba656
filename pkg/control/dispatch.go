package control

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/core-tools/hsu-mcp-master/pkg/domain"
	"github.com/core-tools/hsu-mcp-master/pkg/errors"
)

// OperationRequest carries the arguments of every named operation; each
// operation reads the fields it needs.
type OperationRequest struct {
	Environment     string                 `json:"environment,omitempty"`
	Services        []string               `json:"services,omitempty"`
	Template        string                 `json:"template,omitempty"`
	Overrides       map[string]interface{} `json:"overrides,omitempty"`
	Manifest        string                 `json:"manifest,omitempty"`
	Path            string                 `json:"path,omitempty"`
	Keep            int                    `json:"keep,omitempty"`
	DurationSeconds int                    `json:"duration_seconds,omitempty"`
}

// Dispatch runs the named operation. Status and health return their reports;
// every other operation returns a domain.OperationResult. Monitor needs a
// positive duration here since a request cannot wait forever.
func Dispatch(ctx context.Context, handler domain.Contract, name string, req OperationRequest) (interface{}, error) {
	switch strings.ToLower(name) {
	case domain.OperationDeploy:
		return handler.Deploy(ctx, req.Environment), nil
	case domain.OperationStart:
		return handler.Start(ctx, req.Environment, req.Services...), nil
	case domain.OperationStop:
		return handler.Stop(ctx, req.Environment, req.Services...), nil
	case domain.OperationRestart:
		return handler.Restart(ctx, req.Environment, req.Services...), nil
	case domain.OperationStatus:
		return handler.Status(ctx)
	case domain.OperationHealth:
		return handler.Health(ctx)
	case domain.OperationMonitor:
		if req.DurationSeconds <= 0 {
			return nil, errors.NewValidationError("monitor requires a positive duration_seconds", nil)
		}
		return handler.Monitor(ctx, time.Duration(req.DurationSeconds)*time.Second, nil), nil
	case domain.OperationConfigure:
		return handler.Configure(ctx, req.Environment, req.Template, req.Overrides), nil
	case domain.OperationBackup:
		return handler.Backup(ctx), nil
	case domain.OperationRestore:
		return handler.Restore(ctx, req.Manifest), nil
	case domain.OperationCompare:
		return handler.Compare(ctx, req.Path), nil
	case domain.OperationClean:
		return handler.Clean(ctx, req.Keep), nil
	case domain.OperationReset:
		return handler.Reset(ctx, req.Environment), nil
	}
	return nil, errors.NewNotFoundError(fmt.Sprintf("unknown operation '%s'", name), nil).
		WithContext("available", domain.Operations)
}

// Succeeded reports whether a Dispatch outcome represents success
func Succeeded(outcome interface{}) bool {
	if result, ok := outcome.(domain.OperationResult); ok {
		return result.Success
	}
	return outcome != nil
}
