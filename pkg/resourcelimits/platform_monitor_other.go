//go:build !linux
// +build !linux

package resourcelimits

import (
	"runtime"

	"github.com/core-tools/hsu-mcp-master/pkg/errors"
	"github.com/core-tools/hsu-mcp-master/pkg/logging"
)

type unsupportedResourceMonitor struct{}

func (unsupportedResourceMonitor) GetProcessUsage(pid int) (*ResourceUsage, error) {
	return nil, errors.NewInternalError("resource sampling is not supported on "+runtime.GOOS, nil)
}

func (unsupportedResourceMonitor) SupportsRealTimeMonitoring() bool {
	return false
}

func createPlatformSpecificMonitor(logger logging.Logger) PlatformResourceMonitor {
	logger.Debugf("Resource sampling unavailable, os: %s", runtime.GOOS)
	return unsupportedResourceMonitor{}
}
