//go:build linux
// +build linux

package resourcelimits

import (
	"os"

	"github.com/core-tools/hsu-mcp-master/pkg/errors"
	"github.com/core-tools/hsu-mcp-master/pkg/logging"

	"github.com/prometheus/procfs"
)

// linuxResourceMonitor reads /proc/<pid>/stat and /proc/<pid>/fd
type linuxResourceMonitor struct {
	logger logging.Logger
}

func newLinuxResourceMonitor(logger logging.Logger) PlatformResourceMonitor {
	return &linuxResourceMonitor{
		logger: logger,
	}
}

func (l *linuxResourceMonitor) GetProcessUsage(pid int) (*ResourceUsage, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, errors.NewIOError("failed to open procfs", err)
	}
	proc, err := fs.Proc(pid)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("process not found", err).WithContext("pid", pid)
		}
		return nil, errors.NewIOError("failed to read process", err).WithContext("pid", pid)
	}
	stat, err := proc.Stat()
	if err != nil {
		return nil, errors.NewIOError("failed to read process stat", err).WithContext("pid", pid)
	}

	usage := &ResourceUsage{
		PID:       pid,
		MemoryRSS: int64(stat.ResidentMemory()),
		CPUTime:   stat.CPUTime(),
	}
	if fds, err := proc.FileDescriptorsLen(); err == nil {
		usage.OpenFileDescriptors = fds
	} else {
		l.logger.Debugf("File descriptors unavailable, pid: %d, error: %v", pid, err)
	}
	return usage, nil
}

func (l *linuxResourceMonitor) SupportsRealTimeMonitoring() bool {
	return true
}

// createPlatformSpecificMonitor creates Linux-specific monitor
func createPlatformSpecificMonitor(logger logging.Logger) PlatformResourceMonitor {
	return newLinuxResourceMonitor(logger)
}
