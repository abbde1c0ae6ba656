package resourcelimits

import (
	"sync"
	"time"

	"github.com/core-tools/hsu-mcp-master/pkg/errors"
	"github.com/core-tools/hsu-mcp-master/pkg/logging"
)

// ResourceMonitor samples processes and derives CPU percentage from the
// CPU time consumed between two samples of the same PID.
type ResourceMonitor struct {
	platformMonitor PlatformResourceMonitor
	logger          logging.Logger
	now             func() time.Time

	mutex    sync.Mutex
	previous map[int]ResourceUsage
}

// NewResourceMonitor uses the platform monitor when platformMonitor is nil
func NewResourceMonitor(platformMonitor PlatformResourceMonitor, logger logging.Logger) *ResourceMonitor {
	if logger == nil {
		logger = logging.Nop()
	}
	if platformMonitor == nil {
		platformMonitor = createPlatformSpecificMonitor(logger)
	}
	return &ResourceMonitor{
		platformMonitor: platformMonitor,
		logger:          logger,
		now:             time.Now,
		previous:        make(map[int]ResourceUsage),
	}
}

// Supported reports whether usage can be sampled on this platform
func (m *ResourceMonitor) Supported() bool {
	return m.platformMonitor.SupportsRealTimeMonitoring()
}

// Sample returns the current usage of pid
func (m *ResourceMonitor) Sample(pid int) (*ResourceUsage, error) {
	if pid <= 0 {
		return nil, errors.NewValidationError("invalid PID", nil).WithContext("pid", pid)
	}
	usage, err := m.platformMonitor.GetProcessUsage(pid)
	if err != nil {
		m.Forget(pid)
		return nil, err
	}
	usage.PID = pid
	if usage.Timestamp.IsZero() {
		usage.Timestamp = m.now()
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if prev, ok := m.previous[pid]; ok {
		elapsed := usage.Timestamp.Sub(prev.Timestamp).Seconds()
		if elapsed > 0 && usage.CPUTime >= prev.CPUTime {
			usage.CPUPercent = (usage.CPUTime - prev.CPUTime) / elapsed * 100
		}
	}
	m.previous[pid] = *usage

	return usage, nil
}

// Forget drops the previous sample of pid
func (m *ResourceMonitor) Forget(pid int) {
	m.mutex.Lock()
	delete(m.previous, pid)
	m.mutex.Unlock()
}
