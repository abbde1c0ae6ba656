package master

import (
	"context"
	"time"

	"github.com/core-tools/hsu-mcp-master/pkg/domain"
	"github.com/core-tools/hsu-mcp-master/pkg/monitoring"
)

// MonitorReport is the Data of a monitor result
type MonitorReport struct {
	Cycles    int            `json:"cycles"`
	Checks    int            `json:"checks"`
	Failures  int            `json:"failures"`
	Resources int            `json:"resource_violations"`
	LastCycle time.Time      `json:"last_cycle,omitempty"`
	Unhealthy map[string]int `json:"unhealthy"`
}

// Monitor runs health cycles every health_check_interval seconds until ctx is
// cancelled or duration elapses; a zero duration monitors until cancellation.
// A changed interval applies from the next cycle.
// Verdicts drive the restart controller. Monitor does not take the operation lock.
func (m *Master) Monitor(ctx context.Context, duration time.Duration, listener domain.VerdictListener) domain.OperationResult {
	return m.unlocked(ctx, domain.OperationMonitor, func(ctx context.Context, result *domain.OperationResult) {
		report := &MonitorReport{Unhealthy: map[string]int{}}
		result.Data = report

		if duration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, duration)
			defer cancel()
		}

		m.logger.Infof("Monitoring started, interval: %v, duration: %v", m.interval(), duration)

		m.checker.Run(ctx, m.interval, m.probeTargets, func(verdicts []monitoring.Verdict) {
			m.observe(ctx, verdicts)
			ids := make([]string, 0, len(verdicts))
			for _, v := range verdicts {
				ids = append(ids, v.ServiceID)
			}
			report.Resources += len(m.checkResources(ids))

			report.Cycles++
			report.LastCycle = m.now()
			for _, v := range verdicts {
				report.Checks++
				if !v.Healthy {
					report.Failures++
					report.Unhealthy[v.ServiceID]++
				}
			}
			if listener != nil {
				listener(verdicts)
			}
		})

		m.logger.Infof("Monitoring stopped, cycles: %d, checks: %d, failures: %d",
			report.Cycles, report.Checks, report.Failures)
	})
}

func (m *Master) interval() time.Duration {
	seconds := m.reg.Settings().HealthCheckInterval
	if seconds <= 0 {
		seconds = 30
	}
	return time.Duration(seconds) * time.Second
}
