package master

import (
	"context"
	"time"

	"github.com/core-tools/hsu-mcp-master/pkg/config"
	"github.com/core-tools/hsu-mcp-master/pkg/domain"
	"github.com/core-tools/hsu-mcp-master/pkg/logging"

	"golang.org/x/sync/errgroup"
)

// RunOptions select what the long-running loop does besides monitoring
type RunOptions struct {
	DeployOnStart bool
	WatchConfig   bool
	Discovery     bool
	Listener      domain.VerdictListener
}

// Run is the daemon loop. After an optional deploy it monitors, watches the
// configuration and runs discovery until ctx is cancelled. A failed deploy
// is logged and monitoring still starts.
func (m *Master) Run(ctx context.Context, options RunOptions) error {
	if options.DeployOnStart {
		result := m.Deploy(ctx, m.config.Environment)
		if !result.Success {
			m.logger.Warnf("Deploy on start failed, errors: %v", result.Errors)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		m.Monitor(ctx, 0, options.Listener)
		return nil
	})

	if options.WatchConfig {
		watcher := config.NewWatcher(m.config.ConfigPath, m.config.ReloadDebounce, func() {
			result := m.Reload(ctx)
			if !result.Success {
				m.logger.Warnf("Configuration reload failed, errors: %v", result.Errors)
			}
		}, logging.WithPrefix(m.logger, "watcher"))
		g.Go(func() error {
			if err := watcher.Run(ctx); err != nil {
				m.logger.Errorf("Configuration watcher failed, live reload disabled, error: %v", err)
			}
			return nil
		})
	}

	if options.Discovery {
		g.Go(func() error {
			m.discoveryLoop(ctx)
			return nil
		})
	}

	err := g.Wait()
	m.logger.Infof("Master run loop stopped")
	return err
}

// discoveryLoop logs unregistered services every service_discovery_interval seconds
func (m *Master) discoveryLoop(ctx context.Context) {
	for {
		interval := time.Duration(m.reg.Settings().ServiceDiscoveryInterval) * time.Second
		if interval <= 0 {
			interval = time.Minute
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		found, err := m.Discover(ctx)
		if err != nil {
			continue
		}
		for _, s := range found {
			m.logger.Infof("Unregistered MCP service discovered, host: %s, port: %d, name: %s, type: %s",
				s.Host, s.Port, s.Name, s.Type)
		}
	}
}
