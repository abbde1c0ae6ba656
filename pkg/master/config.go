package master

import (
	"time"

	"github.com/core-tools/hsu-mcp-master/pkg/config"
	"github.com/core-tools/hsu-mcp-master/pkg/lock"
	"github.com/core-tools/hsu-mcp-master/pkg/monitoring"
	"github.com/core-tools/hsu-mcp-master/pkg/processfile"
	"github.com/core-tools/hsu-mcp-master/pkg/restart"
)

const (
	DefaultKeepBackups = 10
	DefaultKeepLogs    = 5

	DefaultStartupTimeout      = 10 * time.Second
	DefaultStartupPollInterval = 250 * time.Millisecond
)

// Config holds the paths and tunables of a Master
type Config struct {
	ConfigPath    string `yaml:"config_path"`
	BackupDir     string `yaml:"backup_dir"`
	LogDir        string `yaml:"log_dir"`
	ServiceLogDir string `yaml:"service_log_dir"`
	LockPath      string `yaml:"lock_path"`

	Environment string `yaml:"environment"`
	Template    string `yaml:"template"`

	LockStaleAfter   time.Duration   `yaml:"lock_stale_after"`
	KeepBackups      int             `yaml:"keep_backups"`
	KeepLogs         int             `yaml:"keep_logs"`
	ProbeTimeout     time.Duration   `yaml:"probe_timeout"`
	ProbeConcurrency int             `yaml:"probe_concurrency"`
	StopTimeout      time.Duration   `yaml:"stop_timeout"`
	FailureThreshold int             `yaml:"failure_threshold"`
	Backoff          []time.Duration `yaml:"backoff"`
	ReloadDebounce   time.Duration   `yaml:"reload_debounce"`

	// StartupTimeout bounds how long a freshly started service may take to
	// pass its first probe before deploy and start judge it
	StartupTimeout      time.Duration `yaml:"startup_timeout"`
	StartupPollInterval time.Duration `yaml:"startup_poll_interval"`

	ResourceWarningThreshold float64 `yaml:"resource_warning_threshold"`

	DiscoveryHost  string `yaml:"discovery_host"`
	DiscoveryPorts []int  `yaml:"discovery_ports"`
}

// ConfigFromLayout places every file of the master under the process file layout
func ConfigFromLayout(layout *processfile.ProcessFileManager) Config {
	return Config{
		ConfigPath:    layout.ConfigFilePath(),
		BackupDir:     layout.BackupDirectory(),
		LogDir:        layout.LogDirectory(),
		ServiceLogDir: layout.ServiceLogDirectory(),
		LockPath:      layout.LockFilePath(),
	}
}

func setConfigDefaults(c *Config) {
	if c.Environment == "" {
		c.Environment = config.EnvironmentDevelopment
	}
	if c.Template == "" {
		c.Template = config.TemplateDevelopment
	}
	if c.LockStaleAfter <= 0 {
		c.LockStaleAfter = lock.DefaultStaleAfter
	}
	if c.KeepBackups <= 0 {
		c.KeepBackups = DefaultKeepBackups
	}
	if c.KeepLogs <= 0 {
		c.KeepLogs = DefaultKeepLogs
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = monitoring.DefaultProbeTimeout
	}
	if c.ProbeConcurrency <= 0 {
		c.ProbeConcurrency = monitoring.DefaultConcurrency
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = restart.DefaultFailureThreshold
	}
	if len(c.Backoff) == 0 {
		c.Backoff = restart.DefaultBackoff
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = DefaultStartupTimeout
	}
	if c.StartupPollInterval <= 0 {
		c.StartupPollInterval = DefaultStartupPollInterval
	}
	if c.ReloadDebounce <= 0 {
		c.ReloadDebounce = config.DefaultDebounceInterval
	}
	if c.DiscoveryHost == "" {
		c.DiscoveryHost = "localhost"
	}
	if len(c.DiscoveryPorts) == 0 {
		c.DiscoveryPorts = monitoring.DefaultDiscoveryPorts
	}
}
