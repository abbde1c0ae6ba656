package processfile

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-mcp-master/pkg/errors"
	"github.com/core-tools/hsu-mcp-master/pkg/logging"
)

// Default application name for the MCP master
const DefaultAppName = "mcp-master"

const (
	DefaultConfigFileName = "mcp-services.yaml"
	DefaultLockFileName   = "operation.lock"
	DefaultStatsFileName  = "stats.db"
	DefaultLogFileName    = "mcp-master.log"
)

// ProcessFileConfig controls where the master keeps its files
type ProcessFileConfig struct {
	// Base directory for all files. If empty, uses OS-appropriate defaults
	BaseDirectory string

	// Service context - affects directory selection
	ServiceContext ServiceContext

	// Application name for subdirectory creation
	AppName string
}

// ServiceContext defines the context in which the master runs
type ServiceContext string

const (
	// SystemService runs as a system service (daemon)
	SystemService ServiceContext = "system"

	// UserService runs as a user service
	UserService ServiceContext = "user"

	// SessionService runs for one login session
	SessionService ServiceContext = "session"
)

// ProcessFileManager generates the paths of the config document, backups,
// logs, the operation lock, the statistics database and PID files.
type ProcessFileManager struct {
	config ProcessFileConfig
	logger logging.Logger
}

func NewProcessFileManager(config ProcessFileConfig, logger logging.Logger) *ProcessFileManager {
	if config.AppName == "" {
		config.AppName = DefaultAppName
	}
	if config.ServiceContext == "" {
		config.ServiceContext = UserService
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &ProcessFileManager{
		config: config,
		logger: logger,
	}
}

// DataDirectory holds persistent state: config, backups, stats
func (m *ProcessFileManager) DataDirectory() string {
	if m.config.BaseDirectory != "" {
		return m.config.BaseDirectory
	}
	return filepath.Join(m.dataBaseDirectory(), m.config.AppName)
}

// RuntimeDirectory holds PID files and the operation lock
func (m *ProcessFileManager) RuntimeDirectory() string {
	if m.config.BaseDirectory != "" {
		return filepath.Join(m.config.BaseDirectory, "run")
	}
	return filepath.Join(m.runtimeBaseDirectory(), m.config.AppName)
}

func (m *ProcessFileManager) ConfigFilePath() string {
	return filepath.Join(m.DataDirectory(), DefaultConfigFileName)
}

func (m *ProcessFileManager) BackupDirectory() string {
	return filepath.Join(m.DataDirectory(), "backups")
}

func (m *ProcessFileManager) LogDirectory() string {
	return filepath.Join(m.DataDirectory(), "logs")
}

// ServiceLogDirectory holds stdout/stderr of managed service processes
func (m *ProcessFileManager) ServiceLogDirectory() string {
	return filepath.Join(m.LogDirectory(), "services")
}

func (m *ProcessFileManager) LogFilePath() string {
	return filepath.Join(m.LogDirectory(), DefaultLogFileName)
}

func (m *ProcessFileManager) LockFilePath() string {
	return filepath.Join(m.RuntimeDirectory(), DefaultLockFileName)
}

func (m *ProcessFileManager) StatsFilePath() string {
	return filepath.Join(m.DataDirectory(), DefaultStatsFileName)
}

// GeneratePIDFilePath generates the PID file path for the given name
func (m *ProcessFileManager) GeneratePIDFilePath(name string) string {
	return filepath.Join(m.RuntimeDirectory(), name+".pid")
}

// EnsureDirectories creates every directory of the layout
func (m *ProcessFileManager) EnsureDirectories() error {
	for _, dir := range []string{m.DataDirectory(), m.RuntimeDirectory(), m.BackupDirectory(), m.ServiceLogDirectory()} {
		if err := ValidateDirectory(dir); err != nil {
			return err
		}
	}
	return nil
}

// WritePIDFile writes pid to the PID file for name
func (m *ProcessFileManager) WritePIDFile(name string, pid int) error {
	pidFilePath := m.GeneratePIDFilePath(name)
	m.logger.Debugf("Writing PID file, name: %s, pid: %d, path: %s", name, pid, pidFilePath)

	if err := ValidateDirectory(filepath.Dir(pidFilePath)); err != nil {
		m.logger.Errorf("PID file directory validation failed, name: %s, path: %s, error: %v", name, pidFilePath, err)
		return err
	}

	if err := os.WriteFile(pidFilePath, []byte(fmt.Sprintf("%d\n", pid)), 0644); err != nil {
		return errors.NewIOError("failed to write PID file", err).WithContext("pid_file", pidFilePath).WithContext("pid", pid)
	}

	m.logger.Infof("PID file written, name: %s, pid: %d, path: %s", name, pid, pidFilePath)
	return nil
}

// ReadPIDFile reads the PID file for name
func (m *ProcessFileManager) ReadPIDFile(name string) (int, error) {
	pidFilePath := m.GeneratePIDFilePath(name)

	content, err := os.ReadFile(pidFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.NewNotFoundError("PID file not found", err).WithContext("pid_file", pidFilePath)
		}
		return 0, errors.NewIOError("failed to read PID file", err).WithContext("pid_file", pidFilePath)
	}

	pidStr := strings.TrimSpace(string(content))
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return 0, errors.NewValidationError("invalid PID in PID file", err).
			WithContext("pid_file", pidFilePath).WithContext("content", pidStr)
	}
	return pid, nil
}

// RemovePIDFile deletes the PID file for name; a missing file is not an error
func (m *ProcessFileManager) RemovePIDFile(name string) error {
	pidFilePath := m.GeneratePIDFilePath(name)
	if err := os.Remove(pidFilePath); err != nil && !os.IsNotExist(err) {
		return errors.NewIOError("failed to remove PID file", err).WithContext("pid_file", pidFilePath)
	}
	return nil
}

// dataBaseDirectory returns the OS-appropriate parent of the data directory
func (m *ProcessFileManager) dataBaseDirectory() string {
	switch m.config.ServiceContext {
	case SystemService:
		switch runtime.GOOS {
		case "windows":
			return programDataDirectory()
		default:
			return "/var/lib"
		}
	case SessionService:
		return os.TempDir()
	default:
		switch runtime.GOOS {
		case "windows":
			return localAppDataDirectory()
		case "darwin":
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return os.TempDir()
			}
			return filepath.Join(homeDir, "Library", "Application Support")
		default:
			if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
				return dataHome
			}
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return os.TempDir()
			}
			return filepath.Join(homeDir, ".local", "share")
		}
	}
}

// runtimeBaseDirectory returns the OS-appropriate parent of the runtime directory
func (m *ProcessFileManager) runtimeBaseDirectory() string {
	switch runtime.GOOS {
	case "windows":
		if m.config.ServiceContext == SystemService {
			return programDataDirectory()
		}
		return localAppDataDirectory()
	case "darwin":
		if m.config.ServiceContext == SystemService {
			return "/var/run"
		}
		return os.TempDir()
	}

	switch m.config.ServiceContext {
	case SystemService:
		// Modern standard is /run, with fallback to /var/run
		if _, err := os.Stat("/run"); err == nil {
			return "/run"
		}
		return "/var/run"
	default:
		if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
			return runtimeDir
		}
		sessionDir := fmt.Sprintf("/run/user/%d", os.Getuid())
		if _, err := os.Stat(sessionDir); err == nil {
			return sessionDir
		}
		return os.TempDir()
	}
}

func programDataDirectory() string {
	programData := os.Getenv("PROGRAMDATA")
	if programData == "" {
		programData = "C:\\ProgramData"
	}
	return programData
}

func localAppDataDirectory() string {
	if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
		return localAppData
	}
	if userProfile := os.Getenv("USERPROFILE"); userProfile != "" {
		return filepath.Join(userProfile, "AppData", "Local")
	}
	return "C:\\Users\\Default\\AppData\\Local"
}

// ValidateDirectory creates dir if missing and checks that it is writable
func ValidateDirectory(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return errors.NewIOError("failed to access directory", err).WithContext("directory", dir)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.NewIOError("failed to create directory", err).WithContext("directory", dir)
		}
	} else if !info.IsDir() {
		return errors.NewValidationError("path is not a directory", nil).WithContext("path", dir)
	}

	testFile := filepath.Join(dir, ".write_test")
	file, err := os.Create(testFile)
	if err != nil {
		return errors.NewIOError("directory is not writable", err).WithContext("directory", dir)
	}
	file.Close()
	os.Remove(testFile)
	return nil
}

// GetRecommendedProcessFileConfig returns the layout for a deployment scenario
func GetRecommendedProcessFileConfig(scenario string, appName string) ProcessFileConfig {
	if appName == "" {
		appName = DefaultAppName
	}

	switch strings.ToLower(scenario) {
	case "system", "daemon", "service":
		return ProcessFileConfig{ServiceContext: SystemService, AppName: appName}
	case "session", "desktop":
		return ProcessFileConfig{ServiceContext: SessionService, AppName: appName}
	case "development", "dev", "test":
		return ProcessFileConfig{
			BaseDirectory:  filepath.Join(os.TempDir(), appName+"-dev"),
			ServiceContext: UserService,
			AppName:        appName,
		}
	default:
		return ProcessFileConfig{ServiceContext: UserService, AppName: appName}
	}
}
