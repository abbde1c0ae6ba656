package processfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/core-tools/hsu-mcp-master/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ProcessFileMockLogger is a simple mock implementation of Logger for testing
type ProcessFileMockLogger struct{}

func (m *ProcessFileMockLogger) LogLevelf(level int, format string, args ...interface{}) {}
func (m *ProcessFileMockLogger) Debugf(format string, args ...interface{})               {}
func (m *ProcessFileMockLogger) Infof(format string, args ...interface{})                {}
func (m *ProcessFileMockLogger) Warnf(format string, args ...interface{})                {}
func (m *ProcessFileMockLogger) Errorf(format string, args ...interface{})               {}

func TestNewProcessFileManager_WithDefaults(t *testing.T) {
	manager := NewProcessFileManager(ProcessFileConfig{}, nil)

	assert.Equal(t, DefaultAppName, manager.config.AppName)
	assert.Equal(t, UserService, manager.config.ServiceContext)
}

func TestLayout_WithBaseDirectory(t *testing.T) {
	base := t.TempDir()
	manager := NewProcessFileManager(ProcessFileConfig{BaseDirectory: base}, &ProcessFileMockLogger{})

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"data", manager.DataDirectory(), base},
		{"config", manager.ConfigFilePath(), filepath.Join(base, DefaultConfigFileName)},
		{"backups", manager.BackupDirectory(), filepath.Join(base, "backups")},
		{"logs", manager.LogFilePath(), filepath.Join(base, "logs", DefaultLogFileName)},
		{"service logs", manager.ServiceLogDirectory(), filepath.Join(base, "logs", "services")},
		{"stats", manager.StatsFilePath(), filepath.Join(base, DefaultStatsFileName)},
		{"lock", manager.LockFilePath(), filepath.Join(base, "run", DefaultLockFileName)},
		{"pid", manager.GeneratePIDFilePath("mastersrv"), filepath.Join(base, "run", "mastersrv.pid")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestLayout_DefaultContexts(t *testing.T) {
	for _, context := range []ServiceContext{SystemService, UserService, SessionService} {
		t.Run(string(context), func(t *testing.T) {
			manager := NewProcessFileManager(ProcessFileConfig{ServiceContext: context, AppName: "test-app"}, nil)

			assert.Contains(t, manager.DataDirectory(), "test-app")
			assert.Contains(t, manager.RuntimeDirectory(), "test-app")
			assert.True(t, filepath.IsAbs(manager.ConfigFilePath()))
		})
	}
}

func TestEnsureDirectories(t *testing.T) {
	base := filepath.Join(t.TempDir(), "nested")
	manager := NewProcessFileManager(ProcessFileConfig{BaseDirectory: base}, nil)

	require.NoError(t, manager.EnsureDirectories())

	for _, dir := range []string{manager.BackupDirectory(), manager.ServiceLogDirectory(), manager.RuntimeDirectory()} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestPIDFile_RoundTrip(t *testing.T) {
	manager := NewProcessFileManager(ProcessFileConfig{BaseDirectory: t.TempDir()}, &ProcessFileMockLogger{})

	_, err := manager.ReadPIDFile("mastersrv")
	assert.True(t, errors.IsNotFoundError(err))

	require.NoError(t, manager.WritePIDFile("mastersrv", 4242))
	pid, err := manager.ReadPIDFile("mastersrv")
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)

	require.NoError(t, manager.RemovePIDFile("mastersrv"))
	require.NoError(t, manager.RemovePIDFile("mastersrv"))
}

func TestPIDFile_InvalidContent(t *testing.T) {
	manager := NewProcessFileManager(ProcessFileConfig{BaseDirectory: t.TempDir()}, nil)
	path := manager.GeneratePIDFilePath("broken")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid\n"), 0644))

	_, err := manager.ReadPIDFile("broken")
	assert.True(t, errors.IsValidationError(err))
}

func TestValidateDirectory_NotADirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0644))

	err := ValidateDirectory(file)
	assert.True(t, errors.IsValidationError(err))
}

func TestGetRecommendedProcessFileConfig(t *testing.T) {
	tests := []struct {
		scenario string
		context  ServiceContext
		hasBase  bool
	}{
		{"daemon", SystemService, false},
		{"user", UserService, false},
		{"desktop", SessionService, false},
		{"dev", UserService, true},
		{"unknown", UserService, false},
	}
	for _, tt := range tests {
		t.Run(tt.scenario, func(t *testing.T) {
			config := GetRecommendedProcessFileConfig(tt.scenario, "")
			assert.Equal(t, tt.context, config.ServiceContext)
			assert.Equal(t, DefaultAppName, config.AppName)
			assert.Equal(t, tt.hasBase, config.BaseDirectory != "")
		})
	}
}
