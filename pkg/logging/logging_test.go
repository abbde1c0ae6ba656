package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingFuncs struct {
	lines []string
}

func (r *recordingFuncs) logLevelf(level int, format string, args ...interface{}) {
	r.lines = append(r.lines, fmt.Sprintf("%d %s", level, fmt.Sprintf(format, args...)))
}

func TestWithPrefix(t *testing.T) {
	rec := &recordingFuncs{}
	base := NewLogger("", LogFuncs{LogLevelf: rec.logLevelf})

	logger := WithPrefix(base, "health")
	logger.Infof("Check finished, service: %s", "core")
	logger.Errorf("Check failed")

	assert.Equal(t, []string{
		"1 [health] Check finished, service: core",
		"3 [health] Check failed",
	}, rec.lines)
}

func TestLogFuncsFallback(t *testing.T) {
	var warned []string
	logger := NewLogger("p: ", LogFuncs{
		Warnf: func(format string, args ...interface{}) {
			warned = append(warned, fmt.Sprintf(format, args...))
		},
	})

	logger.Debugf("dropped")
	logger.Warnf("kept %d", 1)

	assert.Equal(t, []string{"p: kept 1"}, warned)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]int{
		"debug":   LogLevelDebug,
		"INFO":    LogLevelInfo,
		"warning": LogLevelWarn,
		"error":   LogLevelError,
		"bogus":   LogLevelInfo,
	}
	for name, want := range tests {
		assert.Equal(t, want, ParseLevel(name), name)
	}
}

func TestNilBaseIsNop(t *testing.T) {
	assert.NotPanics(t, func() {
		WithPrefix(nil, "x").Infof("nothing")
	})
}

func TestZapLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "master.log")

	logger, err := NewZapLogger(ZapConfig{Level: "debug", Format: "json", Output: path})
	require.NoError(t, err)

	WithPrefix(logger, "test").Infof("Hello, service: %s", "core")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"level":"info"`)
	assert.Contains(t, string(data), "[test] Hello, service: core")
}
