package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/core-tools/hsu-mcp-master/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureCommand_Overrides(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "overrides.yaml")
	require.NoError(t, os.WriteFile(file, []byte("health_check_interval: 20\nsecurity:\n  tls: true\n"), 0o644))

	c := &configureCommand{
		File: file,
		Set:  []string{"max_retry_attempts=4", "security.audit=true", "name=plain text"},
	}
	overrides, err := c.overrides()
	require.NoError(t, err)

	assert.Equal(t, 20, overrides["health_check_interval"])
	assert.Equal(t, 4, overrides["max_retry_attempts"])
	assert.Equal(t, "plain text", overrides["name"])
	assert.Equal(t, map[string]interface{}{"tls": true, "audit": true}, overrides["security"])
}

func TestConfigureCommand_BadOverride(t *testing.T) {
	c := &configureCommand{Set: []string{"no-equals-sign"}}
	_, err := c.overrides()
	assert.True(t, errors.IsValidationError(err))

	c = &configureCommand{File: filepath.Join(t.TempDir(), "missing.yaml")}
	_, err = c.overrides()
	assert.True(t, errors.IsIOError(err))
}

func TestSetPath(t *testing.T) {
	m := map[string]interface{}{"a": "scalar"}
	setPath(m, []string{"a", "b", "c"}, 1)
	assert.Equal(t, map[string]interface{}{"a": map[string]interface{}{"b": map[string]interface{}{"c": 1}}}, m)
}
