// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	l := NewLoader("")
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.HasLLM())
	assert.False(t, cfg.HasTTS())
	assert.False(t, cfg.HasKV())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 9090
logLevel: debug
llm:
  apiKey: sk-test
  model: test-model
`), 0o600))

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.HasLLM())
	assert.Equal(t, "test-model", cfg.LLM.Model)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9090\n"), 0o600))

	t.Setenv("SESSIONCORE_PORT", "7070")

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Port)
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("totallyUnknownField: true\n"), 0o600))

	_, err := NewLoader(path).Load()
	assert.Error(t, err)
}

func TestLoad_RejectsInvalidPort(t *testing.T) {
	t.Setenv("SESSIONCORE_PORT", "99999")
	_, err := NewLoader("").Load()
	assert.Error(t, err)
}

func TestLoad_AdminEmailsFromEnv(t *testing.T) {
	t.Setenv("SESSIONCORE_ADMIN_EMAILS", "a@example.com, b@example.com")
	cfg, err := NewLoader("").Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.AdminEmails)
}
