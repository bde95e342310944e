package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithNoPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Provider.Backend)
	assert.Equal(t, "gpt-4o-mini", cfg.Provider.Model)
	assert.Equal(t, "hybrid", cfg.RootLoop.Profile)
	assert.True(t, cfg.RootLoop.RequirePromptReadBeforeFinalize)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_NonexistentPathFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Provider.Backend)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "provider:\n  backend: anthropic\n  model: claude-3-haiku\nroot_loop:\n  profile: pure\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.Provider.Backend)
	assert.Equal(t, "claude-3-haiku", cfg.Provider.Model)
	assert.Equal(t, "pure", cfg.RootLoop.Profile)
}

func TestLoad_EnvVarOverridesAPIKeyWhenUnset(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test-123")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", cfg.Provider.APIKey)
}

func TestLoad_EnvVarDoesNotOverrideExplicitAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-from-env")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "provider:\n  backend: openai\n  api_key: sk-from-file\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-from-file", cfg.Provider.APIKey)
}

func TestLoad_NegativeMaxDepthIsRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "budget:\n  max_depth: -1\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "max_depth must be >= 0")
}

func TestBudgetConfig_ToOverrides_NilWhenAllZero(t *testing.T) {
	var b BudgetConfig
	assert.Nil(t, b.ToOverrides())
}

func TestBudgetConfig_ToOverrides_OnlySetFieldsBecomePointers(t *testing.T) {
	b := BudgetConfig{MaxSteps: 10, MaxDepth: 2}
	overrides := b.ToOverrides()
	require.NotNil(t, overrides)
	require.NotNil(t, overrides.MaxSteps)
	assert.Equal(t, 10, *overrides.MaxSteps)
	require.NotNil(t, overrides.MaxDepth)
	assert.Equal(t, 2, *overrides.MaxDepth)
	assert.Nil(t, overrides.MaxSubCalls)
	assert.Nil(t, overrides.MaxPromptReadChars)
	assert.Nil(t, overrides.MaxTimeMs)
}
