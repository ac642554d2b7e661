package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdeploy-dev/kdeploy/internal/logging"
)

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("KDEPLOY_CONFIG", "/etc/kdeploy.yaml")
	t.Setenv("KDEPLOY_ENV", "staging")
	t.Setenv("KDEPLOY_NAMESPACE", "override-ns")
	t.Setenv("KDEPLOY_LOG_LEVEL", "debug")

	opts := &Options{LogLevel: logging.LevelInfo}
	require.NoError(t, applyEnvOverrides(opts))

	assert.Equal(t, "/etc/kdeploy.yaml", opts.ConfigPath)
	assert.Equal(t, "staging", opts.Env)
	assert.Equal(t, "override-ns", opts.Namespace)
	assert.Equal(t, logging.LevelDebug, opts.LogLevel)
}

func TestApplyEnvOverrides_EmptyKeepsDefaults(t *testing.T) {
	opts := &Options{ConfigPath: "explicit.yaml", LogLevel: logging.LevelWarn}
	require.NoError(t, applyEnvOverrides(opts))

	assert.Equal(t, "explicit.yaml", opts.ConfigPath)
	assert.Equal(t, logging.LevelWarn, opts.LogLevel)
}

func TestFindEnvironmentsForApp(t *testing.T) {
	dir := t.TempDir()
	cfgYAML := `
environments:
  dev:
    apps: [web, worker]
  staging:
    apps: [web]
  production:
    apps: [api]
`
	path := filepath.Join(dir, "kdeploy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfgYAML), 0o644))

	t.Run("every listing environment is found", func(t *testing.T) {
		envs, err := findEnvironmentsForApp(path, "web")
		require.NoError(t, err)
		assert.Equal(t, []string{"dev", "staging"}, envs)
	})

	t.Run("unlisted app is an error", func(t *testing.T) {
		_, err := findEnvironmentsForApp(path, "ghost")
		assert.Error(t, err)
	})
}

func TestListComponents(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "api", "templates"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "worker", "templates"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "templates"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "docs"), 0o755))

	assert.Equal(t, []string{"api", "worker"}, listComponents(dir))
	assert.Nil(t, listComponents(filepath.Join(dir, "missing")))
}

func TestAppHasConfig(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, appHasConfig(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("a: 1\n"), 0o644))
	assert.True(t, appHasConfig(dir))
}

func TestFormatAge(t *testing.T) {
	now := time.Now()
	assert.Equal(t, "-", formatAge(time.Time{}))
	assert.Equal(t, "30s", formatAge(now.Add(-30*time.Second)))
	assert.Equal(t, "5m", formatAge(now.Add(-5*time.Minute)))
	assert.Equal(t, "3h", formatAge(now.Add(-3*time.Hour)))
	assert.Equal(t, "2d", formatAge(now.Add(-49*time.Hour)))
}
