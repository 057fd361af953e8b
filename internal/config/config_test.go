package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MIRADOR_SELFHEAL_CONFIG", "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 80, cfg.Engine.AutoApplyThreshold)
	assert.Equal(t, 120*time.Second, cfg.Engine.ValidationCooldown)
	assert.Greater(t, cfg.Remediation.RestartDelay, cfg.Engine.ValidationCooldown, "restart delay must outlast validation window")
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "selfheal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`engine:
  autoApplyThreshold: 70
  validationCooldown: 30s
remediation:
  restartDelay: 45s
sources:
  docker:
    enabled: true
    containers: ["api"]
`), 0o644))
	t.Setenv("MIRADOR_SELFHEAL_AUTO_APPLY_THRESHOLD", "85")
	t.Setenv("MIRADOR_SELFHEAL_CONTAINERS", "worker, web ,")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 85, cfg.Engine.AutoApplyThreshold, "env override")
	assert.Equal(t, 30*time.Second, cfg.Engine.ValidationCooldown, "file cooldown")
	assert.Equal(t, []string{"worker", "web"}, cfg.Sources.Docker.Containers)
	assert.True(t, cfg.Sources.Docker.Enabled, "docker source enabled from file")
}

func TestLoadRejectsRestartInsideValidationWindow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "selfheal.yaml")
	require.NoError(t, os.WriteFile(path, []byte("remediation:\n  restartDelay: 60s\n"), 0o644))
	_, err := Load(path)
	assert.Error(t, err, "restart delay shorter than cooldown")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
