package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/deskbridge/internal/config"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := config.NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "deskbridge", cfg.Logger.ServiceName)
	assert.True(t, cfg.Bridge.Enabled)
	assert.Equal(t, "default", cfg.Bridge.DefaultSessionKey)
	assert.Equal(t, "DESKBRIDGE_EXEC_PYTHON", cfg.Exec.PythonEnvVar)
	assert.Equal(t, "DESKBRIDGE_VISION_PYTHON", cfg.Vision.PythonEnvVar)
	assert.Equal(t, 30*time.Second, cfg.Exec.RequestTimeout)
	assert.Equal(t, 120*time.Second, cfg.Vision.RequestTimeout)
	assert.InDelta(t, 0.8, cfg.Vision.OCRMatchThreshold, 1e-9)
	assert.Equal(t, 5*time.Second, cfg.Vision.OCRWaitTimeout)
	assert.NotEmpty(t, cfg.Vision.ModelName)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "deskbridge.yaml")
	content := []byte(`
logger:
  level: debug
  format: json
exec:
  python_path: /opt/venv/bin/python
  request_timeout: 10s
vision:
  ocr_match_threshold: 0.65
  model_name: test-model
media:
  dir: ` + dir + `
`)
	require.NoError(t, os.WriteFile(cfgPath, content, 0o644))

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "json", cfg.Logger.Format)
	assert.Equal(t, "/opt/venv/bin/python", cfg.Exec.PythonPath)
	assert.Equal(t, 10*time.Second, cfg.Exec.RequestTimeout)
	assert.InDelta(t, 0.65, cfg.Vision.OCRMatchThreshold, 1e-9)
	assert.Equal(t, "test-model", cfg.Vision.ModelName)
	assert.Equal(t, dir, cfg.Media.Dir)
	// Untouched keys keep their defaults.
	assert.Equal(t, "workers/computer_exec/server.py", cfg.Exec.Entrypoint)
}

func TestValidate_RejectsBadThreshold(t *testing.T) {
	v := viper.New()
	config.SetDefaults(v)
	v.Set("vision.ocr_match_threshold", 1.5)

	_, err := config.NewConfigFromViper(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ocr_match_threshold")
}

func TestValidate_RejectsEmptyEntrypoint(t *testing.T) {
	v := viper.New()
	config.SetDefaults(v)
	v.Set("exec.entrypoint", "")

	_, err := config.NewConfigFromViper(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exec.entrypoint")
}

func TestLoad_MediaDirFallsBackToHome(t *testing.T) {
	v := viper.New()
	config.SetDefaults(v)

	cfg, err := config.NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Contains(t, cfg.Media.Dir, ".deskbridge")
}
