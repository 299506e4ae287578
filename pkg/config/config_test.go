package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
  stream_timeout: 5m
provider:
  name: anthropic
  model: claude-sonnet-4-20250514
  api_key: sk-test
pipeline:
  workers: 4
  queue_size: 128
  stage_timeout: 90s
storage:
  db_path: /data/caseflow.db
  event_log_dir: /data/logs
auth:
  jwt_secret: shhh
prometheus:
  url: http://prom:9090
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Server.StreamTimeout)
	assert.Equal(t, "anthropic", cfg.Provider.Name)
	assert.Equal(t, "sk-test", cfg.Provider.APIKey)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.Equal(t, 90*time.Second, cfg.Pipeline.StageTimeout)
	assert.Equal(t, "/data/caseflow.db", cfg.Storage.DBPath)
	assert.Equal(t, "shhh", cfg.Auth.JWTSecret)
	assert.Equal(t, "authenticated", cfg.Auth.Audience, "audience default applies")
	assert.Equal(t, "http://prom:9090", cfg.Prometheus.URL)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "provider:\n  name: mock\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 10*time.Minute, cfg.Server.StreamTimeout)
	assert.Equal(t, 2, cfg.Pipeline.Workers)
	assert.Equal(t, 64, cfg.Pipeline.QueueSize)
	assert.Equal(t, 3*time.Minute, cfg.Pipeline.StageTimeout)
	assert.Equal(t, "caseflow.db", cfg.Storage.DBPath)
	assert.Equal(t, "logs", cfg.Storage.EventLogDir)
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TEST_CASEFLOW_KEY", "sk-from-env")
	t.Setenv("TEST_CASEFLOW_SECRET", "jwt-from-env")

	path := writeConfig(t, `
provider:
  name: openai
  api_key: ${TEST_CASEFLOW_KEY}
auth:
  jwt_secret: ${TEST_CASEFLOW_SECRET}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", cfg.Provider.APIKey)
	assert.Equal(t, "jwt-from-env", cfg.Auth.JWTSecret)
}

func TestLoadUnsetEnvExpandsEmpty(t *testing.T) {
	path := writeConfig(t, `
provider:
  name: mock
auth:
  jwt_secret: ${DEFINITELY_NOT_SET_ANYWHERE_XYZ}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Auth.JWTSecret)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "cloud provider without key",
			yaml: "provider:\n  name: google\n",
		},
		{
			name: "unknown provider",
			yaml: "provider:\n  name: watson\n",
		},
		{
			name: "absurd worker count",
			yaml: "provider:\n  name: mock\npipeline:\n  workers: 500\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestOllamaNeedsNoKey(t *testing.T) {
	cfg, err := Load(writeConfig(t, "provider:\n  name: ollama\n  host_url: http://gpu-box:11434\n"))
	require.NoError(t, err)
	assert.Equal(t, "http://gpu-box:11434", cfg.Provider.HostURL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "mock", cfg.Provider.Name)
}
