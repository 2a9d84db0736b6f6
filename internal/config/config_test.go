package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setSecret(t *testing.T, value string) {
	t.Helper()
	t.Setenv("TEMUAN_ENCRYPTION_SECRET", value)
	t.Setenv("ENCRYPTION_SECRET", "")
}

func TestLoadDefaults(t *testing.T) {
	setSecret(t, base64.StdEncoding.EncodeToString([]byte(strings.Repeat("x", 32))))

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.DefaultPageSize)
	assert.Equal(t, 100, cfg.MaxPageSize)
	assert.Equal(t, 10000, cfg.ContextTokenBudget)
	assert.Equal(t, 30, cfg.SessionTTLDays)
	assert.Equal(t, 30*24*time.Hour, cfg.SessionTTL())
	assert.Equal(t, 5*time.Second, cfg.IntentModel.TimeoutDuration(5*time.Second))
}

func TestMissingSecretIsFatal(t *testing.T) {
	setSecret(t, "")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ENCRYPTION_SECRET")
}

func TestShortSecretIsFatal(t *testing.T) {
	setSecret(t, "too-short")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 bytes")
}

func TestBase64SecretDecoded(t *testing.T) {
	raw := strings.Repeat("k", 48)
	setSecret(t, base64.StdEncoding.EncodeToString([]byte(raw)))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []byte(raw), cfg.EncryptionSecret())
}

func TestEnvOverrides(t *testing.T) {
	setSecret(t, base64.StdEncoding.EncodeToString([]byte(strings.Repeat("x", 32))))
	t.Setenv("DEFAULT_PAGE_SIZE", "25")
	t.Setenv("CONTEXT_TOKEN_BUDGET", "4000")
	t.Setenv("SESSION_TTL_DAYS", "7")
	t.Setenv("INTENT_MODEL_ENDPOINT", "https://intent.example.com/v1")
	t.Setenv("GENERATIVE_MODEL_ENDPOINT", "https://gen.example.com/v1")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.DefaultPageSize)
	assert.Equal(t, 4000, cfg.ContextTokenBudget)
	assert.Equal(t, 7, cfg.SessionTTLDays)
	assert.Equal(t, "https://intent.example.com/v1", cfg.IntentModel.Endpoint)
	assert.Equal(t, "https://gen.example.com/v1", cfg.GenerativeModel.Endpoint)
}

func TestLoadYAMLFile(t *testing.T) {
	setSecret(t, base64.StdEncoding.EncodeToString([]byte(strings.Repeat("x", 32))))

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
default_page_size: 10
intent_model:
  model: gemini-1.5-flash
  timeout: 2s
storage:
  database_path: /tmp/test.db
logging:
  debug_mode: true
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.DefaultPageSize)
	assert.Equal(t, "gemini-1.5-flash", cfg.IntentModel.Model)
	assert.Equal(t, 2*time.Second, cfg.IntentModel.TimeoutDuration(5*time.Second))
	assert.Equal(t, "/tmp/test.db", cfg.Storage.DatabasePath)
	assert.True(t, cfg.Logging.DebugMode)
}

func TestPageSizeClampedToMax(t *testing.T) {
	setSecret(t, base64.StdEncoding.EncodeToString([]byte(strings.Repeat("x", 32))))
	t.Setenv("DEFAULT_PAGE_SIZE", "500")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, cfg.MaxPageSize, cfg.DefaultPageSize)
}
