// Package config loads and validates temuan configuration.
// Configuration comes from .temuan/config.yaml with environment overrides;
// the encryption secret is environment-only and never written to disk.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all temuan configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Query defaults
	DefaultPageSize    int `yaml:"default_page_size"`
	MaxPageSize        int `yaml:"max_page_size"`
	ContextTokenBudget int `yaml:"context_token_budget"`
	SessionTTLDays     int `yaml:"session_ttl_days"`

	// LLM endpoints
	IntentModel     LLMConfig `yaml:"intent_model"`
	GenerativeModel LLMConfig `yaml:"generative_model"`

	// Embedding engine configuration
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Storage
	Storage StorageConfig `yaml:"storage"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// encryptionSecret is decoded from the environment in Load/Validate.
	// Never serialized.
	encryptionSecret []byte
}

// LLMConfig configures one LLM endpoint.
type LLMConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Timeout  string `yaml:"timeout"`
}

// TimeoutDuration parses the timeout string, falling back to def.
func (l LLMConfig) TimeoutDuration(def time.Duration) time.Duration {
	if l.Timeout == "" {
		return def
	}
	d, err := time.ParseDuration(l.Timeout)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// EmbeddingConfig configures the embedding engine.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // "ollama" or "genai"
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
	GenAIAPIKey    string `yaml:"genai_api_key"`
	GenAIModel     string `yaml:"genai_model"`
	TaskType       string `yaml:"task_type"`
}

// StorageConfig configures the document store.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	QueryTimeout string `yaml:"query_timeout"`
}

// QueryTimeoutDuration parses the aggregate query timeout (default 10s).
func (s StorageConfig) QueryTimeoutDuration() time.Duration {
	if s.QueryTimeout == "" {
		return 10 * time.Second
	}
	d, err := time.ParseDuration(s.QueryTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// LoggingConfig mirrors the logging package's file-based config.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "temuan",
		Version: "1.0.0",

		DefaultPageSize:    50,
		MaxPageSize:        100,
		ContextTokenBudget: 10000,
		SessionTTLDays:     30,

		IntentModel: LLMConfig{
			Endpoint: "https://generativelanguage.googleapis.com/v1beta",
			Model:    "gemini-2.0-flash",
			Timeout:  "5s",
		},
		GenerativeModel: LLMConfig{
			Endpoint: "https://generativelanguage.googleapis.com/v1beta",
			Model:    "gemini-2.0-flash",
			Timeout:  "30s",
		},

		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			GenAIModel:     "gemini-embedding-001",
			TaskType:       "RETRIEVAL_QUERY",
		},

		Storage: StorageConfig{
			DatabasePath: ".temuan/temuan.db",
			QueryTimeout: "10s",
		},

		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads path (if it exists), applies environment overrides and
// validates. A missing file is not an error; a missing secret is.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides maps the documented environment surface onto the config.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DEFAULT_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.DefaultPageSize = n
		}
	}
	if v := os.Getenv("CONTEXT_TOKEN_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.ContextTokenBudget = n
		}
	}
	if v := os.Getenv("SESSION_TTL_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.SessionTTLDays = n
		}
	}
	if v := os.Getenv("INTENT_MODEL_ENDPOINT"); v != "" {
		c.IntentModel.Endpoint = v
	}
	if v := os.Getenv("GENERATIVE_MODEL_ENDPOINT"); v != "" {
		c.GenerativeModel.Endpoint = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		if c.IntentModel.APIKey == "" {
			c.IntentModel.APIKey = v
		}
		if c.GenerativeModel.APIKey == "" {
			c.GenerativeModel.APIKey = v
		}
		if c.Embedding.GenAIAPIKey == "" {
			c.Embedding.GenAIAPIKey = v
		}
	}
}

// minSecretLen is the minimum decoded secret length (AES-256 key material).
const minSecretLen = 32

// Validate checks the invariants the rest of the system assumes at startup.
// A missing or short encryption secret is fatal: the pseudonymization layer
// cannot run without it and must not silently degrade.
func (c *Config) Validate() error {
	secret := os.Getenv("TEMUAN_ENCRYPTION_SECRET")
	if secret == "" {
		secret = os.Getenv("ENCRYPTION_SECRET")
	}
	if secret == "" {
		return fmt.Errorf("ENCRYPTION_SECRET is required and not set")
	}
	decoded := decodeSecret(secret)
	if len(decoded) < minSecretLen {
		return fmt.Errorf("ENCRYPTION_SECRET must decode to at least %d bytes, got %d", minSecretLen, len(decoded))
	}
	c.encryptionSecret = decoded

	if c.DefaultPageSize <= 0 {
		c.DefaultPageSize = 50
	}
	if c.MaxPageSize <= 0 {
		c.MaxPageSize = 100
	}
	if c.DefaultPageSize > c.MaxPageSize {
		c.DefaultPageSize = c.MaxPageSize
	}
	if c.ContextTokenBudget <= 0 {
		c.ContextTokenBudget = 10000
	}
	if c.SessionTTLDays <= 0 {
		c.SessionTTLDays = 30
	}
	return nil
}

// decodeSecret accepts either base64 (standard or raw) or a raw byte string.
func decodeSecret(s string) []byte {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b
	}
	if b, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return b
	}
	return []byte(s)
}

// EncryptionSecret returns the decoded process-wide secret.
// Validate must have succeeded first.
func (c *Config) EncryptionSecret() []byte {
	return c.encryptionSecret
}

// SessionTTL returns the mapping time-to-live as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLDays) * 24 * time.Hour
}
