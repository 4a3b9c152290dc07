// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.protokoll/config.yaml)
//  3. Default values
//
// Main categories:
//   - Generation: model name for answer composition
//   - Embedding: embedder model, vector dimension
//   - Retrieval: top-K result count
//   - Indexing: inter-document pacing, file filters
//   - Storage: PostgreSQL connection (see storage.go)
//   - Tracing: optional OTLP export
//
// Sensitive values (the database password) are masked in MarshalJSON and
// String; validation lives in validation.go and returns sentinel errors
// usable with errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the generation model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidDimension indicates the embedding dimension is out of range.
	ErrInvalidDimension = errors.New("invalid embedding dimension")

	// ErrInvalidTopK indicates the retrieval top-K value is out of range.
	ErrInvalidTopK = errors.New("invalid top_k")

	// ErrInvalidIndexDelay indicates the inter-document delay is out of range.
	ErrInvalidIndexDelay = errors.New("invalid index delay")

	// ErrInvalidMaxFileBytes indicates the per-file size cap is out of range.
	ErrInvalidMaxFileBytes = errors.New("invalid max file bytes")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrMissingSSLRootCert indicates a verifying SSL mode without a CA certificate.
	ErrMissingSSLRootCert = errors.New("missing SSL root certificate")
)

const (
	// DefaultEmbedderModel is the Gemini embedding model used for both
	// document and query vectors.
	DefaultEmbedderModel = "text-embedding-004"

	// DefaultEmbeddingDimension matches the VECTOR(768) column in the
	// protocols table. text-embedding-004 produces 768 dimensions natively;
	// larger models are truncated to this size on request.
	DefaultEmbeddingDimension = 768

	// DefaultModelName is the generation model for answer composition.
	DefaultModelName = "gemini-2.5-flash"

	// DefaultTopK is the number of nearest protocols retrieved per question.
	DefaultTopK = 3

	// DefaultIndexDelayMs paces embedding calls during batch indexing so a
	// full re-index stays inside the provider's per-minute quota.
	DefaultIndexDelayMs = 1000

	// DefaultMaxFileBytes caps indexable file size. text-embedding-004 has
	// a ~2048 token window; content beyond roughly 8KB would be truncated
	// during embedding and become unretrievable.
	DefaultMaxFileBytes = 8 * 1024
)

// GenerationProvider prefixes model names for Genkit lookup.
const GenerationProvider = "googleai"

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// Generation model for answer composition (e.g. "gemini-2.5-flash").
	ModelName string `mapstructure:"model_name" json:"model_name"`

	// Embedding configuration
	EmbedderModel      string `mapstructure:"embedder_model" json:"embedder_model"`
	EmbeddingDimension int    `mapstructure:"embedding_dimension" json:"embedding_dimension"`

	// Retrieval configuration
	TopK int `mapstructure:"top_k" json:"top_k"`

	// Indexing configuration
	IndexDelayMs    int      `mapstructure:"index_delay_ms" json:"index_delay_ms"`
	IndexExtensions []string `mapstructure:"index_extensions" json:"index_extensions"`
	MaxFileBytes    int64    `mapstructure:"max_file_bytes" json:"max_file_bytes"`

	// Storage configuration (see storage.go)
	PostgresHost        string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort        int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser        string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword    string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName      string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode     string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`
	PostgresSSLRootCert string `mapstructure:"postgres_ssl_root_cert" json:"postgres_ssl_root_cert"`

	// Tracing configuration
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".protokoll")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	viper.SetDefault("model_name", DefaultModelName)
	viper.SetDefault("embedder_model", DefaultEmbedderModel)
	viper.SetDefault("embedding_dimension", DefaultEmbeddingDimension)

	viper.SetDefault("top_k", DefaultTopK)

	viper.SetDefault("index_delay_ms", DefaultIndexDelayMs)
	viper.SetDefault("index_extensions", []string{".txt", ".md", ".log"})
	viper.SetDefault("max_file_bytes", DefaultMaxFileBytes)

	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "protokoll")
	viper.SetDefault("postgres_password", "protokoll_dev_password")
	viper.SetDefault("postgres_db_name", "protokoll")
	viper.SetDefault("postgres_ssl_mode", "disable")
	viper.SetDefault("postgres_ssl_root_cert", "")

	viper.SetDefault("tracing.endpoint", "")
	viper.SetDefault("tracing.environment", "dev")
	viper.SetDefault("tracing.service_name", "protokoll")
}

// bindEnvVariables binds environment overrides explicitly.
//
// GEMINI_API_KEY is read directly by Genkit, not via viper; Validate()
// only checks its presence.
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a panic here is a bug, not a
	// runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: binding %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("model_name", "PROTOKOLL_MODEL_NAME")
	mustBind("embedder_model", "PROTOKOLL_EMBEDDER_MODEL")
	mustBind("top_k", "PROTOKOLL_TOP_K")
	mustBind("index_delay_ms", "PROTOKOLL_INDEX_DELAY_MS")
	mustBind("postgres_ssl_root_cert", "PROTOKOLL_SSL_ROOT_CERT")
	mustBind("tracing.endpoint", "PROTOKOLL_OTLP_ENDPOINT")
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks (U+2588) cannot collide with substrings of a real
// password the way "****" or "[REDACTED]" can.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Secrets of eight
// characters or fewer are fully masked; longer ones keep the first and
// last two characters for debug utility.
//
// This defends against accidental logging, not against adversarially
// crafted passwords. If logs leak, rotate the secret.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit masking of
// sensitive fields. When adding a new secret field, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}

// FullModelName returns the provider-qualified generation model name for
// Genkit, e.g. "googleai/gemini-2.5-flash". A name already containing a
// "/" is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	return GenerationProvider + "/" + c.ModelName
}

// IndexDelay returns the inter-document pacing delay as a duration.
func (c *Config) IndexDelay() time.Duration {
	return time.Duration(c.IndexDelayMs) * time.Millisecond
}

// TracingConfig holds the optional OTLP trace export settings. Tracing
// is disabled unless Endpoint is set.
type TracingConfig struct {
	// Endpoint is the OTLP HTTP endpoint of a local collector or agent
	// (e.g. "localhost:4318"). Empty disables tracing.
	Endpoint string `mapstructure:"endpoint" json:"endpoint"`
	// Environment is the deployment environment tag.
	Environment string `mapstructure:"environment" json:"environment"`
	// ServiceName is the service name tag on exported spans.
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}
