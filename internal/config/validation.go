package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
)

// Validate validates configuration values and fails fast at startup.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// API key (required for embedding and generation)
	if os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
			"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
			ErrMissingAPIKey)
	}

	// Model configuration
	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	// Dimension must fit the VECTOR column and pgvector's HNSW index
	// limit of 2000 dimensions.
	if c.EmbeddingDimension < 1 || c.EmbeddingDimension > 2000 {
		return fmt.Errorf("%w: must be between 1 and 2000, got %d", ErrInvalidDimension, c.EmbeddingDimension)
	}

	// Retrieval configuration
	if c.TopK < 1 || c.TopK > 10 {
		return fmt.Errorf("%w: must be between 1 and 10, got %d", ErrInvalidTopK, c.TopK)
	}

	// Indexing configuration. Zero delay is allowed (no pacing); the cap
	// keeps a fat-fingered config from stalling a batch for hours.
	if c.IndexDelayMs < 0 || c.IndexDelayMs > 60000 {
		return fmt.Errorf("%w: must be between 0 and 60000 ms, got %d", ErrInvalidIndexDelay, c.IndexDelayMs)
	}
	if c.MaxFileBytes < 1 {
		return fmt.Errorf("%w: must be positive, got %d", ErrInvalidMaxFileBytes, c.MaxFileBytes)
	}

	// PostgreSQL configuration
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}
	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set in config.yaml", ErrInvalidPostgresPassword)
	}
	if c.PostgresPassword == "protokoll_dev_password" {
		slog.Warn("using default development password for PostgreSQL",
			"warning", "change postgres_password in config.yaml for production deployments")
	}
	if len(c.PostgresPassword) < 8 {
		return fmt.Errorf("%w: postgres_password must be at least 8 characters (got %d)",
			ErrInvalidPostgresPassword, len(c.PostgresPassword))
	}

	// SSL mode. The deprecated allow/prefer modes are excluded: both
	// silently fall back in ways vulnerable to MITM.
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if c.PostgresSSLMode == "" {
		return fmt.Errorf("%w: postgres_ssl_mode is empty", ErrInvalidPostgresSSLMode)
	}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	// Verifying modes need the CA certificate file to exist now, not at
	// first connection attempt deep inside a batch.
	if c.PostgresSSLMode == "verify-ca" || c.PostgresSSLMode == "verify-full" {
		if c.PostgresSSLRootCert == "" {
			return fmt.Errorf("%w: postgres_ssl_mode %q requires postgres_ssl_root_cert",
				ErrMissingSSLRootCert, c.PostgresSSLMode)
		}
		if _, err := os.Stat(c.PostgresSSLRootCert); err != nil {
			return fmt.Errorf("%w: cannot read %q: %v",
				ErrMissingSSLRootCert, c.PostgresSSLRootCert, err)
		}
	}

	return nil
}
