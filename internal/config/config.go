// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.vsa/config.yaml or ./config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: chat model, normalizer model, OpenAI credential
//   - Vector search: Pinecone credential and per-corpus index hosts
//   - Corpus: backing JSON text store URLs (see corpus.go)
//   - Storage: PostgreSQL connection (see storage.go)
//   - Server: listen address, log level
//
// Security: credentials and passwords are masked in MarshalJSON/String.
// Validation: fail-fast range checks with sentinel errors for errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrMissingOpenAIKey indicates OPENAI_API_KEY is not set.
	ErrMissingOpenAIKey = errors.New("missing OpenAI API key")

	// ErrMissingPineconeKey indicates PINECONE_API_KEY is not set.
	ErrMissingPineconeKey = errors.New("missing Pinecone API key")

	// ErrMissingIndexHost indicates a Pinecone index host is not configured.
	ErrMissingIndexHost = errors.New("missing vector index host")

	// ErrInvalidModelName indicates the chat or normalizer model is empty.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrMissingCorpusURL indicates a corpus text store URL is not configured.
	ErrMissingCorpusURL = errors.New("missing corpus store URL")
)

const (
	// DefaultChatModel is the model used for chat completions.
	DefaultChatModel = "gpt-4.1-nano-2025-04-14"

	// DefaultNormalizerModel is the model used to rewrite user queries
	// before embedding.
	DefaultNormalizerModel = "gpt-4o-2024-08-06"

	// DefaultListenAddr is the default HTTP listen address.
	DefaultListenAddr = "127.0.0.1:3500"
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys), update MarshalJSON.
type Config struct {
	// AI model configuration
	ChatModel       string `mapstructure:"chat_model" json:"chat_model"`
	NormalizerModel string `mapstructure:"normalizer_model" json:"normalizer_model"`
	OpenAIAPIKey    string `mapstructure:"openai_api_key" json:"openai_api_key"` // SENSITIVE: masked in MarshalJSON

	// Vector search configuration
	PineconeAPIKey string `mapstructure:"pinecone_api_key" json:"pinecone_api_key"` // SENSITIVE: masked in MarshalJSON
	CFRIndexHost   string `mapstructure:"cfr_index_host" json:"cfr_index_host"`
	M21IndexHost   string `mapstructure:"m21_index_host" json:"m21_index_host"`

	// Corpus text store URLs. Any scheme viant/afs understands:
	// file://, s3://, gs://, http(s)://.
	CFRPart3URL string `mapstructure:"cfr_part3_url" json:"cfr_part3_url"`
	CFRPart4URL string `mapstructure:"cfr_part4_url" json:"cfr_part4_url"`
	M21v1URL    string `mapstructure:"m21_1_url" json:"m21_1_url"`
	M21v5URL    string `mapstructure:"m21_5_url" json:"m21_5_url"`

	// Storage configuration (see storage.go for documentation)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Server configuration
	ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	LogLevel   string `mapstructure:"log_level" json:"log_level"`
	LogJSON    bool   `mapstructure:"log_json" json:"log_json"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".vsa")
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
		// Configuration file not found is not an error, use defaults
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL takes priority over individual postgres_* settings
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
	// AI defaults
	viper.SetDefault("chat_model", DefaultChatModel)
	viper.SetDefault("normalizer_model", DefaultNormalizerModel)

	// Vector index defaults (serverless index hosts are per-project;
	// these are only placeholders until configured)
	viper.SetDefault("cfr_index_host", "")
	viper.SetDefault("m21_index_host", "")

	// Corpus store defaults (local JSON extracts)
	viper.SetDefault("cfr_part3_url", "file://data/part_3_flattened.json")
	viper.SetDefault("cfr_part4_url", "file://data/part_4_flattened.json")
	viper.SetDefault("m21_1_url", "file://data/m21_1_chunked3k.json")
	viper.SetDefault("m21_5_url", "file://data/m21_5_chunked3k.json")

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "vsa")
	viper.SetDefault("postgres_password", "vsa_dev_password")
	viper.SetDefault("postgres_db_name", "vsa")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Server defaults
	viper.SetDefault("listen_addr", DefaultListenAddr)
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_json", false)
}

// bindEnvVariables binds environment variables explicitly.
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("openai_api_key", "OPENAI_API_KEY")
	mustBind("pinecone_api_key", "PINECONE_API_KEY")
	mustBind("cfr_index_host", "VSA_CFR_INDEX_HOST")
	mustBind("m21_index_host", "VSA_M21_INDEX_HOST")
	mustBind("chat_model", "VSA_CHAT_MODEL")
	mustBind("normalizer_model", "VSA_NORMALIZER_MODEL")
	mustBind("listen_addr", "VSA_LISTEN_ADDR")
	mustBind("log_level", "VSA_LOG_LEVEL")
	mustBind("log_json", "VSA_LOG_JSON")
	mustBind("cfr_part3_url", "VSA_CFR_PART3_URL")
	mustBind("cfr_part4_url", "VSA_CFR_PART4_URL")
	mustBind("m21_1_url", "VSA_M21_1_URL")
	mustBind("m21_5_url", "VSA_M21_5_URL")
	// NOTE: DATABASE_URL is parsed separately in parseDatabaseURL.
}

// Validate performs fail-fast configuration checks.
func (c *Config) Validate() error {
	if c.ChatModel == "" {
		return fmt.Errorf("%w: chat_model is empty", ErrInvalidModelName)
	}
	if c.NormalizerModel == "" {
		return fmt.Errorf("%w: normalizer_model is empty", ErrInvalidModelName)
	}
	if c.PostgresHost == "" {
		return ErrInvalidPostgresHost
	}
	if c.PostgresPort <= 0 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return ErrInvalidPostgresDBName
	}
	return nil
}

// ValidateServe performs the additional checks required to run the HTTP
// server: provider credentials and index/corpus locations must be present.
func (c *Config) ValidateServe() error {
	if c.OpenAIAPIKey == "" {
		return ErrMissingOpenAIKey
	}
	if c.PineconeAPIKey == "" {
		return ErrMissingPineconeKey
	}
	if c.CFRIndexHost == "" || c.M21IndexHost == "" {
		return ErrMissingIndexHost
	}
	for _, u := range []string{c.CFRPart3URL, c.CFRPart4URL, c.M21v1URL, c.M21v5URL} {
		if u == "" {
			return ErrMissingCorpusURL
		}
	}
	return nil
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Short secrets are
// fully masked; longer ones keep the first and last two characters for
// debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.OpenAIAPIKey = maskSecret(a.OpenAIAPIKey)
	a.PineconeAPIKey = maskSecret(a.PineconeAPIKey)
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
