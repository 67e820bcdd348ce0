// Package config provides application configuration management using koanf
package config

import (
	"crypto/tls"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"regdocs-chat/internal/logger"
)

// EnvPrefix is the prefix of environment variables read into the config.
// REGCHAT_SERVICES__OPENAI__API_KEY maps to services.openai.api_key.
const EnvPrefix = "REGCHAT_"

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig `koanf:"server"`

	// Database configuration
	Database DatabaseConfig `koanf:"database"`

	// Provider selection
	Providers ProvidersConfig `koanf:"providers"`

	// External services
	Services ServicesConfig `koanf:"services"`

	// Chat pipeline settings
	Chat ChatConfig `koanf:"chat"`

	// Security settings
	Security SecurityConfig `koanf:"security"`

	// Application settings
	App AppConfig `koanf:"app"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string    `koanf:"host"`
	Port            int       `koanf:"port"`
	ReadTimeout     int       `koanf:"read_timeout"`     // seconds
	WriteTimeout    int       `koanf:"write_timeout"`    // seconds
	ShutdownTimeout int       `koanf:"shutdown_timeout"` // seconds
	TLS             TLSConfig `koanf:"tls"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
	MinTLS   string `koanf:"min_version"` // "1.2" or "1.3"
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path       string           `koanf:"path"`
	Encryption EncryptionConfig `koanf:"encryption"`
}

// EncryptionConfig holds database encryption settings
type EncryptionConfig struct {
	Enabled bool   `koanf:"enabled"`
	Key     string `koanf:"key"`
}

// ProvidersConfig selects the implementation behind each remote capability.
type ProvidersConfig struct {
	Embedding   string `koanf:"embedding"`    // "openai" or "ollama"
	Completion  string `koanf:"completion"`   // "openai" or "ollama"
	VectorIndex string `koanf:"vector_index"` // "sqlite" or "milvus"
}

// ServicesConfig holds external service configuration
type ServicesConfig struct {
	OpenAI OpenAIConfig `koanf:"openai"`
	Ollama OllamaConfig `koanf:"ollama"`
	Milvus MilvusConfig `koanf:"milvus"`
	Keto   KetoConfig   `koanf:"keto"`
}

// OpenAIConfig holds OpenAI API configuration
type OpenAIConfig struct {
	APIKey         string `koanf:"api_key"`
	BaseURL        string `koanf:"base_url"`
	EmbeddingModel string `koanf:"embedding_model"`
	Timeout        int    `koanf:"timeout"` // seconds
}

// OllamaConfig holds Ollama service configuration
type OllamaConfig struct {
	BaseURL        string `koanf:"base_url"`
	EmbeddingModel string `koanf:"embedding_model"`
	ChatModel      string `koanf:"chat_model"` // replaces the per-variant model
	Timeout        int    `koanf:"timeout"` // seconds
}

// MilvusConfig holds Milvus vector database configuration
type MilvusConfig struct {
	Address    string `koanf:"address"`
	Username   string `koanf:"username"`
	Password   string `koanf:"password"`
	Collection string `koanf:"collection"`
}

// KetoConfig holds Ory Keto configuration
type KetoConfig struct {
	ReadURL  string `koanf:"read_url"`
	WriteURL string `koanf:"write_url"`
	Timeout  int    `koanf:"timeout"` // seconds
}

// ChatConfig holds retrieval and generation settings for both chat variants
type ChatConfig struct {
	Temperature         float32       `koanf:"temperature"`
	EmbeddingDimensions int           `koanf:"embedding_dimensions"`
	LogQueueSize        int           `koanf:"log_queue_size"`
	LogWriteTimeout     int           `koanf:"log_write_timeout"` // seconds
	Document            VariantConfig `koanf:"document"`
	Regulation          VariantConfig `koanf:"regulation"`
}

// VariantConfig holds the per-variant retrieval and model settings
type VariantConfig struct {
	Namespace   string `koanf:"namespace"`
	TopK        int    `koanf:"top_k"`
	FilterField string `koanf:"filter_field"`
	Model       string `koanf:"model"`
}

// SecurityConfig holds security-related settings
type SecurityConfig struct {
	AuthMode   string              `koanf:"auth_mode"` // "mock" or "token"
	Tokens     map[string]string   `koanf:"tokens"`    // token -> user id
	ErrorMode  string              `koanf:"error_mode"`
	AccessMode string              `koanf:"access_mode"` // "existence", "static" or "keto"
	Grants     map[string][]string `koanf:"grants"`      // user -> agency ids, "*" for all
}

// AppConfig holds general application settings
type AppConfig struct {
	Environment string `koanf:"environment"` // "development", "staging", "production"
	LogLevel    string `koanf:"log_level"`   // "debug", "info", "warn", "error"
	LogFormat   string `koanf:"log_format"`  // "text" or "json"
}

// Load loads configuration from multiple sources with precedence:
// 1. config.yaml (if exists)
// 2. config.json (if exists)
// 3. Environment variables (highest precedence)
func Load() (*Config, error) {
	return LoadFrom("config.yaml", "config.json")
}

// LoadFrom is Load with explicit config file paths.
func LoadFrom(yamlPath, jsonPath string) (*Config, error) {
	k := koanf.New(".")

	setDefaults(k)

	loadConfigFiles(k, yamlPath, jsonPath)

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: transformEnv,
	}), nil); err != nil {
		return nil, fmt.Errorf("error loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.Services.OpenAI.APIKey == "" {
		cfg.Services.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func transformEnv(k, v string) (string, any) {
	key := strings.ToLower(strings.TrimPrefix(k, EnvPrefix))
	return strings.ReplaceAll(key, "__", "."), v
}

// setDefaults sets default configuration values
func setDefaults(k *koanf.Koanf) {
	defaults := map[string]interface{}{
		// Server defaults
		"server.host":             "localhost",
		"server.port":             8080,
		"server.read_timeout":     30,
		"server.write_timeout":    120,
		"server.shutdown_timeout": 10,
		"server.tls.enabled":      false,
		"server.tls.min_version":  "1.3",

		// Database defaults
		"database.path":               "regdocs.db",
		"database.encryption.enabled": false,

		// Provider defaults
		"providers.embedding":    "openai",
		"providers.completion":   "openai",
		"providers.vector_index": "sqlite",

		// Services defaults
		"services.openai.base_url":        "https://api.openai.com/v1",
		"services.openai.embedding_model": "text-embedding-3-small",
		"services.openai.timeout":         60,
		"services.ollama.base_url":        "http://localhost:11434",
		"services.ollama.embedding_model": "nomic-embed-text",
		"services.ollama.chat_model":      "llama3.1",
		"services.ollama.timeout":         60,
		"services.milvus.address":         "localhost:19530",
		"services.milvus.collection":      "regulatory_chunks",
		"services.keto.read_url":          "http://localhost:4466",
		"services.keto.write_url":         "http://localhost:4467",
		"services.keto.timeout":           10,

		// Chat defaults
		"chat.temperature":             0.7,
		"chat.embedding_dimensions":    1536,
		"chat.log_queue_size":          64,
		"chat.log_write_timeout":       5,
		"chat.document.namespace":      "federal-documents",
		"chat.document.top_k":          5,
		"chat.document.filter_field":   "filename",
		"chat.document.model":          "gpt-4",
		"chat.regulation.namespace":    "major-regs",
		"chat.regulation.top_k":        10,
		"chat.regulation.model":        "gpt-4o",

		// Security defaults
		"security.auth_mode":   "mock",
		"security.error_mode":  "detailed",
		"security.access_mode": "existence",

		// App defaults
		"app.environment": "development",
		"app.log_level":   "info",
		"app.log_format":  "text",
	}

	for key, value := range defaults {
		_ = k.Set(key, value) // Ignore error for setting defaults
	}
}

// loadConfigFiles loads configuration from files
func loadConfigFiles(k *koanf.Koanf, yamlPath, jsonPath string) {
	if yamlPath != "" {
		if _, err := os.Stat(yamlPath); err == nil {
			if err := k.Load(file.Provider(yamlPath), yaml.Parser()); err != nil {
				logger.Warn("failed to load %s: %v", yamlPath, err)
			}
		}
	}

	if jsonPath != "" {
		if _, err := os.Stat(jsonPath); err == nil {
			if err := k.Load(file.Provider(jsonPath), json.Parser()); err != nil {
				logger.Warn("failed to load %s: %v", jsonPath, err)
			}
		}
	}
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.TLS.Enabled {
		if cfg.Server.TLS.CertFile == "" {
			return fmt.Errorf("TLS cert file is required when TLS is enabled")
		}
		if cfg.Server.TLS.KeyFile == "" {
			return fmt.Errorf("TLS key file is required when TLS is enabled")
		}

		if _, err := os.Stat(cfg.Server.TLS.CertFile); os.IsNotExist(err) {
			return fmt.Errorf("TLS cert file does not exist: %s", cfg.Server.TLS.CertFile)
		}
		if _, err := os.Stat(cfg.Server.TLS.KeyFile); os.IsNotExist(err) {
			return fmt.Errorf("TLS key file does not exist: %s", cfg.Server.TLS.KeyFile)
		}
	}

	if cfg.Database.Encryption.Enabled && cfg.Database.Encryption.Key == "" {
		return fmt.Errorf("database encryption key is required when encryption is enabled")
	}

	switch cfg.Providers.Embedding {
	case "openai", "ollama":
	default:
		return fmt.Errorf("unknown embedding provider %q", cfg.Providers.Embedding)
	}
	switch cfg.Providers.Completion {
	case "openai", "ollama":
	default:
		return fmt.Errorf("unknown completion provider %q", cfg.Providers.Completion)
	}
	switch cfg.Providers.VectorIndex {
	case "sqlite", "milvus":
	default:
		return fmt.Errorf("unknown vector index provider %q", cfg.Providers.VectorIndex)
	}

	if (cfg.Providers.Embedding == "openai" || cfg.Providers.Completion == "openai") && cfg.Services.OpenAI.APIKey == "" {
		return fmt.Errorf("OpenAI API key is required when an openai provider is selected")
	}

	if cfg.Chat.Document.TopK <= 0 || cfg.Chat.Regulation.TopK <= 0 {
		return fmt.Errorf("chat top_k must be positive")
	}
	if cfg.Chat.Temperature < 0 || cfg.Chat.Temperature > 2 {
		return fmt.Errorf("chat temperature must be between 0 and 2, got %v", cfg.Chat.Temperature)
	}

	switch cfg.Security.AuthMode {
	case "mock":
	case "token":
		if len(cfg.Security.Tokens) == 0 {
			return fmt.Errorf("at least one token is required when auth mode is token")
		}
	default:
		return fmt.Errorf("unknown auth mode %q", cfg.Security.AuthMode)
	}

	switch cfg.Security.AccessMode {
	case "existence", "static", "keto":
	default:
		return fmt.Errorf("unknown access mode %q", cfg.Security.AccessMode)
	}

	return nil
}

// GetTLSConfig returns a TLS configuration based on the config
func (c *Config) GetTLSConfig() *tls.Config {
	if !c.Server.TLS.Enabled {
		return nil
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		},
	}

	switch c.Server.TLS.MinTLS {
	case "1.2":
		tlsConfig.MinVersion = tls.VersionTLS12
	default:
		tlsConfig.MinVersion = tls.VersionTLS13
	}

	return tlsConfig
}

// GetDatabaseDSN returns the database connection string with encryption if enabled
func (c *Config) GetDatabaseDSN() string {
	if c.Database.Encryption.Enabled {
		// SQLCipher format
		return fmt.Sprintf("%s?_pragma_key=%s&_pragma_cipher_page_size=4096",
			c.Database.Path, c.Database.Encryption.Key)
	}
	return c.Database.Path
}

// Addr returns the host:port the HTTP server listens on
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Seconds converts an integer seconds setting into a time.Duration
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// ExposeDetails reports whether error details may be returned to callers
func (c *Config) ExposeDetails() bool {
	return c.IsDevelopment() && c.Security.ErrorMode != "secure"
}
