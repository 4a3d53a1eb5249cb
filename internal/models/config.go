// Package models - service configuration and operational settings.
// This file defines the configuration structures for all service components.
//
// Configuration Philosophy:
// - Hierarchical configuration with logical grouping (server, security, store, etc.)
// - Environment-friendly defaults that work out of the box
// - Comprehensive validation to catch misconfigurations early
// - Support for single-process (in-memory) and multi-process (redis) deployments
package models

import (
	"errors"
	"fmt"
	"time"
)

// Store type constants
const (
	StoreTypeMemory = "memory"
	StoreTypeRedis  = "redis"
)

// History backend constants
const (
	HistoryTypeMemory   = "memory"
	HistoryTypeSQLite   = "sqlite"
	HistoryTypePostgres = "postgres"
)

// Classifier provider constants
const (
	ClassifierOpenAI = "openai"
	ClassifierGemini = "gemini"
)

// Config is the root configuration structure containing all service settings.
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`               // HTTP server configuration
	Security      SecurityConfig      `yaml:"security" json:"security"`           // Trust, rate gate and captcha settings
	Store         StoreConfig         `yaml:"store" json:"store"`                 // Key-value store for trust/captcha/session state
	History       HistoryConfig       `yaml:"history" json:"history"`             // Identification history persistence
	Classifier    ClassifierConfig    `yaml:"classifier" json:"classifier"`       // External vision classifier
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`             // Logging and output configuration
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`             // Monitoring and metrics
	Observability ObservabilityConfig `yaml:"observability" json:"observability"` // Tracing configuration
}

type ServerConfig struct {
	Port           int           `yaml:"port" json:"port"`
	Host           string        `yaml:"host" json:"host"`
	ReadTimeout    time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes" json:"max_upload_bytes"`
	TLSEnabled     bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile    string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile     string        `yaml:"tls_key_file" json:"tls_key_file"`
	CORS           CORSConfig    `yaml:"cors" json:"cors"`
}

type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" json:"allowed_headers"`
	MaxAge         int      `yaml:"max_age" json:"max_age"`
}

// SecurityConfig holds the trust-state engine parameters. An untrusted
// identity may perform RateLimitThreshold protected requests per
// RateLimitWindow before the gate demands a solved captcha. Trust earned by
// solving a captcha lasts TrustDuration.
type SecurityConfig struct {
	CaptchaEnabled     bool             `yaml:"captcha_enabled" json:"captcha_enabled"`
	RateLimitWindow    time.Duration    `yaml:"rate_limit_window" json:"rate_limit_window"`
	RateLimitThreshold int              `yaml:"rate_limit_threshold" json:"rate_limit_threshold"`
	CaptchaTTL         time.Duration    `yaml:"captcha_ttl" json:"captcha_ttl"`
	CaptchaMaxAttempts int              `yaml:"captcha_max_attempts" json:"captcha_max_attempts"`
	TrustDuration      time.Duration    `yaml:"trust_duration" json:"trust_duration"`
	SessionTTL         time.Duration    `yaml:"session_ttl" json:"session_ttl"`
	IssueLimit         IssueLimitConfig `yaml:"issue_limit" json:"issue_limit"`
}

// IssueLimitConfig throttles challenge issuance per client IP so that the
// captcha endpoint itself cannot be used to flood the challenge store.
type IssueLimitConfig struct {
	Enabled           bool          `yaml:"enabled" json:"enabled"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	BurstSize         int           `yaml:"burst_size" json:"burst_size"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

type StoreConfig struct {
	Type  string      `yaml:"type" json:"type"`
	Redis RedisConfig `yaml:"redis" json:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	PoolSize int    `yaml:"pool_size" json:"pool_size"`
}

type HistoryConfig struct {
	Type     string         `yaml:"type" json:"type"`
	Database DatabaseConfig `yaml:"database" json:"database"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

type ClassifierConfig struct {
	Provider     string        `yaml:"provider" json:"provider"`
	OpenAIAPIKey string        `yaml:"openai_api_key" json:"-"`
	OpenAIModel  string        `yaml:"openai_model" json:"openai_model"`
	GeminiAPIKey string        `yaml:"gemini_api_key" json:"-"`
	GeminiModel  string        `yaml:"gemini_model" json:"gemini_model"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"` // stdout or otlp
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig creates a configuration with production-ready defaults.
// The security defaults mirror the deployed service: 2 free identifications
// per hour-long window, 5-minute captchas with 3 attempts, 30-day trust.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			Host:           "0.0.0.0",
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxUploadBytes: 16 << 20, // 16MB
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "X-CSRF-Token"},
				MaxAge:         3600,
			},
		},
		Security: SecurityConfig{
			CaptchaEnabled:     true,
			RateLimitWindow:    time.Hour,
			RateLimitThreshold: 2,
			CaptchaTTL:         5 * time.Minute,
			CaptchaMaxAttempts: 3,
			TrustDuration:      720 * time.Hour, // 30 days
			SessionTTL:         720 * time.Hour,
			IssueLimit: IssueLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 10,
				BurstSize:         5,
				CleanupInterval:   5 * time.Minute,
			},
		},
		Store: StoreConfig{
			Type: StoreTypeMemory,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
			},
		},
		History: HistoryConfig{
			Type: HistoryTypeMemory,
			Database: DatabaseConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: time.Hour,
			},
		},
		Classifier: ClassifierConfig{
			Provider:    ClassifierOpenAI,
			OpenAIModel: "gpt-4o",
			GeminiModel: "gemini-1.5-flash",
			Timeout:     30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "wildid",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

// Validate checks the configuration for invalid or inconsistent values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.MaxUploadBytes <= 0 {
		return errors.New("max_upload_bytes must be positive")
	}

	if c.Security.RateLimitWindow <= 0 {
		return errors.New("rate_limit_window must be positive")
	}

	if c.Security.RateLimitThreshold < 1 {
		return errors.New("rate_limit_threshold must be at least 1")
	}

	if c.Security.CaptchaTTL <= 0 {
		return errors.New("captcha_ttl must be positive")
	}

	if c.Security.CaptchaMaxAttempts < 1 {
		return errors.New("captcha_max_attempts must be at least 1")
	}

	if c.Security.TrustDuration < 0 {
		return errors.New("trust_duration must not be negative")
	}

	if c.Security.IssueLimit.Enabled {
		if c.Security.IssueLimit.RequestsPerMinute < 1 {
			return errors.New("issue_limit requests_per_minute must be at least 1")
		}
		if c.Security.IssueLimit.BurstSize < 1 {
			return errors.New("issue_limit burst_size must be at least 1")
		}
	}

	switch c.Store.Type {
	case StoreTypeMemory:
	case StoreTypeRedis:
		if c.Store.Redis.Addr == "" {
			return errors.New("redis addr is required for redis store")
		}
	default:
		return fmt.Errorf("unsupported store type: %s", c.Store.Type)
	}

	switch c.History.Type {
	case HistoryTypeMemory:
	case HistoryTypeSQLite, HistoryTypePostgres:
		if c.History.Database.DSN == "" {
			return fmt.Errorf("database DSN is required for %s history", c.History.Type)
		}
	default:
		return fmt.Errorf("unsupported history type: %s", c.History.Type)
	}

	switch c.Classifier.Provider {
	case ClassifierOpenAI, ClassifierGemini:
	default:
		return fmt.Errorf("unsupported classifier provider: %s", c.Classifier.Provider)
	}

	if c.Observability.Tracing.Enabled {
		switch c.Observability.Tracing.Exporter {
		case "stdout", "otlp":
		default:
			return fmt.Errorf("unsupported trace exporter: %s", c.Observability.Tracing.Exporter)
		}
	}

	return nil
}
