// Package config loads service configuration from defaults, an optional YAML
// file and WILDID_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"wildid/internal/models"
)

// Load loads configuration from file and environment variables.
func Load(configPath string) (*models.Config, error) {
	// Start with default configuration
	config := models.NewDefaultConfig()

	// Load from file if provided
	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	loadFromEnvironment(config)

	// Validate the final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// loadFromEnvironment loads configuration from environment variables
func loadFromEnvironment(config *models.Config) {
	// Server configuration
	if port := os.Getenv("WILDID_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if host := os.Getenv("WILDID_HOST"); host != "" {
		config.Server.Host = host
	}

	if timeout := os.Getenv("WILDID_READ_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Server.ReadTimeout = d
		}
	}

	if timeout := os.Getenv("WILDID_WRITE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Server.WriteTimeout = d
		}
	}

	if timeout := os.Getenv("WILDID_IDLE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Server.IdleTimeout = d
		}
	}

	if maxUpload := os.Getenv("WILDID_MAX_UPLOAD_BYTES"); maxUpload != "" {
		if n, err := strconv.ParseInt(maxUpload, 10, 64); err == nil {
			config.Server.MaxUploadBytes = n
		}
	}

	if tls := os.Getenv("WILDID_TLS_ENABLED"); tls != "" {
		config.Server.TLSEnabled = strings.ToLower(tls) == "true"
	}

	if certFile := os.Getenv("WILDID_TLS_CERT_FILE"); certFile != "" {
		config.Server.TLSCertFile = certFile
	}

	if keyFile := os.Getenv("WILDID_TLS_KEY_FILE"); keyFile != "" {
		config.Server.TLSKeyFile = keyFile
	}

	// Security configuration
	if enabled := os.Getenv("WILDID_CAPTCHA_ENABLED"); enabled != "" {
		config.Security.CaptchaEnabled = strings.ToLower(enabled) == "true"
	}

	if window := os.Getenv("WILDID_RATE_LIMIT_WINDOW"); window != "" {
		if d, err := time.ParseDuration(window); err == nil {
			config.Security.RateLimitWindow = d
		}
	}

	if threshold := os.Getenv("WILDID_RATE_LIMIT_THRESHOLD"); threshold != "" {
		if n, err := strconv.Atoi(threshold); err == nil {
			config.Security.RateLimitThreshold = n
		}
	}

	if ttl := os.Getenv("WILDID_CAPTCHA_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			config.Security.CaptchaTTL = d
		}
	}

	if attempts := os.Getenv("WILDID_CAPTCHA_MAX_ATTEMPTS"); attempts != "" {
		if n, err := strconv.Atoi(attempts); err == nil {
			config.Security.CaptchaMaxAttempts = n
		}
	}

	if duration := os.Getenv("WILDID_TRUST_DURATION"); duration != "" {
		if d, err := time.ParseDuration(duration); err == nil {
			config.Security.TrustDuration = d
		}
	}

	if ttl := os.Getenv("WILDID_SESSION_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			config.Security.SessionTTL = d
		}
	}

	// Store configuration
	if storeType := os.Getenv("WILDID_STORE_TYPE"); storeType != "" {
		config.Store.Type = storeType
	}

	if addr := os.Getenv("WILDID_REDIS_ADDR"); addr != "" {
		config.Store.Redis.Addr = addr
	}

	if password := os.Getenv("WILDID_REDIS_PASSWORD"); password != "" {
		config.Store.Redis.Password = password
	}

	if db := os.Getenv("WILDID_REDIS_DB"); db != "" {
		if dbNum, err := strconv.Atoi(db); err == nil {
			config.Store.Redis.DB = dbNum
		}
	}

	if poolSize := os.Getenv("WILDID_REDIS_POOL_SIZE"); poolSize != "" {
		if size, err := strconv.Atoi(poolSize); err == nil {
			config.Store.Redis.PoolSize = size
		}
	}

	// History configuration
	if historyType := os.Getenv("WILDID_HISTORY_TYPE"); historyType != "" {
		config.History.Type = historyType
	}

	if dsn := os.Getenv("WILDID_DATABASE_DSN"); dsn != "" {
		config.History.Database.DSN = dsn
	}

	if maxOpen := os.Getenv("WILDID_DATABASE_MAX_OPEN_CONNS"); maxOpen != "" {
		if conns, err := strconv.Atoi(maxOpen); err == nil {
			config.History.Database.MaxOpenConns = conns
		}
	}

	if maxIdle := os.Getenv("WILDID_DATABASE_MAX_IDLE_CONNS"); maxIdle != "" {
		if conns, err := strconv.Atoi(maxIdle); err == nil {
			config.History.Database.MaxIdleConns = conns
		}
	}

	// Classifier configuration
	if provider := os.Getenv("WILDID_CLASSIFIER_PROVIDER"); provider != "" {
		config.Classifier.Provider = provider
	}

	if key := os.Getenv("WILDID_OPENAI_API_KEY"); key != "" {
		config.Classifier.OpenAIAPIKey = key
	}

	if model := os.Getenv("WILDID_OPENAI_MODEL"); model != "" {
		config.Classifier.OpenAIModel = model
	}

	if key := os.Getenv("WILDID_GEMINI_API_KEY"); key != "" {
		config.Classifier.GeminiAPIKey = key
	}

	if model := os.Getenv("WILDID_GEMINI_MODEL"); model != "" {
		config.Classifier.GeminiModel = model
	}

	if timeout := os.Getenv("WILDID_CLASSIFIER_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Classifier.Timeout = d
		}
	}

	// Logging configuration
	if level := os.Getenv("WILDID_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if format := os.Getenv("WILDID_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}

	if output := os.Getenv("WILDID_LOG_OUTPUT"); output != "" {
		config.Logging.Output = output
	}

	if filePath := os.Getenv("WILDID_LOG_FILE_PATH"); filePath != "" {
		config.Logging.FilePath = filePath
	}

	// Metrics configuration
	if metrics := os.Getenv("WILDID_METRICS_ENABLED"); metrics != "" {
		config.Metrics.Enabled = strings.ToLower(metrics) == "true"
	}

	if path := os.Getenv("WILDID_METRICS_PATH"); path != "" {
		config.Metrics.Path = path
	}

	if port := os.Getenv("WILDID_METRICS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Metrics.Port = p
		}
	}

	// Tracing configuration
	if tracing := os.Getenv("WILDID_TRACING_ENABLED"); tracing != "" {
		config.Observability.Tracing.Enabled = strings.ToLower(tracing) == "true"
	}

	if exporter := os.Getenv("WILDID_TRACE_EXPORTER"); exporter != "" {
		config.Observability.Tracing.Exporter = exporter
	}

	if endpoint := os.Getenv("WILDID_OTLP_ENDPOINT"); endpoint != "" {
		config.Observability.Tracing.OTLPEndpoint = endpoint
	}
}

// SaveExample saves an example configuration file
func SaveExample(filePath string) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	config := models.NewDefaultConfig()

	// Placeholders operators are expected to replace
	config.Classifier.OpenAIAPIKey = "sk-your-openai-key-here"
	config.History.Type = models.HistoryTypeSQLite
	config.History.Database.DSN = "/var/lib/wildid/history.db"

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
