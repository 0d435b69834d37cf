package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"chart-trade-analyzer/internal/ai/llm"
	"chart-trade-analyzer/internal/analysis"
	"chart-trade-analyzer/internal/api"
	"chart-trade-analyzer/internal/auth"
	"chart-trade-analyzer/internal/cache"
	"chart-trade-analyzer/internal/circuit"
	"chart-trade-analyzer/internal/database"
	"chart-trade-analyzer/internal/events"
	"chart-trade-analyzer/internal/lifecycle"
	"chart-trade-analyzer/internal/logging"
	"chart-trade-analyzer/internal/patterns"
	"chart-trade-analyzer/internal/risk"
	"chart-trade-analyzer/internal/scheduler"
	"chart-trade-analyzer/internal/specialization"
	"chart-trade-analyzer/internal/uploads"
	"chart-trade-analyzer/internal/vault"
)

// Storage backends
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	Storage              string                       `json:"storage" yaml:"storage" default:"postgres" validate:"oneof=postgres memory"`
	ServerConfig         api.ServerConfig             `json:"server" yaml:"server"`
	LoggingConfig        logging.Config               `json:"logging" yaml:"logging"`
	DatabaseConfig       database.Config              `json:"database" yaml:"database"`
	RedisConfig          cache.Config                 `json:"redis" yaml:"redis"`
	RateLimitConfig      cache.RateLimitConfig        `json:"rate_limit" yaml:"rate_limit"`
	SessionConfig        SessionConfig                `json:"session" yaml:"session"`
	AuthConfig           auth.Config                  `json:"auth" yaml:"auth"`
	VaultConfig          vault.Config                 `json:"vault" yaml:"vault"`
	LLMConfig            llm.ClientConfig             `json:"llm" yaml:"llm"`
	AnalysisConfig       analysis.Config              `json:"analysis" yaml:"analysis"`
	SpecializationConfig specialization.Config        `json:"specialization" yaml:"specialization"`
	RiskConfig           risk.Rules                   `json:"risk" yaml:"risk"`
	LifecycleConfig      lifecycle.Config             `json:"lifecycle" yaml:"lifecycle"`
	PatternsConfig       patterns.Config              `json:"patterns" yaml:"patterns"`
	UploadsConfig        uploads.Config               `json:"uploads" yaml:"uploads"`
	KafkaConfig          events.KafkaConfig           `json:"kafka" yaml:"kafka"`
	SchedulerConfig      scheduler.Config             `json:"scheduler" yaml:"scheduler"`
	CircuitBreakerConfig circuit.CircuitBreakerConfig `json:"circuit_breaker" yaml:"circuit_breaker"`
	MetricsConfig        MetricsConfig                `json:"metrics" yaml:"metrics"`
}

// SessionConfig controls the per-user navigation state kept in Redis
type SessionConfig struct {
	NavigationTTL time.Duration `json:"navigation_ttl" yaml:"navigation_ttl" default:"24h"`
}

// MetricsConfig toggles the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled" default:"true"`
}

// Default returns a configuration built from every package's defaults
func Default() *Config {
	cfg := &Config{
		Storage:              StoragePostgres,
		LoggingConfig:        logging.Config{Level: "INFO", Output: "stdout", JSONFormat: true},
		AuthConfig:           auth.DefaultConfig(),
		LLMConfig:            *llm.DefaultClientConfig(),
		AnalysisConfig:       *analysis.DefaultConfig(),
		SpecializationConfig: *specialization.DefaultConfig(),
		RiskConfig:           risk.DefaultRules(),
		LifecycleConfig:      lifecycle.DefaultConfig(),
		PatternsConfig:       patterns.DefaultConfig(),
		UploadsConfig:        uploads.DefaultConfig(),
		KafkaConfig:          events.KafkaConfig{Topic: "chart-trade-events"},
		SchedulerConfig:      scheduler.DefaultConfig(),
		CircuitBreakerConfig: *circuit.DefaultCircuitBreakerConfig(),
		MetricsConfig:        MetricsConfig{Enabled: true},
	}
	// tag defaults must run before decoding so explicit false values survive
	if err := defaults.Set(cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return cfg
}

// Load loads configuration from file and environment variables. The file is
// taken from CONFIG_FILE, else the first of config.yaml, config.yml and
// config.json found in the working directory.
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		for _, candidate := range []string{"config.yaml", "config.yml", "config.json"} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	return LoadFrom(path)
}

// LoadFrom loads the given file (empty means defaults only), applies
// environment overrides and validates the result.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings the application cannot start without
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.AuthConfig.Enabled && c.AuthConfig.JWTSecret == "" {
		return errors.New("invalid config: auth enabled without a JWT secret")
	}
	if c.VaultConfig.Enabled && c.VaultConfig.Token == "" {
		return errors.New("invalid config: vault enabled without a token")
	}
	if c.RiskConfig.MinRiskReward <= 0 {
		return errors.New("invalid config: risk.min_risk_reward must be positive")
	}
	if c.UploadsConfig.BaseDir == "" {
		return errors.New("invalid config: uploads.base_dir is required")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Storage = getEnvOrDefault("STORAGE_BACKEND", cfg.Storage)

	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.ProductionMode = getEnvBoolOrDefault("PRODUCTION_MODE", cfg.ServerConfig.ProductionMode)
	if origins := os.Getenv("SERVER_ALLOWED_ORIGINS"); origins != "" {
		cfg.ServerConfig.AllowOrigins = splitList(origins)
	}

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", cfg.LoggingConfig.Output)
	cfg.LoggingConfig.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.LoggingConfig.JSONFormat)
	cfg.LoggingConfig.IncludeFile = getEnvBoolOrDefault("LOG_INCLUDE_FILE", cfg.LoggingConfig.IncludeFile)

	// Database config
	cfg.DatabaseConfig.DSN = getEnvOrDefault("DATABASE_URL", cfg.DatabaseConfig.DSN)
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)

	// Redis config
	cfg.RedisConfig.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.RedisConfig.Enabled)
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDR", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RateLimitConfig.Requests = getEnvIntOrDefault("RATE_LIMIT_REQUESTS", cfg.RateLimitConfig.Requests)
	cfg.RateLimitConfig.Window = getEnvDurationOrDefault("RATE_LIMIT_WINDOW", cfg.RateLimitConfig.Window)
	cfg.SessionConfig.NavigationTTL = getEnvDurationOrDefault("SESSION_NAVIGATION_TTL", cfg.SessionConfig.NavigationTTL)

	// Auth config
	cfg.AuthConfig.Enabled = getEnvBoolOrDefault("AUTH_ENABLED", cfg.AuthConfig.Enabled)
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.AccessTokenDuration = getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_DURATION", cfg.AuthConfig.AccessTokenDuration)

	// Vault config
	cfg.VaultConfig.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.VaultConfig.Enabled)
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.VaultConfig.MountPath)
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.VaultConfig.SecretPath)
	cfg.VaultConfig.TLSEnabled = getEnvBoolOrDefault("VAULT_TLS_ENABLED", cfg.VaultConfig.TLSEnabled)

	// LLM config
	cfg.LLMConfig.Provider = llm.Provider(getEnvOrDefault("AI_LLM_PROVIDER", string(cfg.LLMConfig.Provider)))
	cfg.LLMConfig.Model = getEnvOrDefault("AI_LLM_MODEL", cfg.LLMConfig.Model)
	cfg.LLMConfig.APIKey = getEnvOrDefault("AI_LLM_API_KEY", cfg.LLMConfig.APIKey)
	cfg.LLMConfig.BaseURL = getEnvOrDefault("AI_LLM_BASE_URL", cfg.LLMConfig.BaseURL)
	cfg.LLMConfig.Timeout = getEnvDurationOrDefault("AI_LLM_TIMEOUT", cfg.LLMConfig.Timeout)
	cfg.AnalysisConfig.ProviderTimeout = getEnvDurationOrDefault("ANALYSIS_PROVIDER_TIMEOUT", cfg.AnalysisConfig.ProviderTimeout)

	// Risk config
	cfg.RiskConfig.MaxRiskPerTrade = getEnvFloatOrDefault("RISK_MAX_PER_TRADE", cfg.RiskConfig.MaxRiskPerTrade)
	cfg.RiskConfig.MaxRiskPercent = getEnvFloatOrDefault("RISK_MAX_PERCENT", cfg.RiskConfig.MaxRiskPercent)
	cfg.RiskConfig.MinRiskReward = getEnvFloatOrDefault("RISK_MIN_REWARD_RATIO", cfg.RiskConfig.MinRiskReward)
	cfg.RiskConfig.SessionTimezone = getEnvOrDefault("RISK_SESSION_TIMEZONE", cfg.RiskConfig.SessionTimezone)

	// Uploads config
	cfg.UploadsConfig.BaseDir = getEnvOrDefault("UPLOADS_DIR", cfg.UploadsConfig.BaseDir)
	cfg.UploadsConfig.OrphanAge = getEnvDurationOrDefault("UPLOADS_ORPHAN_AGE", cfg.UploadsConfig.OrphanAge)

	// Kafka config
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaConfig.Brokers = splitList(brokers)
	}
	cfg.KafkaConfig.Topic = getEnvOrDefault("KAFKA_TOPIC", cfg.KafkaConfig.Topic)

	// Scheduler config
	cfg.SchedulerConfig.SweepCron = getEnvOrDefault("SCHEDULER_SWEEP_CRON", cfg.SchedulerConfig.SweepCron)
	cfg.SchedulerConfig.ReportCron = getEnvOrDefault("SCHEDULER_REPORT_CRON", cfg.SchedulerConfig.ReportCron)

	// Circuit breaker config
	cfg.CircuitBreakerConfig.Enabled = getEnvBoolOrDefault("CIRCUIT_BREAKER_ENABLED", cfg.CircuitBreakerConfig.Enabled)
	cfg.CircuitBreakerConfig.MaxConsecutiveFailures = getEnvIntOrDefault("CIRCUIT_MAX_CONSECUTIVE_FAILURES", cfg.CircuitBreakerConfig.MaxConsecutiveFailures)
	cfg.CircuitBreakerConfig.Cooldown = getEnvDurationOrDefault("CIRCUIT_COOLDOWN", cfg.CircuitBreakerConfig.Cooldown)

	cfg.MetricsConfig.Enabled = getEnvBoolOrDefault("METRICS_ENABLED", cfg.MetricsConfig.Enabled)
}

// loadFromFile decodes the file over cfg so missing keys keep their defaults
func loadFromFile(filename string, cfg *Config) error {
	file, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(file, cfg)
	default:
		err = json.Unmarshal(file, cfg)
	}
	if err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// GenerateSampleConfig writes a sample configuration file. The format
// follows the extension.
func GenerateSampleConfig(filename string) error {
	cfg := Default()
	cfg.Storage = StorageMemory
	cfg.DatabaseConfig.Password = "change_me"
	cfg.RedisConfig.Enabled = false
	cfg.LoggingConfig.JSONFormat = false

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
