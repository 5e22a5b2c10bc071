package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	USDA      USDAConfig
	Cache     CacheConfig
	Matching  MatchingConfig
	Engine    EngineConfig
	RateLimit RateLimitConfig
	Log       LogConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Environment     string        `mapstructure:"environment"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig selects the inventory store
type StoreConfig struct {
	Type        string `mapstructure:"type"` // "memory", "sqlite", "postgres" or "redis"
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
	RedisURL    string `mapstructure:"redis_url"`
	KeyPrefix   string `mapstructure:"key_prefix"`
}

// USDAConfig holds USDA API configuration. The API is only used to look up
// densities the unit catalog does not know.
type USDAConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// CacheConfig holds density cache configuration
type CacheConfig struct {
	Type            string        `mapstructure:"type"` // "memory" or "redis"
	RedisURL        string        `mapstructure:"redis_url"`
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// MatchingConfig tunes ingredient-to-record name matching
type MatchingConfig struct {
	MinOverlapRatio        float64 `mapstructure:"min_overlap_ratio"`
	MinConfidenceThreshold float64 `mapstructure:"min_confidence_threshold"`
	EnableFuzzyMatching    bool    `mapstructure:"enable_fuzzy_matching"`
	FuzzyEditDistance      int     `mapstructure:"fuzzy_edit_distance"`
	EnableDebugLogging     bool    `mapstructure:"enable_debug_logging"`
}

// EngineConfig holds allocation engine settings
type EngineConfig struct {
	Epsilon     float64 `mapstructure:"epsilon"`
	Parallelism int     `mapstructure:"parallelism"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	PerIP int `mapstructure:"per_ip"` // requests per minute
	Burst int `mapstructure:"burst"`
	USDA  int `mapstructure:"usda"` // requests per hour
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "console" or "json"
}

// Load loads configuration from a .env file, environment variables and
// config files
func Load() (*Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	v := viper.New()

	// Set config name and paths
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/larder/")

	// Environment variable settings: LARDER_STORE_SQLITE_PATH -> store.sqlite_path
	v.SetEnvPrefix("LARDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set default values
	setDefaults(v)

	// Read config file (optional - will use env vars if file doesn't exist)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Validate configuration
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// loadEnvFile loads ./.env when present. Variables already set in the
// environment win.
func loadEnvFile() error {
	err := godotenv.Load()
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// setDefaults sets default configuration values. Every key needs a default so
// that AutomaticEnv picks it up during Unmarshal.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Store defaults
	v.SetDefault("store.type", "sqlite")
	v.SetDefault("store.sqlite_path", "larder.db")
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("store.redis_url", "")
	v.SetDefault("store.key_prefix", "larder:")

	// USDA defaults
	v.SetDefault("usda.enabled", false)
	v.SetDefault("usda.api_key", "")
	v.SetDefault("usda.base_url", "https://api.nal.usda.gov/fdc")

	// Cache defaults
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.ttl", "720h") // 30 days
	v.SetDefault("cache.cleanup_interval", "10m")

	// Matching defaults
	v.SetDefault("matching.min_overlap_ratio", 0.5)
	v.SetDefault("matching.min_confidence_threshold", 40)
	v.SetDefault("matching.enable_fuzzy_matching", false)
	v.SetDefault("matching.fuzzy_edit_distance", 1)
	v.SetDefault("matching.enable_debug_logging", false)

	// Engine defaults
	v.SetDefault("engine.epsilon", 1e-9)
	v.SetDefault("engine.parallelism", 8)

	// Rate limit defaults
	v.SetDefault("ratelimit.per_ip", 100)
	v.SetDefault("ratelimit.burst", 20)
	v.SetDefault("ratelimit.usda", 1000)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// validate validates the configuration
func validate(config *Config) error {
	switch config.Store.Type {
	case "memory":
	case "sqlite":
		if config.Store.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required when store type is 'sqlite'")
		}
	case "postgres":
		if config.Store.PostgresDSN == "" {
			return fmt.Errorf("postgres DSN is required when store type is 'postgres' (set LARDER_STORE_POSTGRES_DSN)")
		}
	case "redis":
		if config.Store.RedisURL == "" {
			return fmt.Errorf("Redis URL is required when store type is 'redis'")
		}
	default:
		return fmt.Errorf("store type must be 'memory', 'sqlite', 'postgres' or 'redis', got: %s", config.Store.Type)
	}

	if config.USDA.Enabled && config.USDA.APIKey == "" {
		return fmt.Errorf("USDA API key is required when usda is enabled (set LARDER_USDA_API_KEY)")
	}

	if config.Cache.Type != "memory" && config.Cache.Type != "redis" {
		return fmt.Errorf("cache type must be 'memory' or 'redis', got: %s", config.Cache.Type)
	}

	if config.Cache.Type == "redis" && config.Cache.RedisURL == "" {
		return fmt.Errorf("Redis URL is required when cache type is 'redis'")
	}

	if config.Matching.MinOverlapRatio <= 0 || config.Matching.MinOverlapRatio > 1 {
		return fmt.Errorf("matching min_overlap_ratio must be in (0, 1], got: %g", config.Matching.MinOverlapRatio)
	}

	if config.Engine.Epsilon <= 0 {
		return fmt.Errorf("engine epsilon must be positive, got: %g", config.Engine.Epsilon)
	}

	if config.Engine.Parallelism < 1 {
		return fmt.Errorf("engine parallelism must be at least 1, got: %d", config.Engine.Parallelism)
	}

	if config.Log.Format != "console" && config.Log.Format != "json" {
		return fmt.Errorf("log format must be 'console' or 'json', got: %s", config.Log.Format)
	}

	return nil
}
