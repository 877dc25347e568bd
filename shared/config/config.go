package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	YouTube     YouTubeConfig     `yaml:"youtube"`
	AI          AIConfig          `yaml:"ai"`
	Storage     StorageConfig     `yaml:"storage"`
	Cache       CacheConfig       `yaml:"cache"`
	Session     SessionConfig     `yaml:"session"`
	Autosave    AutosaveConfig    `yaml:"autosave"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// AuthRateLimit is the number of auth requests allowed per IP per minute.
	AuthRateLimit int `yaml:"auth_rate_limit"`
}

type YouTubeConfig struct {
	APIKey   string `yaml:"api_key"`
	Endpoint string `yaml:"endpoint"`
}

type AIConfig struct {
	GeminiAPIKey string `yaml:"gemini_api_key"`
	Model        string `yaml:"model"`
}

type StorageConfig struct {
	// Driver is "sqlite" or "mongo". Empty picks mongo when MongoURI is set.
	Driver        string `yaml:"driver"`
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`
	SQLitePath    string `yaml:"sqlite_path"`
}

type CacheConfig struct {
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

type SessionConfig struct {
	Secret       string        `yaml:"secret"`
	TTL          time.Duration `yaml:"ttl"`
	SecureCookie bool          `yaml:"secure_cookie"`
}

type AutosaveConfig struct {
	// Unit scales the debounce delay (1 unit) and the saved/error display
	// windows (2 and 3 units).
	Unit time.Duration `yaml:"unit"`
}

type MaintenanceConfig struct {
	Schedule string `yaml:"schedule"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

// Load reads the YAML config file (optional), then .env, then environment
// overrides, applies defaults and validates.
func Load() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadUnchecked is Load without the required-secret validation. Client-side
// commands use it since they never call the providers.
func LoadUnchecked() (*Config, error) {
	return load()
}

func load() (*Config, error) {
	_ = godotenv.Load()

	configFile := os.Getenv("CONFIG_FILE")
	explicit := configFile != ""
	if configFile == "" {
		configFile = "config.yaml"
	}

	var cfg Config
	data, err := os.ReadFile(configFile)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configFile, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// no file, environment only
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if c.YouTube.APIKey == "" {
		c.YouTube.APIKey = os.Getenv("YOUTUBE_API_KEY")
	}
	if c.AI.GeminiAPIKey == "" {
		c.AI.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	}
	if c.Storage.MongoURI == "" {
		c.Storage.MongoURI = os.Getenv("MONGODB_URI")
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = os.Getenv("DATABASE_URL")
	}
	if c.Cache.RedisURL == "" {
		c.Cache.RedisURL = os.Getenv("REDIS_URL")
	}
	if c.Session.Secret == "" {
		c.Session.Secret = os.Getenv("SESSION_SECRET")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = os.Getenv("LOG_LEVEL")
	}
	if addr := os.Getenv("ADDR"); addr != "" {
		c.Server.Addr = addr
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		// generation can take a while
		c.Server.WriteTimeout = 2 * time.Minute
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.AuthRateLimit == 0 {
		c.Server.AuthRateLimit = 20
	}
	if c.AI.Model == "" {
		c.AI.Model = "gemini-2.5-flash"
	}
	if c.Storage.Driver == "" {
		if c.Storage.MongoURI != "" {
			c.Storage.Driver = DriverMongo
		} else {
			c.Storage.Driver = DriverSQLite
		}
	}
	if c.Storage.MongoDatabase == "" {
		c.Storage.MongoDatabase = "ytsum"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "data/ytsum.db"
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = time.Hour
	}
	if c.Session.TTL == 0 {
		c.Session.TTL = 24 * time.Hour
	}
	if c.Autosave.Unit == 0 {
		c.Autosave.Unit = time.Second
	}
	if c.Maintenance.Schedule == "" {
		c.Maintenance.Schedule = "0 0 * * * *" // hourly
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

func (c *Config) validate() error {
	if c.YouTube.APIKey == "" {
		return fmt.Errorf("YouTube API key is required (set YOUTUBE_API_KEY or youtube.api_key)")
	}
	if c.AI.GeminiAPIKey == "" {
		return fmt.Errorf("Gemini API key is required (set GEMINI_API_KEY or ai.gemini_api_key)")
	}
	switch c.Storage.Driver {
	case DriverSQLite:
	case DriverMongo:
		if c.Storage.MongoURI == "" {
			return fmt.Errorf("MongoDB connection string is required for the mongo driver (set MONGODB_URI or storage.mongo_uri)")
		}
	default:
		return fmt.Errorf("unknown storage driver %q (want sqlite or mongo)", c.Storage.Driver)
	}
	if c.Session.Secret != "" && len(c.Session.Secret) < 32 {
		return fmt.Errorf("session secret must be at least 32 bytes")
	}
	return nil
}
