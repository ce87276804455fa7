package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"clusterscan/internal/logger"
	"clusterscan/internal/storage"
	"clusterscan/internal/volume"
)

// Config represents the application configuration
type Config struct {
	Volume   volume.Thresholds `yaml:"volume"`
	Database storage.Config    `yaml:"database"`
	Redis    RedisConfig       `yaml:"redis"`
	Feed     FeedConfig        `yaml:"feed"`
	Provider ProviderConfig    `yaml:"provider"`
	Scanner  ScannerConfig     `yaml:"scanner"`
	Server   ServerConfig      `yaml:"server"`
	Schedule ScheduleConfig    `yaml:"schedule"`
	Log      logger.Config     `yaml:"log"`
}

// RedisConfig holds the pub/sub broker used by the feed relay
type RedisConfig struct {
	Addr            string        `yaml:"addr" default:"localhost:6379" validate:"required"`
	Password        string        `yaml:"password"`
	DB              int           `yaml:"db" validate:"gte=0"`
	QuotePrefix     string        `yaml:"quote_prefix" default:"quotes:"`
	LastQuotePrefix string        `yaml:"last_quote_prefix" default:"lastquote:"`
	LastQuoteTTL    time.Duration `yaml:"last_quote_ttl" default:"24h"`
	AlertChannel    string        `yaml:"alert_channel" default:"alerts:volume" validate:"required"`
}

// FeedConfig holds the broker WebSocket settings
type FeedConfig struct {
	URL            string        `yaml:"url" default:"wss://feed.example-broker.in/ws"`
	Token          string        `yaml:"token"`
	Symbols        []string      `yaml:"symbols"`
	PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
	FlushInterval  time.Duration `yaml:"flush_interval" default:"5s" validate:"gt=0"`
	BatchSize      int           `yaml:"batch_size" default:"500" validate:"gte=1"`
}

// ProviderConfig holds market data download settings
type ProviderConfig struct {
	RateLimit int           `yaml:"rate_limit" default:"60" validate:"gte=1"` // requests per minute
	Timeout   time.Duration `yaml:"timeout" default:"15s"`
	CacheTTL  time.Duration `yaml:"cache_ttl" default:"15m"`
	Exchange  string        `yaml:"exchange" default:"NSE" validate:"oneof=NSE BSE"`
}

// ScannerConfig holds batch settings
type ScannerConfig struct {
	Workers      int           `yaml:"workers" default:"8" validate:"gte=1"`
	Timeout      time.Duration `yaml:"timeout" default:"30s"`
	LookbackDays int           `yaml:"lookback_days" default:"400" validate:"gte=30"`
	Universe     string        `yaml:"universe" default:"nifty50"`
}

// ServerConfig holds the web surface settings
type ServerConfig struct {
	Port         int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
	JWTSecret    string        `yaml:"jwt_secret"`
	ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"30s"`
}

// ScheduleConfig holds cron specs (with seconds) for serve mode
type ScheduleConfig struct {
	Enabled  bool   `yaml:"enabled" default:"true"`
	Timezone string `yaml:"timezone" default:"Asia/Kolkata"`
	Ingest   string `yaml:"ingest" default:"0 0 16 * * 1-5"`
	Annotate string `yaml:"annotate" default:"0 30 16 * * 1-5"`
}

var validate = validator.New()

// DefaultConfig returns the configuration with every default applied
func DefaultConfig() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "clusterscan:clusterscan@tcp(127.0.0.1:3306)/clusterscan?parseTime=true&loc=UTC"
	}
	return cfg
}

// Load reads a YAML file over the defaults, then applies .env and environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("CLUSTERSCAN_DB_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("FEED_URL"); v != "" {
		c.Feed.URL = v
	}
	if v := os.Getenv("FEED_TOKEN"); v != "" {
		c.Feed.Token = v
	}
	if v := os.Getenv("FEED_SYMBOLS"); v != "" {
		c.Feed.Symbols = splitList(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("CLUSTERSCAN_JWT_SECRET"); v != "" {
		c.Server.JWTSecret = v
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = port
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Volume.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("invalid config: schedule.timezone: %w", err)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}
