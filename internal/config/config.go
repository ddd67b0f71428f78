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
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Billing    BillingConfig    `yaml:"billing"`
	Sync       SyncConfig       `yaml:"sync"`
	API        APIConfig        `yaml:"api"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// BillingConfig describes the external billing API endpoints and the
// limits the fetcher operates under. TokenURL may contain a %s that is
// substituted with the tenant directory id.
type BillingConfig struct {
	TokenURL     string        `yaml:"token_url"`
	QueryURL     string        `yaml:"query_url"`
	Scope        string        `yaml:"scope"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	PageDelay    time.Duration `yaml:"page_delay"`
	MaxPages     int           `yaml:"max_pages"`
	HTTPTimeout  time.Duration `yaml:"http_timeout"`
}

type SyncConfig struct {
	QueueKey     string        `yaml:"queue_key"`
	PollInterval time.Duration `yaml:"poll_interval"`
	ChunkDelay   time.Duration `yaml:"chunk_delay"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

func Load(configPath string) (*Config, error) {
	// Подхватываем .env, если он есть
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Billing.TokenURL == "" {
		return errors.New("billing token_url is required")
	}
	if c.Billing.QueryURL == "" {
		return errors.New("billing query_url is required")
	}
	if c.Billing.MaxRetries < 0 {
		return fmt.Errorf("billing max_retries must be >= 0, got %d", c.Billing.MaxRetries)
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}

	// Billing defaults
	if c.Billing.MaxRetries == 0 {
		c.Billing.MaxRetries = 3
	}
	if c.Billing.RetryBackoff == 0 {
		c.Billing.RetryBackoff = 15 * time.Second
	}
	if c.Billing.PageDelay == 0 {
		c.Billing.PageDelay = time.Second
	}
	if c.Billing.MaxPages == 0 {
		c.Billing.MaxPages = 100
	}
	if c.Billing.HTTPTimeout == 0 {
		c.Billing.HTTPTimeout = 30 * time.Second
	}

	// Sync worker defaults
	if c.Sync.QueueKey == "" {
		c.Sync.QueueKey = "sync:jobs"
	}
	if c.Sync.PollInterval == 0 {
		c.Sync.PollInterval = 2 * time.Second
	}
	if c.Sync.ChunkDelay == 0 {
		c.Sync.ChunkDelay = 2 * time.Second
	}
}
