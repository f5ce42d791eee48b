// Package config loads the YAML configuration shared by the CLI and the
// HTTP server.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Sternrassler/crm-bulk-client/pkg/api"
	"github.com/Sternrassler/crm-bulk-client/pkg/crm"
	"github.com/Sternrassler/crm-bulk-client/pkg/dispatcher"
	"github.com/Sternrassler/crm-bulk-client/pkg/logging"
	"github.com/Sternrassler/crm-bulk-client/pkg/pagination"
	"github.com/Sternrassler/crm-bulk-client/pkg/transport"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Environment variables read by ApplyEnv.
const (
	EnvBaseURL   = "CRM_BASE_URL"
	EnvToken     = "CRM_TOKEN"
	EnvUserAgent = "CRM_USER_AGENT"
	EnvRedisURL  = "REDIS_URL"
	EnvLogLevel  = "LOG_LEVEL"
)

type (
	Config struct {
		// CRM is the remote API the transport talks to.
		CRM CRMConfig `yaml:"crm"`

		// Redis enables the shared credit guard and the response cache.
		Redis RedisConfig `yaml:"redis"`

		// Dispatcher bounds concurrency for every bulk call.
		Dispatcher dispatcher.Config `yaml:"dispatcher"`

		// Scan holds the defaults for full scans and searches.
		Scan ScanConfig `yaml:"scan"`

		// Log is the logging config
		Log logging.Config `yaml:"log"`

		// Server is the HTTP front started by the serve command.
		Server ServerConfig `yaml:"server"`
	}

	CRMConfig struct {
		// BaseURL is the API root, e.g. https://www.zohoapis.com/crm/v2. Required.
		BaseURL string `yaml:"baseURL"`
		// Token is the OAuth access token.
		Token string `yaml:"token"`
		// UserAgent identifies the caller. Required.
		UserAgent string `yaml:"userAgent"`
		// Timeout bounds each HTTP round trip. Default 30s.
		Timeout time.Duration `yaml:"timeout"`
		// CacheEnabled stores and revalidates GET responses in Redis.
		// Requires Redis.URL.
		CacheEnabled bool `yaml:"cacheEnabled"`
		// CacheScope separates cache entries of different organizations.
		CacheScope string `yaml:"cacheScope"`
	}

	RedisConfig struct {
		// URL is either a redis:// URL or a plain host:port. Empty disables Redis.
		URL string `yaml:"url"`
	}

	ScanConfig struct {
		// PerPage is the page size. Default 200.
		PerPage int `yaml:"perPage"`
		// Lanes is the number of concurrent page cursors. Default 1.
		Lanes int `yaml:"lanes"`
	}

	ServerConfig struct {
		// Address is the listen address. Default ":8080".
		Address string `yaml:"address"`
		// ReadTimeout and WriteTimeout map onto http.Server.
		ReadTimeout  time.Duration `yaml:"readTimeout"`
		WriteTimeout time.Duration `yaml:"writeTimeout"`
	}
)

// NewConfig returns a new decoded Config struct
func NewConfig(configPath string) (*Config, error) {
	log.Debug().Str("path", configPath).Msg("Loading config file")

	config := &Config{}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	d := yaml.NewDecoder(file)
	d.KnownFields(true)

	if err := d.Decode(config); err != nil {
		return nil, fmt.Errorf("decode %s: %w", configPath, err)
	}

	return config, nil
}

// ApplyEnv overrides config values with non-empty environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvBaseURL); v != "" {
		c.CRM.BaseURL = v
	}
	if v := os.Getenv(EnvToken); v != "" {
		c.CRM.Token = v
	}
	if v := os.Getenv(EnvUserAgent); v != "" {
		c.CRM.UserAgent = v
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = logging.LogLevel(strings.ToLower(v))
	}
}

// ValidateAndSetDefaults fills unset values and rejects unusable ones.
func (c *Config) ValidateAndSetDefaults() error {
	if anyAbsent(c.CRM.BaseURL, c.CRM.UserAgent) {
		return api.Configurationf("some required configs are missing: crm.baseURL, crm.userAgent")
	}
	if c.CRM.Timeout == 0 {
		c.CRM.Timeout = 30 * time.Second
	}
	if c.CRM.CacheEnabled && c.Redis.URL == "" {
		return api.Configurationf("crm.cacheEnabled requires redis.url")
	}

	if c.Dispatcher.PoolSize == 0 {
		c.Dispatcher.PoolSize = dispatcher.DefaultConfig().PoolSize
	}
	if err := c.Dispatcher.Validate(); err != nil {
		return err
	}

	if c.Scan.PerPage == 0 {
		c.Scan.PerPage = pagination.DefaultPerPage
	}
	if c.Scan.PerPage < 0 || c.Scan.PerPage > pagination.MaxPerPage {
		return api.Configurationf("scan.perPage must be in 1..%d (got %d)", pagination.MaxPerPage, c.Scan.PerPage)
	}
	if c.Scan.Lanes == 0 {
		c.Scan.Lanes = pagination.DefaultLanes
	}
	if c.Scan.Lanes < 0 {
		return api.Configurationf("scan.lanes must be > 0 (got %d)", c.Scan.Lanes)
	}

	if c.Log.Level == "" {
		c.Log.Level = logging.LevelInfo
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	return nil
}

// RedisClient opens the configured Redis, or returns nil when none is set.
func (c *Config) RedisClient() (*redis.Client, error) {
	if c.Redis.URL == "" {
		return nil, nil
	}
	if !strings.Contains(c.Redis.URL, "://") {
		return redis.NewClient(&redis.Options{Addr: c.Redis.URL}), nil
	}
	opts, err := redis.ParseURL(c.Redis.URL)
	if err != nil {
		return nil, api.Configurationf("invalid redis.url: %v", err)
	}
	return redis.NewClient(opts), nil
}

// TransportConfig maps the CRM section onto a transport configuration.
func (c *Config) TransportConfig(redisClient *redis.Client) transport.Config {
	return transport.Config{
		BaseURL:      c.CRM.BaseURL,
		Token:        c.CRM.Token,
		UserAgent:    c.CRM.UserAgent,
		Timeout:      c.CRM.Timeout,
		Redis:        redisClient,
		CacheEnabled: c.CRM.CacheEnabled,
		CacheScope:   c.CRM.CacheScope,
	}
}

// ClientConfig returns the facade configuration.
func (c *Config) ClientConfig() crm.Config {
	return crm.Config{Dispatcher: c.Dispatcher}
}

// ScanOptions returns the configured page size and lane count.
func (c *Config) ScanOptions() pagination.Options {
	return pagination.Options{PerPage: c.Scan.PerPage, Lanes: c.Scan.Lanes}
}

func anyAbsent(strs ...string) bool {
	for _, s := range strs {
		if s == "" {
			return true
		}
	}
	return false
}
