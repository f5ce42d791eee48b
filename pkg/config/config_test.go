package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/crm-bulk-client/pkg/api"
	"github.com/Sternrassler/crm-bulk-client/pkg/logging"
)

const sampleConfig = `
crm:
  baseURL: https://www.zohoapis.com/crm/v2
  token: abc
  userAgent: crm-bulk/1.0
  cacheEnabled: true
redis:
  url: redis://localhost:6379/2
dispatcher:
  poolSize: 8
  rateLimit: 20
scan:
  lanes: 3
log:
  level: debug
  directory: /tmp/crm-logs
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestNewConfig(t *testing.T) {
	cfg, err := NewConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("NewConfig() error = %v", err)
	}

	if cfg.CRM.BaseURL != "https://www.zohoapis.com/crm/v2" {
		t.Errorf("CRM.BaseURL = %q", cfg.CRM.BaseURL)
	}
	if !cfg.CRM.CacheEnabled {
		t.Error("CRM.CacheEnabled = false, want true")
	}
	if cfg.Dispatcher.PoolSize != 8 || cfg.Dispatcher.RateLimit != 20 {
		t.Errorf("Dispatcher = %+v", cfg.Dispatcher)
	}
	if cfg.Scan.Lanes != 3 {
		t.Errorf("Scan.Lanes = %d, want 3", cfg.Scan.Lanes)
	}
	if cfg.Log.Level != logging.LevelDebug || cfg.Log.Directory != "/tmp/crm-logs" {
		t.Errorf("Log = %+v", cfg.Log)
	}
}

func TestNewConfig_Errors(t *testing.T) {
	if _, err := NewConfig(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("NewConfig(missing) error = %v, want ErrNotExist", err)
	}
	if _, err := NewConfig(writeConfig(t, "crm:\n  bogus: 1\n")); err == nil {
		t.Error("NewConfig() with unknown field error = nil")
	}
}

func TestValidateAndSetDefaults(t *testing.T) {
	cfg := &Config{CRM: CRMConfig{BaseURL: "http://localhost", UserAgent: "ua"}}
	if err := cfg.ValidateAndSetDefaults(); err != nil {
		t.Fatalf("ValidateAndSetDefaults() error = %v", err)
	}

	if cfg.CRM.Timeout != 30*time.Second {
		t.Errorf("CRM.Timeout = %v, want 30s", cfg.CRM.Timeout)
	}
	if cfg.Dispatcher.PoolSize != 5 {
		t.Errorf("Dispatcher.PoolSize = %d, want 5", cfg.Dispatcher.PoolSize)
	}
	if cfg.Scan.PerPage != 200 || cfg.Scan.Lanes != 1 {
		t.Errorf("Scan = %+v, want 200 per page, 1 lane", cfg.Scan)
	}
	if cfg.Log.Level != logging.LevelInfo {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if cfg.Server.Address != ":8080" {
		t.Errorf("Server.Address = %q, want :8080", cfg.Server.Address)
	}
}

func TestValidateAndSetDefaults_Rejects(t *testing.T) {
	valid := func() *Config {
		return &Config{CRM: CRMConfig{BaseURL: "http://localhost", UserAgent: "ua"}}
	}

	tests := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string
	}{
		{"missing base url", func(c *Config) { c.CRM.BaseURL = "" }, "crm.baseURL"},
		{"missing user agent", func(c *Config) { c.CRM.UserAgent = "" }, "crm.userAgent"},
		{"cache without redis", func(c *Config) { c.CRM.CacheEnabled = true }, "redis.url"},
		{"negative pool", func(c *Config) { c.Dispatcher.PoolSize = -1 }, "pool size"},
		{"page too large", func(c *Config) { c.Scan.PerPage = 500 }, "scan.perPage"},
		{"negative lanes", func(c *Config) { c.Scan.Lanes = -2 }, "scan.lanes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.ValidateAndSetDefaults()
			if !errors.Is(err, api.ErrConfiguration) {
				t.Fatalf("ValidateAndSetDefaults() error = %v, want ErrConfiguration", err)
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Error message = %q, want to contain %q", err.Error(), tt.errorMsg)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvBaseURL, "http://env-host/crm/v2")
	t.Setenv(EnvToken, "env-token")
	t.Setenv(EnvUserAgent, "")
	t.Setenv(EnvRedisURL, "cache:6379")
	t.Setenv(EnvLogLevel, "WARN")

	cfg := &Config{CRM: CRMConfig{BaseURL: "http://file-host", UserAgent: "file-ua"}}
	cfg.ApplyEnv()

	if cfg.CRM.BaseURL != "http://env-host/crm/v2" {
		t.Errorf("CRM.BaseURL = %q", cfg.CRM.BaseURL)
	}
	if cfg.CRM.Token != "env-token" {
		t.Errorf("CRM.Token = %q", cfg.CRM.Token)
	}
	if cfg.CRM.UserAgent != "file-ua" {
		t.Errorf("CRM.UserAgent = %q, want file value kept", cfg.CRM.UserAgent)
	}
	if cfg.Redis.URL != "cache:6379" {
		t.Errorf("Redis.URL = %q", cfg.Redis.URL)
	}
	if cfg.Log.Level != logging.LevelWarn {
		t.Errorf("Log.Level = %q, want warn", cfg.Log.Level)
	}
}

func TestRedisClient(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantNil  bool
		wantAddr string
		wantDB   int
		wantErr  bool
	}{
		{name: "disabled", url: "", wantNil: true},
		{name: "host port", url: "localhost:6380", wantAddr: "localhost:6380"},
		{name: "url", url: "redis://cache:6379/3", wantAddr: "cache:6379", wantDB: 3},
		{name: "bad scheme", url: "http://cache:6379", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Redis: RedisConfig{URL: tt.url}}
			client, err := cfg.RedisClient()
			if tt.wantErr {
				if !errors.Is(err, api.ErrConfiguration) {
					t.Errorf("RedisClient() error = %v, want ErrConfiguration", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("RedisClient() error = %v", err)
			}
			if tt.wantNil {
				if client != nil {
					t.Error("RedisClient() should be nil without a URL")
				}
				return
			}
			defer client.Close()

			opts := client.Options()
			if opts.Addr != tt.wantAddr || opts.DB != tt.wantDB {
				t.Errorf("Options() addr = %q db = %d, want %q db %d", opts.Addr, opts.DB, tt.wantAddr, tt.wantDB)
			}
		})
	}
}

func TestDerivedConfigs(t *testing.T) {
	cfg, err := NewConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("NewConfig() error = %v", err)
	}
	if err := cfg.ValidateAndSetDefaults(); err != nil {
		t.Fatalf("ValidateAndSetDefaults() error = %v", err)
	}

	tc := cfg.TransportConfig(nil)
	if tc.BaseURL != cfg.CRM.BaseURL || tc.Token != "abc" || !tc.CacheEnabled || tc.Timeout != 30*time.Second {
		t.Errorf("TransportConfig() = %+v", tc)
	}
	if cc := cfg.ClientConfig(); cc.Dispatcher.PoolSize != 8 || cc.Dispatcher.Burst != 8 {
		t.Errorf("ClientConfig() = %+v, want pool 8 burst 8", cc)
	}
	if opts := cfg.ScanOptions(); opts.PerPage != 200 || opts.Lanes != 3 {
		t.Errorf("ScanOptions() = %+v", opts)
	}
}
