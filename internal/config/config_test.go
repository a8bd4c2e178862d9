package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load default config: %v", err)
	}

	// Check defaults
	if cfg.Source.Driver != DriverFixture {
		t.Errorf("Expected default driver fixture, got %s", cfg.Source.Driver)
	}

	if cfg.Server.HTTPPort != 8080 || cfg.Server.TCPPort != 5480 || cfg.Server.PGPort != 5433 {
		t.Errorf("Expected default ports 8080/5480/5433, got %d/%d/%d", cfg.Server.HTTPPort, cfg.Server.TCPPort, cfg.Server.PGPort)
	}

	if cfg.Source.FetchTimeout() != 10*time.Second {
		t.Errorf("Expected default fetch timeout 10s, got %v", cfg.Source.FetchTimeout())
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Expected default log level 'info', got %s", cfg.Log.Level)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		shouldError bool
	}{
		{
			name:        "valid config",
			modify:      func(c *Config) {},
			shouldError: false,
		},
		{
			name: "unknown driver",
			modify: func(c *Config) {
				c.Source.Driver = "mongo"
			},
			shouldError: true,
		},
		{
			name: "postgres without dsn",
			modify: func(c *Config) {
				c.Source.Driver = DriverPostgres
			},
			shouldError: true,
		},
		{
			name: "postgres with dsn",
			modify: func(c *Config) {
				c.Source.Driver = DriverPostgres
				c.Source.PostgresDSN = "postgres://localhost/portfolio"
			},
			shouldError: false,
		},
		{
			name: "missing fixture file",
			modify: func(c *Config) {
				c.Source.FixturePath = "/nonexistent/fixture.yaml"
			},
			shouldError: true,
		},
		{
			name: "invalid messages style",
			modify: func(c *Config) {
				c.Query.Messages = "rude"
			},
			shouldError: true,
		},
		{
			name: "invalid port",
			modify: func(c *Config) {
				c.Server.HTTPPort = 70000
			},
			shouldError: true,
		},
		{
			name: "invalid rate",
			modify: func(c *Config) {
				c.Server.RatePerMinute = 0
			},
			shouldError: true,
		},
		{
			name: "invalid log level",
			modify: func(c *Config) {
				c.Log.Level = "invalid"
			},
			shouldError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, _ := Load("")
			tt.modify(cfg)
			err := cfg.Validate()

			if tt.shouldError && err == nil {
				t.Error("Expected validation error, got nil")
			}
			if !tt.shouldError && err != nil {
				t.Errorf("Expected no error, got: %v", err)
			}
		})
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "test.yaml")

	content := `
source:
  driver: memory
query:
  messages: sarcastic
server:
  http_port: 9999
  host: 0.0.0.0
  pg_users:
    reader: "$2a$12$abcdefghijklmnopqrstuu"
log:
  level: debug
`
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Source.Driver != DriverMemory {
		t.Errorf("Expected driver memory, got %s", cfg.Source.Driver)
	}

	if cfg.Query.Messages != "sarcastic" {
		t.Errorf("Expected sarcastic messages, got %s", cfg.Query.Messages)
	}

	if cfg.Server.HTTPPort != 9999 {
		t.Errorf("Expected port 9999, got %d", cfg.Server.HTTPPort)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Expected host 0.0.0.0, got %s", cfg.Server.Host)
	}

	if hash := cfg.Server.PGUsers["reader"]; hash != "$2a$12$abcdefghijklmnopqrstuu" {
		t.Errorf("Expected pg_users entry for reader, got %q", hash)
	}

	// Unset keys keep their defaults
	if cfg.Server.TCPPort != 5480 {
		t.Errorf("Expected default tcp port 5480, got %d", cfg.Server.TCPPort)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level debug, got %s", cfg.Log.Level)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("PORTFOLIOQL_SERVER_HTTP_PORT", "7070")
	t.Setenv("PORTFOLIOQL_QUERY_MESSAGES", "sarcastic")
	t.Setenv("PORTFOLIOQL_SERVER_PG_PORT", "6543")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.HTTPPort != 7070 {
		t.Errorf("Expected port 7070 from env, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Query.Messages != "sarcastic" {
		t.Errorf("Expected sarcastic messages from env, got %s", cfg.Query.Messages)
	}
	if cfg.Server.PGPort != 6543 {
		t.Errorf("Expected pg port 6543 from env, got %d", cfg.Server.PGPort)
	}
}

func TestCreateDefaultConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "portfolioql.yaml")

	if err := CreateDefaultConfig(cfgPath); err != nil {
		t.Fatalf("CreateDefaultConfig failed: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Generated config does not load: %v", err)
	}
	if cfg.Server.RatePerMinute != 120 {
		t.Errorf("Expected rate 120, got %d", cfg.Server.RatePerMinute)
	}
}
