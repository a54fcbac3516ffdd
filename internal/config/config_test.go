package config

import (
	"os"
	"testing"
	"time"
)

var testEnvVars = []string{
	"PORT", "LOG_LEVEL", "LOG_FILE",
	"DATABASE_TYPE", "DATABASE_PATH",
	"POSTGRES_HOST", "POSTGRES_PORT", "POSTGRES_DB", "POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_SSL_MODE",
	"REDIS_ENABLED", "REDIS_ADDRESS", "REDIS_PASSWORD", "REDIS_DB", "REDIS_POOL_SIZE",
	"PLUGIN_DIR", "CYCLER_ENABLED", "CYCLER_POLL_INTERVAL",
	"TEMPLATE_DIR", "TEMPLATE_MAX_DEPTH",
}

func clearTestEnvVars(t *testing.T) {
	t.Helper()
	for _, key := range testEnvVars {
		if value, ok := os.LookupEnv(key); ok {
			os.Unsetenv(key)
			t.Cleanup(func() { os.Setenv(key, value) })
		}
	}
}

func TestLoad(t *testing.T) {
	clearTestEnvVars(t)

	config := Load()

	if config.Port != "8080" {
		t.Errorf("Load() Port = %v, want %v", config.Port, "8080")
	}
	if config.DatabaseType != "sqlite" {
		t.Errorf("Load() DatabaseType = %v, want sqlite", config.DatabaseType)
	}
	if config.DatabasePath != "./plugin_runtime.db" {
		t.Errorf("Load() DatabasePath = %v, want %v", config.DatabasePath, "./plugin_runtime.db")
	}
	if config.LogLevel != "info" {
		t.Errorf("Load() LogLevel = %v, want info", config.LogLevel)
	}
	if config.RedisEnabled {
		t.Error("Load() RedisEnabled should default to false")
	}
	if config.RedisPoolSize != 10 {
		t.Errorf("Load() RedisPoolSize = %v, want 10", config.RedisPoolSize)
	}
	if !config.CyclerEnabled {
		t.Error("Load() CyclerEnabled should default to true")
	}
	if config.CyclerPollInterval != time.Second {
		t.Errorf("Load() CyclerPollInterval = %v, want 1s", config.CyclerPollInterval)
	}
	if config.TemplateMaxDepth != 8 {
		t.Errorf("Load() TemplateMaxDepth = %v, want 8", config.TemplateMaxDepth)
	}
}

func TestLoadWithEnvVars(t *testing.T) {
	clearTestEnvVars(t)
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_TYPE", "memory")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("CYCLER_POLL_INTERVAL", "250ms")
	t.Setenv("TEMPLATE_MAX_DEPTH", "4")
	t.Setenv("CYCLER_ENABLED", "not-a-bool")

	config := Load()

	if config.Port != "9090" {
		t.Errorf("Port = %v, want 9090", config.Port)
	}
	if config.DatabaseType != "memory" {
		t.Errorf("DatabaseType = %v, want memory", config.DatabaseType)
	}
	if !config.RedisEnabled || config.RedisDB != 3 {
		t.Errorf("Redis = (%v, %v), want (true, 3)", config.RedisEnabled, config.RedisDB)
	}
	if config.CyclerPollInterval != 250*time.Millisecond {
		t.Errorf("CyclerPollInterval = %v, want 250ms", config.CyclerPollInterval)
	}
	if config.TemplateMaxDepth != 4 {
		t.Errorf("TemplateMaxDepth = %v, want 4", config.TemplateMaxDepth)
	}
	if !config.CyclerEnabled {
		t.Error("unparseable CYCLER_ENABLED should fall back to the default")
	}
}

func TestValidate(t *testing.T) {
	clearTestEnvVars(t)
	valid := func() *Config { return Load() }

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"bad port", func(c *Config) { c.Port = "0" }, true},
		{"non numeric port", func(c *Config) { c.Port = "http" }, true},
		{"unknown database", func(c *Config) { c.DatabaseType = "mysql" }, true},
		{"memory database", func(c *Config) { c.DatabaseType = "memory" }, false},
		{"postgres missing host", func(c *Config) { c.DatabaseType = "postgres" }, true},
		{"postgres complete", func(c *Config) {
			c.DatabaseType = "postgres"
			c.PostgresHost = "localhost"
			c.PostgresDB = "plugins"
			c.PostgresUser = "runtime"
		}, false},
		{"redis bad db", func(c *Config) { c.RedisEnabled = true; c.RedisDB = 16 }, true},
		{"redis bad pool", func(c *Config) { c.RedisEnabled = true; c.RedisPoolSize = 0 }, true},
		{"redis db ignored when disabled", func(c *Config) { c.RedisDB = 99 }, false},
		{"zero poll interval", func(c *Config) { c.CyclerPollInterval = 0 }, true},
		{"zero max depth", func(c *Config) { c.TemplateMaxDepth = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPostgresDSN(t *testing.T) {
	c := &Config{
		PostgresHost: "db", PostgresPort: "5432", PostgresDB: "plugins",
		PostgresUser: "u", PostgresPassword: "p", PostgresSSLMode: "disable",
	}
	want := "host=db port=5432 dbname=plugins user=u password=p sslmode=disable"
	if got := c.PostgresDSN(); got != want {
		t.Errorf("PostgresDSN() = %q, want %q", got, want)
	}
}
