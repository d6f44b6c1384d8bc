package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// clearEnv unsets every variable Load reads so the host environment does
// not leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DISCORD_TOKEN", "DISCORD_CLIENT_ID", "DATABASE_URL",
		"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "REDIS_TTL",
		"WIZARD_IDLE_TIMEOUT", "REMINDERS_REPLAY", "REMINDERS_DELIVERY_TIMEOUT", "METRICS_ADDR",
		"LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DISCORD_TOKEN", "secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.URL != "taskbot.db" {
		t.Errorf("Expected default database URL, got %q", cfg.Database.URL)
	}
	if cfg.Wizard.IdleTimeout != 24*time.Hour {
		t.Errorf("Expected 24h idle timeout, got %v", cfg.Wizard.IdleTimeout)
	}
	if cfg.Redis.Addr != "" || cfg.Redis.TTL != 5*time.Minute {
		t.Errorf("Unexpected redis defaults: %+v", cfg.Redis)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("Unexpected log defaults: %+v", cfg.Log)
	}
	if cfg.Reminders.ReplayOnStart {
		t.Error("Expected replay to be off by default")
	}
	if cfg.Reminders.DeliveryTimeout != 10*time.Second {
		t.Errorf("Expected 10s delivery timeout, got %v", cfg.Reminders.DeliveryTimeout)
	}
}

func TestLoadMissingToken(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Expected ConfigurationError, got %v", err)
	}
	if cfgErr.Key != "discord.token" {
		t.Errorf("Expected discord.token, got %q", cfgErr.Key)
	}
}

func TestLoadFileAndPlaceholders(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_BOT_TOKEN", "from-placeholder")

	path := writeConfig(t, `
discord:
  token: ${TEST_BOT_TOKEN}
  client_id: "123"
database:
  url: postgres://localhost/taskbot
wizard:
  idle_timeout: 0s
reminders:
  replay_on_start: true
log:
  format: text
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Discord.Token != "from-placeholder" || cfg.Discord.ClientID != "123" {
		t.Errorf("Unexpected discord section: %+v", cfg.Discord)
	}
	if cfg.Database.URL != "postgres://localhost/taskbot" {
		t.Errorf("Unexpected database URL %q", cfg.Database.URL)
	}
	if cfg.Wizard.IdleTimeout != 0 {
		t.Errorf("Expected idle timeout to be disabled, got %v", cfg.Wizard.IdleTimeout)
	}
	if !cfg.Reminders.ReplayOnStart {
		t.Error("Expected replay to be enabled")
	}
	if cfg.Log.Format != "text" || cfg.Log.Level != "info" {
		t.Errorf("Expected file format with default level, got %+v", cfg.Log)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
discord:
  token: file-token
database:
  url: file.db
redis:
  addr: localhost:6379
`)
	t.Setenv("DISCORD_TOKEN", "env-token")
	t.Setenv("DATABASE_URL", "sqlite://env.db")
	t.Setenv("REDIS_TTL", "30s")
	t.Setenv("WIZARD_IDLE_TIMEOUT", "2h")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Discord.Token != "env-token" {
		t.Errorf("Expected env token, got %q", cfg.Discord.Token)
	}
	if cfg.Database.URL != "sqlite://env.db" {
		t.Errorf("Expected env database URL, got %q", cfg.Database.URL)
	}
	if cfg.Redis.Addr != "localhost:6379" || cfg.Redis.TTL != 30*time.Second {
		t.Errorf("Unexpected redis section: %+v", cfg.Redis)
	}
	if cfg.Wizard.IdleTimeout != 2*time.Hour {
		t.Errorf("Expected 2h idle timeout, got %v", cfg.Wizard.IdleTimeout)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected debug level, got %q", cfg.Log.Level)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	clearEnv(t)
	t.Setenv("DISCORD_TOKEN", "secret")
	path := writeConfig(t, "discord: [unclosed")

	if _, err := Load(path); err == nil {
		t.Error("Expected a parse error")
	}
}

func TestLoadNegativeIdleTimeout(t *testing.T) {
	clearEnv(t)
	t.Setenv("DISCORD_TOKEN", "secret")
	t.Setenv("WIZARD_IDLE_TIMEOUT", "-1m")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) || cfgErr.Key != "wizard.idle_timeout" {
		t.Errorf("Expected idle timeout ConfigurationError, got %v", err)
	}
}

func TestReadSkipsValidation(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://db/taskbot")

	cfg, err := Read(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if cfg.Database.URL != "postgres://db/taskbot" {
		t.Errorf("Unexpected database URL %q", cfg.Database.URL)
	}
}

func TestLoadUnsetPlaceholderTokenIsMissing(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("TASKBOT_UNSET_TOKEN")
	path := writeConfig(t, `
discord:
  token: ${TASKBOT_UNSET_TOKEN}
`)

	_, err := Load(path)
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) || cfgErr.Key != "discord.token" {
		t.Fatalf("Expected discord.token ConfigurationError, got %v", err)
	}
}

func TestLoadExampleConfigWithoutToken(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join("..", "..", "config.example.yaml"))
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) || cfgErr.Key != "discord.token" {
		t.Fatalf("Expected discord.token ConfigurationError, got %v", err)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("TASKBOT_SET", "value")
	os.Unsetenv("TASKBOT_UNSET")

	got := expandEnv("a: ${TASKBOT_SET}\nb: ${TASKBOT_UNSET}\nc: pa$$word $HOME")
	want := "a: value\nb: \nc: pa$$word $HOME"
	if got != want {
		t.Errorf("expandEnv = %q, want %q", got, want)
	}
}

func TestDeliveryTimeoutFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("DISCORD_TOKEN", "secret")
	t.Setenv("REMINDERS_DELIVERY_TIMEOUT", "3s")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Reminders.DeliveryTimeout != 3*time.Second {
		t.Errorf("Expected 3s delivery timeout, got %v", cfg.Reminders.DeliveryTimeout)
	}

	t.Setenv("REMINDERS_DELIVERY_TIMEOUT", "0s")
	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) || cfgErr.Key != "reminders.delivery_timeout" {
		t.Errorf("Expected delivery timeout ConfigurationError, got %v", err)
	}
}
