package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when it exists; a missing file is not an error.
const DefaultPath = "config.yaml"

type Config struct {
	Discord struct {
		Token    string `yaml:"token" env:"DISCORD_TOKEN"`
		ClientID string `yaml:"client_id" env:"DISCORD_CLIENT_ID"`
	} `yaml:"discord"`

	Database struct {
		// postgres:// selects PostgreSQL, anything else is a SQLite path.
		URL string `yaml:"url" env:"DATABASE_URL"`
	} `yaml:"database"`

	Redis struct {
		// Empty disables the task list cache.
		Addr     string        `yaml:"addr" env:"REDIS_ADDR"`
		Password string        `yaml:"password" env:"REDIS_PASSWORD"`
		DB       int           `yaml:"db" env:"REDIS_DB"`
		TTL      time.Duration `yaml:"ttl" env:"REDIS_TTL"`
	} `yaml:"redis"`

	Wizard struct {
		// Drafts untouched for this long are dropped; 0 keeps them forever.
		IdleTimeout time.Duration `yaml:"idle_timeout" env:"WIZARD_IDLE_TIMEOUT"`
	} `yaml:"wizard"`

	Reminders struct {
		ReplayOnStart bool `yaml:"replay_on_start" env:"REMINDERS_REPLAY"`
		// Bounds one reminder message send.
		DeliveryTimeout time.Duration `yaml:"delivery_timeout" env:"REMINDERS_DELIVERY_TIMEOUT"`
	} `yaml:"reminders"`

	Metrics struct {
		Addr string `yaml:"addr" env:"METRICS_ADDR"`
	} `yaml:"metrics"`

	Log struct {
		Level  string `yaml:"level" env:"LOG_LEVEL"`
		Format string `yaml:"format" env:"LOG_FORMAT"`
	} `yaml:"log"`
}

// ConfigurationError reports a setting the bot cannot start without.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s %s", e.Key, e.Reason)
}

func defaults() *Config {
	cfg := &Config{}
	cfg.Database.URL = "taskbot.db"
	cfg.Redis.TTL = 5 * time.Minute
	cfg.Wizard.IdleTimeout = 24 * time.Hour
	cfg.Reminders.DeliveryTimeout = 10 * time.Second
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	return cfg
}

// Load builds the configuration from defaults, the optional YAML file at
// path and then environment variables, in that order of precedence.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without the checks for settings only the bot needs.
func Read(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("error reading config file: %w", err)
	default:
		if err := yaml.Unmarshal([]byte(expandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("error parsing config: %w", err)
		}
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("error reading environment: %w", err)
	}
	return cfg, nil
}

var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} placeholders with the environment value. An
// unset variable expands to "", so a missing secret stays missing. A bare
// $ is left alone.
func expandEnv(content string) string {
	return placeholder.ReplaceAllStringFunc(content, func(m string) string {
		return os.Getenv(placeholder.FindStringSubmatch(m)[1])
	})
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Discord.Token) == "" {
		return &ConfigurationError{Key: "discord.token", Reason: "is required (set DISCORD_TOKEN)"}
	}
	if strings.TrimSpace(c.Database.URL) == "" {
		return &ConfigurationError{Key: "database.url", Reason: "must not be empty"}
	}
	if c.Wizard.IdleTimeout < 0 {
		return &ConfigurationError{Key: "wizard.idle_timeout", Reason: "must not be negative"}
	}
	if c.Reminders.DeliveryTimeout <= 0 {
		return &ConfigurationError{Key: "reminders.delivery_timeout", Reason: "must be positive"}
	}
	if c.Redis.Addr != "" && c.Redis.TTL <= 0 {
		return &ConfigurationError{Key: "redis.ttl", Reason: "must be positive when redis.addr is set"}
	}
	return nil
}
