// Package config loads bot configuration from a YAML file, with environment
// variable overrides for credentials and infrastructure endpoints.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"twicket-botv1/internal/filter"
)

// Config holds all application configuration.
type Config struct {
	// Twickets account credentials
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	APIKey   string `yaml:"api_key"`

	// Target event
	EventID string `yaml:"event_id"`

	// Polling: base delay between cycles; the actual sleep jitters up to
	// 1.5x this value.
	TimeDelay Duration `yaml:"time_delay"`

	// Ticket criteria
	MinSeats          int      `yaml:"min_seats"`
	MaxSeats          int      `yaml:"max_seats"` // exclusive upper bound
	MaxPrice          *float64 `yaml:"max_price"` // pounds; nil disables the cap
	SkipMeetupDeliver bool     `yaml:"skip_meetup_delivery"`

	// Browser
	Headless    bool   `yaml:"headless"`
	UserAgent   string `yaml:"user_agent"`
	ChromePath  string `yaml:"chrome_path"`
	DebuggerURL string `yaml:"debugger_url"` // attach to a running Chrome instead of launching

	// Notifications
	DiscordWebhookURL string `yaml:"discord_webhook_url"`
	TelegramBotToken  string `yaml:"telegram_bot_token"`
	TelegramChatID    string `yaml:"telegram_chat_id"`

	// Infrastructure
	JournalPath   string `yaml:"journal_path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	MetricsAddr   string `yaml:"metrics_addr"`
	GatewayAddr   string `yaml:"gateway_addr"`
	LogDir        string `yaml:"log_dir"`
}

// Duration wraps time.Duration so YAML can carry values like "30s" or
// plain integer seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		if dur, err := time.ParseDuration(s); err == nil {
			*d = Duration(dur)
			return nil
		}
	}
	var secs int64
	if err := value.Decode(&secs); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	return fmt.Errorf("config: invalid duration %q", value.Value)
}

// Defaults returns a Config populated with the built-in defaults.
func Defaults() *Config {
	return &Config{
		TimeDelay:         Duration(30 * time.Second),
		MinSeats:          1,
		MaxSeats:          4,
		SkipMeetupDeliver: true,
		Headless:          true,
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		JournalPath: "data/journal.db",
		MetricsAddr: ":9090",
		LogDir:      "logs",
	}
}

// Load reads the YAML file at path (if it exists), applies environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		log.Printf("[config] %s not found, using defaults and environment", path)
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets credentials and endpoints come from the environment so the
// YAML file never needs to hold secrets.
func (c *Config) applyEnv() {
	c.User = getEnv("TWICKETS_USER", c.User)
	c.Password = getEnv("TWICKETS_PASSWORD", c.Password)
	c.APIKey = getEnv("TWICKETS_API_KEY", c.APIKey)
	c.EventID = getEnv("TWICKETS_EVENT_ID", c.EventID)
	c.DiscordWebhookURL = getEnv("DISCORD_WEBHOOK_URL", c.DiscordWebhookURL)
	c.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", c.TelegramBotToken)
	c.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", c.TelegramChatID)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)
	c.GatewayAddr = getEnv("GATEWAY_ADDR", c.GatewayAddr)
	c.JournalPath = getEnv("JOURNAL_PATH", c.JournalPath)

	if v := os.Getenv("TIME_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Printf("[config] ignoring invalid TIME_DELAY %q: %v", v, err)
		} else {
			c.TimeDelay = Duration(d)
		}
	}
	if v := os.Getenv("MAX_PRICE"); v != "" {
		p, err := strconv.ParseFloat(v, 64)
		if err != nil {
			log.Printf("[config] ignoring invalid MAX_PRICE %q: %v", v, err)
		} else {
			c.MaxPrice = &p
		}
	}
}

// Validate checks that required fields are set and bounds are coherent.
func (c *Config) Validate() error {
	if c.User == "" {
		return fmt.Errorf("config: user is required")
	}
	if c.Password == "" {
		return fmt.Errorf("config: password is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("config: api_key is required")
	}
	if c.EventID == "" {
		return fmt.Errorf("config: event_id is required")
	}
	if c.TimeDelay <= 0 {
		return fmt.Errorf("config: time_delay must be positive, got %v", c.TimeDelay)
	}
	if c.MinSeats < 1 {
		return fmt.Errorf("config: min_seats must be at least 1, got %d", c.MinSeats)
	}
	if c.MaxSeats <= c.MinSeats {
		return fmt.Errorf("config: max_seats (%d, exclusive) must exceed min_seats (%d)",
			c.MaxSeats, c.MinSeats)
	}
	if c.MaxPrice != nil && *c.MaxPrice <= 0 {
		return fmt.Errorf("config: max_price must be positive, got %.2f", *c.MaxPrice)
	}
	return nil
}

// Criteria converts the configured bounds into filter criteria, turning the
// pounds price cap into pence.
func (c *Config) Criteria() filter.Criteria {
	crit := filter.Criteria{
		MinSeats:   c.MinSeats,
		MaxSeats:   c.MaxSeats,
		SkipMeetup: c.SkipMeetupDeliver,
	}
	if c.MaxPrice != nil {
		pence := int64(*c.MaxPrice*100 + 0.5)
		crit.MaxPrice = &pence
	}
	return crit
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
