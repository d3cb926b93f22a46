package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// ----------------------------
	// Store
	// ----------------------------
	Store       string `envconfig:"STORE" default:"postgres"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	RedisAddr   string `envconfig:"REDIS_ADDR" default:""`

	// ----------------------------
	// SMTP
	// ----------------------------
	SMTPHost     string   `envconfig:"SMTP_HOST" default:"localhost"`
	SMTPPort     int      `envconfig:"SMTP_PORT" default:"1025"`
	SMTPUser     string   `envconfig:"SMTP_USER" default:""`
	SMTPPassword string   `envconfig:"SMTP_PASSWORD" default:""`
	SMTPFrom     string   `envconfig:"SMTP_FROM" default:"noreply@campaignmailer.local"`
	SMTPAccounts []string `envconfig:"SMTP_ACCOUNTS"` // ref|user|password

	// ----------------------------
	// Senders
	// ----------------------------
	SenderIDs     []string `envconfig:"SENDER_IDS"`
	DefaultSender string   `envconfig:"DEFAULT_SENDER" default:""`
	DailyLimit    int      `envconfig:"DAILY_LIMIT" default:"500"`

	// ----------------------------
	// Processing
	// ----------------------------
	MaxRetries        int           `envconfig:"MAX_RETRIES" default:"3"`
	RateLimit         int           `envconfig:"RATE_LIMIT" default:"10"`
	SendRetryAttempts int           `envconfig:"SEND_RETRY_ATTEMPTS" default:"0"`
	TriggerInterval   time.Duration `envconfig:"TRIGGER_INTERVAL" default:"0s"`
	LockTTL           time.Duration `envconfig:"LOCK_TTL" default:"10m"`

	// ----------------------------
	// HTTP API
	// ----------------------------
	APIPort string `envconfig:"API_PORT" default:"8080"`

	// ----------------------------
	// Metrics
	// ----------------------------
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`

	// ----------------------------
	// Logging
	// ----------------------------
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogDevelopment bool   `envconfig:"LOG_DEVELOPMENT" default:"false"`
	LogFile        string `envconfig:"LOG_FILE" default:""`
}

// Account is one entry of SMTP_ACCOUNTS.
type Account struct {
	Ref      string
	Username string
	Password string
}

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE=postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown STORE %q", c.Store)
	}

	if c.MaxRetries < 0 {
		return errors.New("MAX_RETRIES must not be negative")
	}
	if _, err := c.Accounts(); err != nil {
		return err
	}
	return nil
}

// Senders returns the configured sender ids, lower-cased, with the default sender first.
func (c *Config) Senders() []string {
	seen := make(map[string]bool)
	var out []string

	add := func(s string) {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}

	add(c.DefaultSender)
	for _, s := range c.SenderIDs {
		add(s)
	}
	return out
}

func (c *Config) Accounts() ([]Account, error) {
	accounts := make([]Account, 0, len(c.SMTPAccounts))

	for _, raw := range c.SMTPAccounts {
		parts := strings.SplitN(raw, "|", 3)
		if len(parts) != 3 || strings.TrimSpace(parts[0]) == "" {
			return nil, fmt.Errorf("SMTP_ACCOUNTS entry %q must be ref|user|password", raw)
		}
		accounts = append(accounts, Account{
			Ref:      strings.TrimSpace(parts[0]),
			Username: strings.TrimSpace(parts[1]),
			Password: parts[2],
		})
	}
	return accounts, nil
}
