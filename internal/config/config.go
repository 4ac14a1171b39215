package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds process-level settings sourced from the environment.
// Business parameters tunable at runtime (the sunray.* keys) live in the
// database instead; see store.Params.
type Config struct {
	Env         string `env:"ENV" envDefault:"dev"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	// Postmark credentials; email delivery is disabled when the server
	// token is empty.
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	EmailFrom            string `env:"EMAIL_FROM" envDefault:"no-reply@sunray.sh"`
	EmailReplyTo         string `env:"EMAIL_REPLY_TO"`

	// Per-key token bucket on authenticated routes.
	RateLimitWindowS int `env:"RATE_LIMIT_WINDOW_S" envDefault:"60"`
	RateLimitMax     int `env:"RATE_LIMIT_MAX" envDefault:"600"`
	RateLimitBurst   int `env:"RATE_LIMIT_BURST" envDefault:"120"`

	// Background jobs: OTP cleanup, session GC, go-live scan, audit retention.
	CronEnabled bool `env:"CRON_ENABLED" envDefault:"true"`
}

// Load reads .env when present (best effort, dev convenience) and parses
// the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Dev reports whether the process runs with development conveniences
// such as pretty console logging.
func (c Config) Dev() bool {
	return c.Env == "dev" || c.Env == "development"
}
