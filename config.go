package main

import (
	"errors"
	"fmt"
	"mscr-notifier/pkg/notifier"
	"mscr-notifier/schedule"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the service configuration, read from the environment.
type Config struct {
	Port           string        `env:"PORT"                    envDefault:"8080"`
	Environment    string        `env:"ENV"                     envDefault:"dev"`
	ProviderURL    string        `env:"PROVIDER_URL,required"`
	Applications   []string      `env:"APPLICATIONS"            envDefault:"datamodel" envSeparator:","`
	StorageBucket  string        `env:"STORAGE_BUCKET"`
	LocalStorage   string        `env:"LOCAL_STORAGE"`
	SQLitePath     string        `env:"SQLITE_PATH"`
	EmailProvider  string        `env:"EMAIL_PROVIDER"          envDefault:"mock"`
	BrevoAPIKey    string        `env:"BREVO_API_KEY"`
	MailFrom       string        `env:"MAIL_FROM"`
	MailFromName   string        `env:"MAIL_FROM_NAME"          envDefault:"MSCR"`
	MailSubject    string        `env:"MAIL_SUBJECT"`
	MailOutbox     string        `env:"MAIL_OUTBOX"`
	CredsJSON      string        `env:"GOOGLE_CREDENTIALS_JSON"`
	ScheduleTime   string        `env:"SCHEDULE_TIME"           envDefault:"07:00"`
	ScheduleZone   string        `env:"SCHEDULE_ZONE"           envDefault:"Europe/Helsinki"`
	UpstreamTO     time.Duration `env:"UPSTREAM_TIMEOUT"        envDefault:"1m"`
	MailTimeout    time.Duration `env:"MAIL_TIMEOUT"            envDefault:"2m"`
	Concurrency    int           `env:"PASS_CONCURRENCY"        envDefault:"8"`
	LocalizeStatus bool          `env:"LOCALIZE_STATUS"         envDefault:"false"`
}

// settings is the validated form of Config.
type settings struct {
	applications []notifier.Application
	location     *time.Location
	at           schedule.Clock
}

func loadConfig(environ map[string]string) (*Config, error) {
	var cfg Config
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.EmailProvider = strings.ToLower(strings.TrimSpace(cfg.EmailProvider))
	return &cfg, nil
}

func (c *Config) validate() (*settings, error) {
	apps, err := notifier.ParseApplications(c.Applications)
	if err != nil {
		return nil, fmt.Errorf("APPLICATIONS: %w", err)
	}
	if len(apps) == 0 {
		return nil, errors.New("APPLICATIONS: no application configured")
	}

	loc, err := time.LoadLocation(c.ScheduleZone)
	if err != nil {
		return nil, fmt.Errorf("SCHEDULE_ZONE: %w", err)
	}

	at, err := schedule.ParseClock(c.ScheduleTime)
	if err != nil {
		return nil, fmt.Errorf("SCHEDULE_TIME: %w", err)
	}

	switch c.EmailProvider {
	case "mock", "gmail":
	case "brevo":
		if c.BrevoAPIKey == "" {
			return nil, errors.New("BREVO_API_KEY required for EMAIL_PROVIDER=brevo")
		}
		if c.MailFrom == "" {
			return nil, errors.New("MAIL_FROM required for EMAIL_PROVIDER=brevo")
		}
	default:
		return nil, fmt.Errorf("EMAIL_PROVIDER: unknown provider %q", c.EmailProvider)
	}

	return &settings{applications: apps, location: loc, at: at}, nil
}
