// Package main runs the MSCR notifier: a service that emails daily subscribers
// a digest of the catalog resources they follow that changed since yesterday.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mscr-notifier/aggregate"
	"mscr-notifier/digest"
	"mscr-notifier/directory"
	"mscr-notifier/dispatch"
	"mscr-notifier/email"
	"mscr-notifier/pkg/notifier"
	"mscr-notifier/provider"
	"mscr-notifier/schedule"
	"mscr-notifier/server"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// subscriberDirectory is what both the aggregator and the dispatcher need.
type subscriberDirectory interface {
	aggregate.Directory
	dispatch.Directory
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(ctx, logger); err != nil {
		logger.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	if err := notifier.ValidateTypeTable(); err != nil {
		return fmt.Errorf("resource type table: %w", err)
	}

	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}
	s, err := cfg.validate()
	if err != nil {
		return err
	}

	dir, closeDir, err := openDirectory(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeDir()

	mailProvider, err := newMailProvider(ctx, cfg, logger)
	if err != nil {
		return err
	}

	client := provider.New(&http.Client{Timeout: cfg.UpstreamTO}, cfg.ProviderURL, logger)
	agg := aggregate.New(client, dir, logger).
		WithTimeout(cfg.UpstreamTO).
		WithConcurrency(cfg.Concurrency)
	renderer := digest.New(cfg.Environment).WithLocalizedStatus(cfg.LocalizeStatus)

	d := dispatch.New(&dispatch.Config{
		Aggregator:   agg,
		Directory:    dir,
		Renderer:     renderer,
		Mailer:       email.New(mailProvider, dir, logger, cfg.MailSubject),
		Logger:       logger,
		Location:     s.location,
		Applications: s.applications,
		MailTimeout:  cfg.MailTimeout,
		Concurrency:  cfg.Concurrency,
	})

	logger.Info("Notifier configured",
		"environment", cfg.Environment,
		"provider_url", cfg.ProviderURL,
		"applications", s.applications,
		"schedule", s.at.String(),
		"zone", s.location.String(),
		"email_provider", cfg.EmailProvider)

	go func() {
		err := schedule.NewDaily(s.at, s.location, logger).Run(ctx, func(ctx context.Context, now time.Time) error {
			report, err := d.RunScheduledPass(ctx, now)
			if errors.Is(err, dispatch.ErrPassRunning) {
				return nil
			}
			if err != nil {
				return err
			}
			return report.Err()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Scheduler stopped", "error", err)
		}
	}()

	srv := server.New(&server.Config{Dispatcher: d, Logger: logger})
	if err := srv.ListenAndServe(ctx, cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// openDirectory selects the subscriber backend: SQLite when SQLITE_PATH is set,
// GCS when STORAGE_BUCKET is set, else JSON files under LOCAL_STORAGE.
func openDirectory(ctx context.Context, cfg *Config, logger *slog.Logger) (subscriberDirectory, func(), error) {
	if cfg.SQLitePath != "" {
		logger.Info("Using SQLite subscriber directory", "path", cfg.SQLitePath)
		db, err := directory.OpenSQLite(cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite directory: %w", err)
		}
		return db, func() {
			if err := db.Close(); err != nil {
				logger.Warn("Failed to close sqlite directory", "error", err)
			}
		}, nil
	}

	if cfg.StorageBucket != "" {
		logger.Info("Using GCS subscriber directory", "bucket", cfg.StorageBucket)
		storageClient, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("initialize storage client: %w", err)
		}
		return directory.New(storageClient, cfg.StorageBucket, "", logger), func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("Failed to close storage client", "error", err)
			}
		}, nil
	}

	localPath := cfg.LocalStorage
	if localPath == "" {
		localPath = "./data"
		logger.Info("No STORAGE_BUCKET set, defaulting to local development mode", "storage_path", localPath)
	}
	if err := os.MkdirAll(localPath, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create local storage directory: %w", err)
	}
	return directory.New(nil, "", localPath, logger), func() {}, nil
}

func newMailProvider(ctx context.Context, cfg *Config, logger *slog.Logger) (email.Provider, error) {
	switch cfg.EmailProvider {
	case "brevo":
		logger.Info("Using Brevo email provider", "from", cfg.MailFrom)
		return email.NewBrevoProvider(cfg.BrevoAPIKey, cfg.MailFrom, cfg.MailFromName, logger), nil
	case "gmail":
		svc, err := initGmailService(ctx, cfg.CredsJSON)
		if err != nil {
			return nil, fmt.Errorf("initialize gmail service: %w", err)
		}
		logger.Info("Using Gmail email provider", "from", cfg.MailFrom)
		return email.NewGmailProvider(svc, cfg.MailFrom, logger), nil
	default:
		if cfg.MailOutbox != "" {
			if err := os.MkdirAll(cfg.MailOutbox, 0o755); err != nil {
				return nil, fmt.Errorf("create mail outbox: %w", err)
			}
		}
		logger.Info("Mock email mode enabled", "outbox", cfg.MailOutbox)
		return email.NewMockProvider(logger, cfg.MailOutbox), nil
	}
}

// isCloudRun checks if we're running in a GCP environment by querying the metadata server.
func isCloudRun(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://metadata.google.internal/computeMetadata/v1/project/project-id", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Metadata-Flavor", "Google")

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	return resp.StatusCode == http.StatusOK
}

func initGmailService(ctx context.Context, credsJSON string) (*gmail.Service, error) {
	if credsJSON != "" {
		return gmail.NewService(ctx, option.WithCredentialsJSON([]byte(credsJSON)))
	}

	// Application Default Credentials need the gmail.send scope on the service account.
	if isCloudRun(ctx) {
		return gmail.NewService(ctx)
	}

	return nil, errors.New("GOOGLE_CREDENTIALS_JSON required when not running in Cloud Run")
}
