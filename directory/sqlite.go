package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"mscr-notifier/pkg/notifier"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL DEFAULT '',
    subscription_type TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS resources (
    user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    uri TEXT NOT NULL,
    application TEXT NOT NULL,
    PRIMARY KEY (user_id, uri)
);

CREATE INDEX IF NOT EXISTS idx_resources_application
    ON resources(application, uri);
`

// SQLite is a subscriber directory backed by a SQLite database.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (and if needed creates) the database at dsn.
func OpenSQLite(dsn string, logger *slog.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Save inserts or replaces a subscriber and their followed resources.
func (s *SQLite) Save(ctx context.Context, sub *notifier.Subscriber) (err error) {
	if sub.ID == uuid.Nil {
		return errors.New("subscriber id required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO users (id, email, subscription_type) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET email = excluded.email, subscription_type = excluded.subscription_type`,
		sub.ID.String(), sub.Email, string(sub.Mode)); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM resources WHERE user_id = ?`, sub.ID.String()); err != nil {
		return fmt.Errorf("clear resources: %w", err)
	}
	for _, res := range sub.Resources {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO resources (user_id, uri, application) VALUES (?, ?, ?)
			ON CONFLICT(user_id, uri) DO UPDATE SET application = excluded.application`,
			sub.ID.String(), res.URI, string(res.Application)); err != nil {
			return fmt.Errorf("insert resource: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.logger.Info("Subscriber saved to sqlite", "user_id", sub.ID, "resource_count", len(sub.Resources))
	return nil
}

// Delete removes a subscriber and their followed resources.
func (s *SQLite) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM resources WHERE user_id = ?`, id.String()); err != nil {
		return fmt.Errorf("delete resources: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// FindByID loads a subscriber. A missing subscriber yields notifier.ErrNotFound.
func (s *SQLite) FindByID(ctx context.Context, id uuid.UUID) (*notifier.Subscriber, error) {
	sub := &notifier.Subscriber{ID: id}
	var mode string
	err := s.db.QueryRowContext(ctx,
		`SELECT email, subscription_type FROM users WHERE id = ?`, id.String()).Scan(&sub.Email, &mode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", notifier.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	sub.Mode = notifier.SubscriptionMode(mode)

	resources, err := s.resourcesFor(ctx, id)
	if err != nil {
		return nil, err
	}
	sub.Resources = resources
	return sub, nil
}

func (s *SQLite) resourcesFor(ctx context.Context, id uuid.UUID) ([]notifier.FollowedResource, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT uri, application FROM resources WHERE user_id = ? ORDER BY uri`, id.String())
	if err != nil {
		return nil, fmt.Errorf("query resources: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn("Failed to close rows", "error", closeErr)
		}
	}()

	var out []notifier.FollowedResource
	for rows.Next() {
		var res notifier.FollowedResource
		var app string
		if err := rows.Scan(&res.URI, &app); err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		res.Application = notifier.Application(app)
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resources: %w", err)
	}
	return out, nil
}

// DailySubscribers returns every subscriber on the daily mode.
func (s *SQLite) DailySubscribers(ctx context.Context) ([]*notifier.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, email, subscription_type FROM users WHERE UPPER(subscription_type) = ? ORDER BY id`,
		string(notifier.ModeDaily))
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}

	var subs []*notifier.Subscriber
	for rows.Next() {
		var rawID, mode string
		sub := &notifier.Subscriber{}
		if err := rows.Scan(&rawID, &sub.Email, &mode); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan user: %w", err)
		}
		id, err := uuid.Parse(rawID)
		if err != nil {
			s.logger.Warn("Skipping user with malformed id", "id", rawID, "error", err)
			continue
		}
		sub.ID = id
		sub.Mode = notifier.SubscriptionMode(mode)
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	// Resources are loaded after the user cursor is closed; the pool has one connection.
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("close rows: %w", err)
	}

	for _, sub := range subs {
		resources, err := s.resourcesFor(ctx, sub.ID)
		if err != nil {
			return nil, err
		}
		sub.Resources = resources
	}
	return subs, nil
}

// FollowedURIs returns the URIs any subscriber follows for an application.
func (s *SQLite) FollowedURIs(ctx context.Context, app notifier.Application) ([]string, error) {
	return s.queryURIs(ctx,
		`SELECT DISTINCT uri FROM resources WHERE application = ? ORDER BY uri`, string(app))
}

// FollowedURIsForUser returns the URIs one subscriber follows for an application.
func (s *SQLite) FollowedURIsForUser(ctx context.Context, app notifier.Application, id uuid.UUID) ([]string, error) {
	return s.queryURIs(ctx,
		`SELECT uri FROM resources WHERE application = ? AND user_id = ? ORDER BY uri`, string(app), id.String())
}

func (s *SQLite) queryURIs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query uris: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn("Failed to close rows", "error", closeErr)
		}
	}()

	var uris []string
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, fmt.Errorf("scan uri: %w", err)
		}
		uris = append(uris, uri)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate uris: %w", err)
	}
	return uris, nil
}
