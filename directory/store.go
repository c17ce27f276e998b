package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mscr-notifier/pkg/notifier"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
)

const keyPrefix = "user-"

// Store keeps one JSON object per subscriber in Cloud Storage, or in a local
// directory during development.
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
}

// New creates a new object-store directory. When localPath is set, client and bucket are ignored.
func New(client *storage.Client, bucket string, localPath string, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		localPath: localPath,
		bucket:    bucket,
	}
}

// SubscriberKey returns the object name for a user id.
func SubscriberKey(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return fmt.Sprintf("%s%s.json", keyPrefix, id)
}

// Save writes a subscriber.
func (s *Store) Save(ctx context.Context, sub *notifier.Subscriber) error {
	key := SubscriberKey(sub.ID)
	if key == "" {
		return errors.New("subscriber id required")
	}
	s.logger.Debug("Saving subscriber", "key", key, "user_id", sub.ID)

	data, err := json.MarshalIndent(sub, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal subscriber: %w", err)
	}

	if s.localPath != "" {
		filePath := filepath.Join(s.localPath, key)
		if err := os.WriteFile(filePath, data, 0o600); err != nil {
			return fmt.Errorf("write to local storage: %w", err)
		}
		s.logger.Info("Subscriber saved to local storage", "path", filePath, "user_id", sub.ID, "resource_count", len(sub.Resources))
		return nil
	}

	err = retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
			w.ContentType = "application/json"
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying save operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}

	s.logger.Info("Subscriber saved", "key", key, "user_id", sub.ID, "resource_count", len(sub.Resources))
	return nil
}

// FindByID loads a subscriber. A missing subscriber yields notifier.ErrNotFound.
func (s *Store) FindByID(ctx context.Context, id uuid.UUID) (*notifier.Subscriber, error) {
	key := SubscriberKey(id)
	if key == "" {
		return nil, notifier.ErrNotFound
	}
	return s.load(ctx, key)
}

func (s *Store) load(ctx context.Context, key string) (*notifier.Subscriber, error) {
	var data []byte

	if s.localPath != "" {
		var err error
		data, err = os.ReadFile(filepath.Join(s.localPath, key))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %s", notifier.ErrNotFound, key)
			}
			return nil, fmt.Errorf("read from local storage: %w", err)
		}
	} else {
		var readData []byte
		err := retry.Do(
			func() error {
				r, openErr := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
				if openErr != nil {
					if errors.Is(openErr, storage.ErrObjectNotExist) {
						return retry.Unrecoverable(fmt.Errorf("%w: %s", notifier.ErrNotFound, key))
					}
					return fmt.Errorf("open storage reader: %w", openErr)
				}
				defer func() {
					if closeErr := r.Close(); closeErr != nil {
						s.logger.Warn("Failed to close storage reader", "error", closeErr)
					}
				}()

				var readErr error
				readData, readErr = io.ReadAll(r)
				if readErr != nil {
					return fmt.Errorf("read from storage: %w", readErr)
				}
				return nil
			},
			retry.Attempts(3),
			retry.Delay(time.Second),
			retry.MaxDelay(2*time.Minute),
			retry.MaxJitter(10*time.Second),
			retry.Context(ctx),
			retry.OnRetry(func(n uint, retryErr error) {
				s.logger.Info("Retrying load operation after error", "attempt", n, "key", key, "error", retryErr)
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("load after retries: %w", err)
		}
		data = readData
	}

	var sub notifier.Subscriber
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("unmarshal subscriber: %w", err)
	}
	return &sub, nil
}

// Delete removes a subscriber. Deleting a missing subscriber is not an error.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	key := SubscriberKey(id)
	if key == "" {
		return errors.New("subscriber id required")
	}

	if s.localPath != "" {
		filePath := filepath.Join(s.localPath, key)
		if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete from local storage: %w", err)
		}
		s.logger.Info("Subscriber deleted from local storage", "path", filePath, "user_id", id)
		return nil
	}

	err := retry.Do(
		func() error {
			if deleteErr := s.client.Bucket(s.bucket).Object(key).Delete(ctx); deleteErr != nil {
				if errors.Is(deleteErr, storage.ErrObjectNotExist) {
					return nil
				}
				return fmt.Errorf("delete from storage: %w", deleteErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying delete operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("delete after retries: %w", err)
	}

	s.logger.Info("Subscriber deleted", "key", key, "user_id", id)
	return nil
}

// List returns every stored subscriber. Unreadable objects are skipped.
func (s *Store) List(ctx context.Context) ([]*notifier.Subscriber, error) {
	var subs []*notifier.Subscriber

	if s.localPath != "" {
		entries, err := os.ReadDir(s.localPath)
		if err != nil {
			return nil, fmt.Errorf("read local storage directory: %w", err)
		}

		for _, entry := range entries {
			if entry.IsDir() || !strings.HasPrefix(entry.Name(), keyPrefix) || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}

			sub, err := s.load(ctx, entry.Name())
			if err != nil {
				s.logger.Warn("Failed to load subscriber", "file", entry.Name(), "error", err)
				continue
			}
			subs = append(subs, sub)
		}
		return subs, nil
	}

	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{
		Prefix: keyPrefix,
	})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate storage: %w", err)
		}

		sub, err := s.load(ctx, attrs.Name)
		if err != nil {
			s.logger.Warn("Failed to load subscriber", "key", attrs.Name, "error", err)
			continue
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// DailySubscribers returns every subscriber on the daily mode.
func (s *Store) DailySubscribers(ctx context.Context) ([]*notifier.Subscriber, error) {
	subs, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return dailyOnly(subs), nil
}

// FollowedURIs returns the URIs any subscriber follows for an application.
func (s *Store) FollowedURIs(ctx context.Context, app notifier.Application) ([]string, error) {
	subs, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return followedURIs(subs, app), nil
}

// FollowedURIsForUser returns the URIs one subscriber follows for an application.
func (s *Store) FollowedURIsForUser(ctx context.Context, app notifier.Application, id uuid.UUID) ([]string, error) {
	sub, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return followedURIs([]*notifier.Subscriber{sub}, app), nil
}
