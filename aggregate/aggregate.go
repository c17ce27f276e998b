// Package aggregate collects changed resources and correlates them with subscribers.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mscr-notifier/pkg/notifier"
	"mscr-notifier/provider"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Provider fetches changed resources from the catalog.
type Provider interface {
	Changes(ctx context.Context, req provider.Request) (*provider.Response, error)
}

// Directory resolves subscribers and their followed resources.
type Directory interface {
	DailySubscribers(ctx context.Context) ([]*notifier.Subscriber, error)
	FollowedURIs(ctx context.Context, app notifier.Application) ([]string, error)
	FollowedURIsForUser(ctx context.Context, app notifier.Application, id uuid.UUID) ([]string, error)
}

// Aggregator builds change maps and per-subscriber digests.
type Aggregator struct {
	provider    Provider
	directory   Directory
	logger      *slog.Logger
	timeout     time.Duration
	concurrency int
}

// New creates a new aggregator.
func New(p Provider, d Directory, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		provider:    p,
		directory:   d,
		logger:      logger,
		timeout:     time.Minute,
		concurrency: 8,
	}
}

// WithTimeout bounds each provider round trip. Zero disables the bound.
func (a *Aggregator) WithTimeout(d time.Duration) *Aggregator {
	a.timeout = d
	return a
}

// WithConcurrency sets how many subscribers are correlated at once.
func (a *Aggregator) WithConcurrency(n int) *Aggregator {
	if n > 0 {
		a.concurrency = n
	}
	return a
}

// FetchChanges returns the resources of app changed since cutoff, keyed by URI.
// With a non-nil userID only that user's followed resources are queried, and a
// user who follows nothing yields an empty map without contacting the provider.
func (a *Aggregator) FetchChanges(ctx context.Context, app notifier.Application, userID uuid.UUID, cutoff time.Time) (notifier.ChangeMap, error) {
	perUser := userID != uuid.Nil

	var uris []string
	var err error
	if perUser {
		uris, err = a.directory.FollowedURIsForUser(ctx, app, userID)
	} else {
		uris, err = a.directory.FollowedURIs(ctx, app)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve followed uris: %w", err)
	}

	changes := make(notifier.ChangeMap)
	if len(uris) == 0 {
		a.logger.Info("No followed resources, skipping provider", "application", app, "user_id", userID)
		return changes, nil
	}

	a.logger.Info("Fetching changed resources",
		"application", app,
		"uri_count", len(uris),
		"cutoff", cutoff.Format(time.RFC3339),
		"per_user", perUser)

	callCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	resp, err := a.provider.Changes(callCtx, provider.Request{
		Application:       app,
		URIs:              uris,
		After:             cutoff,
		FetchRangeChanges: true,
		LatestOnly:        perUser,
	})
	if err != nil {
		if !errors.Is(err, notifier.ErrUpstreamUnavailable) {
			err = fmt.Errorf("%w: %w", notifier.ErrUpstreamUnavailable, err)
		}
		return nil, err
	}

	if resp == nil || len(resp.Results) == 0 {
		a.logger.Info("No resources have updates", "application", app)
		return changes, nil
	}

	for _, rec := range resp.Results {
		if rec == nil || rec.URI == "" {
			continue
		}
		changes[rec.URI] = rec
	}
	a.logger.Info("Changed resources found", "application", app, "count", len(changes))
	return changes, nil
}

// FetchAll merges FetchChanges over several applications.
func (a *Aggregator) FetchAll(ctx context.Context, apps []notifier.Application, userID uuid.UUID, cutoff time.Time) (notifier.ChangeMap, error) {
	merged := make(notifier.ChangeMap)
	for _, app := range apps {
		changes, err := a.FetchChanges(ctx, app, userID, cutoff)
		if err != nil {
			return nil, err
		}
		for uri, rec := range changes {
			merged[uri] = rec
		}
	}
	return merged, nil
}

// Correlate returns the digest of changes relevant to sub, or nil when there are none.
// Membership is an exact URI match against the change map.
func (a *Aggregator) Correlate(sub *notifier.Subscriber, changes notifier.ChangeMap) *notifier.Digest {
	if sub == nil || len(sub.Resources) == 0 || len(changes) == 0 {
		return nil
	}

	buckets := make(map[notifier.Application][]*notifier.ChangeRecord)
	seen := make(map[string]bool, len(sub.Resources))
	for _, res := range sub.Resources {
		rec, ok := changes[res.URI]
		if !ok || seen[res.URI] {
			continue
		}

		// Untagged follows are never fetched, so they never reach a digest.
		app := res.Application
		if !app.IsActive() {
			a.logger.Warn("Unknown application type", "user_id", sub.ID, "uri", res.URI, "application", app)
			continue
		}
		// A record with an unknown type stays in the follow's bucket.
		if owner, err := notifier.ApplicationForType(rec.Type); err == nil && owner != app {
			a.logger.Warn("Resource type does not match followed application",
				"user_id", sub.ID, "uri", res.URI, "type", rec.Type, "application", app)
			continue
		}

		seen[res.URI] = true
		buckets[app] = append(buckets[app], rec)
	}

	if len(buckets) == 0 {
		return nil
	}
	for _, records := range buckets {
		slices.SortFunc(records, func(x, y *notifier.ChangeRecord) int {
			switch {
			case x.Less(y):
				return -1
			case y.Less(x):
				return 1
			default:
				return 0
			}
		})
	}
	return &notifier.Digest{UserID: sub.ID, Buckets: buckets}
}

// BuildAllDigests correlates every daily subscriber against the change map.
// Subscribers without relevant changes are left out of the result.
func (a *Aggregator) BuildAllDigests(ctx context.Context, changes notifier.ChangeMap) (map[uuid.UUID]*notifier.Digest, error) {
	subs, err := a.directory.DailySubscribers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list daily subscribers: %w", err)
	}

	results := make([]*notifier.Digest, len(subs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, sub := range subs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = a.Correlate(sub, changes)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("correlate subscribers: %w", err)
	}

	digests := make(map[uuid.UUID]*notifier.Digest)
	for _, d := range results {
		if d != nil {
			digests[d.UserID] = d
		}
	}
	a.logger.Info("Digests built", "subscribers", len(subs), "digests", len(digests))
	return digests, nil
}
