// Package dispatch runs digest passes and hands rendered digests to the mailer.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mscr-notifier/pkg/notifier"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// cutoffHour is the local hour of the previous day from which changes are reported.
const cutoffHour = 5

// ErrPassRunning is returned when a scheduled pass starts while another is in flight.
var ErrPassRunning = errors.New("scheduled pass already running")

// Aggregator fetches change maps and correlates them with subscribers.
type Aggregator interface {
	FetchAll(ctx context.Context, apps []notifier.Application, userID uuid.UUID, cutoff time.Time) (notifier.ChangeMap, error)
	Correlate(sub *notifier.Subscriber, changes notifier.ChangeMap) *notifier.Digest
	BuildAllDigests(ctx context.Context, changes notifier.ChangeMap) (map[uuid.UUID]*notifier.Digest, error)
}

// Directory looks up a single subscriber.
type Directory interface {
	FindByID(ctx context.Context, id uuid.UUID) (*notifier.Subscriber, error)
}

// Renderer turns a digest into an HTML body.
type Renderer interface {
	Render(d *notifier.Digest) string
}

// Mailer sends an HTML body to a user.
type Mailer interface {
	Send(ctx context.Context, userID uuid.UUID, htmlBody string) error
}

// Config holds dispatcher configuration.
type Config struct {
	Aggregator   Aggregator
	Directory    Directory
	Renderer     Renderer
	Mailer       Mailer
	Logger       *slog.Logger
	Location     *time.Location
	Applications []notifier.Application
	MailTimeout  time.Duration
	Concurrency  int
}

// Dispatcher orchestrates scheduled and on-demand digest delivery.
type Dispatcher struct {
	aggregator  Aggregator
	directory   Directory
	renderer    Renderer
	mailer      Mailer
	logger      *slog.Logger
	location    *time.Location
	apps        []notifier.Application
	passes      *semaphore.Weighted
	mailTimeout time.Duration
	concurrency int
}

// New creates a new dispatcher.
func New(cfg *Config) *Dispatcher {
	d := &Dispatcher{
		aggregator:  cfg.Aggregator,
		directory:   cfg.Directory,
		renderer:    cfg.Renderer,
		mailer:      cfg.Mailer,
		logger:      cfg.Logger,
		location:    cfg.Location,
		apps:        cfg.Applications,
		passes:      semaphore.NewWeighted(1),
		mailTimeout: cfg.MailTimeout,
		concurrency: cfg.Concurrency,
	}
	if d.location == nil {
		d.location = time.UTC
	}
	if len(d.apps) == 0 {
		d.apps = []notifier.Application{notifier.ApplicationDatamodel}
	}
	if d.concurrency <= 0 {
		d.concurrency = 1
	}
	return d
}

// Cutoff returns 05:00 on the day before now, in now's location.
func Cutoff(now time.Time) time.Time {
	y := now.AddDate(0, 0, -1)
	return time.Date(y.Year(), y.Month(), y.Day(), cutoffHour, 0, 0, 0, now.Location())
}

// Result is the outcome of one subscriber's delivery.
type Result struct {
	Err        error
	UserID     uuid.UUID
	Records    int
	NewRecords int
}

// Report summarizes a scheduled pass.
type Report struct {
	Cutoff  time.Time
	Results []Result
	Changes int
}

// Sent returns the number of digests delivered.
func (r *Report) Sent() int {
	n := 0
	for _, res := range r.Results {
		if res.Err == nil {
			n++
		}
	}
	return n
}

// Failed returns the results whose delivery failed.
func (r *Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// Err joins every delivery failure, nil when all succeeded.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Failed() {
		errs = append(errs, fmt.Errorf("user %s: %w", res.UserID, res.Err))
	}
	return errors.Join(errs...)
}

// RunScheduledPass fetches every followed resource changed since the cutoff and
// sends each daily subscriber their digest. A failed send is recorded in the
// report and does not stop the remaining sends; the returned error is non-nil
// only when the pass could not be prepared. At most one pass runs at a time;
// an overlapping call returns ErrPassRunning without sending anything.
func (d *Dispatcher) RunScheduledPass(ctx context.Context, now time.Time) (*Report, error) {
	if !d.passes.TryAcquire(1) {
		d.logger.Warn("Scheduled pass skipped, another pass is running")
		return nil, ErrPassRunning
	}
	defer d.passes.Release(1)

	cutoff := Cutoff(now.In(d.location))
	d.logger.Info("Starting scheduled pass", "cutoff", cutoff.Format(time.RFC3339), "applications", d.apps)

	changes, err := d.aggregator.FetchAll(ctx, d.apps, uuid.Nil, cutoff)
	if err != nil {
		return nil, fmt.Errorf("fetch changes: %w", err)
	}

	report := &Report{Cutoff: cutoff, Changes: len(changes)}
	if len(changes) == 0 {
		d.logger.Info("Scheduled pass completed, nothing changed")
		return report, nil
	}

	digests, err := d.aggregator.BuildAllDigests(ctx, changes)
	if err != nil {
		return nil, fmt.Errorf("build digests: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(digests))
	for id := range digests {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return strings.Compare(a.String(), b.String()) })

	report.Results = make([]Result, len(ids))
	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			report.Results[i] = d.deliver(ctx, digests[id], cutoff)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range report.Failed() {
		d.logger.Warn("Digest delivery failed", "user_id", res.UserID, "error", res.Err)
	}
	d.logger.Info("Scheduled pass completed",
		"changes", report.Changes,
		"digests", len(ids),
		"sent", report.Sent(),
		"failed", len(report.Failed()))
	return report, nil
}

// NotifyUser sends one user their digest now. It returns notifier.ErrNotFound
// when the user is unknown or not a daily subscriber, and notifier.ErrNotModified
// when nothing they follow has changed.
func (d *Dispatcher) NotifyUser(ctx context.Context, userID uuid.UUID, now time.Time) error {
	sub, err := d.directory.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, notifier.ErrNotFound) {
			return fmt.Errorf("%w: %s", notifier.ErrNotFound, userID)
		}
		return fmt.Errorf("find subscriber: %w", err)
	}
	if !sub.Mode.IsDaily() {
		return fmt.Errorf("%w: %s is not a daily subscriber", notifier.ErrNotFound, userID)
	}

	cutoff := Cutoff(now.In(d.location))
	changes, err := d.aggregator.FetchAll(ctx, d.apps, userID, cutoff)
	if err != nil {
		return fmt.Errorf("fetch changes: %w", err)
	}

	digest := d.aggregator.Correlate(sub, changes)
	if digest.Empty() {
		return fmt.Errorf("%w: %s", notifier.ErrNotModified, userID)
	}

	res := d.deliver(ctx, digest, cutoff)
	return res.Err
}

func (d *Dispatcher) deliver(ctx context.Context, digest *notifier.Digest, cutoff time.Time) Result {
	res := Result{UserID: digest.UserID, Records: digest.Size()}
	for _, records := range digest.Buckets {
		for _, rec := range records {
			if rec.IsNew(cutoff) {
				res.NewRecords++
			}
		}
	}

	body := d.renderer.Render(digest)

	sendCtx := ctx
	if d.mailTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, d.mailTimeout)
		defer cancel()
	}
	if err := d.mailer.Send(sendCtx, digest.UserID, body); err != nil {
		if !errors.Is(err, notifier.ErrSendFailure) {
			err = fmt.Errorf("%w: %w", notifier.ErrSendFailure, err)
		}
		res.Err = err
		return res
	}

	d.logger.Info("Digest delivered",
		"user_id", digest.UserID,
		"records", res.Records,
		"new_records", res.NewRecords)
	return res
}
