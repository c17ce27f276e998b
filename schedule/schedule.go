// Package schedule triggers a job once a day at a fixed local wall-clock time.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Clock is a time of day.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM" in 24-hour form.
func ParseClock(s string) (Clock, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Clock{}, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return Clock{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return Clock{}, fmt.Errorf("invalid minute in %q", s)
	}
	return Clock{Hour: h, Minute: m}, nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Job is one scheduled run. now is the trigger time in the schedule's zone.
type Job func(ctx context.Context, now time.Time) error

// Daily fires a job every day at the same local time.
type Daily struct {
	location *time.Location
	logger   *slog.Logger
	now      func() time.Time
	wait     func(ctx context.Context, d time.Duration) bool
	at       Clock
}

// NewDaily creates a daily schedule at the given time in loc.
func NewDaily(at Clock, loc *time.Location, logger *slog.Logger) *Daily {
	if loc == nil {
		loc = time.UTC
	}
	return &Daily{
		at:       at,
		location: loc,
		logger:   logger,
		now:      time.Now,
		wait:     sleep,
	}
}

// Next returns the first trigger strictly after t.
func (d *Daily) Next(t time.Time) time.Time {
	local := t.In(d.location)
	next := time.Date(local.Year(), local.Month(), local.Day(), d.at.Hour, d.at.Minute, 0, 0, d.location)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, d.at.Hour, d.at.Minute, 0, 0, d.location)
	}
	return next
}

// Run waits for each trigger and calls job until ctx is cancelled.
// A failed job is logged and the schedule continues.
func (d *Daily) Run(ctx context.Context, job Job) error {
	for {
		now := d.now()
		next := d.Next(now)
		d.logger.Info("Next scheduled run", "at", next.Format(time.RFC3339), "in", next.Sub(now).Round(time.Second).String())

		if !d.wait(ctx, next.Sub(now)) {
			d.logger.Info("Schedule stopped", "error", ctx.Err())
			return ctx.Err()
		}

		start := time.Now()
		if err := job(ctx, next); err != nil {
			d.logger.Error("Scheduled run failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
			continue
		}
		d.logger.Info("Scheduled run completed", "duration_ms", time.Since(start).Milliseconds())
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
