package directory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mscr-notifier/pkg/notifier"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/google/uuid"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// backend is the surface both directory implementations share.
type backend interface {
	Save(ctx context.Context, sub *notifier.Subscriber) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*notifier.Subscriber, error)
	DailySubscribers(ctx context.Context) ([]*notifier.Subscriber, error)
	FollowedURIs(ctx context.Context, app notifier.Application) ([]string, error)
	FollowedURIsForUser(ctx context.Context, app notifier.Application, id uuid.UUID) ([]string, error)
}

func backends(t *testing.T) map[string]backend {
	t.Helper()
	db, err := OpenSQLite(":memory:", testLogger())
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return map[string]backend{
		"local":  New(nil, "", t.TempDir(), testLogger()),
		"sqlite": db,
	}
}

var (
	alice = uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	bob   = uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	carol = uuid.MustParse("00000000-0000-0000-0000-00000000000c")
)

func seed(t *testing.T, b backend) {
	t.Helper()
	ctx := context.Background()
	subs := []*notifier.Subscriber{
		{
			ID:    alice,
			Email: "alice@example.org",
			Mode:  "daily",
			Resources: []notifier.FollowedResource{
				{URI: "https://example.org/s2", Application: notifier.ApplicationDatamodel},
				{URI: "https://example.org/s1", Application: notifier.ApplicationDatamodel},
				{URI: "https://example.org/t1", Application: notifier.ApplicationTerminology},
			},
		},
		{
			ID:    bob,
			Email: "bob@example.org",
			Mode:  notifier.ModeDaily,
			Resources: []notifier.FollowedResource{
				{URI: "https://example.org/s1", Application: notifier.ApplicationDatamodel},
			},
		},
		{
			ID:    carol,
			Email: "carol@example.org",
			Mode:  "NONE",
			Resources: []notifier.FollowedResource{
				{URI: "https://example.org/s3", Application: notifier.ApplicationDatamodel},
			},
		},
	}
	for _, sub := range subs {
		if err := b.Save(ctx, sub); err != nil {
			t.Fatalf("Save(%s) error = %v", sub.ID, err)
		}
	}
}

func TestFindByID(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, b)
			ctx := context.Background()

			sub, err := b.FindByID(ctx, alice)
			if err != nil {
				t.Fatalf("FindByID() error = %v", err)
			}
			if sub.Email != "alice@example.org" || !sub.Mode.IsDaily() || len(sub.Resources) != 3 {
				t.Errorf("FindByID() = %+v", sub)
			}

			_, err = b.FindByID(ctx, uuid.New())
			if !errors.Is(err, notifier.ErrNotFound) {
				t.Errorf("FindByID(missing) error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestDailySubscribers(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, b)
			subs, err := b.DailySubscribers(context.Background())
			if err != nil {
				t.Fatalf("DailySubscribers() error = %v", err)
			}
			var ids []uuid.UUID
			for _, sub := range subs {
				ids = append(ids, sub.ID)
			}
			slices.SortFunc(ids, func(a, b uuid.UUID) int { return slices.Compare(a[:], b[:]) })
			if !slices.Equal(ids, []uuid.UUID{alice, bob}) {
				t.Errorf("DailySubscribers() ids = %v, want [alice bob]", ids)
			}
			for _, sub := range subs {
				if sub.ID == alice && len(sub.Resources) != 3 {
					t.Errorf("alice has %d resources, want 3", len(sub.Resources))
				}
			}
		})
	}
}

func TestFollowedURIs(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, b)
			ctx := context.Background()

			all, err := b.FollowedURIs(ctx, notifier.ApplicationDatamodel)
			if err != nil {
				t.Fatalf("FollowedURIs() error = %v", err)
			}
			want := []string{"https://example.org/s1", "https://example.org/s2", "https://example.org/s3"}
			if !slices.Equal(all, want) {
				t.Errorf("FollowedURIs() = %v, want %v", all, want)
			}

			mine, err := b.FollowedURIsForUser(ctx, notifier.ApplicationDatamodel, alice)
			if err != nil {
				t.Fatalf("FollowedURIsForUser() error = %v", err)
			}
			if !slices.Equal(mine, []string{"https://example.org/s1", "https://example.org/s2"}) {
				t.Errorf("FollowedURIsForUser() = %v", mine)
			}
		})
	}
}

func TestDelete(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, b)
			ctx := context.Background()

			if err := b.Delete(ctx, bob); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if _, err := b.FindByID(ctx, bob); !errors.Is(err, notifier.ErrNotFound) {
				t.Errorf("FindByID after delete error = %v, want ErrNotFound", err)
			}
			if err := b.Delete(ctx, bob); err != nil {
				t.Errorf("second Delete() error = %v", err)
			}
		})
	}
}

func TestListSkipsForeignFiles(t *testing.T) {
	dir := t.TempDir()
	s := New(nil, "", dir, testLogger())
	seed(t, s)

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "user-broken.json"), []byte("{"), 0o600); err != nil {
		t.Fatal(err)
	}

	subs, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(subs) != 3 {
		t.Errorf("List() returned %d subscribers, want 3", len(subs))
	}
}

func TestSubscriberKey(t *testing.T) {
	if got := SubscriberKey(uuid.Nil); got != "" {
		t.Errorf("SubscriberKey(nil) = %q, want empty", got)
	}
	if got := SubscriberKey(alice); got != "user-00000000-0000-0000-0000-00000000000a.json" {
		t.Errorf("SubscriberKey(alice) = %q", got)
	}
}
