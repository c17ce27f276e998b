// Package email delivers rendered digests through a pluggable mail provider.
package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mscr-notifier/pkg/notifier"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "MSCR: summary of changes"

// Message is one digest email.
type Message struct {
	To      string
	Subject string
	HTML    string
	UserID  uuid.UUID
}

// Provider defines the interface for email sending implementations.
type Provider interface {
	Send(ctx context.Context, msg *Message) error
}

// Directory resolves the recipient address for a user.
type Directory interface {
	FindByID(ctx context.Context, id uuid.UUID) (*notifier.Subscriber, error)
}

// Sender delivers digest bodies to users by id.
type Sender struct {
	provider  Provider
	directory Directory
	logger    *slog.Logger
	subject   string
}

// New creates a new email sender with the given provider.
func New(provider Provider, directory Directory, logger *slog.Logger, subject string) *Sender {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Sender{
		provider:  provider,
		directory: directory,
		logger:    logger,
		subject:   subject,
	}
}

// Send delivers htmlBody to the user's address. Every failure wraps notifier.ErrSendFailure.
func (s *Sender) Send(ctx context.Context, userID uuid.UUID, htmlBody string) error {
	sub, err := s.directory.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: resolve recipient %s: %w", notifier.ErrSendFailure, userID, err)
	}
	to := strings.TrimSpace(sub.Email)
	if to == "" {
		return fmt.Errorf("%w: %w", notifier.ErrSendFailure, errors.New("subscriber has no email address"))
	}

	s.logger.Info("Sending digest email",
		"user_id", userID,
		"subject", s.subject,
		"body_length", len(htmlBody))

	start := time.Now()
	msg := &Message{To: to, Subject: s.subject, HTML: htmlBody, UserID: userID}
	if err := s.provider.Send(ctx, msg); err != nil {
		return fmt.Errorf("%w: %w", notifier.ErrSendFailure, err)
	}

	s.logger.Info("Digest email sent", "user_id", userID, "duration_ms", time.Since(start).Milliseconds())
	return nil
}
