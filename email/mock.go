package email

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// MockProvider is a mock email provider for local development.
// When outbox is set, each message body is written there as an HTML file.
type MockProvider struct {
	logger *slog.Logger
	outbox string
}

// NewMockProvider creates a new mock email provider.
func NewMockProvider(logger *slog.Logger, outbox string) *MockProvider {
	return &MockProvider{
		logger: logger,
		outbox: outbox,
	}
}

// Send logs the digest instead of sending it.
func (m *MockProvider) Send(ctx context.Context, msg *Message) error {
	m.logger.Info("MOCK EMAIL",
		"to", msg.To,
		"user_id", msg.UserID,
		"subject", msg.Subject,
		"body_length", len(msg.HTML))

	if m.outbox == "" {
		return nil
	}

	name := fmt.Sprintf("%s-%s.html", time.Now().UTC().Format("20060102T150405.000000000"), outboxName(msg.To))
	path := filepath.Join(m.outbox, name)
	if err := os.WriteFile(path, []byte(msg.HTML), 0o600); err != nil {
		return fmt.Errorf("write outbox: %w", err)
	}
	m.logger.Info("Mock email written to outbox", "path", path, "user_id", msg.UserID)
	return nil
}

// outboxName reduces an address to characters safe in a file name.
func outboxName(addr string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(addr) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
