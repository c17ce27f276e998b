package email

import (
	"context"
	"encoding/base64"
	"log/slog"
	"mime"
	"strings"

	"google.golang.org/api/gmail/v1"
)

// GmailProvider sends digests through the Gmail API as the authenticated account.
type GmailProvider struct {
	service  *gmail.Service
	logger   *slog.Logger
	fromAddr string
}

// NewGmailProvider creates a Gmail provider. fromAddr may be empty, in which
// case Gmail uses the authenticated account.
func NewGmailProvider(service *gmail.Service, fromAddr string, logger *slog.Logger) *GmailProvider {
	return &GmailProvider{
		service:  service,
		logger:   logger,
		fromAddr: fromAddr,
	}
}

// headerValue strips control characters so a value cannot start a new header line.
func headerValue(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)
}

// mimeMessage builds an RFC 5322 HTML message for a digest. Digests are
// machine generated, so the message carries Auto-Submitted to keep
// out-of-office replies away.
func mimeMessage(from string, msg *Message) string {
	headers := [][2]string{{"MIME-Version", "1.0"}}
	if from != "" {
		headers = append(headers, [2]string{"From", headerValue(from)})
	}
	headers = append(headers,
		[2]string{"To", headerValue(msg.To)},
		[2]string{"Subject", mime.QEncoding.Encode("utf-8", headerValue(msg.Subject))},
		[2]string{"Auto-Submitted", "auto-generated"},
		[2]string{"Content-Type", "text/html; charset=utf-8"},
	)

	var b strings.Builder
	for _, h := range headers {
		b.WriteString(h[0])
		b.WriteString(": ")
		b.WriteString(h[1])
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(msg.HTML)
	return b.String()
}

// Send delivers a digest via users.messages.send.
func (g *GmailProvider) Send(ctx context.Context, msg *Message) error {
	raw := base64.URLEncoding.EncodeToString([]byte(mimeMessage(g.fromAddr, msg)))

	return deliver(ctx, g.logger, "gmail", sendAttempts, msg, func() error {
		_, err := g.service.Users.Messages.Send("me", &gmail.Message{Raw: raw}).Context(ctx).Do()
		return err
	})
}
