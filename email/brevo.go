package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

const brevoEndpoint = "https://api.brevo.com/v3/smtp/email"

// brevoTag groups digest sends in Brevo's transactional statistics.
const brevoTag = "mscr-digest"

// BrevoProvider sends digests through Brevo's transactional email API.
type BrevoProvider struct {
	client   *http.Client
	logger   *slog.Logger
	apiKey   string
	fromAddr string
	fromName string
	endpoint string
	attempts uint
}

// NewBrevoProvider creates a Brevo provider.
func NewBrevoProvider(apiKey, fromAddr, fromName string, logger *slog.Logger) *BrevoProvider {
	return &BrevoProvider{
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
		apiKey:   apiKey,
		fromAddr: fromAddr,
		fromName: fromName,
		endpoint: brevoEndpoint,
		attempts: sendAttempts,
	}
}

// WithEndpoint points the provider at a different API URL.
func (b *BrevoProvider) WithEndpoint(endpoint string, client *http.Client) *BrevoProvider {
	b.endpoint = endpoint
	if client != nil {
		b.client = client
	}
	return b
}

type brevoSendRequest struct {
	Sender  brevoContact      `json:"sender"`
	To      []brevoContact    `json:"to"`
	Subject string            `json:"subject"`
	HTML    string            `json:"htmlContent"`
	Headers map[string]string `json:"headers,omitempty"`
	Tags    []string          `json:"tags,omitempty"`
}

type brevoContact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Send delivers a digest. Client errors (4xx) are not retried.
func (b *BrevoProvider) Send(ctx context.Context, msg *Message) error {
	payload, err := json.Marshal(brevoSendRequest{
		Sender:  brevoContact{Email: b.fromAddr, Name: b.fromName},
		To:      []brevoContact{{Email: msg.To}},
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Headers: map[string]string{
			"Auto-Submitted": "auto-generated",
			"X-MSCR-User":    msg.UserID.String(),
		},
		Tags: []string{brevoTag},
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	return deliver(ctx, b.logger, "brevo", b.attempts, msg, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(payload))
		if err != nil {
			return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("api-key", b.apiKey)

		resp, err := b.client.Do(req)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := resp.Body.Close(); closeErr != nil {
				b.logger.Warn("Failed to close response body", "error", closeErr)
			}
		}()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return retry.Unrecoverable(fmt.Errorf("brevo rejected digest: HTTP %d", resp.StatusCode))
		default:
			return fmt.Errorf("brevo: HTTP %d", resp.StatusCode)
		}
	})
}
