// Package provider fetches changed resources from the upstream catalog.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mscr-notifier/pkg/notifier"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

const defaultPageSize = 100

// Request describes one "changed since" query.
type Request struct {
	After             time.Time
	Application       notifier.Application
	URIs              []string
	FetchRangeChanges bool
	LatestOnly        bool
}

// Meta is the paging envelope returned by the catalog.
type Meta struct {
	TotalResults int `json:"totalResults"`
	ResultCount  int `json:"resultCount"`
	From         int `json:"from"`
}

// Response is the provider result for a request.
type Response struct {
	Results []*notifier.ChangeRecord `json:"results"`
	Meta    Meta                     `json:"meta"`
}

// wireRequest is the JSON body posted to the catalog.
type wireRequest struct {
	After                 string   `json:"after,omitempty"`
	URI                   []string `json:"uri"`
	FetchDateRangeChanges bool     `json:"fetchDateRangeChanges"`
	GetLatest             bool     `json:"getLatest"`
	PageSize              int      `json:"pageSize"`
	PageFrom              int      `json:"pageFrom"`
}

// Client talks to the catalog's integration API.
type Client struct {
	client   *http.Client
	logger   *slog.Logger
	baseURL  string
	pageSize int
	attempts uint
}

// New creates a new provider client. baseURL is the catalog root, e.g. https://mscr.example.org.
func New(client *http.Client, baseURL string, logger *slog.Logger) *Client {
	return &Client{
		client:   client,
		logger:   logger,
		baseURL:  strings.TrimRight(baseURL, "/"),
		pageSize: defaultPageSize,
		attempts: 3,
	}
}

// WithPageSize sets the number of results requested per page.
func (c *Client) WithPageSize(n int) *Client {
	if n > 0 {
		c.pageSize = n
	}
	return c
}

// WithAttempts sets the retry budget for each page request.
func (c *Client) WithAttempts(n uint) *Client {
	if n > 0 {
		c.attempts = n
	}
	return c
}

// Endpoint returns the integration URL for an application.
func (c *Client) Endpoint(app notifier.Application) string {
	return fmt.Sprintf("%s/%s-api/api/v2/updates/resources", c.baseURL, app)
}

// Changes returns the resources changed since req.After.
// An empty URI set returns an empty response without contacting the catalog.
func (c *Client) Changes(ctx context.Context, req Request) (*Response, error) {
	if len(req.URIs) == 0 {
		return &Response{}, nil
	}

	uris := slices.Clone(req.URIs)
	slices.Sort(uris)

	body := wireRequest{
		URI:                   uris,
		FetchDateRangeChanges: req.FetchRangeChanges,
		GetLatest:             req.LatestOnly,
		PageSize:              c.pageSize,
	}
	if !req.After.IsZero() {
		body.After = req.After.Format(time.RFC3339)
	}

	endpoint := c.Endpoint(req.Application)
	out := &Response{}
	var lastFirst string
	for {
		page, err := c.fetchPage(ctx, endpoint, body)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", notifier.ErrUpstreamUnavailable, req.Application, err)
		}
		if len(page.Results) == 0 {
			break
		}
		// A catalog that ignores pageFrom serves the same page again.
		first := pageKey(page.Results)
		if body.PageFrom > 0 && first != "" && first == lastFirst {
			c.logger.Warn("Provider repeated a page, stopping pagination",
				"application", req.Application,
				"page_from", body.PageFrom)
			break
		}
		lastFirst = first

		out.Results = append(out.Results, page.Results...)
		out.Meta.TotalResults = page.Meta.TotalResults

		body.PageFrom += len(page.Results)
		if len(page.Results) < c.pageSize {
			break
		}
		if page.Meta.TotalResults > 0 && body.PageFrom >= page.Meta.TotalResults {
			break
		}
	}

	out.Meta.ResultCount = len(out.Results)
	out.Meta.From = 0
	return out, nil
}

// pageKey identifies a page by the URI of its first record.
func pageKey(results []*notifier.ChangeRecord) string {
	if len(results) == 0 || results[0] == nil {
		return ""
	}
	return results[0].URI
}

func (c *Client) fetchPage(ctx context.Context, endpoint string, body wireRequest) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var page *Response
	err = retry.Do(
		func() error {
			c.logger.Info("Provider request starting",
				"method", "POST",
				"url", endpoint,
				"uri_count", len(body.URI),
				"page_from", body.PageFrom,
				"latest_only", body.GetLatest)

			req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Accept", "application/json")

			startTime := time.Now()
			resp, err := c.client.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				c.logger.Warn("Provider request failed, will retry",
					"url", endpoint,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			c.logger.Info("Provider request completed",
				"url", endpoint,
				"status_code", resp.StatusCode,
				"duration_ms", duration.Milliseconds())

			switch {
			case resp.StatusCode == http.StatusNoContent:
				page = &Response{}
				return nil
			case resp.StatusCode >= 400 && resp.StatusCode < 500:
				return retry.Unrecoverable(fmt.Errorf("HTTP %d", resp.StatusCode))
			case resp.StatusCode != http.StatusOK:
				c.logger.Warn("Provider returned non-OK status, will retry", "status_code", resp.StatusCode)
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			var decoded Response
			if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
				c.logger.Error("Failed to decode provider response", "error", err)
				return retry.Unrecoverable(fmt.Errorf("decode response: %w", err))
			}
			page = &decoded
			return nil
		},
		retry.Attempts(c.attempts),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(2*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying provider request after error", "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return nil, errors.New("empty provider response")
	}
	return page, nil
}
