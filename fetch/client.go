// Package fetch implements the per-source adapters that retrieve the latest post.
package fetch

import (
	"comicwatch/pkg/notifier"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

const maxBodyBytes = 8 << 20

// Adapter fetches the most recent post of one source.
type Adapter interface {
	Fetch(ctx context.Context) (*notifier.Post, error)
}

// Client performs HTTP requests for adapters.
type Client struct {
	client   *http.Client
	logger   *slog.Logger
	attempts uint
}

// NewClient creates a new fetch client. attempts bounds transport retries per fetch.
func NewClient(client *http.Client, attempts uint, logger *slog.Logger) *Client {
	if attempts == 0 {
		attempts = 1
	}
	return &Client{
		client:   client,
		logger:   logger,
		attempts: attempts,
	}
}

type request struct {
	header http.Header
	method string
	url    string
	body   string
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	return c.do(ctx, &request{method: http.MethodGet, url: url})
}

func (c *Client) do(ctx context.Context, r *request) ([]byte, error) {
	var data []byte

	err := retry.Do(
		func() error {
			var body io.Reader = http.NoBody
			if r.body != "" {
				body = strings.NewReader(r.body)
			}
			req, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}

			req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; comicwatch/1.0; +https://github.com/comicwatch)")
			req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,application/json;q=0.9,*/*;q=0.8")
			req.Header.Set("Accept-Language", "en-US,en;q=0.9")
			for k, vs := range r.header {
				for _, v := range vs {
					req.Header.Set(k, v)
				}
			}

			startTime := time.Now()
			resp, err := c.client.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				c.logger.Warn("HTTP request failed",
					"url", r.url,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			c.logger.Debug("HTTP request completed",
				"method", r.method,
				"url", r.url,
				"status_code", resp.StatusCode,
				"duration_ms", duration.Milliseconds())

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				statusErr := &HTTPStatusError{URL: r.url, StatusCode: resp.StatusCode}
				if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
					return statusErr
				}
				return retry.Unrecoverable(statusErr)
			}

			data, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
			if err != nil {
				return fmt.Errorf("read body: %w", err)
			}
			return nil
		},
		retry.Attempts(c.attempts),
		retry.Delay(time.Second),
		retry.MaxDelay(10*time.Second),
		retry.MaxJitter(time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying fetch after error", "attempt", n, "url", r.url, "error", err)
		}),
	)
	if err != nil {
		var fe *Error
		if errors.As(err, &fe) {
			return nil, fe
		}
		return nil, networkError(r.url, err)
	}

	return data, nil
}
