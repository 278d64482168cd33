package crosspost

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/sony/gobreaker/v2"
)

// WebhookProvider posts announcements to a chat webhook URL.
type WebhookProvider struct {
	url     string
	client  *http.Client
	logger  *slog.Logger
	breaker *gobreaker.CircuitBreaker[struct{}]
	delay   time.Duration
}

// NewWebhookProvider creates a webhook provider. After five consecutive failed
// sends the breaker opens and further sends fail fast for a minute.
func NewWebhookProvider(url string, client *http.Client, logger *slog.Logger) *WebhookProvider {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	w := &WebhookProvider{
		url:    url,
		client: client,
		logger: logger,
		delay:  time.Second,
	}
	w.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "crosspost-webhook",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return w
}

type webhookRequest struct {
	Content         string          `json:"content"`
	AllowedMentions allowedMentions `json:"allowed_mentions"`
}

// allowedMentions with an empty Parse list keeps the mirror from pinging anyone.
type allowedMentions struct {
	Parse []string `json:"parse"`
}

// Send posts content to the webhook.
func (w *WebhookProvider) Send(ctx context.Context, content string) error {
	data, err := json.Marshal(webhookRequest{Content: content, AllowedMentions: allowedMentions{Parse: []string{}}})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	_, err = w.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, w.post(ctx, data)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("webhook unavailable: %w", err)
	}
	return err
}

func (w *WebhookProvider) post(ctx context.Context, data []byte) error {
	return retry.Do(
		func() error {
			start := time.Now()
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := w.client.Do(req)
			if err != nil {
				w.logger.Warn("Webhook request failed, will retry", "duration_ms", time.Since(start).Milliseconds(), "error", err)
				return err
			}
			defer func() {
				_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
				if closeErr := resp.Body.Close(); closeErr != nil {
					w.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			switch {
			case resp.StatusCode >= 200 && resp.StatusCode < 300:
				w.logger.Info("Webhook request completed", "duration_ms", time.Since(start).Milliseconds(), "status_code", resp.StatusCode)
				return nil
			case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			default:
				return retry.Unrecoverable(fmt.Errorf("HTTP %d", resp.StatusCode))
			}
		},
		retry.Attempts(3),
		retry.Delay(w.delay),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(w.delay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			w.logger.Info("Retrying webhook post after error", "attempt", n, "error", err)
		}),
	)
}
