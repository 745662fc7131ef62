package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/i474232898/weather-trigger-oracle/internal/monitor"
)

// WebhookSink POSTs each alert as JSON, retrying transient failures.
type WebhookSink struct {
	url    string
	client *http.Client
}

// WebhookOption configures a WebhookSink.
type WebhookOption func(*retryablehttp.Client)

// WithRetryMax sets the number of retries after the first attempt.
func WithRetryMax(n int) WebhookOption {
	return func(c *retryablehttp.Client) { c.RetryMax = n }
}

// WithRetryWait bounds the wait between retries.
func WithRetryWait(min, max time.Duration) WebhookOption {
	return func(c *retryablehttp.Client) {
		c.RetryWaitMin = min
		c.RetryWaitMax = max
	}
}

// NewWebhookSink validates target and builds the sink.
func NewWebhookSink(target string, timeout time.Duration, opts ...WebhookOption) (*WebhookSink, error) {
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid webhook url %q", target)
	}

	rC := retryablehttp.NewClient()
	rC.Logger = nil
	rC.RetryMax = 3
	for _, opt := range opts {
		opt(rC)
	}
	client := rC.StandardClient()
	if timeout > 0 {
		client.Timeout = timeout
	}

	return &WebhookSink{url: target, client: client}, nil
}

// Name implements Sink.
func (w *WebhookSink) Name() string { return "webhook" }

// Send implements Sink.
func (w *WebhookSink) Send(ctx context.Context, alert monitor.Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", w.url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s: unexpected status %d", w.url, resp.StatusCode)
	}
	return nil
}
