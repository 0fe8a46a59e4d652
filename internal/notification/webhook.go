package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"
)

// WebhookClient POSTs JSON to consumer endpoints with bounded retries.
// Network errors, 429 and 5xx are retried; other statuses fail at once.
type WebhookClient struct {
	client      *http.Client
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewWebhookClient creates a client that tries each delivery at most
// maxAttempts times.
func NewWebhookClient(timeout time.Duration, maxAttempts int, baseDelay, maxDelay time.Duration) *WebhookClient {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &WebhookClient{
		client:      &http.Client{Timeout: timeout},
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
	}
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook: unexpected status %d", e.Code)
}

func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return true
}

// Post delivers body to url. key is sent as Idempotency-Key so receivers can
// drop redelivered attempts.
func (w *WebhookClient) Post(ctx context.Context, url string, body []byte, key string) error {
	bo := NewBackoff(w.baseDelay, w.maxDelay, 0.2)
	var err error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if err = w.post(ctx, url, body, key); err == nil {
			return nil
		}
		if !retryable(err) || attempt == w.maxAttempts {
			break
		}
		delay := bo.Next()
		log.Printf("[webhook] attempt %d to %s failed: %v (retry in %s)", attempt, url, err, delay.Round(time.Millisecond))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func (w *WebhookClient) post(ctx context.Context, url string, body []byte, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// WebhookNotifier sends alerts to a fixed HTTP webhook endpoint.
type WebhookNotifier struct {
	url    string
	client *WebhookClient
}

// NewWebhookNotifier creates a webhook notifier.
// url: The HTTP endpoint to POST alerts to.
func NewWebhookNotifier(url string, client *WebhookClient) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: client}
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	payload := map[string]interface{}{
		"level":   string(alert.Level),
		"title":   alert.Title,
		"message": alert.Message,
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}
	if err := w.client.Post(ctx, w.url, body, alert.Key); err != nil {
		return err
	}

	log.Printf("[webhook] sent alert to %s: %s", w.url, alert.Title)
	return nil
}
