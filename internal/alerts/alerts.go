// Package alerts delivers user-visible notifications raised by the request
// pipeline: validation errors, connectivity failures, session expiry.
package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Log writes alerts to structured logs. Used by the headless agent, where
// there is no toast surface to speak of.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) Notify(ctx context.Context, text string) {
	l.logger.WarnContext(ctx, "user alert", "message", text)
}

// Webhook posts alerts to a configured endpoint so a desktop shell or ops
// hook can surface them. An empty URL makes every call a no-op.
type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (w *Webhook) Notify(ctx context.Context, text string) {
	if w.url == "" || text == "" {
		return
	}
	body := map[string]string{
		"message": text,
		"at":      time.Now().UTC().Format(time.RFC3339),
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(raw))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return
	}
	_ = resp.Body.Close()
}
