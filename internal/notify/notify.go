// Package notify delivers (title, body) push notifications to the bot's user.
// The sink is injected everywhere it is needed; when notifications are
// disabled a Nop sink takes its place.
package notify

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Notifier is the notification sink consumed by the bot.
// Implementations must not block indefinitely: they are called from the
// scheduling loop and the fulfillment tracker.
type Notifier interface {
	Notify(title, body string)
}

// Nop is a Notifier that discards everything.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(string, string) {}

// Log is a Notifier that writes notifications to the application log.
type Log struct {
	logger *zap.Logger
}

// NewLog creates a log-backed notifier.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

// Notify implements Notifier.
func (l *Log) Notify(title, body string) {
	l.logger.Info("notification",
		zap.String("title", title),
		zap.String("body", body))
}

// Webhook is a Notifier that POSTs notifications as JSON to an HTTP endpoint.
// Delivery is best effort: failures are logged, never propagated, and the
// request is bounded by the client timeout.
type Webhook struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewWebhook creates a webhook notifier targeting the given URL.
func NewWebhook(url string, logger *zap.Logger) *Webhook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

type webhookPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Notify implements Notifier.
func (w *Webhook) Notify(title, body string) {
	payload, err := json.Marshal(webhookPayload{Title: title, Body: body})
	if err != nil {
		w.logger.Warn("marshal notification", zap.Error(err))
		return
	}

	resp, err := w.client.Post(w.url, "application/json", bytes.NewReader(payload))
	if err != nil {
		w.logger.Warn("deliver notification",
			zap.String("title", title),
			zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		w.logger.Warn("notification endpoint rejected request",
			zap.String("title", title),
			zap.Int("status", resp.StatusCode))
	}
}
