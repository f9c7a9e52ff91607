// Package notify delivers pipeline event notifications. Delivery is best
// effort; callers swallow failures.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Notifier delivers one notification to a set of recipients.
type Notifier interface {
	Notify(ctx context.Context, recipients []string, subject, body string) error
}

// LogNotifier writes notifications to the log. Default when no webhook is
// configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, recipients []string, subject, body string) error {
	zap.L().Info("notify: event",
		zap.Strings("recipients", recipients),
		zap.String("subject", subject),
		zap.String("body", body))
	return nil
}

// WebhookNotifier POSTs a JSON payload to a configured endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhook(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type webhookPayload struct {
	Recipients []string  `json:"recipients"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	SentAt     time.Time `json:"sent_at"`
}

func (n *WebhookNotifier) Notify(ctx context.Context, recipients []string, subject, body string) error {
	payload, err := json.Marshal(webhookPayload{
		Recipients: recipients,
		Subject:    subject,
		Body:       body,
		SentAt:     time.Now().UTC(),
	})
	if err != nil {
		return eris.Wrap(err, "notify: marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: deliver webhook")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return eris.Errorf("notify: webhook returned %d", resp.StatusCode)
	}
	return nil
}

// FromConfig picks the webhook notifier when a URL is configured and
// notifications are enabled, the log notifier otherwise.
func FromConfig(enabled bool, webhookURL string) Notifier {
	if enabled && webhookURL != "" {
		return NewWebhook(webhookURL)
	}
	return LogNotifier{}
}
