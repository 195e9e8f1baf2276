package escalation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// WebhookNotifier POSTs escalation reports to an operations endpoint, e.g. a
// pager or ticketing webhook. Used by the escalation worker as its delivery
// leg.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewWebhookNotifier creates a notifier posting to url.
func NewWebhookNotifier(url string, timeout time.Duration, logger *zap.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type webhookPayload struct {
	Summary string `json:"summary"`
	Report  Report `json:"report"`
}

// Notify delivers the report. Non-2xx responses are errors so the caller's
// consumer can redrive the message.
func (n *WebhookNotifier) Notify(ctx context.Context, report Report) error {
	body, err := json.Marshal(webhookPayload{Summary: report.Summary(), Report: report})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver escalation webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("escalation webhook returned %d", resp.StatusCode)
	}
	n.logger.Info("escalation delivered",
		zap.String("order_id", report.OrderID),
		zap.Int("status", resp.StatusCode))
	return nil
}
