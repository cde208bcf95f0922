package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookNotifier delivers rendered messages to per-source webhook URLs
type WebhookNotifier struct {
	client    *http.Client
	userAgent string
}

// NewWebhookNotifier creates a webhook notifier
func NewWebhookNotifier(timeout time.Duration, userAgent string) *WebhookNotifier {
	return &WebhookNotifier{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// payload is the JSON body posted to the webhook
type payload struct {
	Content string `json:"content"`
}

// receipt is the optional JSON response carrying a message reference
type receipt struct {
	ID string `json:"id"`
}

// Send posts a message to the webhook URL. Returns the downstream message
// reference when the destination provides one, empty otherwise.
func (n *WebhookNotifier) Send(ctx context.Context, webhookURL, text string) (msgRef string, err error) {
	body, err := json.Marshal(payload{Content: text})
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", n.userAgent)

	resp, err := n.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("deliver to webhook: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	// message reference is best-effort, destinations are not required to return one
	var rcpt receipt
	if data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024)); err == nil {
		if json.Unmarshal(data, &rcpt) == nil {
			msgRef = rcpt.ID
		}
	}

	return msgRef, nil
}
