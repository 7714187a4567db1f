package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Incoming describes a freshly requested session awaiting a claim.
type Incoming struct {
	SessionID     string `json:"session_id"`
	VisitorName   string `json:"visitorName"`
	RequestedRole string `json:"requestedRole"`
	Type          string `json:"type"`
	Title         string `json:"title"`
	Body          string `json:"body"`
}

// Notifier delivers out-of-band pings to agents so that a waiting visitor
// gets noticed even when no dashboard tab is open. Delivery is best effort.
type Notifier interface {
	NotifyIncoming(ctx context.Context, in Incoming) error
}

// Noop discards notifications. Used when no webhook is configured.
type Noop struct{}

func (Noop) NotifyIncoming(context.Context, Incoming) error { return nil }

// Webhook posts the notification payload to a push relay endpoint.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook builds a notifier with a capped per-call timeout so a slow
// relay can never stall a broker side-effect goroutine.
func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (w *Webhook) NotifyIncoming(ctx context.Context, in Incoming) error {
	in.Type = "incoming_call"
	in.Title = "Incoming Live Chat"
	in.Body = fmt.Sprintf("%s wants %s support", in.VisitorName, in.RequestedRole)

	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification relay responded with %d", resp.StatusCode)
	}
	return nil
}
