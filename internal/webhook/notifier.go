package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const (
	EventJobFinished = "job.finished"

	defaultBuffer = 256
)

type delivery struct {
	id      string
	event   string
	payload []byte
}

// Notifier posts events to a single endpoint from a background loop. Events
// are dropped, not blocked on, when the buffer is full.
type Notifier struct {
	url        string
	secret     string
	httpClient *http.Client
	deliveries chan delivery
}

func NewNotifier(url, secret string) *Notifier {
	return &Notifier{
		url:    url,
		secret: secret,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		deliveries: make(chan delivery, defaultBuffer),
	}
}

// Notify queues v for delivery under event. id is sent as X-Webhook-ID so the
// receiver can deduplicate retried jobs.
func (n *Notifier) Notify(event, id string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	select {
	case n.deliveries <- delivery{id: id, event: event, payload: payload}:
	default:
		slog.Warn("webhook delivery queue full, dropping", "event", event, "id", id)
	}
	return nil
}

// Run delivers queued events until ctx is done.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-n.deliveries:
			if err := n.deliver(ctx, d); err != nil {
				slog.Error("webhook delivery failed", "error", err, "event", d.event, "id", d.id)
			}
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, d delivery) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(d.payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", d.event)
	req.Header.Set("X-Webhook-ID", d.id)
	if n.secret != "" {
		req.Header.Set("X-Webhook-Signature", Sign(d.payload, n.secret))
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
