package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/accordsai/transferlane/pkg/settlement"
)

// Payload is the JSON body of a delivery.
type Payload struct {
	EventID    string    `json:"event_id"`
	Type       string    `json:"type"`
	Claim      string    `json:"claim"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventID is stable per claim and event type so receivers can drop
// redelivered events.
func EventID(ev settlement.Event) string {
	return string(ev.Type) + ":" + ev.Claim.Hex()
}

func NewPayload(ev settlement.Event) Payload {
	return Payload{
		EventID:    EventID(ev),
		Type:       string(ev.Type),
		Claim:      ev.Claim.Hex(),
		From:       ev.From.Hex(),
		To:         ev.To.Hex(),
		OccurredAt: ev.OccurredAt.UTC(),
	}
}

// Notifier queues settlement events and posts them to URL from Run. It
// implements settlement.Emitter; a full queue drops the event with a log
// line rather than blocking the settlement.
type Notifier struct {
	URL         string
	Secret      string
	Client      *http.Client
	Logger      *slog.Logger
	MaxAttempts int
	Backoff     time.Duration
	Now         func() time.Time

	queue chan settlement.Event
}

func NewNotifier(url, secret string, queueSize int) *Notifier {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Notifier{
		URL:         url,
		Secret:      secret,
		Client:      &http.Client{Timeout: 5 * time.Second},
		Logger:      slog.Default(),
		MaxAttempts: 3,
		Backoff:     500 * time.Millisecond,
		Now:         time.Now,
		queue:       make(chan settlement.Event, queueSize),
	}
}

func (n *Notifier) Emit(ctx context.Context, ev settlement.Event) {
	select {
	case n.queue <- ev:
	default:
		n.Logger.WarnContext(ctx, "webhook queue full, dropping event", "event_id", EventID(ev))
	}
}

// Run delivers queued events until ctx is done.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-n.queue:
			if err := n.Deliver(ctx, ev); err != nil {
				n.Logger.ErrorContext(ctx, "webhook delivery failed", "event_id", EventID(ev), "error", err)
			}
		}
	}
}

// Deliver posts ev, retrying network errors and 5xx answers.
func (n *Notifier) Deliver(ctx context.Context, ev settlement.Event) error {
	body, err := json.Marshal(NewPayload(ev))
	if err != nil {
		return err
	}
	attempts := n.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		retry, err := n.post(ctx, ev, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(n.Backoff * time.Duration(attempt)):
		}
	}
	return lastErr
}

func (n *Notifier) post(ctx context.Context, ev settlement.Event, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	ts := n.Now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(TimestampHeader, strconv.FormatInt(ts, 10))
	req.Header.Set(SignatureHeader, SignBody(n.Secret, ts, body))
	req.Header.Set(EventIDHeader, EventID(ev))
	req.Header.Set(EventTypeHeader, string(ev.Type))

	resp, err := n.Client.Do(req)
	if err != nil {
		return true, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return true, fmt.Errorf("webhook endpoint answered %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("webhook endpoint answered %d", resp.StatusCode)
	}
}
