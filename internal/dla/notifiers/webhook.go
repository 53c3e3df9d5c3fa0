package notifiers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/daniacca/snowdla/internal/dla"
)

// Headers set on every attach delivery, so receivers can route without
// decoding the body.
const (
	HeaderFlake      = "X-Snowdla-Flake"
	HeaderIndex      = "X-Snowdla-Index"
	HeaderParent     = "X-Snowdla-Parent"
	HeaderGeneration = "X-Snowdla-Generation"
)

// WebhookNotifier posts attach events to an HTTP endpoint. It can be
// restricted to a set of flakes; with no set it receives every flake.
type WebhookNotifier struct {
	id      string
	url     string
	client  *http.Client
	headers map[string]string
	flakes  map[dla.FlakeID]struct{}
}

// WebhookOption configures a WebhookNotifier.
type WebhookOption func(*WebhookNotifier)

// WithHeader adds a static header to every delivery.
func WithHeader(key, value string) WebhookOption {
	return func(wn *WebhookNotifier) { wn.headers[key] = value }
}

// WithFlakes subscribes the webhook to the given flakes only.
func WithFlakes(ids ...dla.FlakeID) WebhookOption {
	return func(wn *WebhookNotifier) {
		for _, id := range ids {
			wn.flakes[id] = struct{}{}
		}
	}
}

// WithTimeout bounds a single delivery.
func WithTimeout(d time.Duration) WebhookOption {
	return func(wn *WebhookNotifier) { wn.client.Timeout = d }
}

func NewWebhookNotifier(id, url string, opts ...WebhookOption) *WebhookNotifier {
	wn := &WebhookNotifier{
		id:      id,
		url:     url,
		client:  &http.Client{Timeout: 5 * time.Second},
		headers: make(map[string]string),
		flakes:  make(map[dla.FlakeID]struct{}),
	}
	for _, opt := range opts {
		opt(wn)
	}
	return wn
}

func (wn *WebhookNotifier) ID() string {
	return wn.id
}

func (wn *WebhookNotifier) Type() string {
	return "webhook"
}

// URL returns the target URL.
func (wn *WebhookNotifier) URL() string {
	return wn.url
}

// Flakes returns the subscribed flake IDs in sorted order, or nil when
// the webhook receives every flake.
func (wn *WebhookNotifier) Flakes() []dla.FlakeID {
	if len(wn.flakes) == 0 {
		return nil
	}
	ids := make([]dla.FlakeID, 0, len(wn.flakes))
	for id := range wn.flakes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Accepts reports whether events of flake id are delivered.
func (wn *WebhookNotifier) Accepts(id dla.FlakeID) bool {
	if len(wn.flakes) == 0 {
		return true
	}
	_, ok := wn.flakes[id]
	return ok
}

// Notify posts the event as JSON. Events of unsubscribed flakes are
// dropped without error. Non-2xx responses are errors.
func (wn *WebhookNotifier) Notify(ctx context.Context, event dla.AttachEvent) error {
	if !wn.Accepts(event.FlakeID) {
		return nil
	}

	body, err := event.JSON()
	if err != nil {
		return fmt.Errorf("encode attach %d of %s: %w", event.Index, event.FlakeID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wn.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook %s: %w", wn.id, err)
	}
	for key, value := range wn.headers {
		req.Header.Set(key, value)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderFlake, string(event.FlakeID))
	req.Header.Set(HeaderIndex, strconv.Itoa(event.Index))
	req.Header.Set(HeaderParent, strconv.Itoa(event.Parent))
	req.Header.Set(HeaderGeneration, strconv.Itoa(event.Generation))

	resp, err := wn.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver attach %d of %s: %w", event.Index, event.FlakeID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s rejected attach %d of %s: status %d",
			wn.id, event.Index, event.FlakeID, resp.StatusCode)
	}
	return nil
}

// Close is a no-op; deliveries hold no connection between events.
func (wn *WebhookNotifier) Close() error {
	return nil
}
