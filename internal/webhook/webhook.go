// Package webhook implements the at-least-once, signed, retrying webhook
// dispatcher (C7): sellers register an endpoint, events are materialized
// as persistent WebhookDelivery rows, and a background worker drains
// pending/retryable deliveries so a process restart never loses an event.
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
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/x402gw/core/internal/store"
)

// RetryDelays is the fixed per-attempt backoff schedule from §4.7: after
// attempt N (1-indexed) fails, the next try is scheduled RetryDelays[N-1]
// later. All five delays are scheduled before a delivery goes terminal; the
// 6th failure (with no RetryDelays[5] to schedule) is terminal.
var RetryDelays = []time.Duration{
	time.Minute,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
	24 * time.Hour,
}

// MaxAttempts is the number of scheduled retry attempts. A delivery is
// marked terminally failed on its (MaxAttempts+1)th attempt, once every
// delay in RetryDelays has been used.
var MaxAttempts = len(RetryDelays)

// FailingThreshold is the parent webhook FailureCount at which its
// effective status becomes "failing" (still enabled, flagged in UIs).
const FailingThreshold = 3

// ErrInvalidURL is returned by RegisterEndpoint when url fails the
// HTTPS/non-private-hostname check.
var ErrInvalidURL = fmt.Errorf("webhook: url must be https and not resolve to a private or loopback address")

// ErrUnknownEvent is returned when events contains a value outside the
// closed §4.7 event set.
var ErrUnknownEvent = fmt.Errorf("webhook: unknown event type")

// Dispatcher owns delivery of webhook events: signing, enqueueing and the
// background retry worker.
type Dispatcher struct {
	store       *store.Store
	storeSecret string
	client      *http.Client
}

// Config groups a Dispatcher's dependencies.
type Config struct {
	Store       *store.Store
	StoreSecret string
	// HTTPClient, if nil, defaults to a 30s-timeout client per §5's webhook
	// delivery timeout.
	HTTPClient *http.Client
}

// New builds a Dispatcher.
func New(cfg Config) *Dispatcher {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Dispatcher{store: cfg.Store, storeSecret: cfg.StoreSecret, client: client}
}

// ValidateEndpointURL rejects any non-HTTPS URL and any hostname resolving
// to a loopback or private range, per §4.7's registration contract.
func ValidateEndpointURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "https" {
		return ErrInvalidURL
	}
	host := u.Hostname()
	ips, err := net.LookupIP(host)
	if err != nil {
		if ip := net.ParseIP(host); ip != nil {
			ips = []net.IP{ip}
		} else {
			return fmt.Errorf("%w: cannot resolve host: %v", ErrInvalidURL, err)
		}
	}
	for _, ip := range ips {
		if isPrivateOrLoopback(ip) {
			return ErrInvalidURL
		}
	}
	return nil
}

func isPrivateOrLoopback(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
		return true
	}
	for _, cidr := range []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "169.254.0.0/16", "fc00::/7"} {
		_, block, err := net.ParseCIDR(cidr)
		if err == nil && block.Contains(ip) {
			return true
		}
	}
	return false
}

// RegisterEndpoint validates and persists a seller's webhook registration.
func (d *Dispatcher) RegisterEndpoint(orgID, rawURL string, events []store.WebhookEvent, secret string) (store.Webhook, error) {
	if err := ValidateEndpointURL(rawURL); err != nil {
		return store.Webhook{}, err
	}
	for _, ev := range events {
		if !store.ValidWebhookEvents[ev] {
			return store.Webhook{}, fmt.Errorf("%w: %q", ErrUnknownEvent, ev)
		}
	}
	w := store.Webhook{
		OrgID:   orgID,
		URL:     rawURL,
		Events:  events,
		Secret:  secret,
		Enabled: true,
	}
	id, err := d.store.PutWebhook(d.storeSecret, "", w)
	if err != nil {
		return store.Webhook{}, fmt.Errorf("webhook: registering endpoint: %w", err)
	}
	w.ID = id
	return w, nil
}

// RotateSecret atomically replaces a webhook's signing secret. In-flight
// deliveries that are already enqueued use the new secret at send time —
// §4.7 requires no mixed-secret window.
func (d *Dispatcher) RotateSecret(id, newSecret string) error {
	w, ok := d.store.Webhooks.Get(id)
	if !ok {
		return store.ErrNotFound
	}
	w.Secret = newSecret
	_, err := d.store.PutWebhook(d.storeSecret, id, w)
	return err
}

// eventBody is the JSON envelope every delivery sends, per §6.
type eventBody struct {
	ID        string          `json:"id"`
	Type      store.WebhookEvent `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Enqueue materializes a WebhookDelivery for every enabled webhook
// subscribed to event, owned by orgID. Ancillary: failures here must never
// fail the caller's primary request, so Enqueue only logs on error.
func (d *Dispatcher) Enqueue(orgID string, event store.WebhookEvent, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		slog.Warn("webhook: marshalling event payload failed", "event", event, "err", err)
		return
	}

	hooks := d.store.Webhooks.Query("byOrg").ByIndex(orgID).Take(1000)
	for _, w := range hooks {
		if !w.Enabled {
			continue
		}
		if !subscribesTo(w, event) {
			continue
		}
		body, err := renderBody(event, payload)
		if err != nil {
			slog.Warn("webhook: rendering delivery body failed", "webhook_id", w.ID, "err", err)
			continue
		}
		delivery := store.WebhookDelivery{
			WebhookID:   w.ID,
			Event:       event,
			Payload:     body,
			Status:      store.DeliveryPending,
			NextAttempt: time.Now(),
		}
		if _, err := d.store.PutWebhookDelivery(d.storeSecret, "", delivery); err != nil {
			slog.Warn("webhook: persisting delivery failed", "webhook_id", w.ID, "err", err)
		}
	}
}

func subscribesTo(w store.Webhook, event store.WebhookEvent) bool {
	for _, e := range w.Events {
		if e == event {
			return true
		}
	}
	return false
}

func renderBody(event store.WebhookEvent, data json.RawMessage) (string, error) {
	body := eventBody{
		ID:        uuid.NewString(),
		Type:      event,
		Timestamp: time.Now(),
		Data:      data,
	}
	b, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Sign computes the hex HMAC-SHA256 of body under secret, per §6.
func Sign(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches HMAC-SHA256(body,
// secret), compared in constant time — for a receiver implementation to
// reuse, and exercised by this package's own round-trip tests.
func VerifySignature(body, secret, signature string) bool {
	expected := Sign(body, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// deliverOnce performs a single POST attempt and returns the HTTP status
// code (0 on transport failure) and elapsed duration.
func (d *Dispatcher) deliverOnce(ctx context.Context, w store.Webhook, delivery store.WebhookDelivery) (int, time.Duration, error) {
	sig := Sign(delivery.Payload, w.Secret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader([]byte(delivery.Payload)))
	if err != nil {
		return 0, 0, fmt.Errorf("webhook: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", sig)
	req.Header.Set("X-Webhook-Id", delivery.ID)
	req.Header.Set("X-Webhook-Timestamp", time.Now().UTC().Format(time.RFC3339))

	start := time.Now()
	resp, err := d.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return 0, elapsed, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, elapsed, nil
}

// DeliverDue drains every WebhookDelivery that is pending, or failed-but-
// retryable with NextAttempt in the past, attempting exactly one delivery
// each. Call this repeatedly from a background ticker; cmd/platform does so
// through RunWorker.
func (d *Dispatcher) DeliverDue(ctx context.Context, now time.Time) {
	for _, delivery := range d.store.WebhookDeliveries.Query("byStatus").ByIndex(string(store.DeliveryPending)).Take(500) {
		d.attempt(ctx, delivery, now)
	}
	for _, delivery := range d.store.WebhookDeliveries.Query("byStatus").ByIndex(string(store.DeliveryFailed)).Take(500) {
		if delivery.Attempts > MaxAttempts {
			continue // terminal
		}
		if delivery.NextAttempt.After(now) {
			continue
		}
		d.attempt(ctx, delivery, now)
	}
}

func (d *Dispatcher) attempt(ctx context.Context, delivery store.WebhookDelivery, now time.Time) {
	w, ok := d.store.Webhooks.Get(delivery.WebhookID)
	if !ok {
		slog.Warn("webhook: delivery references unknown webhook, dropping", "delivery_id", delivery.ID)
		return
	}

	status, duration, err := d.deliverOnce(ctx, w, delivery)
	delivery.Attempts++
	delivery.StatusCode = status
	delivery.DurationMs = duration.Milliseconds()

	if err == nil && status >= 200 && status < 300 {
		delivery.Status = store.DeliveryDelivered
		delivery.DeliveredAt = now
		if _, perr := d.store.PutWebhookDelivery(d.storeSecret, delivery.ID, delivery); perr != nil {
			slog.Error("webhook: persisting delivered status failed", "delivery_id", delivery.ID, "err", perr)
		}
		return
	}

	if err != nil {
		slog.Warn("webhook: delivery attempt failed", "delivery_id", delivery.ID, "attempt", delivery.Attempts, "err", err)
	} else {
		slog.Warn("webhook: delivery attempt got non-2xx", "delivery_id", delivery.ID, "attempt", delivery.Attempts, "status", status)
	}

	if delivery.Attempts > MaxAttempts {
		delivery.Status = store.DeliveryFailed
		if _, perr := d.store.PutWebhookDelivery(d.storeSecret, delivery.ID, delivery); perr != nil {
			slog.Error("webhook: persisting terminal failure failed", "delivery_id", delivery.ID, "err", perr)
		}
		d.bumpFailureCount(w)
		return
	}

	delivery.Status = store.DeliveryFailed
	delivery.NextAttempt = now.Add(RetryDelays[delivery.Attempts-1])
	if _, perr := d.store.PutWebhookDelivery(d.storeSecret, delivery.ID, delivery); perr != nil {
		slog.Error("webhook: scheduling retry failed", "delivery_id", delivery.ID, "err", perr)
	}
}

// bumpFailureCount increments the parent webhook's FailureCount once a
// delivery exhausts its retries; EffectiveStatus() derives "failing" from
// this at FailingThreshold.
func (d *Dispatcher) bumpFailureCount(w store.Webhook) {
	w.FailureCount++
	if _, err := d.store.PutWebhook(d.storeSecret, w.ID, w); err != nil {
		slog.Error("webhook: bumping failure count failed", "webhook_id", w.ID, "err", err)
	}
}

// RunWorker polls DeliverDue on interval until ctx is done.
func RunWorker(ctx context.Context, d *Dispatcher, interval time.Duration) {
	if interval == 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			d.DeliverDue(ctx, t)
		}
	}
}
