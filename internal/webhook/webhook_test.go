package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/x402gw/core/internal/store"
)

func newTestStore(t *testing.T) (*store.Store, string) {
	t.Helper()
	secret := "test-secret"
	s := store.New(secret)
	orgID, err := s.PutOrganization(secret, "", store.Organization{Name: "acme", APIKey: "key-1"})
	if err != nil {
		t.Fatalf("PutOrganization: %v", err)
	}
	return s, orgID
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	sig := Sign(`{"a":1}`, "shh")
	if !VerifySignature(`{"a":1}`, "shh", sig) {
		t.Fatalf("expected signature to verify")
	}
	if VerifySignature(`{"a":2}`, "shh", sig) {
		t.Fatalf("mutated body must invalidate the signature")
	}
}

func TestEnqueueAndDeliverSuccess(t *testing.T) {
	s, orgID := newTestStore(t)
	secret := "test-secret"

	var gotSig, gotID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Webhook-Signature")
		gotID = r.Header.Get("X-Webhook-Id")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New(Config{Store: s, StoreSecret: secret})
	w, err := d.RegisterEndpoint(orgID, srv.URL, []store.WebhookEvent{store.EventPaymentCompleted}, "whsec")
	if err != nil {
		t.Fatalf("RegisterEndpoint: %v", err)
	}
	_ = w

	d.Enqueue(orgID, store.EventPaymentCompleted, map[string]string{"tx": "0xabc"})

	d.DeliverDue(context.Background(), time.Now())

	deliveries := s.WebhookDeliveries.Query("byWebhook").ByIndex(w.ID).Take(10)
	if len(deliveries) != 1 {
		t.Fatalf("want 1 delivery, got %d", len(deliveries))
	}
	got := deliveries[0]
	if got.Status != store.DeliveryDelivered {
		t.Fatalf("want delivered, got %s", got.Status)
	}
	if gotSig == "" || gotID == "" {
		t.Fatalf("expected signature and id headers to be sent")
	}
	if !VerifySignature(got.Payload, "whsec", gotSig) {
		t.Fatalf("delivered signature does not verify against the stored payload")
	}
}

func TestRegisterEndpointRejectsNonHTTPS(t *testing.T) {
	s, orgID := newTestStore(t)
	d := New(Config{Store: s, StoreSecret: "test-secret"})
	_, err := d.RegisterEndpoint(orgID, "http://example.com/hook", []store.WebhookEvent{store.EventTestPing}, "s")
	if err == nil {
		t.Fatalf("expected http:// url to be rejected")
	}
}

func TestRegisterEndpointRejectsPrivateHost(t *testing.T) {
	s, orgID := newTestStore(t)
	d := New(Config{Store: s, StoreSecret: "test-secret"})
	_, err := d.RegisterEndpoint(orgID, "https://127.0.0.1/hook", []store.WebhookEvent{store.EventTestPing}, "s")
	if err == nil {
		t.Fatalf("expected loopback host to be rejected")
	}
}

func TestRegisterEndpointRejectsUnknownEvent(t *testing.T) {
	s, orgID := newTestStore(t)
	d := New(Config{Store: s, StoreSecret: "test-secret"})
	_, err := d.RegisterEndpoint(orgID, "https://example.com/hook", []store.WebhookEvent{"payment.received"}, "s")
	if err == nil {
		t.Fatalf("expected unknown event to be rejected")
	}
}

func TestDeliveryRetrySchedule(t *testing.T) {
	s, orgID := newTestStore(t)
	secret := "test-secret"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := New(Config{Store: s, StoreSecret: secret})
	w, err := d.RegisterEndpoint(orgID, srv.URL, []store.WebhookEvent{store.EventPaymentFailed}, "whsec")
	if err != nil {
		t.Fatalf("RegisterEndpoint: %v", err)
	}

	d.Enqueue(orgID, store.EventPaymentFailed, map[string]string{"reason": "insufficient_funds"})

	now := time.Now()
	for attempt := 1; attempt <= MaxAttempts+1; attempt++ {
		d.DeliverDue(context.Background(), now)
		deliveries := s.WebhookDeliveries.Query("byWebhook").ByIndex(w.ID).Take(10)
		if len(deliveries) != 1 {
			t.Fatalf("want 1 delivery, got %d", len(deliveries))
		}
		got := deliveries[0]
		if got.Attempts != attempt {
			t.Fatalf("attempt %d: want Attempts=%d, got %d", attempt, attempt, got.Attempts)
		}
		if attempt <= MaxAttempts {
			wantNext := now.Add(RetryDelays[attempt-1])
			if got.NextAttempt.Before(wantNext.Add(-time.Second)) || got.NextAttempt.After(wantNext.Add(time.Second)) {
				t.Fatalf("attempt %d: NextAttempt %v not close to expected %v", attempt, got.NextAttempt, wantNext)
			}
			now = got.NextAttempt
		} else {
			if got.Status != store.DeliveryFailed {
				t.Fatalf("final attempt should leave status failed (terminal), got %s", got.Status)
			}
		}
	}

	webhooks := s.Webhooks.Query("byOrg").ByIndex(orgID).Take(10)
	if len(webhooks) != 1 {
		t.Fatalf("want 1 webhook, got %d", len(webhooks))
	}
	if webhooks[0].FailureCount != 1 {
		t.Fatalf("want FailureCount=1 after one exhausted delivery, got %d", webhooks[0].FailureCount)
	}
	if webhooks[0].EffectiveStatus() != store.WebhookHealthy {
		t.Fatalf("1 failure should not yet flip effective status to failing")
	}
}
