package store

import (
	"testing"
	"time"
)

const testSecret = "test-secret-value"

func TestCheckSecret(t *testing.T) {
	s := New(testSecret)
	if err := s.CheckSecret(testSecret); err != nil {
		t.Fatalf("expected valid secret to pass: %v", err)
	}
	if err := s.CheckSecret("wrong"); err == nil {
		t.Fatal("expected mismatched secret to fail")
	}
	if err := s.CheckSecret(""); err == nil {
		t.Fatal("expected empty secret to fail")
	}
}

func TestPutOrganization_UniqueAPIKey(t *testing.T) {
	s := New(testSecret)
	if _, err := s.PutOrganization(testSecret, "", Organization{Name: "A", APIKey: "key1", Plan: PlanFree}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.PutOrganization(testSecret, "", Organization{Name: "B", APIKey: "key1", Plan: PlanFree}); err == nil {
		t.Fatal("expected unique apiKey conflict")
	}
}

func TestPutOrganization_WrongSecret(t *testing.T) {
	s := New(testSecret)
	if _, err := s.PutOrganization("wrong-secret", "", Organization{Name: "A", APIKey: "key1"}); err != ErrUnauthorized {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}
}

func TestPutAgent_ForeignKeyCheck(t *testing.T) {
	s := New(testSecret)
	if _, err := s.PutAgent(testSecret, "", Agent{OrgID: "missing-org", Wallet: "0x1234567890123456789012345678901234567890"}); err == nil {
		t.Fatal("expected FK violation for unknown org")
	}

	orgID, _ := s.PutOrganization(testSecret, "", Organization{Name: "A", APIKey: "key1"})
	if _, err := s.PutAgent(testSecret, "", Agent{OrgID: orgID, Wallet: "0x1234567890123456789012345678901234567890"}); err != nil {
		t.Fatalf("unexpected FK error: %v", err)
	}
}

func TestRecordTransaction_MonotonicStatus(t *testing.T) {
	s := New(testSecret)
	now := time.Now()
	id, err := s.RecordTransaction(testSecret, "", Transaction{Status: TxPending, RequestedAt: now}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.RecordTransaction(testSecret, id, Transaction{Status: TxSettled, RequestedAt: now}, nil); err != nil {
		t.Fatalf("pending->settled should be allowed: %v", err)
	}
	if _, err := s.RecordTransaction(testSecret, id, Transaction{Status: TxPending, RequestedAt: now}, nil); err == nil {
		t.Fatal("settled->pending should be rejected")
	}
}

func TestRecordTransaction_CoLocatesRevenue(t *testing.T) {
	s := New(testSecret)
	now := time.Now()
	rev := PlatformRevenue{TxRef: "tx-1", Amount: 150, Chain: "base", FeeBps: 300, CollectedAt: now}
	if _, err := s.RecordTransaction(testSecret, "", Transaction{Status: TxSettled, RequestedAt: now}, &rev); err != nil {
		t.Fatal(err)
	}
	got := s.PlatformRevenue.Query("byChain").ByIndex("base").Order(false).Take(10)
	if len(got) != 1 || got[0].Amount != 150 {
		t.Fatalf("unexpected platform revenue rows: %+v", got)
	}
}

func TestPutFacilitatorPayment_OriginalFieldsImmutable(t *testing.T) {
	s := New(testSecret)
	id, err := s.PutFacilitatorPayment(testSecret, "", FacilitatorPayment{
		IdempotencyKey: "k-1",
		OriginalURL:    "https://seller.example/api",
		OriginalMethod: "GET",
		Status:         FPPending,
		CreatedAt:      time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.PutFacilitatorPayment(testSecret, id, FacilitatorPayment{
		OriginalURL: "https://attacker.example/evil",
		Status:      FPProcessing,
	}); err != nil {
		t.Fatal(err)
	}

	got, _ := s.FacilitatorPayments.Get(id)
	if got.OriginalURL != "https://seller.example/api" {
		t.Fatalf("original URL was mutated: %+v", got)
	}
	if got.Status != FPProcessing {
		t.Fatalf("status did not progress: %+v", got)
	}
}

func TestPutFacilitatorPayment_MonotonicTerminal(t *testing.T) {
	s := New(testSecret)
	id, _ := s.PutFacilitatorPayment(testSecret, "", FacilitatorPayment{IdempotencyKey: "k-2", Status: FPPending, CreatedAt: time.Now()})
	s.PutFacilitatorPayment(testSecret, id, FacilitatorPayment{Status: FPProcessing})
	s.PutFacilitatorPayment(testSecret, id, FacilitatorPayment{Status: FPCompleted})
	if _, err := s.PutFacilitatorPayment(testSecret, id, FacilitatorPayment{Status: FPFailed}); err == nil {
		t.Fatal("completed is terminal, should reject transition to failed")
	}
}

func TestPutWebhook_RejectsUnknownEvent(t *testing.T) {
	s := New(testSecret)
	orgID, _ := s.PutOrganization(testSecret, "", Organization{Name: "A", APIKey: "k1"})
	if _, err := s.PutWebhook(testSecret, "", Webhook{OrgID: orgID, URL: "https://example.com/hook", Events: []WebhookEvent{"not.a.real.event"}}); err == nil {
		t.Fatal("expected rejection of unknown event type")
	}
}
