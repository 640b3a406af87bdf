package sellergate

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/x402gw/core/internal/chain/evm"
	"github.com/x402gw/core/internal/ratelimit"
	"github.com/x402gw/core/internal/store"
)

const testSecret = "test-secret"

func newTestGate(t *testing.T, facilitatorURL string, rateLimit int) (*Gate, string) {
	t.Helper()
	s := store.New(testSecret)
	orgID, err := s.PutOrganization(testSecret, "", store.Organization{Name: "acme", APIKey: "key1"})
	if err != nil {
		t.Fatalf("PutOrganization: %v", err)
	}
	sellerID, err := s.PutSeller(testSecret, "", store.Seller{OrgID: orgID, Name: "joke-co", Wallet: "0xSeller00000000000000000000000000000001"})
	if err != nil {
		t.Fatalf("PutSeller: %v", err)
	}
	epID, err := s.PutEndpoint(testSecret, "", store.Endpoint{
		SellerID: sellerID,
		Method:   "GET",
		Path:     "/api/joke",
		Price:    "0.005",
		Currency: "USDC",
		Chains:   []string{"eip155:84532"},
		Active:   true,
	})
	if err != nil {
		t.Fatalf("PutEndpoint: %v", err)
	}
	seller, _ := s.Sellers.Get(sellerID)
	ep, _ := s.Endpoints.Get(epID)

	cfg := Config{
		Store:          s,
		StoreSecret:    testSecret,
		Limiter:        ratelimit.New(ratelimit.Config{}),
		FacilitatorURL: facilitatorURL,
		Reporter:       NewReporter("", nil),
		RateLimit:      rateLimit,
	}
	return New(cfg, seller, []store.Endpoint{ep}), epID
}

func TestPassthroughForUnmatchedRoute(t *testing.T) {
	gate, _ := newTestGate(t, "http://unused", 120)
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/not/registered", nil)
	rec := httptest.NewRecorder()
	gate.Wrap(next).ServeHTTP(rec, req)

	if !called {
		t.Fatalf("expected passthrough to call next handler")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestMissingPaymentHeaderReturns402(t *testing.T) {
	gate, _ := newTestGate(t, "http://unused", 120)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("downstream handler should not run without payment")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/joke", nil)
	rec := httptest.NewRecorder()
	gate.Wrap(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}
	if rec.Header().Get("PAYMENT-REQUIRED") == "" {
		t.Fatalf("expected a PAYMENT-REQUIRED header")
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding 402 body: %v", err)
	}
	if _, ok := body["paymentRequirements"]; !ok {
		t.Fatalf("expected paymentRequirements in 402 body")
	}
}

func TestRateLimitExceededReturns429(t *testing.T) {
	gate, _ := newTestGate(t, "http://unused", 1)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	handler := gate.Wrap(next)

	req := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/api/joke", nil)
		r.RemoteAddr = "203.0.113.5:1234"
		return r
	}

	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req()) // consumes the single allowed slot (no payment -> 402, but still rate-limited first)
	if rec1.Code != http.StatusPaymentRequired {
		t.Fatalf("first request status = %d, want 402", rec1.Code)
	}

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req())
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec2.Code)
	}
}

func TestAcceptedPaymentAttachesReceiptAndRecordsTransaction(t *testing.T) {
	facilitatorSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"valid": true, "txHash": "0xdeadbeef"})
	}))
	defer facilitatorSrv.Close()

	gate, epID := newTestGate(t, facilitatorSrv.URL, 120)

	var gotReceipt Receipt
	var sawAttached bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		att, ok := FromContext(r.Context())
		sawAttached = ok
		gotReceipt = att.Receipt
		w.WriteHeader(http.StatusOK)
	})

	auth := evm.Authorization{
		Network: "eip155:84532",
		Asset:   "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		From:    "0xBuyer000000000000000000000000000000001",
		To:      "0xSeller00000000000000000000000000000001",
		Value:   "5000",
	}
	raw, _ := json.Marshal(auth)
	header := base64.StdEncoding.EncodeToString(raw)

	req := httptest.NewRequest(http.MethodGet, "/api/joke", nil)
	req.Header.Set("X-PAYMENT", header)
	rec := httptest.NewRecorder()
	gate.Wrap(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if !sawAttached {
		t.Fatalf("expected Attached payment context on the downstream request")
	}
	if gotReceipt.TxHash != "0xdeadbeef" {
		t.Fatalf("receipt.TxHash = %q, want 0xdeadbeef", gotReceipt.TxHash)
	}
	if gotReceipt.Amount != "0.005000" {
		t.Fatalf("receipt.Amount = %q, want 0.005000", gotReceipt.Amount)
	}

	txs := gate.cfg.Store.Transactions.All()
	if len(txs) != 1 {
		t.Fatalf("want 1 recorded transaction, got %d", len(txs))
	}
	if txs[0].Status != store.TxSettled {
		t.Fatalf("transaction status = %q, want settled", txs[0].Status)
	}
	if txs[0].EndpointID != epID {
		t.Fatalf("transaction endpoint id mismatch")
	}
}

func TestUnmatchedNetworkReturns402WithReason(t *testing.T) {
	gate, _ := newTestGate(t, "http://unused", 120)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("downstream should not run for an unsupported network")
	})

	auth := evm.Authorization{Network: "eip155:1", From: "0xBuyer", To: "0xSeller", Value: "5000"}
	raw, _ := json.Marshal(auth)
	req := httptest.NewRequest(http.MethodGet, "/api/joke", nil)
	req.Header.Set("X-PAYMENT", base64.StdEncoding.EncodeToString(raw))
	rec := httptest.NewRecorder()
	gate.Wrap(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}
}
