package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/x402gw/core/internal/store"
)

const testSecret = "test-secret"

func newTestRouter(t *testing.T) (*Router, store.Organization) {
	t.Helper()
	s := store.New(testSecret)
	orgID, err := s.PutOrganization(testSecret, "", store.Organization{Name: "acme", APIKey: "key-1", Plan: store.PlanPro})
	if err != nil {
		t.Fatalf("PutOrganization: %v", err)
	}
	org, _ := s.Orgs.Get(orgID)
	return New(Config{Store: s, StoreSecret: testSecret}), org
}

func TestRequiresAPIKey(t *testing.T) {
	rt, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/billing/usage", nil)
	rec := httptest.NewRecorder()
	rt.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestBillingUsageWithAPIKey(t *testing.T) {
	rt, org := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/billing/usage", nil)
	req.Header.Set("X-API-Key", org.APIKey)
	rec := httptest.NewRecorder()
	rt.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
}

func TestBearerTokenAlsoResolvesOrg(t *testing.T) {
	rt, org := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/billing/usage", nil)
	req.Header.Set("Authorization", "Bearer "+org.APIKey)
	rec := httptest.NewRecorder()
	rt.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestCreateAndResolveDispute(t *testing.T) {
	rt, org := newTestRouter(t)

	createReq := httptest.NewRequest(http.MethodPost, "/v1/disputes", strings.NewReader(`{"txId":"tx1","reason":"bad response"}`))
	createReq.Header.Set("X-API-Key", org.APIKey)
	createRec := httptest.NewRecorder()
	rt.Handler().ServeHTTP(createRec, createReq)
	if createRec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201, body=%s", createRec.Code, createRec.Body.String())
	}

	listReq := httptest.NewRequest(http.MethodGet, "/v1/disputes", nil)
	listReq.Header.Set("X-API-Key", org.APIKey)
	listRec := httptest.NewRecorder()
	rt.Handler().ServeHTTP(listRec, listReq)
	if listRec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", listRec.Code)
	}
}

func TestListToolsDiscovery(t *testing.T) {
	rt, org := newTestRouter(t)
	s := rt.cfg.Store

	sellerID, err := s.PutSeller(testSecret, "", store.Seller{Name: "seller", Wallet: "0xSeller", APIKey: "seller-key"})
	if err != nil {
		t.Fatalf("PutSeller: %v", err)
	}

	mkTool := func(slug, category, description string, featured bool) {
		epID, err := s.PutEndpoint(testSecret, "", store.Endpoint{SellerID: sellerID, Method: "GET", Path: "/" + slug, Price: "0.01", Active: true})
		if err != nil {
			t.Fatalf("PutEndpoint: %v", err)
		}
		if _, err := s.PutTool(testSecret, "", store.Tool{EndpointID: epID, Slug: slug, Category: category, Description: description, Active: true, Featured: featured}); err != nil {
			t.Fatalf("PutTool: %v", err)
		}
	}

	mkTool("joke-api", "entertainment", "tells a random joke", true)
	mkTool("weather-api", "data", "current weather conditions", false)

	get := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("X-API-Key", org.APIKey)
		rec := httptest.NewRecorder()
		rt.Handler().ServeHTTP(rec, req)
		return rec
	}

	if rec := get("/v1/tools?category=data"); !strings.Contains(rec.Body.String(), "weather-api") || strings.Contains(rec.Body.String(), "joke-api") {
		t.Fatalf("category filter: got %s", rec.Body.String())
	}
	if rec := get("/v1/tools?featured=true"); !strings.Contains(rec.Body.String(), "joke-api") || strings.Contains(rec.Body.String(), "weather-api") {
		t.Fatalf("featured filter: got %s", rec.Body.String())
	}
	if rec := get("/v1/tools?q=joke"); !strings.Contains(rec.Body.String(), "joke-api") || strings.Contains(rec.Body.String(), "weather-api") {
		t.Fatalf("text search: got %s", rec.Body.String())
	}
}

func TestCORSDeniesWhenAllowListEmpty(t *testing.T) {
	rt, org := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/billing/usage", nil)
	req.Header.Set("X-API-Key", org.APIKey)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	rt.Handler().ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("expected no CORS allow-origin header with an empty allow-list")
	}
}
