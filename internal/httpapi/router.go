// Package httpapi implements the platform's thin HTTP surface (C9):
// discovery, billing, analytics, disputes, and deposits, fronted by org
// authentication and a strict CORS allow-list, in the idiom of the
// gateway's own small net/http-based routing in main.go.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/x402gw/core/internal/billing"
	"github.com/x402gw/core/internal/security"
	"github.com/x402gw/core/internal/store"
)

// Config groups the router's dependencies.
type Config struct {
	Store          *store.Store
	StoreSecret    string
	AllowedOrigins []string
	// StripeWebhookSecret authenticates inbound Stripe events per §4.6; a
	// POST to /v1/stripe/webhook is rejected with 401 unless the
	// X-Stripe-Signature header verifies against this secret.
	StripeWebhookSecret string
}

// Router is the HTTP surface (C9).
type Router struct {
	cfg Config
}

// New builds a Router.
func New(cfg Config) *Router {
	return &Router{cfg: cfg}
}

// Handler builds the full http.Handler: CORS, then security headers, then
// the route table.
func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/tools", rt.requireOrg(rt.handleListTools))
	mux.HandleFunc("GET /v1/billing/usage", rt.requireOrg(rt.handleBillingUsage))
	mux.HandleFunc("GET /v1/analytics/revenue", rt.requireOrg(rt.handleAnalyticsRevenue))
	mux.HandleFunc("GET /v1/disputes", rt.requireOrg(rt.handleListDisputes))
	mux.HandleFunc("POST /v1/disputes", rt.requireOrg(rt.handleCreateDispute))
	mux.HandleFunc("POST /v1/disputes/{id}/resolve", rt.requireOrg(rt.handleResolveDispute))
	mux.HandleFunc("GET /v1/deposits", rt.requireOrg(rt.handleListDeposits))
	mux.HandleFunc("POST /v1/deposits", rt.requireOrg(rt.handleCreateDeposit))
	mux.HandleFunc("POST /v1/stripe/webhook", rt.handleStripeWebhook)

	return security.CORS(rt.cfg.AllowedOrigins, security.Headers(mux))
}

// writeData writes data in the §4.9 JSON response shape: {data|error, ...}.
func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message})
}

// requireOrg resolves the caller's organization from Authorization: Bearer
// <key> or X-API-Key, rejecting with 401 when neither resolves, and
// enforces per-request plan usage via billing.IncrementUsage.
func (rt *Router) requireOrg(next func(http.ResponseWriter, *http.Request, store.Organization)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := bearerOrAPIKey(r)
		if key == "" {
			writeError(w, http.StatusUnauthorized, "missing Authorization: Bearer or X-API-Key")
			return
		}
		orgs := rt.cfg.Store.Orgs.Query("byAPIKey").ByIndex(key).Take(1)
		if len(orgs) == 0 {
			writeError(w, http.StatusUnauthorized, "unrecognized API key")
			return
		}
		org := orgs[0]

		usage, err := billing.IncrementUsage(rt.cfg.Store, rt.cfg.StoreSecret, org.ID, time.Now())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "usage tracking failed")
			return
		}
		if !usage.Allowed {
			writeError(w, http.StatusTooManyRequests, "plan call limit exceeded for today")
			return
		}

		next(w, r, org)
	}
}

func bearerOrAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
		return auth[7:]
	}
	return r.Header.Get("X-API-Key")
}

// clampInt parses a query parameter as an integer and clamps it to
// [min,max], returning def if the parameter is absent or malformed.
func clampInt(r *http.Request, name string, min, max, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}
