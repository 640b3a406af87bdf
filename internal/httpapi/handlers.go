package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/x402gw/core/internal/billing"
	"github.com/x402gw/core/internal/store"
	"github.com/x402gw/core/internal/store/docstore"
)

// handleListTools implements GET /v1/tools — discovery over active Tool
// listings, optionally filtered by category and/or featured, with a free
// text search (`q`) over the description ranked by SearchText, per
// spec.md's "text search on description filtered by (category, active)".
func (rt *Router) handleListTools(w http.ResponseWriter, r *http.Request, org store.Organization) {
	limit := clampInt(r, "limit", 1, 100, 20)
	category := r.URL.Query().Get("category")
	query := r.URL.Query().Get("q")

	var featuredOnly bool
	if f := r.URL.Query().Get("featured"); f != "" {
		featuredOnly = f == "true" || f == "1"
	}

	matches := func(t store.Tool) bool {
		if !t.Active {
			return false
		}
		if category != "" && t.Category != category {
			return false
		}
		if featuredOnly && !t.Featured {
			return false
		}
		return true
	}

	var tools []store.Tool
	switch {
	case query != "":
		tools = docstore.SearchText(rt.cfg.Store.Tools.All(), func(t store.Tool) string { return t.Description }, query, matches, limit)
	case category != "":
		for _, t := range rt.cfg.Store.Tools.Query("byCategory").ByIndex(category).Order(true).Take(1000) {
			if !matches(t) {
				continue
			}
			tools = append(tools, t)
			if len(tools) >= limit {
				break
			}
		}
	default:
		for _, t := range rt.cfg.Store.Tools.All() {
			if !matches(t) {
				continue
			}
			tools = append(tools, t)
			if len(tools) >= limit {
				break
			}
		}
	}
	writeData(w, http.StatusOK, tools)
}

// handleBillingUsage implements GET /v1/billing/usage.
func (rt *Router) handleBillingUsage(w http.ResponseWriter, r *http.Request, org store.Organization) {
	limits := billing.PlanLimits[org.Plan]
	writeData(w, http.StatusOK, map[string]any{
		"plan":           org.Plan,
		"usageDate":      org.UsageDate,
		"usageCount":     org.UsageCount,
		"maxCallsPerDay": limits.MaxCallsPerDay,
		"maxAgents":      limits.MaxAgents,
		"maxSellers":     limits.MaxSellers,
	})
}

// handleAnalyticsRevenue implements GET /v1/analytics/revenue?chain=&since=&until=.
func (rt *Router) handleAnalyticsRevenue(w http.ResponseWriter, r *http.Request, org store.Organization) {
	chain := r.URL.Query().Get("chain")
	since := parseTimeParam(r, "since", time.Now().AddDate(0, 0, -7))
	until := parseTimeParam(r, "until", time.Now())

	result := billing.Aggregate(rt.cfg.Store, org.Plan, chain, since, until)
	writeData(w, http.StatusOK, result)
}

func parseTimeParam(r *http.Request, name string, def time.Time) time.Time {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return def
	}
	return t
}

// handleListDisputes implements GET /v1/disputes.
func (rt *Router) handleListDisputes(w http.ResponseWriter, r *http.Request, org store.Organization) {
	limit := clampInt(r, "limit", 1, 200, 50)
	disputes := rt.cfg.Store.Disputes.Query("byOrg").ByIndex(org.ID).Order(true).Take(limit)
	writeData(w, http.StatusOK, disputes)
}

type createDisputeRequest struct {
	TxID   string `json:"txId"`
	Reason string `json:"reason"`
}

// handleCreateDispute implements POST /v1/disputes.
func (rt *Router) handleCreateDispute(w http.ResponseWriter, r *http.Request, org store.Organization) {
	var req createDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.TxID == "" {
		writeError(w, http.StatusBadRequest, "txId is required")
		return
	}
	id, err := rt.cfg.Store.PutDispute(rt.cfg.StoreSecret, "", store.Dispute{
		OrgID:     org.ID,
		TxID:      req.TxID,
		Status:    store.DisputeOpen,
		Reason:    req.Reason,
		CreatedAt: time.Now(),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not create dispute")
		return
	}
	writeData(w, http.StatusCreated, map[string]string{"id": id})
}

// handleResolveDispute implements POST /v1/disputes/{id}/resolve.
func (rt *Router) handleResolveDispute(w http.ResponseWriter, r *http.Request, org store.Organization) {
	id := r.PathValue("id")
	dispute, ok := rt.cfg.Store.Disputes.Get(id)
	if !ok || dispute.OrgID != org.ID {
		writeError(w, http.StatusNotFound, "no such dispute")
		return
	}
	dispute.Status = store.DisputeResolved
	dispute.ResolvedAt = time.Now()
	if _, err := rt.cfg.Store.PutDispute(rt.cfg.StoreSecret, id, dispute); err != nil {
		writeError(w, http.StatusInternalServerError, "could not resolve dispute")
		return
	}
	writeData(w, http.StatusOK, dispute)
}

// handleListDeposits implements GET /v1/deposits.
func (rt *Router) handleListDeposits(w http.ResponseWriter, r *http.Request, org store.Organization) {
	limit := clampInt(r, "limit", 1, 200, 50)
	deposits := rt.cfg.Store.Deposits.Query("byOrg").ByIndex(org.ID).Order(true).Take(limit)
	writeData(w, http.StatusOK, deposits)
}

type createDepositRequest struct {
	AgentID               string `json:"agentId"`
	AmountUSDCSmallest    int64  `json:"amountUsdcSmallest"`
	StripePaymentIntentID string `json:"stripePaymentIntentId"`
}

// handleCreateDeposit implements POST /v1/deposits.
func (rt *Router) handleCreateDeposit(w http.ResponseWriter, r *http.Request, org store.Organization) {
	var req createDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.AmountUSDCSmallest <= 0 {
		writeError(w, http.StatusBadRequest, "amountUsdcSmallest must be positive")
		return
	}
	id, err := rt.cfg.Store.PutDeposit(rt.cfg.StoreSecret, "", store.Deposit{
		OrgID:                 org.ID,
		AgentID:               req.AgentID,
		AmountUSDCSmallest:    req.AmountUSDCSmallest,
		StripePaymentIntentID: req.StripePaymentIntentID,
		Status:                store.DepositPending,
		CreatedAt:             time.Now(),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not create deposit")
		return
	}
	writeData(w, http.StatusCreated, map[string]string{"id": id})
}

// handleStripeWebhook implements §4.6's Stripe reconciliation: the body is
// authenticated by a constant-time HMAC comparison before it is ever
// decoded, then applied to org/deposit state.
func (rt *Router) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}
	if err := billing.VerifyWebhookSignature(body, r.Header.Get("X-Stripe-Signature"), rt.cfg.StripeWebhookSecret); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var event billing.StripeEvent
	if err := json.Unmarshal(body, &event); err != nil {
		writeError(w, http.StatusBadRequest, "malformed event")
		return
	}
	if err := billing.ReconcileStripeEvent(rt.cfg.Store, rt.cfg.StoreSecret, event); err != nil {
		slog.Warn("stripe webhook reconciliation failed", "type", event.Type, "err", err)
		writeError(w, http.StatusInternalServerError, "reconciliation failed")
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}
