// Package billing implements the revenue ledger and plan-gating half of
// C6: recording the platform's cut of every settled transaction, enforcing
// per-plan daily usage/agent/seller limits, and reconciling Stripe
// subscription and payment-intent webhook events into organization state.
//
// Stripe itself is an external collaborator (§1 Non-goals) — this package
// only consumes the webhook payload shape and never calls out to Stripe's
// API or SDK.
package billing

import (
	"time"

	"github.com/x402gw/core/internal/store"
)

// Limits describes one plan's usage ceilings, per §4.6.
type Limits struct {
	MaxCallsPerDay int64
	MaxAgents      int
	MaxSellers     int
	RevenueRetention time.Duration
}

// PlanLimits is the fixed table of plan ceilings.
var PlanLimits = map[store.Plan]Limits{
	store.PlanFree:       {MaxCallsPerDay: 1_000, MaxAgents: 1, MaxSellers: 2, RevenueRetention: 7 * 24 * time.Hour},
	store.PlanPro:        {MaxCallsPerDay: 100_000, MaxAgents: 10, MaxSellers: 25, RevenueRetention: 90 * 24 * time.Hour},
	store.PlanEnterprise: {MaxCallsPerDay: 0, MaxAgents: 0, MaxSellers: 0, RevenueRetention: 365 * 24 * time.Hour}, // 0 = unbounded
}

// UsageResult is the outcome of IncrementUsage.
type UsageResult struct {
	Allowed   bool
	Remaining int64
}

// IncrementUsage implements §4.6's per-request plan gate: it reads the
// org's usage counter keyed by today's UTC date, resets on a new day, and
// denies once the plan's daily ceiling is reached.
func IncrementUsage(s *store.Store, secret string, orgID string, now time.Time) (UsageResult, error) {
	org, ok := s.Orgs.Get(orgID)
	if !ok {
		return UsageResult{}, store.ErrNotFound
	}

	today := now.UTC().Format("2006-01-02")
	limit := PlanLimits[org.Plan].MaxCallsPerDay

	count := org.UsageCount
	if org.UsageDate != today {
		count = 0
	}

	if limit > 0 && count >= limit {
		return UsageResult{Allowed: false, Remaining: 0}, nil
	}

	org.UsageDate = today
	org.UsageCount = count + 1
	if _, err := s.PutOrganization(secret, orgID, org); err != nil {
		return UsageResult{}, err
	}

	remaining := int64(-1) // unbounded
	if limit > 0 {
		remaining = limit - org.UsageCount
	}
	return UsageResult{Allowed: true, Remaining: remaining}, nil
}

// CheckAgentLimit reports whether org may register one more Agent under
// its plan's MaxAgents ceiling (0 = unbounded).
func CheckAgentLimit(s *store.Store, orgID string) bool {
	org, ok := s.Orgs.Get(orgID)
	if !ok {
		return false
	}
	limit := PlanLimits[org.Plan].MaxAgents
	if limit == 0 {
		return true
	}
	existing := s.Agents.Query("byOrg").ByIndex(orgID).Take(limit + 1)
	return len(existing) < limit
}

// CheckSellerLimit reports whether org may register one more Seller under
// its plan's MaxSellers ceiling (0 = unbounded).
func CheckSellerLimit(s *store.Store, orgID string) bool {
	org, ok := s.Orgs.Get(orgID)
	if !ok {
		return false
	}
	limit := PlanLimits[org.Plan].MaxSellers
	if limit == 0 {
		return true
	}
	existing := s.Sellers.Query("byOrg").ByIndex(orgID).Take(limit + 1)
	return len(existing) < limit
}
