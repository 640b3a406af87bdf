// Package policy implements the buyer-side budget, vendor-ACL and rate-limit
// checks. It is consulted by the agent wallet, before any network I/O.
//
// Evaluation is pure given a consistent snapshot of the store: no policy
// check performs a write.
package policy

import (
	"time"

	"github.com/x402gw/core/internal/store"
)

// DenyReason enumerates why a proposed payment was denied.
type DenyReason string

const (
	ReasonBudgetExceeded DenyReason = "BudgetExceeded"
	ReasonVendorBlocked  DenyReason = "VendorBlocked"
	ReasonNotInAllowlist DenyReason = "NotInAllowlist"
	ReasonRateLimited    DenyReason = "RateLimited"
)

// Decision is the outcome of evaluating every applicable policy.
type Decision struct {
	Allow  bool
	Reason DenyReason
}

// Proposed is the payment a caller wants to authorize.
type Proposed struct {
	SellerWallet string
	Amount       int64
	Chain        string
	EndpointID   string
}

// Denied is the error raised to the buyer-side caller on a deny.
type Denied struct {
	Reason DenyReason
}

func (d *Denied) Error() string {
	return "policy denied: " + string(d.Reason)
}

// Evaluate checks every active policy that applies to agent — agent-scoped
// policies first, then org-wide — against payment. Any deny short-circuits
// the rest: agent-scoped policies always take precedence over org-wide ones.
func Evaluate(s *store.Store, agent store.Agent, payment Proposed, now time.Time) Decision {
	policies := effectivePolicies(s, agent)

	for _, p := range policies {
		if !p.Active {
			continue
		}
		var decision Decision
		switch p.Type {
		case store.PolicyBudget:
			decision = evaluateBudget(s, agent, p, payment, now)
		case store.PolicyVendorACL:
			decision = evaluateVendorACL(p, payment)
		case store.PolicyRateLimit:
			decision = evaluateRateLimit(s, agent, p, now)
		default:
			continue
		}
		if !decision.Allow {
			return decision
		}
	}

	return Decision{Allow: true}
}

// effectivePolicies returns one policy per (scope, type) — latest wins —
// agent-scoped first, then org-wide, matching evaluation order.
func effectivePolicies(s *store.Store, agent store.Agent) []store.Policy {
	var out []store.Policy
	for _, typ := range []store.PolicyType{store.PolicyBudget, store.PolicyVendorACL, store.PolicyRateLimit} {
		if p, ok := latestForScope(s, agent.OrgID, agent.ID, typ); ok {
			out = append(out, p)
		}
	}
	for _, typ := range []store.PolicyType{store.PolicyBudget, store.PolicyVendorACL, store.PolicyRateLimit} {
		if p, ok := latestForScope(s, agent.OrgID, "", typ); ok {
			out = append(out, p)
		}
	}
	return out
}

func latestForScope(s *store.Store, orgID, agentID string, typ store.PolicyType) (store.Policy, bool) {
	scope := orgID
	if agentID != "" {
		scope = orgID + ":" + agentID
	}
	matches := s.Policies.Query("byScope").ByIndex(scope + "/" + string(typ)).Order(true).Take(1)
	if len(matches) == 0 {
		return store.Policy{}, false
	}
	return matches[0], true
}

func evaluateBudget(s *store.Store, agent store.Agent, p store.Policy, payment Proposed, now time.Time) Decision {
	if p.Budget == nil {
		return Decision{Allow: true}
	}
	rule := p.Budget

	if rule.PerTransactionLimit > 0 && payment.Amount > rule.PerTransactionLimit {
		return Decision{Reason: ReasonBudgetExceeded}
	}
	if payment.Amount <= 0 {
		return Decision{Reason: ReasonBudgetExceeded}
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	daily := sumSettled(s, agent.ID, dayStart)
	if rule.DailyLimit > 0 && daily+payment.Amount > rule.DailyLimit {
		return Decision{Reason: ReasonBudgetExceeded}
	}

	monthly := sumSettled(s, agent.ID, monthStart)
	if rule.MonthlyLimit > 0 && monthly+payment.Amount > rule.MonthlyLimit {
		return Decision{Reason: ReasonBudgetExceeded}
	}

	return Decision{Allow: true}
}

func sumSettled(s *store.Store, agentID string, since time.Time) int64 {
	txs := s.Transactions.Query("byAgent").ByIndex(agentID).Order(true).Take(10_000)
	var sum int64
	for _, tx := range txs {
		if tx.Status != store.TxSettled {
			continue
		}
		if tx.RequestedAt.Before(since) {
			break // descending order: everything after this is older still
		}
		sum += tx.Amount
	}
	return sum
}

func evaluateVendorACL(p store.Policy, payment Proposed) Decision {
	if p.VendorACL == nil {
		return Decision{Allow: true}
	}
	rule := p.VendorACL

	for _, blocked := range rule.BlockedVendors {
		if blocked == payment.SellerWallet {
			return Decision{Reason: ReasonVendorBlocked}
		}
	}
	if len(rule.AllowedVendors) > 0 {
		for _, allowed := range rule.AllowedVendors {
			if allowed == payment.SellerWallet {
				return Decision{Allow: true}
			}
		}
		return Decision{Reason: ReasonNotInAllowlist}
	}
	return Decision{Allow: true}
}

func evaluateRateLimit(s *store.Store, agent store.Agent, p store.Policy, now time.Time) Decision {
	if p.RateLimit == nil {
		return Decision{Allow: true}
	}
	rule := p.RateLimit

	txs := s.Transactions.Query("byAgent").ByIndex(agent.ID).Order(true).Take(10_000)

	minuteAgo := now.Add(-time.Minute)
	hourAgo := now.Add(-time.Hour)
	var perMinute, perHour int

	for _, tx := range txs {
		if tx.RequestedAt.Before(hourAgo) {
			break
		}
		perHour++
		if !tx.RequestedAt.Before(minuteAgo) {
			perMinute++
		}
	}

	if rule.PerMinute > 0 && perMinute >= rule.PerMinute {
		return Decision{Reason: ReasonRateLimited}
	}
	if rule.PerHour > 0 && perHour >= rule.PerHour {
		return Decision{Reason: ReasonRateLimited}
	}
	return Decision{Allow: true}
}
