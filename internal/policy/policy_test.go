package policy

import (
	"testing"
	"time"

	"github.com/x402gw/core/internal/store"
)

const testSecret = "s"

func setupOrgAgent(t *testing.T) (*store.Store, store.Organization, store.Agent) {
	t.Helper()
	s := store.New(testSecret)
	orgID, err := s.PutOrganization(testSecret, "", store.Organization{Name: "Acme", APIKey: "k1", Plan: store.PlanFree})
	if err != nil {
		t.Fatal(err)
	}
	org, _ := s.Orgs.Get(orgID)
	agentID, err := s.PutAgent(testSecret, "", store.Agent{OrgID: orgID, Name: "bot1", Wallet: "0x1111111111111111111111111111111111111111", Chain: store.AgentChainBase, Status: store.AgentActive})
	if err != nil {
		t.Fatal(err)
	}
	agent, _ := s.Agents.Get(agentID)
	return s, org, agent
}

func TestEvaluate_S3BudgetDeny(t *testing.T) {
	s, _, agent := setupOrgAgent(t)
	now := time.Now().UTC()

	s.PutPolicy(testSecret, "", store.Policy{
		OrgID: agent.OrgID, AgentID: agent.ID, Type: store.PolicyBudget, Active: true,
		Budget: &store.BudgetRule{DailyLimit: 10_000, PerTransactionLimit: 10_000},
	})

	// Settled today: 8000 micro-USDC.
	todayNoon := time.Date(now.Year(), now.Month(), now.Day(), 12, 0, 0, 0, time.UTC)
	s.RecordTransaction(testSecret, "", store.Transaction{AgentID: agent.ID, Amount: 8000, Status: store.TxSettled, RequestedAt: todayNoon}, nil)

	decision := Evaluate(s, agent, Proposed{SellerWallet: "0xSeller", Amount: 5000, Chain: "base"}, now)
	if decision.Allow {
		t.Fatal("expected deny")
	}
	if decision.Reason != ReasonBudgetExceeded {
		t.Fatalf("reason = %s, want BudgetExceeded", decision.Reason)
	}
}

func TestEvaluate_VendorACL_BlockedWinsOverAllowed(t *testing.T) {
	s, _, agent := setupOrgAgent(t)
	s.PutPolicy(testSecret, "", store.Policy{
		OrgID: agent.OrgID, AgentID: agent.ID, Type: store.PolicyVendorACL, Active: true,
		VendorACL: &store.VendorACLRule{AllowedVendors: []string{"0xGood"}, BlockedVendors: []string{"0xGood"}},
	})
	decision := Evaluate(s, agent, Proposed{SellerWallet: "0xGood", Amount: 1, Chain: "base"}, time.Now())
	if decision.Allow || decision.Reason != ReasonVendorBlocked {
		t.Fatalf("expected VendorBlocked, got %+v", decision)
	}
}

func TestEvaluate_VendorACL_NotInAllowlist(t *testing.T) {
	s, _, agent := setupOrgAgent(t)
	s.PutPolicy(testSecret, "", store.Policy{
		OrgID: agent.OrgID, AgentID: agent.ID, Type: store.PolicyVendorACL, Active: true,
		VendorACL: &store.VendorACLRule{AllowedVendors: []string{"0xGood"}},
	})
	decision := Evaluate(s, agent, Proposed{SellerWallet: "0xOther", Amount: 1, Chain: "base"}, time.Now())
	if decision.Allow || decision.Reason != ReasonNotInAllowlist {
		t.Fatalf("expected NotInAllowlist, got %+v", decision)
	}
}

func TestEvaluate_RateLimited(t *testing.T) {
	s, _, agent := setupOrgAgent(t)
	now := time.Now().UTC()
	s.PutPolicy(testSecret, "", store.Policy{
		OrgID: agent.OrgID, AgentID: agent.ID, Type: store.PolicyRateLimit, Active: true,
		RateLimit: &store.RateLimitRule{PerMinute: 2},
	})
	for i := 0; i < 2; i++ {
		s.RecordTransaction(testSecret, "", store.Transaction{AgentID: agent.ID, Amount: 1, Status: store.TxPending, RequestedAt: now}, nil)
	}
	decision := Evaluate(s, agent, Proposed{SellerWallet: "0xSeller", Amount: 1, Chain: "base"}, now)
	if decision.Allow || decision.Reason != ReasonRateLimited {
		t.Fatalf("expected RateLimited, got %+v", decision)
	}
}

func TestEvaluate_AgentScopeBeforeOrgScope(t *testing.T) {
	s, org, agent := setupOrgAgent(t)
	// Org-wide policy allows everything; agent-scoped policy denies — agent
	// scope must be evaluated, and it denies, so the overall decision denies.
	s.PutPolicy(testSecret, "", store.Policy{OrgID: org.ID, Type: store.PolicyBudget, Active: true, Budget: &store.BudgetRule{DailyLimit: 1_000_000}})
	s.PutPolicy(testSecret, "", store.Policy{OrgID: org.ID, AgentID: agent.ID, Type: store.PolicyBudget, Active: true, Budget: &store.BudgetRule{PerTransactionLimit: 10}})

	decision := Evaluate(s, agent, Proposed{SellerWallet: "0xSeller", Amount: 100, Chain: "base"}, time.Now())
	if decision.Allow {
		t.Fatal("expected per-transaction limit from agent-scoped policy to deny")
	}
}

func TestEvaluate_NoPolicies_Allows(t *testing.T) {
	s, _, agent := setupOrgAgent(t)
	decision := Evaluate(s, agent, Proposed{SellerWallet: "0xSeller", Amount: 100, Chain: "base"}, time.Now())
	if !decision.Allow {
		t.Fatalf("expected allow with no policies, got %+v", decision)
	}
}
