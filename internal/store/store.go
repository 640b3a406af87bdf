// Package store is the persistence layer (C2): a typed document store
// with secondary indexes, built on internal/store/docstore. All mutating
// entry points require a shared secret, compared in constant time.
package store

import (
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/x402gw/core/internal/store/docstore"
)

// ErrUnauthorized is returned by any mutation when the caller's secret does
// not match. No mutation is reachable without it.
var ErrUnauthorized = fmt.Errorf("store: invalid shared secret")

// ErrNotFound is returned by foreign-key lookups that miss.
var ErrNotFound = fmt.Errorf("store: not found")

// Store is the process-wide document store. It is the sole concurrency
// boundary: callers never need their own locks.
type Store struct {
	secret string

	Orgs                *docstore.Collection[Organization]
	Agents              *docstore.Collection[Agent]
	Sellers             *docstore.Collection[Seller]
	Endpoints           *docstore.Collection[Endpoint]
	Tools               *docstore.Collection[Tool]
	Transactions        *docstore.Collection[Transaction]
	FacilitatorPayments *docstore.Collection[FacilitatorPayment]
	Policies            *docstore.Collection[Policy]
	AlertRules          *docstore.Collection[AlertRule]
	Disputes            *docstore.Collection[Dispute]
	Webhooks            *docstore.Collection[Webhook]
	WebhookDeliveries   *docstore.Collection[WebhookDelivery]
	Deposits            *docstore.Collection[Deposit]
	PlatformRevenue     *docstore.Collection[PlatformRevenue]
	RateLimits          *docstore.Collection[RateLimitCounter]
}

// New creates a Store whose mutations are gated by secret.
func New(secret string) *Store {
	return &Store{
		secret: secret,

		Orgs: docstore.NewCollection[Organization]("organizations",
			docstore.IndexDef[Organization]{Name: "byAPIKey", Key: func(o Organization) string { return o.APIKey }, Unique: true},
			docstore.IndexDef[Organization]{Name: "byStripeCustomer", Key: func(o Organization) string { return o.StripeCustomerID }, Unique: true},
		),
		Agents: docstore.NewCollection[Agent]("agents",
			docstore.IndexDef[Agent]{Name: "byOrg", Key: func(a Agent) string { return a.OrgID }, Order: func(a Agent) string { return a.Name }},
			docstore.IndexDef[Agent]{Name: "byWallet", Key: func(a Agent) string { return a.Wallet }},
		),
		Sellers: docstore.NewCollection[Seller]("sellers",
			docstore.IndexDef[Seller]{Name: "byAPIKey", Key: func(s Seller) string { return s.APIKey }, Unique: true},
			docstore.IndexDef[Seller]{Name: "byOrg", Key: func(s Seller) string { return s.OrgID }},
		),
		Endpoints: docstore.NewCollection[Endpoint]("endpoints",
			docstore.IndexDef[Endpoint]{Name: "bySeller", Key: func(e Endpoint) string { return e.SellerID }},
		),
		Tools: docstore.NewCollection[Tool]("tools",
			docstore.IndexDef[Tool]{Name: "bySlug", Key: func(t Tool) string { return t.Slug }, Unique: true},
			docstore.IndexDef[Tool]{Name: "byCategory", Key: func(t Tool) string { return t.Category }, Order: func(t Tool) string { return orderKeyFloat(t.Boost) }},
			docstore.IndexDef[Tool]{Name: "byActive", Key: func(t Tool) string { return activeKey(t.Active) }},
			docstore.IndexDef[Tool]{Name: "byFeatured", Key: func(t Tool) string { return activeKey(t.Featured) }},
		),
		Transactions: docstore.NewCollection[Transaction]("transactions",
			docstore.IndexDef[Transaction]{Name: "byAgent", Key: func(t Transaction) string { return t.AgentID }, Order: func(t Transaction) string { return orderKeyTime(t.RequestedAt) }},
			docstore.IndexDef[Transaction]{Name: "bySeller", Key: func(t Transaction) string { return t.SellerID }, Order: func(t Transaction) string { return orderKeyTime(t.RequestedAt) }},
			docstore.IndexDef[Transaction]{Name: "byStatus", Key: func(t Transaction) string { return string(t.Status) }, Order: func(t Transaction) string { return orderKeyTime(t.RequestedAt) }},
			docstore.IndexDef[Transaction]{Name: "byChain", Key: func(t Transaction) string { return t.Chain }, Order: func(t Transaction) string { return orderKeyTime(t.RequestedAt) }},
			docstore.IndexDef[Transaction]{Name: "byTxHash", Key: func(t Transaction) string { return t.TxHash }},
		),
		FacilitatorPayments: docstore.NewCollection[FacilitatorPayment]("facilitatorPayments",
			docstore.IndexDef[FacilitatorPayment]{Name: "byIdempotencyKey", Key: func(p FacilitatorPayment) string { return p.IdempotencyKey }, Unique: true},
			docstore.IndexDef[FacilitatorPayment]{Name: "byStatus", Key: func(p FacilitatorPayment) string { return string(p.Status) }, Order: func(p FacilitatorPayment) string { return orderKeyTime(p.CreatedAt) }},
		),
		Policies: docstore.NewCollection[Policy]("policies",
			docstore.IndexDef[Policy]{Name: "byScope", Key: func(p Policy) string { return policyScopeKey(p.OrgID, p.AgentID, p.Type) }, Order: func(p Policy) string { return orderKeyTime(p.CreatedAt) }},
			docstore.IndexDef[Policy]{Name: "byOrg", Key: func(p Policy) string { return p.OrgID }},
		),
		AlertRules: docstore.NewCollection[AlertRule]("alertRules",
			docstore.IndexDef[AlertRule]{Name: "byOrg", Key: func(a AlertRule) string { return a.OrgID }, Order: func(a AlertRule) string { return orderKeyTime(a.CreatedAt) }},
		),
		Disputes: docstore.NewCollection[Dispute]("disputes",
			docstore.IndexDef[Dispute]{Name: "byOrg", Key: func(d Dispute) string { return d.OrgID }, Order: func(d Dispute) string { return orderKeyTime(d.CreatedAt) }},
		),
		Webhooks: docstore.NewCollection[Webhook]("webhooks",
			docstore.IndexDef[Webhook]{Name: "byOrg", Key: func(w Webhook) string { return w.OrgID }, Order: func(w Webhook) string { return orderKeyTime(w.CreatedAt) }},
		),
		WebhookDeliveries: docstore.NewCollection[WebhookDelivery]("webhookDeliveries",
			docstore.IndexDef[WebhookDelivery]{Name: "byWebhook", Key: func(d WebhookDelivery) string { return d.WebhookID }, Order: func(d WebhookDelivery) string { return orderKeyTime(d.CreatedAt) }},
			docstore.IndexDef[WebhookDelivery]{Name: "byStatus", Key: func(d WebhookDelivery) string { return string(d.Status) }, Order: func(d WebhookDelivery) string { return orderKeyTime(d.NextAttempt) }},
		),
		Deposits: docstore.NewCollection[Deposit]("deposits",
			docstore.IndexDef[Deposit]{Name: "byOrg", Key: func(d Deposit) string { return d.OrgID }, Order: func(d Deposit) string { return orderKeyTime(d.CreatedAt) }},
			docstore.IndexDef[Deposit]{Name: "byStripePaymentIntent", Key: func(d Deposit) string { return d.StripePaymentIntentID }},
		),
		PlatformRevenue: docstore.NewCollection[PlatformRevenue]("platformRevenue",
			docstore.IndexDef[PlatformRevenue]{Name: "byChain", Key: func(r PlatformRevenue) string { return r.Chain }, Order: func(r PlatformRevenue) string { return orderKeyTime(r.CollectedAt) }},
		),
		RateLimits: docstore.NewCollection[RateLimitCounter]("rateLimits",
			docstore.IndexDef[RateLimitCounter]{Name: "byKey", Key: func(r RateLimitCounter) string { return r.Key }, Order: func(r RateLimitCounter) string { return orderKeyTime(r.WindowStart) }},
		),
	}
}

// CheckSecret compares candidate to the store's configured shared secret in
// constant time. Every exported mutation method below calls
// this first.
func (s *Store) CheckSecret(candidate string) error {
	a, b := []byte(s.secret), []byte(candidate)
	if len(a) != len(b) {
		// Still perform a constant-time compare against a same-length buffer
		// so the early return above doesn't leak length-dependent timing
		// beyond what an attacker can already observe from header size.
		dummy := make([]byte, len(a))
		subtle.ConstantTimeCompare(a, dummy)
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare(a, b) != 1 {
		return ErrUnauthorized
	}
	return nil
}

func orderKeyTime(t time.Time) string {
	// Fixed-width fraction (RFC3339Nano trims trailing zeros, which breaks
	// lexicographic order between e.g. "…:05Z" and "…:05.5Z").
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z")
}

func orderKeyFloat(f float64) string {
	// Boost scores are small and non-negative in practice; offset so the
	// lexicographic string order matches numeric order for the expected
	// range [0, 1e6).
	return fmt.Sprintf("%020.6f", f)
}

func activeKey(active bool) string {
	if active {
		return "1"
	}
	return "0"
}

func policyScopeKey(orgID, agentID string, typ PolicyType) string {
	scope := orgID
	if agentID != "" {
		scope = orgID + ":" + agentID
	}
	return scope + "/" + string(typ)
}
