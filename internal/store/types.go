package store

import "time"

// Plan is an Organization's billing tier.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// Organization is a tenant of the platform.
type Organization struct {
	ID                 string
	Name               string
	APIKey             string
	Plan               Plan
	StripeCustomerID   string
	StripeSubscription string
	StripePriceID      string
	BillingPeriodEnd   int64 // unix millis
	UsageDate          string
	UsageCount         int64
	OwnerIdentity      string
	CreatedAt          time.Time
}

// AgentChain is the chain family an agent wallet signs for.
type AgentChain string

const (
	AgentChainBase   AgentChain = "base"
	AgentChainSolana AgentChain = "solana"
)

// AgentStatus is the lifecycle state of a buyer wallet.
type AgentStatus string

const (
	AgentActive   AgentStatus = "active"
	AgentPaused   AgentStatus = "paused"
	AgentDepleted AgentStatus = "depleted"
)

// Agent is a buyer wallet owned by an Organization.
type Agent struct {
	ID        string
	OrgID     string
	Name      string
	Wallet    string
	Chain     AgentChain
	Balance   int64
	Status    AgentStatus
	PolicyIDs []string
	CreatedAt time.Time
}

// Seller offers paid endpoints.
type Seller struct {
	ID        string
	OrgID     string
	Name      string
	Wallet    string
	APIKey    string
	CreatedAt time.Time
}

// Endpoint is one paid route on a Seller.
type Endpoint struct {
	ID             string
	SellerID       string
	Method         string
	Path           string // supports ":param" segments
	Price          string // decimal stablecoin units, e.g. "0.005"
	Currency       string
	Chains         []string
	InputSchema    string // JSON schema, optional
	OutputSchema   string // JSON schema, optional
	Active         bool
	TotalCalls     int64
	TotalRevenue   int64
	CreatedAt      time.Time
}

// Tool is a discovery listing over an Endpoint.
type Tool struct {
	ID           string
	EndpointID   string
	Slug         string
	Category     string
	Tags         []string
	Description  string
	Verified     bool
	Tier         string
	Boost        float64
	RatingSum    float64
	RatingCount  int64
	Active       bool
	Featured     bool
	CreatedAt    time.Time
}

// TxStatus is a Transaction's settlement status.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxSettled   TxStatus = "settled"
	TxFailed    TxStatus = "failed"
	TxRefunded  TxStatus = "refunded"
)

// FeeSplit mirrors feekernel.Split for persistence.
type FeeSplit struct {
	PlatformFee    int64
	SellerAmount   int64
	FeeBps         int64
	PlatformWallet string
}

// Transaction is one paid call attempt. Immutable once settled or
// failed; Status only ever progresses pending -> {settled|failed} -> refunded.
type Transaction struct {
	ID             string
	TxHash         string
	AgentWallet    string
	AgentID        string
	SellerID       string
	EndpointID     string
	Path           string
	Method         string
	Amount         int64 // smallest units
	Chain          string
	Status         TxStatus
	ResponseStatus int
	LatencyMs      int64
	RequestedAt    time.Time
	SettledAt      time.Time
	BlockNumber    uint64
	Split          FeeSplit
	OrphanedPaymentID string // set if a client cancelled mid-poll before settlement finished
}

// FacilitatorStatus is a FacilitatorPayment's state.
type FacilitatorStatus string

const (
	FPPending    FacilitatorStatus = "pending"
	FPProcessing FacilitatorStatus = "processing"
	FPCompleted  FacilitatorStatus = "completed"
	FPFailed     FacilitatorStatus = "failed"
)

// FacilitatorPayment is one relay performed by the facilitator.
type FacilitatorPayment struct {
	ID              string
	IdempotencyKey  string
	OriginalURL     string
	OriginalMethod  string
	OriginalHeaders map[string]string
	OriginalBody    string
	RequiredAmount  string // smallest-units decimal string
	RequiredAsset   string
	Network         string
	AgentWallet     string
	SellerAddress   string
	Status          FacilitatorStatus
	TxHash          string
	BlockNumber     uint64
	SubmitAttempts  int
	Error           string
	CreatedAt       time.Time
	CompletedAt     time.Time
}

// PolicyType is the kind of rule a Policy enforces.
type PolicyType string

const (
	PolicyBudget    PolicyType = "budget"
	PolicyVendorACL PolicyType = "vendor_acl"
	PolicyRateLimit PolicyType = "rate_limit"
)

// BudgetRule caps spend; zero fields are treated as "no limit".
type BudgetRule struct {
	DailyLimit         int64
	MonthlyLimit       int64
	PerTransactionLimit int64
}

// VendorACLRule allow/block-lists seller wallets; Blocked wins over Allowed.
type VendorACLRule struct {
	AllowedVendors []string
	BlockedVendors []string
}

// RateLimitRule caps outbound payment attempts.
type RateLimitRule struct {
	PerMinute int
	PerHour   int
}

// Policy is a tagged-variant rule ("dynamic argument bags"
// re-architected as a typed variant, never untyped JSON).
type Policy struct {
	ID        string
	OrgID     string
	AgentID   string // empty = org-wide
	Type      PolicyType
	Budget    *BudgetRule
	VendorACL *VendorACLRule
	RateLimit *RateLimitRule
	Active    bool
	CreatedAt time.Time
}

// AlertRuleKind enumerates the conditions an alert watches.
type AlertRuleKind string

// AlertRule notifies an org owner of an operational condition.
type AlertRule struct {
	ID        string
	OrgID     string
	Kind      AlertRuleKind
	Threshold float64
	Active    bool
	CreatedAt time.Time
}

// DisputeStatus is a Dispute's lifecycle state.
type DisputeStatus string

const (
	DisputeOpen     DisputeStatus = "open"
	DisputeResolved DisputeStatus = "resolved"
)

// Dispute is a buyer or seller complaint over a Transaction.
type Dispute struct {
	ID        string
	OrgID     string
	TxID      string
	Status    DisputeStatus
	Reason    string
	CreatedAt time.Time
	ResolvedAt time.Time
}

// WebhookEvent is a member of the closed event-type set.
type WebhookEvent string

const (
	EventPaymentCompleted WebhookEvent = "payment.completed"
	EventPaymentFailed    WebhookEvent = "payment.failed"
	EventDisputeOpened    WebhookEvent = "dispute.opened"
	EventDisputeResolved  WebhookEvent = "dispute.resolved"
	EventAgentDepleted    WebhookEvent = "agent.depleted"
	EventSellerPayout     WebhookEvent = "seller.payout"
	EventToolRegistered   WebhookEvent = "tool.registered"
	EventToolUpdated      WebhookEvent = "tool.updated"
	EventTestPing         WebhookEvent = "test.ping"
)

// ValidWebhookEvents is the closed set of events a Webhook may subscribe to.
var ValidWebhookEvents = map[WebhookEvent]bool{
	EventPaymentCompleted: true,
	EventPaymentFailed:    true,
	EventDisputeOpened:    true,
	EventDisputeResolved:  true,
	EventAgentDepleted:    true,
	EventSellerPayout:     true,
	EventToolRegistered:   true,
	EventToolUpdated:      true,
	EventTestPing:         true,
}

// WebhookEffectiveStatus is derived, not stored, from FailureCount.
type WebhookEffectiveStatus string

const (
	WebhookHealthy WebhookEffectiveStatus = "healthy"
	WebhookFailing WebhookEffectiveStatus = "failing"
)

// Webhook is a seller's registered delivery endpoint.
type Webhook struct {
	ID           string
	OrgID        string
	URL          string
	Events       []WebhookEvent
	Secret       string
	Enabled      bool
	FailureCount int
	CreatedAt    time.Time
}

// EffectiveStatus derives the UI-facing status from FailureCount.
func (w Webhook) EffectiveStatus() WebhookEffectiveStatus {
	if w.FailureCount >= 3 {
		return WebhookFailing
	}
	return WebhookHealthy
}

// DeliveryStatus is a WebhookDelivery's lifecycle state.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// WebhookDelivery is one attempted (and possibly retried) event delivery.
type WebhookDelivery struct {
	ID          string
	WebhookID   string
	Event       WebhookEvent
	Payload     string // rendered JSON body
	Status      DeliveryStatus
	Attempts    int
	NextAttempt time.Time
	StatusCode  int
	DurationMs  int64
	CreatedAt   time.Time
	DeliveredAt time.Time
}

// DepositStatus is a Deposit's lifecycle state.
type DepositStatus string

const (
	DepositPending    DepositStatus = "pending"
	DepositProcessing DepositStatus = "processing"
	DepositCompleted  DepositStatus = "completed"
)

// Deposit is an on-ramp request from fiat (via Stripe) to on-chain USDC.
// Persistence here is status flip only; no reversal of funds.
type Deposit struct {
	ID                   string
	OrgID                string
	AgentID              string
	AmountUSDCSmallest   int64
	StripePaymentIntentID string
	Status               DepositStatus
	CreatedAt            time.Time
}

// PlatformRevenue is one platform-fee ledger row.
type PlatformRevenue struct {
	ID          string
	TxRef       string
	Amount      int64
	Chain       string
	FeeBps      int64
	CollectedAt time.Time
}

// RateLimitCounter is a TTL-pruned sliding-window counter.
type RateLimitCounter struct {
	Key         string
	WindowStart time.Time
	Count       int64
}
