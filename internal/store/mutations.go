package store

import (
	"fmt"

	"github.com/google/uuid"
)

// Every mutation below requires the shared secret. Agents, endpoints,
// tools, policies, webhooks, webhook deliveries and alert rules are
// rejected unless the entity they reference exists; sellers, transactions,
// deposits and disputes are written without a foreign-key check.
// Each mutation except PutRateLimitCounter (RateLimitCounter has no ID
// field) assigns id onto the document's own ID field before writing,
// generating one if the caller left id empty, so a doc fetched back out of
// its collection always carries its own key.

func ensureID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

func (s *Store) PutOrganization(secret, id string, org Organization) (string, error) {
	if err := s.CheckSecret(secret); err != nil {
		return "", err
	}
	id = ensureID(id)
	org.ID = id
	return s.Orgs.Put(id, org)
}

func (s *Store) PutAgent(secret, id string, agent Agent) (string, error) {
	if err := s.CheckSecret(secret); err != nil {
		return "", err
	}
	if _, ok := s.Orgs.Get(agent.OrgID); !ok {
		return "", fmt.Errorf("store: agent references unknown org %q: %w", agent.OrgID, ErrNotFound)
	}
	id = ensureID(id)
	agent.ID = id
	return s.Agents.Put(id, agent)
}

func (s *Store) PutSeller(secret, id string, seller Seller) (string, error) {
	if err := s.CheckSecret(secret); err != nil {
		return "", err
	}
	id = ensureID(id)
	seller.ID = id
	return s.Sellers.Put(id, seller)
}

func (s *Store) PutEndpoint(secret, id string, ep Endpoint) (string, error) {
	if err := s.CheckSecret(secret); err != nil {
		return "", err
	}
	if _, ok := s.Sellers.Get(ep.SellerID); !ok {
		return "", fmt.Errorf("store: endpoint references unknown seller %q: %w", ep.SellerID, ErrNotFound)
	}
	id = ensureID(id)
	ep.ID = id
	return s.Endpoints.Put(id, ep)
}

func (s *Store) PutTool(secret, id string, tool Tool) (string, error) {
	if err := s.CheckSecret(secret); err != nil {
		return "", err
	}
	if _, ok := s.Endpoints.Get(tool.EndpointID); !ok {
		return "", fmt.Errorf("store: tool references unknown endpoint %q: %w", tool.EndpointID, ErrNotFound)
	}
	id = ensureID(id)
	tool.ID = id
	return s.Tools.Put(id, tool)
}

var validTxStatus = map[TxStatus]bool{TxPending: true, TxSettled: true, TxFailed: true, TxRefunded: true}

// RecordTransaction co-locates the Transaction write with its
// PlatformRevenue row (if revenue is non-nil) inside one mutation handler.
// There is no multi-document transaction, so writes that must appear
// atomic are combined into a single call.
func (s *Store) RecordTransaction(secret, id string, tx Transaction, revenue *PlatformRevenue) (string, error) {
	if err := s.CheckSecret(secret); err != nil {
		return "", err
	}
	if !validTxStatus[tx.Status] {
		return "", fmt.Errorf("store: invalid transaction status %q", tx.Status)
	}
	if existing, ok := s.Transactions.Get(id); ok {
		if err := checkMonotonicTxStatus(existing.Status, tx.Status); err != nil {
			return "", err
		}
	}
	id = ensureID(id)
	tx.ID = id
	txID, err := s.Transactions.Put(id, tx)
	if err != nil {
		return "", err
	}
	if revenue != nil {
		revID := uuid.NewString()
		revenue.ID = revID
		if _, err := s.PlatformRevenue.Put(revID, *revenue); err != nil {
			return "", err
		}
	}
	return txID, nil
}

// checkMonotonicTxStatus enforces that a transaction's status only ever
// moves forward: pending -> {settled,failed} -> refunded, never backward.
func checkMonotonicTxStatus(from, to TxStatus) error {
	if from == to {
		return nil
	}
	allowed := map[TxStatus][]TxStatus{
		TxPending:  {TxSettled, TxFailed},
		TxSettled:  {TxRefunded},
		TxFailed:   {TxRefunded},
		TxRefunded: {},
	}
	for _, next := range allowed[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("store: invalid transaction status transition %s -> %s", from, to)
}

var validFPStatus = map[FacilitatorStatus]bool{FPPending: true, FPProcessing: true, FPCompleted: true, FPFailed: true}

// checkMonotonicFPStatus is the facilitator-payment analogue of
// checkMonotonicTxStatus.
func checkMonotonicFPStatus(from, to FacilitatorStatus) error {
	if from == to {
		return nil
	}
	allowed := map[FacilitatorStatus][]FacilitatorStatus{
		FPPending:    {FPProcessing, FPFailed},
		FPProcessing: {FPCompleted, FPFailed},
		FPCompleted:  {},
		FPFailed:     {},
	}
	for _, next := range allowed[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("store: invalid facilitator payment status transition %s -> %s", from, to)
}

// PutFacilitatorPayment validates the status enum and monotonic transition
// before writing. Callers (internal/facilitator) are responsible for
// idempotency-key dedup; this method only enforces the state machine and
// the unique idempotency-key index.
func (s *Store) PutFacilitatorPayment(secret, id string, p FacilitatorPayment) (string, error) {
	if err := s.CheckSecret(secret); err != nil {
		return "", err
	}
	if !validFPStatus[p.Status] {
		return "", fmt.Errorf("store: invalid facilitator payment status %q", p.Status)
	}
	if existing, ok := s.FacilitatorPayments.Get(id); ok {
		if err := checkMonotonicFPStatus(existing.Status, p.Status); err != nil {
			return "", err
		}
		// Original request fields never change after first insert.
		p.OriginalURL = existing.OriginalURL
		p.OriginalMethod = existing.OriginalMethod
		p.OriginalHeaders = existing.OriginalHeaders
		p.OriginalBody = existing.OriginalBody
		p.IdempotencyKey = existing.IdempotencyKey
		p.CreatedAt = existing.CreatedAt
	}
	id = ensureID(id)
	p.ID = id
	return s.FacilitatorPayments.Put(id, p)
}

func (s *Store) PutPolicy(secret, id string, p Policy) (string, error) {
	if err := s.CheckSecret(secret); err != nil {
		return "", err
	}
	if _, ok := s.Orgs.Get(p.OrgID); !ok {
		return "", fmt.Errorf("store: policy references unknown org %q: %w", p.OrgID, ErrNotFound)
	}
	id = ensureID(id)
	p.ID = id
	return s.Policies.Put(id, p)
}

func (s *Store) PutWebhook(secret, id string, w Webhook) (string, error) {
	if err := s.CheckSecret(secret); err != nil {
		return "", err
	}
	if _, ok := s.Orgs.Get(w.OrgID); !ok {
		return "", fmt.Errorf("store: webhook references unknown org %q: %w", w.OrgID, ErrNotFound)
	}
	for _, ev := range w.Events {
		if !ValidWebhookEvents[ev] {
			return "", fmt.Errorf("store: unknown webhook event %q", ev)
		}
	}
	id = ensureID(id)
	w.ID = id
	return s.Webhooks.Put(id, w)
}

func (s *Store) PutWebhookDelivery(secret, id string, d WebhookDelivery) (string, error) {
	if err := s.CheckSecret(secret); err != nil {
		return "", err
	}
	if _, ok := s.Webhooks.Get(d.WebhookID); !ok {
		return "", fmt.Errorf("store: delivery references unknown webhook %q: %w", d.WebhookID, ErrNotFound)
	}
	id = ensureID(id)
	d.ID = id
	return s.WebhookDeliveries.Put(id, d)
}

func (s *Store) PutDeposit(secret, id string, d Deposit) (string, error) {
	if err := s.CheckSecret(secret); err != nil {
		return "", err
	}
	id = ensureID(id)
	d.ID = id
	return s.Deposits.Put(id, d)
}

func (s *Store) PutDispute(secret, id string, d Dispute) (string, error) {
	if err := s.CheckSecret(secret); err != nil {
		return "", err
	}
	id = ensureID(id)
	d.ID = id
	return s.Disputes.Put(id, d)
}

func (s *Store) PutAlertRule(secret, id string, a AlertRule) (string, error) {
	if err := s.CheckSecret(secret); err != nil {
		return "", err
	}
	if _, ok := s.Orgs.Get(a.OrgID); !ok {
		return "", fmt.Errorf("store: alert rule references unknown org %q: %w", a.OrgID, ErrNotFound)
	}
	id = ensureID(id)
	a.ID = id
	return s.AlertRules.Put(id, a)
}

func (s *Store) PutRateLimitCounter(secret, id string, c RateLimitCounter) (string, error) {
	if err := s.CheckSecret(secret); err != nil {
		return "", err
	}
	return s.RateLimits.Put(id, c)
}
