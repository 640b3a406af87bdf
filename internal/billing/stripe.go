package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/x402gw/core/internal/store"
)

// ErrUnauthorizedWebhook is returned when the signature header does not
// match the expected HMAC.
var ErrUnauthorizedWebhook = fmt.Errorf("billing: stripe webhook signature mismatch")

// VerifyWebhookSignature implements §4.6's authentication rule: a
// constant-time HMAC-SHA256 comparison of the signature header against
// HMAC(body, webhookSecret). Unsigned bodies and mismatches are rejected.
func VerifyWebhookSignature(body []byte, signatureHex, webhookSecret string) error {
	if signatureHex == "" {
		return ErrUnauthorizedWebhook
	}
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write(body)
	expected := mac.Sum(nil)

	given, err := hex.DecodeString(signatureHex)
	if err != nil {
		return ErrUnauthorizedWebhook
	}
	if !hmac.Equal(given, expected) {
		return ErrUnauthorizedWebhook
	}
	return nil
}

// StripeEvent is the minimal shape this package reads out of a Stripe
// webhook event; Stripe's own SDK is out of scope (§1) so the payload is
// decoded directly.
type StripeEvent struct {
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type subscriptionObject struct {
	Customer         string `json:"customer"`
	ID               string `json:"id"`
	CurrentPeriodEnd int64  `json:"current_period_end"` // unix seconds
	Items            struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

type paymentIntentObject struct {
	ID       string `json:"id"`
	Metadata struct {
		DepositID string `json:"deposit_id"`
	} `json:"metadata"`
}

// MapPrice implements §4.6's mapPrice: a Stripe price id containing "ent"
// maps to enterprise, "pro" maps to pro, anything else maps to free.
func MapPrice(priceID string) store.Plan {
	switch {
	case strings.Contains(priceID, "ent"):
		return store.PlanEnterprise
	case strings.Contains(priceID, "pro"):
		return store.PlanPro
	default:
		return store.PlanFree
	}
}

// ReconcileStripeEvent applies one Stripe webhook event to org state, per
// §4.6. Unrecognized event types are ignored (no-op, not an error) since
// sellers may subscribe to more Stripe events than this gateway consumes.
func ReconcileStripeEvent(s *store.Store, secret string, event StripeEvent) error {
	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		return reconcileSubscriptionUpsert(s, secret, event)
	case "customer.subscription.deleted":
		return reconcileSubscriptionDeleted(s, secret, event)
	case "payment_intent.succeeded":
		return reconcilePaymentIntentSucceeded(s, secret, event)
	default:
		return nil
	}
}

func reconcileSubscriptionUpsert(s *store.Store, secret string, event StripeEvent) error {
	var sub subscriptionObject
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return fmt.Errorf("billing: decoding subscription event: %w", err)
	}
	org, ok := findOrgByStripeCustomer(s, sub.Customer)
	if !ok {
		return fmt.Errorf("billing: no org for stripe customer %q: %w", sub.Customer, store.ErrNotFound)
	}

	priceID := ""
	if len(sub.Items.Data) > 0 {
		priceID = sub.Items.Data[0].Price.ID
	}

	org.StripeSubscription = sub.ID
	org.StripePriceID = priceID
	org.Plan = MapPrice(priceID)
	org.BillingPeriodEnd = sub.CurrentPeriodEnd * 1000

	_, err := s.PutOrganization(secret, org.ID, org)
	return err
}

func reconcileSubscriptionDeleted(s *store.Store, secret string, event StripeEvent) error {
	var sub subscriptionObject
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return fmt.Errorf("billing: decoding subscription event: %w", err)
	}
	org, ok := findOrgByStripeCustomer(s, sub.Customer)
	if !ok {
		return fmt.Errorf("billing: no org for stripe customer %q: %w", sub.Customer, store.ErrNotFound)
	}

	org.Plan = store.PlanFree
	org.StripeSubscription = ""
	org.StripePriceID = ""
	org.BillingPeriodEnd = 0

	_, err := s.PutOrganization(secret, org.ID, org)
	return err
}

func reconcilePaymentIntentSucceeded(s *store.Store, secret string, event StripeEvent) error {
	var pi paymentIntentObject
	if err := json.Unmarshal(event.Data.Object, &pi); err != nil {
		return fmt.Errorf("billing: decoding payment_intent event: %w", err)
	}

	deposits := s.Deposits.Query("byStripePaymentIntent").ByIndex(pi.ID).Take(1)
	if len(deposits) == 0 {
		return fmt.Errorf("billing: no deposit for payment intent %q: %w", pi.ID, store.ErrNotFound)
	}
	deposit := deposits[0]
	deposit.Status = store.DepositProcessing
	_, err := s.PutDeposit(secret, deposit.ID, deposit)
	return err
}

func findOrgByStripeCustomer(s *store.Store, customerID string) (store.Organization, bool) {
	matches := s.Orgs.Query("byStripeCustomer").ByIndex(customerID).Take(1)
	if len(matches) == 0 {
		return store.Organization{}, false
	}
	return matches[0], true
}
