package billing

import (
	"time"

	"github.com/x402gw/core/internal/store"
)

// RecordRevenue writes the platform-fee row for one settled transaction.
// Callers that also write the Transaction itself should prefer
// store.Store.RecordTransaction, which co-locates both writes in a single
// mutation; this function exists for callers (e.g. reconciliation jobs)
// that need to backfill a PlatformRevenue row independently.
func RecordRevenue(s *store.Store, secret string, txID string, amount, feeBps int64, chain string, collectedAt time.Time) (string, error) {
	if err := s.CheckSecret(secret); err != nil {
		return "", err
	}
	return s.PlatformRevenue.Put("", store.PlatformRevenue{
		TxRef:       txID,
		Amount:      amount,
		Chain:       chain,
		FeeBps:      feeBps,
		CollectedAt: collectedAt,
	})
}

// AggregateResult is the sum of platform fee revenue over a window.
type AggregateResult struct {
	Total int64
	Count int
}

// Aggregate sums PlatformRevenue rows for chain within [since, until],
// clamped to the retention window the requesting org's plan allows.
// Rows older than the retention window are treated as already purged —
// the aggregate never reaches further back than the plan permits.
func Aggregate(s *store.Store, plan store.Plan, chain string, since, until time.Time) AggregateResult {
	retention := PlanLimits[plan].RevenueRetention
	if retention > 0 {
		oldest := time.Now().Add(-retention)
		if since.Before(oldest) {
			since = oldest
		}
	}

	rows := s.PlatformRevenue.Query("byChain").ByIndex(chain).Order(true).Take(100_000)
	var out AggregateResult
	for _, r := range rows {
		if r.CollectedAt.Before(since) {
			break // descending order: everything older follows
		}
		if r.CollectedAt.After(until) {
			continue
		}
		out.Total += r.Amount
		out.Count++
	}
	return out
}
