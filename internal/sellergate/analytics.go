package sellergate

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/x402gw/core/internal/feekernel"
)

// AnalyticsEvent is one {endpoint, method, receipt, responseStatus,
// latencyMs, feeBreakdown} report enqueued on response completion, per
// §4.3's Reporting step.
type AnalyticsEvent struct {
	EndpointID     string            `json:"endpointId"`
	Method         string            `json:"method"`
	Path           string            `json:"path"`
	Receipt        Receipt           `json:"receipt"`
	ResponseStatus int               `json:"responseStatus"`
	LatencyMs      int64             `json:"latencyMs"`
	FeeBreakdown   feekernel.Split   `json:"feeBreakdown"`
	Status         string            `json:"status"` // "settled" | "failed"
}

const (
	reporterBatchSize    = 50
	reporterFlushEvery   = 5 * time.Second
	reporterMaxQueue     = 500
)

// Reporter batches AnalyticsEvents and ships them to the platform's
// ingestion endpoint. A zero-value URL makes Enqueue a no-op, so the gate
// can run with analytics reporting disabled.
type Reporter struct {
	url    string
	client *http.Client

	mu    sync.Mutex
	queue []AnalyticsEvent
	wake  chan struct{}
}

// NewReporter constructs a Reporter posting batches to url. client defaults
// to a 10s-timeout http.Client when nil.
func NewReporter(url string, client *http.Client) *Reporter {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Reporter{url: url, client: client, wake: make(chan struct{}, 1)}
}

// Enqueue adds ev to the batch, dropping the oldest queued event and
// logging if the queue is already at its cap.
func (r *Reporter) Enqueue(ev AnalyticsEvent) {
	if r == nil || r.url == "" {
		return
	}
	r.mu.Lock()
	if len(r.queue) >= reporterMaxQueue {
		slog.Warn("sellergate: analytics queue full, dropping oldest event", "endpoint_id", r.queue[0].EndpointID)
		r.queue = r.queue[1:]
	}
	r.queue = append(r.queue, ev)
	full := len(r.queue) >= reporterBatchSize
	r.mu.Unlock()

	if full {
		select {
		case r.wake <- struct{}{}:
		default:
		}
	}
}

func (r *Reporter) takeBatch() []AnalyticsEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := reporterBatchSize
	if n > len(r.queue) {
		n = len(r.queue)
	}
	if n == 0 {
		return nil
	}
	batch := append([]AnalyticsEvent(nil), r.queue[:n]...)
	r.queue = r.queue[n:]
	return batch
}

func (r *Reporter) requeue(batch []AnalyticsEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue = append(batch, r.queue...)
	if len(r.queue) > reporterMaxQueue {
		dropped := len(r.queue) - reporterMaxQueue
		slog.Warn("sellergate: dropping analytics events after failed delivery", "count", dropped)
		r.queue = r.queue[dropped:]
	}
}

func (r *Reporter) flush(ctx context.Context) {
	batch := r.takeBatch()
	if len(batch) == 0 {
		return
	}
	body, err := json.Marshal(batch)
	if err != nil {
		slog.Error("sellergate: marshaling analytics batch", "err", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		r.requeue(batch)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		slog.Warn("sellergate: analytics delivery failed, re-queuing", "err", err, "count", len(batch))
		r.requeue(batch)
		return
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("sellergate: analytics endpoint rejected batch, re-queuing", "status", resp.StatusCode, "count", len(batch))
		r.requeue(batch)
	}
}

// Run drives the batch loop until ctx is cancelled: flush whenever the
// queue fills to reporterBatchSize, or every reporterFlushEvery regardless.
func (r *Reporter) Run(ctx context.Context) {
	if r == nil || r.url == "" {
		return
	}
	ticker := time.NewTicker(reporterFlushEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.flush(ctx)
		case <-r.wake:
			r.flush(ctx)
		}
	}
}
