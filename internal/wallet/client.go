// Package wallet implements the buyer-side agent client (C5): it drives
// one paid HTTP call end-to-end — discover the price via a 402, evaluate
// policy, sign an EIP-3009 authorization, settle through the facilitator,
// and forward the original request — in the idiom of the gateway's own
// client-side retry/backoff helpers.
package wallet

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/x402gw/core/internal/chain/evm"
	"github.com/x402gw/core/internal/facilitator"
	"github.com/x402gw/core/internal/feekernel"
	"github.com/x402gw/core/internal/policy"
	"github.com/x402gw/core/internal/store"
)

// Config groups the Client's dependencies.
type Config struct {
	Store          *store.Store
	StoreSecret    string
	FacilitatorURL string
	HTTPClient     *http.Client
	SigningKey     string // hex-encoded private key for EIP-712 signing
	AgentAuthToken string // bearer token the facilitator validates as agent_auth
	Validity       time.Duration // authorization validity window; default 5m
	PollInterval   time.Duration // default 1s
}

// Client is the agent wallet (C5).
type Client struct {
	cfg Config
}

// New constructs a Client.
func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Validity <= 0 {
		cfg.Validity = 5 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Client{cfg: cfg}
}

// requirement402 is the shape the seller gate's 402 body carries.
type requirement402 struct {
	Error               string                  `json:"error"`
	PaymentRequirements []feekernel.Requirement `json:"paymentRequirements"`
	Reason              string                  `json:"reason,omitempty"`
}

// Do drives one paid call end-to-end: it first issues req with no payment
// header; if the origin answers anything other than 402, the response is
// returned unmodified (the call was free or otherwise resolved).
// Otherwise it runs the full §4.5 handshake and returns the origin's final
// response once the facilitator settles and forwards the original request.
func (c *Client) Do(ctx context.Context, agent store.Agent, req *http.Request) (*http.Response, error) {
	bodyBytes, err := readAndRestoreBody(req)
	if err != nil {
		return nil, fmt.Errorf("wallet: reading request body: %w", err)
	}

	probe := req.Clone(ctx)
	if bodyBytes != nil {
		probe.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	}
	resp, err := c.cfg.HTTPClient.Do(probe)
	if err != nil {
		return nil, fmt.Errorf("wallet: issuing unpaid request: %w", err)
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}
	defer resp.Body.Close()

	var challenge requirement402
	if err := json.NewDecoder(resp.Body).Decode(&challenge); err != nil {
		return nil, fmt.Errorf("wallet: decoding 402 body: %w", err)
	}

	requirement, ok := firstSignableRequirement(challenge.PaymentRequirements)
	if !ok {
		return nil, &ErrNoSignableChain{}
	}

	amount, err := strconv.ParseInt(requirement.MaxAmountRequired, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("wallet: malformed maxAmountRequired %q: %w", requirement.MaxAmountRequired, err)
	}

	decision := policy.Evaluate(c.cfg.Store, agent, policy.Proposed{
		SellerWallet: requirement.PayTo,
		Amount:       amount,
		Chain:        requirement.Network,
	}, time.Now())
	if !decision.Allow {
		return nil, &PaymentDenied{Reason: decision.Reason}
	}

	signed, err := evm.Sign(evm.Authorization{
		Network: requirement.Network,
		Asset:   requirement.Asset,
		To:      requirement.PayTo,
		Value:   requirement.MaxAmountRequired,
	}, c.cfg.SigningKey, c.cfg.Validity)
	if err != nil {
		return nil, fmt.Errorf("wallet: signing authorization: %w", err)
	}

	idempotencyKey := deriveIdempotencyKey(signed.From, req.URL.String(), req.Method, bodyBytes, requirement.MaxAmountRequired)

	payResp, err := c.pay(ctx, req, bodyBytes, requirement, signed, idempotencyKey)
	if err != nil {
		return nil, err
	}

	record, err := c.poll(ctx, payResp.PaymentID)
	if err != nil {
		// Cancellation: stop polling, but the on-chain transfer may already
		// be in flight. Record the payment id as orphaned for reconciliation
		// rather than silently losing track of funds that may still settle.
		c.recordOrphan(agent, req, payResp.PaymentID, amount, requirement, signed)
		return nil, err
	}

	if record.Status == store.FPFailed {
		return nil, &PaymentFailed{Reason: record.Error}
	}

	return c.forward(ctx, payResp.PaymentID)
}

func firstSignableRequirement(reqs []feekernel.Requirement) (feekernel.Requirement, bool) {
	for _, r := range reqs {
		if strings.HasPrefix(r.Network, "eip155:") {
			return r, true
		}
	}
	return feekernel.Requirement{}, false
}

func (c *Client) pay(ctx context.Context, req *http.Request, body []byte, requirement feekernel.Requirement, signed evm.Authorization, idempotencyKey string) (facilitator.PayResponse, error) {
	headers := make(map[string]string, len(req.Header))
	for k := range req.Header {
		headers[k] = req.Header.Get(k)
	}

	payReq := facilitator.PayRequest{
		OriginalURL:    req.URL.String(),
		OriginalMethod: req.Method,
		OriginalHeaders: headers,
		OriginalBody:   string(body),
		PaymentRequired: facilitator.PaymentRequirement{
			Scheme:            requirement.Scheme,
			Network:           requirement.Network,
			MaxAmountRequired: requirement.MaxAmountRequired,
			Description:       requirement.Description,
			PayTo:             requirement.PayTo,
			Asset:             requirement.Asset,
		},
		Authorization:  signed,
		AgentWallet:    signed.From,
		AgentAuth:      c.cfg.AgentAuthToken,
		IdempotencyKey: idempotencyKey,
	}
	payload, err := json.Marshal(payReq)
	if err != nil {
		return facilitator.PayResponse{}, fmt.Errorf("wallet: encoding pay request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.FacilitatorURL, "/")+"/pay", bytes.NewReader(payload))
	if err != nil {
		return facilitator.PayResponse{}, fmt.Errorf("wallet: building pay request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return facilitator.PayResponse{}, fmt.Errorf("wallet: calling facilitator pay: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return facilitator.PayResponse{}, fmt.Errorf("wallet: facilitator pay rejected (status %d): %s", resp.StatusCode, string(body))
	}

	var payResp facilitator.PayResponse
	if err := json.NewDecoder(resp.Body).Decode(&payResp); err != nil {
		return facilitator.PayResponse{}, fmt.Errorf("wallet: decoding pay response: %w", err)
	}
	return payResp, nil
}

// poll drives GET /pay/:id until the record reaches a terminal status or
// ctx is cancelled.
func (c *Client) poll(ctx context.Context, paymentID string) (store.FacilitatorPayment, error) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		record, err := c.getPayment(ctx, paymentID)
		if err != nil {
			return store.FacilitatorPayment{}, err
		}
		if record.Status == store.FPCompleted || record.Status == store.FPFailed {
			return record, nil
		}
		select {
		case <-ctx.Done():
			return store.FacilitatorPayment{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) getPayment(ctx context.Context, paymentID string) (store.FacilitatorPayment, error) {
	url := strings.TrimRight(c.cfg.FacilitatorURL, "/") + "/pay/" + paymentID
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return store.FacilitatorPayment{}, err
	}
	resp, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return store.FacilitatorPayment{}, fmt.Errorf("wallet: polling payment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return store.FacilitatorPayment{}, fmt.Errorf("wallet: polling payment: status %d", resp.StatusCode)
	}
	var record store.FacilitatorPayment
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return store.FacilitatorPayment{}, fmt.Errorf("wallet: decoding payment record: %w", err)
	}
	return record, nil
}

func (c *Client) forward(ctx context.Context, paymentID string) (*http.Response, error) {
	url := strings.TrimRight(c.cfg.FacilitatorURL, "/") + "/forward/" + paymentID
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("wallet: forwarding settled payment: %w", err)
	}
	return resp, nil
}

func (c *Client) recordOrphan(agent store.Agent, req *http.Request, paymentID string, amount int64, requirement feekernel.Requirement, signed evm.Authorization) {
	if paymentID == "" {
		return
	}
	tx := store.Transaction{
		AgentWallet:       signed.From,
		AgentID:           agent.ID,
		Path:              req.URL.Path,
		Method:            req.Method,
		Amount:            amount,
		Chain:             requirement.Network,
		Status:            store.TxPending,
		RequestedAt:       time.Now(),
		OrphanedPaymentID: paymentID,
	}
	if _, err := c.cfg.Store.RecordTransaction(c.cfg.StoreSecret, "", tx, nil); err != nil {
		slog.Error("wallet: recording orphaned payment failed", "payment_id", paymentID, "err", err)
	}
}

func deriveIdempotencyKey(agentWallet, url, method string, body []byte, amount string) string {
	h := sha256.New()
	h.Write([]byte(agentWallet))
	h.Write([]byte{0})
	h.Write([]byte(url))
	h.Write([]byte{0})
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write(body)
	h.Write([]byte{0})
	h.Write([]byte(amount))
	return hex.EncodeToString(h.Sum(nil))
}

func readAndRestoreBody(req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	b, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	req.Body.Close()
	req.Body = io.NopCloser(bytes.NewReader(b))
	return b, nil
}
