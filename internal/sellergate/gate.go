// Package sellergate implements the seller gate (C3): middleware placed in
// front of paid endpoints that speaks the x402 402-challenge handshake,
// verifies payments at the facilitator, and reports settled/failed
// transactions — generalized from the gateway's own x402/middleware.go,
// which drove the same handshake for a single fixed price.
package sellergate

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/x402gw/core/internal/chain/evm"
	"github.com/x402gw/core/internal/facilitator"
	"github.com/x402gw/core/internal/feekernel"
	"github.com/x402gw/core/internal/ratelimit"
	"github.com/x402gw/core/internal/security"
	"github.com/x402gw/core/internal/store"
)

// Config groups the Gate's dependencies.
type Config struct {
	Store          *store.Store
	StoreSecret    string
	Limiter        *ratelimit.Limiter
	FacilitatorURL string // base URL of the C4 facilitator, e.g. "http://localhost:8402"
	HTTPClient     *http.Client
	Reporter       *Reporter
	FeeConfig      *feekernel.Config // nil disables the platform fee
	RateLimit      int               // requests/min per IP; defaults to 120 per §4.8
}

// Gate is the seller gate (C3): one per seller, fronting its endpoints.
type Gate struct {
	cfg      Config
	seller   store.Seller
	patterns []routedEndpoint
}

type routedEndpoint struct {
	pattern  pathPattern
	endpoint store.Endpoint
}

// New builds a Gate serving seller's active endpoints.
func New(cfg Config, seller store.Seller, endpoints []store.Endpoint) *Gate {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 120
	}
	routed := make([]routedEndpoint, 0, len(endpoints))
	for _, ep := range endpoints {
		if !ep.Active {
			continue
		}
		routed = append(routed, routedEndpoint{pattern: newPathPattern(ep.Method, ep.Path), endpoint: ep})
	}
	return &Gate{cfg: cfg, seller: seller, patterns: routed}
}

// Wrap returns an http.Handler that runs the §4.3 state machine for
// requests matching a registered paid endpoint, and falls through to next
// (with security headers still applied) for everything else.
func (g *Gate) Wrap(next http.Handler) http.Handler {
	return security.Headers(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ep, params, ok := g.matchRoute(r.Method, r.URL.Path)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		g.serve(w, r, ep, params, next)
	}))
}

func (g *Gate) matchRoute(method, path string) (store.Endpoint, map[string]string, bool) {
	for _, re := range g.patterns {
		if params, ok := re.pattern.match(method, path); ok {
			return re.endpoint, params, true
		}
	}
	return store.Endpoint{}, nil, false
}

func (g *Gate) serve(w http.ResponseWriter, r *http.Request, ep store.Endpoint, params map[string]string, next http.Handler) {
	start := time.Now()

	limitKey := "ip:" + clientIP(r) + ":minute"
	res := g.cfg.Limiter.Allow(r.Context(), limitKey, g.cfg.RateLimit, time.Minute)
	if !res.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	priceUnits, err := feekernel.ParseDecimalUnits(ep.Price)
	if err != nil {
		http.Error(w, "seller gate: misconfigured endpoint price", http.StatusInternalServerError)
		return
	}
	chains := make([]feekernel.ChainAsset, 0, len(ep.Chains))
	for _, network := range ep.Chains {
		chains = append(chains, feekernel.ChainAsset{Network: network, Asset: assetFor(network)})
	}
	reqs, err := feekernel.BuildRequirements(priceUnits, chains, g.seller.Wallet, ep.Method+" "+ep.Path, g.cfg.FeeConfig)
	if err != nil {
		http.Error(w, "seller gate: could not build payment requirements", http.StatusInternalServerError)
		return
	}

	header := r.Header.Get("X-PAYMENT")
	if header == "" {
		g.send402(w, reqs, "")
		return
	}

	auth, err := decodeXPayment(header)
	if err != nil {
		g.send402(w, reqs, "malformed X-PAYMENT header")
		return
	}

	matched, ok := matchRequirement(reqs, auth.Network)
	if !ok {
		g.send402(w, reqs, "no payment requirement for network "+auth.Network)
		return
	}

	verifyResp, err := g.verify(r, auth, matched)
	if err != nil {
		g.send402(w, reqs, err.Error())
		return
	}

	receipt := Receipt{
		TxHash:    verifyResp.txHash,
		Chain:     matched.Network,
		Amount:    microUSDCToDecimal(priceUnits),
		From:      auth.From,
		To:        auth.To,
		Timestamp: time.Now(),
	}
	split, splitErr := feekernel.SplitAmount(priceUnits, g.cfg.FeeConfig)
	if splitErr != nil {
		http.Error(w, "seller gate: could not compute fee split", http.StatusInternalServerError)
		return
	}

	attached := Attached{Receipt: receipt, FeeBreakdown: split, Endpoint: ep, Params: params}
	ctx := WithAttached(r.Context(), attached)

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	next.ServeHTTP(rec, r.WithContext(ctx))

	g.report(ep, r, receipt, split, priceUnits, rec.status, time.Since(start))
}

// send402 writes the PAYMENT-REQUIRED header and JSON body per §4.3.
func (g *Gate) send402(w http.ResponseWriter, reqs []feekernel.Requirement, reason string) {
	encoded, err := json.Marshal(reqs)
	if err != nil {
		http.Error(w, "seller gate: could not encode payment requirements", http.StatusInternalServerError)
		return
	}
	w.Header().Set("PAYMENT-REQUIRED", base64.StdEncoding.EncodeToString(encoded))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	body := map[string]any{
		"error":               "Payment Required",
		"paymentRequirements": reqs,
	}
	if reason != "" {
		body["reason"] = reason
	}
	_ = json.NewEncoder(w).Encode(body)
}

func decodeXPayment(header string) (evm.Authorization, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return evm.Authorization{}, fmt.Errorf("sellergate: decoding X-PAYMENT base64: %w", err)
	}
	var auth evm.Authorization
	if err := json.Unmarshal(raw, &auth); err != nil {
		return evm.Authorization{}, fmt.Errorf("sellergate: decoding X-PAYMENT payload: %w", err)
	}
	return auth, nil
}

func matchRequirement(reqs []feekernel.Requirement, network string) (feekernel.Requirement, bool) {
	for _, req := range reqs {
		if req.Network == network {
			return req, true
		}
	}
	return feekernel.Requirement{}, false
}

type verifyResult struct {
	txHash string
}

// verify POSTs {authorization, payment_required} to the facilitator's /verify
// endpoint and accepts iff the response is 2xx and either valid==true or
// success==true, per §4.3.
func (g *Gate) verify(r *http.Request, auth evm.Authorization, matched feekernel.Requirement) (verifyResult, error) {
	reqBody := facilitator.VerifyRequest{
		Authorization: auth,
		PaymentRequired: facilitator.PaymentRequirement{
			Scheme:            matched.Scheme,
			Network:           matched.Network,
			MaxAmountRequired: matched.MaxAmountRequired,
			Description:       matched.Description,
			PayTo:             matched.PayTo,
			Asset:             matched.Asset,
		},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return verifyResult{}, fmt.Errorf("sellergate: encoding verify request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, strings.TrimRight(g.cfg.FacilitatorURL, "/")+"/verify", bytes.NewReader(payload))
	if err != nil {
		return verifyResult{}, fmt.Errorf("sellergate: building verify request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return verifyResult{}, fmt.Errorf("sellergate: calling facilitator verify: %w", err)
	}
	defer resp.Body.Close()

	var decoded struct {
		Valid   bool   `json:"valid"`
		Success bool   `json:"success"`
		TxHash  string `json:"txHash"`
		Error   string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return verifyResult{}, fmt.Errorf("sellergate: decoding verify response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || (!decoded.Valid && !decoded.Success) {
		if decoded.Error != "" {
			return verifyResult{}, fmt.Errorf("%s", decoded.Error)
		}
		return verifyResult{}, fmt.Errorf("sellergate: facilitator rejected payment (status %d)", resp.StatusCode)
	}
	return verifyResult{txHash: decoded.TxHash}, nil
}

// report enqueues an analytics event and persists the settled/failed
// transaction the policy engine and revenue ledger depend on.
func (g *Gate) report(ep store.Endpoint, r *http.Request, receipt Receipt, split feekernel.Split, priceUnits int64, responseStatus int, latency time.Duration) {
	status := "failed"
	txStatus := store.TxFailed
	if responseStatus >= 200 && responseStatus < 400 {
		status = "settled"
		txStatus = store.TxSettled
	}

	g.cfg.Reporter.Enqueue(AnalyticsEvent{
		EndpointID:     ep.ID,
		Method:         r.Method,
		Path:           r.URL.Path,
		Receipt:        receipt,
		ResponseStatus: responseStatus,
		LatencyMs:      latency.Milliseconds(),
		FeeBreakdown:   split,
		Status:         status,
	})

	tx := store.Transaction{
		TxHash:         receipt.TxHash,
		AgentWallet:    receipt.From,
		SellerID:       ep.SellerID,
		EndpointID:     ep.ID,
		Path:           r.URL.Path,
		Method:         r.Method,
		Amount:         priceUnits,
		Chain:          receipt.Chain,
		Status:         txStatus,
		ResponseStatus: responseStatus,
		LatencyMs:      latency.Milliseconds(),
		RequestedAt:    receipt.Timestamp,
		SettledAt:      time.Now(),
		Split: store.FeeSplit{
			PlatformFee:    split.PlatformFee,
			SellerAmount:   split.SellerAmount,
			FeeBps:         split.FeeBps,
			PlatformWallet: split.PlatformWallet,
		},
	}
	var revenue *store.PlatformRevenue
	if txStatus == store.TxSettled && split.PlatformFee > 0 {
		revenue = &store.PlatformRevenue{
			Amount:      split.PlatformFee,
			Chain:       receipt.Chain,
			FeeBps:      split.FeeBps,
			CollectedAt: tx.SettledAt,
		}
	}
	if _, err := g.cfg.Store.RecordTransaction(g.cfg.StoreSecret, "", tx, revenue); err != nil {
		slog.Error("sellergate: recording transaction failed", "endpoint_id", ep.ID, "err", err)
	}
}

// statusRecorder captures the status code a downstream handler wrote so
// the gate can report it after ServeHTTP returns.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	wrote   bool
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.wrote = true
	rec.ResponseWriter.WriteHeader(status)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	if !rec.wrote {
		rec.status = http.StatusOK
		rec.wrote = true
	}
	return rec.ResponseWriter.Write(b)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// assetFor is a placeholder mapping of CAIP-2 network to the USDC contract
// or mint address; production configuration supplies this per-deployment,
// but endpoints only record network ids, not asset addresses, so the gate
// resolves them from a small built-in table covering the chains §2 names.
func assetFor(network string) string {
	switch network {
	case "eip155:8453": // Base mainnet
		return "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	case "eip155:84532": // Base Sepolia
		return "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	case "solana:mainnet":
		return "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	default:
		return ""
	}
}
