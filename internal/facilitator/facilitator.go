// Package facilitator implements the standalone payment relay (C4):
// intake of a signed authorization, idempotent persistence, asynchronous
// on-chain settlement, and replay of the original request once settled.
// It is the gateway's local facilitator generalized from a single USDC
// transfer() call to a client-signed transferWithAuthorization relay,
// in the idiom of the gateway's own local_facilitator.go.
package facilitator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/x402gw/core/internal/authtoken"
	"github.com/x402gw/core/internal/chain"
	"github.com/x402gw/core/internal/chain/evm"
	"github.com/x402gw/core/internal/retryutil"
	"github.com/x402gw/core/internal/store"
)

// PayRequest is the body of POST /pay.
type PayRequest struct {
	OriginalURL     string            `json:"original_url"`
	OriginalMethod  string            `json:"original_method"`
	OriginalHeaders map[string]string `json:"original_headers,omitempty"`
	OriginalBody    string            `json:"original_body,omitempty"`
	PaymentRequired PaymentRequirement `json:"payment_required"`
	Authorization   evm.Authorization `json:"authorization"`
	AgentWallet     string            `json:"agent_wallet"`
	AgentAuth       string            `json:"agent_auth"`
	IdempotencyKey  string            `json:"idempotency_key,omitempty"`
	PaymentID       string            `json:"payment_id,omitempty"`
}

// PaymentRequirement mirrors the x402 PaymentRequirement the seller gate
// advertised; the facilitator cross-checks the signed authorization
// against it before ever touching the chain.
type PaymentRequirement struct {
	Scheme            string `json:"scheme"`
	Network            string `json:"network"`
	MaxAmountRequired  string `json:"maxAmountRequired"`
	Description        string `json:"description"`
	PayTo              string `json:"payTo"`
	Asset              string `json:"asset"`
}

// PayResponse is returned by POST /pay.
type PayResponse struct {
	PaymentID string                   `json:"payment_id"`
	Status    store.FacilitatorStatus `json:"status"`
}

// VerifyRequest is the body of POST /verify.
type VerifyRequest struct {
	Authorization   evm.Authorization  `json:"authorization"`
	PaymentRequired PaymentRequirement `json:"payment_required"`
}

// VerifyResponse is returned by POST /verify.
type VerifyResponse struct {
	Valid  bool   `json:"valid"`
	TxHash string `json:"txHash,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Config groups the Service's dependencies.
type Config struct {
	Store          *store.Store
	StoreSecret    string
	Transferer     *evm.Transferer
	Tokens         *authtoken.Manager
	Confirmations  uint64
	ConfirmTimeout time.Duration
	HTTPClient     *http.Client
}

// Service is the facilitator (C4). Its HTTP routes are built by Routes
// (http.go), which cmd/facilitator serves; it also owns the background
// execution of payments it accepts.
type Service struct {
	cfg Config

	// inFlight deduplicates concurrent Submit calls for the same payment id
	// so the async worker never double-submits while one attempt is still
	// running (e.g. a client retrying a slow /pay before the first 202).
	inFlightMu sync.Mutex
	inFlight   map[string]bool
}

// New creates a facilitator Service.
func New(cfg Config) *Service {
	if cfg.Confirmations == 0 {
		cfg.Confirmations = 2
	}
	if cfg.ConfirmTimeout == 0 {
		cfg.ConfirmTimeout = 60 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Service{cfg: cfg, inFlight: make(map[string]bool)}
}

// ErrBlockedDestination is returned when original_url resolves to a
// loopback or RFC1918 address.
var ErrBlockedDestination = fmt.Errorf("facilitator: destination URL resolves to a blocked network range")

// validateDestination rejects original_url values that target the host's
// own network or other private infrastructure, per the intake contract.
func validateDestination(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("facilitator: invalid original_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("facilitator: original_url must be http(s)")
	}
	host := u.Hostname()
	ips, err := net.LookupIP(host)
	if err != nil {
		// Not our job to require DNS to succeed ahead of the actual forward;
		// a literal IP is the common case and resolves without a lookup.
		if ip := net.ParseIP(host); ip != nil {
			ips = []net.IP{ip}
		} else {
			return fmt.Errorf("facilitator: cannot resolve original_url host: %w", err)
		}
	}
	for _, ip := range ips {
		if isBlockedIP(ip) {
			return ErrBlockedDestination
		}
	}
	return nil
}

func isBlockedIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	privateRanges := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"169.254.0.0/16",
		"fc00::/7",
	}
	for _, cidr := range privateRanges {
		_, block, err := net.ParseCIDR(cidr)
		if err == nil && block.Contains(ip) {
			return true
		}
	}
	return false
}

// deriveIdempotencyKey computes a deterministic key, used when the caller
// omits idempotency_key, from the same tuple the agent wallet hashes at
// C5: (agent, url, method, body-hash, amountRequired).
func deriveIdempotencyKey(agentWallet, url, method, body, amount string) string {
	h := sha256.New()
	h.Write([]byte(agentWallet))
	h.Write([]byte{0})
	h.Write([]byte(url))
	h.Write([]byte{0})
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(body))
	h.Write([]byte{0})
	h.Write([]byte(amount))
	return hex.EncodeToString(h.Sum(nil))
}

// Pay handles the POST /pay intake contract: validate, dedupe by
// idempotency key, insert-or-upsert, and kick off asynchronous execution.
func (s *Service) Pay(ctx context.Context, req PayRequest) (PayResponse, error) {
	if err := validateDestination(req.OriginalURL); err != nil {
		return PayResponse{}, err
	}
	if req.Authorization.Network != req.PaymentRequired.Network {
		return PayResponse{}, &chain.ValidationError{Field: "network", Msg: "authorization network does not match matched requirement"}
	}

	if _, err := authtokenClaims(s.cfg.Tokens, req.AgentAuth); err != nil {
		return PayResponse{}, fmt.Errorf("facilitator: agent auth rejected: %w", err)
	}

	key := req.IdempotencyKey
	if key == "" {
		key = deriveIdempotencyKey(req.AgentWallet, req.OriginalURL, req.OriginalMethod, req.OriginalBody, req.PaymentRequired.MaxAmountRequired)
	}

	if existing, ok := s.findByIdempotencyKey(key); ok {
		return PayResponse{PaymentID: existing.ID, Status: existing.Status}, nil
	}

	id := req.PaymentID
	now := time.Now()
	record := store.FacilitatorPayment{
		IdempotencyKey:  key,
		OriginalURL:     req.OriginalURL,
		OriginalMethod:  req.OriginalMethod,
		OriginalHeaders: req.OriginalHeaders,
		OriginalBody:    req.OriginalBody,
		RequiredAmount:  req.PaymentRequired.MaxAmountRequired,
		RequiredAsset:   req.PaymentRequired.Asset,
		Network:         req.PaymentRequired.Network,
		AgentWallet:     req.AgentWallet,
		SellerAddress:   req.PaymentRequired.PayTo,
		Status:          store.FPPending,
		CreatedAt:       now,
	}

	newID, err := s.cfg.Store.PutFacilitatorPayment(s.cfg.StoreSecret, id, record)
	if err != nil {
		return PayResponse{}, fmt.Errorf("facilitator: persisting payment: %w", err)
	}

	go s.execute(context.Background(), newID, req.Authorization)

	return PayResponse{PaymentID: newID, Status: store.FPPending}, nil
}

func (s *Service) findByIdempotencyKey(key string) (store.FacilitatorPayment, bool) {
	matches := s.cfg.Store.FacilitatorPayments.Query("byIdempotencyKey").ByIndex(key).Take(1)
	if len(matches) == 0 {
		return store.FacilitatorPayment{}, false
	}
	return matches[0], true
}

// Get returns the current FacilitatorPayment record for GET /pay/:id.
func (s *Service) Get(id string) (store.FacilitatorPayment, bool) {
	return s.cfg.Store.FacilitatorPayments.Get(id)
}

// authtokenClaims validates agent_auth; a nil Tokens manager means
// authentication is disabled (used by tests exercising settlement logic
// in isolation).
func authtokenClaims(m *authtoken.Manager, token string) (*authtoken.Claims, error) {
	if m == nil {
		return &authtoken.Claims{}, nil
	}
	return m.Validate(token)
}

// execute drives one payment from pending through to completed/failed,
// transient failures retried per internal/retryutil.Delays before the
// payment is marked terminal. Called both from Pay and from Recover.
func (s *Service) execute(ctx context.Context, id string, auth evm.Authorization) {
	s.inFlightMu.Lock()
	if s.inFlight[id] {
		s.inFlightMu.Unlock()
		return
	}
	s.inFlight[id] = true
	s.inFlightMu.Unlock()
	defer func() {
		s.inFlightMu.Lock()
		delete(s.inFlight, id)
		s.inFlightMu.Unlock()
	}()

	record, ok := s.cfg.Store.FacilitatorPayments.Get(id)
	if !ok {
		slog.Error("facilitator: execute called for unknown payment", "payment_id", id)
		return
	}

	if _, err := evm.RecoverSigner(auth); err != nil {
		s.markFailed(id, record, err)
		return
	}

	record.Status = store.FPProcessing
	record.SubmitAttempts++
	if _, err := s.cfg.Store.PutFacilitatorPayment(s.cfg.StoreSecret, id, record); err != nil {
		slog.Error("facilitator: transition to processing failed", "payment_id", id, "err", err)
		return
	}

	result, err := retryutil.WithBackoff(ctx, isRetryableChainErr, func() (evm.Result, error) {
		return s.cfg.Transferer.Submit(ctx, auth)
	})
	if err != nil {
		s.markFailed(id, record, err)
		return
	}

	blockNumber, err := s.cfg.Transferer.Confirm(ctx, result.TxHash, s.cfg.Confirmations, s.cfg.ConfirmTimeout)
	if err != nil {
		s.markFailed(id, record, err)
		return
	}

	record.Status = store.FPCompleted
	record.TxHash = result.TxHash.Hex()
	record.BlockNumber = blockNumber
	record.CompletedAt = time.Now()
	if _, err := s.cfg.Store.PutFacilitatorPayment(s.cfg.StoreSecret, id, record); err != nil {
		slog.Error("facilitator: completing payment failed", "payment_id", id, "err", err)
		return
	}
	slog.Info("facilitator: payment settled", "payment_id", id, "tx_hash", record.TxHash, "block", blockNumber)
}

func isRetryableChainErr(err error) bool {
	_, ok := err.(*chain.TransientError)
	return ok
}

func (s *Service) markFailed(id string, record store.FacilitatorPayment, err error) {
	record.Status = store.FPFailed
	record.Error = err.Error()
	if _, perr := s.cfg.Store.PutFacilitatorPayment(s.cfg.StoreSecret, id, record); perr != nil {
		slog.Error("facilitator: marking payment failed also failed to persist", "payment_id", id, "err", perr)
	}
	slog.Warn("facilitator: payment failed", "payment_id", id, "err", err)
}

// Verify implements POST /verify: checks network, signature, payTo and
// amount against the requirement without consulting the store; it never
// submits.
func (s *Service) Verify(req VerifyRequest) VerifyResponse {
	if req.Authorization.Network != req.PaymentRequired.Network {
		return VerifyResponse{Valid: false, Error: "network mismatch"}
	}
	if _, err := evm.RecoverSigner(req.Authorization); err != nil {
		return VerifyResponse{Valid: false, Error: err.Error()}
	}
	if !strings.EqualFold(req.Authorization.To, req.PaymentRequired.PayTo) {
		return VerifyResponse{Valid: false, Error: "payTo mismatch"}
	}
	required, ok := new(big.Int).SetString(req.PaymentRequired.MaxAmountRequired, 10)
	if !ok {
		return VerifyResponse{Valid: false, Error: "malformed maxAmountRequired"}
	}
	value, ok := new(big.Int).SetString(req.Authorization.Value, 10)
	if !ok || value.Cmp(required) < 0 {
		return VerifyResponse{Valid: false, Error: "amount below requirement"}
	}
	return VerifyResponse{Valid: true}
}

// Recover implements startup recovery over {pending, processing} records.
// processing records with a txHash only need confirmation polling, and
// processing records without one are left as they are; pending records are
// resubmitted only when authByID holds their authorization.
func (s *Service) Recover(ctx context.Context, authByID map[string]evm.Authorization) {
	pending := s.cfg.Store.FacilitatorPayments.Query("byStatus").ByIndex(string(store.FPPending)).Take(10_000)
	processing := s.cfg.Store.FacilitatorPayments.Query("byStatus").ByIndex(string(store.FPProcessing)).Take(10_000)

	for _, rec := range processing {
		if rec.TxHash == "" {
			continue
		}
		go func(rec store.FacilitatorPayment) {
			blockNumber, err := s.cfg.Transferer.Confirm(ctx, common.Hash(parseTxHash(rec.TxHash)), s.cfg.Confirmations, s.cfg.ConfirmTimeout)
			if err != nil {
				s.markFailed(rec.ID, rec, err)
				return
			}
			rec.Status = store.FPCompleted
			rec.BlockNumber = blockNumber
			rec.CompletedAt = time.Now()
			if _, err := s.cfg.Store.PutFacilitatorPayment(s.cfg.StoreSecret, rec.ID, rec); err != nil {
				slog.Error("facilitator: recovery completion failed to persist", "payment_id", rec.ID, "err", err)
			}
		}(rec)
	}

	for _, rec := range pending {
		if rec.SubmitAttempts >= 3 {
			s.markFailed(rec.ID, rec, fmt.Errorf("facilitator: exceeded 3 submit attempts across restarts"))
			continue
		}
		auth, ok := authByID[rec.ID]
		if !ok {
			slog.Warn("facilitator: no authorization available to resume pending payment", "payment_id", rec.ID)
			continue
		}
		go s.execute(ctx, rec.ID, auth)
	}
}

func parseTxHash(hexStr string) (h [32]byte) {
	b, err := hex.DecodeString(strings.TrimPrefix(hexStr, "0x"))
	if err != nil || len(b) != 32 {
		return h
	}
	copy(h[:], b)
	return h
}
