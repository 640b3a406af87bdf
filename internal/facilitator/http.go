package facilitator

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/x402gw/core/internal/security"
	"github.com/x402gw/core/internal/store"
)

// Routes builds the facilitator's HTTP surface: POST /pay, GET /pay/{id},
// POST /forward/{id}, POST /verify, GET /health.
func (s *Service) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /pay", s.handlePay)
	mux.HandleFunc("GET /pay/{id}", s.handleGetPay)
	mux.HandleFunc("POST /forward/{id}", s.handleForward)
	mux.HandleFunc("POST /verify", s.handleVerify)
	mux.HandleFunc("GET /health", s.handleHealth)
	return security.Headers(mux)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Service) handlePay(w http.ResponseWriter, r *http.Request) {
	var req PayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("facilitator: malformed request body: %w", err))
		return
	}
	resp, err := s.Pay(r.Context(), req)
	if err != nil {
		slog.Warn("facilitator: /pay rejected", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Service) handleGetPay(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	record, ok := s.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("facilitator: no payment with id %q", id))
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Service) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("facilitator: malformed request body: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, s.Verify(req))
}

// handleForward replays the original request to original_url, only if the
// payment has reached completed, and streams back the origin's response.
func (s *Service) handleForward(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	record, ok := s.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("facilitator: no payment with id %q", id))
		return
	}
	if record.Status != store.FPCompleted {
		writeError(w, http.StatusConflict, fmt.Errorf("facilitator: payment %q is not completed (status=%s)", id, record.Status))
		return
	}

	ctx := r.Context()
	method := record.OriginalMethod
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if record.OriginalBody != "" {
		body = strings.NewReader(record.OriginalBody)
	}
	originReq, err := http.NewRequestWithContext(ctx, method, record.OriginalURL, body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("facilitator: building forward request: %w", err))
		return
	}
	for k, v := range record.OriginalHeaders {
		originReq.Header.Set(k, v)
	}
	originReq.Header.Set("X-Payment-Receipt", record.TxHash)

	client := s.cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	originResp, err := client.Do(originReq)
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Errorf("facilitator: forwarding to origin: %w", err))
		return
	}
	defer originResp.Body.Close()

	for k, vs := range originResp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(originResp.StatusCode)
	_, _ = io.Copy(w, originResp.Body)
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
