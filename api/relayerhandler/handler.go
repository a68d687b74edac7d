package relayerhandler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/ruteri/confidential-loan-ledger/cryptoutils"
	"github.com/ruteri/confidential-loan-ledger/interfaces"
	"github.com/ruteri/confidential-loan-ledger/oracle"
)

const maxBodySize = 1024 * 1024

// Handler accepts decryption requests on behalf of a relayer.
type Handler struct {
	oracle  interfaces.Oracle
	allowed map[common.Address]struct{}
	log     *slog.Logger
	now     func() time.Time
}

// NewHandler creates a handler submitting to o. When allowed is non-empty only
// requests signed by one of those addresses are accepted.
func NewHandler(o interfaces.Oracle, allowed []common.Address, log *slog.Logger) *Handler {
	h := &Handler{
		oracle:  o,
		allowed: make(map[common.Address]struct{}, len(allowed)),
		log:     log,
		now:     time.Now,
	}
	for _, addr := range allowed {
		h.allowed[addr] = struct{}{}
	}
	return h
}

// RegisterRoutes registers POST /api/decryption-requests.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post(oracle.SubmitPath, h.HandleSubmit)
}

// HandleSubmit queues a decryption request.
//
// Status codes:
//   - 202 Accepted: request queued, body carries the request id
//   - 400 Bad Request: malformed or invalid request
//   - 401 Unauthorized: signature missing, invalid or from an unknown ledger
//   - 503 Service Unavailable: queue full
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	if len(h.allowed) > 0 {
		signer, err := cryptoutils.RecoverRequestSigner(r, h.now())
		if err != nil {
			http.Error(w, fmt.Errorf("authentication failed: %w", err).Error(), http.StatusUnauthorized)
			return
		}
		if _, ok := h.allowed[signer]; !ok {
			h.log.Warn("Decryption request from unknown ledger", "signer", signer.Hex())
			http.Error(w, "signer not allowed", http.StatusUnauthorized)
			return
		}
	}

	var req interfaces.DecryptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Errorf("invalid request body: %w", err).Error(), http.StatusBadRequest)
		return
	}

	requestID, err := h.oracle.SubmitDecryptionRequest(r.Context(), req)
	switch {
	case errors.Is(err, oracle.ErrInvalidRequest):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, oracle.ErrQueueFull):
		w.Header().Set("Retry-After", "1")
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		h.log.Error("Failed to submit decryption request", "err", err)
		http.Error(w, fmt.Errorf("failed to submit decryption request: %w", err).Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(oracle.SubmitResponse{RequestID: requestID}); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}
