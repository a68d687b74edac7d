package ledgerhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/ruteri/confidential-loan-ledger/api"
	"github.com/ruteri/confidential-loan-ledger/cryptoutils"
	"github.com/ruteri/confidential-loan-ledger/interfaces"
	"github.com/ruteri/confidential-loan-ledger/ledger"
	"github.com/ruteri/confidential-loan-ledger/oracle"
)

// maxBodySize bounds request bodies. Three BGV ciphertexts encoded as base64 fit comfortably.
const maxBodySize = 16 * 1024 * 1024

// Ledger is the subset of *ledger.Ledger served over HTTP.
type Ledger interface {
	Submit(ctx context.Context, applicant common.Address, in ledger.SubmitInput) (interfaces.ApplicationID, error)
	GetApplication(ctx context.Context, id interfaces.ApplicationID) (interfaces.EncryptedApplication, error)
	GetRevealed(ctx context.Context, id interfaces.ApplicationID) (interfaces.RevealedApplication, error)
	RequestDecryption(ctx context.Context, caller common.Address, id interfaces.ApplicationID) (interfaces.RequestID, error)
	Categories(ctx context.Context) ([]string, error)
	GetCounter(ctx context.Context, label string) (interfaces.CategoryCounter, error)
	GetRevealedCount(ctx context.Context, label string) (interfaces.RevealedCount, error)
	RequestCounterDecryption(ctx context.Context, caller common.Address, label string) (interfaces.RequestID, error)
	CategoryFromDigest(ctx context.Context, d interfaces.CategoryDigest) (string, error)
	ApplyDecryption(ctx context.Context, caller common.Address, requestID interfaces.RequestID, cleartexts []byte, proof []byte) error
}

// Handler serves the ledger API. Mutating requests must be signed with
// cryptoutils.SignRequest; the recovered address is the caller identity.
type Handler struct {
	ledger Ledger
	log    *slog.Logger
	now    func() time.Time
}

func NewHandler(l Ledger, log *slog.Logger) *Handler {
	return &Handler{
		ledger: l,
		log:    log,
		now:    time.Now,
	}
}

// RegisterRoutes configures the HTTP router with the ledger endpoints:
//   - POST /api/applications - Submit an encrypted application
//   - GET /api/applications/{id} - Encrypted application record
//   - GET /api/applications/{id}/revealed - Revealed twin
//   - POST /api/applications/{id}/decryption - Ask the oracle to reveal an application
//   - GET /api/categories - Known category labels in first-seen order
//   - GET /api/categories/by-digest/{digest} - Reverse lookup of a label digest
//   - GET /api/categories/{label}/counter - Encrypted counter
//   - POST /api/categories/{label}/decryption - Ask the oracle to reveal a counter
//   - GET /api/categories/{label}/revealed-count - Last revealed counter value
//   - POST /api/decryptions - Oracle callback
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/applications", h.HandleSubmit)
	r.Get("/api/applications/{id}", h.HandleGetApplication)
	r.Get("/api/applications/{id}/revealed", h.HandleGetRevealed)
	r.Post("/api/applications/{id}/decryption", h.HandleRequestDecryption)

	r.Get("/api/categories", h.HandleCategories)
	r.Get("/api/categories/by-digest/{digest}", h.HandleCategoryFromDigest)
	r.Get("/api/categories/{label}/counter", h.HandleGetCounter)
	r.Post("/api/categories/{label}/decryption", h.HandleRequestCounterDecryption)
	r.Get("/api/categories/{label}/revealed-count", h.HandleGetRevealedCount)

	r.Post("/api/decryptions", h.HandleDecryptionCallback)
}

// HandleSubmit stores a new application owned by the signer of the request.
//
// Status codes:
//   - 201 Created: application stored
//   - 400 Bad Request: malformed body or invalid ciphertexts
//   - 401 Unauthorized: missing or invalid request signature
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req api.SubmitApplicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Errorf("invalid request body: %w", err).Error(), http.StatusBadRequest)
		return
	}

	id, err := h.ledger.Submit(r.Context(), caller, ledger.SubmitInput{
		EncFarmData:   req.EncFarmData,
		EncYield:      req.EncYield,
		EncLoanAmount: req.EncLoanAmount,
	})
	if err != nil {
		h.writeError(w, "failed to submit application", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, api.SubmitApplicationResponse{ID: id})
}

func (h *Handler) HandleGetApplication(w http.ResponseWriter, r *http.Request) {
	id, ok := parseApplicationID(w, r)
	if !ok {
		return
	}

	app, err := h.ledger.GetApplication(r.Context(), id)
	if err != nil {
		h.writeError(w, "failed to get application", err)
		return
	}

	h.writeJSON(w, http.StatusOK, api.ApplicationResponse{
		ID:            app.ID,
		Applicant:     app.Applicant.Hex(),
		EncFarmData:   app.EncFarmData.String(),
		EncYield:      app.EncYield.String(),
		EncLoanAmount: app.EncLoanAmount.String(),
		CreatedAt:     app.CreatedAt,
	})
}

// HandleGetRevealed returns the revealed twin of an application. An
// unrevealed application yields 200 with revealed=false and empty fields.
func (h *Handler) HandleGetRevealed(w http.ResponseWriter, r *http.Request) {
	id, ok := parseApplicationID(w, r)
	if !ok {
		return
	}

	rev, err := h.ledger.GetRevealed(r.Context(), id)
	if err != nil {
		h.writeError(w, "failed to get revealed application", err)
		return
	}

	resp := api.RevealedApplicationResponse{
		ID:              id,
		FarmData:        rev.FarmData,
		YieldPrediction: rev.YieldPrediction,
		RecommendedLoan: rev.RecommendedLoan,
		Revealed:        rev.Revealed,
	}
	if rev.Revealed {
		resp.RevealedAt = &rev.RevealedAt
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleRequestDecryption forwards an application to the oracle. Only the
// applicant may ask.
//
// Status codes:
//   - 202 Accepted: request handed to the oracle
//   - 403 Forbidden: caller is not the applicant
//   - 404 Not Found: unknown application
//   - 409 Conflict: already revealed
//   - 503 Service Unavailable: oracle queue full
func (h *Handler) HandleRequestDecryption(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	id, ok := parseApplicationID(w, r)
	if !ok {
		return
	}

	requestID, err := h.ledger.RequestDecryption(r.Context(), caller, id)
	if err != nil {
		h.writeError(w, "failed to request decryption", err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, api.DecryptionRequestResponse{RequestID: requestID})
}

func (h *Handler) HandleCategories(w http.ResponseWriter, r *http.Request) {
	labels, err := h.ledger.Categories(r.Context())
	if err != nil {
		h.writeError(w, "failed to list categories", err)
		return
	}
	if labels == nil {
		labels = []string{}
	}
	h.writeJSON(w, http.StatusOK, api.CategoriesResponse{Categories: labels})
}

func (h *Handler) HandleCategoryFromDigest(w http.ResponseWriter, r *http.Request) {
	digest, err := interfaces.NewCategoryDigestFromHex(chi.URLParam(r, "digest"))
	if err != nil {
		http.Error(w, fmt.Errorf("invalid digest: %w", err).Error(), http.StatusBadRequest)
		return
	}

	label, err := h.ledger.CategoryFromDigest(r.Context(), digest)
	if err != nil {
		h.writeError(w, "failed to look up category", err)
		return
	}

	h.writeJSON(w, http.StatusOK, api.CategoryLookupResponse{Digest: digest.String(), Label: label})
}

func (h *Handler) HandleGetCounter(w http.ResponseWriter, r *http.Request) {
	label, ok := parseLabel(w, r)
	if !ok {
		return
	}

	counter, err := h.ledger.GetCounter(r.Context(), label)
	if err != nil {
		h.writeError(w, "failed to get counter", err)
		return
	}

	h.writeJSON(w, http.StatusOK, api.CounterResponse{
		Label:     counter.Label,
		Digest:    counter.Digest.String(),
		Handle:    counter.Handle.String(),
		Version:   counter.Version,
		UpdatedAt: counter.UpdatedAt,
	})
}

func (h *Handler) HandleRequestCounterDecryption(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	label, ok := parseLabel(w, r)
	if !ok {
		return
	}

	requestID, err := h.ledger.RequestCounterDecryption(r.Context(), caller, label)
	if err != nil {
		h.writeError(w, "failed to request counter decryption", err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, api.DecryptionRequestResponse{RequestID: requestID})
}

func (h *Handler) HandleGetRevealedCount(w http.ResponseWriter, r *http.Request) {
	label, ok := parseLabel(w, r)
	if !ok {
		return
	}

	count, err := h.ledger.GetRevealedCount(r.Context(), label)
	if err != nil {
		h.writeError(w, "failed to get revealed count", err)
		return
	}

	h.writeJSON(w, http.StatusOK, api.RevealedCountResponse{
		Label:      count.Label,
		Count:      count.Count,
		Version:    count.Version,
		RequestID:  count.RequestID,
		RevealedAt: count.RevealedAt,
	})
}

// HandleDecryptionCallback applies an oracle result. The request must be
// signed by the configured oracle identity.
//
// Status codes:
//   - 204 No Content: result applied
//   - 400 Bad Request: invalid proof
//   - 403 Forbidden: signer is not the oracle
//   - 404 Not Found: unknown or expired request
//   - 409 Conflict: target already revealed
//   - 422 Unprocessable Entity: cleartexts do not decode
func (h *Handler) HandleDecryptionCallback(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var result interfaces.DecryptionResult
	if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
		http.Error(w, fmt.Errorf("invalid request body: %w", err).Error(), http.StatusBadRequest)
		return
	}

	err := h.ledger.ApplyDecryption(r.Context(), caller, result.RequestID, result.Cleartexts, result.Proof)
	if err != nil {
		h.writeError(w, "failed to apply decryption", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// authenticate recovers the signer and limits the body size. It writes 401
// and returns false on failure.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	caller, err := cryptoutils.RecoverRequestSigner(r, h.now())
	if err != nil {
		h.log.Debug("Rejected unsigned request", "path", r.URL.Path, "err", err)
		http.Error(w, fmt.Errorf("authentication failed: %w", err).Error(), http.StatusUnauthorized)
		return common.Address{}, false
	}
	return caller, true
}

func (h *Handler) writeError(w http.ResponseWriter, msg string, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error(msg, "err", err)
	} else {
		h.log.Debug(msg, "err", err, "status", status)
	}
	http.Error(w, fmt.Errorf("%s: %w", msg, err).Error(), status)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

// StatusFor maps ledger errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, interfaces.ErrNotFound),
		errors.Is(err, interfaces.ErrCategoryNotFound),
		errors.Is(err, interfaces.ErrUnknownRequest):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrAlreadyRevealed),
		errors.Is(err, interfaces.ErrCounterOverflow):
		return http.StatusConflict
	case errors.Is(err, interfaces.ErrMalformedPayload):
		return http.StatusUnprocessableEntity
	case errors.Is(err, interfaces.ErrInvalidProof),
		errors.Is(err, interfaces.ErrInvalidCiphertext):
		return http.StatusBadRequest
	case errors.Is(err, interfaces.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, oracle.ErrQueueFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func parseApplicationID(w http.ResponseWriter, r *http.Request) (interfaces.ApplicationID, bool) {
	id, err := interfaces.ParseApplicationID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// parseLabel returns the category label path segment, decoded exactly once.
// chi matches against RawPath when the request has one and against the
// already decoded Path otherwise.
func parseLabel(w http.ResponseWriter, r *http.Request) (string, bool) {
	label := chi.URLParam(r, "label")
	var err error
	if r.URL.RawPath != "" {
		label, err = url.PathUnescape(label)
	}
	if err != nil || label == "" {
		http.Error(w, "invalid category label", http.StatusBadRequest)
		return "", false
	}
	return label, true
}
