package ledgerhandler

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-chi/chi/v5"
	"github.com/ruteri/confidential-loan-ledger/api"
	"github.com/ruteri/confidential-loan-ledger/cryptoutils"
	"github.com/ruteri/confidential-loan-ledger/interfaces"
	"github.com/ruteri/confidential-loan-ledger/ledger"
	"github.com/ruteri/confidential-loan-ledger/oracle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) Submit(ctx context.Context, applicant common.Address, in ledger.SubmitInput) (interfaces.ApplicationID, error) {
	args := m.Called(ctx, applicant, in)
	return args.Get(0).(interfaces.ApplicationID), args.Error(1)
}

func (m *mockLedger) GetApplication(ctx context.Context, id interfaces.ApplicationID) (interfaces.EncryptedApplication, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(interfaces.EncryptedApplication), args.Error(1)
}

func (m *mockLedger) GetRevealed(ctx context.Context, id interfaces.ApplicationID) (interfaces.RevealedApplication, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(interfaces.RevealedApplication), args.Error(1)
}

func (m *mockLedger) RequestDecryption(ctx context.Context, caller common.Address, id interfaces.ApplicationID) (interfaces.RequestID, error) {
	args := m.Called(ctx, caller, id)
	return args.Get(0).(interfaces.RequestID), args.Error(1)
}

func (m *mockLedger) Categories(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	labels, _ := args.Get(0).([]string)
	return labels, args.Error(1)
}

func (m *mockLedger) GetCounter(ctx context.Context, label string) (interfaces.CategoryCounter, error) {
	args := m.Called(ctx, label)
	return args.Get(0).(interfaces.CategoryCounter), args.Error(1)
}

func (m *mockLedger) GetRevealedCount(ctx context.Context, label string) (interfaces.RevealedCount, error) {
	args := m.Called(ctx, label)
	return args.Get(0).(interfaces.RevealedCount), args.Error(1)
}

func (m *mockLedger) RequestCounterDecryption(ctx context.Context, caller common.Address, label string) (interfaces.RequestID, error) {
	args := m.Called(ctx, caller, label)
	return args.Get(0).(interfaces.RequestID), args.Error(1)
}

func (m *mockLedger) CategoryFromDigest(ctx context.Context, d interfaces.CategoryDigest) (string, error) {
	args := m.Called(ctx, d)
	return args.String(0), args.Error(1)
}

func (m *mockLedger) ApplyDecryption(ctx context.Context, caller common.Address, requestID interfaces.RequestID, cleartexts []byte, proof []byte) error {
	args := m.Called(ctx, caller, requestID, cleartexts, proof)
	return args.Error(0)
}

func setupHandler(t *testing.T) (*mockLedger, http.Handler) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := &mockLedger{}
	mux := chi.NewRouter()
	NewHandler(l, logger).RegisterRoutes(mux)
	return l, mux
}

func signedRequest(t *testing.T, key *ecdsa.PrivateKey, method, path string, body any) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	if key != nil {
		require.NoError(t, cryptoutils.SignRequest(req, key, time.Now()))
	}
	return req
}

func TestHandleSubmit(t *testing.T) {
	l, mux := setupHandler(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	applicant := crypto.PubkeyToAddress(key.PublicKey)

	body := api.SubmitApplicationRequest{EncFarmData: []byte{1}, EncYield: []byte{2}, EncLoanAmount: []byte{3}}
	l.On("Submit", mock.Anything, applicant, ledger.SubmitInput{EncFarmData: []byte{1}, EncYield: []byte{2}, EncLoanAmount: []byte{3}}).
		Return(interfaces.ApplicationID(7), nil).Once()

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, signedRequest(t, key, http.MethodPost, "/api/applications", body))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp api.SubmitApplicationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, interfaces.ApplicationID(7), resp.ID)

	t.Run("unsigned", func(t *testing.T) {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, signedRequest(t, nil, http.MethodPost, "/api/applications", body))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("tampered body", func(t *testing.T) {
		req := signedRequest(t, key, http.MethodPost, "/api/applications", body)
		req.Body = io.NopCloser(bytes.NewReader([]byte(`{"encFarmData":"AA=="}`)))
		l.On("Submit", mock.Anything, mock.Anything, mock.Anything).Return(interfaces.ApplicationID(0), interfaces.ErrInvalidCiphertext).Maybe()

		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		// a different body recovers a different address, never the applicant
		assert.NotEqual(t, http.StatusCreated, w.Code)
	})

	l.AssertExpectations(t)
}

func TestHandleRequestDecryption_Errors(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	caller := crypto.PubkeyToAddress(key.PublicKey)

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "accepted", err: nil, wantStatus: http.StatusAccepted},
		{name: "unknown application", err: interfaces.ErrNotFound, wantStatus: http.StatusNotFound},
		{name: "not the applicant", err: interfaces.ErrUnauthorized, wantStatus: http.StatusForbidden},
		{name: "already revealed", err: interfaces.ErrAlreadyRevealed, wantStatus: http.StatusConflict},
		{name: "oracle busy", err: fmt.Errorf("submit to oracle: %w", oracle.ErrQueueFull), wantStatus: http.StatusServiceUnavailable},
		{name: "store failure", err: fmt.Errorf("connection reset"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, mux := setupHandler(t)
			l.On("RequestDecryption", mock.Anything, caller, interfaces.ApplicationID(3)).Return(interfaces.RequestID("req-3"), tt.err).Once()

			w := httptest.NewRecorder()
			mux.ServeHTTP(w, signedRequest(t, key, http.MethodPost, "/api/applications/3/decryption", struct{}{}))
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			l.AssertExpectations(t)
		})
	}

	t.Run("invalid id", func(t *testing.T) {
		_, mux := setupHandler(t)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, signedRequest(t, key, http.MethodPost, "/api/applications/0/decryption", struct{}{}))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandleDecryptionCallback(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	oracleAddr := crypto.PubkeyToAddress(key.PublicKey)
	result := interfaces.DecryptionResult{RequestID: "req-1", Cleartexts: []byte{1, 2, 3}, Proof: []byte{4}}

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "applied", wantStatus: http.StatusNoContent},
		{name: "unauthorized", err: interfaces.ErrUnauthorized, wantStatus: http.StatusForbidden},
		{name: "unknown request", err: interfaces.ErrUnknownRequest, wantStatus: http.StatusNotFound},
		{name: "already revealed", err: interfaces.ErrAlreadyRevealed, wantStatus: http.StatusConflict},
		{name: "invalid proof", err: fmt.Errorf("%w: bad signature", interfaces.ErrInvalidProof), wantStatus: http.StatusBadRequest},
		{name: "malformed payload", err: interfaces.ErrMalformedPayload, wantStatus: http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, mux := setupHandler(t)
			l.On("ApplyDecryption", mock.Anything, oracleAddr, result.RequestID, result.Cleartexts, result.Proof).Return(tt.err).Once()

			w := httptest.NewRecorder()
			mux.ServeHTTP(w, signedRequest(t, key, http.MethodPost, "/api/decryptions", result))
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			l.AssertExpectations(t)
		})
	}
}

func TestHandleReads(t *testing.T) {
	l, mux := setupHandler(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	l.On("GetRevealed", mock.Anything, interfaces.ApplicationID(1)).Return(interfaces.RevealedApplication{}, nil)
	l.On("GetRevealed", mock.Anything, interfaces.ApplicationID(2)).Return(interfaces.RevealedApplication{
		FarmData: "plot 7", YieldPrediction: "high", RecommendedLoan: 500, Revealed: true, RevealedAt: now,
	}, nil)
	l.On("GetRevealed", mock.Anything, interfaces.ApplicationID(9)).Return(interfaces.RevealedApplication{}, interfaces.ErrNotFound)
	l.On("Categories", mock.Anything).Return(nil, nil)

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	var rev api.RevealedApplicationResponse
	w := get("/api/applications/1/revealed")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rev))
	assert.False(t, rev.Revealed)
	assert.Nil(t, rev.RevealedAt)
	assert.Empty(t, rev.FarmData)

	w = get("/api/applications/2/revealed")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rev))
	assert.True(t, rev.Revealed)
	assert.Equal(t, "high", rev.YieldPrediction)
	assert.Equal(t, uint64(500), rev.RecommendedLoan)
	require.NotNil(t, rev.RevealedAt)
	assert.True(t, now.Equal(*rev.RevealedAt))

	assert.Equal(t, http.StatusNotFound, get("/api/applications/9/revealed").Code)
	assert.Equal(t, http.StatusBadRequest, get("/api/applications/abc/revealed").Code)
	assert.Equal(t, http.StatusBadRequest, get("/api/categories/by-digest/1234").Code)

	w = get("/api/categories")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"categories":[]}`, w.Body.String())

	for _, label := range []string{"winter wheat", "a%41", "50%", "a/b", "50%/x", "žito"} {
		t.Run("label "+label, func(t *testing.T) {
			l.On("GetCounter", mock.Anything, label).Return(interfaces.CategoryCounter{Label: label, Version: 3}, nil).Once()

			w := get(categoryPath(label, "counter"))
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			var counter api.CounterResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &counter))
			assert.Equal(t, uint64(3), counter.Version)
			l.AssertCalled(t, "GetCounter", mock.Anything, label)
		})
	}
}

func TestClient(t *testing.T) {
	l, mux := setupHandler(t)
	server := httptest.NewServer(mux)
	defer server.Close()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	caller := crypto.PubkeyToAddress(key.PublicKey)
	client := NewClient(server.URL, key)
	ctx := context.Background()

	label := "winter wheat"
	digest := ledger.CategoryDigest(label)

	l.On("GetCounter", mock.Anything, label).Return(interfaces.CategoryCounter{Label: label, Digest: digest, Version: 4}, nil)
	l.On("RequestCounterDecryption", mock.Anything, caller, label).Return(interfaces.RequestID("req-9"), nil).Once()
	l.On("RequestDecryption", mock.Anything, caller, interfaces.ApplicationID(5)).Return(interfaces.RequestID(""), interfaces.ErrAlreadyRevealed)
	l.On("CategoryFromDigest", mock.Anything, digest).Return(label, nil)
	l.On("GetRevealedCount", mock.Anything, "barley").Return(interfaces.RevealedCount{}, interfaces.ErrCategoryNotFound)

	counter, err := client.GetCounter(ctx, label)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), counter.Version)
	assert.Equal(t, digest.String(), counter.Digest)

	requestID, err := client.RequestCounterDecryption(ctx, label)
	require.NoError(t, err)
	assert.Equal(t, interfaces.RequestID("req-9"), requestID)

	_, err = client.RequestDecryption(ctx, 5)
	assert.ErrorIs(t, err, interfaces.ErrAlreadyRevealed)

	got, err := client.CategoryFromDigest(ctx, digest)
	require.NoError(t, err)
	assert.Equal(t, label, got)

	_, err = client.GetRevealedCount(ctx, "barley")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)

	_, err = NewClient(server.URL, nil).RequestCounterDecryption(ctx, label)
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)

	l.AssertExpectations(t)
}
