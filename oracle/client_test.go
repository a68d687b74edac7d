package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/miekg/dns"
	"github.com/ruteri/confidential-loan-ledger/cryptoutils"
	"github.com/ruteri/confidential-loan-ledger/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestClient_Failover(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := crypto.PubkeyToAddress(key.PublicKey)

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer down.Close()

	var got interfaces.DecryptionRequest
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, SubmitPath, r.URL.Path)
		caller, err := cryptoutils.RecoverRequestSigner(r, time.Now())
		if !assert.NoError(t, err) {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		assert.Equal(t, signer, caller)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(SubmitResponse{RequestID: "req-1"})
	}))
	defer up.Close()

	client := NewClient([]string{down.URL, up.URL + "/"}, key)
	req := interfaces.DecryptionRequest{
		Ciphertexts: []interfaces.CiphertextRef{{Type: interfaces.Uint64Value, Space: interfaces.CounterCiphertext}},
		Callback:    "http://ledger/api/decryptions",
	}

	requestID, err := client.SubmitDecryptionRequest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, interfaces.RequestID("req-1"), requestID)
	assert.Equal(t, req, got)

	_, err = NewClient([]string{down.URL}, key).SubmitDecryptionRequest(context.Background(), req)
	assert.ErrorContains(t, err, "503")

	_, err = NewClient(nil, key).SubmitDecryptionRequest(context.Background(), req)
	assert.Error(t, err)
}

func TestHTTPDeliverer(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	status := http.StatusOK
	var received interfaces.DecryptionResult
	var caller common.Address
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, _ = cryptoutils.RecoverRequestSigner(r, time.Now())
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(status)
	}))
	defer server.Close()

	deliverer := &HTTPDeliverer{Key: key}
	result := interfaces.DecryptionResult{RequestID: "r", Cleartexts: []byte{1, 2}, Proof: []byte{3}}

	require.NoError(t, deliverer.Deliver(context.Background(), server.URL, result))
	assert.Equal(t, result, received)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), caller)

	status = http.StatusConflict
	assert.ErrorIs(t, deliverer.Deliver(context.Background(), server.URL, result), ErrRejected)

	status = http.StatusBadGateway
	err = deliverer.Deliver(context.Background(), server.URL, result)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrRejected)

	assert.ErrorIs(t, deliverer.Deliver(context.Background(), "", result), ErrRejected)
}

type mockCallback struct {
	mock.Mock
}

func (m *mockCallback) ApplyDecryption(ctx context.Context, caller common.Address, requestID interfaces.RequestID, cleartexts []byte, proof []byte) error {
	args := m.Called(ctx, caller, requestID, cleartexts, proof)
	return args.Error(0)
}

func TestLocalDeliverer(t *testing.T) {
	identity := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	result := interfaces.DecryptionResult{RequestID: "r", Cleartexts: []byte{1}, Proof: []byte{2}}

	callback := &mockCallback{}
	callback.On("ApplyDecryption", mock.Anything, identity, result.RequestID, result.Cleartexts, result.Proof).Return(nil).Once()
	callback.On("ApplyDecryption", mock.Anything, identity, result.RequestID, result.Cleartexts, result.Proof).Return(interfaces.ErrAlreadyRevealed).Once()
	callback.On("ApplyDecryption", mock.Anything, identity, result.RequestID, result.Cleartexts, result.Proof).Return(errors.New("db down")).Once()

	deliverer := &LocalDeliverer{Callback: callback, Identity: identity}
	ctx := context.Background()

	assert.NoError(t, deliverer.Deliver(ctx, "", result))

	err := deliverer.Deliver(ctx, "", result)
	assert.ErrorIs(t, err, ErrRejected)
	assert.ErrorIs(t, err, interfaces.ErrAlreadyRevealed)

	err = deliverer.Deliver(ctx, "", result)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrRejected)

	callback.AssertExpectations(t)

	assert.Error(t, (&LocalDeliverer{}).Deliver(ctx, "", result))
}

func TestSRVEndpoints(t *testing.T) {
	srv := func(target string, port, priority, weight uint16) dns.RR {
		return &dns.SRV{
			Hdr:      dns.RR_Header{Name: "_relayer._tcp.ledger.internal.", Rrtype: dns.TypeSRV, Class: dns.ClassINET},
			Priority: priority,
			Weight:   weight,
			Port:     port,
			Target:   target,
		}
	}

	endpoints, err := srvEndpoints([]dns.RR{
		srv("backup.ledger.internal.", 8080, 20, 100),
		&dns.A{Hdr: dns.RR_Header{Name: "ignored.", Rrtype: dns.TypeA, Class: dns.ClassINET}},
		srv("light.ledger.internal.", 8080, 10, 5),
		srv("heavy.ledger.internal.", 9090, 10, 50),
	}, "https")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://heavy.ledger.internal:9090",
		"https://light.ledger.internal:8080",
		"https://backup.ledger.internal:8080",
	}, endpoints)

	_, err = srvEndpoints(nil, "http")
	assert.Error(t, err)
}
