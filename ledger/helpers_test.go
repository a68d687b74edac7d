package ledger

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/confidential-loan-ledger/cryptoutils"
	"github.com/ruteri/confidential-loan-ledger/fhe"
	"github.com/ruteri/confidential-loan-ledger/interfaces"
	"github.com/ruteri/confidential-loan-ledger/storage"
	"github.com/ruteri/confidential-loan-ledger/store"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/bgv"
)

type mockOracle struct {
	mock.Mock
}

func (m *mockOracle) SubmitDecryptionRequest(ctx context.Context, req interfaces.DecryptionRequest) (interfaces.RequestID, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(interfaces.RequestID), args.Error(1)
}

var (
	keysOnce sync.Once
	params   bgv.Parameters
	sk       *rlwe.SecretKey
	pk       *rlwe.PublicKey
)

func testKeys(t *testing.T) (bgv.Parameters, *rlwe.SecretKey, *rlwe.PublicKey) {
	t.Helper()
	keysOnce.Do(func() {
		var err error
		params, err = fhe.DefaultParameters()
		if err != nil {
			panic(err)
		}
		sk, pk = fhe.GenerateKeys(params)
	})
	return params, sk, pk
}

type testEnv struct {
	ledger    *Ledger
	oracle    *mockOracle
	prover    *cryptoutils.SignatureProver
	provider  *fhe.Provider
	decryptor *fhe.Decryptor
	blobs     *storage.MemoryBackend
	store     *store.MemoryStore

	clockMu sync.Mutex
	now     time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	params, sk, pk := testKeys(t)
	provider, err := fhe.NewProvider(params, pk)
	require.NoError(t, err)
	decryptor, err := fhe.NewDecryptor(params, sk)
	require.NoError(t, err)

	oracleKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	prover := cryptoutils.NewSignatureProver(oracleKey)

	env := &testEnv{
		oracle:    &mockOracle{},
		prover:    prover,
		provider:  provider,
		decryptor: decryptor,
		blobs:     storage.NewMemoryBackend("test", logger),
		store:     store.NewMemoryStore(),
		now:       time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}

	env.ledger, err = New(Config{
		Oracle:     prover.Address(),
		PendingTTL: time.Hour,
		Clock:      env.clock,
	}, env.store, env.blobs, provider, env.oracle, &cryptoutils.SignatureVerifier{Signer: prover.Address()}, logger)
	require.NoError(t, err)

	return env
}

func (e *testEnv) clock() time.Time {
	e.clockMu.Lock()
	defer e.clockMu.Unlock()
	return e.now
}

func (e *testEnv) advance(d time.Duration) {
	e.clockMu.Lock()
	defer e.clockMu.Unlock()
	e.now = e.now.Add(d)
}

func (e *testEnv) submit(t *testing.T, applicant common.Address, farm, yield string, loan uint64) interfaces.ApplicationID {
	t.Helper()

	encFarm, err := e.provider.EncryptString(farm)
	require.NoError(t, err)
	encYield, err := e.provider.EncryptString(yield)
	require.NoError(t, err)
	encLoan, err := e.provider.EncryptUint64(loan)
	require.NoError(t, err)

	id, err := e.ledger.Submit(context.Background(), applicant, SubmitInput{
		EncFarmData:   encFarm,
		EncYield:      encYield,
		EncLoanAmount: encLoan,
	})
	require.NoError(t, err)
	return id
}

func (e *testEnv) request(t *testing.T, applicant common.Address, id interfaces.ApplicationID, requestID interfaces.RequestID) {
	t.Helper()
	e.oracle.On("SubmitDecryptionRequest", mock.Anything, mock.Anything).Return(requestID, nil).Once()

	got, err := e.ledger.RequestDecryption(context.Background(), applicant, id)
	require.NoError(t, err)
	require.Equal(t, requestID, got)
}

func (e *testEnv) callback(t *testing.T, requestID interfaces.RequestID, farm, yield string, loan uint64) error {
	t.Helper()

	cleartexts, err := cryptoutils.EncodeApplicationCleartexts(cryptoutils.ApplicationCleartexts{
		FarmData:        farm,
		YieldPrediction: yield,
		RecommendedLoan: loan,
	})
	require.NoError(t, err)

	proof, err := e.prover.Prove(requestID, cleartexts)
	require.NoError(t, err)

	return e.ledger.ApplyDecryption(context.Background(), e.prover.Address(), requestID, cleartexts, proof)
}

// reveal runs submit, request and callback for one application.
func (e *testEnv) reveal(t *testing.T, applicant common.Address, requestID interfaces.RequestID, yield string) interfaces.ApplicationID {
	t.Helper()
	id := e.submit(t, applicant, "farm of "+applicant.Hex(), yield, 1000)
	e.request(t, applicant, id, requestID)
	require.NoError(t, e.callback(t, requestID, "farm of "+applicant.Hex(), yield, 1000))
	return id
}

// counterValue decrypts the current counter of label.
func (e *testEnv) counterValue(t *testing.T, label string) uint64 {
	t.Helper()

	counter, err := e.ledger.GetCounter(context.Background(), label)
	require.NoError(t, err)
	blob, err := e.blobs.Fetch(context.Background(), counter.Handle, interfaces.CounterCiphertext)
	require.NoError(t, err)
	v, err := e.decryptor.DecryptUint64(blob)
	require.NoError(t, err)
	return v
}

func (e *testEnv) events(t *testing.T) []interfaces.Event {
	t.Helper()

	var events []interfaces.Event
	require.NoError(t, e.store.View(context.Background(), func(tx interfaces.LedgerTx) (err error) {
		events, err = tx.UnpublishedEvents(context.Background(), 0)
		return err
	}))
	return events
}

func eventKinds(events []interfaces.Event) []interfaces.EventKind {
	kinds := make([]interfaces.EventKind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
	}
	return kinds
}

var (
	alice = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)
