package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/confidential-loan-ledger/interfaces"
)

const (
	DefaultPendingTTL    = 24 * time.Hour
	DefaultSweepInterval = time.Minute
)

// Config holds ledger policy.
type Config struct {
	// Oracle is the only identity allowed to deliver decryption results.
	Oracle common.Address

	// PendingTTL bounds how long an unanswered request stays correlated.
	PendingTTL time.Duration

	// SweepInterval is how often Run evicts expired requests.
	SweepInterval time.Duration

	// CallbackURL is handed to the oracle with every request. Empty means the
	// oracle delivers in-process.
	CallbackURL string

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Ledger coordinates encrypted applications, oracle decryption requests and
// encrypted per-category counters. All mutations are serialized by mu, which
// is held across the oracle submission so that a callback can never race the
// storing of its pending entry.
type Ledger struct {
	mu sync.Mutex

	cfg      Config
	store    interfaces.LedgerStore
	blobs    interfaces.StorageBackend
	crypto   interfaces.CryptoProvider
	oracle   interfaces.Oracle
	verifier interfaces.AttestationVerifier
	log      *slog.Logger
}

func New(cfg Config, store interfaces.LedgerStore, blobs interfaces.StorageBackend, crypto interfaces.CryptoProvider, oracle interfaces.Oracle, verifier interfaces.AttestationVerifier, log *slog.Logger) (*Ledger, error) {
	if store == nil || blobs == nil || crypto == nil || oracle == nil || verifier == nil {
		return nil, errors.New("ledger: store, blobs, crypto, oracle and verifier are required")
	}
	if cfg.Oracle == (common.Address{}) {
		return nil, errors.New("ledger: oracle identity is required")
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = DefaultPendingTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if log == nil {
		log = slog.Default()
	}

	return &Ledger{
		cfg:      cfg,
		store:    store,
		blobs:    blobs,
		crypto:   crypto,
		oracle:   oracle,
		verifier: verifier,
		log:      log,
	}, nil
}

func (l *Ledger) now() time.Time {
	return l.cfg.Clock().UTC()
}

func (l *Ledger) appendEvent(ctx context.Context, tx interfaces.LedgerTx, event interfaces.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now()
	}
	return tx.AppendEvent(ctx, event)
}
