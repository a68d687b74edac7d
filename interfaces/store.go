package interfaces

import (
	"context"
	"time"
)

// LedgerStore persists ledger state. Update runs fn in a read-write transaction
// that commits only if fn returns nil; View runs fn read-only.
type LedgerStore interface {
	Update(ctx context.Context, fn func(tx LedgerTx) error) error
	View(ctx context.Context, fn func(tx LedgerTx) error) error
	Close() error
}

// LedgerTx is the set of operations available inside a transaction.
// Lookups of missing rows return the matching sentinel error
// (ErrNotFound, ErrUnknownRequest, ErrCategoryNotFound).
type LedgerTx interface {
	NextApplicationID(ctx context.Context) (ApplicationID, error)
	PutApplication(ctx context.Context, app EncryptedApplication) error
	GetApplication(ctx context.Context, id ApplicationID) (EncryptedApplication, error)
	PutRevealed(ctx context.Context, id ApplicationID, revealed RevealedApplication) error
	GetRevealed(ctx context.Context, id ApplicationID) (RevealedApplication, error)

	PutPending(ctx context.Context, req PendingRequest) error
	GetPending(ctx context.Context, id RequestID) (PendingRequest, error)
	CountPending(ctx context.Context) (int, error)
	DeletePendingExpired(ctx context.Context, now time.Time) (int, error)

	GetCounter(ctx context.Context, label string) (CategoryCounter, error)
	PutCounter(ctx context.Context, counter CategoryCounter) error
	AppendCategory(ctx context.Context, label string) error
	Categories(ctx context.Context) ([]string, error)
	PutRevealedCount(ctx context.Context, count RevealedCount) error
	GetRevealedCount(ctx context.Context, label string) (RevealedCount, error)

	AppendEvent(ctx context.Context, event Event) error
	UnpublishedEvents(ctx context.Context, limit int) ([]Event, error)
	MarkEventsPublished(ctx context.Context, upTo uint64) error
}
