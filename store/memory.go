package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ruteri/confidential-loan-ledger/interfaces"
)

var errReadOnly = errors.New("write in read-only transaction")

// MemoryStore keeps ledger state in process memory. Update transactions are
// serialized and rolled back through an undo log when fn fails.
type MemoryStore struct {
	mu sync.RWMutex

	lastID         interfaces.ApplicationID
	applications   map[interfaces.ApplicationID]interfaces.EncryptedApplication
	revealed       map[interfaces.ApplicationID]interfaces.RevealedApplication
	pending        map[interfaces.RequestID]interfaces.PendingRequest
	counters       map[string]interfaces.CategoryCounter
	categories     []string
	revealedCounts map[string]interfaces.RevealedCount

	lastSeq uint64
	outbox  []interfaces.Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		applications:   make(map[interfaces.ApplicationID]interfaces.EncryptedApplication),
		revealed:       make(map[interfaces.ApplicationID]interfaces.RevealedApplication),
		pending:        make(map[interfaces.RequestID]interfaces.PendingRequest),
		counters:       make(map[string]interfaces.CategoryCounter),
		revealedCounts: make(map[string]interfaces.RevealedCount),
	}
}

func (s *MemoryStore) Update(ctx context.Context, fn func(tx interfaces.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{s: s, writable: true}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *MemoryStore) View(ctx context.Context, fn func(tx interfaces.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(&memoryTx{s: s})
}

func (s *MemoryStore) Close() error { return nil }

type memoryTx struct {
	s        *MemoryStore
	writable bool
	undo     []func()
}

func (tx *memoryTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memoryTx) write(undo func()) error {
	if !tx.writable {
		return errReadOnly
	}
	tx.undo = append(tx.undo, undo)
	return nil
}

// restore returns an undo func putting m[k] back to its current state.
func restore[K comparable, V any](m map[K]V, k K) func() {
	old, existed := m[k]
	return func() {
		if existed {
			m[k] = old
		} else {
			delete(m, k)
		}
	}
}

func (tx *memoryTx) NextApplicationID(ctx context.Context) (interfaces.ApplicationID, error) {
	prev := tx.s.lastID
	if err := tx.write(func() { tx.s.lastID = prev }); err != nil {
		return 0, err
	}
	tx.s.lastID++
	return tx.s.lastID, nil
}

func (tx *memoryTx) PutApplication(ctx context.Context, app interfaces.EncryptedApplication) error {
	if err := tx.write(restore(tx.s.applications, app.ID)); err != nil {
		return err
	}
	tx.s.applications[app.ID] = app
	return nil
}

func (tx *memoryTx) GetApplication(ctx context.Context, id interfaces.ApplicationID) (interfaces.EncryptedApplication, error) {
	app, ok := tx.s.applications[id]
	if !ok {
		return interfaces.EncryptedApplication{}, interfaces.ErrNotFound
	}
	return app, nil
}

func (tx *memoryTx) PutRevealed(ctx context.Context, id interfaces.ApplicationID, revealed interfaces.RevealedApplication) error {
	if err := tx.write(restore(tx.s.revealed, id)); err != nil {
		return err
	}
	tx.s.revealed[id] = revealed
	return nil
}

func (tx *memoryTx) GetRevealed(ctx context.Context, id interfaces.ApplicationID) (interfaces.RevealedApplication, error) {
	rev, ok := tx.s.revealed[id]
	if !ok {
		return interfaces.RevealedApplication{}, interfaces.ErrNotFound
	}
	return rev, nil
}

func (tx *memoryTx) PutPending(ctx context.Context, req interfaces.PendingRequest) error {
	if err := tx.write(restore(tx.s.pending, req.RequestID)); err != nil {
		return err
	}
	tx.s.pending[req.RequestID] = req
	return nil
}

func (tx *memoryTx) GetPending(ctx context.Context, id interfaces.RequestID) (interfaces.PendingRequest, error) {
	req, ok := tx.s.pending[id]
	if !ok {
		return interfaces.PendingRequest{}, interfaces.ErrUnknownRequest
	}
	return req, nil
}

func (tx *memoryTx) CountPending(ctx context.Context) (int, error) {
	return len(tx.s.pending), nil
}

func (tx *memoryTx) DeletePendingExpired(ctx context.Context, now time.Time) (int, error) {
	if !tx.writable {
		return 0, errReadOnly
	}

	deleted := 0
	for id, req := range tx.s.pending {
		if !req.Expired(now) {
			continue
		}
		_ = tx.write(restore(tx.s.pending, id))
		delete(tx.s.pending, id)
		deleted++
	}
	return deleted, nil
}

func (tx *memoryTx) GetCounter(ctx context.Context, label string) (interfaces.CategoryCounter, error) {
	c, ok := tx.s.counters[label]
	if !ok {
		return interfaces.CategoryCounter{}, interfaces.ErrCategoryNotFound
	}
	return c, nil
}

func (tx *memoryTx) PutCounter(ctx context.Context, counter interfaces.CategoryCounter) error {
	if err := tx.write(restore(tx.s.counters, counter.Label)); err != nil {
		return err
	}
	tx.s.counters[counter.Label] = counter
	return nil
}

func (tx *memoryTx) AppendCategory(ctx context.Context, label string) error {
	for _, known := range tx.s.categories {
		if known == label {
			return nil
		}
	}

	n := len(tx.s.categories)
	if err := tx.write(func() { tx.s.categories = tx.s.categories[:n] }); err != nil {
		return err
	}
	tx.s.categories = append(tx.s.categories, label)
	return nil
}

func (tx *memoryTx) Categories(ctx context.Context) ([]string, error) {
	out := make([]string, len(tx.s.categories))
	copy(out, tx.s.categories)
	return out, nil
}

func (tx *memoryTx) PutRevealedCount(ctx context.Context, count interfaces.RevealedCount) error {
	if err := tx.write(restore(tx.s.revealedCounts, count.Label)); err != nil {
		return err
	}
	tx.s.revealedCounts[count.Label] = count
	return nil
}

func (tx *memoryTx) GetRevealedCount(ctx context.Context, label string) (interfaces.RevealedCount, error) {
	c, ok := tx.s.revealedCounts[label]
	if !ok {
		return interfaces.RevealedCount{}, interfaces.ErrCategoryNotFound
	}
	return c, nil
}

func (tx *memoryTx) AppendEvent(ctx context.Context, event interfaces.Event) error {
	prevSeq, n := tx.s.lastSeq, len(tx.s.outbox)
	if err := tx.write(func() {
		tx.s.lastSeq = prevSeq
		tx.s.outbox = tx.s.outbox[:n]
	}); err != nil {
		return err
	}

	tx.s.lastSeq++
	event.Seq = tx.s.lastSeq
	tx.s.outbox = append(tx.s.outbox, event)
	return nil
}

func (tx *memoryTx) UnpublishedEvents(ctx context.Context, limit int) ([]interfaces.Event, error) {
	n := len(tx.s.outbox)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]interfaces.Event, n)
	copy(out, tx.s.outbox[:n])
	return out, nil
}

func (tx *memoryTx) MarkEventsPublished(ctx context.Context, upTo uint64) error {
	i := 0
	for i < len(tx.s.outbox) && tx.s.outbox[i].Seq <= upTo {
		i++
	}
	if i == 0 {
		return nil
	}

	prev := tx.s.outbox
	if err := tx.write(func() { tx.s.outbox = prev }); err != nil {
		return err
	}
	tx.s.outbox = append([]interfaces.Event(nil), tx.s.outbox[i:]...)
	return nil
}
