package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/confidential-loan-ledger/cryptoutils"
	"github.com/ruteri/confidential-loan-ledger/interfaces"
	"github.com/ruteri/confidential-loan-ledger/metrics"
)

// increment adds an encrypted one to the counter of label, creating the
// counter from an encrypted zero on first use. It reports whether label is new.
// The counter version equals the plaintext count, so a counter at MaxCount
// refuses further increments instead of wrapping.
func (l *Ledger) increment(ctx context.Context, tx interfaces.LedgerTx, label string, now time.Time) (bool, error) {
	var (
		counter     interfaces.CategoryCounter
		current     []byte
		newCategory bool
	)

	counter, err := tx.GetCounter(ctx, label)
	switch {
	case errors.Is(err, interfaces.ErrCategoryNotFound):
		current, err = l.crypto.EncryptUint64(0)
		if err != nil {
			return false, fmt.Errorf("encrypt zero: %w", err)
		}
		if err := tx.AppendCategory(ctx, label); err != nil {
			return false, err
		}
		counter = interfaces.CategoryCounter{Label: label, Digest: CategoryDigest(label)}
		newCategory = true
	case err != nil:
		return false, err
	default:
		if counter.Version >= l.crypto.MaxCount() {
			return false, fmt.Errorf("%w: %q holds %d", interfaces.ErrCounterOverflow, label, counter.Version)
		}
		current, err = l.blobs.Fetch(ctx, counter.Handle, interfaces.CounterCiphertext)
		if err != nil {
			return false, fmt.Errorf("fetch counter ciphertext: %w", err)
		}
	}

	one, err := l.crypto.EncryptUint64(1)
	if err != nil {
		return false, fmt.Errorf("encrypt one: %w", err)
	}
	sum, err := l.crypto.Add(current, one)
	if err != nil {
		return false, fmt.Errorf("add to counter: %w", err)
	}
	handle, err := l.blobs.Store(ctx, sum, interfaces.CounterCiphertext)
	if err != nil {
		return false, fmt.Errorf("store counter ciphertext: %w", err)
	}

	counter.Handle = handle
	counter.Version++
	counter.UpdatedAt = now
	return newCategory, tx.PutCounter(ctx, counter)
}

// GetCounter returns the encrypted counter of label or ErrCategoryNotFound.
func (l *Ledger) GetCounter(ctx context.Context, label string) (interfaces.CategoryCounter, error) {
	var counter interfaces.CategoryCounter
	err := l.store.View(ctx, func(tx interfaces.LedgerTx) (err error) {
		counter, err = tx.GetCounter(ctx, label)
		return err
	})
	return counter, err
}

// GetRevealedCount returns the latest decrypted value of the counter of label.
func (l *Ledger) GetRevealedCount(ctx context.Context, label string) (interfaces.RevealedCount, error) {
	var count interfaces.RevealedCount
	err := l.store.View(ctx, func(tx interfaces.LedgerTx) (err error) {
		count, err = tx.GetRevealedCount(ctx, label)
		return err
	})
	return count, err
}

// Categories lists known labels in first-revealed order.
func (l *Ledger) Categories(ctx context.Context) ([]string, error) {
	var labels []string
	err := l.store.View(ctx, func(tx interfaces.LedgerTx) (err error) {
		labels, err = tx.Categories(ctx)
		return err
	})
	return labels, err
}

// RequestCounterDecryption asks the oracle to reveal the current value of the
// counter of label. Any identified caller may ask. A counter whose current
// version is already revealed returns ErrAlreadyRevealed without a request.
func (l *Ledger) RequestCounterDecryption(ctx context.Context, caller common.Address, label string) (interfaces.RequestID, error) {
	if caller == (common.Address{}) {
		return "", fmt.Errorf("%w: missing caller identity", interfaces.ErrUnauthorized)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var counter interfaces.CategoryCounter
	err := l.store.View(ctx, func(tx interfaces.LedgerTx) (err error) {
		counter, err = tx.GetCounter(ctx, label)
		if err != nil {
			return err
		}
		revealed, err := tx.GetRevealedCount(ctx, label)
		switch {
		case errors.Is(err, interfaces.ErrCategoryNotFound):
			return nil
		case err != nil:
			return err
		case revealed.Version >= counter.Version:
			return fmt.Errorf("%w: count of %q at version %d", interfaces.ErrAlreadyRevealed, label, revealed.Version)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	requestID, err := l.oracle.SubmitDecryptionRequest(ctx, interfaces.DecryptionRequest{
		Ciphertexts: []interfaces.CiphertextRef{
			{Handle: counter.Handle, Type: interfaces.Uint64Value, Space: interfaces.CounterCiphertext},
		},
		Callback: l.cfg.CallbackURL,
	})
	if err != nil {
		return "", fmt.Errorf("could not submit counter decryption request: %w", err)
	}

	now := l.now()
	err = l.store.Update(ctx, func(tx interfaces.LedgerTx) error {
		if err := tx.PutPending(ctx, interfaces.PendingRequest{
			RequestID:      requestID,
			Target:         interfaces.NewCategoryTarget(counter.Digest),
			Requester:      caller,
			CounterVersion: counter.Version,
			IssuedAt:       now,
			ExpiresAt:      now.Add(l.cfg.PendingTTL),
		}); err != nil {
			return err
		}
		return l.appendEvent(ctx, tx, interfaces.Event{
			Kind:      interfaces.EventCounterDecryptionRequested,
			Category:  label,
			RequestID: requestID,
			Timestamp: now,
		})
	})
	if err != nil {
		return "", fmt.Errorf("could not record counter decryption request %s: %w", requestID, err)
	}

	metrics.DecryptionRequests.WithLabelValues(interfaces.CategoryTarget.String()).Inc()
	metrics.PendingRequests.Inc()
	l.log.Info("Counter decryption requested", "category", label, "version", counter.Version, "requestID", requestID)
	return requestID, nil
}

// applyCounterDecryption persists the revealed count. A request resolves at
// most once per counter version: if a count for the same or a newer version is
// already stored the callback is rejected with ErrAlreadyRevealed.
func (l *Ledger) applyCounterDecryption(ctx context.Context, tx interfaces.LedgerTx, pending interfaces.PendingRequest, cleartexts, proof []byte, now time.Time) error {
	label, err := categoryFromDigest(ctx, tx, pending.Target.Category)
	if err != nil {
		return err
	}

	existing, err := tx.GetRevealedCount(ctx, label)
	switch {
	case err == nil && existing.Version >= pending.CounterVersion:
		return interfaces.ErrAlreadyRevealed
	case err != nil && !errors.Is(err, interfaces.ErrCategoryNotFound):
		return err
	}

	if err := l.verify(pending.RequestID, cleartexts, proof); err != nil {
		return err
	}

	count, err := cryptoutils.DecodeCount(cleartexts)
	if err != nil {
		return err
	}

	err = tx.PutRevealedCount(ctx, interfaces.RevealedCount{
		Label:      label,
		Count:      count,
		Version:    pending.CounterVersion,
		RequestID:  pending.RequestID,
		RevealedAt: now,
	})
	if err != nil {
		return err
	}

	l.log.Info("Counter decrypted", "category", label, "count", count, "version", pending.CounterVersion)
	return l.appendEvent(ctx, tx, interfaces.Event{
		Kind:      interfaces.EventCounterDecrypted,
		Category:  label,
		Count:     count,
		RequestID: pending.RequestID,
		Timestamp: now,
	})
}
