package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/confidential-loan-ledger/interfaces"
	"github.com/ruteri/confidential-loan-ledger/metrics"
)

// RequestDecryption asks the oracle to reveal application id. Only the
// applicant may request it, and only while the application is unrevealed.
// Concurrent requests for the same application are allowed; the first
// callback to arrive wins.
func (l *Ledger) RequestDecryption(ctx context.Context, caller common.Address, id interfaces.ApplicationID) (interfaces.RequestID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var app interfaces.EncryptedApplication
	err := l.store.View(ctx, func(tx interfaces.LedgerTx) error {
		var err error
		app, err = tx.GetApplication(ctx, id)
		if err != nil {
			return err
		}
		if caller != app.Applicant {
			return fmt.Errorf("%w: only the applicant may request decryption of application %d", interfaces.ErrUnauthorized, id)
		}

		rev, err := tx.GetRevealed(ctx, id)
		if err != nil {
			return err
		}
		if rev.Revealed {
			return interfaces.ErrAlreadyRevealed
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	requestID, err := l.oracle.SubmitDecryptionRequest(ctx, interfaces.DecryptionRequest{
		Ciphertexts: []interfaces.CiphertextRef{
			{Handle: app.EncFarmData, Type: interfaces.StringValue, Space: interfaces.ApplicationCiphertext},
			{Handle: app.EncYield, Type: interfaces.StringValue, Space: interfaces.ApplicationCiphertext},
			{Handle: app.EncLoanAmount, Type: interfaces.Uint64Value, Space: interfaces.ApplicationCiphertext},
		},
		Callback: l.cfg.CallbackURL,
	})
	if err != nil {
		return "", fmt.Errorf("could not submit decryption request: %w", err)
	}

	now := l.now()
	err = l.store.Update(ctx, func(tx interfaces.LedgerTx) error {
		if err := tx.PutPending(ctx, interfaces.PendingRequest{
			RequestID: requestID,
			Target:    interfaces.NewApplicationTarget(id),
			Requester: caller,
			IssuedAt:  now,
			ExpiresAt: now.Add(l.cfg.PendingTTL),
		}); err != nil {
			return err
		}
		return l.appendEvent(ctx, tx, interfaces.Event{
			Kind:          interfaces.EventDecryptionRequested,
			ApplicationID: id,
			RequestID:     requestID,
			Timestamp:     now,
		})
	})
	if err != nil {
		return "", fmt.Errorf("could not record decryption request %s: %w", requestID, err)
	}

	metrics.DecryptionRequests.WithLabelValues(interfaces.ApplicationTarget.String()).Inc()
	metrics.PendingRequests.Inc()
	l.log.Info("Decryption requested", "id", id, "requestID", requestID)
	return requestID, nil
}

// Sweep evicts pending requests whose TTL has passed at now. Callbacks for
// evicted requests are rejected with ErrUnknownRequest.
func (l *Ledger) Sweep(ctx context.Context, now time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var deleted, remaining int
	err := l.store.Update(ctx, func(tx interfaces.LedgerTx) error {
		var err error
		deleted, err = tx.DeletePendingExpired(ctx, now)
		if err != nil {
			return err
		}
		remaining, err = tx.CountPending(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("could not evict expired requests: %w", err)
	}

	metrics.PendingEvicted.Add(float64(deleted))
	metrics.PendingRequests.Set(float64(remaining))
	if deleted > 0 {
		l.log.Info("Evicted expired decryption requests", "count", deleted, "remaining", remaining)
	}
	return deleted, nil
}

// Run sweeps expired requests every SweepInterval until ctx is done.
func (l *Ledger) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := l.Sweep(ctx, l.now()); err != nil {
				l.log.Error("Pending request sweep failed", "err", err)
			}
		}
	}
}
