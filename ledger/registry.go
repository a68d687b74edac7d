package ledger

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/confidential-loan-ledger/interfaces"
	"github.com/ruteri/confidential-loan-ledger/metrics"
)

// SubmitInput carries the three serialized ciphertexts of an application.
type SubmitInput struct {
	EncFarmData   []byte
	EncYield      []byte
	EncLoanAmount []byte
}

// Submit records a new encrypted application owned by applicant.
func (l *Ledger) Submit(ctx context.Context, applicant common.Address, in SubmitInput) (interfaces.ApplicationID, error) {
	if applicant == (common.Address{}) {
		return 0, fmt.Errorf("%w: missing applicant identity", interfaces.ErrUnauthorized)
	}

	fields := []struct {
		name string
		blob []byte
	}{
		{"farmData", in.EncFarmData},
		{"yieldPrediction", in.EncYield},
		{"recommendedLoan", in.EncLoanAmount},
	}

	handles := make([]interfaces.ContentID, len(fields))
	for i, f := range fields {
		if len(f.blob) == 0 {
			return 0, fmt.Errorf("%w: %s is empty", interfaces.ErrInvalidCiphertext, f.name)
		}
		if err := l.crypto.Validate(f.blob); err != nil {
			return 0, fmt.Errorf("%w: %s: %v", interfaces.ErrInvalidCiphertext, f.name, err)
		}
		// content-addressed: a failed transaction leaves at most an orphaned blob
		handle, err := l.blobs.Store(ctx, f.blob, interfaces.ApplicationCiphertext)
		if err != nil {
			return 0, fmt.Errorf("could not store %s ciphertext: %w", f.name, err)
		}
		handles[i] = handle
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var id interfaces.ApplicationID
	err := l.store.Update(ctx, func(tx interfaces.LedgerTx) error {
		var err error
		id, err = tx.NextApplicationID(ctx)
		if err != nil {
			return err
		}

		app := interfaces.EncryptedApplication{
			ID:            id,
			Applicant:     applicant,
			EncFarmData:   handles[0],
			EncYield:      handles[1],
			EncLoanAmount: handles[2],
			CreatedAt:     now,
		}
		if err := tx.PutApplication(ctx, app); err != nil {
			return err
		}
		if err := tx.PutRevealed(ctx, id, interfaces.RevealedApplication{}); err != nil {
			return err
		}
		return l.appendEvent(ctx, tx, interfaces.Event{
			Kind:          interfaces.EventSubmitted,
			ApplicationID: id,
			Timestamp:     now,
		})
	})
	if err != nil {
		return 0, fmt.Errorf("could not record application: %w", err)
	}

	metrics.ApplicationsSubmitted.Inc()
	l.log.Info("Application submitted", "id", id, "applicant", applicant.Hex())
	return id, nil
}

// GetRevealed returns the plaintext twin. Unrevealed applications come back
// with Revealed == false and zero fields.
func (l *Ledger) GetRevealed(ctx context.Context, id interfaces.ApplicationID) (interfaces.RevealedApplication, error) {
	var rev interfaces.RevealedApplication
	err := l.store.View(ctx, func(tx interfaces.LedgerTx) (err error) {
		rev, err = tx.GetRevealed(ctx, id)
		return err
	})
	return rev, err
}

// GetApplication returns the encrypted twin.
func (l *Ledger) GetApplication(ctx context.Context, id interfaces.ApplicationID) (interfaces.EncryptedApplication, error) {
	var app interfaces.EncryptedApplication
	err := l.store.View(ctx, func(tx interfaces.LedgerTx) (err error) {
		app, err = tx.GetApplication(ctx, id)
		return err
	})
	return app, err
}
