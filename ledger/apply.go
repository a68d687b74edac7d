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

// ApplyDecryption is the oracle callback. Checks run in order: caller
// identity, request correlation, already-revealed, proof, payload. Nothing is
// written unless every check passes, and all writes commit together.
func (l *Ledger) ApplyDecryption(ctx context.Context, caller common.Address, requestID interfaces.RequestID, cleartexts []byte, proof []byte) (err error) {
	target := "unknown"
	defer func() { metrics.ObserveCallback(target, err) }()

	if caller != l.cfg.Oracle {
		return fmt.Errorf("%w: callbacks are accepted only from the oracle", interfaces.ErrUnauthorized)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var newCategory bool
	err = l.store.Update(ctx, func(tx interfaces.LedgerTx) error {
		pending, err := tx.GetPending(ctx, requestID)
		if err != nil {
			return err
		}
		if pending.Expired(now) {
			return fmt.Errorf("%w: request %s expired", interfaces.ErrUnknownRequest, requestID)
		}

		target = pending.Target.Kind.String()
		switch pending.Target.Kind {
		case interfaces.ApplicationTarget:
			newCategory, err = l.applyApplication(ctx, tx, pending, cleartexts, proof, now)
			return err
		case interfaces.CategoryTarget:
			return l.applyCounterDecryption(ctx, tx, pending, cleartexts, proof, now)
		default:
			return fmt.Errorf("%w: request %s has no valid target", interfaces.ErrUnknownRequest, requestID)
		}
	})
	if err != nil {
		l.log.Debug("Decryption callback rejected", "requestID", requestID, "err", err)
		return err
	}

	if newCategory {
		metrics.CategoriesKnown.Inc()
	}
	l.log.Info("Decryption applied", "requestID", requestID, "target", target)
	return nil
}

func (l *Ledger) applyApplication(ctx context.Context, tx interfaces.LedgerTx, pending interfaces.PendingRequest, cleartexts, proof []byte, now time.Time) (bool, error) {
	id := pending.Target.ApplicationID

	rev, err := tx.GetRevealed(ctx, id)
	if err != nil {
		return false, err
	}
	if rev.Revealed {
		return false, interfaces.ErrAlreadyRevealed
	}

	if err := l.verify(pending.RequestID, cleartexts, proof); err != nil {
		return false, err
	}

	decoded, err := cryptoutils.DecodeApplicationCleartexts(cleartexts)
	if err != nil {
		return false, err
	}
	if decoded.YieldPrediction == "" {
		return false, fmt.Errorf("%w: empty yield prediction", interfaces.ErrMalformedPayload)
	}

	err = tx.PutRevealed(ctx, id, interfaces.RevealedApplication{
		FarmData:        decoded.FarmData,
		YieldPrediction: decoded.YieldPrediction,
		RecommendedLoan: decoded.RecommendedLoan,
		Revealed:        true,
		RevealedAt:      now,
		RequestID:       pending.RequestID,
	})
	if err != nil {
		return false, err
	}

	newCategory, err := l.increment(ctx, tx, decoded.YieldPrediction, now)
	if err != nil {
		return false, fmt.Errorf("could not update category counter: %w", err)
	}

	err = l.appendEvent(ctx, tx, interfaces.Event{
		Kind:          interfaces.EventDecrypted,
		ApplicationID: id,
		RequestID:     pending.RequestID,
		Timestamp:     now,
	})
	return newCategory, err
}

func (l *Ledger) verify(requestID interfaces.RequestID, cleartexts, proof []byte) error {
	err := l.verifier.Verify(requestID, cleartexts, proof)
	if err == nil {
		return nil
	}
	if errors.Is(err, interfaces.ErrInvalidProof) {
		return err
	}
	return fmt.Errorf("%w: %v", interfaces.ErrInvalidProof, err)
}
