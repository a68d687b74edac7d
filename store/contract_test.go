package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/confidential-loan-ledger/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLedgerStore runs the behaviour every LedgerStore must share.
func testLedgerStore(t *testing.T, s interfaces.LedgerStore) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	applicant := common.HexToAddress("0x00000000000000000000000000000000000000a1")

	var firstID interfaces.ApplicationID

	t.Run("applications", func(t *testing.T) {
		err := s.Update(ctx, func(tx interfaces.LedgerTx) error {
			id, err := tx.NextApplicationID(ctx)
			if err != nil {
				return err
			}
			firstID = id
			app := interfaces.EncryptedApplication{
				ID:            id,
				Applicant:     applicant,
				EncFarmData:   interfaces.ComputeID([]byte("farm")),
				EncYield:      interfaces.ComputeID([]byte("yield")),
				EncLoanAmount: interfaces.ComputeID([]byte("loan")),
				CreatedAt:     now,
			}
			if err := tx.PutApplication(ctx, app); err != nil {
				return err
			}
			return tx.PutRevealed(ctx, id, interfaces.RevealedApplication{})
		})
		require.NoError(t, err)
		assert.NotZero(t, firstID)

		err = s.View(ctx, func(tx interfaces.LedgerTx) error {
			app, err := tx.GetApplication(ctx, firstID)
			require.NoError(t, err)
			assert.Equal(t, applicant, app.Applicant)
			assert.Equal(t, interfaces.ComputeID([]byte("yield")), app.EncYield)
			assert.True(t, now.Equal(app.CreatedAt))

			rev, err := tx.GetRevealed(ctx, firstID)
			require.NoError(t, err)
			assert.False(t, rev.Revealed)

			_, err = tx.GetApplication(ctx, firstID+1000)
			assert.ErrorIs(t, err, interfaces.ErrNotFound)
			_, err = tx.GetRevealed(ctx, firstID+1000)
			assert.ErrorIs(t, err, interfaces.ErrNotFound)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("revealed twin", func(t *testing.T) {
		rev := interfaces.RevealedApplication{
			FarmData:        "plot 7",
			YieldPrediction: "high",
			RecommendedLoan: 1<<63 + 5,
			Revealed:        true,
			RevealedAt:      now,
			RequestID:       "req-1",
		}
		require.NoError(t, s.Update(ctx, func(tx interfaces.LedgerTx) error {
			return tx.PutRevealed(ctx, firstID, rev)
		}))

		require.NoError(t, s.View(ctx, func(tx interfaces.LedgerTx) error {
			got, err := tx.GetRevealed(ctx, firstID)
			require.NoError(t, err)
			assert.Equal(t, rev.RecommendedLoan, got.RecommendedLoan)
			assert.Equal(t, rev.YieldPrediction, got.YieldPrediction)
			assert.True(t, got.Revealed)
			assert.Equal(t, rev.RequestID, got.RequestID)
			return nil
		}))
	})

	t.Run("rollback on error", func(t *testing.T) {
		errBoom := errors.New("boom")
		err := s.Update(ctx, func(tx interfaces.LedgerTx) error {
			if err := tx.AppendCategory(ctx, "rolled-back"); err != nil {
				return err
			}
			if err := tx.PutPending(ctx, interfaces.PendingRequest{
				RequestID: "rolled-back",
				Target:    interfaces.NewApplicationTarget(firstID),
				Requester: applicant,
				IssuedAt:  now,
			}); err != nil {
				return err
			}
			return errBoom
		})
		assert.ErrorIs(t, err, errBoom)

		require.NoError(t, s.View(ctx, func(tx interfaces.LedgerTx) error {
			_, err := tx.GetPending(ctx, "rolled-back")
			assert.ErrorIs(t, err, interfaces.ErrUnknownRequest)
			categories, err := tx.Categories(ctx)
			require.NoError(t, err)
			assert.NotContains(t, categories, "rolled-back")
			return nil
		}))
	})

	t.Run("pending requests", func(t *testing.T) {
		digest := interfaces.CategoryDigest{1, 2, 3}
		require.NoError(t, s.Update(ctx, func(tx interfaces.LedgerTx) error {
			if err := tx.PutPending(ctx, interfaces.PendingRequest{
				RequestID: "app-req",
				Target:    interfaces.NewApplicationTarget(firstID),
				Requester: applicant,
				IssuedAt:  now,
				ExpiresAt: now.Add(time.Hour),
			}); err != nil {
				return err
			}
			return tx.PutPending(ctx, interfaces.PendingRequest{
				RequestID:      "cat-req",
				Target:         interfaces.NewCategoryTarget(digest),
				Requester:      applicant,
				CounterVersion: 3,
				IssuedAt:       now,
				ExpiresAt:      now.Add(2 * time.Hour),
			})
		}))

		require.NoError(t, s.View(ctx, func(tx interfaces.LedgerTx) error {
			req, err := tx.GetPending(ctx, "cat-req")
			require.NoError(t, err)
			assert.Equal(t, interfaces.CategoryTarget, req.Target.Kind)
			assert.Equal(t, digest, req.Target.Category)
			assert.Equal(t, uint64(3), req.CounterVersion)

			req, err = tx.GetPending(ctx, "app-req")
			require.NoError(t, err)
			assert.Equal(t, interfaces.NewApplicationTarget(firstID), req.Target)

			n, err := tx.CountPending(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, n)
			return nil
		}))

		var deleted int
		require.NoError(t, s.Update(ctx, func(tx interfaces.LedgerTx) (err error) {
			deleted, err = tx.DeletePendingExpired(ctx, now.Add(90*time.Minute))
			return err
		}))
		assert.Equal(t, 1, deleted)

		require.NoError(t, s.View(ctx, func(tx interfaces.LedgerTx) error {
			_, err := tx.GetPending(ctx, "app-req")
			assert.ErrorIs(t, err, interfaces.ErrUnknownRequest)
			_, err = tx.GetPending(ctx, "cat-req")
			assert.NoError(t, err)
			return nil
		}))
	})

	t.Run("counters and categories", func(t *testing.T) {
		require.NoError(t, s.View(ctx, func(tx interfaces.LedgerTx) error {
			_, err := tx.GetCounter(ctx, "high")
			assert.ErrorIs(t, err, interfaces.ErrCategoryNotFound)
			_, err = tx.GetRevealedCount(ctx, "high")
			assert.ErrorIs(t, err, interfaces.ErrCategoryNotFound)
			return nil
		}))

		require.NoError(t, s.Update(ctx, func(tx interfaces.LedgerTx) error {
			for _, label := range []string{"high", "low", "high"} {
				if err := tx.AppendCategory(ctx, label); err != nil {
					return err
				}
			}
			for v := uint64(1); v <= 2; v++ {
				if err := tx.PutCounter(ctx, interfaces.CategoryCounter{
					Label:     "high",
					Digest:    interfaces.CategoryDigest{9},
					Handle:    interfaces.ComputeID([]byte{byte(v)}),
					Version:   v,
					UpdatedAt: now,
				}); err != nil {
					return err
				}
			}
			return tx.PutRevealedCount(ctx, interfaces.RevealedCount{
				Label: "high", Count: 2, Version: 2, RequestID: "cnt", RevealedAt: now,
			})
		}))

		require.NoError(t, s.View(ctx, func(tx interfaces.LedgerTx) error {
			categories, err := tx.Categories(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"high", "low"}, categories)

			c, err := tx.GetCounter(ctx, "high")
			require.NoError(t, err)
			assert.Equal(t, uint64(2), c.Version)
			assert.Equal(t, interfaces.ComputeID([]byte{2}), c.Handle)

			rc, err := tx.GetRevealedCount(ctx, "high")
			require.NoError(t, err)
			assert.Equal(t, uint64(2), rc.Count)
			assert.Equal(t, interfaces.RequestID("cnt"), rc.RequestID)
			return nil
		}))
	})

	t.Run("outbox", func(t *testing.T) {
		require.NoError(t, s.Update(ctx, func(tx interfaces.LedgerTx) error {
			for _, kind := range []interfaces.EventKind{interfaces.EventSubmitted, interfaces.EventDecryptionRequested, interfaces.EventDecrypted} {
				if err := tx.AppendEvent(ctx, interfaces.Event{Kind: kind, ApplicationID: firstID, Timestamp: now}); err != nil {
					return err
				}
			}
			return nil
		}))

		var batch []interfaces.Event
		require.NoError(t, s.View(ctx, func(tx interfaces.LedgerTx) (err error) {
			batch, err = tx.UnpublishedEvents(ctx, 2)
			return err
		}))
		require.Len(t, batch, 2)
		assert.Equal(t, interfaces.EventSubmitted, batch[0].Kind)
		assert.Less(t, batch[0].Seq, batch[1].Seq)

		require.NoError(t, s.Update(ctx, func(tx interfaces.LedgerTx) error {
			return tx.MarkEventsPublished(ctx, batch[1].Seq)
		}))

		require.NoError(t, s.View(ctx, func(tx interfaces.LedgerTx) (err error) {
			batch, err = tx.UnpublishedEvents(ctx, 10)
			return err
		}))
		require.Len(t, batch, 1)
		assert.Equal(t, interfaces.EventDecrypted, batch[0].Kind)
		assert.Equal(t, firstID, batch[0].ApplicationID)
	})
}
