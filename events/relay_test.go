package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ruteri/confidential-loan-ledger/interfaces"
	"github.com/ruteri/confidential-loan-ledger/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Publish(ctx context.Context, events []interfaces.Event) error {
	args := m.Called(ctx, events)
	return args.Error(0)
}

func (m *mockSink) Name() string { return "mock" }

func seedEvents(t *testing.T, s interfaces.LedgerStore, n int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Update(ctx, func(tx interfaces.LedgerTx) error {
		for i := 0; i < n; i++ {
			if err := tx.AppendEvent(ctx, interfaces.Event{
				Kind:          interfaces.EventSubmitted,
				ApplicationID: interfaces.ApplicationID(i + 1),
				Timestamp:     time.Now(),
			}); err != nil {
				return err
			}
		}
		return nil
	}))
}

func pending(t *testing.T, s interfaces.LedgerStore) int {
	t.Helper()
	var events []interfaces.Event
	require.NoError(t, s.View(context.Background(), func(tx interfaces.LedgerTx) (err error) {
		events, err = tx.UnpublishedEvents(context.Background(), 1000)
		return err
	}))
	return len(events)
}

func TestRelayOnce(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	t.Run("publishes and marks batch", func(t *testing.T) {
		s := store.NewMemoryStore()
		seedEvents(t, s, 3)

		sink := &mockSink{}
		sink.On("Publish", mock.Anything, mock.MatchedBy(func(events []interfaces.Event) bool {
			return len(events) == 2 && events[0].ApplicationID == 1
		})).Return(nil).Once()
		sink.On("Publish", mock.Anything, mock.MatchedBy(func(events []interfaces.Event) bool {
			return len(events) == 1 && events[0].ApplicationID == 3
		})).Return(nil).Once()

		relay := NewRelay(s, []interfaces.EventSink{sink, NewLogSink(logger)}, logger, WithBatchSize(2))

		n, err := relay.RelayOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, 1, pending(t, s))

		n, err = relay.RelayOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = relay.RelayOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		sink.AssertExpectations(t)
	})

	t.Run("failed sink keeps batch in outbox", func(t *testing.T) {
		s := store.NewMemoryStore()
		seedEvents(t, s, 2)

		sink := &mockSink{}
		sink.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()
		sink.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()

		relay := NewRelay(s, []interfaces.EventSink{sink}, logger)

		_, err := relay.RelayOnce(ctx)
		assert.Error(t, err)
		assert.Equal(t, 2, pending(t, s))

		n, err := relay.RelayOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Zero(t, pending(t, s))
	})
}

func TestRelayRun(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := store.NewMemoryStore()
	seedEvents(t, s, 5)

	sink := &mockSink{}
	sink.On("Publish", mock.Anything, mock.Anything).Return(nil)

	relay := NewRelay(s, []interfaces.EventSink{sink}, logger, WithBatchSize(2), WithInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return pending(t, s) == 0 }, time.Second, 10*time.Millisecond)
	cancel()
	<-done
}
