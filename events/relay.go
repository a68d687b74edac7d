package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/confidential-loan-ledger/interfaces"
	"github.com/ruteri/confidential-loan-ledger/metrics"
)

const (
	defaultInterval  = time.Second
	defaultBatchSize = 100
)

// Relay moves events from the ledger outbox to sinks. A batch is marked
// published only after every sink accepted it, so sinks see each event at
// least once.
type Relay struct {
	store     interfaces.LedgerStore
	sinks     []interfaces.EventSink
	log       *slog.Logger
	interval  time.Duration
	batchSize int
}

// Option configures the Relay.
type Option func(*Relay)

// WithInterval sets how often the outbox is polled.
func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		r.interval = d
	}
}

// WithBatchSize caps the number of events read per poll.
func WithBatchSize(n int) Option {
	return func(r *Relay) {
		r.batchSize = n
	}
}

func NewRelay(store interfaces.LedgerStore, sinks []interfaces.EventSink, log *slog.Logger, opts ...Option) *Relay {
	r := &Relay{
		store:     store,
		sinks:     sinks,
		log:       log,
		interval:  defaultInterval,
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RelayOnce publishes one batch and returns how many events it carried.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	var batch []interfaces.Event
	err := r.store.View(ctx, func(tx interfaces.LedgerTx) (err error) {
		batch, err = tx.UnpublishedEvents(ctx, r.batchSize)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("read outbox: %w", err)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	var errs []error
	for _, sink := range r.sinks {
		if err := sink.Publish(ctx, batch); err != nil {
			metrics.EventPublishFailures.WithLabelValues(sink.Name()).Inc()
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
			continue
		}
		metrics.EventsPublished.WithLabelValues(sink.Name()).Add(float64(len(batch)))
	}
	if len(errs) > 0 {
		return 0, fmt.Errorf("publish events: %w", errors.Join(errs...))
	}

	upTo := batch[len(batch)-1].Seq
	err = r.store.Update(ctx, func(tx interfaces.LedgerTx) error {
		return tx.MarkEventsPublished(ctx, upTo)
	})
	if err != nil {
		return 0, fmt.Errorf("mark events published: %w", err)
	}
	return len(batch), nil
}

// Run relays until ctx is done. Full batches are followed immediately by
// another poll.
func (r *Relay) Run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		n, err := r.RelayOnce(ctx)
		if err != nil && ctx.Err() == nil {
			r.log.Error("Event relay failed", "err", err)
		}

		next := r.interval
		if err == nil && n == r.batchSize {
			next = 0
		}
		timer.Reset(next)
	}
}
