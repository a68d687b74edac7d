package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/confidential-loan-ledger/cryptoutils"
	"github.com/ruteri/confidential-loan-ledger/interfaces"
	"github.com/ruteri/confidential-loan-ledger/metrics"
)

var (
	// ErrQueueFull is returned when the relayer cannot accept more requests.
	ErrQueueFull = errors.New("decryption queue full")

	// ErrInvalidRequest is returned for requests without ciphertexts or with
	// unsupported value types.
	ErrInvalidRequest = errors.New("invalid decryption request")

	// ErrRejected marks delivery failures that retrying cannot fix.
	ErrRejected = errors.New("result rejected by callback target")
)

// Decrypter turns a serialized ciphertext into its cleartext value.
type Decrypter interface {
	Decrypt(blob []byte, vt interfaces.ValueType) (any, error)
}

// Deliverer hands a finished result to the callback target named by the request.
type Deliverer interface {
	Deliver(ctx context.Context, callback string, result interfaces.DecryptionResult) error
}

type RelayerConfig struct {
	Workers      int
	QueueSize    int
	MaxAttempts  int
	RetryBackoff time.Duration
}

func (c *RelayerConfig) setDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
}

type job struct {
	requestID interfaces.RequestID
	request   interfaces.DecryptionRequest
}

// Relayer is the decryption oracle. It accepts ciphertext bundles, assigns
// request ids and asynchronously decrypts, proves and delivers the results.
// SubmitDecryptionRequest never blocks on a full queue.
type Relayer struct {
	cfg       RelayerConfig
	blobs     interfaces.StorageBackend
	decrypter Decrypter
	prover    cryptoutils.Prover
	deliverer Deliverer
	log       *slog.Logger

	jobs chan job
	wg   sync.WaitGroup
}

func NewRelayer(cfg RelayerConfig, blobs interfaces.StorageBackend, decrypter Decrypter, prover cryptoutils.Prover, deliverer Deliverer, log *slog.Logger) *Relayer {
	cfg.setDefaults()
	return &Relayer{
		cfg:       cfg,
		blobs:     blobs,
		decrypter: decrypter,
		prover:    prover,
		deliverer: deliverer,
		log:       log,
		jobs:      make(chan job, cfg.QueueSize),
	}
}

func (r *Relayer) SubmitDecryptionRequest(ctx context.Context, req interfaces.DecryptionRequest) (interfaces.RequestID, error) {
	if len(req.Ciphertexts) == 0 {
		return "", fmt.Errorf("%w: no ciphertexts", ErrInvalidRequest)
	}
	if _, err := cryptoutils.ArgumentsFor(req.Ciphertexts); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	requestID := interfaces.RequestID(uuid.New().String())
	select {
	case r.jobs <- job{requestID: requestID, request: req}:
	default:
		return "", ErrQueueFull
	}

	metrics.RelayerQueueDepth.Set(float64(len(r.jobs)))
	r.log.Debug("Decryption request queued", "requestID", requestID, "ciphertexts", len(req.Ciphertexts))
	return requestID, nil
}

// Run processes queued requests with cfg.Workers workers until ctx is done.
func (r *Relayer) Run(ctx context.Context) {
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx)
	}
	<-ctx.Done()
	r.wg.Wait()
}

func (r *Relayer) worker(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-r.jobs:
			metrics.RelayerQueueDepth.Set(float64(len(r.jobs)))
			if err := r.process(ctx, j); err != nil {
				metrics.RelayerJobs.WithLabelValues("failed").Inc()
				r.log.Error("Decryption request failed", "requestID", j.requestID, "err", err)
				continue
			}
			metrics.RelayerJobs.WithLabelValues("delivered").Inc()
		}
	}
}

func (r *Relayer) process(ctx context.Context, j job) error {
	result, err := r.decrypt(ctx, j)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		lastErr = r.deliverer.Deliver(ctx, j.request.Callback, result)
		if lastErr == nil {
			r.log.Info("Decryption result delivered", "requestID", j.requestID, "attempt", attempt)
			return nil
		}
		if errors.Is(lastErr, ErrRejected) {
			return lastErr
		}

		r.log.Warn("Delivery failed, retrying", "requestID", j.requestID, "attempt", attempt, "err", lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cfg.RetryBackoff * time.Duration(1<<(attempt-1))):
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", r.cfg.MaxAttempts, lastErr)
}

func (r *Relayer) decrypt(ctx context.Context, j job) (interfaces.DecryptionResult, error) {
	start := time.Now()
	defer func() { metrics.RelayerDecryptDuration.Observe(time.Since(start).Seconds()) }()

	values := make([]any, len(j.request.Ciphertexts))
	for i, ref := range j.request.Ciphertexts {
		blob, err := r.blobs.Fetch(ctx, ref.Handle, ref.Space)
		if err != nil {
			return interfaces.DecryptionResult{}, fmt.Errorf("fetch ciphertext %d: %w", i, err)
		}
		values[i], err = r.decrypter.Decrypt(blob, ref.Type)
		if err != nil {
			return interfaces.DecryptionResult{}, fmt.Errorf("decrypt ciphertext %d: %w", i, err)
		}
	}

	cleartexts, err := cryptoutils.EncodeCleartexts(j.request.Ciphertexts, values)
	if err != nil {
		return interfaces.DecryptionResult{}, fmt.Errorf("encode cleartexts: %w", err)
	}

	proof, err := r.prover.Prove(j.requestID, cleartexts)
	if err != nil {
		return interfaces.DecryptionResult{}, fmt.Errorf("prove decryption: %w", err)
	}

	return interfaces.DecryptionResult{
		RequestID:  j.requestID,
		Cleartexts: cleartexts,
		Proof:      proof,
	}, nil
}
