package oracle

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/confidential-loan-ledger/cryptoutils"
	"github.com/ruteri/confidential-loan-ledger/interfaces"
)

// finalErrors are ledger answers that will not change on retry.
var finalErrors = []error{
	interfaces.ErrAlreadyRevealed,
	interfaces.ErrUnknownRequest,
	interfaces.ErrInvalidProof,
	interfaces.ErrMalformedPayload,
	interfaces.ErrCategoryNotFound,
	interfaces.ErrNotFound,
	interfaces.ErrUnauthorized,
	interfaces.ErrCounterOverflow,
}

// LocalDeliverer applies results to a ledger in the same process. Callback
// must be set before the relayer starts.
type LocalDeliverer struct {
	Callback interfaces.DecryptionCallback
	Identity common.Address
}

func (d *LocalDeliverer) Deliver(ctx context.Context, _ string, result interfaces.DecryptionResult) error {
	if d.Callback == nil {
		return errors.New("no local callback configured")
	}

	err := d.Callback.ApplyDecryption(ctx, d.Identity, result.RequestID, result.Cleartexts, result.Proof)
	for _, final := range finalErrors {
		if errors.Is(err, final) {
			return fmt.Errorf("%w: %w", ErrRejected, err)
		}
	}
	return err
}

// HTTPDeliverer posts results to the callback URL as signed JSON requests.
type HTTPDeliverer struct {
	Client *http.Client
	Key    *ecdsa.PrivateKey
}

func (d *HTTPDeliverer) Deliver(ctx context.Context, callback string, result interfaces.DecryptionResult) error {
	if callback == "" {
		return fmt.Errorf("%w: request has no callback URL", ErrRejected)
	}

	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callback, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := cryptoutils.SignRequest(req, d.Key, time.Now()); err != nil {
		return err
	}

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post result: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, bytes.TrimSpace(respBody))
	}
	return fmt.Errorf("callback returned status %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
}
