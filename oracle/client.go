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
	"strings"
	"time"

	"github.com/ruteri/confidential-loan-ledger/cryptoutils"
	"github.com/ruteri/confidential-loan-ledger/interfaces"
)

const SubmitPath = "/api/decryption-requests"

// SubmitResponse is the relayer's answer to a submitted request.
type SubmitResponse struct {
	RequestID interfaces.RequestID `json:"requestId"`
}

// Client submits decryption requests to remote relayers, trying endpoints in
// order until one accepts.
type Client struct {
	Endpoints  []string
	HTTPClient *http.Client
	Key        *ecdsa.PrivateKey
}

func NewClient(endpoints []string, key *ecdsa.PrivateKey) *Client {
	return &Client{
		Endpoints:  endpoints,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Key:        key,
	}
}

func (c *Client) SubmitDecryptionRequest(ctx context.Context, req interfaces.DecryptionRequest) (interfaces.RequestID, error) {
	if len(c.Endpoints) == 0 {
		return "", errors.New("no relayer endpoints configured")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var errs []error
	for _, endpoint := range c.Endpoints {
		requestID, err := c.submit(ctx, endpoint, body)
		if err == nil {
			return requestID, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", endpoint, err))
	}
	return "", fmt.Errorf("all relayers failed: %w", errors.Join(errs...))
}

func (c *Client) submit(ctx context.Context, endpoint string, body []byte) (interfaces.RequestID, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(endpoint, "/")+SubmitPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("could not initialize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Key != nil {
		if err := cryptoutils.SignRequest(req, c.Key, time.Now()); err != nil {
			return "", err
		}
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("could not reach relayer: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("could not read relayer response: %w", err)
	}
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("relayer returned %d: %s", resp.StatusCode, string(respBody))
	}

	var submitResp SubmitResponse
	if err := json.Unmarshal(respBody, &submitResp); err != nil {
		return "", fmt.Errorf("could not parse relayer response: %w", err)
	}
	if submitResp.RequestID == "" {
		return "", errors.New("relayer returned an empty request id")
	}
	return submitResp.RequestID, nil
}
