package ledgerhandler

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ruteri/confidential-loan-ledger/api"
	"github.com/ruteri/confidential-loan-ledger/cryptoutils"
	"github.com/ruteri/confidential-loan-ledger/interfaces"
)

// Client talks to a ledger server. Key signs mutating requests and may be nil
// for read-only use.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Key        *ecdsa.PrivateKey
}

func NewClient(baseURL string, key *ecdsa.PrivateKey) *Client {
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		Key:        key,
	}
}

// StatusError is returned for non-2xx answers. It unwraps to the ledger
// sentinel matching the status code where there is exactly one.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ledger returned %d: %s", e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusConflict:
		return interfaces.ErrAlreadyRevealed
	case http.StatusUnprocessableEntity:
		return interfaces.ErrMalformedPayload
	case http.StatusForbidden, http.StatusUnauthorized:
		return interfaces.ErrUnauthorized
	default:
		return nil
	}
}

func (c *Client) Submit(ctx context.Context, req api.SubmitApplicationRequest) (interfaces.ApplicationID, error) {
	var resp api.SubmitApplicationResponse
	err := c.do(ctx, http.MethodPost, "/api/applications", req, &resp, true)
	return resp.ID, err
}

func (c *Client) GetApplication(ctx context.Context, id interfaces.ApplicationID) (*api.ApplicationResponse, error) {
	var resp api.ApplicationResponse
	if err := c.do(ctx, http.MethodGet, "/api/applications/"+id.String(), nil, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) GetRevealed(ctx context.Context, id interfaces.ApplicationID) (*api.RevealedApplicationResponse, error) {
	var resp api.RevealedApplicationResponse
	if err := c.do(ctx, http.MethodGet, "/api/applications/"+id.String()+"/revealed", nil, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) RequestDecryption(ctx context.Context, id interfaces.ApplicationID) (interfaces.RequestID, error) {
	var resp api.DecryptionRequestResponse
	err := c.do(ctx, http.MethodPost, "/api/applications/"+id.String()+"/decryption", struct{}{}, &resp, true)
	return resp.RequestID, err
}

func (c *Client) Categories(ctx context.Context) ([]string, error) {
	var resp api.CategoriesResponse
	err := c.do(ctx, http.MethodGet, "/api/categories", nil, &resp, false)
	return resp.Categories, err
}

func (c *Client) GetCounter(ctx context.Context, label string) (*api.CounterResponse, error) {
	var resp api.CounterResponse
	if err := c.do(ctx, http.MethodGet, categoryPath(label, "counter"), nil, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) RequestCounterDecryption(ctx context.Context, label string) (interfaces.RequestID, error) {
	var resp api.DecryptionRequestResponse
	err := c.do(ctx, http.MethodPost, categoryPath(label, "decryption"), struct{}{}, &resp, true)
	return resp.RequestID, err
}

func (c *Client) GetRevealedCount(ctx context.Context, label string) (*api.RevealedCountResponse, error) {
	var resp api.RevealedCountResponse
	if err := c.do(ctx, http.MethodGet, categoryPath(label, "revealed-count"), nil, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) CategoryFromDigest(ctx context.Context, d interfaces.CategoryDigest) (string, error) {
	var resp api.CategoryLookupResponse
	err := c.do(ctx, http.MethodGet, "/api/categories/by-digest/"+d.String(), nil, &resp, false)
	return resp.Label, err
}

func categoryPath(label, suffix string) string {
	return "/api/categories/" + url.PathEscape(label) + "/" + suffix
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any, sign bool) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("could not marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("could not initialize request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sign {
		if c.Key == nil {
			return fmt.Errorf("%w: no signing key configured", interfaces.ErrUnauthorized)
		}
		if err := cryptoutils.SignRequest(req, c.Key, time.Now()); err != nil {
			return err
		}
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("could not reach ledger: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("could not read ledger response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("could not parse ledger response: %w", err)
	}
	return nil
}
