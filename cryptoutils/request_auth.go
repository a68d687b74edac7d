package cryptoutils

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/confidential-loan-ledger/interfaces"
)

const (
	SignatureHeader = "X-Ledger-Signature"
	TimestampHeader = "X-Ledger-Timestamp"

	// MaxRequestSkew bounds how far a signed request timestamp may be from now.
	MaxRequestSkew = 5 * time.Minute
)

// RequestDigest is keccak256(method \n path \n unix timestamp \n body).
func RequestDigest(method, path string, timestamp int64, body []byte) common.Hash {
	return crypto.Keccak256Hash(
		[]byte(method), []byte("\n"),
		[]byte(path), []byte("\n"),
		[]byte(strconv.FormatInt(timestamp, 10)), []byte("\n"),
		body,
	)
}

// SignRequest adds the identity headers to req. The body is read and restored.
func SignRequest(req *http.Request, key *ecdsa.PrivateKey, now time.Time) error {
	if req == nil {
		return errors.New("request cannot be nil")
	}

	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return fmt.Errorf("failed to read request body: %w", err)
		}
		req.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
	}

	ts := now.Unix()
	digest := RequestDigest(req.Method, req.URL.Path, ts, bodyBytes)
	signature, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	req.Header.Set(TimestampHeader, strconv.FormatInt(ts, 10))
	req.Header.Set(SignatureHeader, base64.StdEncoding.EncodeToString(signature))
	return nil
}

// RecoverRequestSigner returns the address that signed r. The body is restored
// for later handlers.
func RecoverRequestSigner(r *http.Request, now time.Time) (common.Address, error) {
	signatureStr := r.Header.Get(SignatureHeader)
	timestampStr := r.Header.Get(TimestampHeader)
	if signatureStr == "" || timestampStr == "" {
		return common.Address{}, fmt.Errorf("%w: missing signature headers", interfaces.ErrUnauthorized)
	}

	ts, err := strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: invalid timestamp", interfaces.ErrUnauthorized)
	}
	skew := now.Sub(time.Unix(ts, 0))
	if skew > MaxRequestSkew || skew < -MaxRequestSkew {
		return common.Address{}, fmt.Errorf("%w: timestamp outside allowed skew", interfaces.ErrUnauthorized)
	}

	signature, err := base64.StdEncoding.DecodeString(signatureStr)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: invalid signature encoding", interfaces.ErrUnauthorized)
	}

	var bodyBytes []byte
	if r.Body != nil {
		bodyBytes, err = io.ReadAll(r.Body)
		if err != nil {
			return common.Address{}, fmt.Errorf("failed to read request body: %w", err)
		}
		r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
	}

	digest := RequestDigest(r.Method, r.URL.Path, ts, bodyBytes)
	pubkey, err := crypto.SigToPub(digest.Bytes(), signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", interfaces.ErrUnauthorized, err)
	}

	return crypto.PubkeyToAddress(*pubkey), nil
}
