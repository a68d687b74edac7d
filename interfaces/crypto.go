package interfaces

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// ValueType is the cleartext type a ciphertext decrypts to.
type ValueType uint8

const (
	// StringValue ciphertexts decrypt to UTF-8 strings.
	StringValue ValueType = iota + 1
	// Uint64Value ciphertexts decrypt to unsigned integers.
	Uint64Value
)

func (v ValueType) String() string {
	switch v {
	case StringValue:
		return "string"
	case Uint64Value:
		return "uint64"
	default:
		return "unknown"
	}
}

// CiphertextRef points at one stored ciphertext and says how to decode it.
type CiphertextRef struct {
	Handle ContentID   `json:"handle"`
	Type   ValueType   `json:"type"`
	Space  ContentType `json:"space"`
}

// CryptoProvider performs homomorphic operations on serialized ciphertexts.
// It never holds the decryption key.
type CryptoProvider interface {
	// EncryptUint64 encrypts value under the service public key.
	EncryptUint64(value uint64) ([]byte, error)

	// Add returns a ciphertext of the sum of a and b.
	Add(a, b []byte) ([]byte, error)

	// Validate checks that blob parses as a ciphertext of the provider parameters.
	Validate(blob []byte) error

	// MaxCount bounds the value a counter built by repeated Add can reach.
	MaxCount() uint64
}

// AttestationVerifier checks that a cleartext bundle genuinely answers a request.
type AttestationVerifier interface {
	Verify(requestID RequestID, cleartexts []byte, proof []byte) error
}

// DecryptionRequest is what the ledger hands to the oracle.
type DecryptionRequest struct {
	Ciphertexts []CiphertextRef `json:"ciphertexts"`

	// Callback identifies where the result is delivered. Empty means the oracle
	// delivers to its default in-process target.
	Callback string `json:"callback,omitempty"`
}

// Oracle accepts ciphertext bundles for off-path decryption.
type Oracle interface {
	SubmitDecryptionRequest(ctx context.Context, req DecryptionRequest) (RequestID, error)
}

// DecryptionResult is the oracle's answer to one request.
type DecryptionResult struct {
	RequestID  RequestID `json:"requestId"`
	Cleartexts []byte    `json:"cleartexts"`
	Proof      []byte    `json:"proof"`
}

// DecryptionCallback receives oracle answers. The ledger implements it.
type DecryptionCallback interface {
	ApplyDecryption(ctx context.Context, caller common.Address, requestID RequestID, cleartexts []byte, proof []byte) error
}
