package interfaces

import "errors"

var (
	// ErrAlreadyRevealed is returned when a request or callback targets an entity
	// that has already been revealed. Duplicate and late callbacks end here.
	ErrAlreadyRevealed = errors.New("already revealed")

	// ErrUnknownRequest is returned when a callback carries a request id that was
	// never issued or has been evicted.
	ErrUnknownRequest = errors.New("unknown decryption request")

	// ErrInvalidProof is returned when the attestation proof does not bind the
	// cleartexts to the request id.
	ErrInvalidProof = errors.New("invalid decryption proof")

	// ErrMalformedPayload is returned when a cleartext bundle cannot be decoded
	// into the expected fields.
	ErrMalformedPayload = errors.New("malformed cleartext payload")

	// ErrCategoryNotFound is returned for categories without an initialized counter
	// and for digests that match no known label.
	ErrCategoryNotFound = errors.New("category not found")

	// ErrNotFound is returned when reading an application id that does not exist.
	ErrNotFound = errors.New("application not found")

	// ErrInvalidCiphertext is returned when a submitted blob is empty or does not
	// parse as a ciphertext of the service parameters.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")

	// ErrCounterOverflow is returned when one more increment would wrap a
	// category counter past the plaintext range.
	ErrCounterOverflow = errors.New("category counter overflow")

	// ErrUnauthorized is returned when the caller identity may not invoke an operation.
	ErrUnauthorized = errors.New("unauthorized")
)
