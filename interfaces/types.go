// Package interfaces defines the core interfaces and types for the confidential loan ledger.
// It provides the contract between different components without implementation details.
package interfaces

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ApplicationID identifies a submitted loan application.
// IDs are assigned monotonically starting at 1 and never reused.
type ApplicationID uint64

// ParseApplicationID parses a decimal application id. Zero is rejected.
func ParseApplicationID(s string) (ApplicationID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid application id %q: %w", s, err)
	}
	if v == 0 {
		return 0, errors.New("invalid application id: must be positive")
	}
	return ApplicationID(v), nil
}

func (id ApplicationID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// RequestID is the opaque decryption request identifier handed out by the oracle.
type RequestID string

func (r RequestID) String() string { return string(r) }

// CategoryDigest is the fixed-size fingerprint of a category label.
type CategoryDigest [32]byte

// NewCategoryDigestFromHex parses a 32-byte digest, with or without 0x prefix.
func NewCategoryDigestFromHex(s string) (CategoryDigest, error) {
	clean := strings.TrimPrefix(s, "0x")
	if len(clean) != 64 {
		return CategoryDigest{}, errors.New("invalid category digest length: hex string must be 64 characters")
	}
	raw, err := hex.DecodeString(clean)
	if err != nil {
		return CategoryDigest{}, fmt.Errorf("invalid hex format: %w", err)
	}
	var d CategoryDigest
	copy(d[:], raw)
	return d, nil
}

func (d CategoryDigest) String() string {
	return hex.EncodeToString(d[:])
}

// TargetKind discriminates what a pending decryption request resolves to.
type TargetKind uint8

const (
	// ApplicationTarget requests reveal the three fields of one application.
	ApplicationTarget TargetKind = iota + 1
	// CategoryTarget requests reveal the current value of one category counter.
	CategoryTarget
)

func (k TargetKind) String() string {
	switch k {
	case ApplicationTarget:
		return "application"
	case CategoryTarget:
		return "category"
	default:
		return "unknown"
	}
}

// Target is the tagged key stored for every pending request.
// Exactly one of ApplicationID or Category is meaningful, selected by Kind.
type Target struct {
	Kind          TargetKind
	ApplicationID ApplicationID
	Category      CategoryDigest
}

// NewApplicationTarget returns the target for an application reveal.
func NewApplicationTarget(id ApplicationID) Target {
	return Target{Kind: ApplicationTarget, ApplicationID: id}
}

// NewCategoryTarget returns the target for a counter reveal.
func NewCategoryTarget(d CategoryDigest) Target {
	return Target{Kind: CategoryTarget, Category: d}
}

func (t Target) String() string {
	switch t.Kind {
	case ApplicationTarget:
		return "application:" + t.ApplicationID.String()
	case CategoryTarget:
		return "category:" + t.Category.String()
	default:
		return "unknown"
	}
}

// EncryptedApplication is the immutable encrypted twin of an application.
// Each field holds the handle of a ciphertext blob kept in the ciphertext store.
type EncryptedApplication struct {
	ID            ApplicationID
	Applicant     common.Address
	EncFarmData   ContentID
	EncYield      ContentID
	EncLoanAmount ContentID
	CreatedAt     time.Time
}

// RevealedApplication is the plaintext twin, populated exactly once.
type RevealedApplication struct {
	FarmData        string
	YieldPrediction string
	RecommendedLoan uint64
	Revealed        bool
	RevealedAt      time.Time
	RequestID       RequestID
}

// PendingRequest correlates an oracle request id with the entity it resolves.
type PendingRequest struct {
	RequestID RequestID
	Target    Target
	Requester common.Address

	// CounterVersion is the counter version observed when a category request
	// was issued. Zero for application targets.
	CounterVersion uint64

	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the entry is past its time-to-live at now.
func (p PendingRequest) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}

// CategoryCounter is the encrypted count of revealed applications per yield label.
type CategoryCounter struct {
	Label  string
	Digest CategoryDigest
	Handle ContentID

	// Version counts homomorphic increments applied to the counter.
	Version   uint64
	UpdatedAt time.Time
}

// RevealedCount is the persisted cleartext of a counter decryption.
type RevealedCount struct {
	Label      string
	Count      uint64
	Version    uint64
	RequestID  RequestID
	RevealedAt time.Time
}
