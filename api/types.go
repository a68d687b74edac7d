package api

import (
	"time"

	"github.com/ruteri/confidential-loan-ledger/interfaces"
)

// SubmitApplicationRequest carries the three serialized ciphertexts of a new application.
type SubmitApplicationRequest struct {
	EncFarmData   []byte `json:"encFarmData"`
	EncYield      []byte `json:"encYield"`
	EncLoanAmount []byte `json:"encLoanAmount"`
}

type SubmitApplicationResponse struct {
	ID interfaces.ApplicationID `json:"id"`
}

// ApplicationResponse is the encrypted record of an application. Ciphertexts
// are referenced by content id in the blob storage.
type ApplicationResponse struct {
	ID            interfaces.ApplicationID `json:"id"`
	Applicant     string                   `json:"applicant"`
	EncFarmData   string                   `json:"encFarmData"`
	EncYield      string                   `json:"encYield"`
	EncLoanAmount string                   `json:"encLoanAmount"`
	CreatedAt     time.Time                `json:"createdAt"`
}

// RevealedApplicationResponse is the cleartext twin. Fields are zero until Revealed.
type RevealedApplicationResponse struct {
	ID              interfaces.ApplicationID `json:"id"`
	FarmData        string                   `json:"farmData"`
	YieldPrediction string                   `json:"yieldPrediction"`
	RecommendedLoan uint64                   `json:"recommendedLoan"`
	Revealed        bool                     `json:"revealed"`
	RevealedAt      *time.Time               `json:"revealedAt,omitempty"`
}

// DecryptionRequestResponse is returned when a decryption request was handed to the oracle.
type DecryptionRequestResponse struct {
	RequestID interfaces.RequestID `json:"requestId"`
}

type CategoriesResponse struct {
	Categories []string `json:"categories"`
}

// CounterResponse describes the encrypted counter of a category.
type CounterResponse struct {
	Label     string    `json:"label"`
	Digest    string    `json:"digest"`
	Handle    string    `json:"handle"`
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type RevealedCountResponse struct {
	Label      string               `json:"label"`
	Count      uint64               `json:"count"`
	Version    uint64               `json:"version"`
	RequestID  interfaces.RequestID `json:"requestId"`
	RevealedAt time.Time            `json:"revealedAt"`
}

type CategoryLookupResponse struct {
	Digest string `json:"digest"`
	Label  string `json:"label"`
}
