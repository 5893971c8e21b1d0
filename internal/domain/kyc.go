package domain

import (
	"fmt"
	"time"
)

// KYCDocumentType classifies an uploaded verification document.
type KYCDocumentType string

const (
	KYCDocPassport        KYCDocumentType = "passport"
	KYCDocCompanyRegistry KYCDocumentType = "company_registry"
	KYCDocProofOfAddress  KYCDocumentType = "proof_of_address"
)

// ParseKYCDocumentType validates a client-supplied document type.
func ParseKYCDocumentType(s string) (KYCDocumentType, error) {
	switch KYCDocumentType(s) {
	case KYCDocPassport, KYCDocCompanyRegistry, KYCDocProofOfAddress:
		return KYCDocumentType(s), nil
	}
	return "", fmt.Errorf("%w: unknown document type %q", ErrValidation, s)
}

// KYCDocument is the metadata row for a document stored in the blob
// bucket under StorageKey. Content never touches Postgres.
type KYCDocument struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Type        KYCDocumentType `json:"type"`
	FileName    string          `json:"file_name"`
	ContentType string          `json:"content_type"`
	SizeBytes   int64           `json:"size_bytes"`
	StorageKey  string          `json:"-"`
	CreatedAt   time.Time       `json:"created_at"`
}

// KYCReview is an admin decision over a user's pending submission.
type KYCReview struct {
	UserID     string    `json:"user_id"`
	Decision   KYCStatus `json:"decision"` // KYCApproved or KYCRejected
	Note       string    `json:"note,omitempty"`
	ReviewerID string    `json:"reviewer_id"`
	ReviewedAt time.Time `json:"reviewed_at"`
}
