package domain

import (
	"fmt"
	"strings"
	"time"
)

// Role controls which API surface a user can reach. Checks happen
// server-side on every guarded route; the client is never trusted
// with an admin flag.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole validates a role string.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser:
		return RoleUser, nil
	case RoleAdmin:
		return RoleAdmin, nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrValidation, s)
}

// KYCStatus tracks identity verification. Trading requires approval.
type KYCStatus string

const (
	KYCUnverified KYCStatus = "unverified"
	KYCPending    KYCStatus = "pending"
	KYCApproved   KYCStatus = "approved"
	KYCRejected   KYCStatus = "rejected"
)

// kycTransitions enumerates the allowed status moves: submit, review,
// resubmit after rejection.
var kycTransitions = map[KYCStatus][]KYCStatus{
	KYCUnverified: {KYCPending},
	KYCPending:    {KYCApproved, KYCRejected},
	KYCRejected:   {KYCPending},
	KYCApproved:   {},
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s KYCStatus) CanTransitionTo(next KYCStatus) bool {
	for _, allowed := range kycTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// User is a platform account. PasswordHash never leaves the server.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FullName     string    `json:"full_name"`
	Company      string    `json:"company,omitempty"`
	Role         Role      `json:"role"`
	KYCStatus    KYCStatus `json:"kyc_status"`
	SellerCode   string    `json:"seller_code"` // anonymised handle shown on the board
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CanTrade reports whether the account may place orders or execute.
func (u *User) CanTrade() bool {
	return u.Active && u.KYCStatus == KYCApproved
}

// NormalizeEmail lowercases and trims an address for storage and
// lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
