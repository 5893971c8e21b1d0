package domain

import (
	"fmt"
	"time"
)

// ContactStatus tracks back-office handling of a contact request.
type ContactStatus string

const (
	ContactStatusNew        ContactStatus = "new"
	ContactStatusInProgress ContactStatus = "in_progress"
	ContactStatusClosed     ContactStatus = "closed"
)

// ParseContactStatus validates a status string.
func ParseContactStatus(s string) (ContactStatus, error) {
	switch ContactStatus(s) {
	case ContactStatusNew, ContactStatusInProgress, ContactStatusClosed:
		return ContactStatus(s), nil
	}
	return "", fmt.Errorf("%w: unknown contact status %q", ErrValidation, s)
}

// ContactRequest is a message submitted through the public contact
// form, worked by the sales team in the admin console.
type ContactRequest struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Email      string        `json:"email"`
	Company    string        `json:"company,omitempty"`
	Message    string        `json:"message"`
	Status     ContactStatus `json:"status"`
	AssignedTo string        `json:"assigned_to,omitempty"` // admin user id
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}
