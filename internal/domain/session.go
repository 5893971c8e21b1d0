package domain

import "time"

// Session is a server-side login session, stored in Redis keyed by its
// bearer token.
type Session struct {
	Token     string    `json:"-"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session has passed its expiry.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// Principal is the authenticated identity attached to a request
// context by the auth middleware. Handlers read it through
// PrincipalFrom; nothing about it comes from the client beyond the
// bearer token.
type Principal struct {
	UserID string
	Email  string
	Role   Role
	Token  string
}

// IsAdmin reports whether the principal may reach admin routes.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}
