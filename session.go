package accounts

import (
	"time"

	"github.com/google/uuid"
)

// Session is an authenticated session. Token is the signed value handed to
// the client.
type Session struct {
	ID        string    `json:"id"`
	AccountID uuid.UUID `json:"account_id"`
	Username  string    `json:"username,omitempty"`
	Issuer    string    `json:"issuer,omitempty"`
	Audience  []string  `json:"audience,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Token     string    `json:"-"`
}

func (s *Session) GetAccountID() uuid.UUID {
	if s == nil {
		return uuid.Nil
	}
	return s.AccountID
}

// Expired reports whether the session is no longer valid at now.
func (s *Session) Expired(now time.Time) bool {
	return s == nil || !now.Before(s.ExpiresAt)
}
