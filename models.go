package accounts

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AccountStatus is the lifecycle state of an account. A rejected account is
// removed, so there is no persisted deleted status.
type AccountStatus string

const (
	AccountStatusPending AccountStatus = "pending"
	AccountStatusActive  AccountStatus = "active"
	// AccountStatusDeleted is only used as a transition target.
	AccountStatusDeleted AccountStatus = "deleted"
)

// Account is the account model
type Account struct {
	bun.BaseModel     `bun:"table:accounts,alias:acc"`
	ID                uuid.UUID     `bun:"id,pk,type:uuid" json:"id"`
	Username          string        `bun:"username,notnull,unique" json:"username"`
	Email             string        `bun:"email,notnull,unique" json:"email"`
	PasswordHash      string        `bun:"password_hash,notnull" json:"-"`
	Status            AccountStatus `bun:"status,notnull" json:"status"`
	LoginAttempts     int           `bun:"login_attempts,notnull" json:"-"`
	LoginAttemptAt    *time.Time    `bun:"login_attempt_at" json:"-"`
	LoggedInAt        *time.Time    `bun:"loggedin_at" json:"loggedin_at,omitempty"`
	ActivatedAt       *time.Time    `bun:"activated_at" json:"activated_at,omitempty"`
	PasswordChangedAt *time.Time    `bun:"password_changed_at" json:"password_changed_at,omitempty"`
	CreatedAt         time.Time     `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt         time.Time     `bun:"updated_at,notnull" json:"updated_at"`
}

func (a *Account) IsPending() bool {
	return a != nil && a.Status == AccountStatusPending
}

func (a *Account) IsActive() bool {
	return a != nil && a.Status == AccountStatusActive
}

// TokenPurpose scopes a verification token to a single flow
type TokenPurpose string

const (
	PurposeActivateAccount TokenPurpose = "activate-account"
	PurposeResetPassword   TokenPurpose = "reset-password"
)

// TokenAction tells an activate-account token which way to move the account
type TokenAction string

const (
	TokenActionActivate TokenAction = "activate"
	TokenActionReject   TokenAction = "reject"
)

// TokenPayload is the data a token resolves to.
type TokenPayload struct {
	AccountID uuid.UUID   `json:"account_id"`
	Action    TokenAction `json:"action,omitempty"`
}

// Value implements driver.Valuer, payloads are stored as JSON text.
func (p TokenPayload) Value() (driver.Value, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (p *TokenPayload) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*p = TokenPayload{}
		return nil
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return fmt.Errorf("unsupported token payload type %T", src)
	}
}

// VerificationToken is a persisted single-use token. ID holds the digest of
// the value handed to the user, never the value itself. ExpiresAt is a Unix
// timestamp so it can double as a DynamoDB TTL attribute.
type VerificationToken struct {
	bun.BaseModel `bun:"table:verification_tokens,alias:vt"`
	ID            string       `bun:"id,pk"`
	Purpose       TokenPurpose `bun:"purpose,notnull"`
	AccountID     uuid.UUID    `bun:"account_id,type:uuid,notnull"`
	Payload       TokenPayload `bun:"payload,notnull"`
	IssuedAt      time.Time    `bun:"issued_at,notnull"`
	ExpiresAt     int64        `bun:"expires_at,notnull"`
}

// Expired reports whether the token is no longer valid at now.
func (t *VerificationToken) Expired(now time.Time) bool {
	return now.Unix() >= t.ExpiresAt
}
