package accounts

import "time"

const (
	DefaultActivationTokenTTL    = 72 * time.Hour
	DefaultPasswordResetTokenTTL = 24 * time.Hour
	DefaultSessionHours          = 24
	DefaultContextKey            = "session"
)

// DefaultConfig is a plain struct implementation of Config. Zero values fall
// back to package defaults.
type DefaultConfig struct {
	SigningKey            string
	ContextKey            string
	TokenExpiration       int
	Issuer                string
	Audience              []string
	ActivationTokenTTL    time.Duration
	PasswordResetTokenTTL time.Duration
	RequireActivation     bool
	PublicBaseURL         string
}

var _ Config = DefaultConfig{}

func (c DefaultConfig) GetSigningKey() string {
	return c.SigningKey
}

func (c DefaultConfig) GetContextKey() string {
	if c.ContextKey == "" {
		return DefaultContextKey
	}
	return c.ContextKey
}

// GetTokenExpiration returns the session lifetime in hours
func (c DefaultConfig) GetTokenExpiration() int {
	if c.TokenExpiration <= 0 {
		return DefaultSessionHours
	}
	return c.TokenExpiration
}

func (c DefaultConfig) GetIssuer() string {
	return c.Issuer
}

func (c DefaultConfig) GetAudience() []string {
	return c.Audience
}

func (c DefaultConfig) GetActivationTokenTTL() time.Duration {
	if c.ActivationTokenTTL <= 0 {
		return DefaultActivationTokenTTL
	}
	return c.ActivationTokenTTL
}

func (c DefaultConfig) GetPasswordResetTokenTTL() time.Duration {
	if c.PasswordResetTokenTTL <= 0 {
		return DefaultPasswordResetTokenTTL
	}
	return c.PasswordResetTokenTTL
}

func (c DefaultConfig) GetRequireActivation() bool {
	return c.RequireActivation
}

func (c DefaultConfig) GetPublicBaseURL() string {
	return c.PublicBaseURL
}
