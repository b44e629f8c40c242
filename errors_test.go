package accounts_test

import (
	"errors"
	"testing"

	"github.com/goliatone/go-accounts"
	"github.com/stretchr/testify/assert"
)

func TestErrorPredicates(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"invalid token", accounts.ErrInvalidToken, accounts.IsInvalidToken},
		{"token not found", accounts.ErrTokenNotFound, accounts.IsTokenNotFound},
		{"account not found", accounts.ErrAccountNotFound, accounts.IsAccountNotFound},
		{"username taken", accounts.ErrUsernameTaken, accounts.IsConflict},
		{"email taken", accounts.ErrEmailTaken, accounts.IsConflict},
		{"empty password", accounts.ErrNoEmptyString, accounts.IsValidation},
		{"bad credentials", accounts.ErrMismatchedHashAndPassword, accounts.IsInvalidCredentials},
		{"no session", accounts.ErrUnableToFindSession, accounts.IsUnauthenticated},
		{"bad session", accounts.ErrUnableToDecodeSession, accounts.IsUnauthenticated},
		{"expired session", accounts.ErrSessionExpired, accounts.IsTokenExpiredError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.False(t, tt.check(errors.New(tt.name)))
			assert.False(t, tt.check(nil))
		})
	}
}

func TestInvalidTokenHidesCause(t *testing.T) {
	assert.False(t, accounts.IsTokenNotFound(accounts.ErrInvalidToken))
	assert.Equal(t, "invalid or expired link", accounts.ErrInvalidToken.Message)
}

func TestMalformedError(t *testing.T) {
	assert.True(t, accounts.IsMalformedError(errors.New("token is malformed: bad segment")))
	assert.False(t, accounts.IsMalformedError(errors.New("other")))
	assert.False(t, accounts.IsMalformedError(nil))
}
