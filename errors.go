package accounts

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeValidation        = "VALIDATION_FAILED"
	TextCodeInvalidToken      = "INVALID_TOKEN"
	TextCodeTokenNotFound     = "TOKEN_NOT_FOUND"
	TextCodeAccountNotFound   = "ACCOUNT_NOT_FOUND"
	TextCodeUsernameTaken     = "USERNAME_TAKEN"
	TextCodeEmailTaken        = "EMAIL_TAKEN"
	TextCodeInvalidPassword   = "INVALID_CREDENTIALS"
	TextCodeAccountNotActive  = "ACCOUNT_NOT_ACTIVE"
	TextCodeTooManyAttempts   = "TOO_MANY_LOGIN_ATTEMPTS"
	TextCodeSessionNotFound   = "SESSION_NOT_FOUND"
	TextCodeSessionInvalid    = "SESSION_INVALID"
	TextCodeSessionExpired    = "SESSION_EXPIRED"
	TextCodeStorageFailure    = "STORAGE_FAILURE"
	TextCodeNotificationError = "NOTIFICATION_FAILED"
	TextCodeEmptyPassword     = "EMPTY_PASSWORD"
)

// ErrInvalidToken is what callers see for any activation or reset link that
// does not resolve: unknown, expired, already used or pointing at an account
// in the wrong state. The cases are deliberately indistinguishable.
var ErrInvalidToken = goerrors.New("invalid or expired link", goerrors.CategoryBadInput).
	WithTextCode(TextCodeInvalidToken).
	WithCode(goerrors.CodeBadRequest)

// ErrTokenNotFound is returned by the token manager when a token is absent,
// expired or was issued for another purpose.
var ErrTokenNotFound = goerrors.New("token not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeTokenNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrAccountNotFound is the error we return for unknown accounts
var ErrAccountNotFound = goerrors.New("account not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeAccountNotFound).
	WithCode(goerrors.CodeNotFound)

var ErrUsernameTaken = goerrors.New("username is already taken", goerrors.CategoryConflict).
	WithTextCode(TextCodeUsernameTaken).
	WithCode(goerrors.CodeConflict)

var ErrEmailTaken = goerrors.New("email is already registered", goerrors.CategoryConflict).
	WithTextCode(TextCodeEmailTaken).
	WithCode(goerrors.CodeConflict)

// ErrMismatchedHashAndPassword covers both unknown identifiers and wrong
// passwords during login.
var ErrMismatchedHashAndPassword = goerrors.New("invalid credentials", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidPassword).
	WithCode(goerrors.CodeUnauthorized)

var ErrAccountNotActive = goerrors.New("account is not active", goerrors.CategoryAuth).
	WithTextCode(TextCodeAccountNotActive).
	WithCode(goerrors.CodeForbidden)

var ErrTooManyLoginAttempts = goerrors.New("too many login attempts", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeTooManyAttempts)

// ErrUnableToFindSession is returned when an operation needs a session and
// the request carries none.
var ErrUnableToFindSession = goerrors.New("unable to find session", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionNotFound).
	WithCode(goerrors.CodeUnauthorized)

// ErrUnableToDecodeSession unable to decode JWT from session cookie
var ErrUnableToDecodeSession = goerrors.New("unable to decode session", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionInvalid).
	WithCode(goerrors.CodeUnauthorized)

var ErrSessionExpired = goerrors.New("session expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionExpired).
	WithCode(goerrors.CodeUnauthorized)

var ErrNoEmptyString = goerrors.New("password can not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(goerrors.CodeBadRequest)

// storageError wraps a persistence failure. Storage failures are retryable.
func storageError(err error, msg string) error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg).
		WithTextCode(TextCodeStorageFailure).
		WithCode(goerrors.CodeInternal)
}

// richOrInternal returns rich errors untouched and wraps anything else.
func richOrInternal(err error, msg string) error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg)
}

func hasTextCode(err error, codes ...string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	for _, code := range codes {
		if richErr.TextCode == code {
			return true
		}
	}
	return false
}

// IsInvalidToken reports whether err means a link could not be redeemed.
func IsInvalidToken(err error) bool {
	return hasTextCode(err, TextCodeInvalidToken)
}

// IsTokenNotFound reports whether the token manager could not resolve a token.
func IsTokenNotFound(err error) bool {
	return hasTextCode(err, TextCodeTokenNotFound)
}

func IsAccountNotFound(err error) bool {
	return hasTextCode(err, TextCodeAccountNotFound)
}

// IsConflict reports uniqueness conflicts on username or email.
func IsConflict(err error) bool {
	return hasTextCode(err, TextCodeUsernameTaken, TextCodeEmailTaken)
}

func IsValidation(err error) bool {
	return hasTextCode(err, TextCodeValidation, TextCodeEmptyPassword)
}

// IsStorageFailure reports failures that are safe to retry.
func IsStorageFailure(err error) bool {
	return hasTextCode(err, TextCodeStorageFailure)
}

func IsInvalidCredentials(err error) bool {
	return hasTextCode(err, TextCodeInvalidPassword)
}

func IsUnauthenticated(err error) bool {
	return hasTextCode(err, TextCodeSessionNotFound, TextCodeSessionInvalid, TextCodeSessionExpired)
}

// IsTokenExpiredError will check for expired session tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if hasTextCode(err, TextCodeSessionExpired) {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}
