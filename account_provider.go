package accounts

import (
	"context"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

// MaxLoginAttempts is the maximun number of failed attempts an account gets
// in a CoolDownPeriod
var MaxLoginAttempts = 5

// CoolDownPeriod is the period in which we enforce a cool down
var CoolDownPeriod = "24h"

// AccountTracker is a store we can use to retrieve accounts and keep track
// of login attempts
type AccountTracker interface {
	GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*Account, error)
	TrackAttemptedLogin(ctx context.Context, account *Account, at time.Time) error
	TrackSuccessfulLogin(ctx context.Context, account *Account, at time.Time) error
}

// AccountProvider verifies credentials
type AccountProvider struct {
	store  AccountTracker
	hasher PasswordHasher
	now    func() time.Time
	logger Logger

	dummyOnce sync.Once
	dummyHash string
}

// NewAccountProvider will create a new AccountProvider
func NewAccountProvider(store AccountTracker, hasher PasswordHasher) *AccountProvider {
	if hasher == nil {
		hasher = BcryptHasher{}
	}
	return &AccountProvider{
		store:  store,
		hasher: hasher,
		now:    time.Now,
		logger: defLogger(),
	}
}

func (u *AccountProvider) WithLogger(l Logger) *AccountProvider {
	if l != nil {
		u.logger = l
	}
	return u
}

// WithClock injects a custom clock (useful for tests).
func (u *AccountProvider) WithClock(clock func() time.Time) *AccountProvider {
	if clock != nil {
		u.now = clock
	}
	return u
}

// VerifyIdentity will find the account, compare the password, and return it.
// Only active accounts verify; the status is checked after the password so
// that a pending account is not revealed to someone without the password.
func (u *AccountProvider) VerifyIdentity(ctx context.Context, identifier, password string) (*Account, error) {
	account, err := u.store.GetByIdentifier(ctx, identifier)
	if err != nil {
		if IsAccountNotFound(err) {
			_ = u.hasher.ComparePasswordAndHash(password, u.dummy())
			return nil, ErrMismatchedHashAndPassword
		}
		return nil, storageError(err, "failed to retrieve account during verification")
	}

	now := u.now()

	if account.LoginAttemptAt != nil {
		within, err := withinThreshold(now, *account.LoginAttemptAt, CoolDownPeriod)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to calculate login attempt cooldown")
		}
		if !within {
			account.LoginAttempts = 0
		}
	}

	//if we have too many attempts in the given window, cool off!
	if account.LoginAttempts >= MaxLoginAttempts {
		return nil, ErrTooManyLoginAttempts
	}

	if err := u.hasher.ComparePasswordAndHash(password, account.PasswordHash); err != nil {
		if err2 := u.store.TrackAttemptedLogin(ctx, account, now); err2 != nil {
			return nil, storageError(err2, "failed to track login attempt")
		}
		return nil, ErrMismatchedHashAndPassword
	}

	if !account.IsActive() {
		return nil, ErrAccountNotActive
	}

	if err := u.store.TrackSuccessfulLogin(ctx, account, now); err != nil {
		u.logger.Error("failed to track successful login", "account_id", account.ID, "error", err)
	}
	account.LoginAttempts = 0
	account.LoginAttemptAt = nil
	account.LoggedInAt = &now

	return account, nil
}

func (u *AccountProvider) dummy() string {
	u.dummyOnce.Do(func() {
		h, err := RandomPasswordHash(u.hasher)
		if err != nil {
			u.logger.Warn("failed to build dummy password hash", "error", err)
		}
		u.dummyHash = h
	})
	return u.dummyHash
}
