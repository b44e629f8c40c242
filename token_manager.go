package accounts

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// TokenManager issues, resolves and consumes verification tokens.
type TokenManager struct {
	store  TokenStore
	ttl    map[TokenPurpose]time.Duration
	now    func() time.Time
	logger Logger
}

// TokenManagerOption customizes a TokenManager
type TokenManagerOption func(*TokenManager)

// WithTokenTTL sets the lifetime of tokens issued for purpose.
func WithTokenTTL(purpose TokenPurpose, ttl time.Duration) TokenManagerOption {
	return func(m *TokenManager) {
		if ttl > 0 {
			m.ttl[purpose] = ttl
		}
	}
}

// WithTokenClock injects a custom clock (useful for tests).
func WithTokenClock(clock func() time.Time) TokenManagerOption {
	return func(m *TokenManager) {
		if clock != nil {
			m.now = clock
		}
	}
}

func WithTokenLogger(logger Logger) TokenManagerOption {
	return func(m *TokenManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewTokenManager returns a manager over store with default lifetimes.
func NewTokenManager(store TokenStore, opts ...TokenManagerOption) *TokenManager {
	m := &TokenManager{
		store: store,
		ttl: map[TokenPurpose]time.Duration{
			PurposeActivateAccount: DefaultActivationTokenTTL,
			PurposeResetPassword:   DefaultPasswordResetTokenTTL,
		},
		now:    time.Now,
		logger: defLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// TTL returns the lifetime of tokens issued for purpose.
func (m *TokenManager) TTL(purpose TokenPurpose) time.Duration {
	if ttl, ok := m.ttl[purpose]; ok {
		return ttl
	}
	return DefaultPasswordResetTokenTTL
}

// Issue creates a token for purpose and returns the value to hand out.
func (m *TokenManager) Issue(ctx context.Context, purpose TokenPurpose, payload TokenPayload) (string, error) {
	return m.issue(ctx, m.store, purpose, payload)
}

// IssueTx is Issue with the token written through tx when the store supports
// it.
func (m *TokenManager) IssueTx(ctx context.Context, tx bun.IDB, purpose TokenPurpose, payload TokenPayload) (string, error) {
	store, _ := scopeTokenStore(m.store, tx)
	return m.issue(ctx, store, purpose, payload)
}

func (m *TokenManager) issue(ctx context.Context, store TokenStore, purpose TokenPurpose, payload TokenPayload) (string, error) {
	tokenID, err := GenerateTokenID()
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate token")
	}

	now := m.now()
	record := &VerificationToken{
		ID:        DigestToken(tokenID),
		Purpose:   purpose,
		AccountID: payload.AccountID,
		Payload:   payload,
		IssuedAt:  now.UTC(),
		ExpiresAt: now.Add(m.TTL(purpose)).Unix(),
	}

	if err := store.Put(ctx, record); err != nil {
		return "", storageError(err, "failed to store token")
	}

	return tokenID, nil
}

// Resolve returns the payload of a live token issued for purpose. It never
// consumes the token.
func (m *TokenManager) Resolve(ctx context.Context, tokenID string, purpose TokenPurpose) (*TokenPayload, error) {
	record, err := m.lookup(ctx, m.store, tokenID, purpose)
	if err != nil {
		return nil, err
	}
	payload := record.Payload
	return &payload, nil
}

// Invalidate removes a token. Unknown tokens are not an error.
func (m *TokenManager) Invalidate(ctx context.Context, tokenID string) error {
	if !wellFormedTokenID(tokenID) {
		return nil
	}
	if _, err := m.store.Delete(ctx, DigestToken(tokenID)); err != nil {
		return storageError(err, "failed to invalidate token")
	}
	return nil
}

// PurgeExpired removes expired tokens from the store.
func (m *TokenManager) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := m.store.PurgeExpired(ctx, m.now())
	if err != nil {
		return 0, storageError(err, "failed to purge expired tokens")
	}
	return n, nil
}

// RedeemFunc applies the effect of a token inside the redeeming transaction.
type RedeemFunc func(ctx context.Context, tx bun.Tx, payload TokenPayload) error

// Redeem consumes tokenID and runs apply in a single transaction. The token
// is deleted only if apply succeeds, and apply is rolled back when another
// caller consumed the token first. Stores that cannot join the transaction
// get the token written back when the transaction fails after the delete.
func (m *TokenManager) Redeem(ctx context.Context, runner TxRunner, tokenID string, purpose TokenPurpose, apply RedeemFunc) error {
	var consumed *VerificationToken
	var transactional bool

	err := runner.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		consumed = nil

		var store TokenStore
		store, transactional = scopeTokenStore(m.store, tx)

		record, err := m.lookup(ctx, store, tokenID, purpose)
		if err != nil {
			return err
		}

		if err := apply(ctx, tx, record.Payload); err != nil {
			return err
		}

		removed, err := store.Delete(ctx, record.ID)
		if err != nil {
			return storageError(err, "failed to consume token")
		}
		if !removed {
			return ErrTokenNotFound
		}

		consumed = record
		return nil
	})

	if err != nil && consumed != nil && !transactional {
		m.restore(ctx, consumed)
	}

	return err
}

func (m *TokenManager) restore(ctx context.Context, record *VerificationToken) {
	if err := m.store.Put(context.WithoutCancel(ctx), record); err != nil {
		m.logger.Error("failed to restore consumed token", "purpose", record.Purpose, "error", err)
	}
}

func (m *TokenManager) lookup(ctx context.Context, store TokenStore, tokenID string, purpose TokenPurpose) (*VerificationToken, error) {
	if !wellFormedTokenID(tokenID) {
		return nil, ErrTokenNotFound
	}

	record, err := store.Get(ctx, DigestToken(tokenID))
	if err != nil {
		if IsTokenNotFound(err) {
			return nil, ErrTokenNotFound
		}
		return nil, storageError(err, "failed to load token")
	}

	if record.Purpose != purpose || record.Expired(m.now()) {
		return nil, ErrTokenNotFound
	}

	return record, nil
}
