package accounts

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

// TokenStore persists verification tokens keyed by their digest.
type TokenStore interface {
	// Put stores a new token. Keys are never overwritten.
	Put(ctx context.Context, token *VerificationToken) error
	// Get returns ErrTokenNotFound when id is unknown.
	Get(ctx context.Context, id string) (*VerificationToken, error)
	// Delete removes id and reports whether this call removed it. Of two
	// concurrent deletes of the same id at most one reports true.
	Delete(ctx context.Context, id string) (bool, error)
	// PurgeExpired removes tokens that expired before now.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// TxTokenStore is implemented by stores able to join a SQL transaction.
type TxTokenStore interface {
	TokenStore
	WithTx(tx bun.IDB) TokenStore
}

// scopeTokenStore returns a store bound to tx and whether it is
// transactional.
func scopeTokenStore(store TokenStore, tx bun.IDB) (TokenStore, bool) {
	if txs, ok := store.(TxTokenStore); ok && tx != nil {
		return txs.WithTx(tx), true
	}
	return store, false
}
