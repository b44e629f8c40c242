package accounts

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	TxRunner
	Validate() error
	MustValidate()
	Accounts() Accounts
	Tokens() TokenStore
}

type mngr struct {
	db       *bun.DB
	accounts Accounts
	tokens   TokenStore
}

// RepositoryManagerOption customizes the manager
type RepositoryManagerOption func(*mngr)

// WithTokenStore replaces the SQL token store, e.g. with a DynamoDB table.
func WithTokenStore(store TokenStore) RepositoryManagerOption {
	return func(m *mngr) {
		if store != nil {
			m.tokens = store
		}
	}
}

func NewRepositoryManager(db *bun.DB, opts ...RepositoryManagerOption) RepositoryManager {
	m := &mngr{
		db:       db,
		accounts: NewAccountsRepository(db),
		tokens:   NewTokensRepository(db),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func (m mngr) Validate() error {
	if m.db == nil {
		return errors.New("database should be initialized")
	}

	if m.accounts == nil {
		return errors.New("repository accounts should be initialized")
	}

	if m.tokens == nil {
		return errors.New("repository tokens should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Accounts() Accounts {
	return m.accounts
}

func (m mngr) Tokens() TokenStore {
	return m.tokens
}
