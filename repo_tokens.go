package accounts

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
)

// sqlTokens is the bun backed TokenStore
type sqlTokens struct {
	db bun.IDB
}

var _ TxTokenStore = (*sqlTokens)(nil)

// NewTokensRepository returns a TokenStore over the verification_tokens table.
func NewTokensRepository(db bun.IDB) TxTokenStore {
	return &sqlTokens{db: db}
}

func (s *sqlTokens) WithTx(tx bun.IDB) TokenStore {
	return &sqlTokens{db: tx}
}

func (s *sqlTokens) Put(ctx context.Context, token *VerificationToken) error {
	_, err := s.db.NewInsert().Model(token).Exec(ctx)
	return err
}

func (s *sqlTokens) Get(ctx context.Context, id string) (*VerificationToken, error) {
	record := &VerificationToken{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	return record, nil
}

func (s *sqlTokens) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.NewDelete().
		Model((*VerificationToken)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	return rowsAffected(res) == 1, nil
}

func (s *sqlTokens) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*VerificationToken)(nil)).
		Where("expires_at <= ?", now.Unix()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return rowsAffected(res), nil
}

func rowsAffected(res sql.Result) int64 {
	if res == nil {
		return 0
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}
