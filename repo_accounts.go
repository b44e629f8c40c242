package accounts

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"
)

// Accounts is the account repository
type Accounts interface {
	repository.Repository[*Account]

	GetByEmail(ctx context.Context, email string) (*Account, error)
	GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Account, error)
	GetByUsernameTx(ctx context.Context, tx bun.IDB, username string) (*Account, error)
	// GetByIdentifier accepts an email or a username.
	GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*Account, error)
	GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (*Account, error)

	// UpdateStatusTx moves id from one status to another and reports whether
	// a row in status from was found.
	UpdateStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, from, to AccountStatus, at time.Time) (bool, error)
	// DeleteInStatusTx removes id when it is still in status and reports
	// whether a row was removed.
	DeleteInStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status AccountStatus) (bool, error)
	UpdatePasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string, at time.Time) error
	UpdateEmailTx(ctx context.Context, tx bun.IDB, id uuid.UUID, email string, at time.Time) error

	TrackAttemptedLogin(ctx context.Context, account *Account, at time.Time) error
	TrackSuccessfulLogin(ctx context.Context, account *Account, at time.Time) error
}

type accounts struct {
	repository.Repository[*Account]
	db *bun.DB
}

var (
	_ Accounts                        = (*accounts)(nil)
	_ repository.Repository[*Account] = (*accounts)(nil)
)

func NewAccountsRepository(db *bun.DB) Accounts {
	repo := repository.NewRepository[*Account](db, repository.ModelHandlers[*Account]{
		NewRecord: func() *Account { return &Account{} },
		GetID: func(a *Account) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *Account, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &accounts{
		Repository: repo,
		db:         db,
	}
}

func (a *accounts) Create(ctx context.Context, record *Account) (*Account, error) {
	return a.CreateTx(ctx, a.db, record)
}

func (a *accounts) CreateTx(ctx context.Context, tx bun.IDB, record *Account) (*Account, error) {
	prepareAccountDefaults(record)
	if _, err := a.Repository.CreateTx(ctx, tx, record); err != nil {
		if field, ok := uniqueViolation(err); ok {
			return nil, conflictFor(field)
		}
		return nil, err
	}
	return record, nil
}

func (a *accounts) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (*Account, error) {
	return a.GetByIDTx(ctx, a.db, id, criteria...)
}

func (a *accounts) GetByIDTx(ctx context.Context, tx bun.IDB, id string, criteria ...repository.SelectCriteria) (*Account, error) {
	return found(a.Repository.GetByIDTx(ctx, tx, id, criteria...))
}

func (a *accounts) GetByEmail(ctx context.Context, email string) (*Account, error) {
	return a.GetByEmailTx(ctx, a.db, email)
}

func (a *accounts) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Account, error) {
	return found(a.GetTx(ctx, tx, repository.SelectBy("email", "=", NormalizeEmail(email))))
}

func (a *accounts) GetByUsernameTx(ctx context.Context, tx bun.IDB, username string) (*Account, error) {
	return found(a.GetTx(ctx, tx, repository.SelectBy("username", "=", strings.TrimSpace(username))))
}

func (a *accounts) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*Account, error) {
	return a.GetByIdentifierTx(ctx, a.db, identifier, criteria...)
}

func (a *accounts) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (*Account, error) {
	identifier = strings.TrimSpace(identifier)
	column, value := "username", identifier
	if _, err := mail.ParseAddress(identifier); err == nil && strings.Contains(identifier, "@") {
		column, value = "email", NormalizeEmail(identifier)
	}
	criteria = append([]repository.SelectCriteria{repository.SelectBy(column, "=", value)}, criteria...)
	return found(a.GetTx(ctx, tx, criteria...))
}

// UpdateStatusTx and DeleteInStatusTx need the affected row count to tell a
// lost race apart from success, so they run on bun directly.
func (a *accounts) UpdateStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, from, to AccountStatus, at time.Time) (bool, error) {
	q := tx.NewUpdate().
		Model((*Account)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", at)

	if to == AccountStatusActive {
		q = q.Set("activated_at = ?", at)
	}

	res, err := q.
		Where("id = ?", id).
		Where("status = ?", from).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	return rowsAffected(res) == 1, nil
}

func (a *accounts) DeleteInStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status AccountStatus) (bool, error) {
	res, err := tx.NewDelete().
		Model((*Account)(nil)).
		Where("id = ?", id).
		Where("status = ?", status).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	return rowsAffected(res) == 1, nil
}

func (a *accounts) UpdatePasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string, at time.Time) error {
	res, err := tx.NewUpdate().
		Model((*Account)(nil)).
		Set("password_hash = ?", passwordHash).
		Set("password_changed_at = ?", at).
		Set("login_attempts = 0").
		Set("login_attempt_at = NULL").
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	if rowsAffected(res) == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (a *accounts) UpdateEmailTx(ctx context.Context, tx bun.IDB, id uuid.UUID, email string, at time.Time) error {
	record := &Account{ID: id, Email: NormalizeEmail(email), UpdatedAt: at}
	if _, err := a.UpdateTx(ctx, tx, record, repository.UpdateColumns("email", "updated_at")); err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrAccountNotFound
		}
		if field, ok := uniqueViolation(err); ok {
			return conflictFor(field)
		}
		return err
	}
	return nil
}

func (a *accounts) TrackAttemptedLogin(ctx context.Context, account *Account, at time.Time) error {
	_, err := a.db.NewUpdate().
		Model((*Account)(nil)).
		Set("login_attempts = login_attempts + 1").
		Set("login_attempt_at = ?", at).
		Where("id = ?", account.ID).
		Exec(ctx)
	return err
}

func (a *accounts) TrackSuccessfulLogin(ctx context.Context, account *Account, at time.Time) error {
	_, err := a.db.NewUpdate().
		Model((*Account)(nil)).
		Set("loggedin_at = ?", at).
		Set("login_attempts = 0").
		Set("login_attempt_at = NULL").
		Where("id = ?", account.ID).
		Exec(ctx)
	return err
}

func prepareAccountDefaults(record *Account) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.Status == "" {
		record.Status = AccountStatusPending
	}
	record.Email = NormalizeEmail(record.Email)
	record.Username = strings.TrimSpace(record.Username)

	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}
}

// uniqueViolation detects unique constraint failures for postgres (pgx) and
// sqlite and reports which column collided when it can tell.
func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != "23505" {
			return "", false
		}
		return columnFromConstraint(pgErr.ConstraintName + " " + pgErr.Detail), true
	}

	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") {
		return columnFromConstraint(msg), true
	}
	return "", false
}

func columnFromConstraint(s string) string {
	switch {
	case strings.Contains(s, "email"):
		return "email"
	case strings.Contains(s, "username"):
		return "username"
	default:
		return ""
	}
}

func found(record *Account, err error) (*Account, error) {
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return record, nil
}

func conflictFor(field string) error {
	if field == "username" {
		return ErrUsernameTaken
	}
	return ErrEmailTaken
}
