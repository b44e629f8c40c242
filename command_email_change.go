package accounts

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// ChangeEmailMessage changes the email of the session's account
type ChangeEmailMessage struct {
	Session    *Session       `json:"-"`
	Email      string         `json:"email" form:"email"`
	OnResponse func(*Account) `json:"-"`
}

func (m ChangeEmailMessage) Type() string { return "account.email.change" }

// Validate will run validation rules
func (m ChangeEmailMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Email, validation.Required, validation.Length(3, 254), is.Email),
	)
}

type ChangeEmailHandler struct {
	l *Lifecycle
}

func NewChangeEmailHandler(l *Lifecycle) *ChangeEmailHandler {
	return &ChangeEmailHandler{l: l}
}

func (h *ChangeEmailHandler) Execute(ctx context.Context, msg ChangeEmailMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during email change",
		)
	default:
		return h.execute(ctx, msg)
	}
}

func (h *ChangeEmailHandler) execute(ctx context.Context, msg ChangeEmailMessage) error {
	account, err := h.l.sessionAccount(ctx, msg.Session)
	if err != nil {
		return err
	}

	if err := msg.Validate(); err != nil {
		return validationError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	email := NormalizeEmail(msg.Email)
	previous := account.Email

	if email != previous {
		now := h.l.now().UTC()
		err = h.l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			accounts := h.l.repo.Accounts()

			other, err := accounts.GetByEmailTx(ctx, tx, email)
			if err == nil && other.ID != account.ID {
				return ErrEmailTaken
			}
			if err != nil && !IsAccountNotFound(err) {
				return storageError(err, "failed to check email")
			}

			if err := accounts.UpdateEmailTx(ctx, tx, account.ID, email, now); err != nil {
				if IsConflict(err) {
					return err
				}
				return storageError(err, "failed to update account email")
			}
			return nil
		})
		if err != nil {
			return richOrInternal(err, "failed to change email")
		}

		account.Email = email
		account.UpdatedAt = now
		h.l.record(ctx, ActivityEventEmailChanged, account, map[string]any{
			"previous_email": previous,
		})
	}

	if msg.OnResponse != nil {
		msg.OnResponse(account)
	}

	return nil
}
