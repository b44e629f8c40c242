package accounts

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// FinalizePasswordResetMessage sets a new password with a reset token
type FinalizePasswordResetMessage struct {
	Token           string         `json:"token" form:"token"`
	Password        string         `json:"password" form:"password"`
	ConfirmPassword string         `json:"confirm_password" form:"confirm_password"`
	OnResponse      func(*Account) `json:"-"`
}

func (m FinalizePasswordResetMessage) Type() string { return "account.password_reset.finalize" }

// Validate will run validation rules
func (m FinalizePasswordResetMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Token, validation.Required),
		validation.Field(&m.Password, passwordRules...),
		validation.Field(&m.ConfirmPassword, validation.By(optionalMatch(m.Password))),
	)
}

type FinalizePasswordResetHandler struct {
	l *Lifecycle
}

func NewFinalizePasswordResetHandler(l *Lifecycle) *FinalizePasswordResetHandler {
	return &FinalizePasswordResetHandler{l: l}
}

func (h *FinalizePasswordResetHandler) Execute(ctx context.Context, msg FinalizePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset finalization",
		)
	default:
		return h.execute(ctx, msg)
	}
}

func (h *FinalizePasswordResetHandler) execute(ctx context.Context, msg FinalizePasswordResetMessage) error {
	if err := msg.Validate(); err != nil {
		return validationError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	hash, err := h.l.hasher.HashPassword(msg.Password)
	if err != nil {
		return richOrInternal(err, "invalid new password provided")
	}

	var account *Account
	now := h.l.now().UTC()

	err = h.l.tokens.Redeem(ctx, h.l.repo, msg.Token, PurposeResetPassword,
		func(ctx context.Context, tx bun.Tx, payload TokenPayload) error {
			accounts := h.l.repo.Accounts()

			record, err := accounts.GetByIDTx(ctx, tx, payload.AccountID.String())
			if err != nil {
				if IsAccountNotFound(err) {
					return ErrInvalidToken
				}
				return storageError(err, "failed to load account")
			}

			if !record.IsActive() {
				return ErrInvalidToken
			}

			if err := accounts.UpdatePasswordTx(ctx, tx, record.ID, hash, now); err != nil {
				return storageError(err, "failed to update account password")
			}

			record.PasswordHash = hash
			record.PasswordChangedAt = &now
			record.LoginAttempts = 0
			record.LoginAttemptAt = nil
			account = record
			return nil
		})

	if err != nil {
		if IsTokenNotFound(err) {
			return ErrInvalidToken
		}
		return richOrInternal(err, "failed to finalize password reset")
	}

	h.l.record(ctx, ActivityEventPasswordReset, account, nil)

	if msg.OnResponse != nil {
		msg.OnResponse(account)
	}

	return nil
}
