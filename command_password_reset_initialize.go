package accounts

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// PasswordResetRequestMessage asks for a reset link
type PasswordResetRequestMessage struct {
	Email      string                            `json:"email" form:"email"`
	OnResponse func(*PasswordResetRequestResult) `json:"-"`
}

func (m PasswordResetRequestMessage) Type() string { return "account.password_reset.request" }

// Validate will run validation rules
func (m PasswordResetRequestMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Email, validation.Required, is.Email),
	)
}

type PasswordResetRequestHandler struct {
	l *Lifecycle
}

func NewPasswordResetRequestHandler(l *Lifecycle) *PasswordResetRequestHandler {
	return &PasswordResetRequestHandler{l: l}
}

func (h *PasswordResetRequestHandler) Execute(ctx context.Context, msg PasswordResetRequestMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset request",
		)
	default:
		return h.execute(ctx, msg)
	}
}

func (h *PasswordResetRequestHandler) execute(ctx context.Context, msg PasswordResetRequestMessage) error {
	if err := msg.Validate(); err != nil {
		return validationError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	result := &PasswordResetRequestResult{}
	var account *Account
	var tokenID string

	err := h.l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		account, err = h.l.repo.Accounts().GetByEmailTx(ctx, tx, msg.Email)
		if err != nil {
			if IsAccountNotFound(err) {
				account = nil
				return nil
			}
			return storageError(err, "failed to retrieve account for password reset")
		}

		if !account.IsActive() {
			account = nil
			return nil
		}

		tokenID, err = h.l.tokens.IssueTx(ctx, tx, PurposeResetPassword, TokenPayload{AccountID: account.ID})
		return err
	})

	if err != nil {
		return richOrInternal(err, "failed to request password reset")
	}

	if account != nil {
		result.Sent = true
		result.Warning = h.l.notify(ctx, account, Notification{
			To:       account.Email,
			Username: account.Username,
			Template: TemplatePasswordReset,
			TokenID:  tokenID,
		})
		h.l.record(ctx, ActivityEventPasswordResetRequested, account, nil)
	}

	if msg.OnResponse != nil {
		msg.OnResponse(result)
	}

	return nil
}
