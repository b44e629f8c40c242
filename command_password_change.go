package accounts

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ChangePasswordMessage changes the password of the session's account
type ChangePasswordMessage struct {
	Session         *Session `json:"-"`
	OldPassword     string   `json:"old_password" form:"old_password"`
	NewPassword     string   `json:"new_password" form:"new_password"`
	ConfirmPassword string   `json:"confirm_password" form:"confirm_password"`
}

func (m ChangePasswordMessage) Type() string { return "account.password.change" }

// Validate will run validation rules
func (m ChangePasswordMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.OldPassword, validation.Required),
		validation.Field(&m.NewPassword, passwordRules...),
		validation.Field(&m.ConfirmPassword, validation.By(optionalMatch(m.NewPassword))),
	)
}

type ChangePasswordHandler struct {
	l *Lifecycle
}

func NewChangePasswordHandler(l *Lifecycle) *ChangePasswordHandler {
	return &ChangePasswordHandler{l: l}
}

func (h *ChangePasswordHandler) Execute(ctx context.Context, msg ChangePasswordMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password change",
		)
	default:
		return h.execute(ctx, msg)
	}
}

func (h *ChangePasswordHandler) execute(ctx context.Context, msg ChangePasswordMessage) error {
	account, err := h.l.sessionAccount(ctx, msg.Session)
	if err != nil {
		return err
	}

	if err := msg.Validate(); err != nil {
		return validationError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	if err := h.l.hasher.ComparePasswordAndHash(msg.OldPassword, account.PasswordHash); err != nil {
		return ErrMismatchedHashAndPassword
	}

	hash, err := h.l.hasher.HashPassword(msg.NewPassword)
	if err != nil {
		return richOrInternal(err, "invalid new password provided")
	}

	now := h.l.now().UTC()
	err = h.l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := h.l.repo.Accounts().UpdatePasswordTx(ctx, tx, account.ID, hash, now); err != nil {
			if IsAccountNotFound(err) {
				return ErrUnableToFindSession
			}
			return storageError(err, "failed to update account password")
		}
		return nil
	})
	if err != nil {
		return richOrInternal(err, "failed to change password")
	}

	account.PasswordHash = hash
	account.PasswordChangedAt = &now
	h.l.record(ctx, ActivityEventPasswordChanged, account, nil)

	return nil
}

// sessionAccount loads the active account behind session.
func (l *Lifecycle) sessionAccount(ctx context.Context, session *Session) (*Account, error) {
	if session == nil || session.AccountID == uuid.Nil {
		return nil, ErrUnableToFindSession
	}
	if session.Expired(l.now()) {
		return nil, ErrSessionExpired
	}

	account, err := l.repo.Accounts().GetByID(ctx, session.AccountID.String())
	if err != nil {
		if IsAccountNotFound(err) {
			return nil, ErrUnableToFindSession
		}
		return nil, storageError(err, "failed to load session account")
	}

	if !account.IsActive() {
		return nil, ErrAccountNotActive
	}

	return account, nil
}
