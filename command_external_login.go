package accounts

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ExternalLoginMessage carries an identity asserted by an external provider
// (OAuth callback). The provider is trusted to have verified the email.
type ExternalLoginMessage struct {
	Provider   string                     `json:"provider"`
	ExternalID string                     `json:"external_id"`
	Email      string                     `json:"email"`
	Username   string                     `json:"username"`
	OnResponse func(*ExternalLoginResult) `json:"-"`
}

func (m ExternalLoginMessage) Type() string { return "account.external_login" }

// Validate will run validation rules
func (m ExternalLoginMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Provider, validation.Required),
		validation.Field(&m.ExternalID, validation.Required),
		validation.Field(&m.Email, validation.Required, is.Email),
	)
}

// ExternalLoginHandler finds the account owning the asserted email, creating
// an active one when there is none, and logs it in.
type ExternalLoginHandler struct {
	l *Lifecycle
}

func NewExternalLoginHandler(l *Lifecycle) *ExternalLoginHandler {
	return &ExternalLoginHandler{l: l}
}

func (h *ExternalLoginHandler) Execute(ctx context.Context, msg ExternalLoginMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during external login",
		)
	default:
		return h.execute(ctx, msg)
	}
}

func (h *ExternalLoginHandler) execute(ctx context.Context, msg ExternalLoginMessage) error {
	if err := msg.Validate(); err != nil {
		return validationError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	result := &ExternalLoginResult{}
	email := NormalizeEmail(msg.Email)

	err := h.l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		accounts := h.l.repo.Accounts()

		account, err := accounts.GetByEmailTx(ctx, tx, email)
		if err == nil {
			if !account.IsActive() {
				return ErrAccountNotActive
			}
			result.Account = account
			return nil
		}
		if !IsAccountNotFound(err) {
			return storageError(err, "failed to retrieve account")
		}

		username, err := h.availableUsername(ctx, tx, getUsername(msg.Username, email))
		if err != nil {
			return err
		}

		hash, err := RandomPasswordHash(h.l.hasher)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create password for external account")
		}

		now := h.l.now().UTC()
		account = &Account{
			Username:     username,
			Email:        email,
			PasswordHash: hash,
			Status:       AccountStatusActive,
			ActivatedAt:  &now,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if _, err := accounts.CreateTx(ctx, tx, account); err != nil {
			if IsConflict(err) {
				return err
			}
			return storageError(err, "could not create account")
		}

		result.Account = account
		result.Created = true
		return nil
	})

	if err != nil {
		return richOrInternal(err, "external login failed")
	}

	session, err := h.l.sessions.Establish(ctx, result.Account)
	if err != nil {
		return richOrInternal(err, "failed to establish session")
	}
	result.Session = session

	if result.Created {
		h.l.record(ctx, ActivityEventSignup, result.Account, map[string]any{"provider": msg.Provider})
	}
	h.l.record(ctx, ActivityEventExternalLogin, result.Account, map[string]any{
		"provider":    msg.Provider,
		"external_id": msg.ExternalID,
	})

	if msg.OnResponse != nil {
		msg.OnResponse(result)
	}

	return nil
}

func (h *ExternalLoginHandler) availableUsername(ctx context.Context, tx bun.IDB, base string) (string, error) {
	candidate := base
	for i := 0; i < 5; i++ {
		_, err := h.l.repo.Accounts().GetByUsernameTx(ctx, tx, candidate)
		if IsAccountNotFound(err) {
			return candidate, nil
		}
		if err != nil {
			return "", storageError(err, "failed to check username")
		}
		candidate = base + "-" + strings.Split(uuid.NewString(), "-")[0]
	}
	return "", ErrUsernameTaken
}

func getUsername(username, email string) string {
	if username = strings.TrimSpace(username); username != "" {
		return strings.ReplaceAll(username, " ", "_")
	}

	if strings.Contains(email, "@") {
		username = strings.Split(email, "@")[0]
	}

	return username
}
