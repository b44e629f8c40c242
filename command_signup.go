package accounts

import (
	"context"
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/uptrace/bun"
)

// SignupMessage registers a new account
type SignupMessage struct {
	Username        string `json:"username" form:"username"`
	Email           string `json:"email" form:"email"`
	Password        string `json:"password" form:"password"`
	ConfirmPassword string `json:"confirm_password" form:"confirm_password"`
	// UseHashid derives the account id from the email.
	UseHashid  bool                `json:"-"`
	OnResponse func(*SignupResult) `json:"-"`
}

func (m SignupMessage) Type() string { return "account.signup" }

// Validate will run validation rules
func (m SignupMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Username, validation.Required, validation.Length(3, 64), is.PrintableASCII,
			validation.By(noWhitespace)),
		validation.Field(&m.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&m.Password, passwordRules...),
		validation.Field(&m.ConfirmPassword, validation.By(optionalMatch(m.Password))),
	)
}

// SignupHandler creates a pending account and mails its activation links,
// or creates an active account and logs it in when activation is disabled.
type SignupHandler struct {
	l *Lifecycle
}

func NewSignupHandler(l *Lifecycle) *SignupHandler {
	return &SignupHandler{l: l}
}

func (h *SignupHandler) Execute(ctx context.Context, msg SignupMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during signup",
		)
	default:
		return h.execute(ctx, msg)
	}
}

func (h *SignupHandler) execute(ctx context.Context, msg SignupMessage) error {
	if err := msg.Validate(); err != nil {
		return validationError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	hash, err := h.l.hasher.HashPassword(msg.Password)
	if err != nil {
		return richOrInternal(err, "failed to hash password")
	}

	now := h.l.now().UTC()
	account := &Account{
		Username:     strings.TrimSpace(msg.Username),
		Email:        NormalizeEmail(msg.Email),
		PasswordHash: hash,
		Status:       AccountStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if !h.l.requireActivation {
		account.Status = AccountStatusActive
		account.ActivatedAt = &now
	}
	if msg.UseHashid {
		if id, err := hashid.NewUUID(account.Email); err == nil {
			account.ID = id
		}
	}

	var activateID, rejectID string

	err = h.l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		accounts := h.l.repo.Accounts()

		if _, err := accounts.GetByUsernameTx(ctx, tx, account.Username); err == nil {
			return ErrUsernameTaken
		} else if !IsAccountNotFound(err) {
			return storageError(err, "failed to check username")
		}

		if _, err := accounts.GetByEmailTx(ctx, tx, account.Email); err == nil {
			return ErrEmailTaken
		} else if !IsAccountNotFound(err) {
			return storageError(err, "failed to check email")
		}

		if _, err := accounts.CreateTx(ctx, tx, account); err != nil {
			if IsConflict(err) {
				return err
			}
			return storageError(err, "could not create account")
		}

		if !account.IsPending() {
			return nil
		}

		payload := TokenPayload{AccountID: account.ID, Action: TokenActionActivate}
		if activateID, err = h.l.tokens.IssueTx(ctx, tx, PurposeActivateAccount, payload); err != nil {
			return err
		}

		payload.Action = TokenActionReject
		if rejectID, err = h.l.tokens.IssueTx(ctx, tx, PurposeActivateAccount, payload); err != nil {
			return err
		}

		return nil
	})

	if err != nil {
		return richOrInternal(err, "signup transaction failed")
	}

	result := &SignupResult{Account: account}

	if account.IsPending() {
		result.Warning = h.l.notify(ctx, account, Notification{
			To:            account.Email,
			Username:      account.Username,
			Template:      TemplateAccountActivation,
			TokenID:       activateID,
			RejectTokenID: rejectID,
		})
	} else {
		session, err := h.l.sessions.Establish(ctx, account)
		if err != nil {
			h.l.logger.Error("failed to establish session after signup", "account_id", account.ID, "error", err)
			result.Warning = err
		}
		result.Session = session
	}

	h.l.record(ctx, ActivityEventSignup, account, map[string]any{
		"requires_activation": account.IsPending(),
	})

	if msg.OnResponse != nil {
		msg.OnResponse(result)
	}

	return nil
}

func noWhitespace(value any) error {
	s, _ := value.(string)
	if strings.ContainsAny(s, " \t\r\n") {
		return errors.New("must not contain spaces")
	}
	return nil
}

// optionalMatch accepts an empty value or one equal to str
func optionalMatch(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s == "" {
			return nil
		}
		return ValidateStringEquals(str)(value)
	}
}
