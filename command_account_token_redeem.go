package accounts

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// RedeemAccountTokenMessage redeems an activate-account token. The token
// payload decides whether the pending account is activated or rejected.
type RedeemAccountTokenMessage struct {
	Token      string              `json:"token"`
	OnResponse func(*RedeemResult) `json:"-"`
}

func (m RedeemAccountTokenMessage) Type() string { return "account.token.redeem" }

type RedeemAccountTokenHandler struct {
	l *Lifecycle
}

func NewRedeemAccountTokenHandler(l *Lifecycle) *RedeemAccountTokenHandler {
	return &RedeemAccountTokenHandler{l: l}
}

func (h *RedeemAccountTokenHandler) Execute(ctx context.Context, msg RedeemAccountTokenMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account token redemption",
		)
	default:
		return h.execute(ctx, msg)
	}
}

func (h *RedeemAccountTokenHandler) execute(ctx context.Context, msg RedeemAccountTokenMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	result := &RedeemResult{}

	err := h.l.tokens.Redeem(ctx, h.l.repo, msg.Token, PurposeActivateAccount,
		func(ctx context.Context, tx bun.Tx, payload TokenPayload) error {
			account, err := h.l.repo.Accounts().GetByIDTx(ctx, tx, payload.AccountID.String())
			if err != nil {
				if IsAccountNotFound(err) {
					return ErrInvalidToken
				}
				return storageError(err, "failed to load account")
			}

			if !account.IsPending() {
				return ErrInvalidToken
			}

			var target AccountStatus
			switch payload.Action {
			case TokenActionActivate:
				target = AccountStatusActive
			case TokenActionReject:
				target = AccountStatusDeleted
			default:
				return ErrInvalidToken
			}

			if _, err := h.l.machine.Transition(ctx, tx, accountActor(account), account, target,
				WithTransitionReason(string(payload.Action)),
			); err != nil {
				if IsInvalidTransition(err) {
					return ErrInvalidToken
				}
				return err
			}

			result.Action = payload.Action
			result.Account = account
			return nil
		})

	if err != nil {
		if IsTokenNotFound(err) {
			return ErrInvalidToken
		}
		return richOrInternal(err, "failed to redeem account token")
	}

	switch result.Action {
	case TokenActionActivate:
		session, err := h.l.sessions.Establish(ctx, result.Account)
		if err != nil {
			h.l.logger.Error("failed to establish session after activation", "account_id", result.Account.ID, "error", err)
			result.Warning = err
		}
		result.Session = session
		h.l.recordTransition(ctx, ActivityEventActivated, result.Account, AccountStatusPending)
	case TokenActionReject:
		h.l.recordTransition(ctx, ActivityEventRejected, result.Account, AccountStatusPending)
	}

	if msg.OnResponse != nil {
		msg.OnResponse(result)
	}

	return nil
}
