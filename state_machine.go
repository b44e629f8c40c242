package accounts

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

const textCodeInvalidTransition = "INVALID_ACCOUNT_STATE_TRANSITION"

// ErrInvalidTransition is returned when a requested status change is not
// allowed, or when the account left its source status before the change
// could be persisted.
var ErrInvalidTransition = goerrors.New("invalid account state transition", goerrors.CategoryValidation).
	WithTextCode(textCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// IsInvalidTransition reports whether err is a rejected transition.
func IsInvalidTransition(err error) bool {
	return hasTextCode(err, textCodeInvalidTransition)
}

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// TransitionContext is passed into hooks for additional processing.
type TransitionContext struct {
	Actor   ActorRef
	Account *Account
	From    AccountStatus
	To      AccountStatus
	Meta    TransitionMetadata
}

// TransitionHook is executed before or after a transition, inside the
// transaction that persists it. A hook error rolls the transition back.
type TransitionHook func(ctx context.Context, tx bun.IDB, tc TransitionContext) error

// TransitionOption customizes a single transition.
type TransitionOption func(*transitionOptions)

type transitionOptions struct {
	metadata    TransitionMetadata
	beforeHooks []TransitionHook
	afterHooks  []TransitionHook
}

// WithTransitionReason sets the human-readable reason for the transition.
func WithTransitionReason(reason string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.metadata.Reason = reason
	}
}

// WithTransitionMetadata merges metadata into the transition context.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata.Metadata == nil {
			opts.metadata.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			opts.metadata.Metadata[k] = v
		}
	}
}

// WithBeforeTransitionHook adds a hook executed before the status update.
func WithBeforeTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.beforeHooks = append(opts.beforeHooks, h)
		}
	}
}

// WithAfterTransitionHook adds a hook executed after the status update.
func WithAfterTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.afterHooks = append(opts.afterHooks, h)
		}
	}
}

// AccountStateMachine defines lifecycle operations for accounts.
type AccountStateMachine interface {
	Transition(ctx context.Context, tx bun.IDB, actor ActorRef, account *Account, target AccountStatus, opts ...TransitionOption) (*Account, error)
	CanTransition(from, to AccountStatus) bool
}

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*accountStateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *accountStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineHooks registers hooks applied to every transition.
func WithStateMachineHooks(opts ...TransitionOption) StateMachineOption {
	return func(sm *accountStateMachine) {
		sm.defaults = append(sm.defaults, opts...)
	}
}

type accountStateMachine struct {
	accounts    Accounts
	transitions map[AccountStatus]map[AccountStatus]struct{}
	now         func() time.Time
	defaults    []TransitionOption
}

// NewAccountStateMachine returns the default implementation backed by the
// provided repository. Pending accounts can be activated or deleted, the
// other states are terminal.
func NewAccountStateMachine(accounts Accounts, opts ...StateMachineOption) AccountStateMachine {
	sm := &accountStateMachine{
		accounts: accounts,
		transitions: map[AccountStatus]map[AccountStatus]struct{}{
			AccountStatusPending: {
				AccountStatusActive:  {},
				AccountStatusDeleted: {},
			},
		},
		now: time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

func (sm *accountStateMachine) CanTransition(from, to AccountStatus) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (sm *accountStateMachine) Transition(ctx context.Context, tx bun.IDB, actor ActorRef, account *Account, target AccountStatus, opts ...TransitionOption) (*Account, error) {
	if account == nil || target == "" {
		return nil, ErrInvalidTransition
	}

	from := account.Status
	if !sm.CanTransition(from, target) {
		return nil, ErrInvalidTransition
	}

	options := &transitionOptions{}
	for _, opt := range append(append([]TransitionOption{}, sm.defaults...), opts...) {
		if opt != nil {
			opt(options)
		}
	}

	tc := TransitionContext{
		Actor:   actor,
		Account: account,
		From:    from,
		To:      target,
		Meta:    options.metadata,
	}

	if err := runHooks(ctx, tx, options.beforeHooks, tc); err != nil {
		return nil, err
	}

	now := sm.now().UTC()

	var (
		ok  bool
		err error
	)
	switch target {
	case AccountStatusDeleted:
		ok, err = sm.accounts.DeleteInStatusTx(ctx, tx, account.ID, from)
	default:
		ok, err = sm.accounts.UpdateStatusTx(ctx, tx, account.ID, from, target, now)
	}
	if err != nil {
		return nil, storageError(err, "failed to persist account status")
	}
	if !ok {
		return nil, ErrInvalidTransition
	}

	account.Status = target
	account.UpdatedAt = now
	if target == AccountStatusActive {
		account.ActivatedAt = &now
	}

	if err := runHooks(ctx, tx, options.afterHooks, tc); err != nil {
		return nil, err
	}

	return account, nil
}

func runHooks(ctx context.Context, tx bun.IDB, hooks []TransitionHook, tc TransitionContext) error {
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, tx, tc); err != nil {
			return err
		}
	}
	return nil
}
