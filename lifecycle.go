package accounts

import (
	"context"
	"time"
)

// SignupResult is returned by Lifecycle.Signup
type SignupResult struct {
	Account *Account
	// Session is set when the account was created active.
	Session *Session
	// Warning carries a notification failure. The account exists anyway.
	Warning error
}

// RedeemResult is returned by Lifecycle.RedeemAccountToken
type RedeemResult struct {
	Action  TokenAction
	Account *Account
	// Session is set after an activation.
	Session *Session
	Warning error
}

// PasswordResetRequestResult is returned by Lifecycle.RequestPasswordReset.
// Sent is false when no active account uses the email.
type PasswordResetRequestResult struct {
	Sent    bool
	Warning error
}

// ExternalLoginResult is returned by Lifecycle.ExternalLogin
type ExternalLoginResult struct {
	Account *Account
	Session *Session
	Created bool
}

// Lifecycle is the credential lifecycle engine. Each operation runs one of
// the command handlers and returns its typed result.
type Lifecycle struct {
	repo              RepositoryManager
	tokens            *TokenManager
	machine           AccountStateMachine
	sessions          SessionIssuer
	notifier          Notifier
	hasher            PasswordHasher
	activity          ActivitySink
	logger            Logger
	now               func() time.Time
	requireActivation bool
}

// LifecycleOption customizes a Lifecycle
type LifecycleOption func(*Lifecycle)

func WithNotifier(n Notifier) LifecycleOption {
	return func(l *Lifecycle) {
		if n != nil {
			l.notifier = n
		}
	}
}

func WithPasswordHasher(h PasswordHasher) LifecycleOption {
	return func(l *Lifecycle) {
		if h != nil {
			l.hasher = h
		}
	}
}

func WithActivitySink(sink ActivitySink) LifecycleOption {
	return func(l *Lifecycle) {
		l.activity = normalizeActivitySink(sink)
	}
}

func WithLogger(logger Logger) LifecycleOption {
	return func(l *Lifecycle) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) LifecycleOption {
	return func(l *Lifecycle) {
		if clock != nil {
			l.now = clock
		}
	}
}

// WithStateMachine replaces the default account state machine.
func WithStateMachine(sm AccountStateMachine) LifecycleOption {
	return func(l *Lifecycle) {
		if sm != nil {
			l.machine = sm
		}
	}
}

// WithTokenManager replaces the token manager built from the repository
// token store.
func WithTokenManager(m *TokenManager) LifecycleOption {
	return func(l *Lifecycle) {
		if m != nil {
			l.tokens = m
		}
	}
}

// NewLifecycle wires the engine over repo. sessions mints the sessions that
// activation and activation-free signup hand out.
func NewLifecycle(repo RepositoryManager, sessions SessionIssuer, cfg Config, opts ...LifecycleOption) *Lifecycle {
	repo.MustValidate()

	l := &Lifecycle{
		repo:              repo,
		sessions:          sessions,
		hasher:            BcryptHasher{},
		activity:          noopActivitySink{},
		logger:            defLogger(),
		now:               time.Now,
		requireActivation: cfg.GetRequireActivation(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}

	if l.notifier == nil {
		l.notifier = NewLogNotifier(cfg.GetPublicBaseURL(), l.logger)
	}
	if l.tokens == nil {
		l.tokens = NewTokenManager(repo.Tokens(),
			WithTokenTTL(PurposeActivateAccount, cfg.GetActivationTokenTTL()),
			WithTokenTTL(PurposeResetPassword, cfg.GetPasswordResetTokenTTL()),
			WithTokenClock(l.now),
			WithTokenLogger(l.logger),
		)
	}
	if l.machine == nil {
		l.machine = NewAccountStateMachine(repo.Accounts(), WithStateMachineClock(l.now))
	}

	return l
}

// Tokens exposes the token manager, e.g. for housekeeping.
func (l *Lifecycle) Tokens() *TokenManager {
	return l.tokens
}

// Signup registers a new account
func (l *Lifecycle) Signup(ctx context.Context, msg SignupMessage) (*SignupResult, error) {
	var result *SignupResult
	msg.OnResponse = func(r *SignupResult) { result = r }
	if err := NewSignupHandler(l).Execute(ctx, msg); err != nil {
		return nil, err
	}
	return result, nil
}

// RedeemAccountToken consumes an activation or rejection token
func (l *Lifecycle) RedeemAccountToken(ctx context.Context, tokenID string) (*RedeemResult, error) {
	var result *RedeemResult
	msg := RedeemAccountTokenMessage{
		Token:      tokenID,
		OnResponse: func(r *RedeemResult) { result = r },
	}
	if err := NewRedeemAccountTokenHandler(l).Execute(ctx, msg); err != nil {
		return nil, err
	}
	return result, nil
}

// RequestPasswordReset issues a reset token for an active account
func (l *Lifecycle) RequestPasswordReset(ctx context.Context, email string) (*PasswordResetRequestResult, error) {
	var result *PasswordResetRequestResult
	msg := PasswordResetRequestMessage{
		Email:      email,
		OnResponse: func(r *PasswordResetRequestResult) { result = r },
	}
	if err := NewPasswordResetRequestHandler(l).Execute(ctx, msg); err != nil {
		return nil, err
	}
	return result, nil
}

// CheckPasswordResetToken reports whether tokenID can still reset a
// password, without consuming it.
func (l *Lifecycle) CheckPasswordResetToken(ctx context.Context, tokenID string) error {
	if _, err := l.tokens.Resolve(ctx, tokenID, PurposeResetPassword); err != nil {
		if IsTokenNotFound(err) {
			return ErrInvalidToken
		}
		return err
	}
	return nil
}

// ResetPassword sets a new password using a reset token
func (l *Lifecycle) ResetPassword(ctx context.Context, msg FinalizePasswordResetMessage) (*Account, error) {
	var result *Account
	msg.OnResponse = func(a *Account) { result = a }
	if err := NewFinalizePasswordResetHandler(l).Execute(ctx, msg); err != nil {
		return nil, err
	}
	return result, nil
}

// ChangePassword changes the password of the session's account
func (l *Lifecycle) ChangePassword(ctx context.Context, session *Session, oldPassword, newPassword string) error {
	return NewChangePasswordHandler(l).Execute(ctx, ChangePasswordMessage{
		Session:     session,
		OldPassword: oldPassword,
		NewPassword: newPassword,
	})
}

// ChangeEmail changes the email of the session's account
func (l *Lifecycle) ChangeEmail(ctx context.Context, session *Session, email string) (*Account, error) {
	var result *Account
	msg := ChangeEmailMessage{
		Session:    session,
		Email:      email,
		OnResponse: func(a *Account) { result = a },
	}
	if err := NewChangeEmailHandler(l).Execute(ctx, msg); err != nil {
		return nil, err
	}
	return result, nil
}

// ExternalLogin signs in an identity asserted by an external provider
func (l *Lifecycle) ExternalLogin(ctx context.Context, msg ExternalLoginMessage) (*ExternalLoginResult, error) {
	var result *ExternalLoginResult
	msg.OnResponse = func(r *ExternalLoginResult) { result = r }
	if err := NewExternalLoginHandler(l).Execute(ctx, msg); err != nil {
		return nil, err
	}
	return result, nil
}

// notify sends n and turns a failure into a warning.
func (l *Lifecycle) notify(ctx context.Context, account *Account, n Notification) error {
	err := l.notifier.Send(ctx, n)
	if err == nil {
		return nil
	}

	l.logger.Warn("notification delivery failed", "template", n.Template, "account_id", account.ID, "error", err)
	recordActivity(ctx, l.activity, l.logger, ActivityEvent{
		EventType:  ActivityEventNotificationFailed,
		Actor:      ActorRef{Type: "system"},
		AccountID:  account.ID.String(),
		Metadata:   map[string]any{"template": n.Template, "error": err.Error()},
		OccurredAt: l.now(),
	})
	return notificationWarning(err, n.Template)
}

func (l *Lifecycle) record(ctx context.Context, eventType ActivityEventType, account *Account, metadata map[string]any) {
	recordActivity(ctx, l.activity, l.logger, ActivityEvent{
		EventType:  eventType,
		Actor:      accountActor(account),
		AccountID:  account.ID.String(),
		ToStatus:   account.Status,
		Metadata:   metadata,
		OccurredAt: l.now(),
	})
}

func (l *Lifecycle) recordTransition(ctx context.Context, eventType ActivityEventType, account *Account, from AccountStatus) {
	recordActivity(ctx, l.activity, l.logger, ActivityEvent{
		EventType:  eventType,
		Actor:      accountActor(account),
		AccountID:  account.ID.String(),
		FromStatus: from,
		ToStatus:   account.Status,
		OccurredAt: l.now(),
	})
}
