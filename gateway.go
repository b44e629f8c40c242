package accounts

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
)

// LoginMessage payload
type LoginMessage struct {
	Identifier string `json:"identifier" form:"identifier"`
	Password   string `json:"password" form:"password"`
}

// Validate will run validation rules
func (m LoginMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Identifier, validation.Required, validation.Length(1, 254)),
		validation.Field(&m.Password, validation.Required),
	)
}

// Gateway authenticates accounts and manages their sessions.
type Gateway struct {
	accounts Accounts
	provider *AccountProvider
	tokens   *TokenService
	activity ActivitySink
	logger   Logger
	now      func() time.Time
}

var _ SessionIssuer = (*Gateway)(nil)

// GatewayOption customizes a Gateway
type GatewayOption func(*Gateway)

func WithGatewayActivitySink(sink ActivitySink) GatewayOption {
	return func(g *Gateway) {
		g.activity = normalizeActivitySink(sink)
	}
}

func WithGatewayLogger(logger Logger) GatewayOption {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithGatewayClock injects a custom clock (useful for tests).
func WithGatewayClock(clock func() time.Time) GatewayOption {
	return func(g *Gateway) {
		if clock != nil {
			g.now = clock
		}
	}
}

// WithGatewayPasswordHasher sets the hasher used to verify login passwords.
func WithGatewayPasswordHasher(h PasswordHasher) GatewayOption {
	return func(g *Gateway) {
		if h != nil {
			g.provider.hasher = h
		}
	}
}

// NewGateway creates a Gateway over the accounts repository
func NewGateway(accounts Accounts, tokens *TokenService, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		accounts: accounts,
		provider: NewAccountProvider(accounts, nil),
		tokens:   tokens,
		activity: noopActivitySink{},
		logger:   defLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	g.provider.WithLogger(g.logger).WithClock(g.now)
	return g
}

// Login verifies credentials and returns a session for an active account.
func (g *Gateway) Login(ctx context.Context, msg LoginMessage) (*Session, error) {
	if err := msg.Validate(); err != nil {
		return nil, validationError(err)
	}

	account, err := g.provider.VerifyIdentity(ctx, msg.Identifier, msg.Password)
	if err != nil {
		recordActivity(ctx, g.activity, g.logger, ActivityEvent{
			EventType:  ActivityEventLoginFailure,
			Actor:      ActorRef{ID: msg.Identifier, Type: "identifier"},
			Metadata:   map[string]any{"error": err.Error()},
			OccurredAt: g.now(),
		})
		return nil, err
	}

	session, err := g.Establish(ctx, account)
	if err != nil {
		return nil, err
	}

	recordActivity(ctx, g.activity, g.logger, ActivityEvent{
		EventType:  ActivityEventLoginSuccess,
		Actor:      accountActor(account),
		AccountID:  account.ID.String(),
		Metadata:   map[string]any{"session_id": session.ID},
		OccurredAt: g.now(),
	})

	return session, nil
}

// Establish creates a session for an account that already proved its
// identity. Only active accounts get a session.
func (g *Gateway) Establish(ctx context.Context, account *Account) (*Session, error) {
	if !account.IsActive() {
		return nil, ErrAccountNotActive
	}
	return g.tokens.Generate(account)
}

// Logout drops the session carried by ctx. It is safe to call without a
// session or more than once.
func (g *Gateway) Logout(ctx context.Context, session *Session) context.Context {
	if session == nil {
		session, _ = SessionFromContext(ctx)
	}
	if session != nil {
		recordActivity(ctx, g.activity, g.logger, ActivityEvent{
			EventType:  ActivityEventLogout,
			Actor:      ActorRef{ID: session.AccountID.String(), Type: "account"},
			AccountID:  session.AccountID.String(),
			Metadata:   map[string]any{"session_id": session.ID},
			OccurredAt: g.now(),
		})
	}
	return WithAccount(WithSession(ctx, nil), nil)
}

// SessionFromToken validates a signed session token
func (g *Gateway) SessionFromToken(token string) (*Session, error) {
	return g.tokens.Validate(token)
}

// CurrentUser returns the active account behind the session in ctx.
func (g *Gateway) CurrentUser(ctx context.Context) (*Account, bool) {
	if account, ok := AccountFromContext(ctx); ok {
		return account, true
	}

	session, ok := SessionFromContext(ctx)
	if !ok || session.Expired(g.now()) {
		return nil, false
	}

	account, err := g.accounts.GetByID(ctx, session.AccountID.String())
	if err != nil {
		if !IsAccountNotFound(err) {
			g.logger.Error("failed to load session account", "account_id", session.AccountID, "error", err)
		}
		return nil, false
	}

	if !account.IsActive() {
		return nil, false
	}

	return account, true
}

// RequireAccount is CurrentUser for operations that need an account.
func (g *Gateway) RequireAccount(ctx context.Context) (*Account, error) {
	account, ok := g.CurrentUser(ctx)
	if !ok {
		return nil, ErrUnableToFindSession
	}
	return account, nil
}
