package accounts

import (
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

type AccountControllerRoutes struct {
	Signup        string
	Activate      string
	PasswordReset string
	Login         string
	Logout        string
	Me            string
	Password      string
	Email         string
}

// AccountController exposes the lifecycle and the gateway as JSON routes
type AccountController struct {
	Debug        bool
	Logger       Logger
	Lifecycle    *Lifecycle
	Gateway      *Gateway
	Routes       *AccountControllerRoutes
	CookieName   string
	CookieSecure bool
	// Limiter guards login and password reset requests when set.
	Limiter *RateLimiter
}

type AccountControllerOption func(*AccountController) *AccountController

func WithControllerLogger(logger Logger) AccountControllerOption {
	return func(a *AccountController) *AccountController {
		if logger != nil {
			a.Logger = logger
		}
		return a
	}
}

func WithControllerRateLimiter(rl *RateLimiter) AccountControllerOption {
	return func(a *AccountController) *AccountController {
		a.Limiter = rl
		return a
	}
}

func WithControllerCookie(name string, secure bool) AccountControllerOption {
	return func(a *AccountController) *AccountController {
		if name != "" {
			a.CookieName = name
		}
		a.CookieSecure = secure
		return a
	}
}

func NewAccountController(lifecycle *Lifecycle, gateway *Gateway, opts ...AccountControllerOption) *AccountController {
	c := &AccountController{
		Logger:     defLogger(),
		Lifecycle:  lifecycle,
		Gateway:    gateway,
		CookieName: DefaultContextKey,
		Routes: &AccountControllerRoutes{
			Signup:        "/signup",
			Activate:      "/activate",
			PasswordReset: "/password-reset",
			Login:         "/login",
			Logout:        "/logout",
			Me:            "/me",
			Password:      "/me/password",
			Email:         "/me/email",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Lifecycle == nil {
		panic("missing Lifecycle in account controller")
	}

	if c.Gateway == nil {
		panic("missing Gateway in account controller")
	}

	return c
}

// RegisterAccountRoutes mounts the controller routes on app
func RegisterAccountRoutes[T any](app router.Router[T], a *AccountController) {
	guest := a.GuestOnly()
	auth := a.RequireSession()

	limited := []router.MiddlewareFunc{guest}
	if a.Limiter != nil {
		limited = append(limited, a.Limiter.Middleware())
	}

	app.Use(a.SessionMiddleware())

	app.Post(a.Routes.Signup, a.Signup, guest).SetName("account.signup")
	app.Get(a.Routes.Activate+"/:token", a.Activate).SetName("account.activate")

	app.Post(a.Routes.PasswordReset, a.PasswordResetRequest, limited...).
		SetName("pwd-reset.post")
	app.Get(a.Routes.PasswordReset+"/:token", a.PasswordResetCheck, guest).
		SetName("pwd-reset-do.get")
	app.Post(a.Routes.PasswordReset+"/:token", a.PasswordResetExecute, limited...).
		SetName("pwd-reset-do.post")

	app.Post(a.Routes.Login, a.Login, limited...).SetName("sign-in.post")
	app.Post(a.Routes.Logout, a.Logout).SetName("sign-out.post")

	app.Get(a.Routes.Me, a.Me, auth).SetName("me.get")
	app.Post(a.Routes.Password, a.ChangePassword, auth).SetName("me.password.post")
	app.Post(a.Routes.Email, a.ChangeEmail, auth).SetName("me.email.post")
}

// SessionMiddleware resolves the session from the bearer header or the
// cookie. Invalid sessions are dropped and the request continues as a guest.
func (a *AccountController) SessionMiddleware() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			a.resolveSession(ctx)
			return next(ctx)
		}
	}
}

// GuestOnly rejects requests that already carry a session
func (a *AccountController) GuestOnly() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if a.resolveSession(ctx) != nil {
				return ctx.JSON(http.StatusForbidden, map[string]string{
					"error": "already authenticated",
				})
			}
			return next(ctx)
		}
	}
}

// RequireSession rejects requests without a session for an active account
func (a *AccountController) RequireSession() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			a.resolveSession(ctx)
			account, ok := a.Gateway.CurrentUser(ctx.Context())
			if !ok {
				return a.writeError(ctx, ErrUnableToFindSession)
			}
			ctx.SetContext(WithAccount(ctx.Context(), account))
			return next(ctx)
		}
	}
}

func (a *AccountController) Signup(ctx router.Context) error {
	msg := SignupMessage{}
	if err := ctx.Bind(&msg); err != nil {
		return a.badRequest(ctx, err)
	}

	result, err := a.Lifecycle.Signup(ctx.Context(), msg)
	if err != nil {
		return a.writeError(ctx, err)
	}

	if result.Session != nil {
		a.setSessionCookie(ctx, result.Session)
	}

	return ctx.JSON(http.StatusCreated, map[string]any{
		"account":             result.Account,
		"requires_activation": result.Account.IsPending(),
		"notification_sent":   result.Account.IsPending() && result.Warning == nil,
	})
}

func (a *AccountController) Activate(ctx router.Context) error {
	result, err := a.Lifecycle.RedeemAccountToken(ctx.Context(), ctx.Param("token"))
	if err != nil {
		return a.writeError(ctx, err)
	}

	if result.Session != nil {
		a.setSessionCookie(ctx, result.Session)
	}

	body := map[string]any{"action": result.Action}
	if result.Action == TokenActionActivate {
		body["account"] = result.Account
	}
	return ctx.JSON(http.StatusOK, body)
}

type passwordResetRequestPayload struct {
	Email string `json:"email" form:"email"`
}

// PasswordResetRequest answers the same way whether or not the email
// belongs to an active account.
func (a *AccountController) PasswordResetRequest(ctx router.Context) error {
	payload := passwordResetRequestPayload{}
	if err := ctx.Bind(&payload); err != nil {
		return a.badRequest(ctx, err)
	}

	result, err := a.Lifecycle.RequestPasswordReset(ctx.Context(), payload.Email)
	if err != nil {
		return a.writeError(ctx, err)
	}

	if result.Warning != nil {
		a.Logger.Warn("password reset notification failed", "error", result.Warning)
	}

	return ctx.JSON(http.StatusAccepted, map[string]string{
		"message": "if the address belongs to an active account, a reset link is on its way",
	})
}

func (a *AccountController) PasswordResetCheck(ctx router.Context) error {
	if err := a.Lifecycle.CheckPasswordResetToken(ctx.Context(), ctx.Param("token")); err != nil {
		return a.writeError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, map[string]bool{"valid": true})
}

func (a *AccountController) PasswordResetExecute(ctx router.Context) error {
	msg := FinalizePasswordResetMessage{}
	if err := ctx.Bind(&msg); err != nil {
		return a.badRequest(ctx, err)
	}
	msg.Token = ctx.Param("token")

	if _, err := a.Lifecycle.ResetPassword(ctx.Context(), msg); err != nil {
		return a.writeError(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]string{"message": "password updated"})
}

func (a *AccountController) Login(ctx router.Context) error {
	msg := LoginMessage{}
	if err := ctx.Bind(&msg); err != nil {
		return a.badRequest(ctx, err)
	}

	session, err := a.Gateway.Login(ctx.Context(), msg)
	if err != nil {
		return a.writeError(ctx, err)
	}

	a.setSessionCookie(ctx, session)
	return ctx.JSON(http.StatusOK, map[string]any{
		"token":      session.Token,
		"expires_at": session.ExpiresAt,
	})
}

func (a *AccountController) Logout(ctx router.Context) error {
	ctx.SetContext(a.Gateway.Logout(ctx.Context(), nil))
	ctx.Locals(a.CookieName, nil)
	a.clearSessionCookie(ctx)
	return ctx.NoContent(http.StatusNoContent)
}

func (a *AccountController) Me(ctx router.Context) error {
	account, err := a.Gateway.RequireAccount(ctx.Context())
	if err != nil {
		return a.writeError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, account)
}

func (a *AccountController) ChangePassword(ctx router.Context) error {
	msg := ChangePasswordMessage{}
	if err := ctx.Bind(&msg); err != nil {
		return a.badRequest(ctx, err)
	}

	session, _ := SessionFromContext(ctx.Context())
	msg.Session = session
	if err := NewChangePasswordHandler(a.Lifecycle).Execute(ctx.Context(), msg); err != nil {
		return a.writeError(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]string{"message": "password updated"})
}

func (a *AccountController) ChangeEmail(ctx router.Context) error {
	msg := ChangeEmailMessage{}
	if err := ctx.Bind(&msg); err != nil {
		return a.badRequest(ctx, err)
	}

	session, _ := SessionFromContext(ctx.Context())
	account, err := a.Lifecycle.ChangeEmail(ctx.Context(), session, msg.Email)
	if err != nil {
		return a.writeError(ctx, err)
	}

	return ctx.JSON(http.StatusOK, account)
}

// resolveSession returns the request session, decoding it once and caching
// it in locals and in the request context.
func (a *AccountController) resolveSession(ctx router.Context) *Session {
	if session, ok := ctx.Locals(a.CookieName).(*Session); ok && session != nil {
		return session
	}
	if session, ok := SessionFromContext(ctx.Context()); ok {
		return session
	}

	raw := a.rawSessionToken(ctx)
	if raw == "" {
		return nil
	}

	session, err := a.Gateway.SessionFromToken(raw)
	if err != nil {
		if a.Debug {
			a.Logger.Debug("dropping invalid session", "error", err)
		}
		a.clearSessionCookie(ctx)
		return nil
	}

	ctx.Locals(a.CookieName, session)
	ctx.SetContext(WithSession(ctx.Context(), session))
	return session
}

func (a *AccountController) rawSessionToken(ctx router.Context) string {
	if header := ctx.Header(router.HeaderAuthorization); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return ctx.Cookies(a.CookieName)
}

func (a *AccountController) setSessionCookie(ctx router.Context, session *Session) {
	ctx.Cookie(&router.Cookie{
		Name:     a.CookieName,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HTTPOnly: true,
		Secure:   a.CookieSecure,
		SameSite: "Lax",
	})
}

func (a *AccountController) clearSessionCookie(ctx router.Context) {
	ctx.Cookie(&router.Cookie{
		Name:     a.CookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HTTPOnly: true,
		Secure:   a.CookieSecure,
		SameSite: "Lax",
	})
}

func (a *AccountController) badRequest(ctx router.Context, err error) error {
	if a.Debug {
		a.Logger.Debug("unable to parse request body", "error", err)
	}
	return ctx.JSON(http.StatusBadRequest, map[string]string{
		"error": "unable to parse request body",
	})
}

func (a *AccountController) writeError(ctx router.Context, err error) error {
	status := http.StatusInternalServerError
	body := map[string]any{"error": "internal error"}

	switch {
	case IsValidation(err):
		status = http.StatusBadRequest
		body["error"] = "invalid input"
		body["fields"] = ValidationFields(err)
	case IsInvalidToken(err):
		status = http.StatusBadRequest
		body["error"] = ErrInvalidToken.Message
	case IsConflict(err):
		status = http.StatusConflict
		body["error"] = err.Error()
		if hasTextCode(err, TextCodeUsernameTaken) {
			body["fields"] = map[string]string{"username": ErrUsernameTaken.Message}
		} else {
			body["fields"] = map[string]string{"email": ErrEmailTaken.Message}
		}
	case IsInvalidCredentials(err):
		status = http.StatusUnauthorized
		body["error"] = ErrMismatchedHashAndPassword.Message
	case hasTextCode(err, TextCodeAccountNotActive):
		status = http.StatusForbidden
		body["error"] = ErrAccountNotActive.Message
	case hasTextCode(err, TextCodeTooManyAttempts):
		status = http.StatusTooManyRequests
		body["error"] = ErrTooManyLoginAttempts.Message
	case IsUnauthenticated(err):
		status = http.StatusUnauthorized
		body["error"] = "authentication required"
	case IsStorageFailure(err):
		status = http.StatusServiceUnavailable
		body["error"] = "temporarily unavailable, try again"
		a.Logger.Error("storage failure", "path", ctx.Path(), "error", err)
	default:
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) && richErr.Code >= 400 && richErr.Code < 500 {
			status = richErr.Code
			body["error"] = richErr.Message
		} else {
			a.Logger.Error("request failed", "path", ctx.Path(), "error", err)
		}
	}

	return ctx.JSON(status, body)
}
