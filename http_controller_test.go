package accounts_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-accounts"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newTestApp(t *testing.T, f *fixture, opts ...accounts.AccountControllerOption) *fiber.App {
	t.Helper()
	opts = append([]accounts.AccountControllerOption{accounts.WithControllerLogger(testLogger{})}, opts...)
	controller := accounts.NewAccountController(f.lifecycle, f.gateway, opts...)

	srv := router.NewFiberAdapter(func(*fiber.App) *fiber.App { return fiber.New() })
	accounts.RegisterAccountRoutes(srv.Router(), controller)
	return srv.WrappedRouter()
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any, token string) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}

	res, err := app.Test(req, -1)
	require.NoError(t, err)

	out := map[string]any{}
	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return res, out
}

func sessionCookie(res *http.Response) *http.Cookie {
	for _, c := range res.Cookies() {
		if c.Name == accounts.DefaultContextKey {
			return c
		}
	}
	return nil
}

func TestHTTPSignupAndActivate(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(t, f)

	res, body := doJSON(t, app, fiber.MethodPost, "/signup", map[string]string{
		"username": "ada",
		"email":    "ada@example.com",
		"password": testPassword,
	}, "")
	require.Equal(t, fiber.StatusCreated, res.StatusCode, body)
	assert.Equal(t, true, body["requires_activation"])
	assert.Equal(t, true, body["notification_sent"])

	account, ok := body["account"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "pending", account["status"])
	assert.NotContains(t, account, "password_hash")
	assert.NotContains(t, account, "PasswordHash")

	n := f.notifier.last(t)

	res, body = doJSON(t, app, fiber.MethodGet, "/activate/"+n.TokenID, nil, "")
	require.Equal(t, fiber.StatusOK, res.StatusCode, body)
	assert.Equal(t, "activate", body["action"])
	cookie := sessionCookie(res)
	require.NotNil(t, cookie)
	assert.NotEmpty(t, cookie.Value)
	assert.True(t, cookie.HttpOnly)

	res, body = doJSON(t, app, fiber.MethodGet, "/activate/"+n.TokenID, nil, "")
	assert.Equal(t, fiber.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "invalid or expired link", body["error"])
}

func TestHTTPSignupErrors(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(t, f)

	res, body := doJSON(t, app, fiber.MethodPost, "/signup", map[string]string{
		"username": "ada",
		"email":    "nope",
		"password": "short",
	}, "")
	assert.Equal(t, fiber.StatusBadRequest, res.StatusCode)
	fields, ok := body["fields"].(map[string]any)
	require.True(t, ok, body)
	assert.Contains(t, fields, "email")
	assert.Contains(t, fields, "password")

	f.signup(t, "ada")
	res, body = doJSON(t, app, fiber.MethodPost, "/signup", map[string]string{
		"username": "ada",
		"email":    "another@example.com",
		"password": testPassword,
	}, "")
	assert.Equal(t, fiber.StatusConflict, res.StatusCode)
	fields, ok = body["fields"].(map[string]any)
	require.True(t, ok, body)
	assert.Contains(t, fields, "username")
}

func TestHTTPLoginSessionAndLogout(t *testing.T) {
	f := newFixture(t)
	f.activeAccount(t, "ada")
	app := newTestApp(t, f)

	res, body := doJSON(t, app, fiber.MethodPost, "/login", map[string]string{
		"identifier": "ada",
		"password":   "wrong-password",
	}, "")
	assert.Equal(t, fiber.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid credentials", body["error"])

	res, body = doJSON(t, app, fiber.MethodPost, "/login", map[string]string{
		"identifier": "ada@example.com",
		"password":   testPassword,
	}, "")
	require.Equal(t, fiber.StatusOK, res.StatusCode, body)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)

	res, body = doJSON(t, app, fiber.MethodGet, "/me", nil, token)
	require.Equal(t, fiber.StatusOK, res.StatusCode, body)
	assert.Equal(t, "ada", body["username"])

	res, _ = doJSON(t, app, fiber.MethodGet, "/me", nil, "")
	assert.Equal(t, fiber.StatusUnauthorized, res.StatusCode)

	res, _ = doJSON(t, app, fiber.MethodGet, "/me", nil, "forged-token")
	assert.Equal(t, fiber.StatusUnauthorized, res.StatusCode)

	// guests only
	res, _ = doJSON(t, app, fiber.MethodPost, "/login", map[string]string{
		"identifier": "ada",
		"password":   testPassword,
	}, token)
	assert.Equal(t, fiber.StatusForbidden, res.StatusCode)

	for i := 0; i < 2; i++ {
		res, _ = doJSON(t, app, fiber.MethodPost, "/logout", nil, token)
		assert.Equal(t, fiber.StatusNoContent, res.StatusCode)
		cookie := sessionCookie(res)
		require.NotNil(t, cookie)
		assert.Empty(t, cookie.Value)
	}
}

func TestHTTPPendingAccountCannotLogin(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "ada")
	app := newTestApp(t, f)

	res, body := doJSON(t, app, fiber.MethodPost, "/login", map[string]string{
		"identifier": "ada",
		"password":   testPassword,
	}, "")
	assert.Equal(t, fiber.StatusForbidden, res.StatusCode)
	assert.Equal(t, "account is not active", body["error"])
}

func TestHTTPPasswordReset(t *testing.T) {
	f := newFixture(t)
	f.activeAccount(t, "ada")
	app := newTestApp(t, f)
	sent := f.notifier.count()

	res, unknown := doJSON(t, app, fiber.MethodPost, "/password-reset", map[string]string{"email": "nobody@example.com"}, "")
	assert.Equal(t, fiber.StatusAccepted, res.StatusCode)
	assert.Equal(t, sent, f.notifier.count())

	res, known := doJSON(t, app, fiber.MethodPost, "/password-reset", map[string]string{"email": "ada@example.com"}, "")
	assert.Equal(t, fiber.StatusAccepted, res.StatusCode)
	assert.Equal(t, unknown, known)

	n := f.notifier.last(t)
	require.Equal(t, accounts.TemplatePasswordReset, n.Template)

	res, _ = doJSON(t, app, fiber.MethodGet, "/password-reset/"+n.TokenID, nil, "")
	assert.Equal(t, fiber.StatusOK, res.StatusCode)

	res, body := doJSON(t, app, fiber.MethodPost, "/password-reset/"+n.TokenID, map[string]string{
		"password":         "a-brand-new-secret",
		"confirm_password": "a-brand-new-secret",
	}, "")
	require.Equal(t, fiber.StatusOK, res.StatusCode, body)

	res, _ = doJSON(t, app, fiber.MethodPost, "/password-reset/"+n.TokenID, map[string]string{
		"password": "another-new-secret",
	}, "")
	assert.Equal(t, fiber.StatusBadRequest, res.StatusCode)

	res, _ = doJSON(t, app, fiber.MethodGet, "/password-reset/"+n.TokenID, nil, "")
	assert.Equal(t, fiber.StatusBadRequest, res.StatusCode)
}

func TestHTTPChangePasswordAndEmail(t *testing.T) {
	f := newFixture(t)
	_, session := f.activeAccount(t, "ada")
	app := newTestApp(t, f)

	res, body := doJSON(t, app, fiber.MethodPost, "/me/password", map[string]string{
		"old_password": "wrong-password",
		"new_password": "a-brand-new-secret",
	}, session.Token)
	assert.Equal(t, fiber.StatusUnauthorized, res.StatusCode, body)

	res, body = doJSON(t, app, fiber.MethodPost, "/me/password", map[string]string{
		"old_password": testPassword,
		"new_password": "a-brand-new-secret",
	}, session.Token)
	assert.Equal(t, fiber.StatusOK, res.StatusCode, body)

	res, body = doJSON(t, app, fiber.MethodPost, "/me/email", map[string]string{
		"email": "countess@example.com",
	}, session.Token)
	require.Equal(t, fiber.StatusOK, res.StatusCode, body)
	assert.Equal(t, "countess@example.com", body["email"])

	res, _ = doJSON(t, app, fiber.MethodPost, "/me/email", map[string]string{"email": "x@example.com"}, "")
	assert.Equal(t, fiber.StatusUnauthorized, res.StatusCode)
}

func TestHTTPLoginIsRateLimited(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(t, f, accounts.WithControllerRateLimiter(accounts.NewRateLimiter(rate.Every(time.Hour), 1)))

	payload := map[string]string{"identifier": "ada", "password": testPassword}

	res, _ := doJSON(t, app, fiber.MethodPost, "/login", payload, "")
	assert.Equal(t, fiber.StatusUnauthorized, res.StatusCode)

	res, _ = doJSON(t, app, fiber.MethodPost, "/login", payload, "")
	assert.Equal(t, fiber.StatusTooManyRequests, res.StatusCode)
}
