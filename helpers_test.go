package accounts_test

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-accounts"
	"github.com/goliatone/go-accounts/migrations"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"golang.org/x/crypto/bcrypt"

	_ "github.com/mattn/go-sqlite3"
)

const testPassword = "correct-horse-battery"

type testLogger struct{}

func (testLogger) Debug(string, ...any) {}
func (testLogger) Info(string, ...any)  {}
func (testLogger) Warn(string, ...any)  {}
func (testLogger) Error(string, ...any) {}

type capturingSink struct {
	mu     sync.Mutex
	events []accounts.ActivityEvent
}

func (c *capturingSink) Record(_ context.Context, evt accounts.ActivityEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *capturingSink) types() []accounts.ActivityEventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]accounts.ActivityEventType, 0, len(c.events))
	for _, evt := range c.events {
		out = append(out, evt.EventType)
	}
	return out
}

type capturingNotifier struct {
	mu   sync.Mutex
	sent []accounts.Notification
	err  error
}

func (n *capturingNotifier) Send(_ context.Context, msg accounts.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

func (n *capturingNotifier) last(t *testing.T) accounts.Notification {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.sent, "no notification sent")
	return n.sent[len(n.sent)-1]
}

func (n *capturingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().UTC().Truncate(time.Second)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	require.NoError(t, migrations.Up(context.Background(), sqldb, migrations.DialectSQLite))

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { db.Close() })
	return db
}

type fixture struct {
	cfg       accounts.DefaultConfig
	db        *bun.DB
	repo      accounts.RepositoryManager
	hasher    accounts.PasswordHasher
	sessions  *accounts.TokenService
	gateway   *accounts.Gateway
	lifecycle *accounts.Lifecycle
	notifier  *capturingNotifier
	sink      *capturingSink
	clock     *testClock
}

func newFixture(t *testing.T, configure ...func(*accounts.DefaultConfig)) *fixture {
	t.Helper()

	f := &fixture{
		cfg: accounts.DefaultConfig{
			SigningKey:        "test-signing-key",
			Issuer:            "accounts-test",
			RequireActivation: true,
			PublicBaseURL:     "https://app.test",
		},
		db:       newTestDB(t),
		hasher:   accounts.NewBcryptHasher(bcrypt.MinCost),
		notifier: &capturingNotifier{},
		sink:     &capturingSink{},
		clock:    newTestClock(),
	}
	for _, fn := range configure {
		fn(&f.cfg)
	}

	f.repo = accounts.NewRepositoryManager(f.db)
	f.sessions = accounts.NewTokenService(f.cfg, testLogger{}).WithClock(f.clock.Now)
	f.gateway = accounts.NewGateway(f.repo.Accounts(), f.sessions,
		accounts.WithGatewayClock(f.clock.Now),
		accounts.WithGatewayPasswordHasher(f.hasher),
		accounts.WithGatewayActivitySink(f.sink),
		accounts.WithGatewayLogger(testLogger{}),
	)
	f.lifecycle = accounts.NewLifecycle(f.repo, f.gateway, f.cfg,
		accounts.WithNotifier(f.notifier),
		accounts.WithPasswordHasher(f.hasher),
		accounts.WithActivitySink(f.sink),
		accounts.WithLogger(testLogger{}),
		accounts.WithClock(f.clock.Now),
	)
	return f
}

// signup registers a pending account and returns it with its activation
// notification.
func (f *fixture) signup(t *testing.T, username string) (*accounts.Account, accounts.Notification) {
	t.Helper()
	result, err := f.lifecycle.Signup(context.Background(), accounts.SignupMessage{
		Username: username,
		Email:    strings.ToUpper(username[:1]) + username[1:] + "@Example.com",
		Password: testPassword,
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	return result.Account, f.notifier.last(t)
}

// activeAccount registers and activates an account, returning the session
// handed out by the activation.
func (f *fixture) activeAccount(t *testing.T, username string) (*accounts.Account, *accounts.Session) {
	t.Helper()
	_, n := f.signup(t, username)
	result, err := f.lifecycle.RedeemAccountToken(context.Background(), n.TokenID)
	require.NoError(t, err)
	require.NotNil(t, result.Session)
	return result.Account, result.Session
}
