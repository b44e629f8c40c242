package accounts_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-accounts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignupCreatesPendingAccountAndSendsLinks(t *testing.T) {
	f := newFixture(t)

	result, err := f.lifecycle.Signup(context.Background(), accounts.SignupMessage{
		Username:        "ada",
		Email:           "Ada@Example.com",
		Password:        testPassword,
		ConfirmPassword: testPassword,
	})
	require.NoError(t, err)

	assert.Equal(t, accounts.AccountStatusPending, result.Account.Status)
	assert.Equal(t, "ada@example.com", result.Account.Email)
	assert.Nil(t, result.Session)
	assert.NoError(t, result.Warning)
	assert.NotEqual(t, testPassword, result.Account.PasswordHash)

	n := f.notifier.last(t)
	assert.Equal(t, accounts.TemplateAccountActivation, n.Template)
	assert.Equal(t, "ada@example.com", n.To)
	assert.Len(t, n.TokenID, 43)
	assert.Len(t, n.RejectTokenID, 43)
	assert.NotEqual(t, n.TokenID, n.RejectTokenID)

	stored, err := f.repo.Accounts().GetByEmail(context.Background(), "ADA@example.com")
	require.NoError(t, err)
	assert.Equal(t, result.Account.ID, stored.ID)
	assert.Contains(t, f.sink.types(), accounts.ActivityEventSignup)
}

func TestSignupRejectsDuplicates(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "ada")

	_, err := f.lifecycle.Signup(context.Background(), accounts.SignupMessage{
		Username: "ada",
		Email:    "other@example.com",
		Password: testPassword,
	})
	require.Error(t, err)
	assert.True(t, accounts.IsConflict(err))
	assert.ErrorIs(t, err, accounts.ErrUsernameTaken)

	_, err = f.lifecycle.Signup(context.Background(), accounts.SignupMessage{
		Username: "lovelace",
		Email:    "ADA@example.com",
		Password: testPassword,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, accounts.ErrEmailTaken)
	assert.Equal(t, 1, f.notifier.count())
}

func TestSignupValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.lifecycle.Signup(context.Background(), accounts.SignupMessage{
		Username:        "a b",
		Email:           "not-an-email",
		Password:        "short",
		ConfirmPassword: "different",
	})
	require.Error(t, err)
	assert.True(t, accounts.IsValidation(err))

	fields := accounts.ValidationFields(err)
	assert.Contains(t, fields, "username")
	assert.Contains(t, fields, "email")
	assert.Contains(t, fields, "password")
	assert.Contains(t, fields, "confirm_password")
	assert.Zero(t, f.notifier.count())
}

func TestSignupWithoutActivation(t *testing.T) {
	f := newFixture(t, func(cfg *accounts.DefaultConfig) {
		cfg.RequireActivation = false
	})

	result, err := f.lifecycle.Signup(context.Background(), accounts.SignupMessage{
		Username: "ada",
		Email:    "ada@example.com",
		Password: testPassword,
	})
	require.NoError(t, err)

	assert.Equal(t, accounts.AccountStatusActive, result.Account.Status)
	require.NotNil(t, result.Session)
	assert.Equal(t, result.Account.ID, result.Session.AccountID)
	assert.NotEmpty(t, result.Session.Token)
	assert.Zero(t, f.notifier.count())
}

func TestSignupWithHashidDerivesID(t *testing.T) {
	f := newFixture(t)

	result, err := f.lifecycle.Signup(context.Background(), accounts.SignupMessage{
		Username:  "ada",
		Email:     "ada@example.com",
		Password:  testPassword,
		UseHashid: true,
	})
	require.NoError(t, err)

	other := newFixture(t)
	again, err := other.lifecycle.Signup(context.Background(), accounts.SignupMessage{
		Username:  "ada",
		Email:     "ADA@example.com",
		Password:  testPassword,
		UseHashid: true,
	})
	require.NoError(t, err)
	assert.Equal(t, result.Account.ID, again.Account.ID)
}

func TestSignupNotificationFailureIsWarning(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("smtp down")

	result, err := f.lifecycle.Signup(context.Background(), accounts.SignupMessage{
		Username: "ada",
		Email:    "ada@example.com",
		Password: testPassword,
	})
	require.NoError(t, err)
	require.Error(t, result.Warning)
	assert.True(t, accounts.IsNotificationFailure(result.Warning))
	assert.Equal(t, accounts.AccountStatusPending, result.Account.Status)

	_, err = f.repo.Accounts().GetByEmail(context.Background(), "ada@example.com")
	assert.NoError(t, err)
	assert.Contains(t, f.sink.types(), accounts.ActivityEventNotificationFailed)
}

func TestActivateAccount(t *testing.T) {
	f := newFixture(t)
	account, n := f.signup(t, "ada")

	result, err := f.lifecycle.RedeemAccountToken(context.Background(), n.TokenID)
	require.NoError(t, err)

	assert.Equal(t, accounts.TokenActionActivate, result.Action)
	assert.Equal(t, accounts.AccountStatusActive, result.Account.Status)
	require.NotNil(t, result.Session)
	assert.Equal(t, account.ID, result.Session.AccountID)

	stored, err := f.repo.Accounts().GetByID(context.Background(), account.ID.String())
	require.NoError(t, err)
	assert.Equal(t, accounts.AccountStatusActive, stored.Status)
	assert.NotNil(t, stored.ActivatedAt)

	// the reject link is dead once the account left pending
	_, err = f.lifecycle.RedeemAccountToken(context.Background(), n.RejectTokenID)
	assert.ErrorIs(t, err, accounts.ErrInvalidToken)

	assert.Contains(t, f.sink.types(), accounts.ActivityEventActivated)
}

func TestRedeemTokenIsSingleUse(t *testing.T) {
	f := newFixture(t)
	_, n := f.signup(t, "ada")

	_, err := f.lifecycle.RedeemAccountToken(context.Background(), n.TokenID)
	require.NoError(t, err)

	_, err = f.lifecycle.RedeemAccountToken(context.Background(), n.TokenID)
	require.Error(t, err)
	assert.True(t, accounts.IsInvalidToken(err))
}

func TestRejectAccountRemovesIt(t *testing.T) {
	f := newFixture(t)
	account, n := f.signup(t, "ada")

	result, err := f.lifecycle.RedeemAccountToken(context.Background(), n.RejectTokenID)
	require.NoError(t, err)
	assert.Equal(t, accounts.TokenActionReject, result.Action)
	assert.Nil(t, result.Session)

	_, err = f.repo.Accounts().GetByID(context.Background(), account.ID.String())
	assert.True(t, accounts.IsAccountNotFound(err))

	_, err = f.lifecycle.RedeemAccountToken(context.Background(), n.TokenID)
	assert.ErrorIs(t, err, accounts.ErrInvalidToken)
	assert.Contains(t, f.sink.types(), accounts.ActivityEventRejected)

	// the email is free again
	f.signup(t, "ada")
}

func TestRejectedSignupCannotLogin(t *testing.T) {
	f := newFixture(t)
	_, n := f.signup(t, "ada")

	_, err := f.lifecycle.RedeemAccountToken(context.Background(), n.RejectTokenID)
	require.NoError(t, err)

	for _, identifier := range []string{"ada", "ada@example.com"} {
		_, err := f.gateway.Login(context.Background(), accounts.LoginMessage{Identifier: identifier, Password: testPassword})
		require.Error(t, err, identifier)
		assert.True(t, accounts.IsInvalidCredentials(err), "unexpected error for %s: %v", identifier, err)
	}
}

func TestRedeemRejectsUnusableTokens(t *testing.T) {
	f := newFixture(t)
	_, n := f.signup(t, "ada")

	unknown, err := accounts.GenerateTokenID()
	require.NoError(t, err)

	for name, token := range map[string]string{
		"empty":     "",
		"malformed": "not-a-token",
		"unknown":   unknown,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.lifecycle.RedeemAccountToken(context.Background(), token)
			assert.ErrorIs(t, err, accounts.ErrInvalidToken)
		})
	}

	t.Run("expired", func(t *testing.T) {
		f.clock.Advance(accounts.DefaultActivationTokenTTL + time.Minute)
		_, err := f.lifecycle.RedeemAccountToken(context.Background(), n.TokenID)
		assert.ErrorIs(t, err, accounts.ErrInvalidToken)
	})
}

func TestConcurrentRedeemHasSingleWinner(t *testing.T) {
	f := newFixture(t)
	_, n := f.signup(t, "ada")

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)

	for i := 0; i < workers; i++ {
		token := n.TokenID
		if i%2 == 1 {
			token = n.RejectTokenID
		}
		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			_, err := f.lifecycle.RedeemAccountToken(context.Background(), token)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			failures = append(failures, err)
		}(token)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	require.Len(t, failures, workers-1)
	for _, err := range failures {
		assert.True(t, accounts.IsInvalidToken(err), err.Error())
	}
}

func TestPasswordResetFlow(t *testing.T) {
	f := newFixture(t)
	account, _ := f.activeAccount(t, "ada")
	ctx := context.Background()

	result, err := f.lifecycle.RequestPasswordReset(ctx, "ADA@example.com")
	require.NoError(t, err)
	assert.True(t, result.Sent)
	assert.NoError(t, result.Warning)

	n := f.notifier.last(t)
	assert.Equal(t, accounts.TemplatePasswordReset, n.Template)
	assert.Empty(t, n.RejectTokenID)

	require.NoError(t, f.lifecycle.CheckPasswordResetToken(ctx, n.TokenID))
	// checking does not consume
	require.NoError(t, f.lifecycle.CheckPasswordResetToken(ctx, n.TokenID))

	updated, err := f.lifecycle.ResetPassword(ctx, accounts.FinalizePasswordResetMessage{
		Token:           n.TokenID,
		Password:        "a-brand-new-secret",
		ConfirmPassword: "a-brand-new-secret",
	})
	require.NoError(t, err)
	assert.Equal(t, account.ID, updated.ID)
	assert.NotNil(t, updated.PasswordChangedAt)

	_, err = f.gateway.Login(ctx, accounts.LoginMessage{Identifier: "ada", Password: testPassword})
	assert.True(t, accounts.IsInvalidCredentials(err))

	_, err = f.gateway.Login(ctx, accounts.LoginMessage{Identifier: "ada", Password: "a-brand-new-secret"})
	assert.NoError(t, err)

	_, err = f.lifecycle.ResetPassword(ctx, accounts.FinalizePasswordResetMessage{
		Token:    n.TokenID,
		Password: "yet-another-secret",
	})
	assert.ErrorIs(t, err, accounts.ErrInvalidToken)
	assert.ErrorIs(t, f.lifecycle.CheckPasswordResetToken(ctx, n.TokenID), accounts.ErrInvalidToken)
}

func TestPasswordResetRequestForUnknownOrPendingAccount(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "ada")
	sent := f.notifier.count()

	result, err := f.lifecycle.RequestPasswordReset(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	assert.False(t, result.Sent)

	result, err = f.lifecycle.RequestPasswordReset(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.False(t, result.Sent)

	assert.Equal(t, sent, f.notifier.count())

	_, err = f.lifecycle.RequestPasswordReset(context.Background(), "nope")
	assert.True(t, accounts.IsValidation(err))
}

func TestPasswordResetTokenExpires(t *testing.T) {
	f := newFixture(t)
	account, _ := f.activeAccount(t, "ada")

	before, err := f.repo.Accounts().GetByID(context.Background(), account.ID.String())
	require.NoError(t, err)

	_, err = f.lifecycle.RequestPasswordReset(context.Background(), "ada@example.com")
	require.NoError(t, err)
	n := f.notifier.last(t)

	f.clock.Advance(accounts.DefaultPasswordResetTokenTTL)

	assert.ErrorIs(t, f.lifecycle.CheckPasswordResetToken(context.Background(), n.TokenID), accounts.ErrInvalidToken)
	_, err = f.lifecycle.ResetPassword(context.Background(), accounts.FinalizePasswordResetMessage{
		Token:    n.TokenID,
		Password: "a-brand-new-secret",
	})
	assert.ErrorIs(t, err, accounts.ErrInvalidToken)

	after, err := f.repo.Accounts().GetByID(context.Background(), account.ID.String())
	require.NoError(t, err)
	assert.Equal(t, before.PasswordHash, after.PasswordHash)
	assert.Equal(t, before.PasswordChangedAt, after.PasswordChangedAt)

	_, err = f.gateway.Login(context.Background(), accounts.LoginMessage{Identifier: "ada", Password: "a-brand-new-secret"})
	assert.True(t, accounts.IsInvalidCredentials(err))
	_, err = f.gateway.Login(context.Background(), accounts.LoginMessage{Identifier: "ada", Password: testPassword})
	assert.NoError(t, err)
}

func TestResetPasswordRefusesActivationTokens(t *testing.T) {
	f := newFixture(t)
	_, n := f.signup(t, "ada")

	_, err := f.lifecycle.ResetPassword(context.Background(), accounts.FinalizePasswordResetMessage{
		Token:    n.TokenID,
		Password: "a-brand-new-secret",
	})
	assert.ErrorIs(t, err, accounts.ErrInvalidToken)

	// the activation token was not consumed
	_, err = f.lifecycle.RedeemAccountToken(context.Background(), n.TokenID)
	assert.NoError(t, err)
}

func TestResetPasswordValidationKeepsToken(t *testing.T) {
	f := newFixture(t)
	f.activeAccount(t, "ada")

	_, err := f.lifecycle.RequestPasswordReset(context.Background(), "ada@example.com")
	require.NoError(t, err)
	n := f.notifier.last(t)

	_, err = f.lifecycle.ResetPassword(context.Background(), accounts.FinalizePasswordResetMessage{
		Token:    n.TokenID,
		Password: "short",
	})
	require.Error(t, err)
	assert.True(t, accounts.IsValidation(err))

	assert.NoError(t, f.lifecycle.CheckPasswordResetToken(context.Background(), n.TokenID))
}

func TestPasswordMinimumLength(t *testing.T) {
	f := newFixture(t)
	_, session := f.activeAccount(t, "ada")
	ctx := context.Background()

	err := f.lifecycle.ChangePassword(ctx, session, testPassword, "newpass")
	assert.True(t, accounts.IsValidation(err))
	assert.Contains(t, accounts.ValidationFields(err), "new_password")

	require.NoError(t, f.lifecycle.ChangePassword(ctx, session, testPassword, "newpass1"))
	_, err = f.gateway.Login(ctx, accounts.LoginMessage{Identifier: "ada", Password: "newpass1"})
	assert.NoError(t, err)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	_, session := f.activeAccount(t, "ada")
	ctx := context.Background()

	err := f.lifecycle.ChangePassword(ctx, session, "wrong-password", "a-brand-new-secret")
	assert.True(t, accounts.IsInvalidCredentials(err))

	err = f.lifecycle.ChangePassword(ctx, session, testPassword, "short")
	assert.True(t, accounts.IsValidation(err))

	require.NoError(t, f.lifecycle.ChangePassword(ctx, session, testPassword, "a-brand-new-secret"))

	_, err = f.gateway.Login(ctx, accounts.LoginMessage{Identifier: "ada@example.com", Password: "a-brand-new-secret"})
	assert.NoError(t, err)
	assert.Contains(t, f.sink.types(), accounts.ActivityEventPasswordChanged)
}

func TestChangePasswordRequiresSession(t *testing.T) {
	f := newFixture(t)
	_, session := f.activeAccount(t, "ada")

	err := f.lifecycle.ChangePassword(context.Background(), nil, testPassword, "a-brand-new-secret")
	assert.True(t, accounts.IsUnauthenticated(err))

	f.clock.Advance(time.Duration(accounts.DefaultSessionHours) * time.Hour)
	err = f.lifecycle.ChangePassword(context.Background(), session, testPassword, "a-brand-new-secret")
	assert.ErrorIs(t, err, accounts.ErrSessionExpired)
}

func TestChangeEmail(t *testing.T) {
	f := newFixture(t)
	_, session := f.activeAccount(t, "ada")
	f.activeAccount(t, "grace")
	ctx := context.Background()

	updated, err := f.lifecycle.ChangeEmail(ctx, session, "Countess@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "countess@example.com", updated.Email)

	stored, err := f.repo.Accounts().GetByEmail(ctx, "countess@example.com")
	require.NoError(t, err)
	assert.Equal(t, updated.ID, stored.ID)

	_, err = f.lifecycle.ChangeEmail(ctx, session, "grace@example.com")
	assert.ErrorIs(t, err, accounts.ErrEmailTaken)

	_, err = f.lifecycle.ChangeEmail(ctx, session, "bogus")
	assert.True(t, accounts.IsValidation(err))

	// same address is a no-op
	same, err := f.lifecycle.ChangeEmail(ctx, session, "countess@example.com")
	require.NoError(t, err)
	assert.Equal(t, "countess@example.com", same.Email)
}

func TestExternalLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg := accounts.ExternalLoginMessage{
		Provider:   "github",
		ExternalID: "42",
		Email:      "Ada@Example.com",
		Username:   "ada lovelace",
	}

	first, err := f.lifecycle.ExternalLogin(ctx, msg)
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, "ada_lovelace", first.Account.Username)
	assert.Equal(t, accounts.AccountStatusActive, first.Account.Status)
	require.NotNil(t, first.Session)

	second, err := f.lifecycle.ExternalLogin(ctx, msg)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Account.ID, second.Account.ID)

	assert.Contains(t, f.sink.types(), accounts.ActivityEventExternalLogin)
}

type countingHasher struct {
	accounts.PasswordHasher
	mu     sync.Mutex
	hashed int
}

func (h *countingHasher) HashPassword(password string) (string, error) {
	h.mu.Lock()
	h.hashed++
	h.mu.Unlock()
	return h.PasswordHasher.HashPassword(password)
}

func (h *countingHasher) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hashed
}

func TestExternalLoginHashesOnlyForNewAccounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hasher := &countingHasher{PasswordHasher: f.hasher}
	lifecycle := accounts.NewLifecycle(f.repo, f.gateway, f.cfg,
		accounts.WithNotifier(f.notifier),
		accounts.WithPasswordHasher(hasher),
		accounts.WithLogger(testLogger{}),
		accounts.WithClock(f.clock.Now),
	)

	f.activeAccount(t, "ada")
	existing, err := lifecycle.ExternalLogin(ctx, accounts.ExternalLoginMessage{
		Provider:   "github",
		ExternalID: "42",
		Email:      "ada@example.com",
	})
	require.NoError(t, err)
	assert.False(t, existing.Created)
	assert.Equal(t, 0, hasher.count())

	created, err := lifecycle.ExternalLogin(ctx, accounts.ExternalLoginMessage{
		Provider:   "github",
		ExternalID: "43",
		Email:      "grace@example.com",
	})
	require.NoError(t, err)
	assert.True(t, created.Created)
	assert.Equal(t, 1, hasher.count())
}

func TestExternalLoginRefusesPendingAccount(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "ada")

	_, err := f.lifecycle.ExternalLogin(context.Background(), accounts.ExternalLoginMessage{
		Provider:   "github",
		ExternalID: "42",
		Email:      "ada@example.com",
	})
	assert.ErrorIs(t, err, accounts.ErrAccountNotActive)
}

func TestExternalLoginPicksFreeUsername(t *testing.T) {
	f := newFixture(t)
	f.activeAccount(t, "ada")

	result, err := f.lifecycle.ExternalLogin(context.Background(), accounts.ExternalLoginMessage{
		Provider:   "google",
		ExternalID: "7",
		Email:      "ada@elsewhere.com",
	})
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.NotEqual(t, "ada", result.Account.Username)
	assert.Contains(t, result.Account.Username, "ada-")
}

func TestLifecycleHonoursCancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.lifecycle.Signup(ctx, accounts.SignupMessage{
		Username: "ada",
		Email:    "ada@example.com",
		Password: testPassword,
	})
	require.Error(t, err)

	_, err = f.repo.Accounts().GetByEmail(context.Background(), "ada@example.com")
	assert.True(t, accounts.IsAccountNotFound(err))
}
