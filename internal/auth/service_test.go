// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VendorHub Contributors

package auth_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/vendorhub/vendorhub/internal/auth"
	"github.com/vendorhub/vendorhub/internal/auth/memstore"
	"github.com/vendorhub/vendorhub/internal/notify"
	"github.com/vendorhub/vendorhub/pkg/errutil"
)

const clientURL = "https://app.example.com"

type recordingObserver struct {
	mu     sync.Mutex
	issued []auth.TokenPurpose
	failed []string
}

func (o *recordingObserver) TokenIssued(p auth.TokenPurpose) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.issued = append(o.issued, p)
}

func (o *recordingObserver) NotificationFailed(kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed = append(o.failed, kind)
}

type fixture struct {
	svc   *auth.Service
	store *memstore.Store
	mail  *notify.Recorder
	clock *fakeClock
	obs   *recordingObserver
	logs  *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: memstore.New(),
		mail:  &notify.Recorder{},
		clock: newFakeClock(),
		obs:   &recordingObserver{},
		logs:  &bytes.Buffer{},
	}

	cfg := auth.DefaultConfig()
	cfg.ClientURL = clientURL

	svc, err := auth.NewService(cfg, f.store, newCodec(t, f.clock), newTestHasher(), f.mail,
		auth.WithClock(f.clock.Now),
		auth.WithObserver(f.obs),
		auth.WithLogger(slog.New(slog.NewJSONHandler(f.logs, nil))),
	)
	require.NoError(t, err)
	f.svc = svc
	return f
}

var tokenParam = regexp.MustCompile(`token=([A-Za-z0-9_.\-]+)`)

// mailedToken returns the token embedded in the last mail sent to email.
func (f *fixture) mailedToken(t *testing.T, email, subject string) string {
	t.Helper()
	msg, ok := f.mail.Last(email, subject)
	require.True(t, ok, "no %q mail sent to %s", subject, email)
	m := tokenParam.FindStringSubmatch(msg.HTML)
	require.Len(t, m, 2, "mail has no token link")
	return m[1]
}

func (f *fixture) signup(t *testing.T, email, password string) ulid.ULID {
	t.Helper()
	in := validSignup()
	in.Email = email
	in.Password = password
	id, err := f.svc.Signup(context.Background(), in)
	require.NoError(t, err)
	return id
}

// verifiedUser signs up and verifies email.
func (f *fixture) verifiedUser(t *testing.T, email, password string) ulid.ULID {
	t.Helper()
	id := f.signup(t, email, password)
	token := f.mailedToken(t, email, auth.SubjectEmailConfirmation)
	require.NoError(t, f.svc.VerifyEmail(context.Background(), token))
	return id
}

func TestNewService_RequiresCollaborators(t *testing.T) {
	codec, err := auth.NewTokenCodec(testSecret)
	require.NoError(t, err)
	store := memstore.New()
	hasher := newTestHasher()
	mail := &notify.Recorder{}

	cfg := auth.DefaultConfig()
	cfg.ClientURL = clientURL
	noURL := auth.DefaultConfig()
	zeroTTL := cfg
	zeroTTL.LoginTTL = 0

	tests := []struct {
		name        string
		cfg         auth.Config
		store       auth.CredentialStore
		codec       *auth.TokenCodec
		hasher      auth.PasswordHasher
		notifier    auth.Notifier
		expectError string
	}{
		{"nil store", cfg, nil, codec, hasher, mail, "credential store is required"},
		{"nil codec", cfg, store, nil, hasher, mail, "token codec is required"},
		{"nil hasher", cfg, store, codec, nil, mail, "password hasher is required"},
		{"nil notifier", cfg, store, codec, hasher, nil, "notifier is required"},
		{"missing client URL", noURL, store, codec, hasher, mail, "client URL is required"},
		{"zero lifetime", zeroTTL, store, codec, hasher, mail, "token lifetimes must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := auth.NewService(tt.cfg, tt.store, tt.codec, tt.hasher, tt.notifier)
			require.Error(t, err)
			assert.Nil(t, svc)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestService_Signup(t *testing.T) {
	ctx := context.Background()

	t.Run("creates unverified user and mails confirmation", func(t *testing.T) {
		f := newFixture(t)
		id := f.signup(t, "a@b.com", "secret1")

		user, rec, err := f.store.FindByEmail(ctx, "a@b.com")
		require.NoError(t, err)
		assert.Equal(t, id, user.ID)
		assert.False(t, rec.IsVerified)
		assert.True(t, rec.IsPrimary)
		assert.Equal(t, auth.AlgArgon2id, user.PasswordAlg)
		assert.NotEqual(t, "secret1", user.PasswordHash)

		msg, ok := f.mail.Last("a@b.com", auth.SubjectEmailConfirmation)
		require.True(t, ok)
		assert.Contains(t, msg.HTML, clientURL+"/auth/confirmation-email?token=")

		stored, err := f.store.FindToken(ctx, id, auth.PurposeSendEmail)
		require.NoError(t, err)
		assert.Equal(t, stored, f.mailedToken(t, "a@b.com", auth.SubjectEmailConfirmation))
		assert.Equal(t, []auth.TokenPurpose{auth.PurposeSendEmail}, f.obs.issued)
	})

	t.Run("login before verification fails", func(t *testing.T) {
		f := newFixture(t)
		f.signup(t, "a@b.com", "secret1")

		_, err := f.svc.Login(ctx, "a@b.com", "secret1")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeEmailNotVerified)
	})

	t.Run("normalizes email", func(t *testing.T) {
		f := newFixture(t)
		f.signup(t, "  Jane@Example.COM ", "secret1")

		_, _, err := f.store.FindByEmail(ctx, "jane@example.com")
		require.NoError(t, err)
	})

	t.Run("rejects duplicate email regardless of case", func(t *testing.T) {
		f := newFixture(t)
		f.signup(t, "jane@example.com", "secret1")

		in := validSignup()
		in.Email = "JANE@example.com"
		_, err := f.svc.Signup(ctx, in)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeDuplicateEmail)
	})

	t.Run("rejects invalid input per field", func(t *testing.T) {
		f := newFixture(t)
		in := validSignup()
		in.Password = "short"
		in.Role = auth.RoleAdmin

		_, err := f.svc.Signup(ctx, in)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeValidationFailed)
		fields := auth.FieldErrors(err)
		assert.Contains(t, fields, "password")
		assert.Contains(t, fields, "userType")
		assert.Empty(t, f.mail.Messages())
	})

	t.Run("notifies admins", func(t *testing.T) {
		f := newFixture(t)
		admin := &auth.User{
			ID: ulid.Make(), Email: "admin@example.com", FirstName: "Ad", LastName: "Min",
			Role: auth.RoleAdmin, PasswordAlg: auth.AlgArgon2id, PasswordHash: "x",
		}
		require.NoError(t, f.store.CreateUser(ctx, admin))

		f.signup(t, "new@example.com", "secret1")

		msg, ok := f.mail.Last("admin@example.com", auth.SubjectNewSignup)
		require.True(t, ok)
		assert.Contains(t, msg.HTML, "new@example.com")
		assert.Contains(t, msg.HTML, "Client")
	})

	t.Run("no admins sends no signup notice", func(t *testing.T) {
		f := newFixture(t)
		f.signup(t, "new@example.com", "secret1")

		for _, msg := range f.mail.Messages() {
			assert.NotEqual(t, auth.SubjectNewSignup, msg.Subject)
		}
	})

	t.Run("notifier failure does not fail signup", func(t *testing.T) {
		f := newFixture(t)
		f.mail.Err = errors.New("mail relay down")

		id := f.signup(t, "a@b.com", "secret1")

		_, err := f.store.FindToken(ctx, id, auth.PurposeSendEmail)
		require.NoError(t, err, "token must be stored even when mail fails")
		assert.Equal(t, []string{auth.KindVerifyEmail}, f.obs.failed)
		assert.Contains(t, f.logs.String(), "mail relay down")
	})

	t.Run("asynchronous delivery failures use the same kind label", func(t *testing.T) {
		obs := &recordingObserver{}
		relay := &notify.Recorder{Err: errors.New("mail relay down")}
		mail := notify.NewAsync(relay,
			notify.WithAsyncObserver(obs),
			notify.WithAsyncLogger(slog.New(slog.DiscardHandler)),
		)
		cfg := auth.DefaultConfig()
		cfg.ClientURL = clientURL
		svc, err := auth.NewService(cfg, memstore.New(), newCodec(t, newFakeClock()), newTestHasher(), mail,
			auth.WithObserver(obs),
			auth.WithLogger(slog.New(slog.DiscardHandler)),
		)
		require.NoError(t, err)

		_, err = svc.Signup(ctx, validSignup())
		require.NoError(t, err)
		require.NoError(t, mail.Close(ctx))

		assert.Equal(t, []string{auth.KindVerifyEmail}, obs.failed)
	})
}

func TestService_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("returns stored session token", func(t *testing.T) {
		f := newFixture(t)
		id := f.verifiedUser(t, "a@b.com", "secret1")

		token, err := f.svc.Login(ctx, "A@B.com", "secret1")
		require.NoError(t, err)

		stored, err := f.store.FindToken(ctx, id, auth.PurposeWeb)
		require.NoError(t, err)
		assert.Equal(t, token, stored)

		user, err := f.svc.Authenticate(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, id, user.ID)
	})

	t.Run("wrong password", func(t *testing.T) {
		f := newFixture(t)
		f.verifiedUser(t, "a@b.com", "secret1")

		_, err := f.svc.Login(ctx, "a@b.com", "secret2")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeInvalidCredentials)
	})

	t.Run("unknown email", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Login(ctx, "nobody@b.com", "secret1")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeUserNotFound)
	})

	t.Run("missing password", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Login(ctx, "a@b.com", "")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeValidationFailed)
	})

	t.Run("new login supersedes previous session", func(t *testing.T) {
		f := newFixture(t)
		f.verifiedUser(t, "a@b.com", "secret1")

		first, err := f.svc.Login(ctx, "a@b.com", "secret1")
		require.NoError(t, err)
		second, err := f.svc.Login(ctx, "a@b.com", "secret1")
		require.NoError(t, err)
		require.NotEqual(t, first, second)

		_, err = f.svc.Authenticate(ctx, first)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeTokenRevoked)

		_, err = f.svc.Authenticate(ctx, second)
		require.NoError(t, err)
	})

	t.Run("upgrades legacy bcrypt hash", func(t *testing.T) {
		f := newFixture(t)
		legacy, err := bcrypt.GenerateFromPassword([]byte("secret1"), bcrypt.MinCost)
		require.NoError(t, err)
		user := &auth.User{
			ID: ulid.Make(), Email: "old@b.com", FirstName: "Old", LastName: "Timer",
			Role: auth.RoleVendor, PasswordAlg: auth.AlgBcrypt, PasswordHash: string(legacy),
		}
		require.NoError(t, f.store.CreateUser(ctx, user))
		require.NoError(t, f.store.SetEmailVerified(ctx, "old@b.com", true))

		_, err = f.svc.Login(ctx, "old@b.com", "secret1")
		require.NoError(t, err)

		stored, _, err := f.store.FindByEmail(ctx, "old@b.com")
		require.NoError(t, err)
		assert.Equal(t, auth.AlgArgon2id, stored.PasswordAlg)

		_, err = f.svc.Login(ctx, "old@b.com", "secret1")
		require.NoError(t, err)
	})
}

func TestService_EmailVerification(t *testing.T) {
	ctx := context.Background()

	t.Run("verifies and notifies", func(t *testing.T) {
		f := newFixture(t)
		id := f.signup(t, "a@b.com", "secret1")
		token := f.mailedToken(t, "a@b.com", auth.SubjectEmailConfirmation)

		require.NoError(t, f.svc.VerifyEmail(ctx, token))

		_, rec, err := f.store.FindByEmail(ctx, "a@b.com")
		require.NoError(t, err)
		assert.True(t, rec.IsVerified)

		_, err = f.store.FindToken(ctx, id, auth.PurposeSendEmail)
		assert.ErrorIs(t, err, auth.ErrNotFound)

		_, ok := f.mail.Last("a@b.com", auth.SubjectEmailVerified)
		assert.True(t, ok)
	})

	t.Run("second verification reports already verified", func(t *testing.T) {
		f := newFixture(t)
		f.signup(t, "a@b.com", "secret1")
		token := f.mailedToken(t, "a@b.com", auth.SubjectEmailConfirmation)
		require.NoError(t, f.svc.VerifyEmail(ctx, token))

		err := f.svc.VerifyEmail(ctx, token)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeAlreadyVerified)
	})

	t.Run("stale token after resend is revoked, not expired", func(t *testing.T) {
		f := newFixture(t)
		f.signup(t, "a@b.com", "secret1")
		stale := f.mailedToken(t, "a@b.com", auth.SubjectEmailConfirmation)

		f.clock.Advance(auth.DefaultResendCooldown + time.Second)
		require.NoError(t, f.svc.SendEmailVerification(ctx, "a@b.com"))
		fresh := f.mailedToken(t, "a@b.com", auth.SubjectEmailConfirmation)
		require.NotEqual(t, stale, fresh)

		err := f.svc.VerifyEmail(ctx, stale)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeTokenRevoked)

		require.NoError(t, f.svc.VerifyEmail(ctx, fresh))
	})

	t.Run("resend within cooldown is rate limited", func(t *testing.T) {
		f := newFixture(t)
		f.signup(t, "a@b.com", "secret1")
		f.clock.Advance(time.Minute)

		err := f.svc.SendEmailVerification(ctx, "a@b.com")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeRateLimited)

		var limited *auth.RateLimitError
		require.ErrorAs(t, err, &limited)
		assert.Equal(t, int64(9), limited.Minutes())
		assert.Equal(t, int64(0), limited.Seconds())
	})

	t.Run("resend for verified user", func(t *testing.T) {
		f := newFixture(t)
		f.verifiedUser(t, "a@b.com", "secret1")

		err := f.svc.SendEmailVerification(ctx, "a@b.com")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeAlreadyVerified)
	})

	t.Run("resend for unknown user", func(t *testing.T) {
		f := newFixture(t)
		err := f.svc.SendEmailVerification(ctx, "nobody@b.com")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeUserNotFound)
	})

	t.Run("rejects token of another purpose", func(t *testing.T) {
		f := newFixture(t)
		f.verifiedUser(t, "a@b.com", "secret1")
		login, err := f.svc.Login(ctx, "a@b.com", "secret1")
		require.NoError(t, err)

		err = f.svc.VerifyEmail(ctx, login)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeTokenPurposeMismatch)
	})

	t.Run("expired token", func(t *testing.T) {
		f := newFixture(t)
		f.signup(t, "a@b.com", "secret1")
		token := f.mailedToken(t, "a@b.com", auth.SubjectEmailConfirmation)
		f.clock.Advance(25 * time.Hour)

		err := f.svc.VerifyEmail(ctx, token)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeTokenExpired)
	})
}

func TestService_PasswordReset(t *testing.T) {
	ctx := context.Background()

	t.Run("reset replaces password", func(t *testing.T) {
		f := newFixture(t)
		f.verifiedUser(t, "a@b.com", "secret1")

		require.NoError(t, f.svc.ForgotPassword(ctx, "a@b.com"))
		msg, ok := f.mail.Last("a@b.com", auth.SubjectResetPassword)
		require.True(t, ok)
		assert.Contains(t, msg.HTML, clientURL+"/auth/reset-password?token=")
		token := f.mailedToken(t, "a@b.com", auth.SubjectResetPassword)

		require.NoError(t, f.svc.ResetPassword(ctx, token, "newpass1"))

		_, err := f.svc.Login(ctx, "a@b.com", "secret1")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeInvalidCredentials)

		_, err = f.svc.Login(ctx, "a@b.com", "newpass1")
		require.NoError(t, err)
	})

	t.Run("reset token is single use", func(t *testing.T) {
		f := newFixture(t)
		f.verifiedUser(t, "a@b.com", "secret1")
		require.NoError(t, f.svc.ForgotPassword(ctx, "a@b.com"))
		token := f.mailedToken(t, "a@b.com", auth.SubjectResetPassword)
		require.NoError(t, f.svc.ResetPassword(ctx, token, "newpass1"))

		err := f.svc.ResetPassword(ctx, token, "newpass2")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeTokenRevoked)
	})

	t.Run("second request within cooldown is rate limited", func(t *testing.T) {
		f := newFixture(t)
		f.verifiedUser(t, "a@b.com", "secret1")
		require.NoError(t, f.svc.ForgotPassword(ctx, "a@b.com"))
		f.clock.Advance(time.Second)

		err := f.svc.ForgotPassword(ctx, "a@b.com")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeRateLimited)

		var limited *auth.RateLimitError
		require.ErrorAs(t, err, &limited)
		assert.Equal(t, int64(9), limited.Minutes())
		assert.Equal(t, int64(59), limited.Seconds())
	})

	t.Run("request after cooldown supersedes old token", func(t *testing.T) {
		f := newFixture(t)
		f.verifiedUser(t, "a@b.com", "secret1")
		require.NoError(t, f.svc.ForgotPassword(ctx, "a@b.com"))
		old := f.mailedToken(t, "a@b.com", auth.SubjectResetPassword)

		f.clock.Advance(auth.DefaultResendCooldown + time.Second)
		require.NoError(t, f.svc.ForgotPassword(ctx, "a@b.com"))

		err := f.svc.ResetPassword(ctx, old, "newpass1")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeTokenRevoked)
	})

	t.Run("unverified user cannot reset", func(t *testing.T) {
		f := newFixture(t)
		f.signup(t, "a@b.com", "secret1")

		err := f.svc.ForgotPassword(ctx, "a@b.com")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeEmailNotVerified)
	})

	t.Run("short new password", func(t *testing.T) {
		f := newFixture(t)
		err := f.svc.ResetPassword(ctx, "whatever", "123")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeValidationFailed)
	})

	t.Run("verification token cannot reset password", func(t *testing.T) {
		f := newFixture(t)
		f.signup(t, "a@b.com", "secret1")
		token := f.mailedToken(t, "a@b.com", auth.SubjectEmailConfirmation)

		err := f.svc.ResetPassword(ctx, token, "newpass1")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeTokenPurposeMismatch)
	})
}

func TestService_RevokeToken(t *testing.T) {
	ctx := context.Background()

	t.Run("revoked session no longer authenticates", func(t *testing.T) {
		f := newFixture(t)
		f.verifiedUser(t, "a@b.com", "secret1")
		token, err := f.svc.Login(ctx, "a@b.com", "secret1")
		require.NoError(t, err)

		require.NoError(t, f.svc.RevokeToken(ctx, token))

		_, err = f.svc.Authenticate(ctx, token)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeTokenRevoked)
	})

	t.Run("revoking twice is not an error", func(t *testing.T) {
		f := newFixture(t)
		f.verifiedUser(t, "a@b.com", "secret1")
		token, err := f.svc.Login(ctx, "a@b.com", "secret1")
		require.NoError(t, err)

		require.NoError(t, f.svc.RevokeToken(ctx, token))
		require.NoError(t, f.svc.RevokeToken(ctx, token))
	})

	t.Run("revoked verification token", func(t *testing.T) {
		f := newFixture(t)
		f.signup(t, "a@b.com", "secret1")
		token := f.mailedToken(t, "a@b.com", auth.SubjectEmailConfirmation)

		require.NoError(t, f.svc.RevokeToken(ctx, token))

		err := f.svc.VerifyEmail(ctx, token)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeTokenRevoked)
	})

	t.Run("does not touch other purposes", func(t *testing.T) {
		f := newFixture(t)
		id := f.verifiedUser(t, "a@b.com", "secret1")
		session, err := f.svc.Login(ctx, "a@b.com", "secret1")
		require.NoError(t, err)
		require.NoError(t, f.svc.ForgotPassword(ctx, "a@b.com"))

		require.NoError(t, f.svc.RevokeToken(ctx, session))

		_, err = f.store.FindToken(ctx, id, auth.PurposeForgotPassword)
		assert.NoError(t, err)
	})

	t.Run("invalid token", func(t *testing.T) {
		f := newFixture(t)
		err := f.svc.RevokeToken(ctx, "garbage")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeTokenInvalid)
	})
}

func TestService_Authenticate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.verifiedUser(t, "a@b.com", "secret1")
	require.NoError(t, f.svc.ForgotPassword(ctx, "a@b.com"))
	reset := f.mailedToken(t, "a@b.com", auth.SubjectResetPassword)

	_, err := f.svc.Authenticate(ctx, reset)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, auth.CodeTokenPurposeMismatch)
}

// mockStore is a CredentialStore whose calls are scripted per test.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateUser(ctx context.Context, user *auth.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *mockStore) FindByEmail(ctx context.Context, email string) (*auth.User, *auth.EmailRecord, error) {
	args := m.Called(ctx, email)
	user, _ := args.Get(0).(*auth.User)
	rec, _ := args.Get(1).(*auth.EmailRecord)
	return user, rec, args.Error(2)
}

func (m *mockStore) FindByID(ctx context.Context, id ulid.ULID) (*auth.User, *auth.EmailRecord, error) {
	args := m.Called(ctx, id)
	user, _ := args.Get(0).(*auth.User)
	rec, _ := args.Get(1).(*auth.EmailRecord)
	return user, rec, args.Error(2)
}

func (m *mockStore) ListByRole(ctx context.Context, role auth.Role) ([]*auth.User, error) {
	args := m.Called(ctx, role)
	users, _ := args.Get(0).([]*auth.User)
	return users, args.Error(1)
}

func (m *mockStore) FindToken(ctx context.Context, userID ulid.ULID, purpose auth.TokenPurpose) (string, error) {
	args := m.Called(ctx, userID, purpose)
	return args.String(0), args.Error(1)
}

func (m *mockStore) UpsertToken(ctx context.Context, userID ulid.ULID, token string, purpose auth.TokenPurpose) error {
	return m.Called(ctx, userID, token, purpose).Error(0)
}

func (m *mockStore) ConsumeToken(ctx context.Context, userID ulid.ULID, purpose auth.TokenPurpose, token string) error {
	return m.Called(ctx, userID, purpose, token).Error(0)
}

func (m *mockStore) DeleteTokens(ctx context.Context, userID ulid.ULID, tokens []string) error {
	return m.Called(ctx, userID, tokens).Error(0)
}

func (m *mockStore) UpdatePassword(ctx context.Context, userID ulid.ULID, alg, hash string) error {
	return m.Called(ctx, userID, alg, hash).Error(0)
}

func (m *mockStore) SetEmailVerified(ctx context.Context, email string, verified bool) error {
	return m.Called(ctx, email, verified).Error(0)
}

func newMockedService(t *testing.T, store auth.CredentialStore) *auth.Service {
	t.Helper()
	cfg := auth.DefaultConfig()
	cfg.ClientURL = clientURL
	svc, err := auth.NewService(cfg, store, newCodec(t, newFakeClock()), newTestHasher(), &notify.Recorder{},
		auth.WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))),
	)
	require.NoError(t, err)
	return svc
}

func TestService_StorageFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("cancelled lookup is retryable", func(t *testing.T) {
		store := &mockStore{}
		store.On("FindByEmail", mock.Anything, "a@b.com").Return(nil, nil, context.Canceled)
		svc := newMockedService(t, store)

		_, err := svc.Login(ctx, "a@b.com", "secret1")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeStorageUnavailable)
		assert.True(t, auth.IsRetryable(err))
		assert.ErrorIs(t, err, context.Canceled)
		store.AssertExpectations(t)
	})

	t.Run("deadline is retryable", func(t *testing.T) {
		store := &mockStore{}
		store.On("FindByEmail", mock.Anything, "a@b.com").Return(nil, nil, context.DeadlineExceeded)
		svc := newMockedService(t, store)

		err := svc.ForgotPassword(ctx, "a@b.com")
		require.Error(t, err)
		assert.True(t, auth.IsRetryable(err))
	})

	t.Run("other failures are not retryable", func(t *testing.T) {
		store := &mockStore{}
		store.On("FindByEmail", mock.Anything, "a@b.com").Return(nil, nil, errors.New("connection reset"))
		svc := newMockedService(t, store)

		err := svc.SendEmailVerification(ctx, "a@b.com")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeStorageFailed)
		errutil.AssertErrorContext(t, err, "operation", "FindByEmail")
		assert.False(t, auth.IsRetryable(err))
	})

	t.Run("unknown stored role keeps validation code", func(t *testing.T) {
		_, roleErr := auth.ParseRole("Superuser")
		require.Error(t, roleErr)

		store := &mockStore{}
		store.On("FindByEmail", mock.Anything, "a@b.com").Return(nil, nil, roleErr)
		svc := newMockedService(t, store)

		_, err := svc.Login(ctx, "a@b.com", "secret1")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeValidationFailed)
		errutil.AssertErrorContext(t, err, "operation", "FindByEmail")
		assert.False(t, auth.IsRetryable(err))
	})

	t.Run("token persistence failure fails signup after user insert", func(t *testing.T) {
		store := &mockStore{}
		store.On("FindByEmail", mock.Anything, "jane@example.com").Return(nil, nil, auth.ErrNotFound)
		store.On("CreateUser", mock.Anything, mock.AnythingOfType("*auth.User")).Return(nil)
		store.On("UpsertToken", mock.Anything, mock.Anything, mock.Anything, auth.PurposeSendEmail).
			Return(errors.New("disk full"))
		svc := newMockedService(t, store)

		_, err := svc.Signup(ctx, validSignup())
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeStorageFailed)
		store.AssertNotCalled(t, "ListByRole", mock.Anything, mock.Anything)
	})

	t.Run("insert race reports duplicate", func(t *testing.T) {
		store := &mockStore{}
		store.On("FindByEmail", mock.Anything, "jane@example.com").Return(nil, nil, auth.ErrNotFound)
		store.On("CreateUser", mock.Anything, mock.Anything).Return(auth.ErrDuplicateEmail)
		svc := newMockedService(t, store)

		_, err := svc.Signup(ctx, validSignup())
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeDuplicateEmail)
	})

	t.Run("admin listing failure does not fail signup", func(t *testing.T) {
		store := &mockStore{}
		store.On("FindByEmail", mock.Anything, "jane@example.com").Return(nil, nil, auth.ErrNotFound)
		store.On("CreateUser", mock.Anything, mock.Anything).Return(nil)
		store.On("UpsertToken", mock.Anything, mock.Anything, mock.Anything, auth.PurposeSendEmail).Return(nil)
		store.On("ListByRole", mock.Anything, auth.RoleAdmin).Return(nil, errors.New("timeout"))
		svc := newMockedService(t, store)

		_, err := svc.Signup(ctx, validSignup())
		require.NoError(t, err)
		store.AssertExpectations(t)
	})

	t.Run("token consumed concurrently", func(t *testing.T) {
		codec := newCodec(t, newFakeClock())
		id := ulid.Make()
		token, err := codec.Issue(id.String(), auth.ClaimForgotPassword, auth.RoleClient, time.Hour)
		require.NoError(t, err)

		store := &mockStore{}
		store.On("FindByID", mock.Anything, id).Return(&auth.User{ID: id, Email: "a@b.com"}, &auth.EmailRecord{Email: "a@b.com"}, nil)
		store.On("ConsumeToken", mock.Anything, id, auth.PurposeForgotPassword, token).Return(auth.ErrNotFound)
		svc := newMockedService(t, store)

		err = svc.ResetPassword(ctx, token, "newpass1")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeTokenRevoked)
		store.AssertNotCalled(t, "UpdatePassword", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("consume failure is a storage error", func(t *testing.T) {
		codec := newCodec(t, newFakeClock())
		id := ulid.Make()
		token, err := codec.Issue(id.String(), auth.ClaimForgotPassword, auth.RoleClient, time.Hour)
		require.NoError(t, err)

		store := &mockStore{}
		store.On("FindByID", mock.Anything, id).Return(&auth.User{ID: id, Email: "a@b.com"}, &auth.EmailRecord{Email: "a@b.com"}, nil)
		store.On("ConsumeToken", mock.Anything, id, auth.PurposeForgotPassword, token).Return(errors.New("connection reset"))
		svc := newMockedService(t, store)

		err = svc.ResetPassword(ctx, token, "newpass1")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeStorageFailed)
		errutil.AssertErrorContext(t, err, "operation", "ConsumeToken")
		store.AssertNotCalled(t, "UpdatePassword", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

// lockstepStore holds every caller of the user lookups until n callers have
// arrived, so concurrent requests all pass the lookup before any of them
// touches the token row.
type lockstepStore struct {
	*memstore.Store
	arrived sync.WaitGroup
}

func newLockstepStore(n int) *lockstepStore {
	s := &lockstepStore{Store: memstore.New()}
	s.arrived.Add(n)
	return s
}

func (s *lockstepStore) wait() {
	s.arrived.Done()
	s.arrived.Wait()
}

func (s *lockstepStore) FindByID(ctx context.Context, id ulid.ULID) (*auth.User, *auth.EmailRecord, error) {
	s.wait()
	return s.Store.FindByID(ctx, id)
}

func (s *lockstepStore) FindByEmail(ctx context.Context, email string) (*auth.User, *auth.EmailRecord, error) {
	s.wait()
	return s.Store.FindByEmail(ctx, email)
}

// runTwice calls fn from two goroutines and returns both results.
func runTwice(fn func() error) []error {
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = fn()
		}()
	}
	wg.Wait()
	return errs
}

func assertOneWinner(t *testing.T, errs []error) {
	t.Helper()
	var ok, revoked int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errutil.Code(err) == auth.CodeTokenRevoked:
			revoked++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok, "exactly one caller consumes the token")
	assert.Equal(t, 1, revoked)
}

func TestService_ConcurrentConsumption(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	codec := newCodec(t, clock)
	cfg := auth.DefaultConfig()
	cfg.ClientURL = clientURL

	seed := func(t *testing.T, store *lockstepStore, verified bool) *auth.User {
		t.Helper()
		user := &auth.User{
			ID: ulid.Make(), Email: "a@b.com", FirstName: "A", LastName: "B",
			Role: auth.RoleClient, PasswordAlg: auth.AlgArgon2id, PasswordHash: "x", CreatedAt: clock.Now(),
		}
		require.NoError(t, store.Store.CreateUser(ctx, user))
		if verified {
			require.NoError(t, store.Store.SetEmailVerified(ctx, user.Email, true))
		}
		return user
	}

	newSvc := func(t *testing.T, store auth.CredentialStore) *auth.Service {
		t.Helper()
		svc, err := auth.NewService(cfg, store, codec, newTestHasher(), &notify.Recorder{},
			auth.WithClock(clock.Now),
			auth.WithLogger(slog.New(slog.DiscardHandler)),
		)
		require.NoError(t, err)
		return svc
	}

	t.Run("reset token", func(t *testing.T) {
		store := newLockstepStore(2)
		user := seed(t, store, true)
		token, err := codec.Issue(user.ID.String(), auth.ClaimForgotPassword, user.Role, time.Hour)
		require.NoError(t, err)
		require.NoError(t, store.UpsertToken(ctx, user.ID, token, auth.PurposeForgotPassword))
		svc := newSvc(t, store)

		assertOneWinner(t, runTwice(func() error {
			return svc.ResetPassword(ctx, token, "newpass1")
		}))
	})

	t.Run("verification token", func(t *testing.T) {
		store := newLockstepStore(2)
		user := seed(t, store, false)
		token, err := codec.Issue(user.Email, auth.ClaimVerifyEmail, "", time.Hour)
		require.NoError(t, err)
		require.NoError(t, store.UpsertToken(ctx, user.ID, token, auth.PurposeSendEmail))
		svc := newSvc(t, store)

		assertOneWinner(t, runTwice(func() error {
			return svc.VerifyEmail(ctx, token)
		}))
	})
}
