// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VendorHub Contributors

package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/vendorhub/vendorhub/pkg/errutil"
)

// Config holds the settings of a Service.
type Config struct {
	// ClientURL is the base URL of the web client that receives mailed links.
	ClientURL string

	// ResendCooldown throttles verification and reset mail.
	ResendCooldown time.Duration

	VerifyEmailTTL    time.Duration
	ForgotPasswordTTL time.Duration
	LoginTTL          time.Duration
}

// DefaultConfig returns the default token lifetimes and cooldown.
// ClientURL must still be set.
func DefaultConfig() Config {
	return Config{
		ResendCooldown:    DefaultResendCooldown,
		VerifyEmailTTL:    24 * time.Hour,
		ForgotPasswordTTL: 24 * time.Hour,
		LoginTTL:          7 * 24 * time.Hour,
	}
}

// Service orchestrates the credential and token flows.
type Service struct {
	cfg      Config
	store    CredentialStore
	codec    *TokenCodec
	hasher   PasswordHasher
	notifier Notifier
	throttle *ThrottlePolicy
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock sets the clock used by the resend throttle and creation times.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(s *Service) {
		s.observer = o
	}
}

// NewService creates a Service. All collaborators are required.
func NewService(
	cfg Config,
	store CredentialStore,
	codec *TokenCodec,
	hasher PasswordHasher,
	notifier Notifier,
	opts ...Option,
) (*Service, error) {
	if store == nil {
		return nil, oops.Errorf("credential store is required")
	}
	if codec == nil {
		return nil, oops.Errorf("token codec is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if notifier == nil {
		return nil, oops.Errorf("notifier is required")
	}
	if cfg.ClientURL == "" {
		return nil, oops.Errorf("client URL is required")
	}
	if cfg.VerifyEmailTTL <= 0 || cfg.ForgotPasswordTTL <= 0 || cfg.LoginTTL <= 0 {
		return nil, oops.Errorf("token lifetimes must be positive")
	}

	s := &Service{
		cfg:      cfg,
		store:    store,
		codec:    codec,
		hasher:   hasher,
		notifier: notifier,
		logger:   slog.Default(),
		observer: noopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.throttle = NewThrottlePolicy(codec, s.now)

	return s, nil
}

// Signup registers an unverified user, mails a confirmation link and tells
// admins about the new account. Returns the new user ID.
func (s *Service) Signup(ctx context.Context, in SignupInput) (ulid.ULID, error) {
	in.Email = NormalizeEmail(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Phone = strings.TrimSpace(in.Phone)
	if err := in.Validate(); err != nil {
		return ulid.ULID{}, err
	}

	_, _, err := s.store.FindByEmail(ctx, in.Email)
	switch {
	case err == nil:
		return ulid.ULID{}, errDuplicateEmail(in.Email, nil)
	case !errors.Is(err, ErrNotFound):
		return ulid.ULID{}, storageError("FindByEmail", err)
	}

	alg, hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return ulid.ULID{}, oops.Code("AUTH_SIGNUP_FAILED").With("operation", "Hash").Wrap(err)
	}

	user := &User{
		ID:           ulid.Make(),
		Email:        in.Email,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Phone:        in.Phone,
		Role:         in.Role,
		PasswordAlg:  alg,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return ulid.ULID{}, errDuplicateEmail(in.Email, err)
		}
		return ulid.ULID{}, storageError("CreateUser", err)
	}

	s.logger.InfoContext(ctx, "user signed up",
		"user_id", user.ID.String(),
		"role", string(user.Role),
	)

	// The user row is committed. A failure from here on leaves an unverified
	// account that can ask for a new confirmation mail.
	if err := s.sendVerification(ctx, user); err != nil {
		return ulid.ULID{}, err
	}

	s.notifyAdmins(ctx, user)

	return user.ID, nil
}

// Login checks credentials of a verified user and returns a session token.
// The token stays usable until it expires or its row is revoked.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	email = NormalizeEmail(email)
	if err := validateCredentials(email, password); err != nil {
		return "", err
	}

	user, rec, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return "", lookupError("FindByEmail", err)
	}
	if !rec.IsVerified {
		return "", errEmailNotVerified(email)
	}

	ok, err := s.hasher.Verify(user.PasswordAlg, user.PasswordHash, password)
	if err != nil {
		errutil.LogError(s.logger, "password verification failed", err)
		return "", errInvalidCredentials()
	}
	if !ok {
		return "", errInvalidCredentials()
	}

	s.upgradeHash(ctx, user, password)

	token, err := s.codec.Issue(user.ID.String(), ClaimLogin, user.Role, s.cfg.LoginTTL)
	if err != nil {
		return "", err
	}
	if err := s.store.UpsertToken(ctx, user.ID, token, PurposeWeb); err != nil {
		return "", storageError("UpsertToken", err)
	}
	s.observer.TokenIssued(PurposeWeb)

	s.logger.InfoContext(ctx, "user logged in", "user_id", user.ID.String())
	return token, nil
}

// SendEmailVerification re-sends the confirmation mail of an unverified user.
func (s *Service) SendEmailVerification(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return err
	}

	user, rec, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return lookupError("FindByEmail", err)
	}
	if rec.IsVerified {
		return errAlreadyVerified(email)
	}

	if err := s.checkThrottle(ctx, user.ID, PurposeSendEmail); err != nil {
		return err
	}

	return s.sendVerification(ctx, user)
}

// VerifyEmail consumes a confirmation token and marks the email verified.
// Only the most recently mailed token is accepted.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	claims, err := s.codec.Parse(token, ClaimVerifyEmail)
	if err != nil {
		return err
	}

	email := NormalizeEmail(claims.Subject)
	user, rec, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return lookupError("FindByEmail", err)
	}
	if rec.IsVerified {
		return errAlreadyVerified(email)
	}

	if err := s.consumeToken(ctx, user.ID, PurposeSendEmail, token); err != nil {
		return err
	}
	if err := s.store.SetEmailVerified(ctx, email, true); err != nil {
		return lookupError("SetEmailVerified", err)
	}

	s.logger.InfoContext(ctx, "email verified", "user_id", user.ID.String())

	s.notify(ctx, KindEmailVerified, func() (Message, error) {
		html, err := renderMail("verified", mailData{User: user})
		return Message{To: []string{user.Email}, Subject: SubjectEmailVerified, HTML: html}, err
	})
	return nil
}

// ForgotPassword mails a password reset link to a verified user.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return err
	}

	user, rec, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return lookupError("FindByEmail", err)
	}
	if !rec.IsVerified {
		return errEmailNotVerified(email)
	}

	if err := s.checkThrottle(ctx, user.ID, PurposeForgotPassword); err != nil {
		return err
	}

	token, err := s.codec.Issue(user.ID.String(), ClaimForgotPassword, user.Role, s.cfg.ForgotPasswordTTL)
	if err != nil {
		return err
	}
	if err := s.store.UpsertToken(ctx, user.ID, token, PurposeForgotPassword); err != nil {
		return storageError("UpsertToken", err)
	}
	s.observer.TokenIssued(PurposeForgotPassword)

	s.logger.InfoContext(ctx, "password reset requested", "user_id", user.ID.String())

	link := clientLink(s.cfg.ClientURL, resetPasswordPath, token)
	s.notify(ctx, KindResetPassword, func() (Message, error) {
		html, err := renderMail("reset", mailData{Link: link, User: user})
		return Message{To: []string{user.Email}, Subject: SubjectResetPassword, HTML: html}, err
	})
	return nil
}

// ResetPassword consumes a reset token and sets a new password.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	claims, err := s.codec.Parse(token, ClaimForgotPassword)
	if err != nil {
		return err
	}
	userID, err := claims.UserID()
	if err != nil {
		return err
	}

	user, _, err := s.store.FindByID(ctx, userID)
	if err != nil {
		return lookupError("FindByID", err)
	}

	alg, hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("AUTH_RESET_FAILED").With("operation", "Hash").Wrap(err)
	}

	if err := s.consumeToken(ctx, user.ID, PurposeForgotPassword, token); err != nil {
		return err
	}
	if err := s.store.UpdatePassword(ctx, user.ID, alg, hash); err != nil {
		return lookupError("UpdatePassword", err)
	}

	s.logger.InfoContext(ctx, "password reset", "user_id", user.ID.String())
	return nil
}

// RevokeToken deletes the stored row holding token. Any valid token is
// accepted; revoking a token that is no longer stored is a no-op.
func (s *Service) RevokeToken(ctx context.Context, token string) error {
	claims, err := s.codec.Parse(token, ClaimAny)
	if err != nil {
		return err
	}

	var userID ulid.ULID
	if claims.Type == ClaimVerifyEmail {
		user, _, err := s.store.FindByEmail(ctx, NormalizeEmail(claims.Subject))
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return storageError("FindByEmail", err)
		}
		userID = user.ID
	} else {
		userID, err = claims.UserID()
		if err != nil {
			return err
		}
	}

	if err := s.store.DeleteTokens(ctx, userID, []string{token}); err != nil {
		return storageError("DeleteTokens", err)
	}

	s.logger.InfoContext(ctx, "token revoked",
		"user_id", userID.String(),
		"claim_type", string(claims.Type),
	)
	return nil
}

// Authenticate resolves a session token to its user. The token must still be
// the stored WEB token of that user.
func (s *Service) Authenticate(ctx context.Context, token string) (*User, error) {
	claims, err := s.codec.Parse(token, ClaimLogin)
	if err != nil {
		return nil, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, err
	}

	user, _, err := s.store.FindByID(ctx, userID)
	if err != nil {
		return nil, lookupError("FindByID", err)
	}

	if err := s.requireStoredToken(ctx, user.ID, PurposeWeb, token); err != nil {
		return nil, err
	}
	return user, nil
}

// sendVerification issues a VerifyEmail token, stores it and mails the link.
func (s *Service) sendVerification(ctx context.Context, user *User) error {
	token, err := s.codec.Issue(user.Email, ClaimVerifyEmail, "", s.cfg.VerifyEmailTTL)
	if err != nil {
		return err
	}
	if err := s.store.UpsertToken(ctx, user.ID, token, PurposeSendEmail); err != nil {
		return storageError("UpsertToken", err)
	}
	s.observer.TokenIssued(PurposeSendEmail)

	link := clientLink(s.cfg.ClientURL, confirmEmailPath, token)
	s.notify(ctx, KindVerifyEmail, func() (Message, error) {
		html, err := renderMail("confirm", mailData{Link: link, User: user})
		return Message{To: []string{user.Email}, Subject: SubjectEmailConfirmation, HTML: html}, err
	})
	return nil
}

func (s *Service) notifyAdmins(ctx context.Context, user *User) {
	admins, err := s.store.ListByRole(ctx, RoleAdmin)
	if err != nil {
		s.observer.NotificationFailed(KindNewSignup)
		errutil.WarnError(s.logger, "listing admins failed", storageError("ListByRole", err))
		return
	}

	to := make([]string, 0, len(admins))
	for _, admin := range admins {
		to = append(to, admin.Email)
	}
	if len(to) == 0 {
		return
	}

	s.notify(ctx, KindNewSignup, func() (Message, error) {
		html, err := renderMail("signup", mailData{User: user})
		return Message{To: to, Subject: SubjectNewSignup, HTML: html}, err
	})
}

// notify renders and sends a message. Failures are logged and counted only.
func (s *Service) notify(ctx context.Context, kind string, build func() (Message, error)) {
	msg, err := build()
	if err == nil {
		msg.Kind = kind
		err = s.notifier.Send(ctx, msg)
	}
	if err != nil {
		s.observer.NotificationFailed(kind)
		errutil.WarnError(s.logger, "notification failed", oops.With("kind", kind).Wrap(err))
	}
}

// checkThrottle applies the resend cooldown to the stored token of purpose.
func (s *Service) checkThrottle(ctx context.Context, userID ulid.ULID, purpose TokenPurpose) error {
	existing, err := s.store.FindToken(ctx, userID, purpose)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return storageError("FindToken", err)
	}
	return s.throttle.CheckCanIssue(existing, s.cfg.ResendCooldown)
}

// requireStoredToken checks that presented is the current token of purpose.
// A missing row means the token was consumed, superseded or revoked.
func (s *Service) requireStoredToken(ctx context.Context, userID ulid.ULID, purpose TokenPurpose, presented string) error {
	stored, err := s.store.FindToken(ctx, userID, purpose)
	if errors.Is(err, ErrNotFound) {
		return errTokenRevoked(purpose)
	}
	if err != nil {
		return storageError("FindToken", err)
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) != 1 {
		return errTokenRevoked(purpose)
	}
	return nil
}

// consumeToken deletes presented if it is the current token of purpose. A
// missing row means the token was consumed, superseded or revoked.
func (s *Service) consumeToken(ctx context.Context, userID ulid.ULID, purpose TokenPurpose, presented string) error {
	err := s.store.ConsumeToken(ctx, userID, purpose, presented)
	if errors.Is(err, ErrNotFound) {
		return errTokenRevoked(purpose)
	}
	if err != nil {
		return storageError("ConsumeToken", err)
	}
	return nil
}

// upgradeHash re-hashes a legacy password after a successful login.
func (s *Service) upgradeHash(ctx context.Context, user *User, password string) {
	upgrader, ok := s.hasher.(interface{ NeedsUpgrade(alg string) bool })
	if !ok || !upgrader.NeedsUpgrade(user.PasswordAlg) {
		return
	}

	alg, hash, err := s.hasher.Hash(password)
	if err != nil {
		errutil.WarnError(s.logger, "password rehash failed", err)
		return
	}
	if err := s.store.UpdatePassword(ctx, user.ID, alg, hash); err != nil {
		errutil.WarnError(s.logger, "password rehash failed", storageError("UpdatePassword", err))
		return
	}
	user.PasswordAlg, user.PasswordHash = alg, hash
	s.logger.InfoContext(ctx, "password hash upgraded", "user_id", user.ID.String(), "alg", alg)
}

func errDuplicateEmail(email string, cause error) error {
	builder := oops.Code(CodeDuplicateEmail).With("email", email)
	if cause != nil {
		return builder.Wrapf(cause, "email is already registered")
	}
	return builder.Errorf("email is already registered")
}

func errEmailNotVerified(email string) error {
	return oops.Code(CodeEmailNotVerified).With("email", email).Errorf("email is not verified")
}

func errAlreadyVerified(email string) error {
	return oops.Code(CodeAlreadyVerified).With("email", email).Errorf("email is already verified")
}

func errInvalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Errorf("invalid email or password")
}
