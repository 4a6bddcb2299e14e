// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VendorHub Contributors

//go:build integration

package auth_test

import (
	"context"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/vendorhub/vendorhub/internal/auth"
	"github.com/vendorhub/vendorhub/internal/auth/postgres"
	"github.com/vendorhub/vendorhub/internal/notify"
	"github.com/vendorhub/vendorhub/pkg/errutil"
)

var tokenParam = regexp.MustCompile(`token=([A-Za-z0-9_.\-]+)`)

func expectCode(err error, code string) {
	GinkgoHelper()
	Expect(err).To(HaveOccurred())
	Expect(errutil.Code(err)).To(Equal(code))
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var _ = Describe("Credential flows against PostgreSQL", func() {
	const (
		email    = "vendor@example.com"
		password = "s3cret-pass"
	)

	var (
		ctx     context.Context
		svc     *auth.Service
		repo    *postgres.CredentialStore
		mail    *notify.Recorder
		now     *clock
		mailed  func(subject string) string
		signup  func() ulid.ULID
		storeOf func(userID ulid.ULID, purpose auth.TokenPurpose) (string, error)
	)

	BeforeEach(func() {
		ctx = context.Background()
		truncate(ctx)

		now = &clock{t: time.Now().UTC().Truncate(time.Second)}
		mail = &notify.Recorder{}
		repo = postgres.NewCredentialStore(pool)

		codec, err := auth.NewTokenCodec([]byte("integration-secret"), auth.WithCodecClock(now.Now))
		Expect(err).NotTo(HaveOccurred())

		cfg := auth.DefaultConfig()
		cfg.ClientURL = "https://app.example.com"
		svc, err = auth.NewService(cfg, repo, codec,
			auth.NewHasherWithParams(auth.Argon2Params{Time: 1, Memory: 1024, Threads: 1, SaltLen: 16, KeyLen: 32}),
			mail,
			auth.WithClock(now.Now),
			auth.WithLogger(slog.New(slog.DiscardHandler)),
		)
		Expect(err).NotTo(HaveOccurred())

		mailed = func(subject string) string {
			msg, ok := mail.Last(email, subject)
			Expect(ok).To(BeTrue(), "no %q mail", subject)
			m := tokenParam.FindStringSubmatch(msg.HTML)
			Expect(m).To(HaveLen(2))
			return m[1]
		}
		signup = func() ulid.ULID {
			id, err := svc.Signup(ctx, auth.SignupInput{
				FirstName: "Grace",
				LastName:  "Hopper",
				Email:     email,
				Password:  password,
				Role:      auth.RoleVendor,
				Phone:     "+14155552671",
			})
			Expect(err).NotTo(HaveOccurred())
			return id
		}
		storeOf = func(userID ulid.ULID, purpose auth.TokenPurpose) (string, error) {
			return repo.FindToken(ctx, userID, purpose)
		}
	})

	It("registers, verifies and signs in", func() {
		id := signup()

		user, rec, err := repo.FindByID(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(user.Email).To(Equal(email))
		Expect(user.Phone).To(Equal("+14155552671"))
		Expect(user.Role).To(Equal(auth.RoleVendor))
		Expect(rec.IsPrimary).To(BeTrue())
		Expect(rec.IsVerified).To(BeFalse())

		_, err = svc.Login(ctx, email, password)
		expectCode(err, auth.CodeEmailNotVerified)

		Expect(svc.VerifyEmail(ctx, mailed(auth.SubjectEmailConfirmation))).To(Succeed())
		_, err = storeOf(id, auth.PurposeSendEmail)
		Expect(err).To(MatchError(auth.ErrNotFound))

		token, err := svc.Login(ctx, "VENDOR@example.com", password)
		Expect(err).NotTo(HaveOccurred())

		stored, err := storeOf(id, auth.PurposeWeb)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored).To(Equal(token))

		current, err := svc.Authenticate(ctx, token)
		Expect(err).NotTo(HaveOccurred())
		Expect(current.ID).To(Equal(id))
	})

	It("rejects a second account for the same address in any case", func() {
		signup()

		_, err := svc.Signup(ctx, auth.SignupInput{
			FirstName: "Other", LastName: "Person", Email: "Vendor@Example.COM",
			Password: "another1", Role: auth.RoleClient,
		})
		expectCode(err, auth.CodeDuplicateEmail)
	})

	It("maps a raced unique violation to a duplicate email", func() {
		user := &auth.User{
			ID: ulid.Make(), Email: email, FirstName: "A", LastName: "B",
			Role: auth.RoleClient, PasswordAlg: "argon2id", PasswordHash: "x", CreatedAt: now.Now(),
		}
		Expect(repo.CreateUser(ctx, user)).To(Succeed())

		user.ID = ulid.Make()
		Expect(repo.CreateUser(ctx, user)).To(MatchError(auth.ErrDuplicateEmail))

		_, _, err := repo.FindByID(ctx, user.ID)
		Expect(err).To(MatchError(auth.ErrNotFound), "failed insert is rolled back")
	})

	It("keeps only the newest verification token", func() {
		id := signup()
		first := mailed(auth.SubjectEmailConfirmation)

		err := svc.SendEmailVerification(ctx, email)
		expectCode(err, auth.CodeRateLimited)

		now.Advance(auth.DefaultResendCooldown)
		Expect(svc.SendEmailVerification(ctx, email)).To(Succeed())
		second := mailed(auth.SubjectEmailConfirmation)
		Expect(second).NotTo(Equal(first))

		stored, err := storeOf(id, auth.PurposeSendEmail)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored).To(Equal(second))

		expectCode(svc.VerifyEmail(ctx, first), auth.CodeTokenRevoked)
		Expect(svc.VerifyEmail(ctx, second)).To(Succeed())
	})

	It("resets a password once", func() {
		signup()
		Expect(svc.VerifyEmail(ctx, mailed(auth.SubjectEmailConfirmation))).To(Succeed())

		Expect(svc.ForgotPassword(ctx, email)).To(Succeed())
		reset := mailed(auth.SubjectResetPassword)

		Expect(svc.ResetPassword(ctx, reset, "brand-new-pass")).To(Succeed())
		expectCode(svc.ResetPassword(ctx, reset, "again-pass"), auth.CodeTokenRevoked)

		_, err := svc.Login(ctx, email, password)
		expectCode(err, auth.CodeInvalidCredentials)
		_, err = svc.Login(ctx, email, "brand-new-pass")
		Expect(err).NotTo(HaveOccurred())
	})

	It("revokes a session", func() {
		id := signup()
		Expect(svc.VerifyEmail(ctx, mailed(auth.SubjectEmailConfirmation))).To(Succeed())
		token, err := svc.Login(ctx, email, password)
		Expect(err).NotTo(HaveOccurred())

		Expect(svc.RevokeToken(ctx, token)).To(Succeed())
		Expect(svc.RevokeToken(ctx, token)).To(Succeed(), "revoking twice is a no-op")

		_, err = storeOf(id, auth.PurposeWeb)
		Expect(err).To(MatchError(auth.ErrNotFound))

		_, err = svc.Authenticate(ctx, token)
		expectCode(err, auth.CodeTokenRevoked)
	})

	It("tells admins about new accounts", func() {
		admin := &auth.User{
			ID: ulid.Make(), Email: "admin@example.com", FirstName: "Ada", LastName: "Admin",
			Role: auth.RoleAdmin, PasswordAlg: "argon2id", PasswordHash: "x", CreatedAt: now.Now(),
		}
		Expect(repo.CreateUser(ctx, admin)).To(Succeed())

		signup()

		msg, ok := mail.Last("admin@example.com", auth.SubjectNewSignup)
		Expect(ok).To(BeTrue())
		Expect(msg.HTML).To(ContainSubstring(email))
	})
})
