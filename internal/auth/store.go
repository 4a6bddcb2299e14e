// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VendorHub Contributors

package auth

import (
	"context"

	"github.com/oklog/ulid/v2"
)

// CredentialStore persists users, email verification state and token rows.
// Implementations must make UpsertToken atomic so that at most one row
// exists per (user, purpose).
type CredentialStore interface {
	// CreateUser inserts a user with an unverified primary email.
	// Returns ErrDuplicateEmail if the email is already registered.
	CreateUser(ctx context.Context, user *User) error

	// FindByEmail returns the user owning email. Returns ErrNotFound if none.
	FindByEmail(ctx context.Context, email string) (*User, *EmailRecord, error)

	// FindByID returns a user and its primary email. Returns ErrNotFound if none.
	FindByID(ctx context.Context, id ulid.ULID) (*User, *EmailRecord, error)

	// ListByRole returns every user with the given role.
	ListByRole(ctx context.Context, role Role) ([]*User, error)

	// FindToken returns the stored token for (userID, purpose).
	// Returns ErrNotFound if no row exists.
	FindToken(ctx context.Context, userID ulid.ULID, purpose TokenPurpose) (string, error)

	// UpsertToken stores token as the only token for (userID, purpose).
	UpsertToken(ctx context.Context, userID ulid.ULID, token string, purpose TokenPurpose) error

	// ConsumeToken deletes the (userID, purpose) row only if it holds token.
	// Returns ErrNotFound if no such row exists, so of two concurrent
	// callers presenting the same token exactly one succeeds.
	ConsumeToken(ctx context.Context, userID ulid.ULID, purpose TokenPurpose, token string) error

	// DeleteTokens removes rows of userID holding any of tokens.
	// Deleting nothing is not an error.
	DeleteTokens(ctx context.Context, userID ulid.ULID, tokens []string) error

	// UpdatePassword replaces the password hash. Returns ErrNotFound if the user is gone.
	UpdatePassword(ctx context.Context, userID ulid.ULID, alg, hash string) error

	// SetEmailVerified sets the verification flag. Returns ErrNotFound if the email is unknown.
	SetEmailVerified(ctx context.Context, email string, verified bool) error
}

// Observer receives events for metrics.
type Observer interface {
	TokenIssued(purpose TokenPurpose)
	NotificationFailed(kind string)
}

type noopObserver struct{}

func (noopObserver) TokenIssued(TokenPurpose)  {}
func (noopObserver) NotificationFailed(string) {}
