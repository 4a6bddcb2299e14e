// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VendorHub Contributors

// Package memstore provides an in-memory auth.CredentialStore for tests and
// local development.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/vendorhub/vendorhub/internal/auth"
)

type tokenKey struct {
	userID  ulid.ULID
	purpose auth.TokenPurpose
}

// Store keeps users, emails and tokens in maps guarded by a mutex.
type Store struct {
	mu     sync.RWMutex
	users  map[ulid.ULID]auth.User
	emails map[string]auth.EmailRecord
	owners map[string]ulid.ULID
	tokens map[tokenKey]string
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		users:  make(map[ulid.ULID]auth.User),
		emails: make(map[string]auth.EmailRecord),
		owners: make(map[string]ulid.ULID),
		tokens: make(map[tokenKey]string),
	}
}

var _ auth.CredentialStore = (*Store)(nil)

// CreateUser inserts a user with an unverified primary email.
func (s *Store) CreateUser(ctx context.Context, user *auth.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.emails[user.Email]; exists {
		return auth.ErrDuplicateEmail
	}
	s.users[user.ID] = *user
	s.emails[user.Email] = auth.EmailRecord{Email: user.Email, IsPrimary: true}
	s.owners[user.Email] = user.ID
	return nil
}

// FindByEmail returns the user owning email.
func (s *Store) FindByEmail(ctx context.Context, email string) (*auth.User, *auth.EmailRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.owners[email]
	if !ok {
		return nil, nil, auth.ErrNotFound
	}
	user := s.users[id]
	rec := s.emails[email]
	return &user, &rec, nil
}

// FindByID returns a user and its primary email.
func (s *Store) FindByID(ctx context.Context, id ulid.ULID) (*auth.User, *auth.EmailRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, nil, auth.ErrNotFound
	}
	rec := s.emails[user.Email]
	return &user, &rec, nil
}

// ListByRole returns users with role ordered by creation time.
func (s *Store) ListByRole(ctx context.Context, role auth.Role) ([]*auth.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*auth.User
	for _, u := range s.users {
		if u.Role == role {
			user := u
			out = append(out, &user)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// FindToken returns the stored token for (userID, purpose).
func (s *Store) FindToken(ctx context.Context, userID ulid.ULID, purpose auth.TokenPurpose) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.tokens[tokenKey{userID, purpose}]
	if !ok {
		return "", auth.ErrNotFound
	}
	return token, nil
}

// UpsertToken replaces the token for (userID, purpose).
func (s *Store) UpsertToken(ctx context.Context, userID ulid.ULID, token string, purpose auth.TokenPurpose) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[tokenKey{userID, purpose}] = token
	return nil
}

// ConsumeToken deletes the (userID, purpose) row if it holds token.
func (s *Store) ConsumeToken(ctx context.Context, userID ulid.ULID, purpose auth.TokenPurpose, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tokenKey{userID, purpose}
	if stored, ok := s.tokens[key]; !ok || stored != token {
		return auth.ErrNotFound
	}
	delete(s.tokens, key)
	return nil
}

// DeleteTokens removes any rows of userID holding one of tokens.
func (s *Store) DeleteTokens(ctx context.Context, userID ulid.ULID, tokens []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, stored := range s.tokens {
		if key.userID != userID {
			continue
		}
		for _, t := range tokens {
			if stored == t {
				delete(s.tokens, key)
				break
			}
		}
	}
	return nil
}

// UpdatePassword replaces the password hash of userID.
func (s *Store) UpdatePassword(ctx context.Context, userID ulid.ULID, alg, hash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	user.PasswordAlg, user.PasswordHash = alg, hash
	s.users[userID] = user
	return nil
}

// SetEmailVerified sets the verification flag of email.
func (s *Store) SetEmailVerified(ctx context.Context, email string, verified bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.emails[email]
	if !ok {
		return auth.ErrNotFound
	}
	rec.IsVerified = verified
	s.emails[email] = rec
	return nil
}
