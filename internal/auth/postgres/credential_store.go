// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VendorHub Contributors

// Package postgres implements auth.CredentialStore on PostgreSQL.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/vendorhub/vendorhub/internal/auth"
)

// poolIface is the subset of *pgxpool.Pool used by CredentialStore.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// CredentialStore implements auth.CredentialStore using PostgreSQL.
// Each user has exactly one email row, which is its primary email.
type CredentialStore struct {
	pool poolIface
}

var _ auth.CredentialStore = (*CredentialStore)(nil)

// NewCredentialStore creates a new CredentialStore.
func NewCredentialStore(pool poolIface) *CredentialStore {
	return &CredentialStore{pool: pool}
}

const userColumns = `u.id, u.first_name, u.last_name, COALESCE(u.phone, ''), u.role,
	u.password_alg, u.password_hash, u.created_at, e.email, e.is_primary, e.is_verified`

// CreateUser inserts the user row and its unverified primary email in one transaction.
func (s *CredentialStore) CreateUser(ctx context.Context, user *auth.User) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return oops.With("operation", "begin insert user").Wrap(err)
	}

	if err := insertUser(ctx, tx, user); err != nil {
		_ = tx.Rollback(ctx) //nolint:errcheck // the insert error is what matters
		if isUniqueViolation(err) {
			return oops.With("operation", "insert user").Wrap(auth.ErrDuplicateEmail)
		}
		return oops.With("operation", "insert user").With("user_id", user.ID.String()).Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return oops.With("operation", "commit user").Wrap(auth.ErrDuplicateEmail)
		}
		return oops.With("operation", "commit user").With("user_id", user.ID.String()).Wrap(err)
	}
	return nil
}

func insertUser(ctx context.Context, tx pgx.Tx, user *auth.User) error {
	var phone *string
	if user.Phone != "" {
		phone = &user.Phone
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO users (id, first_name, last_name, phone, role, password_alg, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		user.ID.String(),
		user.FirstName,
		user.LastName,
		phone,
		string(user.Role),
		user.PasswordAlg,
		user.PasswordHash,
		user.CreatedAt,
	); err != nil {
		return err
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO user_emails (email, user_id, is_primary, is_verified)
		VALUES ($1, $2, TRUE, FALSE)
	`, user.Email, user.ID.String())
	return err
}

// FindByEmail returns the user owning email.
func (s *CredentialStore) FindByEmail(ctx context.Context, email string) (*auth.User, *auth.EmailRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM user_emails e
		JOIN users u ON u.id = e.user_id
		WHERE e.email = $1
	`, email)

	user, rec, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, oops.With("operation", "find user by email").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, nil, oops.With("operation", "find user by email").Wrap(err)
	}
	return user, rec, nil
}

// FindByID returns a user and its primary email.
func (s *CredentialStore) FindByID(ctx context.Context, id ulid.ULID) (*auth.User, *auth.EmailRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users u
		JOIN user_emails e ON e.user_id = u.id AND e.is_primary
		WHERE u.id = $1
	`, id.String())

	user, rec, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, oops.With("operation", "find user by id").With("user_id", id.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, nil, oops.With("operation", "find user by id").With("user_id", id.String()).Wrap(err)
	}
	return user, rec, nil
}

// ListByRole returns every user with role, oldest first.
func (s *CredentialStore) ListByRole(ctx context.Context, role auth.Role) ([]*auth.User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+userColumns+`
		FROM users u
		JOIN user_emails e ON e.user_id = u.id AND e.is_primary
		WHERE u.role = $1
		ORDER BY u.created_at, u.id
	`, string(role))
	if err != nil {
		return nil, oops.With("operation", "list users by role").With("role", string(role)).Wrap(err)
	}
	defer rows.Close()

	var users []*auth.User
	for rows.Next() {
		user, _, err := scanUser(rows)
		if err != nil {
			return nil, oops.With("operation", "scan user row").Wrap(err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate users").Wrap(err)
	}
	return users, nil
}

// FindToken returns the stored token for (userID, purpose).
func (s *CredentialStore) FindToken(ctx context.Context, userID ulid.ULID, purpose auth.TokenPurpose) (string, error) {
	var token string
	err := s.pool.QueryRow(ctx,
		`SELECT token FROM user_tokens WHERE user_id = $1 AND purpose = $2`,
		userID.String(), string(purpose),
	).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", oops.With("operation", "find token").With("purpose", string(purpose)).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return "", oops.With("operation", "find token").With("purpose", string(purpose)).Wrap(err)
	}
	return token, nil
}

// UpsertToken replaces the token for (userID, purpose) in a single statement.
func (s *CredentialStore) UpsertToken(ctx context.Context, userID ulid.ULID, token string, purpose auth.TokenPurpose) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_tokens (user_id, purpose, token, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, purpose) DO UPDATE
		SET token = EXCLUDED.token, created_at = EXCLUDED.created_at
	`, userID.String(), string(purpose), token)
	if err != nil {
		return oops.With("operation", "upsert token").With("purpose", string(purpose)).Wrap(err)
	}
	return nil
}

// ConsumeToken deletes the (userID, purpose) row if it holds token. The
// single DELETE makes concurrent consumers race on the row lock; only one
// sees a deleted row.
func (s *CredentialStore) ConsumeToken(ctx context.Context, userID ulid.ULID, purpose auth.TokenPurpose, token string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM user_tokens WHERE user_id = $1 AND purpose = $2 AND token = $3`,
		userID.String(), string(purpose), token,
	)
	if err != nil {
		return oops.With("operation", "consume token").With("purpose", string(purpose)).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.With("operation", "consume token").With("purpose", string(purpose)).Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteTokens removes rows of userID holding any of tokens.
func (s *CredentialStore) DeleteTokens(ctx context.Context, userID ulid.ULID, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM user_tokens WHERE user_id = $1 AND token = ANY($2)`,
		userID.String(), tokens,
	)
	if err != nil {
		return oops.With("operation", "delete tokens").With("user_id", userID.String()).Wrap(err)
	}
	return nil
}

// UpdatePassword replaces the password hash of userID.
func (s *CredentialStore) UpdatePassword(ctx context.Context, userID ulid.ULID, alg, hash string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET password_alg = $2, password_hash = $3 WHERE id = $1`,
		userID.String(), alg, hash,
	)
	if err != nil {
		return oops.With("operation", "update password").With("user_id", userID.String()).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.With("operation", "update password").With("user_id", userID.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// SetEmailVerified sets the verification flag of email.
func (s *CredentialStore) SetEmailVerified(ctx context.Context, email string, verified bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE user_emails SET is_verified = $2 WHERE email = $1`,
		email, verified,
	)
	if err != nil {
		return oops.With("operation", "set email verified").Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.With("operation", "set email verified").Wrap(auth.ErrNotFound)
	}
	return nil
}

func scanUser(row pgx.Row) (*auth.User, *auth.EmailRecord, error) {
	var (
		idStr, roleStr string
		user           auth.User
		rec            auth.EmailRecord
	)
	if err := row.Scan(
		&idStr,
		&user.FirstName,
		&user.LastName,
		&user.Phone,
		&roleStr,
		&user.PasswordAlg,
		&user.PasswordHash,
		&user.CreatedAt,
		&rec.Email,
		&rec.IsPrimary,
		&rec.IsVerified,
	); err != nil {
		return nil, nil, err
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, nil, oops.With("user_id", idStr).Wrapf(err, "parse user id")
	}
	role, err := auth.ParseRole(roleStr)
	if err != nil {
		return nil, nil, oops.With("user_id", idStr).Wrapf(err, "stored user")
	}

	user.ID = id
	user.Role = role
	user.Email = rec.Email
	return &user, &rec, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
