// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VendorHub Contributors

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// TokenCodec mints and verifies signed tokens with a single HMAC key.
type TokenCodec struct {
	secret []byte
	now    func() time.Time
	parser *jwt.Parser
}

// CodecOption configures a TokenCodec.
type CodecOption func(*TokenCodec)

// WithCodecClock sets the clock used for issued-at and expiry checks.
func WithCodecClock(now func() time.Time) CodecOption {
	return func(c *TokenCodec) {
		c.now = now
	}
}

// NewTokenCodec creates a codec signing with secret. The secret is copied.
func NewTokenCodec(secret []byte, opts ...CodecOption) (*TokenCodec, error) {
	if len(secret) == 0 {
		return nil, oops.Code("TOKEN_SECRET_REQUIRED").Errorf("signing secret is required")
	}

	c := &TokenCodec{
		secret: append([]byte(nil), secret...),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	return c, nil
}

// Issue signs a token for subject. Role may be empty.
func (c *TokenCodec) Issue(subject string, claimType ClaimType, role Role, validity time.Duration) (string, error) {
	if !claimType.Valid() {
		return "", oops.Code(CodeTokenSigningFailed).Errorf("unknown claim type %q", claimType)
	}
	if subject == "" {
		return "", oops.Code(CodeTokenSigningFailed).Errorf("token subject is required")
	}
	if validity <= 0 {
		return "", oops.Code(CodeTokenSigningFailed).
			With("validity", validity.String()).
			Errorf("token validity must be positive")
	}

	now := c.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ulid.Make().String(),
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		},
		Role: role,
		Type: claimType,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", oops.Code(CodeTokenSigningFailed).
			With("claim_type", string(claimType)).
			Wrap(err)
	}
	return signed, nil
}

// Parse verifies token and returns its claims. When expected is not ClaimAny
// the embedded claim type must match it.
func (c *TokenCodec) Parse(token string, expected ClaimType) (*Claims, error) {
	claims := &Claims{}
	_, err := c.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, oops.Code(CodeTokenExpired).Wrapf(err, "token has expired")
		}
		return nil, oops.Code(CodeTokenInvalid).Wrapf(err, "token is invalid")
	}

	if !claims.Type.Valid() {
		return nil, oops.Code(CodeTokenInvalid).
			With("claim_type", string(claims.Type)).
			Errorf("token has unknown claim type")
	}
	if claims.Role != "" && !claims.Role.Valid() {
		return nil, oops.Code(CodeTokenInvalid).
			With("role", string(claims.Role)).
			Errorf("token has unknown role")
	}
	if claims.Subject == "" || claims.IssuedAt == nil {
		return nil, oops.Code(CodeTokenInvalid).Errorf("token is missing subject or issue time")
	}

	if expected != ClaimAny && claims.Type != expected {
		return nil, oops.Code(CodeTokenPurposeMismatch).
			With("expected", string(expected)).
			With("actual", string(claims.Type)).
			Errorf("token was issued for a different purpose")
	}

	return claims, nil
}
