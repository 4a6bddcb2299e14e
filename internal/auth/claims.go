// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VendorHub Contributors

package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// ClaimType binds a token to the operation it was minted for.
type ClaimType string

// Claim types embedded in signed tokens.
const (
	// ClaimAny is passed to TokenCodec.Parse to accept any claim type.
	ClaimAny            ClaimType = ""
	ClaimLogin          ClaimType = "Login"
	ClaimVerifyEmail    ClaimType = "VerifyEmail"
	ClaimForgotPassword ClaimType = "ForgotPassword"
	ClaimRefresh        ClaimType = "Refresh"
)

// Valid reports whether c is one of the four concrete claim types.
func (c ClaimType) Valid() bool {
	switch c {
	case ClaimLogin, ClaimVerifyEmail, ClaimForgotPassword, ClaimRefresh:
		return true
	}
	return false
}

// Purpose returns the storage purpose under which tokens of this type are kept.
func (c ClaimType) Purpose() TokenPurpose {
	switch c {
	case ClaimLogin:
		return PurposeWeb
	case ClaimVerifyEmail:
		return PurposeSendEmail
	case ClaimForgotPassword:
		return PurposeForgotPassword
	default:
		return PurposeDefault
	}
}

// TokenPurpose is the storage tag of a persisted token row. The store keeps
// at most one row per (user, purpose).
type TokenPurpose string

// Storage purposes.
const (
	PurposeSendEmail      TokenPurpose = "SEND_EMAIL"
	PurposeForgotPassword TokenPurpose = "FORGOT_PASSWORD"
	PurposeWeb            TokenPurpose = "WEB"
	PurposeDefault        TokenPurpose = "DEFAULT"
)

// Claims is the payload of a signed token.
// The subject is the user's email for VerifyEmail tokens and the user ID otherwise.
type Claims struct {
	jwt.RegisteredClaims
	Role Role      `json:"user_type,omitempty"`
	Type ClaimType `json:"claim_type"`
}

// UserID parses the subject as a user ID.
func (c *Claims) UserID() (ulid.ULID, error) {
	id, err := ulid.Parse(c.Subject)
	if err != nil {
		return ulid.ULID{}, oops.Code(CodeTokenInvalid).
			With("claim_type", string(c.Type)).
			Wrapf(err, "token subject is not a user id")
	}
	return id, nil
}
