// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VendorHub Contributors

package auth

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Role is the account type of a user.
type Role string

// Known roles.
const (
	RoleClient Role = "Client"
	RoleVendor Role = "Vendor"
	RoleAdmin  Role = "Admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleVendor, RoleAdmin:
		return true
	}
	return false
}

// ParseRole converts a stored or submitted role name to a Role.
// Unknown names produce a validation error.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", oops.Code(CodeValidationFailed).
			With("field", "userType").
			Errorf("unknown role %q", s)
	}
	return r, nil
}

// User is an account with a primary email.
type User struct {
	ID           ulid.ULID
	Email        string
	FirstName    string
	LastName     string
	Phone        string
	Role         Role
	PasswordAlg  string
	PasswordHash string
	CreatedAt    time.Time
}

// EmailRecord is the verification state of a user's email.
type EmailRecord struct {
	Email      string
	IsPrimary  bool
	IsVerified bool
}

// NormalizeEmail trims and lower-cases an address so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
