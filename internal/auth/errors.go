// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VendorHub Contributors

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/oops"

	"github.com/vendorhub/vendorhub/pkg/errutil"
)

// Sentinel errors returned by CredentialStore implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateEmail is returned when an email is already registered.
	ErrDuplicateEmail = errors.New("email already registered")
)

// Error codes attached to errors returned by Service and TokenCodec.
const (
	CodeValidationFailed   = "AUTH_VALIDATION_FAILED"
	CodeDuplicateEmail     = "AUTH_DUPLICATE_EMAIL"
	CodeUserNotFound       = "AUTH_USER_NOT_FOUND"
	CodeAlreadyVerified    = "AUTH_ALREADY_VERIFIED"
	CodeEmailNotVerified   = "AUTH_EMAIL_NOT_VERIFIED"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeRateLimited        = "AUTH_RATE_LIMITED"
	CodeStorageFailed      = "AUTH_STORAGE_FAILED"
	CodeStorageUnavailable = "AUTH_STORAGE_UNAVAILABLE"

	CodeTokenInvalid         = "TOKEN_INVALID"
	CodeTokenExpired         = "TOKEN_EXPIRED"
	CodeTokenPurposeMismatch = "TOKEN_PURPOSE_MISMATCH"
	CodeTokenRevoked         = "TOKEN_REVOKED"
	CodeTokenSigningFailed   = "TOKEN_SIGNING_FAILED"
)

// RateLimitError reports how long a caller must wait before a token of the
// same purpose can be issued again.
type RateLimitError struct {
	Remaining time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("available again in %d minutes %d seconds", e.Minutes(), e.Seconds())
}

// Minutes returns the whole minutes left.
func (e *RateLimitError) Minutes() int64 {
	return int64(e.Remaining/time.Second) / 60
}

// Seconds returns the seconds left after whole minutes.
func (e *RateLimitError) Seconds() int64 {
	return int64(e.Remaining/time.Second) % 60
}

// IsRetryable reports whether err is a transient storage failure, such as a
// cancelled or timed out store call, that the caller may retry.
func IsRetryable(err error) bool {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return false
	}
	return oopsErr.Code() == CodeStorageUnavailable
}

// storageError wraps a collaborator failure. Context cancellation and
// deadlines are reported as retryable. Errors already carrying a code, such
// as an unknown stored role, keep it.
func storageError(operation string, err error) error {
	if errutil.Code(err) != "" {
		return oops.With("operation", operation).Wrap(err)
	}
	code := CodeStorageFailed
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		code = CodeStorageUnavailable
	}
	return oops.Code(code).With("operation", operation).Wrap(err)
}

// lookupError maps a store lookup failure, turning ErrNotFound into a
// user-not-found error.
func lookupError(operation string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return oops.Code(CodeUserNotFound).With("operation", operation).Wrapf(err, "user")
	}
	return storageError(operation, err)
}

func errTokenRevoked(purpose TokenPurpose) error {
	return oops.Code(CodeTokenRevoked).
		With("purpose", string(purpose)).
		Errorf("token is expired or has been revoked")
}
