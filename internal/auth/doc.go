// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VendorHub Contributors

// Package auth manages credentials and purpose-scoped verification tokens.
//
// # Tokens
//
// Tokens are HS256 JWTs minted by TokenCodec. Every token embeds a ClaimType
// (Login, VerifyEmail, ForgotPassword, Refresh) so a token minted for one flow
// cannot be replayed into another. Issued tokens are also persisted through
// the CredentialStore under a TokenPurpose, at most one row per
// (user, purpose); issuing a new token replaces the previous row and so
// invalidates the old token even while its signature is still valid.
//
// # Services
//
// Service orchestrates signup, login, email verification, password reset,
// revocation and bearer authentication. It is created with NewService, which
// validates its collaborators:
//   - CredentialStore - users, email verification flags and token rows
//   - PasswordHasher - hash/verify pair (Hasher in production)
//   - Notifier - outbound mail; failures are logged and never fail a flow
//
// ThrottlePolicy limits how often verification and reset mail can be re-sent.
package auth
