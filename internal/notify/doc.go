// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VendorHub Contributors

// Package notify implements auth.Notifier.
//
// Mailgun delivers mail over the Mailgun HTTP API, Log writes messages to a
// logger for local development, and Recorder keeps them in memory for tests.
// Async wraps any of them so that delivery never blocks the caller.
package notify
