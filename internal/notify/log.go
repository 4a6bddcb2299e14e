// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VendorHub Contributors

package notify

import (
	"context"
	"log/slog"

	"github.com/vendorhub/vendorhub/internal/auth"
)

// Log writes messages to a logger instead of delivering them.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a Log notifier.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

// Send logs msg at info level, including the body.
func (l *Log) Send(ctx context.Context, msg auth.Message) error {
	l.logger.InfoContext(ctx, "mail not delivered, logging only",
		"kind", msg.Kind,
		"to", msg.To,
		"subject", msg.Subject,
		"html", msg.HTML,
	)
	return nil
}
