// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VendorHub Contributors

// Package errutil holds helpers for logging and inspecting oops errors.
package errutil

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs an error at error level with structured context if it's an oops error.
// For oops errors, it extracts and logs the message, code and context.
// For standard errors, it logs the error string.
func LogError(logger *slog.Logger, msg string, err error) {
	logAt(logger, slog.LevelError, msg, err)
}

// WarnError logs an error at warn level. Used for best-effort steps whose
// failure does not fail the surrounding operation.
func WarnError(logger *slog.Logger, msg string, err error) {
	logAt(logger, slog.LevelWarn, msg, err)
}

func logAt(logger *slog.Logger, level slog.Level, msg string, err error) {
	if oopsErr, ok := oops.AsOops(err); ok {
		attrs := []any{
			"error", oopsErr.Error(),
		}
		if code := oopsErr.Code(); code != nil {
			attrs = append(attrs, "code", code)
		}
		if ctx := oopsErr.Context(); len(ctx) > 0 {
			attrs = append(attrs, "context", ctx)
		}
		logger.Log(context.Background(), level, msg, attrs...)
	} else {
		logger.Log(context.Background(), level, msg, "error", err)
	}
}

// Code returns the oops code carried by err, or "" when err has none.
func Code(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string)
	return code
}

// Context returns the merged oops context of err, or nil.
func Context(err error) map[string]any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	return oopsErr.Context()
}
