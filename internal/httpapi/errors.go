// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VendorHub Contributors

package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/vendorhub/vendorhub/internal/auth"
	"github.com/vendorhub/vendorhub/pkg/errutil"
)

const (
	codeMalformedRequest = "REQUEST_MALFORMED"
	codeInternal         = "INTERNAL"
)

type errorBody struct {
	Code        string            `json:"code"`
	Message     string            `json:"message"`
	Fields      map[string]string `json:"fields,omitempty"`
	MinutesLeft *int64            `json:"minutesLeft,omitempty"`
	SecondsLeft *int64            `json:"secondsLeft,omitempty"`
}

var codeStatus = map[string]int{
	auth.CodeValidationFailed:     http.StatusBadRequest,
	auth.CodeDuplicateEmail:       http.StatusConflict,
	auth.CodeAlreadyVerified:      http.StatusConflict,
	auth.CodeUserNotFound:         http.StatusNotFound,
	auth.CodeEmailNotVerified:     http.StatusForbidden,
	auth.CodeInvalidCredentials:   http.StatusUnauthorized,
	auth.CodeTokenInvalid:         http.StatusUnauthorized,
	auth.CodeTokenExpired:         http.StatusUnauthorized,
	auth.CodeTokenPurposeMismatch: http.StatusUnauthorized,
	auth.CodeTokenRevoked:         http.StatusUnauthorized,
	auth.CodeRateLimited:          http.StatusTooManyRequests,
	auth.CodeStorageUnavailable:   http.StatusServiceUnavailable,
}

// fail maps a service error to its status and JSON error body. Server-side
// failures are logged and their details withheld from the client.
func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := errutil.Code(err)
	status, known := codeStatus[code]
	if !known {
		status = http.StatusInternalServerError
	}

	body := errorBody{Code: code, Message: err.Error()}

	switch {
	case status == http.StatusInternalServerError:
		errutil.LogError(h.logger, "request failed", err)
		if code == "" {
			body.Code = codeInternal
		}
		body.Message = "internal server error"
	case status == http.StatusServiceUnavailable:
		errutil.WarnError(h.logger, "request failed on unavailable storage", err)
		body.Message = "service temporarily unavailable"
	case code == auth.CodeValidationFailed:
		body.Fields = auth.FieldErrors(err)
	}

	var rateErr *auth.RateLimitError
	if errors.As(err, &rateErr) {
		minutes, seconds := rateErr.Minutes(), rateErr.Seconds()
		body.MinutesLeft = &minutes
		body.SecondsLeft = &seconds
		w.Header().Set("Retry-After", strconv.FormatInt(retryAfterSeconds(rateErr), 10))
	}

	h.logger.DebugContext(r.Context(), "request rejected", "code", body.Code, "status", status)
	writeError(w, status, body)
}

// retryAfterSeconds never returns less than one second.
func retryAfterSeconds(e *auth.RateLimitError) int64 {
	secs := e.Minutes()*60 + e.Seconds()
	if secs < 1 {
		return 1
	}
	return secs
}

func writeError(w http.ResponseWriter, status int, body errorBody) {
	writeJSON(w, status, map[string]errorBody{"error": body})
}
