// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VendorHub Contributors

package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/vendorhub/vendorhub/internal/auth"
)

const maxBodyBytes = 1 << 20

type emailRequest struct {
	Email string `json:"email"`
}

type signinRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

type signupResponse struct {
	ID string `json:"id"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Phone     string    `json:"phone,omitempty"`
	UserType  auth.Role `json:"userType"`
	CreatedAt time.Time `json:"createdAt"`
}

type envelope struct {
	Data any `json:"data"`
}

var empty = struct{}{}

func (h *handler) signup(w http.ResponseWriter, r *http.Request) {
	var in auth.SignupInput
	if !h.decode(w, r, &in) {
		return
	}
	id, err := h.svc.Signup(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, signupResponse{ID: id.String()})
}

func (h *handler) signin(w http.ResponseWriter, r *http.Request) {
	var in signinRequest
	if !h.decode(w, r, &in) {
		return
	}
	token, err := h.svc.Login(r.Context(), in.Email, in.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, token)
}

func (h *handler) sendEmailVerification(w http.ResponseWriter, r *http.Request) {
	var in emailRequest
	if !h.decode(w, r, &in) {
		return
	}
	if err := h.svc.SendEmailVerification(r.Context(), in.Email); err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, empty)
}

func (h *handler) verifyEmail(w http.ResponseWriter, r *http.Request) {
	token, err := bearerToken(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.svc.VerifyEmail(r.Context(), token); err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, empty)
}

func (h *handler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var in emailRequest
	if !h.decode(w, r, &in) {
		return
	}
	if err := h.svc.ForgotPassword(r.Context(), in.Email); err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, empty)
}

func (h *handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	token, err := bearerToken(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var in passwordRequest
	if !h.decode(w, r, &in) {
		return
	}
	if err := h.svc.ResetPassword(r.Context(), token, in.Password); err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, empty)
}

func (h *handler) revokeToken(w http.ResponseWriter, r *http.Request) {
	token, err := bearerToken(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.svc.RevokeToken(r.Context(), token); err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, empty)
}

func (h *handler) currentUser(w http.ResponseWriter, r *http.Request) {
	token, err := bearerToken(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	user, err := h.svc.Authenticate(r.Context(), token)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, userResponse{
		ID:        user.ID.String(),
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Phone:     user.Phone,
		UserType:  user.Role,
		CreatedAt: user.CreatedAt.UTC(),
	})
}

// decode reads a JSON body into dst. On failure it writes a 400 and returns false.
func (h *handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		msg := "request body must be a JSON object"
		if errors.Is(err, io.EOF) {
			msg = "request body is empty"
		}
		writeError(w, http.StatusBadRequest, errorBody{Code: codeMalformedRequest, Message: msg})
		return false
	}
	return true
}

// bearerToken extracts the token of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", oops.Code(auth.CodeTokenInvalid).Errorf("missing bearer token")
	}
	return token, nil
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Data: data})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
