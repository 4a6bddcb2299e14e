// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VendorHub Contributors

package auth

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/nyaruka/phonenumbers"
	"github.com/samber/oops"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

const maxNameLength = 200

// SignupInput holds the fields submitted at registration.
type SignupInput struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Role      Role   `json:"userType"`
	Phone     string `json:"phone,omitempty"`
}

// Validate checks the shape of the input. Only Client and Vendor accounts
// can sign up.
func (in SignupInput) Validate() error {
	return validationFailed(validation.ValidateStruct(&in,
		validation.Field(&in.FirstName, validation.Required, validation.Length(1, maxNameLength)),
		validation.Field(&in.LastName, validation.Required, validation.Length(1, maxNameLength)),
		validation.Field(&in.Email, validation.Required, is.Email),
		validation.Field(&in.Password, validation.Required, validation.Length(MinPasswordLength, 0)),
		validation.Field(&in.Role, validation.Required, validation.In(RoleClient, RoleVendor).Error("role must be Client or Vendor")),
		validation.Field(&in.Phone, validation.By(validPhone)),
	))
}

func validateEmail(email string) error {
	return validationFailed(validation.Errors{
		"email": validation.Validate(email, validation.Required, is.Email),
	}.Filter())
}

func validatePassword(password string) error {
	return validationFailed(validation.Errors{
		"password": validation.Validate(password, validation.Required, validation.Length(MinPasswordLength, 0)),
	}.Filter())
}

func validateCredentials(email, password string) error {
	return validationFailed(validation.Errors{
		"email":    validation.Validate(email, validation.Required, is.Email),
		"password": validation.Validate(password, validation.Required),
	}.Filter())
}

// validPhone accepts an empty value or a number in international format.
func validPhone(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	num, err := phonenumbers.Parse(s, "")
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return errors.New("phone is invalid")
	}
	return nil
}

func validationFailed(err error) error {
	if err == nil {
		return nil
	}
	var fields validation.Errors
	if errors.As(err, &fields) {
		return oops.Code(CodeValidationFailed).
			With("fields", fieldMessages(fields)).
			Wrap(fields)
	}
	return oops.Code(CodeValidationFailed).Wrap(err)
}

// FieldErrors returns the per-field messages of a validation error, or nil.
func FieldErrors(err error) map[string]string {
	var fields validation.Errors
	if !errors.As(err, &fields) {
		return nil
	}
	return fieldMessages(fields)
}

func fieldMessages(fields validation.Errors) map[string]string {
	out := make(map[string]string, len(fields))
	for name, ferr := range fields {
		if ferr != nil {
			out[name] = ferr.Error()
		}
	}
	return out
}
