// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VendorHub Contributors

package auth

import (
	"bytes"
	"context"
	"html/template"
	"net/url"
	"strings"
)

// Message is an outbound mail. Kind names the notification for metrics and
// logs; it is not sent.
type Message struct {
	Kind    string
	To      []string
	Subject string
	HTML    string
}

// Notifier delivers messages. Service logs Send errors and never returns them.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// Notification kinds.
const (
	KindVerifyEmail   = "verify_email"
	KindEmailVerified = "email_verified"
	KindResetPassword = "reset_password"
	KindNewSignup     = "new_signup"
)

// Mail subjects.
const (
	SubjectEmailConfirmation = "Email Confirmation"
	SubjectResetPassword     = "Reset Password"
	SubjectEmailVerified     = "Email Verified"
	SubjectNewSignup         = "New Signup"
)

// Client paths embedded in mailed links.
const (
	confirmEmailPath  = "/auth/confirmation-email"
	resetPasswordPath = "/auth/reset-password"
)

var mailTemplates = template.Must(template.New("mail").Parse(`
{{define "confirm"}}<div>
	<div>
		<p>Hello,</p>
		<p>Thank you for signing up! Please click below to confirm your email.</p>
		<p>The team</p>
	</div>
	<div>
		<a style="text-decoration: none" href="{{.Link}}">Click here to confirm your email address</a>
	</div>
</div>{{end}}
{{define "reset"}}<div>
	<h1>Forgot Password</h1>
	<p>Someone asked to reset the password of your account. If it was not you, ignore this message.</p>
	<div>
		<a style="text-decoration: none" href="{{.Link}}">Reset</a>
	</div>
</div>{{end}}
{{define "verified"}}<div>
	<p>Hello {{.User.FirstName}},</p>
	<p>Your email address {{.User.Email}} has been confirmed.</p>
</div>{{end}}
{{define "signup"}}<div>
	<p>A new {{.User.Role}} account was created.</p>
	<p>{{.User.FirstName}} {{.User.LastName}} &lt;{{.User.Email}}&gt;</p>
</div>{{end}}
`))

type mailData struct {
	Link string
	User *User
}

func renderMail(name string, data mailData) (string, error) {
	var buf bytes.Buffer
	if err := mailTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// clientLink builds {base}{path}?token=...
func clientLink(base, path, token string) string {
	return strings.TrimRight(base, "/") + path + "?" + url.Values{"token": {token}}.Encode()
}
