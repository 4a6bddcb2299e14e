// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VendorHub Contributors

package notify

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/vendorhub/vendorhub/internal/auth"
)

// DefaultMailgunBaseURL is the Mailgun US API endpoint.
const DefaultMailgunBaseURL = "https://api.mailgun.net/v3"

// MailgunConfig configures a Mailgun notifier.
type MailgunConfig struct {
	Domain  string
	APIKey  string
	BaseURL string
	// Sender defaults to noreply@Domain.
	Sender string

	MaxRetries     uint64
	InitialBackoff time.Duration
	HTTPClient     *http.Client
}

// Mailgun sends mail through the Mailgun messages API. 5xx and 429 responses
// and transport errors are retried with exponential backoff.
type Mailgun struct {
	endpoint       string
	apiKey         string
	sender         string
	maxRetries     uint64
	initialBackoff time.Duration
	client         *http.Client
}

// NewMailgun validates cfg and creates a Mailgun notifier.
func NewMailgun(cfg MailgunConfig) (*Mailgun, error) {
	if cfg.Domain == "" {
		return nil, oops.Code("CONFIG_INVALID").Errorf("mailgun domain is required")
	}
	if cfg.APIKey == "" {
		return nil, oops.Code("CONFIG_INVALID").Errorf("mailgun API key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultMailgunBaseURL
	}
	sender := cfg.Sender
	if sender == "" {
		sender = "noreply@" + cfg.Domain
	}
	backoff := cfg.InitialBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &Mailgun{
		endpoint:       strings.TrimRight(baseURL, "/") + "/" + url.PathEscape(cfg.Domain) + "/messages",
		apiKey:         cfg.APIKey,
		sender:         sender,
		maxRetries:     cfg.MaxRetries,
		initialBackoff: backoff,
		client:         client,
	}, nil
}

var _ auth.Notifier = (*Mailgun)(nil)

// Send posts msg to Mailgun.
func (m *Mailgun) Send(ctx context.Context, msg auth.Message) error {
	if len(msg.To) == 0 {
		return oops.Code("MAILGUN_NO_RECIPIENTS").Errorf("message has no recipients")
	}

	form := url.Values{
		"from":    {m.sender},
		"to":      msg.To,
		"subject": {msg.Subject},
		"html":    {msg.HTML},
	}
	body := form.Encode()

	backoff := retry.WithMaxRetries(m.maxRetries, retry.NewExponential(m.initialBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		return m.post(ctx, body)
	})
	if err != nil {
		return oops.With("subject", msg.Subject).Wrap(err)
	}
	return nil
}

func (m *Mailgun) post(ctx context.Context, body string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, strings.NewReader(body))
	if err != nil {
		return oops.Code("MAILGUN_REQUEST_FAILED").Wrap(err)
	}
	req.SetBasicAuth("api", m.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return retry.RetryableError(oops.Code("MAILGUN_UNAVAILABLE").Wrap(err))
	}
	defer resp.Body.Close() //nolint:errcheck // response body close error is not actionable

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024)) //nolint:errcheck // detail is informational only

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return retry.RetryableError(oops.Code("MAILGUN_UNAVAILABLE").
			With("status", resp.StatusCode).
			Errorf("mailgun responded %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))))
	case resp.StatusCode >= 300:
		return oops.Code("MAILGUN_REJECTED").
			With("status", resp.StatusCode).
			Errorf("mailgun responded %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}
