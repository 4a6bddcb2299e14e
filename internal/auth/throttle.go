// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VendorHub Contributors

package auth

import (
	"time"

	"github.com/samber/oops"
)

// DefaultResendCooldown is the minimum interval between two verification or
// reset mails for the same user.
const DefaultResendCooldown = 600 * time.Second

// ThrottlePolicy decides whether a token may be re-issued based on the issue
// time of the token currently stored for the same purpose.
type ThrottlePolicy struct {
	codec *TokenCodec
	now   func() time.Time
}

// NewThrottlePolicy creates a policy reading issue times through codec.
func NewThrottlePolicy(codec *TokenCodec, now func() time.Time) *ThrottlePolicy {
	if now == nil {
		now = time.Now
	}
	return &ThrottlePolicy{codec: codec, now: now}
}

// CheckCanIssue returns nil when a new token may be issued. existing is the
// stored token for the purpose, or "" when there is none. A stored token that
// no longer parses (expired, corrupt or signed with an old key) imposes no
// cooldown. Otherwise the error wraps a *RateLimitError with the time left.
func (p *ThrottlePolicy) CheckCanIssue(existing string, cooldown time.Duration) error {
	if existing == "" || cooldown <= 0 {
		return nil
	}

	claims, err := p.codec.Parse(existing, ClaimAny)
	if err != nil {
		return nil
	}

	// Whole seconds, matching the precision of the iat claim.
	elapsed := p.now().Sub(claims.IssuedAt.Time).Truncate(time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed >= cooldown {
		return nil
	}

	limited := &RateLimitError{Remaining: (cooldown - elapsed).Truncate(time.Second)}
	return oops.Code(CodeRateLimited).
		With("minutes_left", limited.Minutes()).
		With("seconds_left", limited.Seconds()).
		With("claim_type", string(claims.Type)).
		Wrap(limited)
}
