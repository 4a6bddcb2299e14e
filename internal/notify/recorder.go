// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VendorHub Contributors

package notify

import (
	"context"
	"slices"
	"sync"

	"github.com/vendorhub/vendorhub/internal/auth"
)

// Recorder stores sent messages in memory. A non-nil Err makes every Send fail
// after recording.
type Recorder struct {
	mu       sync.Mutex
	messages []auth.Message
	Err      error
}

var _ auth.Notifier = (*Recorder)(nil)

// Send records msg.
func (r *Recorder) Send(_ context.Context, msg auth.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return r.Err
}

// Messages returns a copy of the recorded messages.
func (r *Recorder) Messages() []auth.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.messages)
}

// Last returns the most recent message sent to recipient with subject.
func (r *Recorder) Last(recipient, subject string) (auth.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.messages) - 1; i >= 0; i-- {
		msg := r.messages[i]
		if msg.Subject == subject && slices.Contains(msg.To, recipient) {
			return msg, true
		}
	}
	return auth.Message{}, false
}
