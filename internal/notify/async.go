// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VendorHub Contributors

package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/vendorhub/vendorhub/internal/auth"
	"github.com/vendorhub/vendorhub/pkg/errutil"
)

// DefaultSendTimeout bounds a single background delivery.
const DefaultSendTimeout = 30 * time.Second

// Async delivers messages on background goroutines. Send returns immediately;
// delivery errors are logged and reported to the observer.
type Async struct {
	next     auth.Notifier
	logger   *slog.Logger
	observer auth.Observer
	timeout  time.Duration

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

// AsyncOption configures an Async notifier.
type AsyncOption func(*Async)

// WithAsyncLogger sets the logger for delivery failures.
func WithAsyncLogger(logger *slog.Logger) AsyncOption {
	return func(a *Async) {
		a.logger = logger
	}
}

// WithAsyncObserver reports delivery failures to o.
func WithAsyncObserver(o auth.Observer) AsyncOption {
	return func(a *Async) {
		a.observer = o
	}
}

// WithSendTimeout bounds each delivery.
func WithSendTimeout(d time.Duration) AsyncOption {
	return func(a *Async) {
		a.timeout = d
	}
}

// NewAsync wraps next.
func NewAsync(next auth.Notifier, opts ...AsyncOption) *Async {
	a := &Async{
		next:    next,
		logger:  slog.Default(),
		timeout: DefaultSendTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Send schedules delivery of msg. The request context's values are kept but
// its cancellation is not, so a finished request does not abort delivery.
func (a *Async) Send(ctx context.Context, msg auth.Message) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return oops.Code("NOTIFY_CLOSED").Errorf("notifier is closed")
	}
	a.wg.Add(1)
	a.mu.Unlock()

	sendCtx := context.WithoutCancel(ctx)
	go func() {
		defer a.wg.Done()

		ctx, cancel := context.WithTimeout(sendCtx, a.timeout)
		defer cancel()

		if err := a.next.Send(ctx, msg); err != nil {
			if a.observer != nil {
				a.observer.NotificationFailed(msg.Kind)
			}
			errutil.WarnError(a.logger, "mail delivery failed", oops.
				With("kind", msg.Kind).
				With("subject", msg.Subject).
				With("recipients", len(msg.To)).
				Wrap(err))
		}
	}()
	return nil
}

// Close stops accepting messages and waits for in-flight deliveries or ctx.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return oops.Code("NOTIFY_CLOSE_TIMEOUT").Wrap(ctx.Err())
	}
}
