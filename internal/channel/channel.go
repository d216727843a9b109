// Package channel implements the notification transports an alert can be
// delivered through. A send either succeeds, fails transiently (worth a
// retry), or fails permanently (the destination will never accept it).
package channel

import (
	"context"
	"errors"
	"fmt"

	"github.com/upmon/upmon/internal/domain/notification"
)

// TransientError marks a failure that may succeed on a later attempt:
// timeouts, connection errors, 5xx responses.
type TransientError struct {
	Reason string
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient: %s: %v", e.Reason, e.Err)
	}
	return "transient: " + e.Reason
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure no retry can fix: invalid destination,
// non-retryable 4xx.
type PermanentError struct {
	Reason string
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("permanent: %s: %v", e.Reason, e.Err)
	}
	return "permanent: " + e.Reason
}

func (e *PermanentError) Unwrap() error { return e.Err }

func Transient(reason string, err error) error { return &TransientError{Reason: reason, Err: err} }
func Permanent(reason string, err error) error { return &PermanentError{Reason: reason, Err: err} }

// IsPermanent reports whether err is a permanent delivery failure. Every
// other non-nil error, including context deadline expiry, counts as
// transient.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Channel delivers one alert through a concrete transport.
type Channel interface {
	Send(ctx context.Context, n *notification.Notification, snap notification.CheckSnapshot, a *notification.Alert) error
}

// Registry routes an alert to the channel registered for its notification
// type.
type Registry map[notification.Type]Channel

func (r Registry) Send(ctx context.Context, n *notification.Notification, snap notification.CheckSnapshot, a *notification.Alert) error {
	ch, ok := r[n.Type]
	if !ok {
		return Permanent(fmt.Sprintf("no channel for notification type %q", n.Type), nil)
	}
	return ch.Send(ctx, n, snap, a)
}
