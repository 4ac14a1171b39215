// Package mailer delivers outbound email. Delivery is best effort and out
// of band: callers record the attempt in the audit log and never block
// control-plane state on provider success.
package mailer

import (
	"context"
	"errors"
)

// Message is one outbound email.
type Message struct {
	To       string
	Subject  string
	HTMLBody string
	Tag      string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// ErrDisabled is returned by Disabled for every send.
var ErrDisabled = errors.New("email delivery not configured")

// Disabled is the Sender wired when no provider token is configured.
type Disabled struct{}

func (Disabled) Send(context.Context, Message) error { return ErrDisabled }
