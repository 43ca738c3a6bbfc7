// Package sender defines the delivery transport boundary.
//
// The engine resolves each target to a concrete recipient and then delivers
// the campaign payload to it. Both calls must honor the caller's context
// deadline: an unresponsive transport is a per-target failure, never a stall.
package sender

import (
	"context"
	"errors"

	"blastbot/internal/campaign"
)

// Recipient is a resolved delivery address.
type Recipient struct {
	ChatID   int64
	Username string
}

// Sender is implemented by delivery transports (see sender/telegram).
type Sender interface {
	// Resolve turns a raw target identifier into a Recipient. It returns
	// ErrTargetNotFound when the directory lookup finds nothing and
	// ErrResolution for malformed identifiers or lookup failures.
	Resolve(ctx context.Context, target string) (Recipient, error)
	// Deliver sends the payload to a resolved recipient.
	Deliver(ctx context.Context, to Recipient, p campaign.Payload) error
}

var (
	ErrTargetNotFound = errors.New("target not found")
	ErrResolution     = errors.New("target resolution failed")
	ErrDelivery       = errors.New("delivery failed")
)
