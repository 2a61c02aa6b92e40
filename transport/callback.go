package transport

import (
	"context"

	"github.com/hazyhaar/pagesync/protocol"
)

// SendFunc is called for each message (in-process, no serialization).
type SendFunc func(ctx context.Context, msg protocol.Message) error

// Callback delivers messages through a Go function call. It is the path
// used when both controllers live in the same process.
type Callback struct {
	fn SendFunc
}

// NewCallback creates a Callback transport. fn may be nil.
func NewCallback(fn SendFunc) *Callback {
	return &Callback{fn: fn}
}

// Deliver adapts a Receiver to a Callback.
func Deliver(r Receiver) *Callback {
	return NewCallback(func(_ context.Context, msg protocol.Message) error {
		r(msg)
		return nil
	})
}

func (c *Callback) Send(ctx context.Context, msg protocol.Message) error {
	if c.fn != nil {
		return c.fn(ctx, msg)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
