// Package transport delivers protocol messages between browsing contexts.
// Delivery is fire-and-forget: implementations return an error for logging
// but callers never retry through the capture path.
package transport

import (
	"context"

	"github.com/hazyhaar/pagesync/protocol"
)

// Transport sends protocol messages to the other side of a session.
type Transport interface {
	Send(ctx context.Context, msg protocol.Message) error
	Close() error
}

// Receiver handles inbound messages.
type Receiver func(msg protocol.Message)
