package transport

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/pagesync/protocol"
)

// Router fans messages out to every transport. One failure does not block
// the others; failures are logged and the first one is returned.
type Router struct {
	transports []Transport
	logger     *slog.Logger
}

// NewRouter creates a fan-out router.
func NewRouter(logger *slog.Logger, transports ...Transport) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{transports: transports, logger: logger}
}

func (r *Router) Send(ctx context.Context, msg protocol.Message) error {
	var firstErr error
	for _, t := range r.transports {
		if err := t.Send(ctx, msg); err != nil {
			r.logger.Warn("transport: send failed", "name", msg.Name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Close() error {
	var firstErr error
	for _, t := range r.transports {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
