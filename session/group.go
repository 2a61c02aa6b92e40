package session

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/hazyhaar/pagesync/envelope"
	"github.com/hazyhaar/pagesync/protocol"
)

// ErrNotMember is returned when promoting a controller outside the group.
var ErrNotMember = errors.New("session: controller is not a group member")

// Group ties the controllers of one session together: one member is the
// host, the others are guests receiving its envelopes.
type Group struct {
	logger *slog.Logger

	mu      sync.Mutex
	members []*Controller
	host    *Controller
	unsub   func()
}

// NewGroup creates an empty group.
func NewGroup(logger *slog.Logger) *Group {
	if logger == nil {
		logger = slog.Default()
	}
	return &Group{logger: logger}
}

// Add registers c as a guest.
func (g *Group) Add(c *Controller) {
	g.mu.Lock()
	for _, m := range g.members {
		if m == c {
			g.mu.Unlock()
			return
		}
	}
	g.members = append(g.members, c)
	hasHost := g.host != nil
	g.mu.Unlock()
	if hasHost {
		c.Send(protocol.NameGuest, nil)
	}
}

// Remove drops c from the group. Removing the host leaves the group
// without one.
func (g *Group) Remove(c *Controller) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, m := range g.members {
		if m == c {
			g.members = append(g.members[:i:i], g.members[i+1:]...)
			break
		}
	}
	if g.host == c {
		g.dropHostLocked()
	}
}

// Promote makes c the host and every other member a guest.
func (g *Group) Promote(c *Controller) error {
	g.mu.Lock()
	found := false
	for _, m := range g.members {
		if m == c {
			found = true
			break
		}
	}
	if !found {
		g.mu.Unlock()
		return ErrNotMember
	}
	g.dropHostLocked()
	g.host = c
	g.unsub = c.Subscribe(func(e envelope.Envelope) { g.forward(c, e) })
	others := g.othersLocked(c)
	g.mu.Unlock()

	for _, m := range others {
		m.Send(protocol.NameGuest, nil)
	}
	c.Send(protocol.NameHost, nil)
	g.logger.Debug("session: host promoted", "members", len(others)+1)
	return nil
}

// Host returns the current host, nil when none.
func (g *Group) Host() *Controller {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.host
}

// Members returns a copy of the member list.
func (g *Group) Members() []*Controller {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Controller(nil), g.members...)
}

// Dispose disposes every member.
func (g *Group) Dispose() {
	g.mu.Lock()
	g.dropHostLocked()
	members := g.members
	g.members = nil
	g.mu.Unlock()
	for _, m := range members {
		m.Dispose()
	}
}

func (g *Group) forward(from *Controller, e envelope.Envelope) {
	g.mu.Lock()
	if g.host != from {
		g.mu.Unlock()
		return
	}
	others := g.othersLocked(from)
	g.mu.Unlock()
	for _, m := range others {
		m.Send(protocol.NameEvent, e)
	}
}

func (g *Group) othersLocked(c *Controller) []*Controller {
	out := make([]*Controller, 0, len(g.members))
	for _, m := range g.members {
		if m != c {
			out = append(out, m)
		}
	}
	return out
}

func (g *Group) dropHostLocked() {
	if g.unsub != nil {
		g.unsub()
		g.unsub = nil
	}
	g.host = nil
}
