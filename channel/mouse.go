package channel

import (
	"math"

	"github.com/hazyhaar/pagesync/address"
	"github.com/hazyhaar/pagesync/dom"
	"github.com/hazyhaar/pagesync/envelope"
)

// MouseEvents are the pointer events captured on the host.
var MouseEvents = []string{"click", "mouseup", "mousedown", "mousemove", "mouseenter", "mouseleave"}

// MouseHost captures pointer events.
type MouseHost struct {
	emitter
	listeners
}

// NewMouseHost attaches capturing pointer listeners to doc.
func NewMouseHost(doc dom.Document, _ Options) *MouseHost {
	h := &MouseHost{}
	h.add(doc, MouseEvents, func(ev *dom.Event) {
		if ev.Target == nil || isImplicitInputClick(ev) || ev.Target.NodeName() == "OPTION" {
			return
		}
		h.emit(envelope.New(address.Serialize(ev.Target), SerializeMouse(ev)))
	})
	return h
}

// Dispose detaches the listeners.
func (h *MouseHost) Dispose() {
	h.dispose()
	h.clear()
}

// isImplicitInputClick detects the click a <label> forwards to its input:
// its local coordinates fall outside the input box.
func isImplicitInputClick(ev *dom.Event) bool {
	if ev.Type != "click" || ev.Target.NodeName() != "INPUT" {
		return false
	}
	el, ok := dom.IsElement(ev.Target)
	if !ok {
		return false
	}
	g := el.Geometry()
	return ev.OffsetX < 0 || ev.OffsetX > g.OffsetWidth || ev.OffsetY < 0 || ev.OffsetY > g.OffsetHeight
}

// SerializeMouse normalizes ev: screen and client coordinates against the
// viewport, offsets against the target box.
func SerializeMouse(ev *dom.Event) envelope.Mouse {
	vw, vh := mouseViewport(ev.Target)
	ew, eh := mouseBox(ev.Target)
	return envelope.Mouse{
		Type:       ev.Type,
		CtrlKey:    ev.CtrlKey,
		ShiftKey:   ev.ShiftKey,
		AltKey:     ev.AltKey,
		MetaKey:    ev.MetaKey,
		Button:     ev.Button,
		Buttons:    ev.Buttons,
		Bubbles:    ev.Bubbles,
		Cancelable: ev.Cancelable,
		ScreenX:    ratio(ev.ScreenX, vw),
		ScreenY:    ratio(ev.ScreenY, vh),
		ClientX:    ratio(ev.ClientX, vw),
		ClientY:    ratio(ev.ClientY, vh),
		OffsetX:    ratio(ev.OffsetX, ew),
		OffsetY:    ratio(ev.OffsetY, eh),
	}
}

// DeserializeMouse builds the synthetic event for target from m.
func DeserializeMouse(target dom.Node, m envelope.Mouse) *dom.Event {
	vw, vh := mouseViewport(target)
	ew, eh := mouseBox(target)
	return &dom.Event{
		Type:       m.Type,
		Target:     target,
		CtrlKey:    m.CtrlKey,
		ShiftKey:   m.ShiftKey,
		AltKey:     m.AltKey,
		MetaKey:    m.MetaKey,
		Button:     m.Button,
		Buttons:    m.Buttons,
		Bubbles:    m.Bubbles,
		Cancelable: m.Cancelable,
		ScreenX:    math.Trunc(m.ScreenX * vw),
		ScreenY:    math.Trunc(m.ScreenY * vh),
		ClientX:    math.Trunc(m.ClientX * vw),
		ClientY:    math.Trunc(m.ClientY * vh),
		OffsetX:    math.Trunc(m.OffsetX * ew),
		OffsetY:    math.Trunc(m.OffsetY * eh),
	}
}

// MouseGuest dispatches synthetic pointer events. With SameParent, clicks
// and mousedowns on <select> are suppressed so the native popup does not
// open twice.
func MouseGuest(doc dom.Document, opts Options) Sink {
	log := opts.logger()
	return func(env envelope.Envelope) {
		m, ok := env.Payload.(envelope.Mouse)
		if !ok || m.Type == "" {
			return
		}
		el, ok := resolveElement(doc, env.Target, log)
		if !ok {
			return
		}
		if opts.SameParent && (m.Type == "click" || m.Type == "mousedown") && el.NodeName() == "SELECT" {
			return
		}
		el.DispatchEvent(DeserializeMouse(el, m))
	}
}

func mouseViewport(n dom.Node) (float64, float64) {
	doc := dom.DocumentOf(n)
	if doc == nil {
		return 0, 0
	}
	w := doc.DefaultView()
	if w == nil {
		return 0, 0
	}
	return w.InnerWidth(), w.InnerHeight()
}

func mouseBox(n dom.Node) (float64, float64) {
	el, ok := dom.IsElement(n)
	if !ok {
		if doc := dom.DocumentOf(n); doc != nil {
			el = doc.DocumentElement()
		}
	}
	if el == nil {
		return 0, 0
	}
	g := el.Geometry()
	return g.OffsetWidth, g.OffsetHeight
}

func ratio(v, total float64) float64 {
	if total == 0 {
		return 0
	}
	return v / total
}
