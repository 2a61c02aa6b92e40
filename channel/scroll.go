package channel

import (
	"math"

	"github.com/hazyhaar/pagesync/address"
	"github.com/hazyhaar/pagesync/dom"
	"github.com/hazyhaar/pagesync/envelope"
)

// ScrollHost captures scroll on any node of the document.
type ScrollHost struct {
	emitter
	listeners
}

// NewScrollHost attaches a capturing scroll listener to doc.
func NewScrollHost(doc dom.Document, _ Options) *ScrollHost {
	h := &ScrollHost{}
	h.add(doc, []string{dom.EventScroll}, func(ev *dom.Event) {
		var el dom.Element
		if ev.Target == nil || ev.Target.NodeType() == dom.DocumentNode {
			el = doc.ScrollingElement()
			if el == nil {
				el = doc.Body()
			}
		} else {
			el, _ = dom.IsElement(ev.Target)
		}
		if el == nil {
			return
		}
		h.emit(envelope.New(address.Serialize(el), ScrollMetrics(el)))
	})
	return h
}

// Dispose detaches the listener.
func (h *ScrollHost) Dispose() {
	h.dispose()
	h.clear()
}

// ScrollMetrics reads the absolute scroll state of el. The page scroller
// reports window viewport and offsets.
func ScrollMetrics(el dom.Element) envelope.Scroll {
	g := el.Geometry()
	vw, vh := viewportSize(el)
	left, top := g.ScrollLeft, g.ScrollTop
	if isPageScroller(el) {
		if w := dom.DocumentOf(el).DefaultView(); w != nil {
			left, top = w.PageOffset()
		}
	}
	return envelope.Scroll{
		Left:           left,
		Top:            top,
		Width:          g.ScrollWidth,
		Height:         g.ScrollHeight,
		ViewportWidth:  vw,
		ViewportHeight: vh,
	}
}

// Fraction is offset relative to the scrollable range, 0 without overflow.
func Fraction(offset, content, viewport float64) float64 {
	r := math.Max(content-viewport, 0)
	if r == 0 {
		return 0
	}
	return offset / r
}

// ScrollGuest reapplies the host scroll fraction against the local range.
func ScrollGuest(doc dom.Document, opts Options) Sink {
	log := opts.logger()
	return func(env envelope.Envelope) {
		s, ok := env.Payload.(envelope.Scroll)
		if !ok {
			return
		}
		el, ok := resolveElement(doc, env.Target, log)
		if !ok {
			return
		}
		fx := Fraction(s.Left, s.Width, s.ViewportWidth)
		fy := Fraction(s.Top, s.Height, s.ViewportHeight)

		g := el.Geometry()
		vw, vh := viewportSize(el)
		left := math.Trunc(fx * math.Max(g.ScrollWidth-vw, 0))
		top := math.Trunc(fy * math.Max(g.ScrollHeight-vh, 0))

		if isPageScroller(el) {
			if w := doc.DefaultView(); w != nil {
				w.ScrollTo(left, top)
				return
			}
		}
		el.SetScroll(left, top)
	}
}
