package channel

import (
	"sync"

	"github.com/hazyhaar/pagesync/dom"
	"github.com/hazyhaar/pagesync/envelope"
	"github.com/hazyhaar/pagesync/specificity"
)

// HoverGuest emulates :hover on the guest from the mouseenter and
// mouseleave envelopes of the mouse channel. The rule index is built on
// first use.
func HoverGuest(doc dom.Document, opts Options) Sink {
	log := opts.logger()
	engine := opts.Engine
	if engine == nil {
		engine = specificity.NewEngine(specificity.WithLogger(log))
	}
	index := sync.OnceValue(func() *specificity.Index {
		return specificity.BuildIndex(doc)
	})
	return func(env envelope.Envelope) {
		m, ok := env.Payload.(envelope.Mouse)
		if !ok || (m.Type != "mouseenter" && m.Type != "mouseleave") {
			return
		}
		el, ok := resolveElement(doc, env.Target, log)
		if !ok {
			return
		}
		key := string(env.Target)
		if m.Type == "mouseenter" {
			engine.ApplyHoverIn(el, key, index())
		} else {
			engine.ApplyHoverOut(el, key, index())
		}
	}
}
