package channel

import (
	"github.com/hazyhaar/pagesync/address"
	"github.com/hazyhaar/pagesync/dom"
	"github.com/hazyhaar/pagesync/envelope"
)

// FormEvents are the control events captured on the host.
var FormEvents = []string{"change", "input", "submit"}

// FormHost captures control changes and submissions.
type FormHost struct {
	emitter
	listeners
}

// NewFormHost attaches capturing form listeners to doc.
func NewFormHost(doc dom.Document, _ Options) *FormHost {
	h := &FormHost{}
	h.add(doc, FormEvents, func(ev *dom.Event) {
		el, ok := dom.IsElement(ev.Target)
		if !ok {
			return
		}
		f, ok := SerializeForm(ev.Type, el)
		if !ok {
			return
		}
		h.emit(envelope.New(address.Serialize(el), f))
	})
	return h
}

// Dispose detaches the listeners.
func (h *FormHost) Dispose() {
	h.dispose()
	h.clear()
}

// KindOf maps a control type to its envelope kind.
func KindOf(controlType string) envelope.ControlKind {
	switch controlType {
	case "checkbox", "radio":
		return envelope.KindCheckbox
	case "select-one":
		return envelope.KindSelectSingle
	case "select-multiple":
		return envelope.KindSelectMultiple
	}
	return envelope.KindText
}

// SerializeForm reads the state of el for an event of type typ. It reports
// false for elements that are neither controls nor submitted forms.
func SerializeForm(typ string, el dom.Element) (envelope.Form, bool) {
	if typ == "submit" {
		return envelope.Form{Type: typ, Kind: envelope.KindSubmit}, true
	}
	c, ok := el.(dom.Control)
	if !ok || c.ControlType() == "" {
		return envelope.Form{}, false
	}
	f := envelope.Form{Type: typ, Kind: KindOf(c.ControlType()), Checked: c.Checked()}
	if f.Kind == envelope.KindSelectMultiple {
		f.Values = c.SelectedValues()
	} else {
		f.Value = c.Value()
	}
	return f, true
}

// FormGuest applies control state and submissions.
func FormGuest(doc dom.Document, opts Options) Sink {
	log := opts.logger()
	return func(env envelope.Envelope) {
		f, ok := env.Payload.(envelope.Form)
		if !ok {
			return
		}
		el, ok := resolveElement(doc, env.Target, log)
		if !ok {
			return
		}
		if f.Kind == envelope.KindSubmit {
			if form, ok := el.(dom.Form); ok {
				form.Submit()
			}
			return
		}
		c, ok := el.(dom.Control)
		if !ok {
			return
		}
		switch f.Kind {
		case envelope.KindSelectMultiple:
			c.SetSelectedValues(f.Values)
		case envelope.KindCheckbox:
			c.SetValue(f.Value)
			c.SetChecked(f.Checked)
		default:
			c.SetValue(f.Value)
		}
	}
}
