// Package envelope defines the normalized, address-targeted description of
// one interaction exchanged between host and guest documents.
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/pagesync/address"
)

// Category names an interaction category.
type Category string

const (
	CategoryLocation Category = "location"
	CategoryScroll   Category = "scroll"
	CategoryMouse    Category = "mouse"
	CategoryForm     Category = "form"
)

// Payload is the closed set of category payloads.
type Payload interface {
	category() Category
}

// Envelope is an immutable interaction record.
type Envelope struct {
	Category Category
	Target   address.Address
	Payload  Payload
}

// Type returns the event type for mouse and form envelopes and the category
// for the others.
func (e Envelope) Type() string {
	switch p := e.Payload.(type) {
	case Mouse:
		return p.Type
	case Form:
		return p.Type
	}
	return string(e.Category)
}

// Location carries the host URL.
type Location struct {
	URL string
}

// Scroll carries absolute scroll metrics of the scrolled box.
type Scroll struct {
	Left           float64 `json:"left"`
	Top            float64 `json:"top"`
	Width          float64 `json:"width"`
	Height         float64 `json:"height"`
	ViewportWidth  float64 `json:"vpWidth"`
	ViewportHeight float64 `json:"vpHeight"`
}

// Mouse carries a pointer event. Screen and client coordinates are
// fractions of the viewport, offsets fractions of the target box.
type Mouse struct {
	Type       string  `json:"type"`
	CtrlKey    bool    `json:"ctrlKey"`
	ShiftKey   bool    `json:"shiftKey"`
	AltKey     bool    `json:"altKey"`
	MetaKey    bool    `json:"metaKey"`
	Button     int     `json:"button"`
	Buttons    int     `json:"buttons"`
	Bubbles    bool    `json:"bubbles"`
	Cancelable bool    `json:"cancelable"`
	ScreenX    float64 `json:"screenX"`
	ScreenY    float64 `json:"screenY"`
	ClientX    float64 `json:"clientX"`
	ClientY    float64 `json:"clientY"`
	OffsetX    float64 `json:"offsetX"`
	OffsetY    float64 `json:"offsetY"`
}

// ControlKind is the form control variant, decided at capture time.
type ControlKind string

const (
	KindText           ControlKind = "text"
	KindCheckbox       ControlKind = "checkbox"
	KindSelectSingle   ControlKind = "select-single"
	KindSelectMultiple ControlKind = "select-multiple"
	KindSubmit         ControlKind = "submit"
)

// Form carries a control change or a submission. Values is used by
// select-multiple, Value by the other kinds; submit carries neither.
type Form struct {
	Type    string
	Kind    ControlKind
	Checked bool
	Value   string
	Values  []string
}

// Unknown is a payload of a category this peer does not handle.
type Unknown struct {
	Name string
	Raw  json.RawMessage
}

func (Location) category() Category  { return CategoryLocation }
func (Scroll) category() Category    { return CategoryScroll }
func (Mouse) category() Category     { return CategoryMouse }
func (Form) category() Category      { return CategoryForm }
func (u Unknown) category() Category { return Category(u.Name) }

// New builds an envelope, deriving the category from the payload.
func New(target address.Address, p Payload) Envelope {
	return Envelope{Category: p.category(), Target: target, Payload: p}
}

type wireEnvelope struct {
	Name   string          `json:"name"`
	Target string          `json:"target,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type wireForm struct {
	Type    string          `json:"type"`
	Kind    ControlKind     `json:"kind,omitempty"`
	Checked *bool           `json:"checked,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON writes {"name", "target", "data"}.
func (e Envelope) MarshalJSON() ([]byte, error) {
	w := wireEnvelope{Name: string(e.Category), Target: string(e.Target)}
	var (
		data []byte
		err  error
	)
	switch p := e.Payload.(type) {
	case nil:
	case Location:
		data, err = json.Marshal(p.URL)
	case Scroll:
		data, err = json.Marshal(p)
	case Mouse:
		data, err = json.Marshal(p)
	case Form:
		data, err = marshalForm(p)
	case Unknown:
		data = p.Raw
	default:
		err = fmt.Errorf("unsupported payload %T", p)
	}
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal %s: %w", e.Category, err)
	}
	w.Data = data
	return json.Marshal(w)
}

func marshalForm(f Form) ([]byte, error) {
	w := wireForm{Type: f.Type, Kind: f.Kind}
	if f.Kind != KindSubmit && f.Type != "submit" {
		checked := f.Checked
		w.Checked = &checked
		var err error
		if f.Kind == KindSelectMultiple {
			values := f.Values
			if values == nil {
				values = []string{}
			}
			w.Value, err = json.Marshal(values)
		} else {
			w.Value, err = json.Marshal(f.Value)
		}
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON reads the wire form. Categories it does not know decode to
// an Unknown payload.
func (e *Envelope) UnmarshalJSON(b []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("envelope: unmarshal: %w", err)
	}
	if w.Name == "" {
		return fmt.Errorf("envelope: unmarshal: missing name")
	}
	out := Envelope{Category: Category(w.Name), Target: address.Address(w.Target)}
	var err error
	switch out.Category {
	case CategoryLocation:
		var u string
		err = unmarshalData(w.Data, &u)
		out.Payload = Location{URL: u}
	case CategoryScroll:
		var s Scroll
		err = unmarshalData(w.Data, &s)
		out.Payload = s
	case CategoryMouse:
		var m Mouse
		err = unmarshalData(w.Data, &m)
		out.Payload = m
	case CategoryForm:
		var f Form
		f, err = unmarshalForm(w.Data)
		out.Payload = f
	default:
		out.Payload = Unknown{Name: w.Name, Raw: w.Data}
	}
	if err != nil {
		return fmt.Errorf("envelope: unmarshal %s: %w", w.Name, err)
	}
	*e = out
	return nil
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	return json.Unmarshal(data, v)
}

func unmarshalForm(data json.RawMessage) (Form, error) {
	var w wireForm
	if err := unmarshalData(data, &w); err != nil {
		return Form{}, err
	}
	f := Form{Type: w.Type, Kind: w.Kind}
	if w.Checked != nil {
		f.Checked = *w.Checked
	}
	v := bytes.TrimSpace(w.Value)
	switch {
	case len(v) == 0 || bytes.Equal(v, []byte("null")):
	case v[0] == '[':
		if err := json.Unmarshal(v, &f.Values); err != nil {
			return Form{}, err
		}
		if f.Kind == "" {
			f.Kind = KindSelectMultiple
		}
	default:
		if err := json.Unmarshal(v, &f.Value); err != nil {
			return Form{}, err
		}
	}
	if f.Kind == "" {
		f.Kind = inferKind(f)
	}
	return f, nil
}

// inferKind covers peers that do not send a kind.
func inferKind(f Form) ControlKind {
	if f.Type == "submit" {
		return KindSubmit
	}
	return KindText
}

// DecodeList accepts a single envelope object or an array of envelopes.
func DecodeList(data json.RawMessage) ([]Envelope, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	if data[0] == '[' {
		var list []Envelope
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return []Envelope{e}, nil
}
