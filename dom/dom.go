// Package dom defines the browsing-context capabilities pagesync works
// against. Nothing in pagesync touches an ambient window or document: every
// channel, engine and controller receives a Document handle at construction
// and releases whatever it registered through the disposer returned by
// AddEventListener.
//
// The interfaces mirror the small slice of the W3C DOM the synchronization
// protocol needs. dom/htmldoc provides an in-memory implementation.
package dom

// NodeType follows the numeric DOM node types.
type NodeType int

const (
	ElementNode  NodeType = 1
	TextNode     NodeType = 3
	CommentNode  NodeType = 8
	DocumentNode NodeType = 9
	DoctypeNode  NodeType = 10
)

// ReadyState is the document loading state.
type ReadyState string

const (
	Loading     ReadyState = "loading"
	Interactive ReadyState = "interactive"
	Complete    ReadyState = "complete"
)

// Event names the core relies on.
const (
	EventDOMContentLoaded = "DOMContentLoaded"
	EventReadyStateChange = "readystatechange"
	EventUnload           = "unload"
	EventScroll           = "scroll"
)

// Node is a node of a document tree.
type Node interface {
	NodeType() NodeType
	// NodeName is the DOM nodeName: upper-case tag for HTML elements,
	// "#text", "#comment" or "#document" otherwise.
	NodeName() string
	// ParentNode returns nil for the root.
	ParentNode() Node
	ChildNodes() []Node
	PreviousSibling() Node
	// OwnerDocument returns nil for the document itself.
	OwnerDocument() Document
}

// Listener receives dispatched events.
type Listener func(ev *Event)

// EventTarget registers listeners. The returned function detaches the
// listener and may be called any number of times.
type EventTarget interface {
	AddEventListener(typ string, l Listener, capture bool) (remove func())
}

// Event is a DOM event as seen by capture channels, and the synthetic event
// built by replay channels.
type Event struct {
	Type   string
	Target Node

	ScreenX, ScreenY float64
	ClientX, ClientY float64
	OffsetX, OffsetY float64

	Button  int
	Buttons int

	CtrlKey  bool
	ShiftKey bool
	AltKey   bool
	MetaKey  bool

	Bubbles    bool
	Cancelable bool
}

// Geometry holds the box metrics of an element, in CSS pixels.
type Geometry struct {
	OffsetWidth, OffsetHeight float64
	ClientWidth, ClientHeight float64
	ScrollWidth, ScrollHeight float64
	ScrollLeft, ScrollTop     float64
}

// Style is an inline style declaration block.
type Style interface {
	Get(property string) string
	// Set writes a property; an empty value removes it.
	Set(property, value string)
	Properties() []string
}

// Element is an element node.
type Element interface {
	Node
	Attribute(name string) (string, bool)
	// Matches reports whether the element matches a CSS selector. Invalid
	// selectors never match.
	Matches(selector string) bool
	Style() Style
	ComputedStyle(property string) string
	Geometry() Geometry
	SetScroll(left, top float64)
	DispatchEvent(ev *Event)
}

// Control is a form control. ControlType is empty for elements that are not
// controls.
type Control interface {
	Element
	ControlType() string
	Value() string
	SetValue(v string)
	Checked() bool
	SetChecked(c bool)
	SelectedValues() []string
	SetSelectedValues(values []string)
}

// Form is a submittable form element.
type Form interface {
	Element
	Submit()
}

// Window is the viewport of a document.
type Window interface {
	EventTarget
	InnerWidth() float64
	InnerHeight() float64
	PageOffset() (x, y float64)
	ScrollTo(x, y float64)
	MatchMedia(query string) bool
}

// StyleSheet is one stylesheet attached to a document.
type StyleSheet interface {
	Disabled() bool
	// Media is the sheet's own media list, empty for all media.
	Media() string
	CSSText() string
	// Import resolves an @import target relative to this sheet. It returns
	// nil when the sheet is not available.
	Import(href string) StyleSheet
}

// Document is the root of a tree bound to one browsing context.
type Document interface {
	Node
	EventTarget
	DocumentElement() Element
	Body() Element
	// ScrollingElement is the element that scrolls the viewport.
	ScrollingElement() Element
	ReadyState() ReadyState
	URL() string
	Navigate(url string)
	QuerySelector(selector string) Element
	StyleSheets() []StyleSheet
	DefaultView() Window
}

// IsElement reports whether n is an element and returns it.
func IsElement(n Node) (Element, bool) {
	if n == nil || n.NodeType() != ElementNode {
		return nil, false
	}
	el, ok := n.(Element)
	return el, ok
}

// DocumentOf returns the document a node belongs to, or the node itself when
// it is a document.
func DocumentOf(n Node) Document {
	if n == nil {
		return nil
	}
	if d, ok := n.(Document); ok && n.NodeType() == DocumentNode {
		return d
	}
	return n.OwnerDocument()
}
