// Package viewport parses the <meta name="viewport"> declaration of a
// document.
package viewport

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/hazyhaar/pagesync/dom"
)

const (
	MinSize = 1
	MaxSize = 10000

	DeviceWidth  = "device-width"
	DeviceHeight = "device-height"
)

// Meta holds the lowercased viewport properties. width and height are ints
// clamped to [MinSize, MaxSize] or one of the device sentinels; other values
// are lowercased strings.
type Meta map[string]any

var separators = regexp.MustCompile(`[,;]`)

// Parse reads the viewport declaration of doc. It returns an empty Meta when
// the document has none.
func Parse(doc dom.Document) Meta {
	if doc == nil {
		return Meta{}
	}
	el := doc.QuerySelector(`meta[name="viewport"]`)
	if el == nil {
		return Meta{}
	}
	content, _ := el.Attribute("content")
	return ParseContent(content)
}

// ParseContent parses a viewport content attribute.
func ParseContent(content string) Meta {
	m := Meta{}
	for _, prop := range separators.Split(content, -1) {
		name, value, _ := strings.Cut(strings.TrimSpace(prop), "=")
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.ToLower(strings.TrimSpace(value))
		if name == "" {
			continue
		}
		if name != "width" && name != "height" {
			m[name] = value
			continue
		}
		if value == DeviceWidth || value == DeviceHeight {
			m[name] = value
			continue
		}
		n, ok := leadingInt(value)
		if !ok {
			m[name] = "device-" + name
			continue
		}
		m[name] = min(max(MinSize, n), MaxSize)
	}
	return m
}

// Width returns the numeric width, false for a sentinel or when unset.
func (m Meta) Width() (int, bool) { return m.intValue("width") }

// Height returns the numeric height, false for a sentinel or when unset.
func (m Meta) Height() (int, bool) { return m.intValue("height") }

func (m Meta) intValue(key string) (int, bool) {
	switch v := m[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

// leadingInt parses an optionally signed integer prefix, like "640px".
func leadingInt(s string) (int, bool) {
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, false
	}
	// Out-of-range values come back saturated and are clamped by the caller.
	n, err := strconv.Atoi(s[:end])
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	return n, true
}
