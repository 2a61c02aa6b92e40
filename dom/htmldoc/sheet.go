package htmldoc

import (
	"net/url"

	"github.com/hazyhaar/pagesync/dom"
)

// StyleSheet is a <style> element or a registered <link> target.
type StyleSheet struct {
	doc      *Document
	href     string
	text     string
	media    string
	disabled bool
}

func (s *StyleSheet) Disabled() bool  { return s.disabled }
func (s *StyleSheet) Media() string   { return s.media }
func (s *StyleSheet) CSSText() string { return s.text }

// Href returns the sheet location, "" for inline sheets.
func (s *StyleSheet) Href() string { return s.href }

// Import resolves href against this sheet (or the document URL for inline
// sheets) and returns the registered sheet, nil when none is registered.
func (s *StyleSheet) Import(href string) dom.StyleSheet {
	s.doc.mu.RLock()
	defer s.doc.mu.RUnlock()
	for _, candidate := range []string{href, resolveRef(s.base(), href)} {
		if css, ok := s.doc.sheets[candidate]; ok {
			return &StyleSheet{doc: s.doc, href: candidate, text: css}
		}
	}
	return nil
}

// base is called with doc.mu held.
func (s *StyleSheet) base() string {
	if s.href != "" {
		return resolveRef(s.doc.url, s.href)
	}
	return s.doc.url
}

func resolveRef(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
