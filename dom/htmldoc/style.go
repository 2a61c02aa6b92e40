package htmldoc

import (
	"strings"

	"github.com/aymerick/douceur/parser"
)

type declaration struct {
	property  string
	value     string
	important bool
}

// inlineStyle is the style attribute of an element, kept as parsed
// declarations and written back to the attribute on every change.
type inlineStyle struct {
	el *Element
}

// Get returns the value of property, "" when unset.
func (s *inlineStyle) Get(property string) string {
	property = strings.ToLower(strings.TrimSpace(property))
	d := s.el.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, decl := range s.decls() {
		if decl.property == property {
			return decl.value
		}
	}
	return ""
}

// Set writes property; an empty value removes it.
func (s *inlineStyle) Set(property, value string) {
	property = strings.ToLower(strings.TrimSpace(property))
	value = strings.TrimSpace(value)
	d := s.el.doc
	d.mu.Lock()
	defer d.mu.Unlock()

	decls := s.decls()
	out := decls[:0]
	replaced := false
	for _, decl := range decls {
		if decl.property != property {
			out = append(out, decl)
			continue
		}
		if value != "" && !replaced {
			decl.value = value
			decl.important = false
			out = append(out, decl)
			replaced = true
		}
	}
	if value != "" && !replaced {
		out = append(out, declaration{property: property, value: value})
	}
	st := d.state(s.el.n)
	st.style = out
	st.styleParsed = true
	s.sync(out)
}

// Properties lists the inline properties in declaration order.
func (s *inlineStyle) Properties() []string {
	d := s.el.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	decls := s.decls()
	out := make([]string, 0, len(decls))
	for _, decl := range decls {
		out = append(out, decl.property)
	}
	return out
}

// decls parses the style attribute on first use. Caller holds d.mu.
func (s *inlineStyle) decls() []declaration {
	st := s.el.doc.state(s.el.n)
	if st.styleParsed {
		return st.style
	}
	st.style = nil
	st.styleParsed = true
	raw := attr(s.el.n, "style")
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parsed, err := parser.ParseDeclarations(raw)
	if err != nil {
		return nil
	}
	for _, p := range parsed {
		st.style = append(st.style, declaration{
			property:  strings.ToLower(p.Property),
			value:     p.Value,
			important: p.Important,
		})
	}
	return st.style
}

func (s *inlineStyle) sync(decls []declaration) {
	if len(decls) == 0 {
		removeAttr(s.el.n, "style")
		return
	}
	var sb strings.Builder
	for i, decl := range decls {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(decl.property)
		sb.WriteString(": ")
		sb.WriteString(decl.value)
		if decl.important {
			sb.WriteString(" !important")
		}
		sb.WriteByte(';')
	}
	setAttr(s.el.n, "style", sb.String())
}
