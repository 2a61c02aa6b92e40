// Package specificity emulates CSS pseudo-classes that cannot be triggered
// synthetically. It indexes the style rules of a document, finds the rules a
// pseudo-class would activate for an element, orders them by specificity and
// turns their declarations into inline overrides.
package specificity

import (
	"regexp"
	"sort"
	"strings"

	"github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"

	"github.com/hazyhaar/pagesync/dom"
)

const maxImportDepth = 16

// Declaration is one property of a style rule.
type Declaration struct {
	Property  string
	Value     string
	Important bool
}

// Rule is an indexed style rule. Index is its position in cascade order.
type Rule struct {
	Index        int
	Selectors    []string
	Declarations []Declaration
}

// Match is one selector branch of a rule that matched an element.
type Match struct {
	Selector string
	Score    Score
	Rule     *Rule
}

// Index is the flattened, cascade-ordered list of active style rules of a
// document.
type Index struct {
	rules []*Rule
}

// BuildIndex flattens the rules of every enabled stylesheet of doc whose
// media matches the window, expanding @import and matching @media blocks.
func BuildIndex(doc dom.Document) *Index {
	idx := &Index{}
	win := doc.DefaultView()
	for _, sheet := range doc.StyleSheets() {
		idx.addSheet(sheet, win, 0)
	}
	return idx
}

// Rules returns the indexed rules in cascade order.
func (idx *Index) Rules() []*Rule { return idx.rules }

func (idx *Index) addSheet(sheet dom.StyleSheet, win dom.Window, depth int) {
	if sheet == nil || sheet.Disabled() || depth > maxImportDepth {
		return
	}
	if m := strings.TrimSpace(sheet.Media()); m != "" && !mediaMatches(win, m) {
		return
	}
	ss, err := parser.Parse(sheet.CSSText())
	if err != nil {
		return
	}
	idx.addRules(ss.Rules, sheet, win, depth)
}

func (idx *Index) addRules(rules []*css.Rule, sheet dom.StyleSheet, win dom.Window, depth int) {
	for _, r := range rules {
		if r.Kind == css.QualifiedRule {
			idx.addRule(r)
			continue
		}
		switch strings.ToLower(r.Name) {
		case "@import":
			href, media := ParseImport(r.Prelude)
			if href == "" || (media != "" && !mediaMatches(win, media)) {
				continue
			}
			idx.addSheet(sheet.Import(href), win, depth+1)
		case "@media":
			if mediaMatches(win, r.Prelude) {
				idx.addRules(r.Rules, sheet, win, depth)
			}
		}
	}
}

func (idx *Index) addRule(r *css.Rule) {
	rule := &Rule{Index: len(idx.rules)}
	for _, sel := range r.Selectors {
		if sel = strings.TrimSpace(sel); sel != "" {
			rule.Selectors = append(rule.Selectors, sel)
		}
	}
	for _, d := range r.Declarations {
		rule.Declarations = append(rule.Declarations, Declaration{
			Property:  strings.ToLower(strings.TrimSpace(d.Property)),
			Value:     strings.TrimSpace(d.Value),
			Important: d.Important,
		})
	}
	if len(rule.Selectors) == 0 || len(rule.Declarations) == 0 {
		return
	}
	idx.rules = append(idx.rules, rule)
}

// MatchedRules returns the selector branches containing pseudo that match el
// once the pseudo token is removed, by specificity descending then rule
// index descending.
func (idx *Index) MatchedRules(el dom.Element, pseudo string) []Match {
	if idx == nil || el == nil || pseudo == "" {
		return nil
	}
	tokenRE := regexp.MustCompile(regexp.QuoteMeta(pseudo) + `\b`)
	var out []Match
	for _, r := range idx.rules {
		for _, sel := range r.Selectors {
			if !strings.Contains(sel, pseudo) {
				continue
			}
			if el.Matches(stripPseudo(sel, tokenRE)) {
				out = append(out, Match{Selector: sel, Score: Calculate(sel), Rule: r})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].Score.Compare(out[j].Score); c != 0 {
			return c > 0
		}
		return out[i].Rule.Index > out[j].Rule.Index
	})
	return out
}

// Computed returns the cascaded value of property for el from the indexed
// rules, ignoring inline style. It returns "" when no rule sets it.
func (idx *Index) Computed(el dom.Element, property string) string {
	v, _ := idx.cascaded(el, property)
	return v
}

// cascaded returns the winning declaration among rules matching el:
// important first, then specificity, then cascade order.
func (idx *Index) cascaded(el dom.Element, property string) (string, bool) {
	if idx == nil || el == nil {
		return "", false
	}
	var (
		found     bool
		value     string
		important bool
		score     Score
	)
	for _, r := range idx.rules {
		var (
			decl Declaration
			has  bool
		)
		for _, d := range r.Declarations {
			if d.Property == property && (!has || d.Important || !decl.Important) {
				decl, has = d, true
			}
		}
		if !has {
			continue
		}
		for _, sel := range r.Selectors {
			if !el.Matches(sel) {
				continue
			}
			s := Calculate(sel)
			if !found ||
				(decl.Important && !important) ||
				(decl.Important == important && s.Compare(score) >= 0) {
				found, value, important, score = true, decl.Value, decl.Important, s
			}
		}
	}
	return value, important
}

// stripPseudo removes the pseudo token from sel. A token that stands alone
// as a compound selector becomes the universal selector.
func stripPseudo(sel string, tokenRE *regexp.Regexp) string {
	var sb strings.Builder
	last := 0
	for _, loc := range tokenRE.FindAllStringIndex(sel, -1) {
		sb.WriteString(sel[last:loc[0]])
		if loc[0] == 0 || strings.ContainsRune(" >+~(,", rune(sel[loc[0]-1])) {
			sb.WriteByte('*')
		}
		last = loc[1]
	}
	sb.WriteString(sel[last:])
	return strings.TrimSpace(sb.String())
}

// ParseImport splits an @import prelude into its URL and media query. Both
// are empty when the prelude carries neither url() nor a quoted string.
func ParseImport(prelude string) (href, media string) {
	s := strings.TrimSpace(prelude)
	switch {
	case strings.HasPrefix(strings.ToLower(s), "url("):
		end := strings.IndexByte(s, ')')
		if end < 0 {
			return "", ""
		}
		href = strings.Trim(strings.TrimSpace(s[4:end]), `"'`)
		media = s[end+1:]
	case strings.HasPrefix(s, `"`) || strings.HasPrefix(s, `'`):
		end := strings.IndexByte(s[1:], s[0])
		if end < 0 {
			return "", ""
		}
		href = s[1 : end+1]
		media = s[end+2:]
	default:
		return "", ""
	}
	return href, strings.TrimSpace(media)
}

func mediaMatches(win dom.Window, query string) bool {
	if win == nil {
		return true
	}
	return win.MatchMedia(query)
}
