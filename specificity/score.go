package specificity

import (
	"regexp"
	"strings"
)

// Score is a selector specificity: ids, classes+attributes+pseudo-classes,
// elements+pseudo-elements.
type Score [3]int

var (
	notRE           = regexp.MustCompile(`:not\(([^)]*)\)`)
	pseudoElementRE = regexp.MustCompile(`::?(after|before|first-letter|first-line|selection|placeholder|marker)\b`)
	pseudoClassRE   = regexp.MustCompile(`:[\w-]+(\([^)]*\))?`)
	attrRE          = regexp.MustCompile(`\[[^\]]+\]`)
	idRE            = regexp.MustCompile(`#[\w-]+`)
	classRE         = regexp.MustCompile(`\.[\w-]+`)
	elementRE       = regexp.MustCompile(`[\w-]+`)
)

// Calculate scores a single selector (no commas). :not() itself does not
// count, its argument does.
func Calculate(selector string) Score {
	var s Score
	selector = notRE.ReplaceAllString(selector, " $1 ")
	for _, part := range strings.Fields(selector) {
		part, n := strip(part, pseudoElementRE)
		s[2] += n
		part, n = strip(part, pseudoClassRE)
		s[1] += n
		part, n = strip(part, attrRE)
		s[1] += n
		part, n = strip(part, idRE)
		s[0] += n
		part, n = strip(part, classRE)
		s[1] += n
		s[2] += len(elementRE.FindAllString(part, -1))
	}
	return s
}

func strip(s string, re *regexp.Regexp) (string, int) {
	n := len(re.FindAllStringIndex(s, -1))
	if n == 0 {
		return s, 0
	}
	return re.ReplaceAllString(s, " "), n
}

// Compare returns -1, 0 or 1 comparing s and o lexicographically.
func (s Score) Compare(o Score) int {
	for i := range s {
		switch {
		case s[i] < o[i]:
			return -1
		case s[i] > o[i]:
			return 1
		}
	}
	return 0
}

// Number encodes the score as id*100+cls*10+elem with every component
// clamped to one digit.
func (s Score) Number() int {
	n := 0
	for _, v := range s {
		n = n*10 + min(max(v, 0), 9)
	}
	return n
}
