package scheduler

import (
	"github.com/hazyhaar/pagesync/envelope"
)

// counterparts maps an opening pointer event to the event that closes it.
var counterparts = map[string]string{
	"mouseenter": "mouseleave",
	"mouseover":  "mouseout",
}

// Condense reduces q to a sequence that reaches the same final state when
// replayed in order. The input is not modified.
//
// Pass 1 cancels opening pointer events against their counterpart on the
// same target and is repeated until nothing changes. Pass 2 keeps only the
// latest scroll and mousemove per (type, target).
func Condense(q []envelope.Envelope) []envelope.Envelope {
	out := append([]envelope.Envelope(nil), q...)
	for {
		n := len(out)
		out = cancelCounterparts(out)
		if len(out) == n {
			break
		}
	}
	return collapseLatest(out)
}

// cancelCounterparts scans forward from every opener to the first event of
// its family on the same target. Envelopes of other categories or targets
// are skipped over.
//   - the same type again: the opener is kept;
//   - its counterpart with no other pointer event on the target in between:
//     both are dropped;
//   - its counterpart after such an event: the opener is dropped and the
//     counterpart kept.
func cancelCounterparts(q []envelope.Envelope) []envelope.Envelope {
	skip := make([]bool, len(q))
	out := make([]envelope.Envelope, 0, len(q))
	for i, e := range q {
		if skip[i] {
			continue
		}
		closer, opener := counterparts[pointerType(e)]
		if !opener {
			out = append(out, e)
			continue
		}
		keep := true
		adjacent := true
		for j := i + 1; j < len(q); j++ {
			if skip[j] {
				continue
			}
			c := q[j]
			if c.Target != e.Target || c.Category != envelope.CategoryMouse {
				continue
			}
			t := pointerType(c)
			if t == pointerType(e) {
				break
			}
			if t == closer {
				keep = false
				if adjacent {
					skip[j] = true
				}
				break
			}
			adjacent = false
		}
		if keep {
			out = append(out, e)
		}
	}
	return out
}

// collapseLatest keeps, scanning backwards, the first scroll or mousemove
// per (type-or-category, target). Other envelopes are kept in order.
func collapseLatest(q []envelope.Envelope) []envelope.Envelope {
	seen := make(map[string]bool)
	keep := make([]bool, len(q))
	n := 0
	for i := len(q) - 1; i >= 0; i-- {
		e := q[i]
		if e.Category == envelope.CategoryScroll || pointerType(e) == "mousemove" {
			key := e.Type() + ";" + string(e.Target)
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		keep[i] = true
		n++
	}
	out := make([]envelope.Envelope, 0, n)
	for i, e := range q {
		if keep[i] {
			out = append(out, e)
		}
	}
	return out
}

func pointerType(e envelope.Envelope) string {
	if m, ok := e.Payload.(envelope.Mouse); ok {
		return m.Type
	}
	return ""
}
