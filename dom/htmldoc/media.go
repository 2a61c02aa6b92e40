package htmldoc

import (
	"strconv"
	"strings"
)

const emPixels = 16

// matchMedia evaluates a media query list against a screen viewport of the
// given size. Comma-separated queries are alternatives. Unknown features
// never match.
func matchMedia(query string, width, height float64) bool {
	query = strings.TrimSpace(strings.ToLower(query))
	if query == "" {
		return true
	}
	for _, q := range strings.Split(query, ",") {
		if matchQuery(strings.TrimSpace(q), width, height) {
			return true
		}
	}
	return false
}

func matchQuery(q string, width, height float64) bool {
	if q == "" {
		return false
	}
	negate := false
	switch {
	case strings.HasPrefix(q, "not "):
		negate = true
		q = strings.TrimSpace(q[4:])
	case strings.HasPrefix(q, "only "):
		q = strings.TrimSpace(q[5:])
	}

	ok := true
	for _, part := range strings.Split(q, " and ") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !matchPart(part, width, height) {
			ok = false
			break
		}
	}
	return ok != negate
}

func matchPart(part string, width, height float64) bool {
	if !strings.HasPrefix(part, "(") {
		switch part {
		case "all", "screen":
			return true
		default:
			return false
		}
	}
	part = strings.TrimSuffix(strings.TrimPrefix(part, "("), ")")
	name, value, hasValue := strings.Cut(part, ":")
	name = strings.TrimSpace(name)
	value = strings.TrimSpace(value)

	if name == "orientation" {
		if width >= height {
			return value == "landscape"
		}
		return value == "portrait"
	}
	if !hasValue {
		return name == "width" || name == "height"
	}
	px, ok := parseLength(value)
	if !ok {
		return false
	}
	switch name {
	case "min-width":
		return width >= px
	case "max-width":
		return width <= px
	case "width":
		return width == px
	case "min-height":
		return height >= px
	case "max-height":
		return height <= px
	case "height":
		return height == px
	}
	return false
}

func parseLength(v string) (float64, bool) {
	unit := 1.0
	switch {
	case strings.HasSuffix(v, "px"):
		v = strings.TrimSuffix(v, "px")
	case strings.HasSuffix(v, "rem"):
		v = strings.TrimSuffix(v, "rem")
		unit = emPixels
	case strings.HasSuffix(v, "em"):
		v = strings.TrimSuffix(v, "em")
		unit = emPixels
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false
	}
	return f * unit, true
}
