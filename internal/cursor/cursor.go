// Package cursor parses and orders the opaque timeline cursors handed out
// by the history API and the push channel.
//
// A well-formed cursor is "<tick>:<kind>:<identifier>" where tick is a
// run of decimal digits. Anything else is malformed but still sortable.
package cursor

import (
	"sort"
	"strings"
)

// Cursor is a parsed cursor.
type Cursor struct {
	Raw        string
	Tick       string
	Kind       string
	Identifier string
}

// Parse splits raw into its parts. ok is false for malformed input.
func Parse(raw string) (Cursor, bool) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) != 3 || !isDigits(parts[0]) {
		return Cursor{Raw: raw}, false
	}
	return Cursor{
		Raw:        raw,
		Tick:       parts[0],
		Kind:       parts[1],
		Identifier: parts[2],
	}, true
}

// Format builds a cursor string from its parts.
func Format(tick, kind, identifier string) string {
	return tick + ":" + kind + ":" + identifier
}

// Compare orders two cursors and returns -1, 0 or 1. It never panics and
// only returns 0 for identical strings.
//
// Keys, in order: leading numeric prefix (absent sorts first), well-formed
// before malformed, then kind and identifier for well-formed cursors, then
// the raw string.
func Compare(a, b string) int {
	if a == b {
		return 0
	}

	ca, okA := Parse(a)
	cb, okB := Parse(b)

	if c := compareNumeric(leadingDigits(a), leadingDigits(b)); c != 0 {
		return c
	}
	if okA != okB {
		if okA {
			return -1
		}
		return 1
	}
	if okA {
		if c := strings.Compare(ca.Kind, cb.Kind); c != 0 {
			return c
		}
		if c := compareIdentifier(ca.Identifier, cb.Identifier); c != 0 {
			return c
		}
	}
	return strings.Compare(a, b)
}

// Less reports whether a sorts before b.
func Less(a, b string) bool {
	return Compare(a, b) < 0
}

// Sort orders cursors in place.
func Sort(cursors []string) {
	sort.SliceStable(cursors, func(i, j int) bool {
		return Less(cursors[i], cursors[j])
	})
}

// Max returns the larger of two cursors, treating "" as absent.
func Max(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	case Less(a, b):
		return b
	default:
		return a
	}
}

// Min returns the smaller of two cursors, treating "" as absent.
func Min(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	case Less(b, a):
		return b
	default:
		return a
	}
}

// compareIdentifier puts numeric identifiers before non-numeric ones so the
// mixed case stays transitive.
func compareIdentifier(a, b string) int {
	numA, numB := isDigits(a), isDigits(b)
	switch {
	case numA && numB:
		return compareNumeric(a, b)
	case numA:
		return -1
	case numB:
		return 1
	default:
		return strings.Compare(a, b)
	}
}

// compareNumeric compares two digit strings by value without converting
// them, so arbitrarily long ticks cannot overflow. An empty string sorts
// before any number.
func compareNumeric(a, b string) int {
	if a == "" || b == "" {
		switch {
		case a == b:
			return 0
		case a == "":
			return -1
		default:
			return 1
		}
	}
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

func leadingDigits(s string) string {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	return s[:end]
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
