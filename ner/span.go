package ner

import (
	"fmt"
	"strings"
	"unicode"
)

// Span is a run of source text with its entity type, or a single non-entity character typed "O".
type Span struct {
	Text string
	Type string
}

// String renders the span as a tuple, e.g. ('北京', 'LOC').
func (s Span) String() string {
	return "(" + quote(s.Text) + ", " + quote(s.Type) + ")"
}

// FormatSpans concatenates the tuple renderings of spans, the display form used in prediction
// dumps: ('北京', 'LOC')('欢', 'O')...
func FormatSpans(spans []Span) string {
	var sb strings.Builder
	for _, s := range spans {
		sb.WriteString(s.String())
	}
	return sb.String()
}

// Entities returns the spans whose type is not "O".
func Entities(spans []Span) []Span {
	var out []Span
	for _, s := range spans {
		if s.Type != OutsideTag {
			out = append(out, s)
		}
	}
	return out
}

// quote renders s the way Python's repr does: single quotes unless s holds a single quote and no
// double one, with backslashes, the quote character and non-printable runes escaped.
func quote(s string) string {
	q := '\''
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		q = '"'
	}
	var sb strings.Builder
	sb.WriteRune(q)
	for _, r := range s {
		switch {
		case r == q || r == '\\':
			sb.WriteByte('\\')
			sb.WriteRune(r)
		case r == '\t':
			sb.WriteString(`\t`)
		case r == '\n':
			sb.WriteString(`\n`)
		case r == '\r':
			sb.WriteString(`\r`)
		case unicode.IsPrint(r):
			sb.WriteRune(r)
		case r <= 0xff:
			fmt.Fprintf(&sb, `\x%02x`, r)
		case r <= 0xffff:
			fmt.Fprintf(&sb, `\u%04x`, r)
		default:
			fmt.Fprintf(&sb, `\U%08x`, r)
		}
	}
	sb.WriteRune(q)
	return sb.String()
}
