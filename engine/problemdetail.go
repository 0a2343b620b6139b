package engine

import (
	"fmt"
	"strings"
)

// ProblemDetail is the structured error payload for denied decisions,
// produced only when the caller's configuration enables it. The extension
// fields (RetryAfter, Limit, Remaining, Reset, Limiter) are populated, and
// serialized, only when HasExtensions is set.
type ProblemDetail struct {
	Type          string
	Title         string
	Status        int
	Detail        string
	Instance      string
	RetryAfter    int64
	Limit         int64
	Remaining     int64
	Reset         int64 // epoch seconds
	Limiter       string
	HasExtensions bool
}

// JSON serializes the payload using a fixed escape table: quote, backslash,
// newline, carriage return, tab, backspace, form feed, and any code unit
// below 0x20 map to \u00XX. This is hand-written rather than encoding/json
// so the escape table stays stable and independent of encoding/json's
// default HTML-escaping of <, >, and &.
func (p *ProblemDetail) JSON() string {
	var b strings.Builder
	b.WriteByte('{')
	writeField(&b, "type", p.Type, true)
	writeField(&b, "title", p.Title, true)
	fmt.Fprintf(&b, "\"status\":%d,", p.Status)
	writeField(&b, "detail", p.Detail, true)
	if p.HasExtensions {
		writeField(&b, "instance", p.Instance, true)
		fmt.Fprintf(&b, "\"retry_after\":%d,", p.RetryAfter)
		fmt.Fprintf(&b, "\"limit\":%d,", p.Limit)
		fmt.Fprintf(&b, "\"remaining\":%d,", p.Remaining)
		fmt.Fprintf(&b, "\"reset\":%d,", p.Reset)
		writeField(&b, "limiter", p.Limiter, false)
	} else {
		writeField(&b, "instance", p.Instance, false)
	}
	b.WriteByte('}')
	return b.String()
}

func writeField(b *strings.Builder, name, value string, trailingComma bool) {
	b.WriteByte('"')
	b.WriteString(name)
	b.WriteString("\":\"")
	escapeJSONString(b, value)
	b.WriteByte('"')
	if trailingComma {
		b.WriteByte(',')
	}
}

// escapeJSONString applies the fixed escape table above.
func escapeJSONString(b *strings.Builder, s string) {
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			if r < 0x20 {
				fmt.Fprintf(b, `\u%04x`, r)
				continue
			}
			b.WriteRune(r)
		}
	}
}
