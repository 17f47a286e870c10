package database

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FormatRows renders rows as Python tuple literals, e.g.
// [(1, 'Ana'), (2, NULL)] or [('x',)]. SQL NULL is written as NULL.
func FormatRows(rows [][]any) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j, v := range row {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(literal(v))
		}
		if len(row) == 1 {
			b.WriteByte(',')
		}
		b.WriteByte(')')
	}
	b.WriteByte(']')
	return b.String()
}

// FormatStrings renders a list of quoted strings, e.g. ['users', 'orders'].
func FormatStrings(values []string) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = quote(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func literal(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case string:
		return quote(t)
	case []byte:
		return quote(string(t))
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		f := strconv.FormatFloat(t, 'g', -1, 64)
		if !strings.ContainsAny(f, ".eIN") {
			f += ".0"
		}
		return f
	case bool:
		if t {
			return "1"
		}
		return "0"
	case time.Time:
		return quote(t.Format(time.RFC3339))
	}
	return fmt.Sprint(v)
}

// quote follows Python's repr: single quotes unless the text holds a single
// quote and no double quote.
func quote(s string) string {
	q := byte('\'')
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		q = '"'
	}

	var b strings.Builder
	b.WriteByte(q)
	for _, r := range s {
		switch {
		case r == '\\':
			b.WriteString(`\\`)
		case r == rune(q):
			b.WriteByte('\\')
			b.WriteByte(q)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&b, `\x%02x`, r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte(q)
	return b.String()
}
