package jsonvalue

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Canonical renders v as indented JSON: two-space indentation, object keys
// sorted at every level, non-ASCII and HTML characters written literally.
func Canonical(v Value) (string, error) {
	return encode(v, "  ")
}

// CanonicalLines returns the canonical text of v split into lines.
func CanonicalLines(v Value) ([]string, error) {
	text, err := Canonical(v)
	if err != nil {
		return nil, err
	}
	return strings.Split(text, "\n"), nil
}

// Compact renders v on a single line with sorted object keys.
func Compact(v Value) (string, error) {
	return encode(v, "")
}

// Render returns the single-line display form of v: strings without quotes,
// scalars as their JSON literal and containers as compact JSON.
func Render(v Value) string {
	switch v.kind {
	case String:
		return v.text
	case Number:
		return v.text
	case Bool:
		if v.boolean {
			return "true"
		}
		return "false"
	case Null:
		return "null"
	}
	s, err := Compact(v)
	if err != nil {
		return "<" + v.kind.String() + ">"
	}
	return s
}

// MarshalJSON implements json.Marshaler with the compact canonical form.
func (v Value) MarshalJSON() ([]byte, error) {
	s, err := Compact(v)
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Interface converts v to the Go types encoding/json uses when decoding
// with UseNumber. Containers are never nil, so empty ones encode as {} and [].
func Interface(v Value) any {
	switch v.kind {
	case Bool:
		return v.boolean
	case Number:
		return json.Number(v.text)
	case String:
		return v.text
	case Object:
		m := make(map[string]any, len(v.members))
		for _, mem := range v.members {
			m[mem.Key] = Interface(mem.Value)
		}
		return m
	case Array:
		s := make([]any, len(v.items))
		for i, item := range v.items {
			s[i] = Interface(item)
		}
		return s
	}
	return nil
}

func encode(v Value, indent string) (string, error) {
	if err := Validate(v); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	// encoding/json writes map keys in sorted order
	if err := enc.Encode(Interface(v)); err != nil {
		return "", malformed(err)
	}
	return unescapeLineSeparators(strings.TrimSuffix(buf.String(), "\n")), nil
}

// unescapeLineSeparators turns the \u2028 and \u2029 escapes that
// encoding/json always emits back into literal characters. Backslashes in
// encoder output only occur as two-byte escape pairs.
func unescapeLineSeparators(s string) string {
	if !strings.Contains(s, `\u202`) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		switch esc := s[i+1:min(i+6, len(s))]; esc {
		case "u2028":
			b.WriteRune('\u2028')
			i += 5
		case "u2029":
			b.WriteRune('\u2029')
			i += 5
		default:
			b.WriteByte(s[i])
			b.WriteByte(s[i+1])
			i++
		}
	}
	return b.String()
}
