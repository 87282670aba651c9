// Package jsonvalue models parsed JSON documents as a closed set of variants
// and provides the canonical text form used for line-level diffing.
package jsonvalue

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/dshills/respdiff/internal/domain"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	Invalid Kind = iota
	Null
	Bool
	Number
	String
	Object
	Array
)

var kindNames = [...]string{
	Invalid: "invalid",
	Null:    "null",
	Bool:    "bool",
	Number:  "number",
	String:  "string",
	Object:  "object",
	Array:   "array",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Member is a single key/value pair of an object, in source order.
type Member struct {
	Key   string
	Value Value
}

// Value is an immutable JSON value. The zero Value is Invalid.
type Value struct {
	kind    Kind
	boolean bool
	text    string // string contents or number literal
	members []Member
	index   map[string]int
	items   []Value
}

// NullValue returns the JSON null.
func NullValue() Value { return Value{kind: Null} }

// BoolValue returns a JSON boolean.
func BoolValue(b bool) Value { return Value{kind: Bool, boolean: b} }

// StringValue returns a JSON string.
func StringValue(s string) Value { return Value{kind: String, text: s} }

// NumberValue returns a JSON number from its literal text. The literal is
// not checked here; Validate reports malformed literals.
func NumberValue(literal string) Value { return Value{kind: Number, text: literal} }

// ArrayValue returns a JSON array holding items in order.
func ArrayValue(items ...Value) Value {
	return Value{kind: Array, items: append([]Value(nil), items...)}
}

// ObjectValue returns a JSON object. A repeated key replaces the earlier
// value but keeps the earlier position, as encoding/json does.
func ObjectValue(members ...Member) Value {
	v := Value{kind: Object, index: make(map[string]int, len(members))}
	for _, m := range members {
		if i, ok := v.index[m.Key]; ok {
			v.members[i].Value = m.Value
			continue
		}
		v.index[m.Key] = len(v.members)
		v.members = append(v.members, m)
	}
	return v
}

// Kind reports the variant of v.
func (v Value) Kind() Kind { return v.kind }

// Bool returns the boolean held by a Bool value.
func (v Value) Bool() bool { return v.boolean }

// Str returns the contents of a String value.
func (v Value) Str() string { return v.text }

// Number returns the literal of a Number value.
func (v Value) Number() json.Number { return json.Number(v.text) }

// Len returns the number of members or items of a container, 0 otherwise.
func (v Value) Len() int {
	switch v.kind {
	case Object:
		return len(v.members)
	case Array:
		return len(v.items)
	}
	return 0
}

// Members returns the object's members in insertion order.
func (v Value) Members() []Member { return v.members }

// Get looks up an object member by key.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != Object {
		return Value{}, false
	}
	i, ok := v.index[key]
	if !ok {
		return Value{}, false
	}
	return v.members[i].Value, true
}

// Items returns the array's elements.
func (v Value) Items() []Value { return v.items }

// Index returns the i-th array element.
func (v Value) Index(i int) (Value, bool) {
	if v.kind != Array || i < 0 || i >= len(v.items) {
		return Value{}, false
	}
	return v.items[i], true
}

// ScalarEqual reports whether two scalars of the same kind hold equal
// values. Numbers compare by value, so 1 and 1.0 are equal.
func ScalarEqual(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case Null:
		return true
	case Bool:
		return a.boolean == b.boolean
	case String:
		return a.text == b.text
	case Number:
		if a.text == b.text {
			return true
		}
		x, okx := parseDecimal(a.text)
		y, oky := parseDecimal(b.text)
		return okx && oky && x.equal(y)
	}
	return false
}

// decimal is a number literal normalized to ±digits × 10^exp, with no
// leading or trailing zeros in digits. Zero has empty digits.
type decimal struct {
	neg    bool
	digits string
	exp    *big.Int
}

// parseDecimal normalizes a JSON number literal without expanding its
// exponent, so huge exponents cost no more than small ones.
func parseDecimal(s string) (decimal, bool) {
	if !isNumberLiteral(s) {
		return decimal{}, false
	}

	var d decimal
	if strings.HasPrefix(s, "-") {
		d.neg = true
		s = s[1:]
	}

	mantissa, expText, hasExp := strings.Cut(strings.ToLower(s), "e")
	intPart, frac, _ := strings.Cut(mantissa, ".")

	d.exp = new(big.Int)
	if hasExp {
		if _, ok := d.exp.SetString(strings.TrimPrefix(expText, "+"), 10); !ok {
			return decimal{}, false
		}
	}
	d.exp.Sub(d.exp, big.NewInt(int64(len(frac))))

	digits := strings.TrimLeft(intPart+frac, "0")
	trimmed := strings.TrimRight(digits, "0")
	d.exp.Add(d.exp, big.NewInt(int64(len(digits)-len(trimmed))))
	d.digits = trimmed

	if d.digits == "" {
		// -0 and 0e5 are both zero
		d.neg = false
		d.exp.SetInt64(0)
	}
	return d, true
}

func (d decimal) equal(o decimal) bool {
	return d.neg == o.neg && d.digits == o.digits && d.exp.Cmp(o.exp) == 0
}

// Validate reports whether v and everything beneath it is a well-formed
// JSON value.
func Validate(v Value) error {
	stack := []Value{v}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		switch cur.kind {
		case Null, Bool, String:
		case Number:
			if !isNumberLiteral(cur.text) {
				return fmt.Errorf("%w: invalid number literal %q", domain.ErrMalformedInput, cur.text)
			}
		case Object:
			for _, m := range cur.members {
				stack = append(stack, m.Value)
			}
		case Array:
			stack = append(stack, cur.items...)
		default:
			return fmt.Errorf("%w: %s value", domain.ErrMalformedInput, cur.kind)
		}
	}
	return nil
}

// isNumberLiteral checks s against the JSON number grammar. A valid JSON
// text that starts with a sign or digit and ends with a digit is a number.
func isNumberLiteral(s string) bool {
	if s == "" || !json.Valid([]byte(s)) {
		return false
	}
	return (s[0] == '-' || isDigit(s[0])) && isDigit(s[len(s)-1])
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
