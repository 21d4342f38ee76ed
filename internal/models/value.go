// Package models defines the core data structures that flow through the pipeline:
// tagged cell values, ordered rows, row sets, query results, search documents and run results.
package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Kind is the type tag of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	default:
		return "null"
	}
}

// Value is a scalar cell value: null, string, number or bool.
// Numbers keep their original JSON text so that stringification does not lose precision.
type Value struct {
	kind Kind
	text string
	num  float64
	b    bool
}

// Null returns the null value.
func Null() Value { return Value{} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, text: s} }

// Number returns a number value.
func Number(f float64) Value {
	return Value{kind: KindNumber, num: f, text: strconv.FormatFloat(f, 'f', -1, 64)}
}

// Bool returns a bool value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b, text: strconv.FormatBool(b)} }

// Kind returns the value's type tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Text returns the string form of v. ok is false for null.
func (v Value) Text() (s string, ok bool) {
	if v.kind == KindNull {
		return "", false
	}
	return v.text, true
}

// Float returns the numeric value of v when it is a number.
func (v Value) Float() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.num, true
}

// String implements fmt.Stringer; null renders as "null".
func (v Value) String() string {
	if v.kind == KindNull {
		return "null"
	}
	return v.text
}

// MarshalJSON encodes v as its JSON scalar.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.text)
	case KindNumber:
		return []byte(v.text), nil
	case KindBool:
		return []byte(strconv.FormatBool(v.b)), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes any JSON value. Arrays and objects are kept as compact JSON text
// with kind string; the reporting service only returns scalars in practice.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty JSON value")
	}
	switch data[0] {
	case 'n':
		*v = Null()
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, data); err != nil {
			return err
		}
		*v = String(buf.String())
	default:
		f, err := strconv.ParseFloat(string(data), 64)
		// Out-of-range numbers keep their text; Float reports the saturated value.
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return fmt.Errorf("invalid number %q: %w", data, err)
		}
		*v = Value{kind: KindNumber, num: f, text: string(data)}
	}
	return nil
}
