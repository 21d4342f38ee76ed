package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Row is a mapping of column name to Value that remembers the order in which
// columns were first set (the key order of the JSON object it was decoded from).
type Row struct {
	keys   []string
	values map[string]Value
}

// NewRow builds a row from alternating key/value pairs in order.
func NewRow(pairs ...any) Row {
	var r Row
	for i := 0; i+1 < len(pairs); i += 2 {
		key, _ := pairs[i].(string)
		switch v := pairs[i+1].(type) {
		case Value:
			r.Set(key, v)
		case string:
			r.Set(key, String(v))
		case float64:
			r.Set(key, Number(v))
		case int:
			r.Set(key, Number(float64(v)))
		case bool:
			r.Set(key, Bool(v))
		default:
			r.Set(key, Null())
		}
	}
	return r
}

// Set stores v under key, appending key to the column order if it is new.
func (r *Row) Set(key string, v Value) {
	if r.values == nil {
		r.values = make(map[string]Value)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = v
}

// Get returns the value stored under key.
func (r Row) Get(key string) (Value, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Keys returns the column names in order.
func (r Row) Keys() []string {
	return append([]string(nil), r.keys...)
}

// Len returns the number of columns in the row.
func (r Row) Len() int { return len(r.keys) }

// MarshalJSON encodes the row as a JSON object in column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := r.values[k].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, preserving key order.
func (r *Row) UnmarshalJSON(data []byte) error {
	*r = Row{}
	return decodeObject(data, func(key string, raw json.RawMessage) error {
		var v Value
		if err := v.UnmarshalJSON(raw); err != nil {
			return fmt.Errorf("column %q: %w", key, err)
		}
		r.Set(key, v)
		return nil
	})
}

// decodeObject walks the members of a JSON object in document order.
// A JSON null is treated as an empty object.
func decodeObject(data []byte, fn func(key string, raw json.RawMessage) error) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("expected JSON object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected object key, got %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		if err := fn(key, raw); err != nil {
			return err
		}
	}
	_, err = dec.Token()
	return err
}
