package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Query is a named extraction expression (a DAX query for the reporting service).
type Query struct {
	Name       string `json:"name"`
	Expression string `json:"query"`
}

// QuerySet is an ordered list of queries. It decodes from a JSON object of
// name → expression and keeps the object's key order.
type QuerySet []Query

// Names returns the query names in order.
func (qs QuerySet) Names() []string {
	names := make([]string, len(qs))
	for i, q := range qs {
		names[i] = q.Name
	}
	return names
}

// UnmarshalJSON decodes {"name": "expression", ...} in document order.
// Duplicate names are rejected.
func (qs *QuerySet) UnmarshalJSON(data []byte) error {
	out := QuerySet{}
	seen := make(map[string]struct{})
	err := decodeObject(data, func(key string, raw json.RawMessage) error {
		var expr string
		if err := json.Unmarshal(raw, &expr); err != nil {
			return fmt.Errorf("query %q: expression must be a string", key)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("duplicate query name %q", key)
		}
		seen[key] = struct{}{}
		out = append(out, Query{Name: key, Expression: expr})
		return nil
	})
	if err != nil {
		return err
	}
	*qs = out
	return nil
}

// MarshalJSON encodes the set as a JSON object in order.
func (qs QuerySet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, q := range qs {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(q.Name)
		v, _ := json.Marshal(q.Expression)
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// QueryResult is the envelope returned by the dataset executeQueries endpoint.
type QueryResult struct {
	Results []QueryResultEntry `json:"results"`
	Error   *APIError          `json:"error,omitempty"`

	raw json.RawMessage
}

// QueryResultEntry is the result of one query in the envelope.
type QueryResultEntry struct {
	Tables []Table   `json:"tables"`
	Error  *APIError `json:"error,omitempty"`
}

// Table is one result table.
type Table struct {
	Rows []Row `json:"rows"`
}

// APIError is the error object embedded in reporting service responses.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// ParseQueryResult decodes body and keeps a copy of the raw bytes.
func ParseQueryResult(body []byte) (*QueryResult, error) {
	var r QueryResult
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("decode query result: %w", err)
	}
	r.raw = append(json.RawMessage(nil), body...)
	return &r, nil
}

// Err returns the first error reported inside the envelope, if any.
func (r *QueryResult) Err() error {
	if r == nil {
		return nil
	}
	if r.Error != nil {
		return r.Error
	}
	for _, res := range r.Results {
		if res.Error != nil {
			return res.Error
		}
	}
	return nil
}

// MarshalJSON returns the raw response when the result was parsed from the wire.
func (r QueryResult) MarshalJSON() ([]byte, error) {
	if len(r.raw) > 0 {
		return r.raw, nil
	}
	type plain QueryResult
	return json.Marshal(plain(r))
}
