package models

import (
	"strings"
	"text/tabwriter"
)

// RowSet is the normalized result of one query: ordered rows sharing one column set.
// Columns are the keys of the first row, in order.
type RowSet struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// NewRowSet builds a RowSet whose columns are taken from the first row.
func NewRowSet(rows []Row) *RowSet {
	rs := &RowSet{Rows: rows}
	if len(rows) > 0 {
		rs.Columns = rows[0].Keys()
	}
	return rs
}

// Len returns the number of rows. A nil RowSet has no rows.
func (rs *RowSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.Rows)
}

// IsEmpty reports whether rs has no rows or no columns.
func (rs *RowSet) IsEmpty() bool {
	return rs.Len() == 0 || len(rs.Columns) == 0
}

// Content renders the row set as an aligned plain-text table (header line, then one line per row).
// Missing and null cells render as "null".
func (rs *RowSet) Content() string {
	if rs.IsEmpty() {
		return ""
	}
	var sb strings.Builder
	tw := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
	_, _ = tw.Write([]byte(strings.Join(rs.Columns, "\t") + "\n"))
	cells := make([]string, len(rs.Columns))
	for _, row := range rs.Rows {
		for i, col := range rs.Columns {
			v, _ := row.Get(col)
			cells[i] = v.String()
		}
		_, _ = tw.Write([]byte(strings.Join(cells, "\t") + "\n"))
	}
	_ = tw.Flush()
	return strings.TrimRight(sb.String(), "\n")
}

// NamedRowSet pairs a RowSet with the name of the query that produced it.
type NamedRowSet struct {
	Name   string
	RowSet *RowSet
}
