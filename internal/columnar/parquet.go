// Package columnar encodes row sets as parquet files and hands them to object storage.
package columnar

import (
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/Brandon-orbit/PSA-daisy/internal/models"
)

// Schema returns the parquet schema of rs: one nullable UTF-8 column per column name.
func Schema(rs *models.RowSet) *arrow.Schema {
	fields := make([]arrow.Field, len(rs.Columns))
	for i, col := range rs.Columns {
		fields[i] = arrow.Field{Name: col, Type: arrow.BinaryTypes.String, Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

// Encode writes rs to w as a single-row-group parquet file. Every value is
// stringified; nulls and missing cells are written as parquet nulls.
func Encode(w io.Writer, rs *models.RowSet) error {
	if rs.IsEmpty() {
		return ErrEmptyRowSet
	}
	schema := Schema(rs)
	rec := buildRecord(schema, rs)
	defer rec.Release()

	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	// The writer closes its sink; hide Close so the caller keeps ownership of w.
	fw, err := pqarrow.NewFileWriter(schema, struct{ io.Writer }{w}, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return fmt.Errorf("create parquet writer: %w", err)
	}
	if err := fw.Write(rec); err != nil {
		_ = fw.Close()
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

func buildRecord(schema *arrow.Schema, rs *models.RowSet) arrow.Record {
	builders := make([]*array.StringBuilder, len(rs.Columns))
	for i := range rs.Columns {
		builders[i] = array.NewStringBuilder(memory.DefaultAllocator)
	}
	for _, row := range rs.Rows {
		for i, col := range rs.Columns {
			v, ok := row.Get(col)
			if !ok || v.IsNull() {
				builders[i].AppendNull()
				continue
			}
			builders[i].Append(v.String())
		}
	}

	cols := make([]arrow.Array, len(rs.Columns))
	for i := range rs.Columns {
		cols[i] = builders[i].NewArray()
		builders[i].Release()
	}
	rec := array.NewRecord(schema, cols, int64(len(rs.Rows)))
	for i := range cols {
		cols[i].Release()
	}
	return rec
}
