package columnar

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brandon-orbit/PSA-daisy/internal/models"
)

type fakeUploader struct {
	calls int
	name  string
	data  []byte
	size  int64
	err   error
}

func (u *fakeUploader) Upload(_ context.Context, name string, r io.ReadSeeker, size int64) error {
	u.calls++
	if u.err != nil {
		return u.err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	u.name, u.data, u.size = name, b, size
	return nil
}

func (u *fakeUploader) Location(name string) string { return "mem://" + name }
func (u *fakeUploader) Close() error                { return nil }

func salesRowSet() *models.RowSet {
	return models.NewRowSet([]models.Row{
		models.NewRow("region", "A", "amount", 10),
		models.NewRow("region", "B", "amount", nil),
	})
}

func readBack(t *testing.T, data []byte) (cols []string, values [][]*string) {
	t.Helper()
	tbl, err := pqarrow.ReadTable(context.Background(), bytes.NewReader(data),
		parquet.NewReaderProperties(memory.DefaultAllocator), pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	require.NoError(t, err)
	defer tbl.Release()

	for i := 0; i < int(tbl.NumCols()); i++ {
		col := tbl.Column(i)
		cols = append(cols, col.Name())
		var vals []*string
		for _, chunk := range col.Data().Chunks() {
			arr := chunk.(*array.String)
			for j := 0; j < arr.Len(); j++ {
				if arr.IsNull(j) {
					vals = append(vals, nil)
					continue
				}
				s := arr.Value(j)
				vals = append(vals, &s)
			}
		}
		values = append(values, vals)
	}
	return cols, values
}

func TestPersist_UploadsParquet(t *testing.T) {
	tmp := t.TempDir()
	up := &fakeUploader{}
	w := NewWriter(up, WithTempDir(tmp))

	conf, err := w.Persist(context.Background(), salesRowSet(), "powerbi_data/sales_1.parquet")
	require.NoError(t, err)
	assert.Equal(t, 1, up.calls)
	assert.Equal(t, "powerbi_data/sales_1.parquet", up.name)
	assert.Equal(t, "mem://powerbi_data/sales_1.parquet", conf.Location)
	assert.Equal(t, 2, conf.Rows)
	assert.EqualValues(t, len(up.data), up.size)
	assert.Equal(t, conf.Bytes, up.size)

	cols, values := readBack(t, up.data)
	assert.Equal(t, []string{"region", "amount"}, cols)
	require.Len(t, values, 2)
	assert.Equal(t, "A", *values[0][0])
	assert.Equal(t, "B", *values[0][1])
	assert.Equal(t, "10", *values[1][0])
	assert.Nil(t, values[1][1])

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPersist_EmptyRowSet(t *testing.T) {
	up := &fakeUploader{}
	w := NewWriter(up, WithTempDir(t.TempDir()))

	for _, rs := range []*models.RowSet{nil, models.NewRowSet(nil)} {
		_, err := w.Persist(context.Background(), rs, "x.parquet")
		var pe *PersistenceError
		require.True(t, errors.As(err, &pe))
		assert.ErrorIs(t, err, ErrEmptyRowSet)
		assert.Equal(t, "x.parquet", pe.BlobName)
	}
	assert.Zero(t, up.calls)
}

func TestPersist_UploadFailureCleansUp(t *testing.T) {
	tmp := t.TempDir()
	boom := errors.New("storage unavailable")
	up := &fakeUploader{err: boom}
	w := NewWriter(up, WithTempDir(tmp))

	_, err := w.Persist(context.Background(), salesRowSet(), "x.parquet")
	var pe *PersistenceError
	require.True(t, errors.As(err, &pe))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, up.calls)

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEncode_MissingCellsAreNull(t *testing.T) {
	rs := models.NewRowSet([]models.Row{
		models.NewRow("a", "1", "b", true),
		models.NewRow("a", "2"),
	})
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, rs))

	cols, values := readBack(t, buf.Bytes())
	assert.Equal(t, []string{"a", "b"}, cols)
	assert.Equal(t, "true", *values[1][0])
	assert.Nil(t, values[1][1])
}

func TestBlobName(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	assert.Equal(t, "powerbi_data/sales_1700000000123.parquet", BlobName("powerbi_data", "sales", at))
	assert.Equal(t, "sales_1700000000123.parquet", BlobName("", "sales", at))
}
