package columnar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/Brandon-orbit/PSA-daisy/internal/blob"
	"github.com/Brandon-orbit/PSA-daisy/internal/models"
)

// ErrEmptyRowSet is returned for a row set without rows or columns.
var ErrEmptyRowSet = errors.New("row set is empty")

// PersistenceError reports a failure to produce or upload a blob.
type PersistenceError struct {
	BlobName string
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.BlobName, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Confirmation describes a stored blob.
type Confirmation struct {
	BlobName string `json:"blobName"`
	Location string `json:"location"`
	Rows     int    `json:"rows"`
	Bytes    int64  `json:"bytes"`
}

// BlobName returns "<prefix>/<query>_<unixMillis>.parquet".
func BlobName(prefix, query string, at time.Time) string {
	return path.Join(prefix, fmt.Sprintf("%s_%d.parquet", query, at.UnixMilli()))
}

// Writer stages parquet files on local disk and uploads them.
type Writer struct {
	uploader blob.Uploader
	tempDir  string
	logger   *zap.Logger
}

// Option configures a Writer.
type Option func(*Writer)

// WithTempDir sets where staging files are created (default os.TempDir()).
func WithTempDir(dir string) Option {
	return func(w *Writer) { w.tempDir = dir }
}

func WithLogger(l *zap.Logger) Option {
	return func(w *Writer) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWriter creates a Writer uploading through u.
func NewWriter(u blob.Uploader, opts ...Option) *Writer {
	w := &Writer{uploader: u, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Persist encodes rs as parquet and uploads it as blobName, overwriting any existing blob.
// Exactly one upload is attempted for a non-empty row set; the staging file is removed
// whatever the outcome.
func (w *Writer) Persist(ctx context.Context, rs *models.RowSet, blobName string) (*Confirmation, error) {
	if rs.IsEmpty() {
		return nil, &PersistenceError{BlobName: blobName, Err: ErrEmptyRowSet}
	}

	f, err := os.CreateTemp(w.tempDir, "daisy-*.parquet")
	if err != nil {
		return nil, &PersistenceError{BlobName: blobName, Err: fmt.Errorf("create staging file: %w", err)}
	}
	defer func() {
		_ = f.Close()
		if rerr := os.Remove(f.Name()); rerr != nil && !os.IsNotExist(rerr) {
			w.logger.Warn("failed to remove staging file", zap.String("path", f.Name()), zap.Error(rerr))
		}
	}()

	if err := Encode(f, rs); err != nil {
		return nil, &PersistenceError{BlobName: blobName, Err: err}
	}
	size, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, &PersistenceError{BlobName: blobName, Err: err}
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, &PersistenceError{BlobName: blobName, Err: err}
	}

	if err := w.uploader.Upload(ctx, blobName, f, size); err != nil {
		return nil, &PersistenceError{BlobName: blobName, Err: err}
	}
	w.logger.Info("uploaded parquet",
		zap.String("blob", blobName),
		zap.Int("rows", rs.Len()),
		zap.Int64("bytes", size))
	return &Confirmation{
		BlobName: blobName,
		Location: w.uploader.Location(blobName),
		Rows:     rs.Len(),
		Bytes:    size,
	}, nil
}
