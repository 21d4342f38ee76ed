// Package storage keeps the history of pipeline runs.
package storage

import (
	"context"
	"errors"

	"github.com/Brandon-orbit/PSA-daisy/internal/models"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// RunStore defines run history persistence operations.
type RunStore interface {
	// SaveRun inserts or replaces a run together with its per-query outcomes.
	SaveRun(ctx context.Context, run *models.PipelineRunResult) error
	GetRun(ctx context.Context, id string) (*models.RunRecord, error)
	// ListRuns returns runs newest first, without per-query outcomes.
	ListRuns(ctx context.Context, offset, limit int) ([]*models.RunRecord, error)
	CountRuns(ctx context.Context) (int64, error)

	Close() error
}
