package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Brandon-orbit/PSA-daisy/internal/models"
)

var _ RunStore = (*SQLiteStorage)(nil)

// SQLiteStorage implements RunStore using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		dataset_id TEXT NOT NULL,
		status TEXT NOT NULL,
		message TEXT,
		extracted_records INTEGER NOT NULL DEFAULT 0,
		indexed_documents INTEGER NOT NULL DEFAULT 0,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

	CREATE TABLE IF NOT EXISTS run_queries (
		run_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		outcome TEXT NOT NULL,
		blob_name TEXT,
		row_count INTEGER NOT NULL DEFAULT 0,
		reason TEXT,
		PRIMARY KEY (run_id, position),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);
	`
	_, err := db.Exec(schema)
	return err
}

// SaveRun stores run and its query outcomes in one transaction.
func (s *SQLiteStorage) SaveRun(ctx context.Context, run *models.PipelineRunResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs
		 (id, dataset_id, status, message, extracted_records, indexed_documents, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.DatasetID, string(run.Status), run.Message,
		run.ExtractedRecords, run.IndexedDocuments, run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM run_queries WHERE run_id = ?`, run.RunID); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO run_queries (run_id, position, name, outcome, blob_name, row_count, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, q := range run.Outcomes() {
		if _, err := stmt.ExecContext(ctx, run.RunID, i, q.Name, q.Outcome, q.BlobName, q.RowCount, q.Reason); err != nil {
			return fmt.Errorf("failed to save query outcome: %w", err)
		}
	}
	return tx.Commit()
}

const runColumns = `id, dataset_id, status, message, extracted_records, indexed_documents, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*models.RunRecord, error) {
	var rec models.RunRecord
	var status string
	var message sql.NullString
	var finished sql.NullTime
	if err := row.Scan(&rec.ID, &rec.DatasetID, &status, &message,
		&rec.ExtractedRecords, &rec.IndexedDocuments, &rec.StartedAt, &finished); err != nil {
		return nil, err
	}
	rec.Status = models.RunStatus(status)
	rec.Message = message.String
	if finished.Valid {
		rec.FinishedAt = finished.Time
	}
	return &rec, nil
}

// GetRun returns a run by ID including its query outcomes.
func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*models.RunRecord, error) {
	rec, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, outcome, blob_name, row_count, reason
		 FROM run_queries WHERE run_id = ? ORDER BY position`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var q models.QueryOutcome
		var blobName, reason sql.NullString
		if err := rows.Scan(&q.Name, &q.Outcome, &blobName, &q.RowCount, &reason); err != nil {
			return nil, err
		}
		q.BlobName = blobName.String
		q.Reason = reason.String
		rec.Queries = append(rec.Queries, q)
	}
	return rec, rows.Err()
}

// ListRuns returns runs with offset and limit, newest first.
func (s *SQLiteStorage) ListRuns(ctx context.Context, offset, limit int) ([]*models.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}

// CountRuns returns the total number of recorded runs.
func (s *SQLiteStorage) CountRuns(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
