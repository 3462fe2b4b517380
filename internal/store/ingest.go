package store

import (
	"context"
	"database/sql"
	"time"
)

// ImportRun records one telemetry file import for auditing.
type ImportRun struct {
	ID            int64
	BatchID       string
	StartedAt     time.Time
	FinishedAt    sql.NullTime
	Source        string // "ftp", "file"
	FileName      string
	RecordsParsed sql.NullInt64
	RecordsStored sql.NullInt64
	ParseErrors   sql.NullInt64
	Success       bool
	ErrorMessage  sql.NullString
}

// StartImportRun creates a new import run record and returns it.
func (s *Store) StartImportRun(ctx context.Context, batchID, source, fileName string) (*ImportRun, error) {
	run := &ImportRun{
		BatchID:   batchID,
		StartedAt: time.Now().UTC(),
		Source:    source,
		FileName:  fileName,
	}

	id, err := insertID(ctx, s.db, `
		INSERT INTO import_runs (batch_id, started_at, source, file_name, success)
		VALUES (?, ?, ?, ?, FALSE)
	`, run.BatchID, run.StartedAt, run.Source, run.FileName)
	if err != nil {
		return nil, err
	}
	run.ID = id
	return run, nil
}

// CompleteImportRun updates the import run with results.
func (s *Store) CompleteImportRun(ctx context.Context, run *ImportRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.ExecContext(ctx, `
		UPDATE import_runs SET
			finished_at = ?,
			records_parsed = ?,
			records_stored = ?,
			parse_errors = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.RecordsParsed, run.RecordsStored, run.ParseErrors,
		run.Success, run.ErrorMessage, run.ID)
	return err
}

// RecentImportErrors returns recent failed import runs.
func (s *Store) RecentImportErrors(ctx context.Context, limit int) ([]ImportRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, batch_id, started_at, finished_at, source, file_name,
			   records_parsed, records_stored, parse_errors, success, error_message
		FROM import_runs
		WHERE success = FALSE
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ImportRun
	for rows.Next() {
		var r ImportRun
		if err := rows.Scan(&r.ID, &r.BatchID, &r.StartedAt, &r.FinishedAt, &r.Source, &r.FileName,
			&r.RecordsParsed, &r.RecordsStored, &r.ParseErrors, &r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
