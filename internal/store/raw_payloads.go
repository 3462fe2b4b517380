package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"
)

// StoreRawFile keeps a compressed copy of an imported telemetry file. It
// returns false when an identical file was stored before, which callers use
// to skip re-importing it.
func (s *Store) StoreRawFile(ctx context.Context, runID int64, fileName string, payload []byte) (bool, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return false, fmt.Errorf("compress payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return false, fmt.Errorf("close gzip: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO raw_files (import_run_id, fetched_at, file_name, payload_compressed, payload_hash)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(payload_hash) DO NOTHING
	`, sql.NullInt64{Int64: runID, Valid: runID != 0}, time.Now().UTC(), fileName, buf.Bytes(), PayloadHash(payload))
	if err != nil {
		return false, fmt.Errorf("insert raw file: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// HasRawFile reports whether a file with this content was already imported.
func (s *Store) HasRawFile(ctx context.Context, payload []byte) (bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM raw_files WHERE payload_hash = ?`, PayloadHash(payload)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RawFile retrieves and decompresses a stored file by name, newest first.
func (s *Store) RawFile(ctx context.Context, fileName string) ([]byte, error) {
	var compressed []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT payload_compressed FROM raw_files WHERE file_name = ? ORDER BY id DESC LIMIT 1
	`, fileName).Scan(&compressed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("raw file %q: %w", fileName, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()

	return io.ReadAll(gz)
}

func PayloadHash(payload []byte) string {
	hash := sha256.Sum256(payload)
	return hex.EncodeToString(hash[:])
}
