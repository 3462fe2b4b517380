package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/lox/waterbudget/internal/models"
	"github.com/lox/waterbudget/internal/telemetry"
)

// Gauges are matched to the millimetre.
func normalizeGauge(g float64) float64 {
	return math.Round(g*1000) / 1000
}

// InsertReading stores a reading. Returns false if a reading for the same
// device and timestamp already exists.
func (s *Store) InsertReading(ctx context.Context, r models.Reading) (bool, error) {
	if !r.Kind.Valid() {
		return false, fmt.Errorf("unknown reading kind %q", r.Kind)
	}
	gauge := r.Gauge
	if gauge.Valid {
		gauge.Float64 = normalizeGauge(gauge.Float64)
	}
	var ended sql.NullTime
	if r.EndedAt.Valid {
		ended = sql.NullTime{Time: r.EndedAt.Time.UTC().Truncate(time.Second), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO telemetry_readings (kind, device_id, observed_at, ended_at, gauge, volume, manual, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, device_id, observed_at) DO NOTHING
	`, string(r.Kind), r.DeviceID, r.ObservedAt.UTC().Truncate(time.Second), ended, gauge, r.Volume,
		r.Volume.Valid, r.Source, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("insert reading: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ReadingFilter narrows a reading query. Zero fields match everything.
type ReadingFilter struct {
	Kind     models.ReadingKind
	From, To time.Time // [From, To)
	SystemID *int64
}

// QueryReadings returns readings ordered by observation time, each tagged
// with the system its device belongs to.
func (s *Store) QueryReadings(ctx context.Context, f ReadingFilter) ([]models.Reading, error) {
	query := `
		SELECT r.id, r.kind, r.device_id, COALESCE(fi.system_id, fs.system_id, 0),
		       r.observed_at, r.ended_at, r.gauge, r.volume, r.manual, COALESCE(r.source, ''), r.created_at
		FROM telemetry_readings r
		LEFT JOIN channels ch ON r.kind = 'intake' AND ch.id = r.device_id
		LEFT JOIN storage_facilities fi ON fi.id = ch.facility_id
		LEFT JOIN storage_facilities fs ON r.kind = 'storage' AND fs.id = r.device_id
		WHERE 1 = 1`
	var args []any
	if f.Kind != "" {
		query += ` AND r.kind = ?`
		args = append(args, string(f.Kind))
	}
	if !f.From.IsZero() {
		query += ` AND r.observed_at >= ?`
		args = append(args, f.From.UTC())
	}
	if !f.To.IsZero() {
		query += ` AND r.observed_at < ?`
		args = append(args, f.To.UTC())
	}
	if f.SystemID != nil {
		query += ` AND COALESCE(fi.system_id, fs.system_id) = ?`
		args = append(args, *f.SystemID)
	}
	query += ` ORDER BY r.observed_at, r.id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Reading
	for rows.Next() {
		var r models.Reading
		var kind string
		var created sql.NullTime
		if err := rows.Scan(&r.ID, &kind, &r.DeviceID, &r.SystemID, &r.ObservedAt, &r.EndedAt,
			&r.Gauge, &r.Volume, &r.Manual, &r.Source, &created); err != nil {
			return nil, err
		}
		r.Kind = models.ReadingKind(kind)
		r.CreatedAt = created.Time
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListReadings returns every reading observed during a calendar year (UTC).
func (s *Store) ListReadings(ctx context.Context, year int, systemID *int64) ([]models.Reading, error) {
	return s.QueryReadings(ctx, ReadingFilter{
		From:     time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC),
		To:       time.Date(year+1, time.January, 1, 0, 0, 0, 0, time.UTC),
		SystemID: systemID,
	})
}

func (s *Store) UpsertCurvePoint(ctx context.Context, p models.CurvePoint) error {
	if !p.Kind.Valid() {
		return fmt.Errorf("unknown curve kind %q", p.Kind)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO curve_points (kind, device_id, gauge, volume)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(kind, device_id, gauge) DO UPDATE SET volume = excluded.volume
	`, string(p.Kind), p.DeviceID, normalizeGauge(p.Gauge), p.Volume)
	return err
}

// LookupVolume returns the calibrated volume for an exact gauge value.
func (s *Store) LookupVolume(ctx context.Context, kind models.ReadingKind, deviceID int64, gauge float64) (float64, error) {
	var volume float64
	err := s.db.QueryRowContext(ctx, `
		SELECT volume FROM curve_points WHERE kind = ? AND device_id = ? AND gauge = ?
	`, string(kind), deviceID, normalizeGauge(gauge)).Scan(&volume)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, telemetry.ErrCurveLookupNotFound
	}
	if err != nil {
		return 0, err
	}
	return volume, nil
}

// DeviceSystem returns the system a channel or facility belongs to.
func (s *Store) DeviceSystem(ctx context.Context, kind models.ReadingKind, deviceID int64) (int64, error) {
	var query string
	switch kind {
	case models.ReadingIntake:
		query = `SELECT f.system_id FROM channels ch JOIN storage_facilities f ON f.id = ch.facility_id WHERE ch.id = ?`
	case models.ReadingStorage:
		query = `SELECT system_id FROM storage_facilities WHERE id = ?`
	default:
		return 0, fmt.Errorf("unknown device kind %q", kind)
	}
	var systemID int64
	err := s.db.QueryRowContext(ctx, query, deviceID).Scan(&systemID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%s device %d: %w", kind, deviceID, ErrNotFound)
	}
	if err != nil {
		return 0, err
	}
	return systemID, nil
}
