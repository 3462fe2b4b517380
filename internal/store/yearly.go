package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lox/waterbudget/internal/demand"
	"github.com/lox/waterbudget/internal/metrics"
	"github.com/lox/waterbudget/internal/models"
)

type recordKey struct {
	systemID int64
	year     int
}

// lockKey serialises writers of one (system, year) within this process.
func (s *Store) lockKey(k recordKey) func() {
	s.keyMu.Lock()
	mu, ok := s.keys[k]
	if !ok {
		mu = &sync.Mutex{}
		s.keys[k] = mu
	}
	s.keyMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

type BulkReplaceInput struct {
	SystemID             int64
	Year                 int
	FarmEfficiency       float64
	ConveyanceEfficiency float64
	Rows                 []demand.RowInput
}

type BulkReplaceResult struct {
	RecordID int64 `json:"record_id"`
	Rows     int   `json:"rows"`
}

// BulkReplace replaces the yearly record for (system, year) and all of its
// crop rows in one transaction. Every row is validated before anything is
// written; on any failure nothing changes.
func (s *Store) BulkReplace(ctx context.Context, in BulkReplaceInput) (*BulkReplaceResult, error) {
	res, err := s.bulkReplace(ctx, in)
	switch {
	case err == nil:
		metrics.BulkReplaces.WithLabelValues("ok").Inc()
		metrics.AllocationRowsWritten.Add(float64(res.Rows))
	case errors.Is(err, demand.ErrInvalidAllocation), errors.Is(err, demand.ErrInvalidEfficiency), errors.Is(err, ErrEmptyAllocationSet):
		metrics.BulkReplaces.WithLabelValues("invalid").Inc()
	default:
		metrics.BulkReplaces.WithLabelValues("error").Inc()
	}
	return res, err
}

func (s *Store) bulkReplace(ctx context.Context, in BulkReplaceInput) (*BulkReplaceResult, error) {
	eff := demand.Efficiency{Farm: in.FarmEfficiency, Conveyance: in.ConveyanceEfficiency}
	if err := eff.Validate(); err != nil {
		return nil, err
	}
	allocs, err := demand.ValidateRows(in.Rows)
	if err != nil {
		return nil, err
	}
	if len(allocs) == 0 {
		return nil, ErrEmptyAllocationSet
	}

	unlock := s.lockKey(recordKey{systemID: in.SystemID, year: in.Year})
	defer unlock()

	var result BulkReplaceResult
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM systems WHERE id = ?`, in.SystemID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("system %d: %w", in.SystemID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("check system: %w", err)
		}

		ids := make([]int64, len(allocs))
		for i, a := range allocs {
			ids[i] = a.CropID
		}
		crops, err := cropsByID(ctx, tx, ids)
		if err != nil {
			return fmt.Errorf("load crops: %w", err)
		}
		var total float64
		for _, a := range allocs {
			if _, ok := crops[a.CropID]; !ok {
				return &demand.AllocationError{Row: a.Index, Field: "crop", Reason: fmt.Sprintf("%d does not exist", a.CropID)}
			}
			total += a.Consumption
		}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM crop_allocations WHERE record_id IN (
				SELECT id FROM yearly_records WHERE system_id = ? AND year = ?
			)
		`, in.SystemID, in.Year); err != nil {
			return fmt.Errorf("delete allocations: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM yearly_records WHERE system_id = ? AND year = ?`, in.SystemID, in.Year); err != nil {
			return fmt.Errorf("delete record: %w", err)
		}

		recordID, err := insertID(ctx, tx, `
			INSERT INTO yearly_records (system_id, year, farm_efficiency, conveyance_efficiency, total_consumption, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, in.SystemID, in.Year, eff.Farm, eff.Conveyance, total, time.Now().UTC())
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("system %d year %d: %w", in.SystemID, in.Year, ErrDuplicateYearRecord)
			}
			return fmt.Errorf("insert record: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO crop_allocations (record_id, crop_id, area, planting_ratio, consumption, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare allocation insert: %w", err)
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for _, a := range allocs {
			if _, err := stmt.ExecContext(ctx, recordID, a.CropID, a.Area, a.PlantingRatio, a.Consumption, now); err != nil {
				return fmt.Errorf("insert allocation row %d: %w", a.Index+1, err)
			}
		}

		result = BulkReplaceResult{RecordID: recordID, Rows: len(allocs)}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("yearly allocations replaced",
		"system", in.SystemID,
		"year", in.Year,
		"record", result.RecordID,
		"rows", result.Rows,
	)
	return &result, nil
}

// CreateYearlyRecord inserts a record without crop rows. Such records carry
// only a total consumption, used by the dashboard fallback.
func (s *Store) CreateYearlyRecord(ctx context.Context, rec models.YearlyRecord) (int64, error) {
	if err := rec.Efficiency().Validate(); err != nil {
		return 0, err
	}
	id, err := insertID(ctx, s.db, `
		INSERT INTO yearly_records (system_id, year, farm_efficiency, conveyance_efficiency, total_consumption, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.SystemID, rec.Year, rec.FarmEfficiency, rec.ConveyanceEfficiency, rec.TotalConsumption, time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("system %d year %d: %w", rec.SystemID, rec.Year, ErrDuplicateYearRecord)
		}
		return 0, err
	}
	return id, nil
}

const recordColumns = `id, system_id, year, farm_efficiency, conveyance_efficiency, total_consumption, created_at`

// GetYearlyRecord returns the record for (system, year) with its rows.
func (s *Store) GetYearlyRecord(ctx context.Context, systemID int64, year int) (*models.YearlyRecord, error) {
	records, err := s.queryRecords(ctx, `SELECT `+recordColumns+` FROM yearly_records WHERE system_id = ? AND year = ?`, systemID, year)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("system %d year %d: %w", systemID, year, ErrNotFound)
	}
	return &records[0], nil
}

// ListYearlyRecords returns every record of a year with rows, optionally
// narrowed to one system.
func (s *Store) ListYearlyRecords(ctx context.Context, year int, systemID *int64) ([]models.YearlyRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM yearly_records WHERE year = ?`
	args := []any{year}
	if systemID != nil {
		query += ` AND system_id = ?`
		args = append(args, *systemID)
	}
	return s.queryRecords(ctx, query+` ORDER BY system_id`, args...)
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]models.YearlyRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var records []models.YearlyRecord
	for rows.Next() {
		var r models.YearlyRecord
		var created sql.NullTime
		if err := rows.Scan(&r.ID, &r.SystemID, &r.Year, &r.FarmEfficiency, &r.ConveyanceEfficiency, &r.TotalConsumption, &created); err != nil {
			rows.Close()
			return nil, err
		}
		r.CreatedAt = created.Time
		records = append(records, r)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return records, nil
	}

	ids := make([]int64, len(records))
	index := make(map[int64]int, len(records))
	for i, r := range records {
		ids[i] = r.ID
		index[r.ID] = i
	}
	allocs, err := s.allocationsFor(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load allocations: %w", err)
	}
	for _, a := range allocs {
		i := index[a.RecordID]
		records[i].Allocations = append(records[i].Allocations, a)
	}
	return records, nil
}

func (s *Store) allocationsFor(ctx context.Context, recordIDs []int64) ([]models.CropAllocation, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(recordIDs)), ",")
	args := make([]any, len(recordIDs))
	for i, id := range recordIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.record_id, a.crop_id, c.name, a.area, a.planting_ratio, a.consumption, a.created_at,
		       c.m1, c.m2, c.m3, c.m4, c.m5, c.m6, c.m7, c.m8, c.m9, c.m10, c.m11, c.m12
		FROM crop_allocations a
		JOIN crops c ON c.id = a.crop_id
		WHERE a.record_id IN (`+placeholders+`)
		ORDER BY a.record_id, a.id
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CropAllocation
	for rows.Next() {
		var a models.CropAllocation
		var created sql.NullTime
		var coef [demand.MonthCount]sql.NullFloat64
		dest := []any{&a.ID, &a.RecordID, &a.CropID, &a.CropName, &a.Area, &a.PlantingRatio, &a.Consumption, &created}
		for i := range coef {
			dest = append(dest, &coef[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		a.CreatedAt = created.Time
		for i, v := range coef {
			a.Coefficients[i] = v.Float64
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
