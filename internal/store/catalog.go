package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lox/waterbudget/internal/demand"
	"github.com/lox/waterbudget/internal/models"
)

const cropColumns = `id, system_id, name, category, m1, m2, m3, m4, m5, m6, m7, m8, m9, m10, m11, m12`

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) CreateRegion(ctx context.Context, name string) (int64, error) {
	return insertID(ctx, s.db, `INSERT INTO regions (name) VALUES (?)`, name)
}

func (s *Store) CreateSystem(ctx context.Context, sys models.System) (int64, error) {
	return insertID(ctx, s.db, `INSERT INTO systems (region_id, name) VALUES (?, ?)`, sys.RegionID, sys.Name)
}

func (s *Store) ListSystems(ctx context.Context) ([]models.System, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, region_id, name FROM systems ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var systems []models.System
	for rows.Next() {
		var sys models.System
		if err := rows.Scan(&sys.ID, &sys.RegionID, &sys.Name); err != nil {
			return nil, err
		}
		systems = append(systems, sys)
	}
	return systems, rows.Err()
}

func (s *Store) GetSystem(ctx context.Context, id int64) (*models.System, error) {
	var sys models.System
	err := s.db.QueryRowContext(ctx, `SELECT id, region_id, name FROM systems WHERE id = ?`, id).
		Scan(&sys.ID, &sys.RegionID, &sys.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("system %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &sys, nil
}

func (s *Store) CreateFacility(ctx context.Context, f models.StorageFacility) (int64, error) {
	return insertID(ctx, s.db, `
		INSERT INTO storage_facilities (system_id, name, crest_level, min_level, max_level, min_volume, max_volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, f.SystemID, f.Name, f.CrestLevel, f.MinLevel, f.MaxLevel, f.MinVolume, f.MaxVolume)
}

// ListFacilities returns storage facilities, optionally for one system.
func (s *Store) ListFacilities(ctx context.Context, systemID *int64) ([]models.StorageFacility, error) {
	query := `SELECT id, system_id, name, crest_level, min_level, max_level, min_volume, max_volume FROM storage_facilities`
	var args []any
	if systemID != nil {
		query += ` WHERE system_id = ?`
		args = append(args, *systemID)
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.StorageFacility
	for rows.Next() {
		var f models.StorageFacility
		if err := rows.Scan(&f.ID, &f.SystemID, &f.Name, &f.CrestLevel, &f.MinLevel, &f.MaxLevel, &f.MinVolume, &f.MaxVolume); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) CreateChannel(ctx context.Context, ch models.Channel) (int64, error) {
	return insertID(ctx, s.db, `INSERT INTO channels (facility_id, code, name) VALUES (?, ?, ?)`,
		ch.FacilityID, ch.Code, ch.Name)
}

// ChannelByCode resolves a SCADA channel code to its id.
func (s *Store) ChannelByCode(ctx context.Context, code string) (*models.Channel, error) {
	var ch models.Channel
	var name sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT id, facility_id, code, name FROM channels WHERE code = ?`, code).
		Scan(&ch.ID, &ch.FacilityID, &ch.Code, &name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("channel %q: %w", code, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	ch.Name = name.String
	return &ch, nil
}

func (s *Store) CreateCrop(ctx context.Context, c models.Crop) (int64, error) {
	args := []any{nullSystem(c.SystemID), c.Name, c.Category}
	for _, v := range c.Coefficients {
		args = append(args, v)
	}
	return insertID(ctx, s.db, `
		INSERT INTO crops (system_id, name, category, m1, m2, m3, m4, m5, m6, m7, m8, m9, m10, m11, m12)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, args...)
}

// ListCrops returns the crop catalog. With a system id it returns that
// system's crops plus the shared ones.
func (s *Store) ListCrops(ctx context.Context, systemID *int64) ([]models.Crop, error) {
	query := `SELECT ` + cropColumns + ` FROM crops`
	var args []any
	if systemID != nil {
		query += ` WHERE system_id = ? OR system_id IS NULL`
		args = append(args, *systemID)
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY name, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCrops(rows)
}

// cropsByID loads the given crops keyed by id. Unknown ids are absent.
func cropsByID(ctx context.Context, q queryer, ids []int64) (map[int64]models.Crop, error) {
	out := make(map[int64]models.Crop, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := q.QueryContext(ctx, `SELECT `+cropColumns+` FROM crops WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	crops, err := scanCrops(rows)
	if err != nil {
		return nil, err
	}
	for _, c := range crops {
		out[c.ID] = c
	}
	return out, nil
}

func scanCrops(rows *sql.Rows) ([]models.Crop, error) {
	var crops []models.Crop
	for rows.Next() {
		var c models.Crop
		var systemID sql.NullInt64
		var category sql.NullString
		var coef [demand.MonthCount]sql.NullFloat64
		dest := []any{&c.ID, &systemID, &c.Name, &category}
		for i := range coef {
			dest = append(dest, &coef[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		c.SystemID = systemID.Int64
		c.Category = category.String
		for i, v := range coef {
			c.Coefficients[i] = v.Float64
		}
		crops = append(crops, c)
	}
	return crops, rows.Err()
}

func nullSystem(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

func insertID(ctx context.Context, e execer, query string, args ...any) (int64, error) {
	res, err := e.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) ListRegions(ctx context.Context) ([]models.Region, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM regions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regions []models.Region
	for rows.Next() {
		var r models.Region
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, err
		}
		regions = append(regions, r)
	}
	return regions, rows.Err()
}
