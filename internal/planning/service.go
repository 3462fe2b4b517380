package planning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lox/waterbudget/internal/auth"
	"github.com/lox/waterbudget/internal/dashboard"
	"github.com/lox/waterbudget/internal/demand"
	"github.com/lox/waterbudget/internal/metrics"
	"github.com/lox/waterbudget/internal/models"
	"github.com/lox/waterbudget/internal/store"
	"github.com/lox/waterbudget/internal/telemetry"
)

// Service applies authorization and the demand engine on top of the store.
type Service struct {
	store      *store.Store
	aggregator *telemetry.Aggregator
	logger     *slog.Logger
}

func NewService(st *store.Store, aggregator *telemetry.Aggregator, logger *slog.Logger) *Service {
	return &Service{store: st, aggregator: aggregator, logger: logger}
}

// Ping checks the database is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// RowView is one persisted crop row with its derived values.
type RowView struct {
	CropID          int64         `json:"crop_id"`
	Crop            string        `json:"crop"`
	Area            float64       `json:"area"`
	PlantingRatio   float64       `json:"planting_ratio"`
	Consumption     float64       `json:"consumption"`
	UnitConsumption float64       `json:"unit_consumption"`
	Weighted        demand.Months `json:"weighted"`
	Total           float64       `json:"total"`
}

// Demand is the computed demand of one yearly record.
type Demand struct {
	RecordID             int64         `json:"record_id"`
	SystemID             int64         `json:"system_id"`
	Year                 int           `json:"year"`
	FarmEfficiency       float64       `json:"farm_efficiency"`
	ConveyanceEfficiency float64       `json:"conveyance_efficiency"`
	TotalEfficiency      float64       `json:"total_efficiency"`
	TotalConsumption     float64       `json:"total_consumption"`
	Rows                 []RowView     `json:"rows"`
	Series               demand.Series `json:"series"`

	// DashboardNet is the record's share of the dashboard's net demand. It
	// uses the closed form, which ignores the planting ratio, so it differs
	// from Series.Net whenever a ratio is not equal to its row's area.
	DashboardNet      demand.Months `json:"dashboard_net"`
	DashboardNetTotal float64       `json:"dashboard_net_total"`
}

func (s *Service) record(ctx context.Context, scope auth.Scope, systemID int64, year int) (*models.YearlyRecord, error) {
	if err := auth.Require(scope, systemID); err != nil {
		return nil, err
	}
	return s.store.GetYearlyRecord(ctx, systemID, year)
}

func rowsOf(rec *models.YearlyRecord) []demand.Row {
	rows := make([]demand.Row, len(rec.Allocations))
	for i, a := range rec.Allocations {
		rows[i] = a.Row()
	}
	return rows
}

// Demand computes the monthly demand series for (system, year).
func (s *Service) Demand(ctx context.Context, scope auth.Scope, systemID int64, year int) (*Demand, error) {
	rec, err := s.record(ctx, scope, systemID, year)
	if err != nil {
		metrics.DemandComputations.WithLabelValues(outcome(err)).Inc()
		return nil, err
	}
	rows := rowsOf(rec)
	series, err := demand.Compute(rows, rec.Efficiency())
	if err != nil {
		metrics.DemandComputations.WithLabelValues(outcome(err)).Inc()
		return nil, fmt.Errorf("record %d: %w", rec.ID, err)
	}
	metrics.DemandComputations.WithLabelValues("ok").Inc()

	d := &Demand{
		RecordID:             rec.ID,
		SystemID:             rec.SystemID,
		Year:                 rec.Year,
		FarmEfficiency:       rec.FarmEfficiency,
		ConveyanceEfficiency: rec.ConveyanceEfficiency,
		TotalEfficiency:      rec.Efficiency().Total(),
		TotalConsumption:     rec.TotalConsumption,
		Rows:                 make([]RowView, len(rows)),
		Series:               series,
	}
	d.DashboardNet = dashboard.NetDemand([]models.YearlyRecord{*rec})
	d.DashboardNetTotal = d.DashboardNet.Sum()
	for i, r := range rows {
		d.Rows[i] = RowView{
			CropID:          r.CropID,
			Crop:            r.CropName,
			Area:            r.Area,
			PlantingRatio:   r.PlantingRatio,
			Consumption:     r.Consumption,
			UnitConsumption: r.UnitConsumption(),
			Weighted:        r.Weighted(),
			Total:           r.RawTotal(),
		}
	}
	return d, nil
}

// Grid lays the record out as the fixed legacy sheet.
func (s *Service) Grid(ctx context.Context, scope auth.Scope, systemID int64, year int) (*demand.Grid, error) {
	rec, err := s.record(ctx, scope, systemID, year)
	if err != nil {
		return nil, err
	}
	return demand.NewGrid(rowsOf(rec), rec.Efficiency())
}

// Replace checks scope and replaces the record's rows.
func (s *Service) Replace(ctx context.Context, scope auth.Scope, in store.BulkReplaceInput) (*store.BulkReplaceResult, error) {
	if err := auth.Require(scope, in.SystemID); err != nil {
		return nil, err
	}
	return s.store.BulkReplace(ctx, in)
}

// Telemetry aggregates both telemetry streams of one system for a year.
func (s *Service) Telemetry(ctx context.Context, scope auth.Scope, systemID int64, year int) (*telemetry.Result, error) {
	if err := auth.Require(scope, systemID); err != nil {
		return nil, err
	}
	readings, err := s.store.ListReadings(ctx, year, &systemID)
	if err != nil {
		return nil, fmt.Errorf("list readings: %w", err)
	}
	res, err := s.aggregator.Aggregate(ctx, year, readings, scope)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Facilities reports the latest state of each storage facility in scope.
func (s *Service) Facilities(ctx context.Context, scope auth.Scope, systemID *int64) ([]telemetry.FacilityStatus, error) {
	if systemID != nil {
		if err := auth.Require(scope, *systemID); err != nil {
			return nil, err
		}
	}
	facilities, err := s.store.ListFacilities(ctx, systemID)
	if err != nil {
		return nil, fmt.Errorf("list facilities: %w", err)
	}
	facilities = auth.Filter(scope, facilities, func(f models.StorageFacility) int64 { return f.SystemID })

	readings, err := s.store.QueryReadings(ctx, store.ReadingFilter{Kind: models.ReadingStorage, SystemID: systemID})
	if err != nil {
		return nil, fmt.Errorf("list storage readings: %w", err)
	}
	return s.aggregator.FacilityStatuses(ctx, facilities, readings)
}

// CurveVolume converts one gauge value for a device the caller can see.
func (s *Service) CurveVolume(ctx context.Context, scope auth.Scope, kind models.ReadingKind, deviceID int64, gauge float64) (float64, error) {
	systemID, err := s.store.DeviceSystem(ctx, kind, deviceID)
	if err != nil {
		return 0, err
	}
	if err := auth.Require(scope, systemID); err != nil {
		return 0, err
	}
	v, err := s.store.LookupVolume(ctx, kind, deviceID, gauge)
	if err != nil {
		if errors.Is(err, telemetry.ErrCurveLookupNotFound) {
			metrics.CurveLookupMisses.WithLabelValues(string(kind)).Inc()
			return 0, &telemetry.CurveLookupError{Kind: kind, DeviceID: deviceID, Gauge: gauge, Err: err}
		}
		return 0, err
	}
	return v, nil
}

// Systems lists the systems in scope.
func (s *Service) Systems(ctx context.Context, scope auth.Scope) ([]models.System, error) {
	systems, err := s.store.ListSystems(ctx)
	if err != nil {
		return nil, err
	}
	return auth.Filter(scope, systems, func(sys models.System) int64 { return sys.ID }), nil
}

// Crops lists the crop catalog for a system in scope, or the whole catalog.
func (s *Service) Crops(ctx context.Context, scope auth.Scope, systemID *int64) ([]models.Crop, error) {
	if systemID != nil {
		if err := auth.Require(scope, *systemID); err != nil {
			return nil, err
		}
	}
	return s.store.ListCrops(ctx, systemID)
}

func outcome(err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, auth.ErrForbidden):
		return "forbidden"
	case errors.Is(err, demand.ErrInvalidEfficiency):
		return "invalid_efficiency"
	default:
		return "error"
	}
}
