package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lox/waterbudget/internal/auth"
	"github.com/lox/waterbudget/internal/demand"
	"github.com/lox/waterbudget/internal/metrics"
	"github.com/lox/waterbudget/internal/models"
)

var ErrCurveLookupNotFound = errors.New("calibration curve has no point for gauge")

// CurveProvider converts a gauge value into a volume in m³ using a device's
// calibration curve.
type CurveProvider interface {
	LookupVolume(ctx context.Context, kind models.ReadingKind, deviceID int64, gauge float64) (float64, error)
}

// CurveLookupError names the reading whose volume could not be derived.
type CurveLookupError struct {
	ReadingID int64
	Kind      models.ReadingKind
	DeviceID  int64
	Gauge     float64
	Err       error
}

func (e *CurveLookupError) Error() string {
	return fmt.Sprintf("reading %d (%s device %d, gauge %v): %v", e.ReadingID, e.Kind, e.DeviceID, e.Gauge, e.Err)
}

func (e *CurveLookupError) Unwrap() error { return e.Err }

// Series is one telemetry stream folded into calendar months, in m³. Counts
// holds raw readings for intake and per-device monthly snapshots for storage.
type Series struct {
	Values demand.Months          `json:"values"`
	Counts [demand.MonthCount]int `json:"counts"`
	Total  float64                `json:"total"`
}

type Result struct {
	Year     int                 `json:"year"`
	Intake   Series              `json:"intake"`
	Storage  Series              `json:"storage"`
	Failures []*CurveLookupError `json:"-"`
}

type Aggregator struct {
	curves CurveProvider
	logger *slog.Logger
}

func NewAggregator(curves CurveProvider, logger *slog.Logger) *Aggregator {
	return &Aggregator{curves: curves, logger: logger}
}

// Aggregate folds the readings of one year into the intake and storage
// series. Readings outside the year or outside scope are ignored. A reading
// whose gauge misses the curve contributes zero and is reported in Failures.
func (a *Aggregator) Aggregate(ctx context.Context, year int, readings []models.Reading, scope auth.Scope) (Result, error) {
	res := Result{Year: year}

	inScope := auth.Filter(scope, readings, func(r models.Reading) int64 { return r.SystemID })

	var storage []models.Reading
	for _, r := range inScope {
		if r.ObservedAt.Year() != year {
			continue
		}
		m := int(r.ObservedAt.Month()) - 1
		switch r.Kind {
		case models.ReadingIntake:
			res.Intake.Counts[m]++
			v, err := a.Volume(ctx, r)
			if err != nil {
				if fail := asLookupFailure(err); fail != nil {
					res.Failures = append(res.Failures, fail)
					continue
				}
				return Result{}, err
			}
			res.Intake.Values[m] += v
		case models.ReadingStorage:
			storage = append(storage, r)
		}
	}

	for _, snap := range MonthlySnapshots(storage) {
		res.Storage.Counts[int(snap.ObservedAt.Month())-1]++
		v, err := a.Volume(ctx, snap)
		if err != nil {
			if fail := asLookupFailure(err); fail != nil {
				res.Failures = append(res.Failures, fail)
				continue
			}
			return Result{}, err
		}
		res.Storage.Values[int(snap.ObservedAt.Month())-1] += v
	}

	res.Intake.Total = res.Intake.Values.Sum()
	res.Storage.Total = res.Storage.Values.Sum()

	if len(res.Failures) > 0 {
		a.logger.Warn("curve lookups failed during aggregation", "year", year, "failures", len(res.Failures))
	}
	return res, nil
}

// Volume returns a reading's volume in m³. A supplied volume wins over the
// gauge; otherwise the calibration curve is consulted.
func (a *Aggregator) Volume(ctx context.Context, r models.Reading) (float64, error) {
	if r.Volume.Valid {
		return r.Volume.Float64, nil
	}
	if !r.Gauge.Valid {
		return 0, &CurveLookupError{ReadingID: r.ID, Kind: r.Kind, DeviceID: r.DeviceID, Err: ErrCurveLookupNotFound}
	}
	v, err := a.curves.LookupVolume(ctx, r.Kind, r.DeviceID, r.Gauge.Float64)
	if err != nil {
		if errors.Is(err, ErrCurveLookupNotFound) {
			metrics.CurveLookupMisses.WithLabelValues(string(r.Kind)).Inc()
			return 0, &CurveLookupError{ReadingID: r.ID, Kind: r.Kind, DeviceID: r.DeviceID, Gauge: r.Gauge.Float64, Err: err}
		}
		return 0, fmt.Errorf("lookup volume for reading %d: %w", r.ID, err)
	}
	return v, nil
}

func asLookupFailure(err error) *CurveLookupError {
	var fail *CurveLookupError
	if errors.As(err, &fail) && errors.Is(err, ErrCurveLookupNotFound) {
		return fail
	}
	return nil
}
