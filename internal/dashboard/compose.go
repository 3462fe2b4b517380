package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lox/waterbudget/internal/auth"
	"github.com/lox/waterbudget/internal/demand"
	"github.com/lox/waterbudget/internal/metrics"
	"github.com/lox/waterbudget/internal/models"
	"github.com/lox/waterbudget/internal/telemetry"
)

// Source loads the yearly records (with allocations and coefficients) and
// the telemetry readings for a year. A nil systemID means every system.
type Source interface {
	ListYearlyRecords(ctx context.Context, year int, systemID *int64) ([]models.YearlyRecord, error)
	ListReadings(ctx context.Context, year int, systemID *int64) ([]models.Reading, error)
}

type Month struct {
	Month        int     `json:"month"`
	Name         string  `json:"name"`
	Intake       float64 `json:"intake_m3"`
	Storage      float64 `json:"storage_m3"`
	DemandHm3    float64 `json:"demand_hm3"`
	DemandM3     float64 `json:"demand_m3"`
	IntakeCount  int     `json:"intake_count"`
	StorageCount int     `json:"storage_count"`
}

type Totals struct {
	Intake    float64 `json:"intake_m3"`
	Storage   float64 `json:"storage_m3"`
	DemandHm3 float64 `json:"demand_hm3"`
	DemandM3  float64 `json:"demand_m3"`
}

type Snapshot struct {
	Year        int                           `json:"year"`
	SystemID    *int64                        `json:"system_id,omitempty"`
	Records     int                           `json:"records"`
	Months      []Month                       `json:"months"`
	Totals      Totals                        `json:"totals"`
	Sufficiency Sufficiency                   `json:"sufficiency"`
	Failures    []*telemetry.CurveLookupError `json:"-"`
}

type Composer struct {
	source     Source
	aggregator *telemetry.Aggregator
	clock      clockwork.Clock
	logger     *slog.Logger
}

func NewComposer(source Source, aggregator *telemetry.Aggregator, clock clockwork.Clock, logger *slog.Logger) *Composer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Composer{source: source, aggregator: aggregator, clock: clock, logger: logger}
}

// Compose builds the monthly dashboard for a year, optionally narrowed to
// one system. Requesting a system outside scope fails with auth.ErrForbidden.
func (c *Composer) Compose(ctx context.Context, year int, systemID *int64, scope auth.Scope) (*Snapshot, error) {
	start := time.Now()
	defer func() {
		metrics.DashboardComposeLatency.Observe(time.Since(start).Seconds())
	}()

	if systemID != nil {
		if err := auth.Require(scope, *systemID); err != nil {
			return nil, err
		}
	}

	records, err := c.source.ListYearlyRecords(ctx, year, systemID)
	if err != nil {
		return nil, fmt.Errorf("list yearly records: %w", err)
	}
	records = auth.Filter(scope, records, func(r models.YearlyRecord) int64 { return r.SystemID })

	readings, err := c.source.ListReadings(ctx, year, systemID)
	if err != nil {
		return nil, fmt.Errorf("list readings: %w", err)
	}
	tel, err := c.aggregator.Aggregate(ctx, year, readings, scope)
	if err != nil {
		return nil, fmt.Errorf("aggregate telemetry: %w", err)
	}

	net := NetDemand(records)

	snap := &Snapshot{
		Year:     year,
		SystemID: systemID,
		Records:  len(records),
		Months:   make([]Month, demand.MonthCount),
		Failures: tel.Failures,
	}
	for i := 0; i < demand.MonthCount; i++ {
		snap.Months[i] = Month{
			Month:        i + 1,
			Name:         demand.MonthNames[i],
			Intake:       tel.Intake.Values[i],
			Storage:      tel.Storage.Values[i],
			DemandHm3:    net[i],
			DemandM3:     net[i] * demand.CubicMetresPerHm3,
			IntakeCount:  tel.Intake.Counts[i],
			StorageCount: tel.Storage.Counts[i],
		}
	}
	snap.Totals = Totals{
		Intake:    tel.Intake.Total,
		Storage:   tel.Storage.Total,
		DemandHm3: net.Sum(),
		DemandM3:  net.Sum() * demand.CubicMetresPerHm3,
	}

	current := int(c.clock.Now().UTC().Month())
	storageHm3 := tel.Storage.Values[current-1] / demand.CubicMetresPerHm3
	snap.Sufficiency = Assess(current, storageHm3, net)
	metrics.SufficiencyVerdicts.WithLabelValues(string(snap.Sufficiency.Verdict)).Inc()

	c.logger.Debug("dashboard composed",
		"year", year,
		"records", len(records),
		"verdict", snap.Sufficiency.Verdict,
		"curve_failures", len(tel.Failures),
	)
	return snap, nil
}

// NetDemand is the monthly net demand in hm³ across records using the
// closed form area × coefficient / 100000. A record without rows spreads
// its total consumption evenly over the year instead.
func NetDemand(records []models.YearlyRecord) demand.Months {
	var total demand.Months
	for _, rec := range records {
		if len(rec.Allocations) == 0 {
			monthly := rec.TotalConsumption / demand.MonthCount / demand.CubicMetresPerHm3
			total = total.Add(demand.Months{}.Map(func(float64) float64 { return monthly }))
			continue
		}
		for _, a := range rec.Allocations {
			total = total.Add(demand.ClosedFormNet(a.Area, a.Coefficients))
		}
	}
	return total
}
