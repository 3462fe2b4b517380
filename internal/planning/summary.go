package planning

import (
	"context"
	"fmt"

	"github.com/lox/waterbudget/internal/auth"
	"github.com/lox/waterbudget/internal/demand"
	"github.com/lox/waterbudget/internal/models"
)

type SystemSummary struct {
	SystemID    int64   `json:"system_id"`
	System      string  `json:"system"`
	Region      string  `json:"region"`
	Area        float64 `json:"area"`
	Consumption float64 `json:"consumption"`
	GrossDemand float64 `json:"gross_demand_hm3"`
	Crops       int     `json:"crops"`
}

type YearSummary struct {
	Year                        int             `json:"year"`
	TotalArea                   float64         `json:"total_area"`
	TotalConsumption            float64         `json:"total_consumption"`
	TotalGrossDemand            float64         `json:"total_gross_demand_hm3"`
	AverageFarmEfficiency       *float64        `json:"average_farm_efficiency"`
	AverageConveyanceEfficiency *float64        `json:"average_conveyance_efficiency"`
	Records                     int             `json:"records"`
	Systems                     []SystemSummary `json:"systems"`
}

// YearSummary totals every record of a year across the systems in scope.
func (s *Service) YearSummary(ctx context.Context, scope auth.Scope, year int) (*YearSummary, error) {
	records, err := s.store.ListYearlyRecords(ctx, year, nil)
	if err != nil {
		return nil, fmt.Errorf("list yearly records: %w", err)
	}
	records = auth.Filter(scope, records, func(r models.YearlyRecord) int64 { return r.SystemID })

	names, regions, err := s.systemNames(ctx)
	if err != nil {
		return nil, err
	}

	sum := &YearSummary{Year: year, Records: len(records), Systems: make([]SystemSummary, 0, len(records))}
	var farm, conv float64
	for _, rec := range records {
		area := totalArea(rec)
		series, err := demand.Compute(rowsOf(&rec), rec.Efficiency())
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", rec.ID, err)
		}

		sum.TotalArea += area
		sum.TotalConsumption += rec.TotalConsumption
		sum.TotalGrossDemand += series.GrossTotal
		farm += rec.FarmEfficiency
		conv += rec.ConveyanceEfficiency

		sum.Systems = append(sum.Systems, SystemSummary{
			SystemID:    rec.SystemID,
			System:      names[rec.SystemID],
			Region:      regions[rec.SystemID],
			Area:        area,
			Consumption: rec.TotalConsumption,
			GrossDemand: series.GrossTotal,
			Crops:       len(rec.Allocations),
		})
	}
	if len(records) > 0 {
		avgFarm := farm / float64(len(records))
		avgConv := conv / float64(len(records))
		sum.AverageFarmEfficiency = &avgFarm
		sum.AverageConveyanceEfficiency = &avgConv
	}
	return sum, nil
}

type YearTotals struct {
	Year             int     `json:"year"`
	TotalArea        float64 `json:"total_area"`
	TotalConsumption float64 `json:"total_consumption"`
	Records          int     `json:"records"`
}

type Comparison struct {
	First  YearTotals `json:"first"`
	Second YearTotals `json:"second"`
	// Percent change from First to Second; nil when either side is zero.
	AreaChange        *float64 `json:"area_change"`
	ConsumptionChange *float64 `json:"consumption_change"`
}

// Compare totals two years and the percentage change between them.
func (s *Service) Compare(ctx context.Context, scope auth.Scope, year1, year2 int) (*Comparison, error) {
	first, err := s.yearTotals(ctx, scope, year1)
	if err != nil {
		return nil, err
	}
	second, err := s.yearTotals(ctx, scope, year2)
	if err != nil {
		return nil, err
	}
	return &Comparison{
		First:             first,
		Second:            second,
		AreaChange:        percentChange(first.TotalArea, second.TotalArea),
		ConsumptionChange: percentChange(first.TotalConsumption, second.TotalConsumption),
	}, nil
}

func (s *Service) yearTotals(ctx context.Context, scope auth.Scope, year int) (YearTotals, error) {
	records, err := s.store.ListYearlyRecords(ctx, year, nil)
	if err != nil {
		return YearTotals{}, fmt.Errorf("list yearly records for %d: %w", year, err)
	}
	records = auth.Filter(scope, records, func(r models.YearlyRecord) int64 { return r.SystemID })
	t := YearTotals{Year: year, Records: len(records)}
	for _, rec := range records {
		t.TotalArea += totalArea(rec)
		t.TotalConsumption += rec.TotalConsumption
	}
	return t, nil
}

func percentChange(from, to float64) *float64 {
	if from == 0 || to == 0 {
		return nil
	}
	v := demand.Round2((to - from) / from * 100)
	return &v
}

func totalArea(rec models.YearlyRecord) float64 {
	var area float64
	for _, a := range rec.Allocations {
		area += a.Area
	}
	return area
}

func (s *Service) systemNames(ctx context.Context) (names, regions map[int64]string, err error) {
	systems, err := s.store.ListSystems(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list systems: %w", err)
	}
	regionList, err := s.store.ListRegions(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list regions: %w", err)
	}
	regionNames := make(map[int64]string, len(regionList))
	for _, r := range regionList {
		regionNames[r.ID] = r.Name
	}
	names = make(map[int64]string, len(systems))
	regions = make(map[int64]string, len(systems))
	for _, sys := range systems {
		names[sys.ID] = sys.Name
		regions[sys.ID] = regionNames[sys.RegionID]
	}
	return names, regions, nil
}
