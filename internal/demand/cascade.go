package demand

import "math"

// Unit conversions used by the demand formulas.
const (
	// NetDivisor turns an aggregated coefficient total into hm³.
	NetDivisor = 1000
	// ClosedFormDivisor turns area (ha) × coefficient into hm³.
	ClosedFormDivisor = 100000
	// CubicMetresPerHm3 converts hm³ to m³.
	CubicMetresPerHm3 = 1_000_000
)

// Aggregate sums the weighted vectors of every row month by month. It works
// for any number of rows.
func Aggregate(rows []Row) Months {
	var total Months
	for _, r := range rows {
		total = total.Add(r.Weighted())
	}
	return total
}

// Efficiency holds the on-farm and conveyance efficiency percentages.
type Efficiency struct {
	Farm       float64 `json:"farm"`
	Conveyance float64 `json:"conveyance"`
}

// Validate rejects ratios that would make the cascade divide by zero or
// shrink demand.
func (e Efficiency) Validate() error {
	if !validRatio(e.Farm) {
		return &EfficiencyError{Name: "farm", Value: e.Farm}
	}
	if !validRatio(e.Conveyance) {
		return &EfficiencyError{Name: "conveyance", Value: e.Conveyance}
	}
	return nil
}

// Total is the combined efficiency percentage.
func (e Efficiency) Total() float64 {
	return e.Farm * e.Conveyance / 100
}

func validRatio(v float64) bool {
	return !math.IsNaN(v) && v > 0 && v <= 100
}

// Series is the derived monthly demand for one yearly record. Net, Farm and
// Gross are in hm³; Weighted keeps the legacy coefficient unit.
type Series struct {
	Weighted      Months  `json:"weighted"`
	Net           Months  `json:"net"`
	Farm          Months  `json:"farm"`
	Gross         Months  `json:"gross"`
	WeightedTotal float64 `json:"weighted_total"`
	NetTotal      float64 `json:"net_total"`
	FarmTotal     float64 `json:"farm_total"`
	GrossTotal    float64 `json:"gross_total"`
}

// Cascade runs the net → farm → gross stages over a monthly total. Each
// stage's yearly total is summed from that stage's own months.
func Cascade(monthly Months, eff Efficiency) (Series, error) {
	if err := eff.Validate(); err != nil {
		return Series{}, err
	}
	s := Series{Weighted: monthly}
	s.Net = monthly.Map(func(v float64) float64 { return v / NetDivisor })
	s.Farm = s.Net.Map(func(v float64) float64 { return v * 100 / eff.Farm })
	s.Gross = s.Farm.Map(func(v float64) float64 { return v * 100 / eff.Conveyance })

	s.WeightedTotal = s.Weighted.Sum()
	s.NetTotal = s.Net.Sum()
	s.FarmTotal = s.Farm.Sum()
	s.GrossTotal = s.Gross.Sum()
	return s, nil
}

// Compute aggregates rows and runs the cascade.
func Compute(rows []Row, eff Efficiency) (Series, error) {
	if err := eff.Validate(); err != nil {
		return Series{}, err
	}
	return Cascade(Aggregate(rows), eff)
}

// ClosedFormNet is the dashboard's net demand for one crop area in hm³:
// area × coefficient[m] / 100000. It ignores the planting ratio.
func ClosedFormNet(area float64, coefficients Months) Months {
	return coefficients.Map(func(c float64) float64 {
		return area * c / ClosedFormDivisor
	})
}
