package demand

import (
	"fmt"
	"math"
)

// TableCapacity is the number of crop rows on the legacy planning sheet.
const TableCapacity = 16

// DefaultPlantingRatio applies when a row leaves the ratio blank.
const DefaultPlantingRatio = 100

// RowInput is one submitted line of a yearly demand table.
type RowInput struct {
	Crop          Number `json:"crop"`
	Area          Number `json:"area"`
	PlantingRatio Number `json:"planting_ratio"`
	Consumption   Number `json:"consumption"`
}

// Allocation is a validated row: a crop, its area in hectares, the planted
// percentage and the legacy recorded consumption in m³.
type Allocation struct {
	CropID        int64   `json:"crop_id"`
	Area          float64 `json:"area"`
	PlantingRatio float64 `json:"planting_ratio"`
	Consumption   float64 `json:"consumption"`

	// Index is the row's position in the submitted input.
	Index int `json:"-"`
}

// ValidateRow checks one input row. ok is false for blank filler rows, which
// carry neither a crop nor an area and are skipped without error.
func ValidateRow(index int, in RowInput) (a Allocation, ok bool, err error) {
	if in.Crop.IsEmpty() && in.Area.IsEmpty() {
		return Allocation{}, false, nil
	}
	if in.Crop.IsEmpty() {
		return Allocation{}, false, &AllocationError{Row: index, Field: "crop", Reason: "is required when an area is given"}
	}
	cropID, err := in.Crop.Int()
	if err != nil || cropID <= 0 {
		return Allocation{}, false, &AllocationError{Row: index, Field: "crop", Reason: fmt.Sprintf("%q is not a crop id", in.Crop.String())}
	}
	a.CropID = cropID
	a.Index = index

	if in.Area.IsEmpty() {
		return Allocation{}, false, &AllocationError{Row: index, Field: "area", Reason: "is missing"}
	}
	area, err := in.Area.Float()
	if err != nil || math.IsNaN(area) || math.IsInf(area, 0) {
		return Allocation{}, false, &AllocationError{Row: index, Field: "area", Reason: fmt.Sprintf("%q is not a number", in.Area.String())}
	}
	if area < 0 {
		return Allocation{}, false, &AllocationError{Row: index, Field: "area", Reason: "must not be negative"}
	}
	a.Area = area

	a.PlantingRatio = DefaultPlantingRatio
	if !in.PlantingRatio.IsEmpty() {
		ratio, err := in.PlantingRatio.Float()
		if err != nil || math.IsNaN(ratio) {
			return Allocation{}, false, &AllocationError{Row: index, Field: "planting_ratio", Reason: fmt.Sprintf("%q is not a number", in.PlantingRatio.String())}
		}
		if ratio < 0 || ratio > 100 {
			return Allocation{}, false, &AllocationError{Row: index, Field: "planting_ratio", Reason: "must be between 0 and 100"}
		}
		a.PlantingRatio = ratio
	}

	if !in.Consumption.IsEmpty() {
		c, err := in.Consumption.Float()
		if err != nil || math.IsNaN(c) || math.IsInf(c, 0) || c < 0 {
			return Allocation{}, false, &AllocationError{Row: index, Field: "consumption", Reason: fmt.Sprintf("%q is not a non-negative number", in.Consumption.String())}
		}
		a.Consumption = c
	}

	return a, true, nil
}

// ValidateRows validates every row in order and stops at the first error.
// Blank filler rows are dropped. A crop may appear only once. The row count
// is not bounded.
func ValidateRows(rows []RowInput) ([]Allocation, error) {
	t := newTable(0)
	for _, in := range rows {
		if _, err := t.AddRow(in, "", Months{}); err != nil {
			return nil, err
		}
	}
	out := make([]Allocation, len(t.rows))
	for i, r := range t.rows {
		out[i] = r.Allocation
	}
	return out, nil
}

// Row is an allocation joined with its crop's catalog entry.
type Row struct {
	Allocation
	CropName     string `json:"crop_name"`
	Coefficients Months `json:"coefficients"`
}

// Weighted returns round(coefficient[m] * ratio / 100, 2) for every month.
func (r Row) Weighted() Months {
	return r.Coefficients.Map(func(c float64) float64 {
		return round2(c * r.PlantingRatio / 100)
	})
}

// RawTotal is the rounded sum of the row's weighted vector.
func (r Row) RawTotal() float64 {
	return round2(r.Weighted().Sum())
}

// UnitConsumption is recorded consumption per hectare, or zero without area.
func (r Row) UnitConsumption() float64 {
	if r.Area <= 0 {
		return 0
	}
	return r.Consumption / r.Area
}

// Table is the bounded, ordered set of crop rows for one system and year.
type Table struct {
	rows     []Row
	input    int
	capacity int
}

// NewTable returns an empty table holding at most TableCapacity rows.
func NewTable() *Table {
	return newTable(TableCapacity)
}

// newTable returns a table bounded by capacity; zero means unbounded.
func newTable(capacity int) *Table {
	return &Table{rows: make([]Row, 0, max(capacity, 0)), capacity: capacity}
}

// AddRow validates in and appends it with the crop's name and coefficients.
// Blank filler rows are skipped and reported as not added.
func (t *Table) AddRow(in RowInput, cropName string, coefficients Months) (bool, error) {
	index := t.input
	t.input++

	a, ok, err := ValidateRow(index, in)
	if err != nil || !ok {
		return false, err
	}
	if err := t.Add(Row{Allocation: a, CropName: cropName, Coefficients: coefficients}); err != nil {
		return false, err
	}
	return true, nil
}

// Add appends an already validated row. A crop may appear only once.
func (t *Table) Add(r Row) error {
	for _, existing := range t.rows {
		if existing.CropID == r.CropID {
			return &AllocationError{Row: r.Index, Field: "crop", Reason: fmt.Sprintf("%d already allocated on row %d", r.CropID, existing.Index+1)}
		}
	}
	if t.capacity > 0 && len(t.rows) >= t.capacity {
		return fmt.Errorf("%w: row %d exceeds %d rows", ErrTableFull, r.Index+1, t.capacity)
	}
	t.rows = append(t.rows, r)
	return nil
}

func (t *Table) Rows() []Row {
	out := make([]Row, len(t.rows))
	copy(out, t.rows)
	return out
}

func (t *Table) Len() int { return len(t.rows) }
