package models

import (
	"database/sql"
	"time"

	"github.com/lox/waterbudget/internal/demand"
)

type Region struct {
	ID   int64
	Name string
}

type System struct {
	ID       int64
	RegionID int64
	Name     string
}

type StorageFacility struct {
	ID         int64
	SystemID   int64
	Name       string
	CrestLevel sql.NullFloat64
	MinLevel   sql.NullFloat64
	MaxLevel   sql.NullFloat64
	MinVolume  sql.NullFloat64
	MaxVolume  sql.NullFloat64 // m³
}

type Channel struct {
	ID         int64
	FacilityID int64
	Code       string
	Name       string
}

type Crop struct {
	ID           int64
	SystemID     int64
	Name         string
	Category     string // comma separated tags
	Coefficients demand.Months
}

type YearlyRecord struct {
	ID                   int64
	SystemID             int64
	Year                 int
	FarmEfficiency       float64
	ConveyanceEfficiency float64
	TotalConsumption     float64 // m³, sum of row consumption
	CreatedAt            time.Time
	Allocations          []CropAllocation
}

// Efficiency returns the record's cascade ratios.
func (r YearlyRecord) Efficiency() demand.Efficiency {
	return demand.Efficiency{Farm: r.FarmEfficiency, Conveyance: r.ConveyanceEfficiency}
}

type CropAllocation struct {
	ID            int64
	RecordID      int64
	CropID        int64
	CropName      string
	Area          float64
	PlantingRatio float64
	Consumption   float64
	Coefficients  demand.Months
	CreatedAt     time.Time
}

// Row joins the allocation with its crop coefficients for the demand engine.
func (a CropAllocation) Row() demand.Row {
	return demand.Row{
		Allocation: demand.Allocation{
			CropID:        a.CropID,
			Area:          a.Area,
			PlantingRatio: a.PlantingRatio,
			Consumption:   a.Consumption,
		},
		CropName:     a.CropName,
		Coefficients: a.Coefficients,
	}
}

// ReadingKind distinguishes channel intake from facility storage telemetry.
type ReadingKind string

const (
	ReadingIntake  ReadingKind = "intake"
	ReadingStorage ReadingKind = "storage"
)

func (k ReadingKind) Valid() bool {
	return k == ReadingIntake || k == ReadingStorage
}

type Reading struct {
	ID         int64
	Kind       ReadingKind
	DeviceID   int64 // channel id for intake, facility id for storage
	SystemID   int64
	ObservedAt time.Time
	EndedAt    sql.NullTime // intake only
	Gauge      sql.NullFloat64
	Volume     sql.NullFloat64 // supplied volume in m³; set for manual overrides
	Manual     bool
	Source     string
	CreatedAt  time.Time
}

type CurvePoint struct {
	Kind     ReadingKind
	DeviceID int64
	Gauge    float64
	Volume   float64
}
