package api

import (
	"database/sql"
	"time"

	"github.com/lox/waterbudget/internal/dashboard"
	"github.com/lox/waterbudget/internal/demand"
	"github.com/lox/waterbudget/internal/models"
	"github.com/lox/waterbudget/internal/telemetry"
)

type SystemView struct {
	ID       int64  `json:"id"`
	RegionID int64  `json:"region_id"`
	Name     string `json:"name"`
}

type CropView struct {
	ID           int64         `json:"id"`
	SystemID     *int64        `json:"system_id,omitempty"`
	Name         string        `json:"name"`
	Category     string        `json:"category,omitempty"`
	Coefficients demand.Months `json:"coefficients"`
}

type CurveFailureView struct {
	ReadingID int64   `json:"reading_id"`
	Kind      string  `json:"kind"`
	DeviceID  int64   `json:"device_id"`
	Gauge     float64 `json:"gauge"`
	Error     string  `json:"error"`
}

type TelemetryView struct {
	*telemetry.Result
	Failures []CurveFailureView `json:"curve_failures"`
}

type DashboardView struct {
	*dashboard.Snapshot
	Failures []CurveFailureView `json:"curve_failures"`
}

type FacilityView struct {
	ID            int64      `json:"id"`
	SystemID      int64      `json:"system_id"`
	Name          string     `json:"name"`
	MaxVolume     *float64   `json:"max_volume_m3"`
	ObservedAt    *time.Time `json:"observed_at,omitempty"`
	Volume        float64    `json:"volume_m3"`
	FillRatio     *float64   `json:"fill_ratio"`
	LookupFailure string     `json:"lookup_failure,omitempty"`
}

type CurveVolumeView struct {
	Kind     string  `json:"kind"`
	DeviceID int64   `json:"device_id"`
	Gauge    float64 `json:"gauge"`
	Volume   float64 `json:"volume_m3"`
}

func systemViews(systems []models.System) []SystemView {
	out := make([]SystemView, 0, len(systems))
	for _, sys := range systems {
		out = append(out, SystemView{ID: sys.ID, RegionID: sys.RegionID, Name: sys.Name})
	}
	return out
}

func cropViews(crops []models.Crop) []CropView {
	out := make([]CropView, 0, len(crops))
	for _, c := range crops {
		v := CropView{ID: c.ID, Name: c.Name, Category: c.Category, Coefficients: c.Coefficients}
		if c.SystemID != 0 {
			id := c.SystemID
			v.SystemID = &id
		}
		out = append(out, v)
	}
	return out
}

func failureViews(failures []*telemetry.CurveLookupError) []CurveFailureView {
	out := make([]CurveFailureView, 0, len(failures))
	for _, f := range failures {
		out = append(out, CurveFailureView{
			ReadingID: f.ReadingID,
			Kind:      string(f.Kind),
			DeviceID:  f.DeviceID,
			Gauge:     f.Gauge,
			Error:     f.Err.Error(),
		})
	}
	return out
}

func facilityViews(statuses []telemetry.FacilityStatus) []FacilityView {
	out := make([]FacilityView, 0, len(statuses))
	for _, st := range statuses {
		v := FacilityView{
			ID:        st.Facility.ID,
			SystemID:  st.Facility.SystemID,
			Name:      st.Facility.Name,
			MaxVolume: floatPtr(st.Facility.MaxVolume),
			Volume:    st.Volume,
		}
		if !st.Reading.ObservedAt.IsZero() {
			at := st.Reading.ObservedAt
			v.ObservedAt = &at
		}
		if st.HasRatio {
			ratio := st.FillRatio
			v.FillRatio = &ratio
		}
		if st.LookupFail != nil {
			v.LookupFailure = st.LookupFail.Error()
		}
		out = append(out, v)
	}
	return out
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
