package telemetry

import (
	"context"
	"sort"

	"github.com/lox/waterbudget/internal/demand"
	"github.com/lox/waterbudget/internal/models"
)

type snapshotKey struct {
	device int64
	month  int
}

// newer orders readings by observation time, then id.
func newer(a, b models.Reading) bool {
	if !a.ObservedAt.Equal(b.ObservedAt) {
		return a.ObservedAt.After(b.ObservedAt)
	}
	return a.ID > b.ID
}

// MonthlySnapshots keeps a single reading per device and calendar month: the
// latest one. Readings from different years in the same month collapse, so
// callers filter by year first.
func MonthlySnapshots(readings []models.Reading) []models.Reading {
	latest := make(map[snapshotKey]models.Reading)
	for _, r := range readings {
		k := snapshotKey{device: r.DeviceID, month: int(r.ObservedAt.Month())}
		if cur, ok := latest[k]; !ok || newer(r, cur) {
			latest[k] = r
		}
	}
	out := make([]models.Reading, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DeviceID != out[j].DeviceID {
			return out[i].DeviceID < out[j].DeviceID
		}
		return out[i].ObservedAt.Before(out[j].ObservedAt)
	})
	return out
}

// LatestPerDevice returns the most recent reading of each device.
func LatestPerDevice(readings []models.Reading) map[int64]models.Reading {
	latest := make(map[int64]models.Reading)
	for _, r := range readings {
		if cur, ok := latest[r.DeviceID]; !ok || newer(r, cur) {
			latest[r.DeviceID] = r
		}
	}
	return latest
}

// FillRatio is volume as a percentage of a facility's maximum volume,
// rounded to two decimals. ok is false when the maximum is unknown.
func FillRatio(volume float64, facility models.StorageFacility) (ratio float64, ok bool) {
	if !facility.MaxVolume.Valid || facility.MaxVolume.Float64 <= 0 {
		return 0, false
	}
	return demand.Round2(volume / facility.MaxVolume.Float64 * 100), true
}

// FacilityStatus is the latest known state of one storage facility.
type FacilityStatus struct {
	Facility   models.StorageFacility
	Reading    models.Reading
	Volume     float64
	FillRatio  float64
	HasRatio   bool
	LookupFail *CurveLookupError
}

// FacilityStatuses pairs each facility with its latest storage reading.
// Facilities without readings are omitted.
func (a *Aggregator) FacilityStatuses(ctx context.Context, facilities []models.StorageFacility, readings []models.Reading) ([]FacilityStatus, error) {
	storage := make([]models.Reading, 0, len(readings))
	for _, r := range readings {
		if r.Kind == models.ReadingStorage {
			storage = append(storage, r)
		}
	}
	latest := LatestPerDevice(storage)

	out := make([]FacilityStatus, 0, len(facilities))
	for _, f := range facilities {
		r, ok := latest[f.ID]
		if !ok {
			continue
		}
		st := FacilityStatus{Facility: f, Reading: r}
		v, err := a.Volume(ctx, r)
		if err != nil {
			fail := asLookupFailure(err)
			if fail == nil {
				return nil, err
			}
			st.LookupFail = fail
			out = append(out, st)
			continue
		}
		st.Volume = v
		st.FillRatio, st.HasRatio = FillRatio(v, f)
		out = append(out, st)
	}
	return out, nil
}
