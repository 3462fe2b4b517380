package ingest

import "math"

const (
	FlagNoMeasurement    = "no_measurement"
	FlagGaugeNegative    = "gauge_negative"
	FlagVolumeNegative   = "volume_negative"
	FlagNotFinite        = "not_finite"
	FlagEndedBeforeStart = "ended_before_start"
)

// ValidateRecord returns quality flags for a parsed record. A record with
// any flag is not stored.
func ValidateRecord(rec Record) []string {
	var flags []string

	if rec.Gauge == nil && rec.Volume == nil {
		flags = append(flags, FlagNoMeasurement)
	}

	if rec.Gauge != nil {
		if math.IsNaN(*rec.Gauge) || math.IsInf(*rec.Gauge, 0) {
			flags = append(flags, FlagNotFinite)
		} else if *rec.Gauge < 0 {
			flags = append(flags, FlagGaugeNegative)
		}
	}

	if rec.Volume != nil {
		if math.IsNaN(*rec.Volume) || math.IsInf(*rec.Volume, 0) {
			flags = append(flags, FlagNotFinite)
		} else if *rec.Volume < 0 {
			flags = append(flags, FlagVolumeNegative)
		}
	}

	if rec.EndedAt != nil && rec.EndedAt.Before(rec.ObservedAt) {
		flags = append(flags, FlagEndedBeforeStart)
	}

	return flags
}
