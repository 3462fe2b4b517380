package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/lox/waterbudget/internal/models"
)

// Columns expected in a telemetry export, in any order.
const (
	colKind       = "kind"
	colDevice     = "device"
	colObservedAt = "observed_at"
	colEndedAt    = "ended_at"
	colGauge      = "gauge"
	colVolume     = "volume"
)

var requiredColumns = []string{colKind, colDevice, colObservedAt}

// timeLayouts are tried in order. Times without a zone are UTC.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Record is one parsed line of a telemetry export. Device is a channel
// code for intake rows and a facility id for storage rows.
type Record struct {
	Line       int
	Kind       models.ReadingKind
	Device     string
	ObservedAt time.Time
	EndedAt    *time.Time
	Gauge      *float64
	Volume     *float64
}

// LineError is a problem with a single line of input.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

var ErrMissingColumn = errors.New("missing column")

// ParseCSV reads a telemetry export. Malformed lines are returned as
// LineErrors and do not stop parsing; a bad header does.
func ParseCSV(r io.Reader) ([]Record, []error, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			return nil, nil, fmt.Errorf("%w %q", ErrMissingColumn, c)
		}
	}

	var records []Record
	var lineErrs []error
	line := 1
	for {
		fields, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			lineErrs = append(lineErrs, &LineError{Line: line, Err: err})
			continue
		}
		get := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(fields) {
				return ""
			}
			return strings.TrimSpace(fields[i])
		}
		if strings.Join(fields, "") == "" {
			continue
		}

		rec, err := parseRecord(line, get)
		if err != nil {
			lineErrs = append(lineErrs, &LineError{Line: line, Err: err})
			continue
		}
		records = append(records, rec)
	}
	return records, lineErrs, nil
}

func parseRecord(line int, get func(string) string) (Record, error) {
	rec := Record{Line: line, Kind: models.ReadingKind(strings.ToLower(get(colKind))), Device: get(colDevice)}
	if !rec.Kind.Valid() {
		return rec, fmt.Errorf("unknown kind %q", get(colKind))
	}
	if rec.Device == "" {
		return rec, errors.New("device is empty")
	}

	observed, err := parseTime(get(colObservedAt))
	if err != nil {
		return rec, fmt.Errorf("observed_at: %w", err)
	}
	rec.ObservedAt = observed

	if s := get(colEndedAt); s != "" {
		ended, err := parseTime(s)
		if err != nil {
			return rec, fmt.Errorf("ended_at: %w", err)
		}
		rec.EndedAt = &ended
	}
	if rec.Gauge, err = parseOptionalFloat(get(colGauge)); err != nil {
		return rec, fmt.Errorf("gauge: %w", err)
	}
	if rec.Volume, err = parseOptionalFloat(get(colVolume)); err != nil {
		return rec, fmt.Errorf("volume: %w", err)
	}
	return rec, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func parseOptionalFloat(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
