// Package legacy converts the old flat per-crop yearly export into yearly
// records with crop allocation rows.
package legacy

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/lox/waterbudget/internal/demand"
	"github.com/lox/waterbudget/internal/models"
	"github.com/lox/waterbudget/internal/store"
)

const (
	DefaultFarmEfficiency       = 80.0
	DefaultConveyanceEfficiency = 85.0

	// Legacy areas above this were entered in m² rather than hectares.
	squareMetreThreshold = 1000.0
	squareMetresPerHa    = 10000.0
)

var ErrMissingColumn = errors.New("missing column")

var requiredColumns = []string{"system", "year"}

// Entry is one line of the legacy export: one crop of one system-year.
type Entry struct {
	Line                 int
	ID                   int64
	SystemID             int64
	Year                 int
	CropID               int64 // 0 when the line has no crop
	Area                 float64
	Consumption          float64
	FarmEfficiency       *float64
	ConveyanceEfficiency *float64
}

// ParseCSV reads the legacy export. Columns: id, system, year, crop, area,
// consumption, farm_efficiency, conveyance_efficiency. Only system and year
// are required.
func ParseCSV(r io.Reader) ([]Entry, []error, error) {
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
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			return nil, nil, fmt.Errorf("%w %q", ErrMissingColumn, c)
		}
	}

	var entries []Entry
	var lineErrs []error
	line := 1
	for {
		fields, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			lineErrs = append(lineErrs, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		get := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(fields) {
				return ""
			}
			return strings.TrimSpace(fields[i])
		}
		e, err := parseEntry(line, get)
		if err != nil {
			lineErrs = append(lineErrs, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		entries = append(entries, e)
	}
	return entries, lineErrs, nil
}

func parseEntry(line int, get func(string) string) (Entry, error) {
	e := Entry{Line: line}
	var err error
	if e.SystemID, err = strconv.ParseInt(get("system"), 10, 64); err != nil {
		return e, fmt.Errorf("system: %w", err)
	}
	if e.Year, err = strconv.Atoi(get("year")); err != nil {
		return e, fmt.Errorf("year: %w", err)
	}
	if s := get("id"); s != "" {
		if e.ID, err = strconv.ParseInt(s, 10, 64); err != nil {
			return e, fmt.Errorf("id: %w", err)
		}
	}
	if s := get("crop"); s != "" {
		if e.CropID, err = strconv.ParseInt(s, 10, 64); err != nil {
			return e, fmt.Errorf("crop: %w", err)
		}
	}
	if s := get("area"); s != "" {
		if e.Area, err = strconv.ParseFloat(s, 64); err != nil {
			return e, fmt.Errorf("area: %w", err)
		}
	}
	if s := get("consumption"); s != "" {
		if e.Consumption, err = strconv.ParseFloat(s, 64); err != nil {
			return e, fmt.Errorf("consumption: %w", err)
		}
	}
	if e.FarmEfficiency, err = optionalFloat(get("farm_efficiency")); err != nil {
		return e, fmt.Errorf("farm_efficiency: %w", err)
	}
	if e.ConveyanceEfficiency, err = optionalFloat(get("conveyance_efficiency")); err != nil {
		return e, fmt.Errorf("conveyance_efficiency: %w", err)
	}
	return e, nil
}

func optionalFloat(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Group is every legacy line of one (system, year), reshaped into a single
// yearly record.
type Group struct {
	SystemID             int64
	Year                 int
	FarmEfficiency       float64
	ConveyanceEfficiency float64
	Rows                 []demand.RowInput
	TotalConsumption     float64
	Entries              int
	Merged               int // lines folded into an earlier line for the same crop
}

// NormalizeArea converts areas recorded in m² to hectares.
func NormalizeArea(area float64) float64 {
	if area > squareMetreThreshold {
		return area / squareMetresPerHa
	}
	return area
}

// Reshape groups entries by (system, year), ordered by the lowest legacy id
// in each group.
// Efficiencies are averaged over the lines that carry them, falling back to
// the defaults. Lines repeating a crop are summed into one row, since a
// record holds each crop once.
func Reshape(entries []Entry) []Group {
	type key struct {
		system int64
		year   int
	}
	type acc struct {
		group          Group
		order          int64
		farmSum        float64
		farmN          int
		conveyanceSum  float64
		conveyanceN    int
		cropOrder      []int64
		area, consumed map[int64]float64
	}

	byKey := make(map[key]*acc)
	var keys []key
	for i, e := range entries {
		k := key{e.SystemID, e.Year}
		a, ok := byKey[k]
		if !ok {
			a = &acc{
				group:    Group{SystemID: e.SystemID, Year: e.Year},
				order:    orderOf(e, i),
				area:     make(map[int64]float64),
				consumed: make(map[int64]float64),
			}
			byKey[k] = a
			keys = append(keys, k)
		}
		if o := orderOf(e, i); o < a.order {
			a.order = o
		}
		a.group.Entries++
		a.group.TotalConsumption += e.Consumption
		if e.FarmEfficiency != nil {
			a.farmSum += *e.FarmEfficiency
			a.farmN++
		}
		if e.ConveyanceEfficiency != nil {
			a.conveyanceSum += *e.ConveyanceEfficiency
			a.conveyanceN++
		}
		if e.CropID == 0 {
			continue
		}
		if _, seen := a.area[e.CropID]; seen {
			a.group.Merged++
		} else {
			a.cropOrder = append(a.cropOrder, e.CropID)
		}
		a.area[e.CropID] += NormalizeArea(e.Area)
		a.consumed[e.CropID] += e.Consumption
	}

	sort.SliceStable(keys, func(i, j int) bool { return byKey[keys[i]].order < byKey[keys[j]].order })

	groups := make([]Group, 0, len(keys))
	for _, k := range keys {
		a := byKey[k]
		g := a.group
		g.FarmEfficiency = average(a.farmSum, a.farmN, DefaultFarmEfficiency)
		g.ConveyanceEfficiency = average(a.conveyanceSum, a.conveyanceN, DefaultConveyanceEfficiency)
		for _, crop := range a.cropOrder {
			g.Rows = append(g.Rows, demand.RowInput{
				Crop:          demand.NumberOf(float64(crop)),
				Area:          demand.NumberOf(a.area[crop]),
				PlantingRatio: demand.NumberOf(demand.DefaultPlantingRatio),
				Consumption:   demand.NumberOf(a.consumed[crop]),
			})
		}
		groups = append(groups, g)
	}
	return groups
}

// orderOf ranks an entry by its legacy id, or by position when it has none.
func orderOf(e Entry, pos int) int64 {
	if e.ID != 0 {
		return e.ID
	}
	return int64(pos) + 1<<40
}

// average returns sum/n, or def when nothing was averaged or the result is
// zero (the legacy data used 0 for unknown).
func average(sum float64, n int, def float64) float64 {
	if n == 0 || sum == 0 {
		return def
	}
	return sum / float64(n)
}

// Writer persists reshaped groups.
type Writer interface {
	BulkReplace(ctx context.Context, in store.BulkReplaceInput) (*store.BulkReplaceResult, error)
	CreateYearlyRecord(ctx context.Context, rec models.YearlyRecord) (int64, error)
}

// GroupError records a group that could not be written.
type GroupError struct {
	SystemID int64
	Year     int
	Err      error
}

func (e *GroupError) Error() string {
	return fmt.Sprintf("system %d year %d: %v", e.SystemID, e.Year, e.Err)
}

func (e *GroupError) Unwrap() error { return e.Err }

type Report struct {
	Groups   int
	Replaced int // written through BulkReplace with crop rows
	Totals   int // written as a consumption total only
	Rows     int
	Merged   int
	Failures []*GroupError
}

// Apply writes every group. Groups with crop rows replace any existing
// record for their key; groups without rows become a consumption-only
// record. A failing group is reported and the rest continue.
func Apply(ctx context.Context, w Writer, groups []Group, logger *slog.Logger) (*Report, error) {
	rep := &Report{Groups: len(groups)}
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Merged += g.Merged

		if len(g.Rows) == 0 {
			_, err := w.CreateYearlyRecord(ctx, models.YearlyRecord{
				SystemID:             g.SystemID,
				Year:                 g.Year,
				FarmEfficiency:       g.FarmEfficiency,
				ConveyanceEfficiency: g.ConveyanceEfficiency,
				TotalConsumption:     g.TotalConsumption,
			})
			if err != nil {
				rep.fail(logger, g, err)
				continue
			}
			rep.Totals++
			continue
		}

		res, err := w.BulkReplace(ctx, store.BulkReplaceInput{
			SystemID:             g.SystemID,
			Year:                 g.Year,
			FarmEfficiency:       g.FarmEfficiency,
			ConveyanceEfficiency: g.ConveyanceEfficiency,
			Rows:                 g.Rows,
		})
		if err != nil {
			rep.fail(logger, g, err)
			continue
		}
		rep.Replaced++
		rep.Rows += res.Rows
	}

	logger.Info("legacy import finished",
		"groups", rep.Groups,
		"replaced", rep.Replaced,
		"totals", rep.Totals,
		"rows", rep.Rows,
		"merged", rep.Merged,
		"failures", len(rep.Failures),
	)
	return rep, nil
}

func (r *Report) fail(logger *slog.Logger, g Group, err error) {
	ge := &GroupError{SystemID: g.SystemID, Year: g.Year, Err: err}
	r.Failures = append(r.Failures, ge)
	logger.Warn("legacy group skipped", "system", g.SystemID, "year", g.Year, "error", err)
}
