package demand

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// GridRow is one row slot of the legacy planning sheet.
type GridRow struct {
	Crop          string  `json:"crop"`
	Area          float64 `json:"area"`
	PlantingRatio float64 `json:"planting_ratio"`
	Weighted      Months  `json:"weighted"`
	Total         float64 `json:"total"`
}

// Grid is the fixed 16×12 export shape of the legacy planning sheet. Unused
// slots are zero rows.
type Grid struct {
	Rows          [TableCapacity]GridRow `json:"rows"`
	Used          int                    `json:"used"`
	MonthlyTotals Months                 `json:"monthly_totals"`
	Series        Series                 `json:"series"`
}

// NewGrid lays rows into the fixed sheet through a Table, so it fails with
// ErrTableFull when there are more rows than slots.
func NewGrid(rows []Row, eff Efficiency) (*Grid, error) {
	t := NewTable()
	for i, r := range rows {
		r.Index = i
		if err := t.Add(r); err != nil {
			return nil, err
		}
	}
	rows = t.Rows()
	series, err := Compute(rows, eff)
	if err != nil {
		return nil, err
	}
	g := &Grid{Used: len(rows), MonthlyTotals: series.Weighted, Series: series}
	for i, r := range rows {
		g.Rows[i] = GridRow{
			Crop:          r.CropName,
			Area:          r.Area,
			PlantingRatio: r.PlantingRatio,
			Weighted:      r.Weighted(),
			Total:         r.RawTotal(),
		}
	}
	return g, nil
}

// WriteCSV writes the header, all sixteen row slots, then the total, net,
// farm and gross lines.
func (g *Grid) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)

	header := make([]string, 0, 3+MonthCount+1)
	header = append(header, "crop", "area", "planting_ratio")
	header = append(header, MonthNames[:]...)
	header = append(header, "total")
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, r := range g.Rows {
		rec := []string{r.Crop, formatFloat(r.Area), formatFloat(r.PlantingRatio)}
		rec = appendMonths(rec, r.Weighted)
		rec = append(rec, formatFloat(r.Total))
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	summary := []struct {
		label string
		m     Months
		total float64
	}{
		{"total", g.Series.Weighted, g.Series.WeightedTotal},
		{"net_hm3", g.Series.Net, g.Series.NetTotal},
		{"farm_hm3", g.Series.Farm, g.Series.FarmTotal},
		{"gross_hm3", g.Series.Gross, g.Series.GrossTotal},
	}
	for _, s := range summary {
		rec := appendMonths([]string{s.label, "", ""}, s.m)
		rec = append(rec, formatFloat(s.total))
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write %s: %w", s.label, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func appendMonths(rec []string, m Months) []string {
	for _, v := range m {
		rec = append(rec, formatFloat(v))
	}
	return rec
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
