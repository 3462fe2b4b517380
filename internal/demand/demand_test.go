package demand

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flat(v float64) Months {
	var m Months
	for i := range m {
		m[i] = v
	}
	return m
}

func TestWeightedRounding(t *testing.T) {
	r := Row{
		Allocation:   Allocation{CropID: 1, Area: 10, PlantingRatio: 33},
		Coefficients: MonthsFrom([]float64{1.234, 0, 10, 0.015}),
	}
	w := r.Weighted()
	assert.Equal(t, 0.41, w[0])
	assert.Equal(t, 0.0, w[1])
	assert.Equal(t, 3.3, w[2])
	assert.Equal(t, 0.0, w[3])
	assert.Equal(t, 3.71, r.RawTotal())
}

func TestScenarioCascade(t *testing.T) {
	rows := []Row{{
		Allocation:   Allocation{CropID: 1, Area: 10, PlantingRatio: 50},
		Coefficients: flat(100),
	}}
	s, err := Compute(rows, Efficiency{Farm: 80, Conveyance: 90})
	require.NoError(t, err)

	for m := 0; m < MonthCount; m++ {
		assert.InDelta(t, 50, s.Weighted[m], 1e-9)
		assert.InDelta(t, 0.05, s.Net[m], 1e-9)
		assert.InDelta(t, 0.0625, s.Farm[m], 1e-9)
		assert.InDelta(t, 0.069444, s.Gross[m], 1e-6)
	}
	assert.InDelta(t, 0.6, s.NetTotal, 1e-9)
	assert.InDelta(t, 0.75, s.FarmTotal, 1e-9)
	assert.InDelta(t, 0.8333, s.GrossTotal, 1e-4)
}

func TestCascadeCommutesWithSummation(t *testing.T) {
	rows := []Row{
		{Allocation: Allocation{CropID: 1, Area: 12, PlantingRatio: 100}, Coefficients: MonthsFrom([]float64{0, 0, 12.5, 40, 85.25, 120, 160.4, 140, 90, 20, 0, 0})},
		{Allocation: Allocation{CropID: 2, Area: 4, PlantingRatio: 65}, Coefficients: MonthsFrom([]float64{5, 5, 30, 60, 90, 110, 110, 90, 60, 30, 5, 5})},
		{Allocation: Allocation{CropID: 3, Area: 0, PlantingRatio: 12.5}, Coefficients: flat(33.3)},
	}

	for _, farm := range []float64{1, 37.5, 60, 80, 99.9, 100} {
		for _, conv := range []float64{5, 50, 85, 100} {
			eff := Efficiency{Farm: farm, Conveyance: conv}
			whole, err := Compute(rows, eff)
			require.NoError(t, err)

			var summed Months
			for _, r := range rows {
				part, err := Compute([]Row{r}, eff)
				require.NoError(t, err)
				summed = summed.Add(part.Gross)
			}
			for m := range summed {
				assert.InDelta(t, whole.Gross[m], summed[m], 1e-9, "farm=%v conv=%v month=%d", farm, conv, m)
			}
		}
	}
}

func TestInvalidEfficiency(t *testing.T) {
	rows := []Row{{Allocation: Allocation{CropID: 1, PlantingRatio: 100}, Coefficients: flat(1)}}

	tests := []struct {
		name  string
		eff   Efficiency
		field string
	}{
		{"zero farm", Efficiency{Farm: 0, Conveyance: 80}, "farm"},
		{"negative farm", Efficiency{Farm: -5, Conveyance: 80}, "farm"},
		{"zero conveyance", Efficiency{Farm: 80, Conveyance: 0}, "conveyance"},
		{"negative conveyance", Efficiency{Farm: 80, Conveyance: -1}, "conveyance"},
		{"above hundred", Efficiency{Farm: 120, Conveyance: 80}, "farm"},
		{"nan", Efficiency{Farm: 80, Conveyance: math.NaN()}, "conveyance"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compute(rows, tt.eff)
			require.ErrorIs(t, err, ErrInvalidEfficiency)
			var effErr *EfficiencyError
			require.True(t, errors.As(err, &effErr))
			assert.Equal(t, tt.field, effErr.Name)
		})
	}
}

func TestEfficiencyTotal(t *testing.T) {
	assert.InDelta(t, 68.0, Efficiency{Farm: 80, Conveyance: 85}.Total(), 1e-9)
}

func TestAggregateEmpty(t *testing.T) {
	assert.Equal(t, Months{}, Aggregate(nil))
}

func TestValidateRow(t *testing.T) {
	tests := []struct {
		name    string
		in      RowInput
		wantOK  bool
		wantErr string
		want    Allocation
	}{
		{
			name: "blank filler",
			in:   RowInput{},
		},
		{
			name:   "default ratio",
			in:     RowInput{Crop: NumberText("3"), Area: NumberText("12.5")},
			wantOK: true,
			want:   Allocation{CropID: 3, Area: 12.5, PlantingRatio: 100},
		},
		{
			name:   "numeric fields",
			in:     RowInput{Crop: NumberOf(4), Area: NumberOf(2), PlantingRatio: NumberOf(40), Consumption: NumberOf(900)},
			wantOK: true,
			want:   Allocation{CropID: 4, Area: 2, PlantingRatio: 40, Consumption: 900},
		},
		{
			name:    "crop without area",
			in:      RowInput{Crop: NumberText("3")},
			wantErr: "area is missing",
		},
		{
			name:    "area without crop",
			in:      RowInput{Area: NumberText("3")},
			wantErr: "crop is required",
		},
		{
			name:    "negative area",
			in:      RowInput{Crop: NumberText("3"), Area: NumberText("-1")},
			wantErr: "must not be negative",
		},
		{
			name:    "text area",
			in:      RowInput{Crop: NumberText("3"), Area: NumberText("lots")},
			wantErr: "not a number",
		},
		{
			name:    "ratio over hundred",
			in:      RowInput{Crop: NumberText("3"), Area: NumberText("1"), PlantingRatio: NumberText("101")},
			wantErr: "between 0 and 100",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := ValidateRow(0, tt.in)
			if tt.wantErr != "" {
				require.ErrorIs(t, err, ErrInvalidAllocation)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateRowsNamesRow(t *testing.T) {
	rows := []RowInput{
		{Crop: NumberText("1"), Area: NumberText("1")},
		{},
		{Crop: NumberText("2"), Area: NumberText("x")},
	}
	_, err := ValidateRows(rows)
	var allocErr *AllocationError
	require.True(t, errors.As(err, &allocErr))
	assert.Equal(t, 2, allocErr.Row)
	assert.Equal(t, "area", allocErr.Field)
}

func TestValidateRowsDuplicateCrop(t *testing.T) {
	rows := []RowInput{
		{Crop: NumberText("1"), Area: NumberText("1")},
		{Crop: NumberText("1"), Area: NumberText("2")},
	}
	_, err := ValidateRows(rows)
	require.ErrorIs(t, err, ErrInvalidAllocation)
	assert.Contains(t, err.Error(), "already allocated on row 1")
}

func TestTableCapacity(t *testing.T) {
	table := NewTable()
	for i := 1; i <= TableCapacity; i++ {
		added, err := table.AddRow(RowInput{Crop: NumberOf(float64(i)), Area: NumberOf(1)}, "crop", flat(1))
		require.NoError(t, err)
		require.True(t, added)
	}
	added, err := table.AddRow(RowInput{}, "", Months{})
	require.NoError(t, err)
	assert.False(t, added)

	_, err = table.AddRow(RowInput{Crop: NumberOf(99), Area: NumberOf(1)}, "crop", flat(1))
	require.ErrorIs(t, err, ErrTableFull)
	assert.Equal(t, TableCapacity, table.Len())
}

func TestNumberJSON(t *testing.T) {
	var in RowInput
	require.NoError(t, json.Unmarshal([]byte(`{"crop": 7, "area": "12,5", "planting_ratio": "", "consumption": null}`), &in))
	assert.Equal(t, "7", in.Crop.String())
	assert.True(t, in.PlantingRatio.IsEmpty())
	assert.True(t, in.Consumption.IsEmpty())
	_, err := in.Area.Float()
	assert.Error(t, err)
}

func TestClosedFormNet(t *testing.T) {
	got := ClosedFormNet(10, flat(100))
	for _, v := range got {
		assert.InDelta(t, 0.01, v, 1e-12)
	}
}

// The closed form uses the area where the cascade uses the planting ratio,
// so the two net figures differ unless the ratio equals the area.
func TestClosedFormIgnoresPlantingRatio(t *testing.T) {
	row := Row{Allocation: Allocation{CropID: 1, Area: 10, PlantingRatio: 50}, Coefficients: flat(100)}
	s, err := Compute([]Row{row}, Efficiency{Farm: 100, Conveyance: 100})
	require.NoError(t, err)
	closed := ClosedFormNet(row.Area, row.Coefficients)
	for m := range closed {
		assert.InDelta(t, 0.01, closed[m], 1e-12)
		assert.InDelta(t, 0.05, s.Net[m], 1e-12)
	}

	row.PlantingRatio = row.Area
	s, err = Compute([]Row{row}, Efficiency{Farm: 100, Conveyance: 100})
	require.NoError(t, err)
	for m := range closed {
		assert.InDelta(t, closed[m], s.Net[m], 1e-12)
	}
}

func TestGrid(t *testing.T) {
	rows := []Row{
		{Allocation: Allocation{CropID: 1, Area: 10, PlantingRatio: 50}, CropName: "Wheat", Coefficients: flat(100)},
	}
	g, err := NewGrid(rows, Efficiency{Farm: 80, Conveyance: 90})
	require.NoError(t, err)
	assert.Equal(t, 1, g.Used)
	assert.Equal(t, "Wheat", g.Rows[0].Crop)
	assert.Equal(t, GridRow{}, g.Rows[TableCapacity-1])

	var buf bytes.Buffer
	require.NoError(t, g.WriteCSV(&buf))
	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1+TableCapacity+4)
	assert.Equal(t, "January", records[0][3])
	assert.Equal(t, "600", records[1][len(records[1])-1])
	assert.Equal(t, "0", records[16][1])
	assert.Equal(t, "net_hm3", records[18][0])
}

func TestGridTooManyRows(t *testing.T) {
	rows := make([]Row, TableCapacity+1)
	for i := range rows {
		rows[i] = Row{Allocation: Allocation{CropID: int64(i + 1), Area: 1, PlantingRatio: 100}, Coefficients: flat(1)}
	}
	_, err := NewGrid(rows, Efficiency{Farm: 80, Conveyance: 90})
	require.ErrorIs(t, err, ErrTableFull)
	assert.Contains(t, err.Error(), "row 17")
}

func TestGridRejectsDuplicateCrop(t *testing.T) {
	rows := []Row{
		{Allocation: Allocation{CropID: 3, Area: 1, PlantingRatio: 100}, Coefficients: flat(1)},
		{Allocation: Allocation{CropID: 3, Area: 2, PlantingRatio: 100}, Coefficients: flat(1)},
	}
	_, err := NewGrid(rows, Efficiency{Farm: 80, Conveyance: 90})
	var allocErr *AllocationError
	require.True(t, errors.As(err, &allocErr))
	assert.Equal(t, 1, allocErr.Row)
}

func TestValidateRowsIsNotBoundByTableCapacity(t *testing.T) {
	rows := make([]RowInput, TableCapacity+4)
	for i := range rows {
		rows[i] = RowInput{Crop: NumberOf(float64(i + 1)), Area: NumberOf(1)}
	}
	allocs, err := ValidateRows(rows)
	require.NoError(t, err)
	assert.Len(t, allocs, TableCapacity+4)
	assert.Equal(t, TableCapacity+3, allocs[TableCapacity+3].Index)
}

func TestMonthsSumAfter(t *testing.T) {
	m := MonthsFrom([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12})
	assert.Equal(t, 12.0, m.SumAfter(11))
	assert.Equal(t, 0.0, m.SumAfter(12))
	assert.Equal(t, 78.0-6, m.SumAfter(3))
}
