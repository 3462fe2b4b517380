package demand

import "math"

// MonthCount is the number of month columns in every coefficient and demand vector.
const MonthCount = 12

// Months holds one value per calendar month. Index 0 is January.
type Months [MonthCount]float64

// MonthNames lists the canonical month order used for every Months vector.
var MonthNames = [MonthCount]string{
	"January", "February", "March", "April", "May", "June",
	"July", "August", "September", "October", "November", "December",
}

// MonthsFrom copies up to twelve values into a Months vector. Missing
// trailing months stay zero.
func MonthsFrom(values []float64) Months {
	var m Months
	copy(m[:], values)
	return m
}

func (m Months) Sum() float64 {
	var total float64
	for _, v := range m {
		total += v
	}
	return total
}

// Add returns the element-wise sum of m and o.
func (m Months) Add(o Months) Months {
	for i := range m {
		m[i] += o[i]
	}
	return m
}

// Map applies fn to every month.
func (m Months) Map(fn func(float64) float64) Months {
	for i, v := range m {
		m[i] = fn(v)
	}
	return m
}

// SumAfter sums the months strictly after the given 1-based month.
func (m Months) SumAfter(month int) float64 {
	var total float64
	for i := month; i < MonthCount; i++ {
		if i < 0 {
			continue
		}
		total += m[i]
	}
	return total
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Round2 rounds to two decimal places, the precision of the legacy table.
func Round2(v float64) float64 { return round2(v) }

// Round1 rounds to one decimal place.
func Round1(v float64) float64 { return round1(v) }
