package dashboard

import "github.com/lox/waterbudget/internal/demand"

type Verdict string

const (
	Sufficient   Verdict = "Sufficient"
	Insufficient Verdict = "Insufficient"
)

// Sufficiency compares water in storage now against the net demand still
// to come this year. Volumes are in hm³.
type Sufficiency struct {
	CurrentMonth   int     `json:"current_month"`
	CurrentStorage float64 `json:"current_storage_hm3"`
	FutureNeed     float64 `json:"future_need_hm3"`
	Ratio          float64 `json:"ratio"`
	Verdict        Verdict `json:"verdict"`
}

// Assess computes the verdict for a 1-based current month. The ratio is
// storage over remaining need as a percentage, rounded to one decimal, and
// 100 when nothing remains to be supplied.
func Assess(currentMonth int, storage float64, netDemand demand.Months) Sufficiency {
	need := netDemand.SumAfter(currentMonth)
	s := Sufficiency{
		CurrentMonth:   currentMonth,
		CurrentStorage: storage,
		FutureNeed:     need,
		Ratio:          100,
	}
	if need != 0 {
		s.Ratio = demand.Round1(storage / need * 100)
	}
	if storage >= need {
		s.Verdict = Sufficient
	} else {
		s.Verdict = Insufficient
	}
	return s
}
