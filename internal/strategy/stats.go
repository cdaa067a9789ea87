package strategy

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"kellyfactor/internal/domain"
)

// Distribution describes a set of terminal cumulative log returns.
type Distribution struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"std_dev"` // sample standard deviation, NaN below two samples
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Stats summarises a backtest.
type Stats struct {
	Count    int          `json:"count"`
	Strategy Distribution `json:"strategy"`
	BuyHold  Distribution `json:"buy_hold"`
	WinRate  float64      `json:"win_rate"` // share of samples where the strategy beat buy-and-hold
}

// Summarize computes Stats over the samples of a backtest. An empty summary
// gives a zero Count and NaN everywhere else.
func Summarize(summary domain.BacktestSummary) Stats {
	n := len(summary.Samples)
	strat := make([]float64, n)
	hold := make([]float64, n)
	wins := 0
	for i, s := range summary.Samples {
		strat[i] = s.StrategyCumLogReturn
		hold[i] = s.BuyHoldCumLogReturn
		if s.StrategyCumLogReturn > s.BuyHoldCumLogReturn {
			wins++
		}
	}

	st := Stats{
		Count:    n,
		Strategy: describe(strat),
		BuyHold:  describe(hold),
		WinRate:  math.NaN(),
	}
	if n > 0 {
		st.WinRate = float64(wins) / float64(n)
	}
	return st
}

func describe(xs []float64) Distribution {
	nan := math.NaN()
	if len(xs) == 0 {
		return Distribution{Mean: nan, Median: nan, StdDev: nan, Min: nan, Max: nan}
	}
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)

	d := Distribution{
		Mean:   stat.Mean(sorted, nil),
		Median: stat.Quantile(0.5, stat.Empirical, sorted, nil),
		StdDev: nan,
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
	}
	if len(sorted) > 1 {
		d.StdDev = stat.StdDev(sorted, nil)
	}
	return d
}
