package kelly

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"kellyfactor/internal/domain"
)

func datesFor(n int) []time.Time {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]time.Time, n)
	for i := range out {
		out[i] = start.AddDate(0, 0, i)
	}
	return out
}

// randomLogReturns returns n log returns with an undefined first value, as
// produced by market.Series.
func randomLogReturns(n int, seed uint64) []float64 {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := make([]float64, n)
	out[0] = math.NaN()
	for i := 1; i < n; i++ {
		out[i] = 0.0003 + 0.012*rng.NormFloat64()
	}
	return out
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		params  Params
		wantErr bool
	}{
		{"defaults", DefaultParams(), false},
		{"zero window", Params{Window: 0, MinKelly: 0, MaxKelly: 1}, true},
		{"negative window", Params{Window: -3, MinKelly: 0, MaxKelly: 1}, true},
		{"max below min", Params{Window: 10, MinKelly: 2, MaxKelly: 1}, true},
		{"equal bounds", Params{Window: 10, MinKelly: 1, MaxKelly: 1}, false},
		{"NaN bound", Params{Window: 10, MinKelly: math.NaN(), MaxKelly: 1}, true},
		{"NaN risk-free rate", Params{Window: 10, AnnualRiskFreeRate: math.NaN(), MaxKelly: 1, KellyFraction: 1}, true},
		{"infinite risk-free rate", Params{Window: 10, AnnualRiskFreeRate: math.Inf(1), MaxKelly: 1, KellyFraction: 1}, true},
		{"total-loss risk-free rate", Params{Window: 10, AnnualRiskFreeRate: -1, MaxKelly: 1, KellyFraction: 1}, true},
		{"negative risk-free rate", Params{Window: 10, AnnualRiskFreeRate: -0.005, MaxKelly: 1, KellyFraction: 1}, false},
		{"NaN fraction", Params{Window: 10, MaxKelly: 1, KellyFraction: math.NaN()}, true},
		{"infinite fraction", Params{Window: 10, MaxKelly: 1, KellyFraction: math.Inf(-1)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, domain.ErrInvalidConfiguration) {
				t.Errorf("Validate() error %v does not wrap ErrInvalidConfiguration", err)
			}
		})
	}
}

func TestDailyRiskFreeGrowth(t *testing.T) {
	g := DailyRiskFreeGrowth(0.01)
	if got := math.Pow(g, TradingDaysPerYear); math.Abs(got-1.01) > 1e-12 {
		t.Errorf("DailyRiskFreeGrowth(0.01)^252 = %v, want 1.01", got)
	}
	if DailyRiskFreeGrowth(0) != 1 {
		t.Errorf("DailyRiskFreeGrowth(0) = %v, want 1", DailyRiskFreeGrowth(0))
	}
	if got, want := LogDailyRiskFree(0.01), math.Log(1.01)/TradingDaysPerYear; math.Abs(got-want) > 1e-15 {
		t.Errorf("LogDailyRiskFree(0.01) = %v, want %v", got, want)
	}
}

func TestFactorDegenerateStd(t *testing.T) {
	if k := Factor(0.001, 0, 0); !math.IsNaN(k) {
		t.Errorf("Factor with zero std = %v, want NaN", k)
	}
	if k := Factor(0.001, math.NaN(), 0); !math.IsNaN(k) {
		t.Errorf("Factor with NaN std = %v, want NaN", k)
	}
	if k := Factor(0.003, 0.1, 0.001); math.Abs(k-0.2) > 1e-12 {
		t.Errorf("Factor(0.003, 0.1, 0.001) = %v, want 0.2", k)
	}
}

func TestCapOrdering(t *testing.T) {
	tests := []struct {
		name          string
		k, min, max   float64
		want          float64
	}{
		{"NaN inside range", math.NaN(), -5, 5, 0},
		{"NaN with range above zero", math.NaN(), 1, 3, 1},
		{"NaN with range below zero", math.NaN(), -3, -1, -1},
		{"below min", -7, -5, 5, -5},
		{"above max", 12, -5, 5, 5},
		{"inside", 2.5, -5, 5, 2.5},
		{"positive infinity", math.Inf(1), 0, 3, 3},
		{"negative infinity", math.Inf(-1), 0, 3, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Cap(tt.k, tt.min, tt.max); got != tt.want {
				t.Errorf("Cap(%v, %v, %v) = %v, want %v", tt.k, tt.min, tt.max, got, tt.want)
			}
		})
	}
}

func TestEstimateCappingInvariant(t *testing.T) {
	bounds := [][2]float64{{-5, 5}, {0, 3}, {1, 3}, {0, 100}, {0.5, 0.5}}
	logReturns := randomLogReturns(600, 7)
	dates := datesFor(len(logReturns))

	for _, b := range bounds {
		p := Params{Window: 20, AnnualRiskFreeRate: 0.02, MinKelly: b[0], MaxKelly: b[1], KellyFraction: 0.5}
		points, err := Estimate(dates, logReturns, p)
		if err != nil {
			t.Fatalf("Estimate: %v", err)
		}
		if len(points) != len(logReturns) {
			t.Fatalf("Estimate returned %d points, want %d", len(points), len(logReturns))
		}
		for i, pt := range points {
			if pt.KellyFactor < b[0] || pt.KellyFactor > b[1] {
				t.Fatalf("bounds %v: KellyFactor[%d] = %v outside range", b, i, pt.KellyFactor)
			}
			if pt.KellyFractionApplied != pt.KellyFactor*0.5 {
				t.Fatalf("KellyFractionApplied[%d] = %v, want %v", i, pt.KellyFractionApplied, pt.KellyFactor*0.5)
			}
			if !pt.Date.Equal(dates[i]) {
				t.Fatalf("Date[%d] = %v, want %v", i, pt.Date, dates[i])
			}
		}
	}
}

func TestEstimateWarmupIsZero(t *testing.T) {
	logReturns := randomLogReturns(300, 11)
	p := Params{Window: 252, AnnualRiskFreeRate: 0.01, MinKelly: -5, MaxKelly: 5, KellyFraction: 1}

	points, err := Estimate(datesFor(300), logReturns, p)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	for i := 0; i <= 250; i++ {
		if points[i].KellyFactor != 0 {
			t.Fatalf("KellyFactor[%d] = %v, want 0 during warm-up", i, points[i].KellyFactor)
		}
	}
	// Index 251 is the first full window, but it still contains the
	// undefined first return.
	if points[251].KellyFactor != 0 {
		t.Errorf("KellyFactor[251] = %v, want 0", points[251].KellyFactor)
	}
	nonZero := 0
	for i := 252; i < 300; i++ {
		if points[i].KellyFactor != 0 {
			nonZero++
		}
	}
	if nonZero == 0 {
		t.Error("no non-zero Kelly factor after the warm-up period")
	}
}

func TestEstimateKnownValue(t *testing.T) {
	logReturns := []float64{math.NaN(), 0.01, -0.02, 0.03, 0.005}
	p := Params{Window: 3, AnnualRiskFreeRate: 0.05, MinKelly: -1000, MaxKelly: 1000, KellyFraction: 2}

	points, err := Estimate(datesFor(5), logReturns, p)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}

	for i := 0; i < 3; i++ {
		if points[i].KellyFactor != 0 {
			t.Errorf("KellyFactor[%d] = %v, want 0", i, points[i].KellyFactor)
		}
	}

	// Window ending at index 3: {0.01, -0.02, 0.03}.
	mean := (0.01 - 0.02 + 0.03) / 3
	variance := (math.Pow(0.01-mean, 2) + math.Pow(-0.02-mean, 2) + math.Pow(0.03-mean, 2)) / 2
	want := (mean - LogDailyRiskFree(0.05)) / variance
	if math.Abs(points[3].KellyFactor-want) > 1e-9 {
		t.Errorf("KellyFactor[3] = %v, want %v", points[3].KellyFactor, want)
	}
	if math.Abs(points[3].KellyFractionApplied-2*want) > 1e-9 {
		t.Errorf("KellyFractionApplied[3] = %v, want %v", points[3].KellyFractionApplied, 2*want)
	}
}

func TestEstimateFlatSeries(t *testing.T) {
	logReturns := make([]float64, 400)
	logReturns[0] = math.NaN()
	p := Params{Window: 252, AnnualRiskFreeRate: 0.01, MinKelly: -5, MaxKelly: 5, KellyFraction: 1}

	points, err := Estimate(datesFor(400), logReturns, p)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	for i, pt := range points {
		if pt.KellyFactor != 0 || pt.KellyFractionApplied != 0 {
			t.Fatalf("point %d = %+v, want zero leverage for a flat series", i, pt)
		}
	}
}

func TestEstimateSinglePointWindow(t *testing.T) {
	logReturns := []float64{math.NaN(), math.Log(1.10)}
	p := Params{Window: 1, AnnualRiskFreeRate: 0.01, MinKelly: -5, MaxKelly: 5, KellyFraction: 1}

	points, err := Estimate(datesFor(2), logReturns, p)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	// A single observation has no sample standard deviation.
	if points[1].KellyFactor != 0 {
		t.Errorf("KellyFactor[1] = %v, want 0", points[1].KellyFactor)
	}

	p.MinKelly, p.MaxKelly = 1, 3
	points, err = Estimate(datesFor(2), logReturns, p)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if points[1].KellyFactor != 1 {
		t.Errorf("KellyFactor[1] = %v, want min_kelly 1", points[1].KellyFactor)
	}
}

func TestEstimateInvalidConfiguration(t *testing.T) {
	logReturns := randomLogReturns(10, 3)

	points, err := Estimate(datesFor(10), logReturns, Params{Window: 0, MaxKelly: 1})
	if !errors.Is(err, domain.ErrInvalidConfiguration) {
		t.Fatalf("Estimate error = %v, want ErrInvalidConfiguration", err)
	}
	if points != nil {
		t.Errorf("Estimate returned %d points alongside an error", len(points))
	}

	_, err = Estimate(datesFor(10), logReturns, Params{Window: 5, MinKelly: 3, MaxKelly: 1})
	if !errors.Is(err, domain.ErrInvalidConfiguration) {
		t.Errorf("Estimate error = %v, want ErrInvalidConfiguration", err)
	}

	_, err = Estimate(datesFor(9), logReturns, DefaultParams())
	if !errors.Is(err, domain.ErrInvalidConfiguration) {
		t.Errorf("Estimate with mismatched lengths error = %v, want ErrInvalidConfiguration", err)
	}
}

func TestEstimateEmpty(t *testing.T) {
	points, err := Estimate(nil, nil, DefaultParams())
	if err != nil {
		t.Fatalf("Estimate on empty input: %v", err)
	}
	if len(points) != 0 {
		t.Errorf("Estimate on empty input returned %d points", len(points))
	}
}
