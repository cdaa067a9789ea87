package strategy

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"kellyfactor/internal/domain"
	"kellyfactor/internal/kelly"
	"kellyfactor/internal/market"
	"kellyfactor/internal/portfolio"
)

var epoch = time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)

// seriesFromCloses places closes on consecutive calendar days from epoch.
func seriesFromCloses(closes []float64) *market.Series {
	obs := make([]domain.PriceObservation, len(closes))
	for i, c := range closes {
		obs[i] = domain.PriceObservation{Date: epoch.AddDate(0, 0, i), Close: c}
	}
	return market.New(obs)
}

// randomWalk returns a weekday-only geometric random walk spanning the given
// number of calendar days.
func randomWalk(days int, seed uint64) *market.Series {
	rng := rand.New(rand.NewPCG(seed, seed+7))
	obs := make([]domain.PriceObservation, 0, days)
	price := 100.0
	for i := 0; i <= days; i++ {
		d := epoch.AddDate(0, 0, i)
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		price *= math.Exp(0.0003 + 0.011*rng.NormFloat64())
		obs = append(obs, domain.PriceObservation{Date: d, Close: price})
	}
	return market.New(obs)
}

func blogParams() kelly.Params {
	return kelly.Params{Window: 252, AnnualRiskFreeRate: 0.01, MinKelly: -5, MaxKelly: 5, KellyFraction: 1}
}

func TestRunFlatSeries(t *testing.T) {
	closes := make([]float64, 400)
	for i := range closes {
		closes[i] = 100
	}
	cfg := portfolio.Config{AnnualRiskFreeRate: 0.01, RebalancingInterval: 1}
	res, err := Run(seriesFromCloses(closes), blogParams(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Len() != 400 {
		t.Fatalf("Len() = %d, want 400", res.Len())
	}

	rf := kelly.DailyRiskFreeGrowth(0.01)
	for i, row := range res.Rows {
		if row.KellyFactor != 0 || row.KellyFractionApplied != 0 {
			t.Fatalf("row %d leverage = %v/%v, want 0", i, row.KellyFactor, row.KellyFractionApplied)
		}
		if row.BuyHoldCumLogReturn != 0 {
			t.Fatalf("row %d buy-and-hold = %v, want 0", i, row.BuyHoldCumLogReturn)
		}
		// Fully in cash, so the portfolio compounds at the risk-free rate.
		if want := math.Pow(rf, float64(i)); math.Abs(row.Portfolio-want) > 1e-9 {
			t.Fatalf("portfolio[%d] = %v, want %v", i, row.Portfolio, want)
		}
		if want := float64(i) * math.Log(rf); math.Abs(row.StrategyCumLogReturn-want) > 1e-9 {
			t.Fatalf("strategy cum[%d] = %v, want %v", i, row.StrategyCumLogReturn, want)
		}
	}
}

func TestRunTwoRows(t *testing.T) {
	p := blogParams()
	p.Window = 1
	cfg := portfolio.Config{AnnualRiskFreeRate: 0.01, RebalancingInterval: 1}

	res, err := Run(seriesFromCloses([]float64{100, 110}), p, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", res.Len())
	}

	first, second := res.Rows[0], res.Rows[1]
	if !math.IsNaN(first.Return) || !math.IsNaN(first.LogReturn) || !math.IsNaN(first.StrategyLogReturn) {
		t.Errorf("first row returns = %v/%v/%v, want NaN", first.Return, first.LogReturn, first.StrategyLogReturn)
	}
	if first.Portfolio != 1 || first.Cash != 1 || first.Equity != 0 {
		t.Errorf("first row state = %v/%v/%v, want 1/1/0", first.Portfolio, first.Cash, first.Equity)
	}
	if first.StrategyCumLogReturn != 0 || first.BuyHoldCumLogReturn != 0 {
		t.Errorf("first row cumulative returns = %v/%v, want 0", first.StrategyCumLogReturn, first.BuyHoldCumLogReturn)
	}

	if second.KellyFactor != 0 {
		t.Errorf("KellyFactor[1] = %v, want 0 for a single-sample window", second.KellyFactor)
	}
	rf := kelly.DailyRiskFreeGrowth(0.01)
	if math.Abs(second.Portfolio-rf) > 1e-12 {
		t.Errorf("portfolio[1] = %v, want %v", second.Portfolio, rf)
	}
	if math.Abs(second.BuyHoldCumLogReturn-math.Log(1.1)) > 1e-12 {
		t.Errorf("buy-and-hold cum[1] = %v, want ln(1.1)", second.BuyHoldCumLogReturn)
	}
	if math.Abs(second.Return-1.1) > 1e-12 {
		t.Errorf("Return[1] = %v, want 1.1", second.Return)
	}
}

func TestRunAlignment(t *testing.T) {
	s := randomWalk(800, 3)
	res, err := Run(s, blogParams(), portfolio.Config{AnnualRiskFreeRate: 0.01, RebalancingInterval: 5})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	dates := s.Dates()
	closes := s.Closes()
	if res.Len() != len(dates) {
		t.Fatalf("Len() = %d, want %d", res.Len(), len(dates))
	}
	for i, row := range res.Rows {
		if !row.Date.Equal(dates[i]) || row.Close != closes[i] {
			t.Fatalf("row %d = %v/%v, want %v/%v", i, row.Date, row.Close, dates[i], closes[i])
		}
		if row.KellyFactor < -5 || row.KellyFactor > 5 {
			t.Fatalf("row %d KellyFactor %v outside [-5, 5]", i, row.KellyFactor)
		}
		if i > 0 {
			want := math.Log(row.Portfolio)
			if math.Abs(row.StrategyCumLogReturn-want) > 1e-9 {
				t.Fatalf("strategy cum[%d] = %v, want ln(portfolio) = %v", i, row.StrategyCumLogReturn, want)
			}
			if want := math.Log(row.Close / closes[0]); math.Abs(row.BuyHoldCumLogReturn-want) > 1e-9 {
				t.Fatalf("buy-and-hold cum[%d] = %v, want %v", i, row.BuyHoldCumLogReturn, want)
			}
		}
	}
}

func TestRunEmptyAndInvalid(t *testing.T) {
	res, err := Run(market.New(nil), blogParams(), portfolio.Config{RebalancingInterval: 1})
	if err != nil || res.Len() != 0 {
		t.Errorf("Run on empty series = %d rows, %v, want 0 rows, nil", res.Len(), err)
	}

	s := seriesFromCloses([]float64{1, 2, 3})
	if _, err := Run(s, kelly.Params{Window: 0, MaxKelly: 1}, portfolio.Config{RebalancingInterval: 1}); !errors.Is(err, domain.ErrInvalidConfiguration) {
		t.Errorf("Run with window 0 error = %v, want ErrInvalidConfiguration", err)
	}
	if _, err := Run(s, blogParams(), portfolio.Config{RebalancingInterval: 0}); !errors.Is(err, domain.ErrInvalidConfiguration) {
		t.Errorf("Run with interval 0 error = %v, want ErrInvalidConfiguration", err)
	}
}
