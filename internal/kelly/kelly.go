// Package kelly estimates a time-varying, capped Kelly leverage factor from a
// log-return series using trailing-window statistics.
package kelly

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"kellyfactor/internal/domain"
)

// TradingDaysPerYear is the compounding period used to turn an annual
// risk-free rate into a per-step rate.
const TradingDaysPerYear = 252

// Params configures the estimator. It is passed by value and never mutated.
type Params struct {
	Window             int     `json:"window" yaml:"window"`
	AnnualRiskFreeRate float64 `json:"annual_risk_free_rate" yaml:"annual_risk_free_rate"`
	MinKelly           float64 `json:"min_kelly" yaml:"min_kelly"`
	MaxKelly           float64 `json:"max_kelly" yaml:"max_kelly"`
	KellyFraction      float64 `json:"kelly_fraction" yaml:"kelly_fraction"`
}

// DefaultParams returns a one-year window, a 1% risk-free rate, full Kelly
// and a [0, 100] cap.
func DefaultParams() Params {
	return Params{
		Window:             252,
		AnnualRiskFreeRate: 0.01,
		MinKelly:           0,
		MaxKelly:           100,
		KellyFraction:      1,
	}
}

// Validate reports an error wrapping domain.ErrInvalidConfiguration when the
// parameters cannot be used.
func (p Params) Validate() error {
	if p.Window <= 0 {
		return fmt.Errorf("window must be positive, got %d: %w", p.Window, domain.ErrInvalidConfiguration)
	}
	if math.IsNaN(p.MinKelly) || math.IsNaN(p.MaxKelly) {
		return fmt.Errorf("kelly bounds must be numbers: %w", domain.ErrInvalidConfiguration)
	}
	if !finite(p.AnnualRiskFreeRate) || p.AnnualRiskFreeRate <= -1 {
		return fmt.Errorf("annual_risk_free_rate %v must be a finite rate above -1: %w", p.AnnualRiskFreeRate, domain.ErrInvalidConfiguration)
	}
	if !finite(p.KellyFraction) {
		return fmt.Errorf("kelly_fraction %v must be finite: %w", p.KellyFraction, domain.ErrInvalidConfiguration)
	}
	if p.MaxKelly < p.MinKelly {
		return fmt.Errorf("max_kelly %v below min_kelly %v: %w", p.MaxKelly, p.MinKelly, domain.ErrInvalidConfiguration)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// DailyRiskFreeGrowth converts an annual rate into the per-step growth
// factor (1+annual)^(1/252).
func DailyRiskFreeGrowth(annual float64) float64 {
	return math.Pow(1+annual, 1.0/TradingDaysPerYear)
}

// LogDailyRiskFree is DailyRiskFreeGrowth on the log-return scale.
func LogDailyRiskFree(annual float64) float64 {
	return math.Log(DailyRiskFreeGrowth(annual))
}

// Factor is the uncapped Kelly factor (mean - rf) / std^2. A zero or
// undefined standard deviation yields NaN.
func Factor(mean, std, logRiskFree float64) float64 {
	if math.IsNaN(std) || std == 0 {
		return math.NaN()
	}
	return (mean - logRiskFree) / (std * std)
}

// Cap applies the capping policy in a fixed order: NaN becomes 0, then values
// below min are raised to min, then values above max are lowered to max.
// When [min, max] excludes zero an undefined factor therefore ends up at the
// nearer bound.
func Cap(k, min, max float64) float64 {
	if math.IsNaN(k) {
		k = 0
	}
	if k < min {
		k = min
	}
	if k > max {
		k = max
	}
	return k
}

// Estimate returns one LeveragePoint per input index. The statistic at index
// i uses the window log returns ending at i; it is undefined while fewer than
// Window values are available or while the window still contains an
// undefined (NaN) return, and undefined values are capped like any other.
func Estimate(dates []time.Time, logReturns []float64, p Params) ([]domain.LeveragePoint, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(dates) != len(logReturns) {
		return nil, fmt.Errorf("dates (%d) and log returns (%d) differ in length: %w",
			len(dates), len(logReturns), domain.ErrInvalidConfiguration)
	}

	logRF := LogDailyRiskFree(p.AnnualRiskFreeRate)
	points := make([]domain.LeveragePoint, len(logReturns))

	// lastNaN is the most recent index holding an undefined return.
	lastNaN := -1
	for i, r := range logReturns {
		if math.IsNaN(r) {
			lastNaN = i
		}

		k := math.NaN()
		start := i - p.Window + 1
		if start >= 0 && lastNaN < start {
			mean, std := trailingStats(logReturns[start : i+1])
			k = Factor(mean, std, logRF)
		}

		capped := Cap(k, p.MinKelly, p.MaxKelly)
		points[i] = domain.LeveragePoint{
			Date:                 dates[i],
			KellyFactor:          capped,
			KellyFractionApplied: capped * p.KellyFraction,
		}
	}
	return points, nil
}

// trailingStats returns the mean and sample standard deviation of window.
// The standard deviation of a single value is undefined.
func trailingStats(window []float64) (mean, std float64) {
	mean = stat.Mean(window, nil)
	if len(window) < 2 {
		return mean, math.NaN()
	}
	return mean, stat.StdDev(window, nil)
}
