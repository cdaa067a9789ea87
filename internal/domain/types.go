// Package domain defines the core value types shared by the estimator,
// simulator, backtester and the I/O layers around them.
package domain

import (
	"errors"
	"math"
	"time"
)

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// ErrInvalidConfiguration is wrapped by every parameter validation failure.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// ErrInsufficientData is returned when a computation cannot find enough
// observations to produce a meaningful result.
var ErrInsufficientData = errors.New("insufficient data")

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// PriceObservation is a single daily close.
type PriceObservation struct {
	Date  time.Time
	Close float64
}

// ---------------------------------------------------------------------------
// Estimation and simulation
// ---------------------------------------------------------------------------

// LeveragePoint is the capped Kelly factor for one observation.
type LeveragePoint struct {
	Date                 time.Time
	KellyFactor          float64 // capped, in [min_kelly, max_kelly]
	KellyFractionApplied float64 // KellyFactor * kelly_fraction
}

// PortfolioState is the split of the portfolio after one step.
type PortfolioState struct {
	Portfolio float64
	Equity    float64
	Cash      float64
}

// ResultRow is one aligned row of a simulation.
type ResultRow struct {
	Date                 time.Time
	Close                float64
	Return               float64 // NaN on the first row
	LogReturn            float64 // NaN on the first row
	KellyFactor          float64
	KellyFractionApplied float64
	Portfolio            float64
	Equity               float64
	Cash                 float64
	StrategyLogReturn    float64 // NaN on the first row
	StrategyCumLogReturn float64
	BuyHoldCumLogReturn  float64
}

// SimulationResult is the full table produced by a single run.
type SimulationResult struct {
	Rows []ResultRow
}

// Len returns the number of rows.
func (r SimulationResult) Len() int { return len(r.Rows) }

// Last returns the final row. The second return value is false when the
// result is empty.
func (r SimulationResult) Last() (ResultRow, bool) {
	if len(r.Rows) == 0 {
		return ResultRow{}, false
	}
	return r.Rows[len(r.Rows)-1], true
}

// Tail returns a copy of the last n rows (all rows if n exceeds the length).
func (r SimulationResult) Tail(n int) []ResultRow {
	if n > len(r.Rows) {
		n = len(r.Rows)
	}
	if n <= 0 {
		return nil
	}
	out := make([]ResultRow, n)
	copy(out, r.Rows[len(r.Rows)-n:])
	return out
}

// ---------------------------------------------------------------------------
// Backtesting
// ---------------------------------------------------------------------------

// BacktestSample is the terminal outcome of one backtest repetition.
type BacktestSample struct {
	StartDate            time.Time
	StrategyCumLogReturn float64
	BuyHoldCumLogReturn  float64
}

// Finite reports whether both terminal returns are defined numbers.
func (s BacktestSample) Finite() bool {
	ok := func(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
	return ok(s.StrategyCumLogReturn) && ok(s.BuyHoldCumLogReturn)
}

// BacktestSummary collects every repetition in draw order. Results is only
// populated when the caller asked to keep the per-repetition tables.
type BacktestSummary struct {
	Samples []BacktestSample
	Results []SimulationResult
}
