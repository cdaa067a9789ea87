// Package httpapi serves the published leverage table over HTTP, as the raw
// tab-separated file and as JSON.
package httpapi

import (
	"math"
	"time"

	"kellyfactor/internal/domain"
	"kellyfactor/internal/publish"
	"kellyfactor/internal/store"
)

// RowJSON is the JSON representation of one published row. Undefined values
// are null.
type RowJSON struct {
	Date                 string   `json:"date"`
	Close                *float64 `json:"close"`
	KellyFractionApplied *float64 `json:"kelly_fraction_applied"`
	StrategyCumReturns   *float64 `json:"strategy_cum_returns"`
	CumReturns           *float64 `json:"cum_returns"`
}

// LatestJSON is the body of GET /api/latest.
type LatestJSON struct {
	Row       RowJSON   `json:"row"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableJSON is the body of GET /api/table.
type TableJSON struct {
	Columns   []string  `json:"columns"`
	Rows      []RowJSON `json:"rows"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BacktestRunJSON is a stored backtest run with NaN statistics as null.
type BacktestRunJSON struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	Symbol       string    `json:"symbol"`
	Preset       string    `json:"preset"`
	HorizonDays  int       `json:"horizon_days"`
	Repetitions  int       `json:"repetitions"`
	Seed         uint64    `json:"seed"`
	StrategyMean *float64  `json:"strategy_mean"`
	BuyHoldMean  *float64  `json:"buy_hold_mean"`
	WinRate      *float64  `json:"win_rate"`
}

// SampleJSON is one backtest outcome.
type SampleJSON struct {
	StartDate            string   `json:"start_date"`
	StrategyCumLogReturn *float64 `json:"strategy_cum_log_return"`
	BuyHoldCumLogReturn  *float64 `json:"buy_hold_cum_log_return"`
}

// ToRowJSON converts a published row.
func ToRowJSON(r publish.Row) RowJSON {
	return RowJSON{
		Date:                 r.Date.Format(time.DateOnly),
		Close:                num(r.Close),
		KellyFractionApplied: num(r.KellyFractionApplied),
		StrategyCumReturns:   num(r.StrategyCumReturns),
		CumReturns:           num(r.CumReturns),
	}
}

func toRunJSON(r store.BacktestRun) BacktestRunJSON {
	return BacktestRunJSON{
		ID:           r.ID,
		CreatedAt:    r.CreatedAt,
		Symbol:       r.Symbol,
		Preset:       r.Preset,
		HorizonDays:  r.HorizonDays,
		Repetitions:  r.Repetitions,
		Seed:         r.Seed,
		StrategyMean: num(r.StrategyMean),
		BuyHoldMean:  num(r.BuyHoldMean),
		WinRate:      num(r.WinRate),
	}
}

func toSampleJSON(s domain.BacktestSample) SampleJSON {
	return SampleJSON{
		StartDate:            s.StartDate.Format(time.DateOnly),
		StrategyCumLogReturn: num(s.StrategyCumLogReturn),
		BuyHoldCumLogReturn:  num(s.BuyHoldCumLogReturn),
	}
}

// num maps NaN and infinities to nil; encoding/json rejects them.
func num(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
