// Package store defines storage interfaces for persisting price history,
// simulation tables and backtest runs.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"kellyfactor/internal/domain"
)

// ErrNotFound is returned when a named result or backtest run does not exist.
var ErrNotFound = errors.New("not found")

// PriceStore persists and retrieves daily closes.
type PriceStore interface {
	// WritePrices merges observations into the symbol's history. Existing
	// observations on the same date are replaced.
	WritePrices(ctx context.Context, symbol string, obs []domain.PriceObservation) error

	// ReadPrices returns the symbol's observations within [start, end] in date
	// order. A zero bound leaves that side open.
	ReadPrices(ctx context.Context, symbol string, start, end time.Time) ([]domain.PriceObservation, error)

	// ListSymbols returns all symbols with stored prices.
	ListSymbols(ctx context.Context) ([]string, error)
}

// ResultStore persists full simulation tables under a name.
type ResultStore interface {
	// WriteResult replaces the stored result called name.
	WriteResult(ctx context.Context, name string, res domain.SimulationResult) error

	// ReadResult loads the result called name.
	ReadResult(ctx context.Context, name string) (domain.SimulationResult, error)
}

// BacktestRun describes one persisted backtest.
type BacktestRun struct {
	ID           string          `json:"id"`
	CreatedAt    time.Time       `json:"created_at"`
	Symbol       string          `json:"symbol"`
	Preset       string          `json:"preset"`
	HorizonDays  int             `json:"horizon_days"`
	Repetitions  int             `json:"repetitions"`
	Seed         uint64          `json:"seed"`
	Params       json.RawMessage `json:"params"`    // estimator parameters
	Portfolio    json.RawMessage `json:"portfolio"` // simulator settings
	StrategyMean float64         `json:"strategy_mean"`
	BuyHoldMean  float64         `json:"buy_hold_mean"`
	WinRate      float64         `json:"win_rate"`
}

// BacktestStore persists backtest runs and their samples.
type BacktestStore interface {
	// SaveBacktest stores run and its samples atomically. An empty run.ID is
	// replaced with a new identifier and a zero CreatedAt with the current
	// time.
	SaveBacktest(ctx context.Context, run *BacktestRun, samples []domain.BacktestSample) error

	// ListBacktests returns the most recent runs first, up to limit.
	ListBacktests(ctx context.Context, limit int) ([]BacktestRun, error)

	// LoadSamples returns the samples of a run in draw order.
	LoadSamples(ctx context.Context, runID string) ([]domain.BacktestSample, error)
}
