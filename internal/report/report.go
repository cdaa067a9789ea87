// Package report renders simulation and backtest results as PNG charts.
package report

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/vicanso/go-charts/v2"

	"kellyfactor/internal/domain"
	"kellyfactor/internal/strategy"
)

const (
	width  = 1000
	height = 600
)

// RenderSimulation plots the growth of 100 under buy-and-hold and under the
// strategy, exp(cumulative log return) * 100.
func RenderSimulation(res domain.SimulationResult, title string) ([]byte, error) {
	if res.Len() == 0 {
		return nil, fmt.Errorf("rendering simulation: %w", domain.ErrInsufficientData)
	}
	buyHold := make([]float64, res.Len())
	strat := make([]float64, res.Len())
	for i, r := range res.Rows {
		buyHold[i] = growth(r.BuyHoldCumLogReturn)
		strat[i] = growth(r.StrategyCumLogReturn)
	}

	lo, hi := bounds(buyHold, strat)
	p, err := charts.LineRender(
		[][]float64{buyHold, strat},
		charts.TitleTextOptionFunc(title, "growth of 100, "+span(res)),
		charts.XAxisOptionFunc(charts.XAxisOption{
			Data:        dateLabels(res),
			SplitNumber: 6,
			BoundaryGap: charts.FalseFlag(),
		}),
		charts.YAxisOptionFunc(charts.YAxisOption{Min: &lo, Max: &hi, DivideCount: 5}),
		charts.LegendOptionFunc(charts.LegendOption{Data: []string{"buy and hold", "kelly strategy"}}),
		charts.ThemeOptionFunc(charts.ThemeLight),
		charts.WidthOptionFunc(width),
		charts.HeightOptionFunc(height),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to render chart: %w", err)
	}
	return p.Bytes()
}

// RenderLeverage plots the applied leverage over time.
func RenderLeverage(res domain.SimulationResult, title string) ([]byte, error) {
	if res.Len() == 0 {
		return nil, fmt.Errorf("rendering leverage: %w", domain.ErrInsufficientData)
	}
	lev := make([]float64, res.Len())
	for i, r := range res.Rows {
		lev[i] = finite(r.KellyFractionApplied, 0)
	}

	lo, hi := bounds(lev)
	p, err := charts.LineRender(
		[][]float64{lev},
		charts.TitleTextOptionFunc(title, "kelly_fraction_applied, "+span(res)),
		charts.XAxisOptionFunc(charts.XAxisOption{
			Data:        dateLabels(res),
			SplitNumber: 6,
			BoundaryGap: charts.FalseFlag(),
		}),
		charts.YAxisOptionFunc(charts.YAxisOption{Min: &lo, Max: &hi, DivideCount: 5}),
		charts.ThemeOptionFunc(charts.ThemeLight),
		charts.WidthOptionFunc(width),
		charts.HeightOptionFunc(height),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to render chart: %w", err)
	}
	return p.Bytes()
}

// RenderBacktest plots the sorted terminal cumulative log returns of both
// strategies across the backtest samples, worst outcome first.
func RenderBacktest(sum domain.BacktestSummary, title string) ([]byte, error) {
	n := len(sum.Samples)
	if n == 0 {
		return nil, fmt.Errorf("rendering backtest: %w", domain.ErrInsufficientData)
	}
	strat := make([]float64, n)
	buyHold := make([]float64, n)
	for i, s := range sum.Samples {
		strat[i] = finite(s.StrategyCumLogReturn, 0)
		buyHold[i] = finite(s.BuyHoldCumLogReturn, 0)
	}
	slices.Sort(strat)
	slices.Sort(buyHold)

	labels := make([]string, n)
	for i := range labels {
		labels[i] = fmt.Sprintf("%d%%", (i*100)/max(n-1, 1))
	}

	st := strategy.Summarize(sum)
	subtitle := fmt.Sprintf("%d samples | strategy mean %.2f | buy and hold mean %.2f | win rate %.0f%%",
		st.Count, st.Strategy.Mean, st.BuyHold.Mean, st.WinRate*100)

	lo, hi := bounds(strat, buyHold)
	p, err := charts.LineRender(
		[][]float64{buyHold, strat},
		charts.TitleTextOptionFunc(title, subtitle),
		charts.XAxisOptionFunc(charts.XAxisOption{
			Data:        labels,
			SplitNumber: min(10, n),
			BoundaryGap: charts.FalseFlag(),
		}),
		charts.YAxisOptionFunc(charts.YAxisOption{Min: &lo, Max: &hi, DivideCount: 5}),
		charts.LegendOptionFunc(charts.LegendOption{Data: []string{"buy and hold", "kelly strategy"}}),
		charts.ThemeOptionFunc(charts.ThemeLight),
		charts.WidthOptionFunc(width),
		charts.HeightOptionFunc(height),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to render chart: %w", err)
	}
	return p.Bytes()
}

// WriteFile writes a rendered chart, creating parent directories.
func WriteFile(path string, png []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, png, 0o644)
}

func growth(cum float64) float64 {
	return finite(math.Exp(cum)*100, 100)
}

func finite(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}

// bounds returns a y-axis range padded by 5% on each side.
func bounds(series ...[]float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range series {
		for _, v := range s {
			lo = min(lo, v)
			hi = max(hi, v)
		}
	}
	pad := (hi - lo) * 0.05
	if pad == 0 {
		pad = math.Max(math.Abs(hi)*0.05, 1)
	}
	return lo - pad, hi + pad
}

func dateLabels(res domain.SimulationResult) []string {
	labels := make([]string, res.Len())
	for i, r := range res.Rows {
		labels[i] = r.Date.Format("Jan '06")
	}
	return labels
}

func span(res domain.SimulationResult) string {
	first := res.Rows[0].Date
	last := res.Rows[res.Len()-1].Date
	return first.Format(time.DateOnly) + " to " + last.Format(time.DateOnly)
}
