package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"

	"kellyfactor/internal/domain"
	"kellyfactor/internal/kelly"
	"kellyfactor/internal/market"
	"kellyfactor/internal/portfolio"
)

// minSampleRows is the smallest restricted window that yields a defined
// terminal return.
const minSampleRows = 2

// BacktestConfig describes a batch of randomly placed simulation windows.
type BacktestConfig struct {
	Params      kelly.Params
	Portfolio   portfolio.Config
	HorizonDays int  // calendar days covered by every window
	Repetitions int  // number of windows to draw
	KeepResults bool // retain the full table of every repetition
	Workers     int  // concurrent simulations; values below 1 mean 1
	MaxDraws    int  // total draw budget including rejects; 0 means 100 per repetition
}

// Validate checks the configuration that does not depend on the data.
func (c BacktestConfig) Validate() error {
	if err := c.Params.Validate(); err != nil {
		return err
	}
	if err := c.Portfolio.Validate(); err != nil {
		return err
	}
	if c.Repetitions <= 0 {
		return fmt.Errorf("repetitions must be positive, got %d: %w", c.Repetitions, domain.ErrInvalidConfiguration)
	}
	if c.HorizonDays <= 0 {
		return fmt.Errorf("horizon must be positive, got %d days: %w", c.HorizonDays, domain.ErrInvalidConfiguration)
	}
	return nil
}

// Backtester re-runs the strategy over randomly sampled historical windows.
type Backtester struct {
	log *slog.Logger
}

// NewBacktester creates a Backtester that logs progress to log (or the
// default logger when nil).
func NewBacktester(log *slog.Logger) *Backtester {
	if log == nil {
		log = slog.Default()
	}
	return &Backtester{log: log.With("component", "backtest")}
}

// draw is one accepted window.
type draw struct {
	start time.Time
	view  *market.Series
}

// Run performs cfg.Repetitions independent repetitions. Each one draws a
// start date uniformly, in whole days, from [first, last-horizon] so that the
// full horizon always fits inside the data, restricts series to
// [start, start+horizon] and runs the strategy on it. Windows with fewer than
// two observations are rejected and redrawn.
//
// The first cfg.Repetitions start dates are drawn from rng up front, in order,
// and simulated concurrently. A repetition whose terminal cumulative return is
// not finite (a levered portfolio that crossed zero on its last step) is then
// replaced, in sample order, by further sequential draws. A fixed seed
// therefore gives the same summary whatever the worker count. Every draw,
// rejected or not, counts against cfg.MaxDraws. On any error, including
// cancellation, no summary is returned.
func (bt *Backtester) Run(ctx context.Context, series *market.Series, cfg BacktestConfig, rng *rand.Rand) (domain.BacktestSummary, error) {
	if err := cfg.Validate(); err != nil {
		return domain.BacktestSummary{}, err
	}
	if rng == nil {
		return domain.BacktestSummary{}, fmt.Errorf("random source is required: %w", domain.ErrInvalidConfiguration)
	}
	if series.Len() < minSampleRows {
		return domain.BacktestSummary{}, fmt.Errorf("series has %d observations: %w", series.Len(), domain.ErrInsufficientData)
	}

	first, last := series.First(), series.Last()
	latestStart := last.AddDate(0, 0, -cfg.HorizonDays)
	if latestStart.Before(first) {
		return domain.BacktestSummary{}, fmt.Errorf("horizon of %d days exceeds the %s to %s data range: %w",
			cfg.HorizonDays, first.Format(time.DateOnly), last.Format(time.DateOnly), domain.ErrInvalidConfiguration)
	}
	candidates := daysBetween(first, latestStart) + 1

	maxDraws := cfg.MaxDraws
	if maxDraws <= 0 {
		maxDraws = 100 * cfg.Repetitions
	}

	runStart := time.Now()
	attempts, degenerate := 0, 0

	// next draws windows until one has enough rows or the budget runs out.
	next := func(accepted int) (draw, error) {
		for {
			if attempts >= maxDraws {
				return draw{}, fmt.Errorf("only %d of %d windows were usable after %d draws: %w",
					accepted, cfg.Repetitions, attempts, domain.ErrInsufficientData)
			}
			attempts++

			start := first.AddDate(0, 0, rng.IntN(candidates))
			end := start.AddDate(0, 0, cfg.HorizonDays)
			if end.After(last) {
				// Only reachable when first and last differ in time of day.
				end = last
				start = latestStart
			}

			view := series.Restrict(start, end)
			if view.Len() < minSampleRows {
				bt.log.Debug("rejected window", "start", start.Format(time.DateOnly), "rows", view.Len())
				continue
			}
			return draw{start: start, view: view}, nil
		}
	}

	draws := make([]draw, 0, cfg.Repetitions)
	for len(draws) < cfg.Repetitions {
		d, err := next(len(draws))
		if err != nil {
			return domain.BacktestSummary{}, err
		}
		draws = append(draws, d)
	}

	workers := max(cfg.Workers, 1)
	samples := make([]domain.BacktestSample, len(draws))
	var results []domain.SimulationResult
	if cfg.KeepResults {
		results = make([]domain.SimulationResult, len(draws))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, d := range draws {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sample, res, err := bt.simulate(d, cfg)
			if err != nil {
				return fmt.Errorf("repetition %d: %w", i, err)
			}
			samples[i] = sample
			if cfg.KeepResults {
				results[i] = res
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.BacktestSummary{}, err
	}

	for i := range samples {
		for !samples[i].Finite() {
			if err := ctx.Err(); err != nil {
				return domain.BacktestSummary{}, err
			}
			degenerate++
			bt.log.Debug("redrawing degenerate window", "start", samples[i].StartDate.Format(time.DateOnly))

			d, err := next(i)
			if err != nil {
				return domain.BacktestSummary{}, err
			}
			sample, res, err := bt.simulate(d, cfg)
			if err != nil {
				return domain.BacktestSummary{}, fmt.Errorf("repetition %d: %w", i, err)
			}
			samples[i] = sample
			if cfg.KeepResults {
				results[i] = res
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return domain.BacktestSummary{}, err
	}

	bt.log.Info("backtest complete",
		"repetitions", cfg.Repetitions,
		"draws", attempts,
		"rejected", attempts-len(draws)-degenerate,
		"degenerate", degenerate,
		"horizonDays", cfg.HorizonDays,
		"workers", workers,
		"elapsed", time.Since(runStart).Round(time.Millisecond),
	)

	return domain.BacktestSummary{Samples: samples, Results: results}, nil
}

// simulate runs the strategy over one window and returns its terminal sample.
func (bt *Backtester) simulate(d draw, cfg BacktestConfig) (domain.BacktestSample, domain.SimulationResult, error) {
	res, err := Run(d.view, cfg.Params, cfg.Portfolio)
	if err != nil {
		return domain.BacktestSample{}, domain.SimulationResult{}, err
	}
	final, _ := res.Last()
	return domain.BacktestSample{
		StartDate:            d.start,
		StrategyCumLogReturn: final.StrategyCumLogReturn,
		BuyHoldCumLogReturn:  final.BuyHoldCumLogReturn,
	}, res, nil
}

// daysBetween counts whole calendar days from a to b, ignoring time of day
// and location offsets.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}
