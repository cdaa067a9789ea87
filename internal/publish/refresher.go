package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"kellyfactor/internal/domain"
	"kellyfactor/internal/gather"
	"kellyfactor/internal/kelly"
	"kellyfactor/internal/market"
	"kellyfactor/internal/portfolio"
	"kellyfactor/internal/store"
	"kellyfactor/internal/strategy"
)

// RefresherConfig controls what is recomputed and where it is written.
type RefresherConfig struct {
	Symbol     string
	Start      time.Time     // first date of the simulated range
	Interval   time.Duration // time between refreshes
	TailRows   int
	OutputPath string // published table
	ResultName string // name of the full table in the ResultStore; empty skips it
	Params     kelly.Params
	Portfolio  portfolio.Config
}

// Refresher periodically downloads prices, reruns the strategy over
// [Start, now+1 day] and republishes the table.
type Refresher struct {
	cfg     RefresherConfig
	source  gather.Gatherer
	prices  store.PriceStore
	results store.ResultStore
	snap    *Snapshot
	metrics *Metrics
	log     *slog.Logger
	now     func() time.Time
}

// NewRefresher creates a Refresher. prices, results and metrics may be nil.
// When prices is set, fetched observations are persisted and used as a
// fallback when the source is unavailable.
func NewRefresher(cfg RefresherConfig, source gather.Gatherer, prices store.PriceStore, results store.ResultStore, snap *Snapshot, metrics *Metrics, log *slog.Logger) *Refresher {
	if cfg.TailRows < 0 {
		cfg.TailRows = DefaultTailRows
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &Refresher{
		cfg:     cfg,
		source:  source,
		prices:  prices,
		results: results,
		snap:    snap,
		metrics: metrics,
		log:     log.With("component", "refresher", "source", source.Name()),
		now:     time.Now,
	}
}

// Run refreshes immediately and then every Interval until ctx is cancelled.
// Failed refreshes are logged and leave the previous table in place.
func (r *Refresher) Run(ctx context.Context) error {
	r.log.Info("refresher started", "interval", r.cfg.Interval, "output", r.cfg.OutputPath)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
			r.log.Error("refresh failed", "error", err)
		}
		select {
		case <-ctx.Done():
			r.log.Info("refresher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Refresh performs one fetch, simulate and publish cycle.
func (r *Refresher) Refresh(ctx context.Context) error {
	started := r.now()

	obs, err := r.fetch(ctx)
	if err != nil {
		r.metrics.RecordFailure("fetch", time.Since(started))
		return err
	}

	end := started.AddDate(0, 0, 1)
	series := market.New(obs).Restrict(r.cfg.Start, end)
	if series.Len() == 0 {
		r.metrics.RecordFailure("data", time.Since(started))
		return fmt.Errorf("no observations between %s and %s: %w",
			r.cfg.Start.Format(time.DateOnly), end.Format(time.DateOnly), domain.ErrInsufficientData)
	}

	res, err := strategy.Run(series, r.cfg.Params, r.cfg.Portfolio)
	if err != nil {
		r.metrics.RecordFailure("simulate", time.Since(started))
		return fmt.Errorf("running strategy: %w", err)
	}

	rows := Select(res, r.cfg.TailRows)
	if err := WriteTable(r.cfg.OutputPath, rows); err != nil {
		r.metrics.RecordFailure("publish", time.Since(started))
		return fmt.Errorf("publishing %s: %w", r.cfg.OutputPath, err)
	}
	if r.results != nil && r.cfg.ResultName != "" {
		if err := r.results.WriteResult(ctx, r.cfg.ResultName, res); err != nil {
			r.log.Warn("storing result failed", "name", r.cfg.ResultName, "error", err)
		}
	}

	r.snap.Set(rows, started)
	latest := rows[0]
	r.metrics.RecordSuccess(time.Since(started), started, latest.KellyFractionApplied, len(rows))
	r.log.Info("refreshed",
		"date", latest.Date.Format(time.DateOnly),
		"close", latest.Close,
		"leverage", latest.KellyFractionApplied,
		"rows", series.Len(),
		"elapsed", time.Since(started).Round(time.Millisecond),
	)
	return nil
}

// fetch downloads observations from Start onward, persisting them when a
// price store is configured and falling back to it when the download fails.
func (r *Refresher) fetch(ctx context.Context) ([]domain.PriceObservation, error) {
	obs, err := r.source.Fetch(ctx, r.cfg.Start, time.Time{})
	if err == nil {
		if r.prices != nil {
			if werr := r.prices.WritePrices(ctx, r.cfg.Symbol, obs); werr != nil {
				r.log.Warn("storing prices failed", "error", werr)
			}
		}
		return obs, nil
	}
	if r.prices == nil || errors.Is(err, context.Canceled) {
		return nil, fmt.Errorf("fetching %s: %w", r.cfg.Symbol, err)
	}

	stored, serr := r.prices.ReadPrices(ctx, r.cfg.Symbol, r.cfg.Start, time.Time{})
	if serr != nil || len(stored) == 0 {
		return nil, fmt.Errorf("fetching %s: %w", r.cfg.Symbol, err)
	}
	r.log.Warn("fetch failed, using stored prices", "error", err, "rows", len(stored))
	return stored, nil
}
