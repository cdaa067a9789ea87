// Package alpaca reads daily bars from the Alpaca market data API.
package alpaca

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"kellyfactor/internal/domain"
	"kellyfactor/internal/util"
)

// barSource is the part of *marketdata.Client used here.
type barSource interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// Options configures a DailyBarGatherer.
type Options struct {
	APIKey     string
	APISecret  string
	DataURL    string
	Symbol     string // e.g. "SPY"
	Feed       string // "iex" (default) or "sip"
	Retries    int
	RetryDelay time.Duration
}

// DailyBarGatherer fetches one symbol's daily closes.
type DailyBarGatherer struct {
	client  barSource
	symbol  string
	feed    string
	retries int
	delay   time.Duration
	log     *slog.Logger
}

// New creates a DailyBarGatherer configured with the given Alpaca
// credentials.
func New(opts Options, log *slog.Logger) *DailyBarGatherer {
	clientOpts := marketdata.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
	}
	if opts.DataURL != "" {
		clientOpts.BaseURL = opts.DataURL
	}
	return newWithSource(marketdata.NewClient(clientOpts), opts, log)
}

func newWithSource(src barSource, opts Options, log *slog.Logger) *DailyBarGatherer {
	if opts.Feed == "" {
		opts.Feed = "iex"
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &DailyBarGatherer{
		client:  src,
		symbol:  opts.Symbol,
		feed:    opts.Feed,
		retries: opts.Retries,
		delay:   opts.RetryDelay,
		log:     log.With("gatherer", "alpaca", "symbol", opts.Symbol),
	}
}

// Name returns the gatherer identifier.
func (g *DailyBarGatherer) Name() string { return "alpaca:" + g.symbol }

// Fetch returns the daily closes between start and end, dated at UTC
// midnight of the session. A zero end means now.
func (g *DailyBarGatherer) Fetch(ctx context.Context, start, end time.Time) ([]domain.PriceObservation, error) {
	if end.IsZero() {
		end = time.Now()
	}

	var bars []marketdata.Bar
	err := util.Retry(ctx, g.retries, g.delay, func() error {
		if ctx.Err() != nil {
			return util.Permanent(ctx.Err())
		}
		var err error
		bars, err = g.client.GetBars(g.symbol, marketdata.GetBarsRequest{
			TimeFrame: marketdata.OneDay,
			Start:     start,
			End:       end,
			Feed:      marketdata.Feed(g.feed),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", g.symbol, err)
	}

	out := make([]domain.PriceObservation, 0, len(bars))
	for _, b := range bars {
		if b.Close <= 0 {
			continue
		}
		y, m, d := b.Timestamp.UTC().Date()
		out = append(out, domain.PriceObservation{
			Date:  time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
			Close: b.Close,
		})
	}
	g.log.Info("fetched daily bars", "rows", len(out))
	return out, nil
}
