// Package gather defines the price sources the refresher and CLI read from.
package gather

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"kellyfactor/internal/config"
	"kellyfactor/internal/domain"
	"kellyfactor/internal/gather/alpaca"
	"kellyfactor/internal/gather/stooq"
)

// Gatherer is the interface for all daily price sources.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Fetch returns the daily closes dated within [start, end]. A zero bound
	// leaves that side open.
	Fetch(ctx context.Context, start, end time.Time) ([]domain.PriceObservation, error)
}

var _ Gatherer = (*stooq.Client)(nil)
var _ Gatherer = (*alpaca.DailyBarGatherer)(nil)

// DateRange represents a time range for data fetching.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// New builds the Gatherer selected by cfg.Source.Kind for symbol, or for
// cfg.Source.Symbol when symbol is empty.
func New(cfg *config.Config, symbol string, log *slog.Logger) (Gatherer, error) {
	if symbol == "" {
		symbol = cfg.Source.Symbol
	}
	switch cfg.Source.Kind {
	case "stooq":
		var delim rune
		if cfg.Source.Delimiter != "" {
			delim, _ = utf8.DecodeRuneInString(cfg.Source.Delimiter)
		}
		return stooq.New(stooq.Options{
			BaseURL:         cfg.Source.URL,
			Symbol:          symbol,
			Delimiter:       delim,
			Retries:         cfg.Source.Retries,
			RateLimitPerMin: cfg.Source.RateLimit,
		}, log), nil
	case "alpaca":
		return alpaca.New(alpaca.Options{
			APIKey:    cfg.Alpaca.APIKey,
			APISecret: cfg.Alpaca.APISecret,
			DataURL:   cfg.Alpaca.DataURL,
			Symbol:    symbol,
			Retries:   cfg.Source.Retries,
		}, log), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q: %w", cfg.Source.Kind, domain.ErrInvalidConfiguration)
	}
}
