package strategy

import (
	"kellyfactor/internal/domain"
	"kellyfactor/internal/kelly"
	"kellyfactor/internal/market"
	"kellyfactor/internal/portfolio"
)

// Run estimates the Kelly leverage for every observation of series,
// simulates the rebalanced portfolio and returns the aligned table. Both
// configurations are validated before any work is done; an empty series
// yields an empty result.
func Run(series *market.Series, params kelly.Params, cfg portfolio.Config) (domain.SimulationResult, error) {
	if err := params.Validate(); err != nil {
		return domain.SimulationResult{}, err
	}
	if err := cfg.Validate(); err != nil {
		return domain.SimulationResult{}, err
	}

	dates := series.Dates()
	closes := series.Closes()
	returns := series.Returns()
	logReturns := series.LogReturns()

	points, err := kelly.Estimate(dates, logReturns, params)
	if err != nil {
		return domain.SimulationResult{}, err
	}

	leverage := make([]float64, len(points))
	for i, p := range points {
		leverage[i] = p.KellyFractionApplied
	}

	states, err := portfolio.Simulate(returns, leverage, cfg)
	if err != nil {
		return domain.SimulationResult{}, err
	}

	strategyLog := portfolio.StrategyLogReturns(states)
	strategyCum := portfolio.CumulativeSum(strategyLog)
	buyHoldCum := portfolio.CumulativeSum(logReturns)

	rows := make([]domain.ResultRow, len(dates))
	for i := range rows {
		rows[i] = domain.ResultRow{
			Date:                 dates[i],
			Close:                closes[i],
			Return:               returns[i],
			LogReturn:            logReturns[i],
			KellyFactor:          points[i].KellyFactor,
			KellyFractionApplied: points[i].KellyFractionApplied,
			Portfolio:            states[i].Portfolio,
			Equity:               states[i].Equity,
			Cash:                 states[i].Cash,
			StrategyLogReturn:    strategyLog[i],
			StrategyCumLogReturn: strategyCum[i],
			BuyHoldCumLogReturn:  buyHoldCum[i],
		}
	}
	return domain.SimulationResult{Rows: rows}, nil
}
