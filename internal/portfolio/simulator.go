// Package portfolio simulates a two-asset (equity and cash) portfolio that is
// periodically rebalanced toward a target leverage.
package portfolio

import (
	"fmt"
	"math"

	"kellyfactor/internal/domain"
	"kellyfactor/internal/kelly"
)

// Config controls the simulation.
type Config struct {
	AnnualRiskFreeRate  float64 `json:"annual_risk_free_rate" yaml:"annual_risk_free_rate"`
	RebalancingInterval int     `json:"rebalancing_interval" yaml:"rebalancing_interval"`
}

// Validate reports an error wrapping domain.ErrInvalidConfiguration when the
// configuration cannot be used.
func (c Config) Validate() error {
	if c.RebalancingInterval <= 0 {
		return fmt.Errorf("rebalancing interval must be positive, got %d: %w",
			c.RebalancingInterval, domain.ErrInvalidConfiguration)
	}
	return nil
}

// Simulate runs the portfolio recurrence over aligned simple returns and
// leverage values. The portfolio starts fully in cash with value 1. At every
// later step the previous split is marked to market:
//
//	portfolio[i] = cash[i-1]*rf + equity[i-1]*returns[i]
//
// and on steps where i is a multiple of the rebalancing interval the split is
// reset to leverage[i] of the portfolio in equity and the rest in cash.
// Between rebalances the split is carried forward unchanged. Leverage outside
// [0, 1] is used as given.
func Simulate(returns, leverage []float64, cfg Config) ([]domain.PortfolioState, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(returns) != len(leverage) {
		return nil, fmt.Errorf("returns (%d) and leverage (%d) differ in length: %w",
			len(returns), len(leverage), domain.ErrInvalidConfiguration)
	}

	rf := kelly.DailyRiskFreeGrowth(cfg.AnnualRiskFreeRate)
	states := make([]domain.PortfolioState, len(returns))
	for i := range returns {
		if i == 0 {
			states[0] = domain.PortfolioState{Portfolio: 1, Cash: 1, Equity: 0}
			continue
		}
		prev := states[i-1]
		value := prev.Cash*rf + prev.Equity*returns[i]

		cur := domain.PortfolioState{Portfolio: value, Equity: prev.Equity, Cash: prev.Cash}
		if i%cfg.RebalancingInterval == 0 {
			cur.Equity = value * leverage[i]
			cur.Cash = value * (1 - leverage[i])
		}
		states[i] = cur
	}
	return states, nil
}

// StrategyLogReturns returns ln(portfolio[i]/portfolio[i-1]) for every step.
// The first value is NaN.
func StrategyLogReturns(states []domain.PortfolioState) []float64 {
	out := make([]float64, len(states))
	for i := range states {
		if i == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = math.Log(states[i].Portfolio / states[i-1].Portfolio)
	}
	return out
}

// CumulativeSum returns the running sum of xs from index 1 onward. The first
// element, which has no defined return, contributes nothing and the sum there
// is 0. NaN entries are skipped: the output is NaN at that index and the sum
// resumes from the last defined value afterwards.
func CumulativeSum(xs []float64) []float64 {
	out := make([]float64, len(xs))
	var sum float64
	for i := 1; i < len(xs); i++ {
		if math.IsNaN(xs[i]) {
			out[i] = math.NaN()
			continue
		}
		sum += xs[i]
		out[i] = sum
	}
	return out
}
