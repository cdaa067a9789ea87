// Package market holds an immutable, date-ordered price series together with
// the per-step returns derived from it.
package market

import (
	"math"
	"sort"
	"time"

	"kellyfactor/internal/domain"
)

// Series is an ordered sequence of daily closes with simple and log returns
// computed once at construction. A Series is never mutated after New returns,
// so it is safe to share between goroutines.
//
// Dates are expected to be unique. Duplicate dates are not rejected, but the
// returns and restrictions computed over them are undefined.
type Series struct {
	obs        []domain.PriceObservation
	returns    []float64
	logReturns []float64
}

// New copies obs, orders the copy by date and derives the returns. The first
// observation has no predecessor, so its simple and log return are NaN.
func New(obs []domain.PriceObservation) *Series {
	sorted := make([]domain.PriceObservation, len(obs))
	copy(sorted, obs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})
	return build(sorted)
}

// build derives returns for an already ordered slice it takes ownership of.
func build(obs []domain.PriceObservation) *Series {
	s := &Series{
		obs:        obs,
		returns:    make([]float64, len(obs)),
		logReturns: make([]float64, len(obs)),
	}
	for i := range obs {
		if i == 0 {
			s.returns[i] = math.NaN()
			s.logReturns[i] = math.NaN()
			continue
		}
		r := obs[i].Close / obs[i-1].Close
		s.returns[i] = r
		s.logReturns[i] = math.Log(r)
	}
	return s
}

// Len returns the number of observations.
func (s *Series) Len() int { return len(s.obs) }

// First returns the earliest date, or the zero time for an empty series.
func (s *Series) First() time.Time {
	if len(s.obs) == 0 {
		return time.Time{}
	}
	return s.obs[0].Date
}

// Last returns the latest date, or the zero time for an empty series.
func (s *Series) Last() time.Time {
	if len(s.obs) == 0 {
		return time.Time{}
	}
	return s.obs[len(s.obs)-1].Date
}

// Span returns the time between the first and the last observation.
func (s *Series) Span() time.Duration {
	return s.Last().Sub(s.First())
}

// Restrict returns a new Series holding the observations with
// start <= date <= end, in order. The view's returns are recomputed, so its
// first row carries NaN returns like any freshly loaded table. An empty range
// yields an empty Series.
func (s *Series) Restrict(start, end time.Time) *Series {
	lo := sort.Search(len(s.obs), func(i int) bool {
		return !s.obs[i].Date.Before(start)
	})
	hi := sort.Search(len(s.obs), func(i int) bool {
		return s.obs[i].Date.After(end)
	})
	if hi < lo {
		hi = lo
	}
	view := make([]domain.PriceObservation, hi-lo)
	copy(view, s.obs[lo:hi])
	return build(view)
}

// Observations returns a copy of the underlying observations.
func (s *Series) Observations() []domain.PriceObservation {
	out := make([]domain.PriceObservation, len(s.obs))
	copy(out, s.obs)
	return out
}

// Dates returns a copy of the observation dates.
func (s *Series) Dates() []time.Time {
	out := make([]time.Time, len(s.obs))
	for i, o := range s.obs {
		out[i] = o.Date
	}
	return out
}

// Closes returns a copy of the closing prices.
func (s *Series) Closes() []float64 {
	out := make([]float64, len(s.obs))
	for i, o := range s.obs {
		out[i] = o.Close
	}
	return out
}

// Returns returns a copy of the simple returns close[i]/close[i-1].
func (s *Series) Returns() []float64 {
	return append([]float64(nil), s.returns...)
}

// LogReturns returns a copy of the log returns.
func (s *Series) LogReturns() []float64 {
	return append([]float64(nil), s.logReturns...)
}
