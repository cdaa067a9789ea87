package domain

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"
)

func TestTypesExist(t *testing.T) {
	obs := PriceObservation{}
	if !obs.Date.IsZero() || obs.Close != 0 {
		t.Error("expected zero values for zero-value PriceObservation")
	}

	state := PortfolioState{}
	if state.Portfolio != 0 || state.Equity != 0 || state.Cash != 0 {
		t.Error("expected zero values for zero-value PortfolioState")
	}

	sample := BacktestSample{
		StartDate:            time.Date(2001, 1, 2, 0, 0, 0, 0, time.UTC),
		StrategyCumLogReturn: 0.5,
		BuyHoldCumLogReturn:  0.25,
	}
	if sample.StrategyCumLogReturn != 0.5 {
		t.Errorf("sample.StrategyCumLogReturn = %v, want %v", sample.StrategyCumLogReturn, 0.5)
	}
}

func TestBacktestSampleFinite(t *testing.T) {
	tests := []struct {
		strategy, hold float64
		want           bool
	}{
		{0.5, 0.25, true},
		{math.NaN(), 0.25, false},
		{0.5, math.NaN(), false},
		{math.Inf(-1), 0.25, false},
		{0.5, math.Inf(1), false},
	}
	for _, tt := range tests {
		s := BacktestSample{StrategyCumLogReturn: tt.strategy, BuyHoldCumLogReturn: tt.hold}
		if got := s.Finite(); got != tt.want {
			t.Errorf("Finite() for (%v, %v) = %v, want %v", tt.strategy, tt.hold, got, tt.want)
		}
	}
}

func TestSimulationResultLastAndTail(t *testing.T) {
	var empty SimulationResult
	if _, ok := empty.Last(); ok {
		t.Error("Last() on empty result returned ok")
	}
	if got := empty.Tail(3); got != nil {
		t.Errorf("Tail(3) on empty result = %v, want nil", got)
	}

	r := SimulationResult{Rows: []ResultRow{{Close: 1}, {Close: 2}, {Close: 3}}}
	if r.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", r.Len())
	}
	last, ok := r.Last()
	if !ok || last.Close != 3 {
		t.Errorf("Last() = %v, %v, want Close 3, true", last, ok)
	}

	tail := r.Tail(2)
	if len(tail) != 2 || tail[0].Close != 2 || tail[1].Close != 3 {
		t.Errorf("Tail(2) = %v, want closes [2 3]", tail)
	}
	tail[0].Close = 99
	if r.Rows[1].Close != 2 {
		t.Error("Tail returned a slice aliasing the result rows")
	}

	if got := r.Tail(10); len(got) != 3 {
		t.Errorf("Tail(10) returned %d rows, want 3", len(got))
	}
}

func TestErrorsWrap(t *testing.T) {
	err := fmt.Errorf("window must be positive: %w", ErrInvalidConfiguration)
	if !errors.Is(err, ErrInvalidConfiguration) {
		t.Error("wrapped error does not match ErrInvalidConfiguration")
	}
	if errors.Is(err, ErrInsufficientData) {
		t.Error("wrapped error unexpectedly matches ErrInsufficientData")
	}
}
