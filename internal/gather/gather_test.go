package gather

import (
	"errors"
	"testing"

	"kellyfactor/internal/config"
	"kellyfactor/internal/domain"
)

func TestNew(t *testing.T) {
	cfg := &config.Config{}
	cfg.Source.Kind = "stooq"
	cfg.Source.Symbol = "^spx"

	g, err := New(cfg, "", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if g.Name() != "stooq:^spx" {
		t.Errorf("Name() = %q, want %q", g.Name(), "stooq:^spx")
	}

	g, err = New(cfg, "^ndx", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if g.Name() != "stooq:^ndx" {
		t.Errorf("Name() = %q, want %q", g.Name(), "stooq:^ndx")
	}

	cfg.Source.Kind = "alpaca"
	g, err = New(cfg, "SPY", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if g.Name() != "alpaca:SPY" {
		t.Errorf("Name() = %q, want %q", g.Name(), "alpaca:SPY")
	}

	cfg.Source.Kind = "yahoo"
	if _, err := New(cfg, "", nil); !errors.Is(err, domain.ErrInvalidConfiguration) {
		t.Errorf("New with unknown kind error = %v, want ErrInvalidConfiguration", err)
	}
}
