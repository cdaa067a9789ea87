// Package strategy runs the Kelly leverage strategy end to end: a single
// simulation over a price series, Monte-Carlo backtests over random windows
// of it, and a Registry of named parameter presets.
package strategy

import (
	"fmt"
	"sort"

	"kellyfactor/internal/domain"
	"kellyfactor/internal/kelly"
	"kellyfactor/internal/portfolio"
)

// Preset is a named combination of estimator and simulator settings.
type Preset struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Params      kelly.Params     `json:"params"`
	Portfolio   portfolio.Config `json:"portfolio"`
}

// Validate checks both halves of the preset.
func (p Preset) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("preset name is empty: %w", domain.ErrInvalidConfiguration)
	}
	if err := p.Params.Validate(); err != nil {
		return fmt.Errorf("preset %q: %w", p.Name, err)
	}
	if err := p.Portfolio.Validate(); err != nil {
		return fmt.Errorf("preset %q: %w", p.Name, err)
	}
	return nil
}

// Registry holds a named collection of presets for lookup and enumeration.
type Registry struct {
	presets map[string]Preset
}

// NewRegistry creates an empty preset Registry.
func NewRegistry() *Registry {
	return &Registry{
		presets: make(map[string]Preset),
	}
}

// NewDefaultRegistry returns a Registry holding the built-in presets.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, p := range builtinPresets() {
		r.mustRegister(p)
	}
	return r
}

// mustRegister is Register for presets fixed at compile time. It panics on
// an invalid or duplicate preset.
func (r *Registry) mustRegister(p Preset) {
	if err := r.Register(p); err != nil {
		panic(fmt.Sprintf("strategy: registering preset %q: %v", p.Name, err))
	}
}

func builtinPresets() []Preset {
	return []Preset{
		{
			Name:        "default",
			Description: "one-year window, 1% risk-free rate, full Kelly capped to [0, 100]",
			Params:      kelly.DefaultParams(),
			Portfolio:   portfolio.Config{AnnualRiskFreeRate: 0.01, RebalancingInterval: 1},
		},
		{
			Name:        "blog",
			Description: "published table settings: daily rebalancing, leverage capped to [-5, 5]",
			Params: kelly.Params{
				Window:             252,
				AnnualRiskFreeRate: 0.01,
				MinKelly:           -5,
				MaxKelly:           5,
				KellyFraction:      1,
			},
			Portfolio: portfolio.Config{AnnualRiskFreeRate: 0.01, RebalancingInterval: 1},
		},
		{
			Name:        "long-only",
			Description: "no shorting, at most 3x leverage",
			Params: kelly.Params{
				Window:             252,
				AnnualRiskFreeRate: 0.01,
				MinKelly:           0,
				MaxKelly:           3,
				KellyFraction:      1,
			},
			Portfolio: portfolio.Config{AnnualRiskFreeRate: 0.01, RebalancingInterval: 1},
		},
	}
}

// Register adds a preset keyed by its Name, replacing any earlier preset of
// the same name. Invalid presets are rejected.
func (r *Registry) Register(p Preset) error {
	if err := p.Validate(); err != nil {
		return err
	}
	r.presets[p.Name] = p
	return nil
}

// Get retrieves a preset by name. The second return value indicates whether
// the preset was found.
func (r *Registry) Get(name string) (Preset, bool) {
	p, ok := r.presets[name]
	return p, ok
}

// List returns a sorted slice of all registered preset names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.presets))
	for name := range r.presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
