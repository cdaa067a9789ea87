package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"kellyfactor/internal/domain"
	"kellyfactor/internal/kelly"
	"kellyfactor/internal/portfolio"
)

// DefaultPath is used by the binaries when KELLY_CONFIG is unset.
const DefaultPath = "config/kelly.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the kelly services.
type Config struct {
	Storage  Storage        `yaml:"storage"`
	Server   Server         `yaml:"server"`
	Logging  Logging        `yaml:"logging"`
	Source   Source         `yaml:"source"`
	Alpaca   Alpaca         `yaml:"alpaca"`
	Refresh  Refresh        `yaml:"refresh"`
	Strategy StrategyConfig `yaml:"strategy"`
	Backtest BacktestConfig `yaml:"backtest"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir" default:"data" validate:"required"`
	SQLitePath string `yaml:"sqlite_path" default:"data/kelly.db" validate:"required"`
	OutputPath string `yaml:"output_path" default:"data/kelly.tsv" validate:"required"`
}

// Server holds network listener configuration. A zero GRPCPort disables the
// gRPC listener.
type Server struct {
	Host     string `yaml:"host" default:"0.0.0.0"`
	Port     int    `yaml:"port" default:"9009" validate:"gte=1,lte=65535"`
	GRPCPort int    `yaml:"grpc_port" default:"9010" validate:"gte=0,lte=65535"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"json" validate:"oneof=json text"`
}

// Source selects where daily closes come from.
type Source struct {
	Kind      string `yaml:"kind" default:"stooq" validate:"oneof=stooq alpaca"`
	URL       string `yaml:"url" default:"https://stooq.com/q/d/l/" validate:"omitempty,url"`
	Symbol    string `yaml:"symbol" default:"^spx" validate:"required"`
	Delimiter string `yaml:"delimiter" validate:"omitempty,len=1"` // empty means detect
	Retries   int    `yaml:"retries" default:"3" validate:"gte=1"`
	RateLimit int    `yaml:"rate_limit_per_min" default:"30" validate:"gte=0"` // 0 disables pacing
}

// Alpaca holds credentials and endpoints for the Alpaca market data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url" default:"https://data.alpaca.markets"`
}

// Refresh controls the periodic recomputation of the published table.
type Refresh struct {
	Interval  time.Duration `yaml:"interval" default:"24h" validate:"min=1m"`
	StartDate string        `yaml:"start_date" default:"2021-03-01" validate:"datetime=2006-01-02"`
	TailRows  int           `yaml:"tail_rows" default:"253" validate:"gte=0"`
}

// StrategyConfig holds the estimator and simulator settings.
type StrategyConfig struct {
	Window              int     `yaml:"window" default:"252" validate:"gte=1"`
	AnnualRiskFreeRate  float64 `yaml:"annual_risk_free_rate" default:"0.01"`
	MinKelly            float64 `yaml:"min_kelly" default:"-5"`
	MaxKelly            float64 `yaml:"max_kelly" default:"5"`
	KellyFraction       float64 `yaml:"kelly_fraction" default:"1"`
	RebalancingInterval int     `yaml:"rebalancing_interval" default:"1" validate:"gte=1"`
}

// BacktestConfig holds the defaults for Monte-Carlo backtests.
type BacktestConfig struct {
	HorizonDays int    `yaml:"horizon_days" default:"3650" validate:"gte=1"`
	Repetitions int    `yaml:"repetitions" default:"100" validate:"gte=1"`
	Seed        uint64 `yaml:"seed" default:"1"`
	Workers     int    `yaml:"workers" default:"4" validate:"gte=1"`
}

// KellyParams converts the strategy section into estimator parameters.
func (s StrategyConfig) KellyParams() kelly.Params {
	return kelly.Params{
		Window:             s.Window,
		AnnualRiskFreeRate: s.AnnualRiskFreeRate,
		MinKelly:           s.MinKelly,
		MaxKelly:           s.MaxKelly,
		KellyFraction:      s.KellyFraction,
	}
}

// PortfolioConfig converts the strategy section into simulator settings.
func (s StrategyConfig) PortfolioConfig() portfolio.Config {
	return portfolio.Config{
		AnnualRiskFreeRate:  s.AnnualRiskFreeRate,
		RebalancingInterval: s.RebalancingInterval,
	}
}

// StartTime parses Refresh.StartDate.
func (r Refresh) StartTime() (time.Time, error) {
	return time.Parse(time.DateOnly, r.StartDate)
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

var validate = validator.New()

// Default returns a Config holding only defaults and environment overrides.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("applying defaults: %w", err)
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads the YAML configuration file at the given path on top of the
// defaults, applies environment variable overrides and validates the result.
// Defaults are set before decoding so an explicit zero in the file wins.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("applying defaults: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and the cross-field rules the tags
// cannot express. Failures wrap domain.ErrInvalidConfiguration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (%s)", fe.Namespace(), fe.Tag(), fe.Param()))
			}
			return fmt.Errorf("%w: %s", domain.ErrInvalidConfiguration, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err)
	}
	if err := c.Strategy.KellyParams().Validate(); err != nil {
		return fmt.Errorf("strategy: %w", err)
	}
	if c.Source.Kind == "alpaca" && (c.Alpaca.APIKey == "" || c.Alpaca.APISecret == "") {
		return fmt.Errorf("alpaca source needs api_key and api_secret: %w", domain.ErrInvalidConfiguration)
	}
	return nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("KELLY_OUTPUT"); v != "" {
		cfg.Storage.OutputPath = v
	}

	if v := os.Getenv("KELLY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("KELLY_SOURCE"); v != "" {
		cfg.Source.Kind = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars take precedence, as the SDK reads these names.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
