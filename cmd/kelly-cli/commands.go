package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"kellyfactor/internal/api"
	"kellyfactor/internal/config"
	"kellyfactor/internal/domain"
	"kellyfactor/internal/gather"
	"kellyfactor/internal/gather/stooq"
	"kellyfactor/internal/httpapi"
	"kellyfactor/internal/kelly"
	"kellyfactor/internal/market"
	"kellyfactor/internal/portfolio"
	"kellyfactor/internal/publish"
	"kellyfactor/internal/report"
	"kellyfactor/internal/store"
	"kellyfactor/internal/strategy"
	"kellyfactor/pkg/kellyclient"
)

// farFuture stands in for an open upper bound when restricting a series.
var farFuture = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

func runPresets(args []string) error {
	fs := flag.NewFlagSet("presets", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	reg := strategy.NewDefaultRegistry()
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tWINDOW\tRF\tBOUNDS\tFRACTION\tREBALANCE\tDESCRIPTION")
	for _, name := range reg.List() {
		p, _ := reg.Get(name)
		fmt.Fprintf(tw, "%s\t%d\t%.4f\t[%g, %g]\t%g\t%d\t%s\n",
			p.Name, p.Params.Window, p.Params.AnnualRiskFreeRate, p.Params.MinKelly, p.Params.MaxKelly,
			p.Params.KellyFraction, p.Portfolio.RebalancingInterval, p.Description)
	}
	return tw.Flush()
}

func runFetch(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	symbol := fs.String("symbol", cfg.Source.Symbol, "symbol to download")
	start := fs.String("start", "", "first date, YYYY-MM-DD (default: all history)")
	end := fs.String("end", "", "last date, YYYY-MM-DD (default: today)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	dr, err := parseRange(*start, *end)
	if err != nil {
		return err
	}

	g, err := gather.New(cfg, *symbol, slog.Default())
	if err != nil {
		return err
	}
	obs, err := g.Fetch(ctx, dr.Start, dr.End)
	if err != nil {
		return err
	}

	ps := store.NewParquetStore(cfg.Storage.DataDir)
	if err := ps.WritePrices(ctx, *symbol, obs); err != nil {
		return fmt.Errorf("storing prices: %w", err)
	}
	s := market.New(obs)
	fmt.Printf("%s: stored %d observations (%s to %s)\n", g.Name(), s.Len(),
		s.First().Format(time.DateOnly), s.Last().Format(time.DateOnly))
	return nil
}

// seriesFlags are the input options shared by simulate and backtest.
type seriesFlags struct {
	preset *string
	csv    *string
	symbol *string
	start  *string
	end    *string
}

func addSeriesFlags(fs *flag.FlagSet, cfg *config.Config) *seriesFlags {
	return &seriesFlags{
		preset: fs.String("preset", "", "parameter preset (default: the strategy section of the config)"),
		csv:    fs.String("csv", "", "read closes from a CSV file instead of the price store"),
		symbol: fs.String("symbol", cfg.Source.Symbol, "symbol in the price store"),
		start:  fs.String("start", "", "first date, YYYY-MM-DD"),
		end:    fs.String("end", "", "last date, YYYY-MM-DD"),
	}
}

// resolve returns the estimator and simulator settings together with a label
// naming where they came from.
func (f *seriesFlags) resolve(cfg *config.Config) (kelly.Params, portfolio.Config, string, error) {
	if *f.preset == "" {
		return cfg.Strategy.KellyParams(), cfg.Strategy.PortfolioConfig(), "config", nil
	}
	p, ok := strategy.NewDefaultRegistry().Get(*f.preset)
	if !ok {
		return kelly.Params{}, portfolio.Config{}, "", fmt.Errorf("unknown preset %q: %w", *f.preset, domain.ErrInvalidConfiguration)
	}
	return p.Params, p.Portfolio, p.Name, nil
}

func (f *seriesFlags) load(ctx context.Context, cfg *config.Config) (*market.Series, string, error) {
	dr, err := parseRange(*f.start, *f.end)
	if err != nil {
		return nil, "", err
	}

	var (
		obs   []domain.PriceObservation
		label string
	)
	if *f.csv != "" {
		file, err := os.Open(*f.csv)
		if err != nil {
			return nil, "", err
		}
		defer file.Close()
		if obs, err = stooq.ParseCSV(file, 0); err != nil {
			return nil, "", fmt.Errorf("parsing %s: %w", *f.csv, err)
		}
		label = filepath.Base(*f.csv)
	} else {
		ps := store.NewParquetStore(cfg.Storage.DataDir)
		if obs, err = ps.ReadPrices(ctx, *f.symbol, time.Time{}, time.Time{}); err != nil {
			return nil, "", err
		}
		if len(obs) == 0 {
			return nil, "", fmt.Errorf("no stored prices for %s, run kelly-cli fetch first: %w", *f.symbol, domain.ErrInsufficientData)
		}
		label = strings.ToUpper(*f.symbol)
	}

	end := dr.End
	if end.IsZero() {
		end = farFuture
	}
	return market.New(obs).Restrict(dr.Start, end), label, nil
}

func runSimulate(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("simulate", flag.ContinueOnError)
	in := addSeriesFlags(fs, cfg)
	tail := fs.Int("tail", cfg.Refresh.TailRows, "trailing rows in the printed table")
	out := fs.String("out", "", "also write the table to this file")
	save := fs.String("save", "", "store the full result in the result store under this name")
	plot := fs.String("plot", "", "write growth and leverage charts to this directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	params, pc, source, err := in.resolve(cfg)
	if err != nil {
		return err
	}
	series, label, err := in.load(ctx, cfg)
	if err != nil {
		return err
	}

	res, err := strategy.Run(series, params, pc)
	if err != nil {
		return err
	}
	if res.Len() == 0 {
		return fmt.Errorf("no observations in range: %w", domain.ErrInsufficientData)
	}
	slog.Info("simulated", "input", label, "params", source, "rows", res.Len())

	rows := publish.Select(res, *tail)
	if err := publish.FormatTable(os.Stdout, rows); err != nil {
		return err
	}
	if *out != "" {
		if err := publish.WriteTable(*out, rows); err != nil {
			return err
		}
	}
	if *save != "" {
		ps := store.NewParquetStore(cfg.Storage.DataDir)
		if err := ps.WriteResult(ctx, *save, res); err != nil {
			return fmt.Errorf("saving result: %w", err)
		}
	}
	if *plot != "" {
		growth, err := report.RenderSimulation(res, label)
		if err != nil {
			return err
		}
		if err := report.WriteFile(filepath.Join(*plot, "growth.png"), growth); err != nil {
			return err
		}
		lev, err := report.RenderLeverage(res, label)
		if err != nil {
			return err
		}
		if err := report.WriteFile(filepath.Join(*plot, "leverage.png"), lev); err != nil {
			return err
		}
	}
	return nil
}

func runBacktest(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("backtest", flag.ContinueOnError)
	in := addSeriesFlags(fs, cfg)
	horizon := fs.Int("horizon", cfg.Backtest.HorizonDays, "window length in calendar days")
	reps := fs.Int("reps", cfg.Backtest.Repetitions, "number of random windows")
	seed := fs.Uint64("seed", cfg.Backtest.Seed, "random seed")
	workers := fs.Int("workers", cfg.Backtest.Workers, "parallel simulations")
	save := fs.Bool("save", true, "record the run in the backtest database")
	plot := fs.String("plot", "", "write the outcome chart to this PNG file")
	asJSON := fs.Bool("json", false, "print the statistics as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	params, pc, source, err := in.resolve(cfg)
	if err != nil {
		return err
	}
	series, label, err := in.load(ctx, cfg)
	if err != nil {
		return err
	}

	btCfg := strategy.BacktestConfig{
		Params:      params,
		Portfolio:   pc,
		HorizonDays: *horizon,
		Repetitions: *reps,
		Workers:     *workers,
	}
	rng := rand.New(rand.NewPCG(*seed, *seed))
	sum, err := strategy.NewBacktester(slog.Default()).Run(ctx, series, btCfg, rng)
	if err != nil {
		return err
	}
	st := strategy.Summarize(sum)

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(st); err != nil {
			return err
		}
	} else {
		printStats(label, *horizon, st)
	}

	if *save {
		ss, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		defer ss.Close()

		run, err := newBacktestRun(label, source, btCfg, *seed, st)
		if err != nil {
			return err
		}
		if err := ss.SaveBacktest(ctx, run, sum.Samples); err != nil {
			return fmt.Errorf("saving backtest: %w", err)
		}
		slog.Info("backtest saved", "id", run.ID)
	}

	if *plot != "" {
		title := fmt.Sprintf("%s, %d-day windows", label, *horizon)
		png, err := report.RenderBacktest(sum, title)
		if err != nil {
			return err
		}
		if err := report.WriteFile(*plot, png); err != nil {
			return err
		}
	}
	return nil
}

// newBacktestRun builds the database record for a finished backtest.
func newBacktestRun(symbol, preset string, cfg strategy.BacktestConfig, seed uint64, st strategy.Stats) (*store.BacktestRun, error) {
	pj, err := json.Marshal(cfg.Params)
	if err != nil {
		return nil, fmt.Errorf("encoding params: %w", err)
	}
	cj, err := json.Marshal(cfg.Portfolio)
	if err != nil {
		return nil, fmt.Errorf("encoding portfolio config: %w", err)
	}
	return &store.BacktestRun{
		Symbol:       symbol,
		Preset:       preset,
		HorizonDays:  cfg.HorizonDays,
		Repetitions:  cfg.Repetitions,
		Seed:         seed,
		Params:       pj,
		Portfolio:    cj,
		StrategyMean: st.Strategy.Mean,
		BuyHoldMean:  st.BuyHold.Mean,
		WinRate:      st.WinRate,
	}, nil
}

func printStats(label string, horizon int, st strategy.Stats) {
	fmt.Printf("%s: %d windows of %d days\n\n", label, st.Count, horizon)
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "\tMEAN\tMEDIAN\tSTDDEV\tMIN\tMAX\t")
	for _, row := range []struct {
		name string
		d    strategy.Distribution
	}{{"kelly", st.Strategy}, {"buy and hold", st.BuyHold}} {
		fmt.Fprintf(tw, "%s\t%.4f\t%.4f\t%.4f\t%.4f\t%.4f\t\n", row.name, row.d.Mean, row.d.Median, row.d.StdDev, row.d.Min, row.d.Max)
	}
	tw.Flush()
	fmt.Printf("\nwin rate: %.1f%%\n", st.WinRate*100)
}

func runHistory(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "number of runs to list")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ss, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return err
	}
	defer ss.Close()

	runs, err := ss.ListBacktests(ctx, *limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tSYMBOL\tPRESET\tHORIZON\tREPS\tSEED\tKELLY\tHOLD\tWIN")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%.4f\t%.4f\t%.2f\n",
			r.ID, r.CreatedAt.Format(time.DateTime), r.Symbol, r.Preset, r.HorizonDays,
			r.Repetitions, r.Seed, r.StrategyMean, r.BuyHoldMean, r.WinRate)
	}
	return tw.Flush()
}

func runSymbols(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("symbols", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	symbols, err := store.NewParquetStore(cfg.Storage.DataDir).ListSymbols(ctx)
	if err != nil {
		return err
	}
	for _, s := range symbols {
		fmt.Println(s)
	}
	return nil
}

func runPlot(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("plot", flag.ContinueOnError)
	name := fs.String("result", "", "name of a result saved with simulate -save")
	dir := fs.String("dir", "plots", "output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("-result is required: %w", domain.ErrInvalidConfiguration)
	}

	res, err := store.NewParquetStore(cfg.Storage.DataDir).ReadResult(ctx, *name)
	if err != nil {
		return err
	}
	growth, err := report.RenderSimulation(res, *name)
	if err != nil {
		return err
	}
	if err := report.WriteFile(filepath.Join(*dir, *name+"-growth.png"), growth); err != nil {
		return err
	}
	lev, err := report.RenderLeverage(res, *name)
	if err != nil {
		return err
	}
	return report.WriteFile(filepath.Join(*dir, *name+"-leverage.png"), lev)
}

func runLatest(ctx context.Context, w io.Writer, args []string) error {
	fs := flag.NewFlagSet("latest", flag.ContinueOnError)
	url := fs.String("url", "http://localhost:9009", "kelly-server base URL")
	grpcAddr := fs.String("grpc", "", "query the gRPC service at host:port instead of HTTP")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		latest *kellyclient.Latest
		err    error
	)
	if *grpcAddr != "" {
		latest, err = latestGRPC(ctx, *grpcAddr)
	} else {
		var l kellyclient.Latest
		l, err = kellyclient.NewClient(*url).Latest(ctx)
		latest = &l
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "date:     %s\n", latest.Row.Date)
	fmt.Fprintf(w, "close:    %s\n", optional(latest.Row.Close))
	fmt.Fprintf(w, "leverage: %s\n", optional(latest.Row.KellyFractionApplied))
	fmt.Fprintf(w, "updated:  %s\n", latest.UpdatedAt.Format(time.RFC3339))
	return nil
}

// latestGRPC fetches the newest row over gRPC in the same shape the HTTP
// client returns.
func latestGRPC(ctx context.Context, addr string) (*kellyclient.Latest, error) {
	c, err := api.Dial(addr)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	row, updated, err := c.Latest(ctx)
	if err != nil {
		return nil, err
	}
	return &kellyclient.Latest{Row: kellyclient.Row(httpapi.ToRowJSON(row)), UpdatedAt: updated}, nil
}

func optional(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", *v)
}

func parseRange(start, end string) (gather.DateRange, error) {
	var dr gather.DateRange
	var err error
	if start != "" {
		if dr.Start, err = time.Parse(time.DateOnly, start); err != nil {
			return dr, fmt.Errorf("start date: %w", err)
		}
	}
	if end != "" {
		if dr.End, err = time.Parse(time.DateOnly, end); err != nil {
			return dr, fmt.Errorf("end date: %w", err)
		}
	}
	return dr, nil
}
