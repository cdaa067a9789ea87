package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"kellyfactor/internal/api"
	"kellyfactor/internal/config"
	"kellyfactor/internal/gather"
	"kellyfactor/internal/httpapi"
	"kellyfactor/internal/publish"
	"kellyfactor/internal/store"
	"kellyfactor/internal/strategy"
	"kellyfactor/internal/util"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("loading .env: %v", err)
	}

	// Load config.
	cfgPath := config.DefaultPath
	if p := os.Getenv("KELLY_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	// Setup logging.
	logFileName := fmt.Sprintf("/tmp/kelly-server-%s.log", time.Now().Format("2006-01-02"))
	logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Fatalf("opening log file: %v", err)
	}
	defer logFile.Close()

	w := io.MultiWriter(os.Stdout, logFile)
	logger := util.NewLoggerTo(w, cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	start, err := cfg.Refresh.StartTime()
	if err != nil {
		log.Fatalf("parsing start date: %v", err)
	}

	// Stores.
	ps := store.NewParquetStore(cfg.Storage.DataDir)
	ss, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening sqlite store: %v", err)
	}
	defer ss.Close()

	source, err := gather.New(cfg, "", logger)
	if err != nil {
		log.Fatalf("creating gatherer: %v", err)
	}

	// Metrics.
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := publish.NewMetrics(reg)

	snap := &publish.Snapshot{}
	refresher := publish.NewRefresher(publish.RefresherConfig{
		Symbol:     cfg.Source.Symbol,
		Start:      start,
		Interval:   cfg.Refresh.Interval,
		TailRows:   cfg.Refresh.TailRows,
		OutputPath: cfg.Storage.OutputPath,
		ResultName: resultName(cfg.Source.Symbol),
		Params:     cfg.Strategy.KellyParams(),
		Portfolio:  cfg.Strategy.PortfolioConfig(),
	}, source, ps, ps, snap, metrics, logger)

	httpSrv := httpapi.NewServer(snap, httpapi.Options{
		TablePath: cfg.Storage.OutputPath,
		Presets:   strategy.NewDefaultRegistry(),
		Backtests: ss,
		Gatherer:  reg,
	}, logger)
	srv := api.NewServer(cfg.Server, httpSrv.Handler(), api.NewLeverageService(snap), logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("kelly-server starting",
		"source", source.Name(),
		"port", cfg.Server.Port,
		"grpc_port", cfg.Server.GRPCPort,
		"output", cfg.Storage.OutputPath,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return refresher.Run(gctx) })
	g.Go(func() error { return srv.ListenAndServe(gctx) })

	if err := g.Wait(); err != nil {
		logger.Error("kelly-server stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("kelly-server stopped")
}

// resultName turns a symbol such as "^spx" into a result file name.
func resultName(symbol string) string {
	return strings.ToLower(strings.Trim(strings.NewReplacer("^", "", ".", "_").Replace(symbol), "_"))
}
