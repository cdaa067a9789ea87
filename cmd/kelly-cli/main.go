package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"kellyfactor/internal/config"
	"kellyfactor/internal/util"
)

const version = "0.1.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: kelly-cli <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  version    Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "  presets    List the built-in parameter presets\n")
		fmt.Fprintf(os.Stderr, "  fetch      Download daily closes into the price store\n")
		fmt.Fprintf(os.Stderr, "  simulate   Run the strategy once and print the leverage table\n")
		fmt.Fprintf(os.Stderr, "  backtest   Run a Monte-Carlo backtest over random windows\n")
		fmt.Fprintf(os.Stderr, "  history    List stored backtest runs\n")
		fmt.Fprintf(os.Stderr, "  symbols    List symbols in the price store\n")
		fmt.Fprintf(os.Stderr, "  plot       Render charts for a stored result\n")
		fmt.Fprintf(os.Stderr, "  latest     Query a running kelly-server\n")
		fmt.Fprintf(os.Stderr, "\nRun kelly-cli <command> -h for command options.\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("loading .env: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "version":
		fmt.Printf("kelly-cli %s\n", version)
		return

	case "presets":
		err = runPresets(args)

	case "fetch":
		err = runFetch(ctx, mustConfig(), args)

	case "simulate":
		err = runSimulate(ctx, mustConfig(), args)

	case "backtest":
		err = runBacktest(ctx, mustConfig(), args)

	case "history":
		err = runHistory(ctx, mustConfig(), args)

	case "symbols":
		err = runSymbols(ctx, mustConfig(), args)

	case "plot":
		err = runPlot(ctx, mustConfig(), args)

	case "latest":
		err = runLatest(ctx, os.Stdout, args)

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		flag.Usage()
		os.Exit(1)
	}

	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}
}

// mustConfig loads the configuration and installs the logger on stderr so
// command output on stdout stays machine readable.
func mustConfig() *config.Config {
	cfgPath := config.DefaultPath
	if p := os.Getenv("KELLY_CONFIG"); p != "" {
		cfgPath = p
	}

	var (
		cfg *config.Config
		err error
	)
	if _, statErr := os.Stat(cfgPath); errors.Is(statErr, os.ErrNotExist) && os.Getenv("KELLY_CONFIG") == "" {
		cfg, err = config.Default()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	util.SetDefault(util.NewLoggerTo(os.Stderr, cfg.Logging.Level, "text"))
	return cfg
}
