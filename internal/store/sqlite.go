package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"kellyfactor/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ BacktestStore = (*SQLiteStore)(nil)

// SQLiteStore implements BacktestStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS backtest_runs (
		id            TEXT PRIMARY KEY,
		created_at    INTEGER NOT NULL,
		symbol        TEXT NOT NULL,
		preset        TEXT NOT NULL,
		horizon_days  INTEGER NOT NULL,
		repetitions   INTEGER NOT NULL,
		seed          INTEGER NOT NULL,
		params        TEXT NOT NULL,
		portfolio     TEXT NOT NULL,
		strategy_mean REAL,
		buy_hold_mean REAL,
		win_rate      REAL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_backtest_runs_created ON backtest_runs(created_at)`,
	`CREATE TABLE IF NOT EXISTS backtest_samples (
		run_id     TEXT NOT NULL REFERENCES backtest_runs(id) ON DELETE CASCADE,
		seq        INTEGER NOT NULL,
		start_date TEXT NOT NULL,
		strategy   REAL,
		buy_hold   REAL,
		PRIMARY KEY (run_id, seq)
	)`,
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// schema if needed and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// A single connection serialises writers.
	db.SetMaxOpenConns(1)

	for _, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating %s: %w", dbPath, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// BacktestStore implementation
// ---------------------------------------------------------------------------

// SaveBacktest inserts the run and its samples in one transaction.
func (s *SQLiteStore) SaveBacktest(ctx context.Context, run *BacktestRun, samples []domain.BacktestSample) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	params, portfolio := string(run.Params), string(run.Portfolio)
	if params == "" {
		params = "{}"
	}
	if portfolio == "" {
		portfolio = "{}"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO backtest_runs
		(id, created_at, symbol, preset, horizon_days, repetitions, seed, params, portfolio,
		 strategy_mean, buy_hold_mean, win_rate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt.UnixMilli(), run.Symbol, run.Preset, run.HorizonDays, run.Repetitions,
		int64(run.Seed), params, portfolio,
		nullable(run.StrategyMean), nullable(run.BuyHoldMean), nullable(run.WinRate))
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO backtest_samples
		(run_id, seq, start_date, strategy, buy_hold) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, smp := range samples {
		_, err := stmt.ExecContext(ctx, run.ID, i, smp.StartDate.Format(time.DateOnly),
			nullable(smp.StrategyCumLogReturn), nullable(smp.BuyHoldCumLogReturn))
		if err != nil {
			return fmt.Errorf("inserting sample %d of run %s: %w", i, run.ID, err)
		}
	}
	return tx.Commit()
}

// ListBacktests returns the most recent runs first. A non-positive limit
// returns every run.
func (s *SQLiteStore) ListBacktests(ctx context.Context, limit int) ([]BacktestRun, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, created_at, symbol, preset, horizon_days,
		repetitions, seed, params, portfolio, strategy_mean, buy_hold_mean, win_rate
		FROM backtest_runs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []BacktestRun
	for rows.Next() {
		var (
			r                         BacktestRun
			created, seed             int64
			params, portfolio         string
			stratMean, holdMean, wins sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &created, &r.Symbol, &r.Preset, &r.HorizonDays,
			&r.Repetitions, &seed, &params, &portfolio, &stratMean, &holdMean, &wins); err != nil {
			return nil, err
		}
		r.CreatedAt = time.UnixMilli(created).UTC()
		r.Seed = uint64(seed)
		r.Params = []byte(params)
		r.Portfolio = []byte(portfolio)
		r.StrategyMean = orNaN(stratMean)
		r.BuyHoldMean = orNaN(holdMean)
		r.WinRate = orNaN(wins)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LoadSamples returns the samples of runID in draw order.
func (s *SQLiteStore) LoadSamples(ctx context.Context, runID string) ([]domain.BacktestSample, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM backtest_runs WHERE id = ?`, runID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("backtest %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT start_date, strategy, buy_hold
		FROM backtest_samples WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []domain.BacktestSample
	for rows.Next() {
		var (
			start          string
			strategy, hold sql.NullFloat64
		)
		if err := rows.Scan(&start, &strategy, &hold); err != nil {
			return nil, err
		}
		date, err := time.Parse(time.DateOnly, start)
		if err != nil {
			return nil, fmt.Errorf("parsing start date %q: %w", start, err)
		}
		samples = append(samples, domain.BacktestSample{
			StartDate:            date,
			StrategyCumLogReturn: orNaN(strategy),
			BuyHoldCumLogReturn:  orNaN(hold),
		})
	}
	return samples, rows.Err()
}

// nullable maps NaN, which SQLite cannot store, to NULL.
func nullable(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: !math.IsNaN(v)}
}

func orNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
