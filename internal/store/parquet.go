package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"kellyfactor/internal/domain"
)

// Compile-time interface checks.
var _ PriceStore = (*ParquetStore)(nil)
var _ ResultStore = (*ParquetStore)(nil)

// ParquetStore implements PriceStore and ResultStore using Parquet files on
// disk.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// PriceRecord is the Parquet schema for a daily close.
type PriceRecord struct {
	Date  int64   `parquet:"date,timestamp(millisecond)"` // Unix ms, UTC midnight
	Close float64 `parquet:"close"`
}

// ResultRecord is the Parquet schema for one row of a simulation table.
// Undefined returns are stored as NaN.
type ResultRecord struct {
	Date                 int64   `parquet:"date,timestamp(millisecond)"`
	Close                float64 `parquet:"close"`
	Return               float64 `parquet:"return"`
	LogReturn            float64 `parquet:"log_return"`
	KellyFactor          float64 `parquet:"kelly_factor"`
	KellyFractionApplied float64 `parquet:"kelly_fraction_applied"`
	Portfolio            float64 `parquet:"portfolio"`
	Equity               float64 `parquet:"equity"`
	Cash                 float64 `parquet:"cash"`
	StrategyLogReturn    float64 `parquet:"strategy_log_return"`
	StrategyCumLogReturn float64 `parquet:"strategy_cum_log_return"`
	BuyHoldCumLogReturn  float64 `parquet:"buy_hold_cum_log_return"`
}

// ---------------------------------------------------------------------------
// PriceStore implementation
// ---------------------------------------------------------------------------

// WritePrices merges obs into <DataDir>/prices/<SYMBOL>.parquet.
func (s *ParquetStore) WritePrices(_ context.Context, symbol string, obs []domain.PriceObservation) error {
	if len(obs) == 0 {
		return nil
	}
	path, err := s.pricePath(symbol)
	if err != nil {
		return err
	}

	records := make([]PriceRecord, len(obs))
	for i, o := range obs {
		records[i] = PriceRecord{Date: o.Date.UnixMilli(), Close: o.Close}
	}

	existing, err := readParquetFile[PriceRecord](path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reading prices for %s: %w", symbol, err)
	}
	merged := mergePriceRecords(existing, records)

	if err := writeParquetFile(path, merged); err != nil {
		return fmt.Errorf("writing prices for %s: %w", symbol, err)
	}
	return nil
}

// ReadPrices reads the symbol's history. A missing file yields no rows.
func (s *ParquetStore) ReadPrices(_ context.Context, symbol string, start, end time.Time) ([]domain.PriceObservation, error) {
	path, err := s.pricePath(symbol)
	if err != nil {
		return nil, err
	}
	records, err := readParquetFile[PriceRecord](path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading prices for %s: %w", symbol, err)
	}

	var obs []domain.PriceObservation
	for _, r := range records {
		ts := time.UnixMilli(r.Date).UTC()
		if !start.IsZero() && ts.Before(start) {
			continue
		}
		if !end.IsZero() && ts.After(end) {
			continue
		}
		obs = append(obs, domain.PriceObservation{Date: ts, Close: r.Close})
	}
	return obs, nil
}

// ListSymbols lists all symbols that have stored prices.
func (s *ParquetStore) ListSymbols(_ context.Context) ([]string, error) {
	dir := filepath.Join(s.DataDir, "prices")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ".parquet"); ok && !e.IsDir() {
			symbols = append(symbols, name)
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---------------------------------------------------------------------------
// ResultStore implementation
// ---------------------------------------------------------------------------

// WriteResult writes res to <DataDir>/results/<name>.parquet, replacing any
// earlier table of the same name.
func (s *ParquetStore) WriteResult(_ context.Context, name string, res domain.SimulationResult) error {
	path, err := s.resultPath(name)
	if err != nil {
		return err
	}
	records := make([]ResultRecord, len(res.Rows))
	for i, r := range res.Rows {
		records[i] = ResultRecord{
			Date:                 r.Date.UnixMilli(),
			Close:                r.Close,
			Return:               r.Return,
			LogReturn:            r.LogReturn,
			KellyFactor:          r.KellyFactor,
			KellyFractionApplied: r.KellyFractionApplied,
			Portfolio:            r.Portfolio,
			Equity:               r.Equity,
			Cash:                 r.Cash,
			StrategyLogReturn:    r.StrategyLogReturn,
			StrategyCumLogReturn: r.StrategyCumLogReturn,
			BuyHoldCumLogReturn:  r.BuyHoldCumLogReturn,
		}
	}
	if err := writeParquetFile(path, records); err != nil {
		return fmt.Errorf("writing result %s: %w", name, err)
	}
	return nil
}

// ReadResult loads a table written by WriteResult.
func (s *ParquetStore) ReadResult(_ context.Context, name string) (domain.SimulationResult, error) {
	path, err := s.resultPath(name)
	if err != nil {
		return domain.SimulationResult{}, err
	}
	records, err := readParquetFile[ResultRecord](path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.SimulationResult{}, fmt.Errorf("result %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return domain.SimulationResult{}, fmt.Errorf("reading result %s: %w", name, err)
	}

	rows := make([]domain.ResultRow, len(records))
	for i, r := range records {
		rows[i] = domain.ResultRow{
			Date:                 time.UnixMilli(r.Date).UTC(),
			Close:                r.Close,
			Return:               r.Return,
			LogReturn:            r.LogReturn,
			KellyFactor:          r.KellyFactor,
			KellyFractionApplied: r.KellyFractionApplied,
			Portfolio:            r.Portfolio,
			Equity:               r.Equity,
			Cash:                 r.Cash,
			StrategyLogReturn:    r.StrategyLogReturn,
			StrategyCumLogReturn: r.StrategyCumLogReturn,
			BuyHoldCumLogReturn:  r.BuyHoldCumLogReturn,
		}
	}
	return domain.SimulationResult{Rows: rows}, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// pricePath returns the filesystem path for a symbol's price file.
// Layout: <dataDir>/prices/<SYMBOL>.parquet
func (s *ParquetStore) pricePath(symbol string) (string, error) {
	if err := checkName(symbol); err != nil {
		return "", err
	}
	return filepath.Join(s.DataDir, "prices", strings.ToUpper(symbol)+".parquet"), nil
}

// resultPath returns the filesystem path for a named result.
// Layout: <dataDir>/results/<name>.parquet
func (s *ParquetStore) resultPath(name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.DataDir, "results", name+".parquet"), nil
}

// checkName rejects names that would escape their directory.
func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid name %q: %w", name, domain.ErrInvalidConfiguration)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

// writeParquetFile writes to a temporary sibling and renames it into place so
// readers never observe a partial file.
func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, records); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergePriceRecords deduplicates price records by date, preferring new
// records over existing ones. Results are sorted by date.
func mergePriceRecords(existing, incoming []PriceRecord) []PriceRecord {
	seen := make(map[int64]PriceRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Date] = r
	}
	for _, r := range incoming {
		seen[r.Date] = r
	}

	merged := make([]PriceRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Date < merged[j].Date
	})
	return merged
}
