// Package publish turns simulation results into the published leverage
// table and keeps it fresh.
package publish

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"kellyfactor/internal/domain"
)

// DefaultTailRows is the number of trailing sessions in the published table.
const DefaultTailRows = 253

// Columns is the header of the published table.
var Columns = []string{"Date", "Close", "kelly_fraction_applied", "strategy_cum_returns", "cum_returns"}

// Row is one line of the published table.
type Row struct {
	Date                 time.Time `json:"date"`
	Close                float64   `json:"close"`
	KellyFractionApplied float64   `json:"kelly_fraction_applied"`
	StrategyCumReturns   float64   `json:"strategy_cum_returns"`
	CumReturns           float64   `json:"cum_returns"`
}

// Select picks the published rows: the most recent row, followed by the last
// tailRows rows newest first. The most recent row therefore appears twice.
// A tailRows larger than the result uses every row.
func Select(res domain.SimulationResult, tailRows int) []Row {
	last, ok := res.Last()
	if !ok {
		return nil
	}
	tail := res.Tail(tailRows)

	out := make([]Row, 0, len(tail)+1)
	out = append(out, rowFrom(last))
	for i := len(tail) - 1; i >= 0; i-- {
		out = append(out, rowFrom(tail[i]))
	}
	return out
}

func rowFrom(r domain.ResultRow) Row {
	return Row{
		Date:                 r.Date,
		Close:                r.Close,
		KellyFractionApplied: r.KellyFractionApplied,
		StrategyCumReturns:   r.StrategyCumLogReturn,
		CumReturns:           r.BuyHoldCumLogReturn,
	}
}

// FormatTable writes rows as tab-separated text with a header line. Floats
// use two decimals and NaN is written as an empty field.
func FormatTable(w io.Writer, rows []Row) error {
	bw := bufio.NewWriter(w)
	for i, c := range Columns {
		if i > 0 {
			bw.WriteByte('\t')
		}
		bw.WriteString(c)
	}
	bw.WriteByte('\n')

	for _, r := range rows {
		fmt.Fprintf(bw, "%s\t%s\t%s\t%s\t%s\n",
			r.Date.Format(time.DateOnly),
			formatFloat(r.Close),
			formatFloat(r.KellyFractionApplied),
			formatFloat(r.StrategyCumReturns),
			formatFloat(r.CumReturns),
		)
	}
	return bw.Flush()
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return fmt.Sprintf("%.2f", v)
}

// WriteTable replaces the file at path with the formatted rows. The table
// is written to a temporary file in the same directory and renamed into
// place, so readers see either the old or the new table.
func WriteTable(path string, rows []Row) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := FormatTable(tmp, rows); err != nil {
		tmp.Close()
		return fmt.Errorf("writing table: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
