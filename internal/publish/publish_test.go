package publish

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"kellyfactor/internal/domain"
	"kellyfactor/internal/kelly"
	"kellyfactor/internal/portfolio"
	"kellyfactor/internal/store"
)

var epoch = time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC)

func resultOf(n int) domain.SimulationResult {
	rows := make([]domain.ResultRow, n)
	for i := range rows {
		rows[i] = domain.ResultRow{
			Date:                 epoch.AddDate(0, 0, i),
			Close:                float64(100 + i),
			KellyFractionApplied: float64(i) / 10,
			StrategyCumLogReturn: float64(i) / 100,
			BuyHoldCumLogReturn:  float64(i) / 50,
		}
	}
	return domain.SimulationResult{Rows: rows}
}

func TestSelect(t *testing.T) {
	rows := Select(resultOf(300), 253)
	if len(rows) != 254 {
		t.Fatalf("Select returned %d rows, want 254", len(rows))
	}
	if rows[0].Close != 399 || rows[1].Close != 399 {
		t.Errorf("first two rows = %v, %v, want the latest row twice", rows[0].Close, rows[1].Close)
	}
	if rows[253].Close != 399-252 {
		t.Errorf("last row close = %v, want %v", rows[253].Close, 399-252)
	}
	for i := 2; i < len(rows); i++ {
		if !rows[i].Date.Before(rows[i-1].Date) {
			t.Fatalf("rows not newest first at %d", i)
		}
	}
	if rows[0].StrategyCumReturns != 2.99 || rows[0].CumReturns != 5.98 || rows[0].KellyFractionApplied != 29.9 {
		t.Errorf("row mapping = %+v", rows[0])
	}

	if got := Select(resultOf(5), 253); len(got) != 6 {
		t.Errorf("Select of short result returned %d rows, want 6", len(got))
	}
	if got := Select(resultOf(5), 0); len(got) != 1 {
		t.Errorf("Select with no tail returned %d rows, want 1", len(got))
	}
	if got := Select(domain.SimulationResult{}, 253); got != nil {
		t.Errorf("Select of empty result = %v, want nil", got)
	}
}

func TestFormatTable(t *testing.T) {
	rows := []Row{
		{Date: epoch, Close: 3901.8246, KellyFractionApplied: 1.234, StrategyCumReturns: -0.005, CumReturns: math.NaN()},
	}
	var buf bytes.Buffer
	if err := FormatTable(&buf, rows); err != nil {
		t.Fatalf("FormatTable: %v", err)
	}
	want := "Date\tClose\tkelly_fraction_applied\tstrategy_cum_returns\tcum_returns\n" +
		"2021-03-01\t3901.82\t1.23\t-0.01\t\n"
	if buf.String() != want {
		t.Errorf("FormatTable =\n%q\nwant\n%q", buf.String(), want)
	}
}

func TestWriteTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "kelly.tsv")

	if err := WriteTable(path, Select(resultOf(3), 2)); err != nil {
		t.Fatalf("WriteTable: %v", err)
	}
	if err := WriteTable(path, Select(resultOf(4), 2)); err != nil {
		t.Fatalf("WriteTable (replace): %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 {
		t.Fatalf("table has %d lines, want header plus 3", len(lines))
	}
	if !strings.HasPrefix(lines[1], "2021-03-04\t103.00") {
		t.Errorf("first data line = %q, want the replaced table", lines[1])
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("directory holds %d entries, want only the table", len(entries))
	}
}

func TestSnapshot(t *testing.T) {
	var s Snapshot
	if _, ok := s.Latest(); ok {
		t.Error("Latest on empty snapshot returned true")
	}

	rows := Select(resultOf(3), 2)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.Set(rows, at)
	rows[0].Close = -1

	latest, ok := s.Latest()
	if !ok || latest.Close != 102 {
		t.Errorf("Latest = %+v, %v, want close 102", latest, ok)
	}
	if got := s.Rows(); len(got) != 3 {
		t.Errorf("Rows returned %d rows, want 3", len(got))
	}
	if !s.UpdatedAt().Equal(at) {
		t.Errorf("UpdatedAt = %v, want %v", s.UpdatedAt(), at)
	}
}

type fakeSource struct {
	obs []domain.PriceObservation
	err error
}

func (f *fakeSource) Name() string { return "fake" }
func (f *fakeSource) Fetch(_ context.Context, start, _ time.Time) ([]domain.PriceObservation, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.PriceObservation
	for _, o := range f.obs {
		if !o.Date.Before(start) {
			out = append(out, o)
		}
	}
	return out, nil
}

func walk(n int) []domain.PriceObservation {
	obs := make([]domain.PriceObservation, n)
	price := 100.0
	for i := range obs {
		price *= 1 + 0.01*math.Sin(float64(i))
		obs[i] = domain.PriceObservation{Date: epoch.AddDate(0, 0, i-30), Close: price}
	}
	return obs
}

func testRefresher(t *testing.T, src *fakeSource, prices store.PriceStore, reg *prometheus.Registry) (*Refresher, *Snapshot, string) {
	t.Helper()
	out := filepath.Join(t.TempDir(), "kelly.tsv")
	snap := &Snapshot{}
	cfg := RefresherConfig{
		Symbol:     "^spx",
		Start:      epoch,
		Interval:   time.Hour,
		TailRows:   20,
		OutputPath: out,
		ResultName: "blog",
		Params:     kelly.Params{Window: 10, AnnualRiskFreeRate: 0.01, MinKelly: -5, MaxKelly: 5, KellyFraction: 1},
		Portfolio:  portfolio.Config{AnnualRiskFreeRate: 0.01, RebalancingInterval: 1},
	}
	var results store.ResultStore
	if ps, ok := prices.(*store.ParquetStore); ok {
		results = ps
	}
	r := NewRefresher(cfg, src, prices, results, snap, NewMetrics(reg), nil)
	r.now = func() time.Time { return epoch.AddDate(0, 0, 100) }
	return r, snap, out
}

func TestRefresh(t *testing.T) {
	reg := prometheus.NewRegistry()
	ps := store.NewParquetStore(t.TempDir())
	r, snap, out := testRefresher(t, &fakeSource{obs: walk(200)}, ps, reg)

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	latest, ok := snap.Latest()
	if !ok {
		t.Fatal("snapshot empty after refresh")
	}
	// now+1 day bounds the range: days 0..101 after epoch.
	if want := epoch.AddDate(0, 0, 101); !latest.Date.Equal(want) {
		t.Errorf("latest date = %v, want %v", latest.Date, want)
	}
	if len(snap.Rows()) != 21 {
		t.Errorf("snapshot has %d rows, want 21", len(snap.Rows()))
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("table not written: %v", err)
	}

	stored, err := ps.ReadPrices(context.Background(), "^spx", time.Time{}, time.Time{})
	if err != nil || len(stored) != 170 {
		t.Errorf("stored %d prices (%v), want the 170 fetched", len(stored), err)
	}
	res, err := ps.ReadResult(context.Background(), "blog")
	if err != nil || res.Len() != 102 {
		t.Errorf("stored result has %d rows (%v), want 102", res.Len(), err)
	}

	if got := testutil.ToFloat64(r.metrics.refreshes.WithLabelValues("success")); got != 1 {
		t.Errorf("success counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.metrics.leverage); got != latest.KellyFractionApplied {
		t.Errorf("leverage gauge = %v, want %v", got, latest.KellyFractionApplied)
	}
}

func TestRefreshFallsBackToStoredPrices(t *testing.T) {
	reg := prometheus.NewRegistry()
	ps := store.NewParquetStore(t.TempDir())
	if err := ps.WritePrices(context.Background(), "^spx", walk(200)); err != nil {
		t.Fatalf("WritePrices: %v", err)
	}

	r, snap, _ := testRefresher(t, &fakeSource{err: errors.New("stooq down")}, ps, reg)
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, ok := snap.Latest(); !ok {
		t.Error("snapshot empty after fallback refresh")
	}
}

func TestRefreshFailureKeepsTable(t *testing.T) {
	reg := prometheus.NewRegistry()
	src := &fakeSource{obs: walk(200)}
	r, snap, out := testRefresher(t, src, nil, reg)

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	before, _ := os.ReadFile(out)

	src.err = errors.New("stooq down")
	if err := r.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh returned nil error when the source failed")
	}
	after, _ := os.ReadFile(out)
	if !bytes.Equal(before, after) {
		t.Error("table changed after a failed refresh")
	}
	if _, ok := snap.Latest(); !ok {
		t.Error("snapshot cleared after a failed refresh")
	}
	if got := testutil.ToFloat64(r.metrics.refreshes.WithLabelValues("error_fetch")); got != 1 {
		t.Errorf("error_fetch counter = %v, want 1", got)
	}

	src.err = nil
	src.obs = walk(20)[:10] // all before Start
	if err := r.Refresh(context.Background()); !errors.Is(err, domain.ErrInsufficientData) {
		t.Errorf("Refresh with no data in range error = %v, want ErrInsufficientData", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, snap, _ := testRefresher(t, &fakeSource{obs: walk(200)}, nil, reg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, ok := snap.Latest(); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Run did not refresh")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
