package kellyclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewClient(t *testing.T) {
	baseURL := "http://localhost:9009/"
	c := NewClient(baseURL)

	if c == nil {
		t.Fatal("expected non-nil client")
	}

	if c.baseURL != "http://localhost:9009" {
		t.Errorf("expected baseURL %q, got %q", "http://localhost:9009", c.baseURL)
	}

	if c.httpClient == nil {
		t.Fatal("expected non-nil httpClient")
	}
}

func TestClient(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/latest", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"row":{"date":"2024-03-01","close":5100,"kelly_fraction_applied":2.5,"strategy_cum_returns":0.4,"cum_returns":0.2},"updated_at":"2024-03-01T18:00:00Z"}`))
	})
	mux.HandleFunc("GET /api/table", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"table not published yet"}`))
	})
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Date\tClose\n"))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c := NewClient(ts.URL)
	ctx := context.Background()

	latest, err := c.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.Row.Date != "2024-03-01" || latest.Row.KellyFractionApplied == nil || *latest.Row.KellyFractionApplied != 2.5 {
		t.Errorf("Latest = %+v", latest.Row)
	}

	_, err = c.Table(ctx)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Table error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusServiceUnavailable || apiErr.Message != "table not published yet" {
		t.Errorf("APIError = %+v", apiErr)
	}

	raw, err := c.RawTable(ctx)
	if err != nil || raw != "Date\tClose\n" {
		t.Errorf("RawTable = %q, %v", raw, err)
	}
}
