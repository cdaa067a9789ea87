package httpapi

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kellyfactor/internal/publish"
	"kellyfactor/internal/store"
	"kellyfactor/internal/strategy"
)

const defaultBacktestLimit = 20

// Options wires the optional collaborators of a Server.
type Options struct {
	// TablePath is the published table file served at GET /.
	TablePath string

	// Presets backs GET /api/presets. Nil disables the route.
	Presets *strategy.Registry

	// Backtests backs GET /api/backtests. Nil disables the route.
	Backtests store.BacktestStore

	// Gatherer backs GET /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// Server serves the leverage table API.
type Server struct {
	snap *publish.Snapshot
	opts Options
	log  *slog.Logger
}

// NewServer creates a new HTTP API server over snap.
func NewServer(snap *publish.Snapshot, opts Options, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{snap: snap, opts: opts, log: log.With("component", "httpapi")}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handleTable)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/latest", s.handleLatest)
	mux.HandleFunc("GET /api/table", s.handleTableJSON)
	if s.opts.Presets != nil {
		mux.HandleFunc("GET /api/presets", s.handlePresets)
	}
	if s.opts.Backtests != nil {
		mux.HandleFunc("GET /api/backtests", s.handleBacktests)
		mux.HandleFunc("GET /api/backtests/{id}/samples", s.handleSamples)
	}

	g := s.opts.Gatherer
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// handleTable serves the published file as written to disk.
func (s *Server) handleTable(w http.ResponseWriter, r *http.Request) {
	data, err := os.ReadFile(s.opts.TablePath)
	if errors.Is(err, fs.ErrNotExist) {
		http.Error(w, "table not published yet", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		s.log.Error("reading table", "path", s.opts.TablePath, "error", err)
		http.Error(w, "reading table failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":     "ok",
		"published":  len(s.snap.Rows()) > 0,
		"updated_at": s.snap.UpdatedAt(),
	})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	row, ok := s.snap.Latest()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "table not published yet")
		return
	}
	writeJSON(w, LatestJSON{Row: ToRowJSON(row), UpdatedAt: s.snap.UpdatedAt()})
}

func (s *Server) handleTableJSON(w http.ResponseWriter, r *http.Request) {
	rows := s.snap.Rows()
	if len(rows) == 0 {
		writeError(w, http.StatusServiceUnavailable, "table not published yet")
		return
	}
	out := TableJSON{
		Columns:   publish.Columns,
		Rows:      make([]RowJSON, len(rows)),
		UpdatedAt: s.snap.UpdatedAt(),
	}
	for i, row := range rows {
		out.Rows[i] = ToRowJSON(row)
	}
	writeJSON(w, out)
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	names := s.opts.Presets.List()
	out := make([]strategy.Preset, 0, len(names))
	for _, name := range names {
		p, _ := s.opts.Presets.Get(name)
		out = append(out, p)
	}
	writeJSON(w, out)
}

// handleBacktests lists stored runs, newest first. The optional "limit"
// query parameter defaults to 20.
func (s *Server) handleBacktests(w http.ResponseWriter, r *http.Request) {
	limit := defaultBacktestLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	runs, err := s.opts.Backtests.ListBacktests(r.Context(), limit)
	if err != nil {
		s.log.Error("listing backtests", "error", err)
		writeError(w, http.StatusInternalServerError, "listing backtests failed")
		return
	}
	out := make([]BacktestRunJSON, len(runs))
	for i, run := range runs {
		out[i] = toRunJSON(run)
	}
	writeJSON(w, out)
}

func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	samples, err := s.opts.Backtests.LoadSamples(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "backtest "+id+" not found")
		return
	}
	if err != nil {
		s.log.Error("loading samples", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "loading samples failed")
		return
	}
	out := make([]SampleJSON, len(samples))
	for i, sm := range samples {
		out[i] = toSampleJSON(sm)
	}
	writeJSON(w, out)
}
