package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/flood-telemetry/internal/alert"
	"github.com/couchcryptid/flood-telemetry/internal/domain"
	"github.com/couchcryptid/flood-telemetry/internal/window"
)

// Limits for GET /api/v1/readings.
const (
	DefaultReadingsLimit = 100
	MaxReadingsLimit     = 10_000
)

// ReadingSource is the pull side of the ingestion worker.
type ReadingSource interface {
	Latest() (domain.Reading, bool)
	Recent(n int) []domain.Reading
	Aggregates() *window.Aggregates
}

// AlertSource evaluates the current alert state on demand.
type AlertSource interface {
	Evaluate() alert.State
	Thresholds() alert.Thresholds
}

// Server exposes health, readiness, metrics, and the read-only telemetry API.
type Server struct {
	httpServer *http.Server
	readings   ReadingSource
	alerts     AlertSource
	logger     *slog.Logger
}

// NewServer creates an HTTP server with the probe routes and the /api/v1
// telemetry routes.
func NewServer(addr string, ready sharedobs.ReadinessChecker, readings ReadingSource, alerts AlertSource, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		readings: readings,
		alerts:   alerts,
		logger:   logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/v1/readings/latest", s.handleLatest)
	mux.HandleFunc("GET /api/v1/readings", s.handleReadings)
	mux.HandleFunc("GET /api/v1/aggregates", s.handleAggregates)
	mux.HandleFunc("GET /api/v1/alerts", s.handleAlerts)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleLatest(w http.ResponseWriter, _ *http.Request) {
	r, ok := s.readings.Latest()
	if !ok {
		writeError(w, http.StatusNotFound, "no readings yet")
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, r)
}

type readingsResponse struct {
	Count    int              `json:"count"`
	Readings []domain.Reading `json:"readings"`
}

func (s *Server) handleReadings(w http.ResponseWriter, r *http.Request) {
	limit := DefaultReadingsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > MaxReadingsLimit {
			writeError(w, http.StatusBadRequest, "limit must be an integer in 1.."+strconv.Itoa(MaxReadingsLimit))
			return
		}
		limit = n
	}

	readings := s.readings.Recent(limit)
	sharedobs.WriteJSON(w, http.StatusOK, readingsResponse{Count: len(readings), Readings: readings})
}

func (s *Server) handleAggregates(w http.ResponseWriter, _ *http.Request) {
	agg := s.readings.Aggregates()
	if agg == nil {
		agg = &window.Aggregates{Windows: []window.Summary{}}
	}
	sharedobs.WriteJSON(w, http.StatusOK, agg)
}

type alertsResponse struct {
	alert.State
	Thresholds alert.Thresholds `json:"thresholds"`
}

func (s *Server) handleAlerts(w http.ResponseWriter, _ *http.Request) {
	sharedobs.WriteJSON(w, http.StatusOK, alertsResponse{
		State:      s.alerts.Evaluate(),
		Thresholds: s.alerts.Thresholds(),
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	sharedobs.WriteJSON(w, status, map[string]string{"error": msg})
}
