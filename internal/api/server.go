// Package api serves the vigil HTTP surface: event intake, workflow
// administration, stats, health and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yairfalse/vigil/internal/queue"
	"github.com/yairfalse/vigil/storage"
	"github.com/yairfalse/vigil/telemetry"
	"github.com/yairfalse/vigil/types"
	"github.com/yairfalse/vigil/workflow"
)

const maxBodyBytes = 1 << 20

// Intake accepts decoded events for asynchronous analysis.
type Intake interface {
	Submit(ctx context.Context, in types.EventInput) (*types.Event, error)
}

// StatsSource aggregates stored analysis results.
type StatsSource interface {
	SummaryStats(ctx context.Context, since time.Time) (storage.Stats, error)
}

// QueueStats reports intake queue counters.
type QueueStats interface {
	Stats() queue.Stats
}

// HealthSource reports runtime health. Without one /health only reports
// uptime.
type HealthSource interface {
	Health() Health
}

// Health is the /health body
type Health struct {
	Status     string   `json:"status"`
	Uptime     int64    `json:"uptime_seconds"`
	QueueDepth int      `json:"queue_depth"`
	Processed  int64    `json:"processed"`
	Issues     []string `json:"issues,omitempty"`
}

// Options wires the server's collaborators. Nil collaborators disable the
// routes that need them.
type Options struct {
	Intake    Intake
	Workflows *workflow.Machine
	Stats     StatsSource
	Queue     QueueStats
	Health    HealthSource
	Now       func() time.Time
}

// Server is the HTTP surface.
type Server struct {
	r         *chi.Mux
	intake    Intake
	workflows *workflow.Machine
	stats     StatsSource
	queue     QueueStats
	health    HealthSource
	now       func() time.Time
	started   time.Time
	logger    *telemetry.Logger
}

// NewServer builds the router.
func NewServer(opts Options) *Server {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Server{
		r:         chi.NewRouter(),
		intake:    opts.Intake,
		workflows: opts.Workflows,
		stats:     opts.Stats,
		queue:     opts.Queue,
		health:    opts.Health,
		now:       now,
		started:   now(),
		logger:    telemetry.NewLogger("api"),
	}

	s.r.Use(middleware.RequestID)
	s.r.Use(middleware.Recoverer)
	s.r.Use(s.requestLogger)

	s.routes()
	return s
}

func (s *Server) routes() {
	s.r.Get("/health", s.getHealth)
	s.r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(telemetry.PrometheusRegistry, promhttp.HandlerOpts{}))

	s.r.Route("/v1", func(r chi.Router) {
		r.Post("/events", s.postEvent)
		r.Get("/stats", s.getStats)

		r.Route("/workflows", func(r chi.Router) {
			r.Get("/", s.listWorkflows)
			r.Post("/", s.createWorkflow)
			r.Get("/{id}", s.getWorkflow)
			r.Post("/{id}/advance", s.advanceWorkflow)
			r.Post("/{id}/approve", s.approveWorkflow)
			r.Post("/{id}/reject", s.rejectWorkflow)
			r.Post("/{id}/unblock", s.unblockWorkflow)
			r.Post("/{id}/reset", s.resetWorkflow)
		})
	})
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.r }

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.WithContext(r.Context()).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

func (s *Server) getHealth(w http.ResponseWriter, _ *http.Request) {
	if s.health != nil {
		writeJSON(w, http.StatusOK, s.health.Health())
		return
	}
	writeJSON(w, http.StatusOK, Health{
		Status: "healthy",
		Uptime: int64(s.now().Sub(s.started).Seconds()),
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// decodeBody decodes an optional JSON body into v. An empty body is not an
// error.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
