package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/yairfalse/vigil/internal/filter"
	"github.com/yairfalse/vigil/internal/plugin"
	"github.com/yairfalse/vigil/internal/queue"
	"github.com/yairfalse/vigil/storage"
)

type eventAccepted struct {
	EventID       string `json:"event_id"`
	CorrelationID string `json:"correlation_id"`
	Status        string `json:"status"`
}

// postEvent checks the body against the event schema and queues it.
func (s *Server) postEvent(w http.ResponseWriter, r *http.Request) {
	if s.intake == nil {
		writeError(w, http.StatusServiceUnavailable, "event intake is not enabled")
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	in, err := plugin.Decode(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	event, err := s.intake.Submit(r.Context(), in)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, eventAccepted{
			EventID:       event.ID,
			CorrelationID: event.CorrelationID,
			Status:        "queued",
		})
	case errors.Is(err, filter.ErrFiltered):
		resp := eventAccepted{Status: "filtered"}
		if event != nil {
			resp.EventID = event.ID
			resp.CorrelationID = event.CorrelationID
		}
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, queue.ErrQueueFull), errors.Is(err, queue.ErrQueueClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

type statsResponse struct {
	storage.Stats
	Queue *queue.Stats `json:"queue,omitempty"`
}

// getStats aggregates results stored within ?since= (a duration, default 24h).
func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeError(w, http.StatusServiceUnavailable, "stats are not enabled")
		return
	}

	window := 24 * time.Hour
	if raw := r.URL.Query().Get("since"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "since must be a positive duration")
			return
		}
		window = d
	}

	stats, err := s.stats.SummaryStats(r.Context(), s.now().Add(-window))
	if err != nil {
		s.logger.LogStorageError(r.Context(), "summary_stats", err)
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}

	resp := statsResponse{Stats: stats}
	if s.queue != nil {
		qs := s.queue.Stats()
		resp.Queue = &qs
	}
	writeJSON(w, http.StatusOK, resp)
}
