package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/yairfalse/vigil/workflow"
)

type createRequest struct {
	Type          string         `json:"workflow_type"`
	CorrelationID string         `json:"correlation_id"`
	RequesterID   string         `json:"requester_id"`
	Metadata      map[string]any `json:"metadata"`
}

type actionRequest struct {
	Action  string `json:"action"`
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason"`
}

type advanceResponse struct {
	Workflow *workflow.Workflow `json:"workflow"`
	Outcome  string             `json:"outcome"`
}

func (s *Server) machine(w http.ResponseWriter) (*workflow.Machine, bool) {
	if s.workflows == nil {
		writeError(w, http.StatusServiceUnavailable, "workflows are not enabled")
		return nil, false
	}
	return s.workflows, true
}

func (s *Server) writeWorkflowError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, workflow.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, workflow.ErrUnknownTemplate):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, workflow.ErrTerminal), errors.Is(err, workflow.ErrVersionConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.WithContext(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("workflow request failed")
		writeError(w, http.StatusInternalServerError, "workflow operation failed")
	}
}

// listWorkflows supports ?status=a,b &type= &correlation_id=
func (s *Server) listWorkflows(w http.ResponseWriter, r *http.Request) {
	m, ok := s.machine(w)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := workflow.Filter{
		Type:          workflow.Type(q.Get("type")),
		CorrelationID: q.Get("correlation_id"),
	}
	if raw := q.Get("status"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			st, ok := workflow.ParseStatus(name)
			if !ok {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", name))
				return
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}

	list, err := m.List(r.Context(), filter)
	if err != nil {
		s.writeWorkflowError(w, r, err)
		return
	}
	if list == nil {
		list = []*workflow.Workflow{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) createWorkflow(w http.ResponseWriter, r *http.Request) {
	m, ok := s.machine(w)
	if !ok {
		return
	}

	var req createRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	wf, err := m.Create(r.Context(), workflow.Type(req.Type), req.CorrelationID, req.RequesterID, req.Metadata)
	if err != nil {
		s.writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wf)
}

func (s *Server) getWorkflow(w http.ResponseWriter, r *http.Request) {
	m, ok := s.machine(w)
	if !ok {
		return
	}

	wf, err := m.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// advanceWorkflow reports mismatched actions through the outcome with 200,
// leaving the workflow unchanged.
func (s *Server) advanceWorkflow(w http.ResponseWriter, r *http.Request) {
	m, ok := s.machine(w)
	if !ok {
		return
	}

	var req actionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Action == "" {
		writeError(w, http.StatusBadRequest, "action is required")
		return
	}

	wf, outcome, err := m.Advance(r.Context(), chi.URLParam(r, "id"), req.Action, req.ActorID)
	if err != nil {
		s.writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, advanceResponse{Workflow: wf, Outcome: outcome.String()})
}

func (s *Server) approveWorkflow(w http.ResponseWriter, r *http.Request) {
	s.override(w, r, func(m *workflow.Machine, id string, req actionRequest) (*workflow.Workflow, error) {
		return m.Approve(r.Context(), id, req.ActorID)
	})
}

func (s *Server) rejectWorkflow(w http.ResponseWriter, r *http.Request) {
	s.override(w, r, func(m *workflow.Machine, id string, req actionRequest) (*workflow.Workflow, error) {
		return m.Reject(r.Context(), id, req.ActorID, req.Reason)
	})
}

func (s *Server) unblockWorkflow(w http.ResponseWriter, r *http.Request) {
	s.override(w, r, func(m *workflow.Machine, id string, req actionRequest) (*workflow.Workflow, error) {
		return m.Unblock(r.Context(), id, req.Reason)
	})
}

func (s *Server) resetWorkflow(w http.ResponseWriter, r *http.Request) {
	s.override(w, r, func(m *workflow.Machine, id string, _ actionRequest) (*workflow.Workflow, error) {
		return m.Reset(r.Context(), id)
	})
}

func (s *Server) override(w http.ResponseWriter, r *http.Request, fn func(*workflow.Machine, string, actionRequest) (*workflow.Workflow, error)) {
	m, ok := s.machine(w)
	if !ok {
		return
	}

	var req actionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	wf, err := fn(m, chi.URLParam(r, "id"), req)
	if err != nil {
		s.writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}
