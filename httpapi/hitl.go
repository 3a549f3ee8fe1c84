package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/geniusboywonder/bmad-core/correrr"
	"github.com/geniusboywonder/bmad-core/domain"
)

// requestApprovalRequest is the body of POST /hitl/request-approval. The
// HITL Gate itself never decides whether a task needs approval here;
// callers (the Scheduler, the Workflow Engine) reach this endpoint only
// after their own evaluate() call already returned needs_approval.
type requestApprovalRequest struct {
	ProjectID string         `json:"project_id"`
	TaskID    string         `json:"task_id"`
	AgentType string         `json:"agent_type"`
	Kind      string         `json:"kind"`
	Payload   map[string]any `json:"payload"`
}

type requestApprovalResponse struct {
	ApprovalID string `json:"approval_id"`
}

func (s *Server) handleRequestApproval(w http.ResponseWriter, r *http.Request) {
	var req requestApprovalRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ProjectID == "" || req.TaskID == "" {
		respondError(w, correrr.New(correrr.CodeMissingInput, "project_id and task_id are required"))
		return
	}

	task := domain.Task{ID: req.TaskID, ProjectID: req.ProjectID, AgentType: req.AgentType}
	id, err := s.Gate.CreateApproval(r.Context(), task, domain.HITLKind(req.Kind), req.Payload)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, requestApprovalResponse{ApprovalID: id})
}

// approveRequest is the body of POST /hitl/approve/{approval_id}. UserText
// carries the replacement instructions verbatim when Action is "modify",
// per spec.md §7's requirement to surface HITL modify text unaltered.
type approveRequest struct {
	Action   string `json:"action"`
	UserText string `json:"user_text,omitempty"`
}

type approveResponse struct {
	ApprovalID string `json:"approval_id"`
	Status     string `json:"status"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	approvalID := chi.URLParam(r, "approval_id")

	var req approveRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	outcome, err := s.Gate.Respond(r.Context(), approvalID, domain.HITLAction(req.Action), req.UserText)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, approveResponse{ApprovalID: outcome.Approval.ID, Status: string(outcome.Approval.Status)})
}

type approvalResponse struct {
	ID        string         `json:"id"`
	ProjectID string         `json:"project_id"`
	TaskID    string         `json:"task_id"`
	Kind      string         `json:"kind"`
	Status    string         `json:"status"`
	Payload   map[string]any `json:"request_payload,omitempty"`
}

func toApprovalResponse(a domain.HITLApproval) approvalResponse {
	return approvalResponse{
		ID:        a.ID,
		ProjectID: a.ProjectID,
		TaskID:    a.TaskID,
		Kind:      string(a.Kind),
		Status:    string(a.Status),
		Payload:   a.RequestPayload,
	}
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")
	if projectID == "" {
		respondError(w, correrr.New(correrr.CodeMissingInput, "project_id query parameter is required"))
		return
	}

	all, err := s.Approvals.ListForProject(r.Context(), projectID)
	if err != nil {
		respondError(w, err)
		return
	}
	pending := make([]approvalResponse, 0, len(all))
	for _, a := range all {
		if a.Status == domain.HITLPending {
			pending = append(pending, toApprovalResponse(a))
		}
	}
	respondJSON(w, http.StatusOK, pending)
}

func (s *Server) handleApprovalStatus(w http.ResponseWriter, r *http.Request) {
	approvalID := chi.URLParam(r, "approval_id")
	a, err := s.Approvals.Get(r.Context(), approvalID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toApprovalResponse(a))
}

type emergencyStopRequest struct {
	Scope  string `json:"scope"` // "global" or a project id
	Reason string `json:"reason"`
}

type emergencyStopResponse struct {
	ID     string `json:"id"`
	Scope  string `json:"scope"`
	Active bool   `json:"active"`
}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	var req emergencyStopRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Scope == "" {
		respondError(w, correrr.New(correrr.CodeMissingInput, "scope is required"))
		return
	}

	stop, err := s.Gate.Activate(r.Context(), req.Scope, req.Reason)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, emergencyStopResponse{ID: stop.ID, Scope: stop.Scope, Active: stop.Active})
}

func (s *Server) handleEmergencyStopClear(w http.ResponseWriter, r *http.Request) {
	stopID := chi.URLParam(r, "stop_id")
	stop, err := s.Gate.Deactivate(r.Context(), stopID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, emergencyStopResponse{ID: stop.ID, Scope: stop.Scope, Active: stop.Active})
}

// projectSummaryResponse is the body of GET /hitl/project/{id}/summary:
// approval counts by status plus the project's auto-approval counter.
type projectSummaryResponse struct {
	ProjectID string         `json:"project_id"`
	Counts    map[string]int `json:"counts"`
	Counter   *counterView   `json:"counter,omitempty"`
}

type counterView struct {
	Enabled      bool `json:"enabled"`
	Remaining    int  `json:"remaining"`
	InitialValue int  `json:"initial_value"`
}

func (s *Server) handleProjectSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := chi.URLParam(r, "project_id")

	approvals, err := s.Approvals.ListForProject(ctx, projectID)
	if err != nil {
		respondError(w, err)
		return
	}
	counts := make(map[string]int)
	for _, a := range approvals {
		counts[string(a.Status)]++
	}

	resp := projectSummaryResponse{ProjectID: projectID, Counts: counts}
	if counter, err := s.Counters.Get(ctx, projectID); err == nil {
		resp.Counter = &counterView{Enabled: counter.Enabled, Remaining: counter.Remaining, InitialValue: counter.InitialValue}
	} else if correrr.CodeOf(err) != correrr.CodeNotFound {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// hitlHealthResponse is the body of GET /hitl/health: whether a global
// emergency stop is currently active, for operator dashboards.
type hitlHealthResponse struct {
	GlobalStopActive bool `json:"global_stop_active"`
}

func (s *Server) handleHITLHealth(w http.ResponseWriter, r *http.Request) {
	_, err := s.Stops.Active(r.Context(), "global")
	active := err == nil
	if err != nil && correrr.CodeOf(err) != correrr.CodeNotFound {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, hitlHealthResponse{GlobalStopActive: active})
}
