// Package httpapi implements the external HTTP surface of the orchestration
// core (spec.md §6): task submission, HITL approval/emergency-stop
// management, the real-time event WebSocket, and the audit trail. Routing
// uses chi, and responses follow the writeJSON/writeError helper shape
// common across the example pack's hand-written HTTP handlers (e.g.
// itsneelabh-gomind's agent-with-orchestration/handlers.go and
// kadirpekel-hector's pkg/a2a/server.go), adapted to map correrr.Code to a
// stable status without leaking internal error details (spec.md §7).
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/geniusboywonder/bmad-core/correrr"
	"github.com/geniusboywonder/bmad-core/domain"
	"github.com/geniusboywonder/bmad-core/eventfabric"
	"github.com/geniusboywonder/bmad-core/eventfabric/wshub"
	"github.com/geniusboywonder/bmad-core/hitl"
	"github.com/geniusboywonder/bmad-core/telemetry"
)

// TaskSubmitter is the narrow Scheduler slice task submission needs.
type TaskSubmitter interface {
	Submit(ctx context.Context, t domain.Task) (string, error)
}

// TaskReader is the narrow Scheduler TaskStore slice status reporting needs.
type TaskReader interface {
	Get(ctx context.Context, id string) (domain.Task, error)
	ListByStatusInProject(ctx context.Context, projectID string, statuses ...domain.TaskStatus) ([]domain.Task, error)
}

// ProjectReader is the narrow Workflow Engine ProjectStore slice status
// reporting needs.
type ProjectReader interface {
	Get(ctx context.Context, id string) (domain.Project, error)
}

// RunReader is the narrow Workflow Engine RunStore slice status reporting
// needs.
type RunReader interface {
	GetForProject(ctx context.Context, projectID string) (domain.WorkflowRun, error)
}

// WorkflowStarter is the narrow Workflow Engine slice the workflow-start
// endpoint needs. Signature matches workflow.Engine.StartRun exactly.
type WorkflowStarter interface {
	StartRun(ctx context.Context, projectID, projectName, definitionID string) (string, error)
}

// HITLGate is the narrow HITL Gate slice the hitl endpoints need. Signatures
// match hitl.Gate exactly, so *hitl.Gate satisfies this directly.
type HITLGate interface {
	CreateApproval(ctx context.Context, task domain.Task, kind domain.HITLKind, payload map[string]any) (string, error)
	Respond(ctx context.Context, approvalID string, action domain.HITLAction, userText string) (hitl.RespondOutcome, error)
	Activate(ctx context.Context, scope, reason string) (domain.EmergencyStop, error)
	Deactivate(ctx context.Context, id string) (domain.EmergencyStop, error)
	Refill(ctx context.Context, projectID string, value int) (domain.HITLCounter, error)
	SetCounterEnabled(ctx context.Context, projectID string, enabled bool) (domain.HITLCounter, error)
}

// ApprovalReader is the narrow ApprovalStore slice the hitl endpoints need
// for read access the Gate itself doesn't expose.
type ApprovalReader interface {
	Get(ctx context.Context, id string) (domain.HITLApproval, error)
	ListForProject(ctx context.Context, projectID string) ([]domain.HITLApproval, error)
}

// CounterReader is the narrow CounterStore slice the project-summary
// endpoint needs.
type CounterReader interface {
	Get(ctx context.Context, projectID string) (domain.HITLCounter, error)
}

// StopReader is the narrow StopStore slice the health endpoint needs.
type StopReader interface {
	Active(ctx context.Context, projectID string) (domain.EmergencyStop, error)
}

// Server wires the orchestration core's components into an HTTP API. All
// fields except Logger are required.
type Server struct {
	Tasks      TaskSubmitter
	TaskReader TaskReader
	Projects   ProjectReader
	Runs       RunReader
	Workflow   WorkflowStarter
	Gate       HITLGate
	Approvals  ApprovalReader
	Counters   CounterReader
	Stops      StopReader
	Events     eventfabric.Fabric
	Hub        *wshub.Hub
	Logger     telemetry.Logger
}

// New constructs a Server. Call Routes to obtain the mountable chi.Router.
func New(s Server) *Server {
	return &s
}

// Routes builds the chi router for every endpoint in spec.md §6.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/projects/{project_id}", func(r chi.Router) {
		r.Post("/tasks", s.handleSubmitTask)
		r.Get("/status", s.handleProjectStatus)
		r.Post("/workflow/{def_id}/start", s.handleStartWorkflow)
	})

	r.Route("/hitl", func(r chi.Router) {
		r.Post("/request-approval", s.handleRequestApproval)
		r.Post("/approve/{approval_id}", s.handleApprove)
		r.Get("/pending", s.handlePending)
		r.Get("/status/{approval_id}", s.handleApprovalStatus)
		r.Post("/emergency-stop", s.handleEmergencyStop)
		r.Delete("/emergency-stop/{stop_id}", s.handleEmergencyStopClear)
		r.Get("/project/{project_id}/summary", s.handleProjectSummary)
		r.Get("/health", s.handleHITLHealth)
	})

	r.Get("/events", s.handleEvents)
	r.Get("/events/{project_id}", s.handleEvents)
	r.Get("/audit/events", s.handleAuditEvents)

	return r
}

// respondJSON writes data as a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// errorResponse is the stable, internals-free error body spec.md §7
// requires: a code plus a human-readable message, never a stack trace.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// respondError maps err to a status via statusFor and writes errorResponse.
func respondError(w http.ResponseWriter, err error) {
	code := correrr.CodeOf(err)
	respondJSON(w, statusFor(code), errorResponse{Code: string(code), Message: err.Error()})
}

// statusFor maps a correrr.Code to an HTTP status, per spec.md §7's
// requirement that the HTTP layer convert internal errors into status codes
// without leaking internals.
func statusFor(code correrr.Code) int {
	switch code {
	case correrr.CodeNotFound:
		return http.StatusNotFound
	case correrr.CodeValidation, correrr.CodeMissingInput, correrr.CodeInvalidArtifact:
		return http.StatusBadRequest
	case correrr.CodePolicyViolation:
		return http.StatusForbidden
	case correrr.CodeHalted, correrr.CodeAlreadyTerminal:
		return http.StatusConflict
	case correrr.CodeHITLTimeout:
		return http.StatusRequestTimeout
	case correrr.CodeStorageUnavailable, correrr.CodeQueueFull:
		return http.StatusServiceUnavailable
	case correrr.CodeOrphaned, correrr.CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON decodes r's body into v, responding with a validation error and
// returning false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, correrr.Newf(correrr.CodeValidation, "invalid request body: %v", err))
		return false
	}
	return true
}

// parseSince parses the optional RFC3339 "since" query parameter, defaulting
// to the zero time (meaning "no lower bound" to both Replay and wshub).
func parseSince(r *http.Request) (time.Time, error) {
	v := r.URL.Query().Get("since")
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

// timeFilter is an optional upper time bound for the audit trail's "until"
// query parameter.
type timeFilter struct {
	t   time.Time
	set bool
}

func parseUntil(v string) (timeFilter, error) {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return timeFilter{}, err
	}
	return timeFilter{t: t, set: true}, nil
}
