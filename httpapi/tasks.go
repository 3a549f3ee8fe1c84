package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/geniusboywonder/bmad-core/correrr"
	"github.com/geniusboywonder/bmad-core/domain"
)

// submitTaskRequest is the body of POST /projects/{id}/tasks.
type submitTaskRequest struct {
	StepID       string   `json:"step_id"`
	AgentType    string   `json:"agent_type"`
	Instructions string   `json:"instructions"`
	ContextIDs   []string `json:"context_ids"`
}

type submitTaskResponse struct {
	TaskID string `json:"task_id"`
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")

	var req submitTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.AgentType == "" {
		respondError(w, correrr.New(correrr.CodeMissingInput, "agent_type is required"))
		return
	}

	taskID, err := s.Tasks.Submit(r.Context(), domain.Task{
		ProjectID:    projectID,
		StepID:       req.StepID,
		AgentType:    req.AgentType,
		Instructions: req.Instructions,
		ContextIDs:   req.ContextIDs,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, submitTaskResponse{TaskID: taskID})
}

// taskResponse is the API projection of domain.Task for status listings.
type taskResponse struct {
	ID           string   `json:"id"`
	StepID       string   `json:"step_id"`
	AgentType    string   `json:"agent_type"`
	Status       string   `json:"status"`
	AttemptCount int      `json:"attempt_count"`
	Error        string   `json:"error,omitempty"`
	Output       []string `json:"output,omitempty"`
}

func toTaskResponse(t domain.Task) taskResponse {
	return taskResponse{
		ID:           t.ID,
		StepID:       t.StepID,
		AgentType:    t.AgentType,
		Status:       string(t.Status),
		AttemptCount: t.AttemptCount,
		Error:        t.Error,
		Output:       t.Output,
	}
}

// allTaskStatuses enumerates every domain.TaskStatus, used to emulate a
// list-all-tasks-for-project query since scheduler.TaskStore only exposes a
// status-filtered listing.
var allTaskStatuses = []domain.TaskStatus{
	domain.TaskPending,
	domain.TaskWorking,
	domain.TaskWaitingForHITL,
	domain.TaskCompleted,
	domain.TaskFailed,
	domain.TaskCancelled,
}

// projectStatusResponse is the body of GET /projects/{id}/status.
type projectStatusResponse struct {
	ProjectID    string         `json:"project_id"`
	Status       string         `json:"status"`
	CurrentPhase string         `json:"current_phase"`
	Run          *runResponse   `json:"run,omitempty"`
	Tasks        []taskResponse `json:"tasks"`
}

type runResponse struct {
	ID               string `json:"id"`
	DefinitionID     string `json:"definition_id"`
	Status           string `json:"status"`
	CurrentStepIndex int    `json:"current_step_index"`
}

func (s *Server) handleProjectStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := chi.URLParam(r, "project_id")

	project, err := s.Projects.Get(ctx, projectID)
	if err != nil {
		respondError(w, err)
		return
	}

	tasks, err := s.TaskReader.ListByStatusInProject(ctx, projectID, allTaskStatuses...)
	if err != nil {
		respondError(w, err)
		return
	}
	taskResponses := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		taskResponses = append(taskResponses, toTaskResponse(t))
	}

	resp := projectStatusResponse{
		ProjectID:    project.ID,
		Status:       string(project.Status),
		CurrentPhase: project.CurrentPhase,
		Tasks:        taskResponses,
	}
	if run, err := s.Runs.GetForProject(ctx, projectID); err == nil {
		resp.Run = &runResponse{
			ID:               run.ID,
			DefinitionID:     run.DefinitionID,
			Status:           string(run.Status),
			CurrentStepIndex: run.CurrentStepIndex,
		}
	} else if correrr.CodeOf(err) != correrr.CodeNotFound {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

type startWorkflowRequest struct {
	ProjectName string `json:"project_name"`
}

type startWorkflowResponse struct {
	RunID string `json:"run_id"`
}

func (s *Server) handleStartWorkflow(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	defID := chi.URLParam(r, "def_id")

	var req startWorkflowRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}

	runID, err := s.Workflow.StartRun(r.Context(), projectID, req.ProjectName, defID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, startWorkflowResponse{RunID: runID})
}
