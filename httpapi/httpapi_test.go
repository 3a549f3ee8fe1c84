package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/geniusboywonder/bmad-core/agentexecutor/noop"
	contextstoreinmem "github.com/geniusboywonder/bmad-core/contextstore/inmem"
	"github.com/geniusboywonder/bmad-core/domain"
	"github.com/geniusboywonder/bmad-core/eventfabric"
	"github.com/geniusboywonder/bmad-core/eventfabric/wshub"
	"github.com/geniusboywonder/bmad-core/hitl"
	hitlinmem "github.com/geniusboywonder/bmad-core/hitl/inmem"
	"github.com/geniusboywonder/bmad-core/httpapi"
	"github.com/geniusboywonder/bmad-core/scheduler"
	schedulerinmem "github.com/geniusboywonder/bmad-core/scheduler/inmem"
	workflowinmem "github.com/geniusboywonder/bmad-core/workflow/inmem"
)

type fixture struct {
	server    *httptest.Server
	scheduler *scheduler.Scheduler
	tasks     *schedulerinmem.TaskStore
	gate      *hitl.Gate
	approvals *hitlinmem.ApprovalStore
	counters  *hitlinmem.CounterStore
	stops     *hitlinmem.StopStore
	events    *eventfabric.Bus
	projects  *workflowinmem.ProjectStore
	projectID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	events := eventfabric.NewBus()
	tasks := schedulerinmem.NewTaskStore()
	queue := schedulerinmem.NewQueue()
	artifacts := contextstoreinmem.New(nil)
	executor := noop.New("build_output")
	sched := scheduler.New(tasks, queue, artifacts, executor, events)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sched.Run(ctx)

	approvals := hitlinmem.NewApprovalStore()
	counters := hitlinmem.NewCounterStore()
	stops := hitlinmem.NewStopStore()
	gate := hitl.NewGate(approvals, counters, stops, events, hitl.WithTaskCanceller(sched))

	projects := workflowinmem.NewProjectStore()
	projectID, err := projects.Create(ctx, domain.Project{Name: "demo", Status: domain.ProjectActive, CurrentPhase: "planning"})
	require.NoError(t, err)

	hub := wshub.New(wshub.Options{Fabric: events})

	runs := workflowinmem.NewRunStore()
	srv := httpapi.New(httpapi.Server{
		Tasks:      sched,
		TaskReader: tasks,
		Projects:   projects,
		Runs:       runs,
		Workflow:   noStartWorkflow{},
		Gate:       gate,
		Approvals:  approvals,
		Counters:   counters,
		Stops:      stops,
		Events:     events,
		Hub:        hub,
	})

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)

	return &fixture{
		server:    ts,
		scheduler: sched,
		tasks:     tasks,
		gate:      gate,
		approvals: approvals,
		counters:  counters,
		stops:     stops,
		events:    events,
		projects:  projects,
		projectID: projectID,
	}
}

// noStartWorkflow satisfies httpapi.WorkflowStarter for fixtures that don't
// exercise the workflow-start endpoint.
type noStartWorkflow struct{}

func (noStartWorkflow) StartRun(_ context.Context, _, _, _ string) (string, error) {
	return "", nil
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestSubmitTaskAndStatus(t *testing.T) {
	f := newFixture(t)
	projectID := f.projectID

	resp, body := doJSON(t, http.MethodPost, f.server.URL+"/projects/"+projectID+"/tasks", map[string]any{
		"agent_type":   "coder",
		"instructions": "build the thing",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, body["task_id"])

	statusResp, statusBody := doJSON(t, http.MethodGet, f.server.URL+"/projects/"+projectID+"/status", nil)
	require.Equal(t, http.StatusOK, statusResp.StatusCode)
	tasks, ok := statusBody["tasks"].([]any)
	require.True(t, ok)
	require.Len(t, tasks, 1)
}

func TestHITLRequestAndApprove(t *testing.T) {
	f := newFixture(t)
	projectID := f.projectID

	resp, body := doJSON(t, http.MethodPost, f.server.URL+"/hitl/request-approval", map[string]any{
		"project_id": projectID,
		"task_id":    "task-1",
		"agent_type": "coder",
		"kind":       "phase_gate",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	approvalID, _ := body["approval_id"].(string)
	require.NotEmpty(t, approvalID)

	pendingResp, pendingBody := doJSON(t, http.MethodGet, f.server.URL+"/hitl/pending?project_id="+projectID, nil)
	require.Equal(t, http.StatusOK, pendingResp.StatusCode)
	_ = pendingBody

	approveResp, approveBody := doJSON(t, http.MethodPost, f.server.URL+"/hitl/approve/"+approvalID, map[string]any{
		"action": "approve",
	})
	require.Equal(t, http.StatusOK, approveResp.StatusCode)
	require.Equal(t, "approved", approveBody["status"])
}

func TestEmergencyStopActivateAndClear(t *testing.T) {
	f := newFixture(t)

	resp, body := doJSON(t, http.MethodPost, f.server.URL+"/hitl/emergency-stop", map[string]any{
		"scope":  "global",
		"reason": "incident",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	stopID, _ := body["id"].(string)
	require.NotEmpty(t, stopID)

	healthResp, healthBody := doJSON(t, http.MethodGet, f.server.URL+"/hitl/health", nil)
	require.Equal(t, http.StatusOK, healthResp.StatusCode)
	require.Equal(t, true, healthBody["global_stop_active"])

	clearResp, _ := doJSON(t, http.MethodDelete, f.server.URL+"/hitl/emergency-stop/"+stopID, nil)
	require.Equal(t, http.StatusOK, clearResp.StatusCode)
}

func TestUnknownApprovalReturnsNotFound(t *testing.T) {
	f := newFixture(t)
	resp, body := doJSON(t, http.MethodGet, f.server.URL+"/hitl/status/does-not-exist", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "not_found", body["code"])
}
