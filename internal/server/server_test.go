package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/cwbudde/badger/internal/routine"
	"github.com/cwbudde/badger/internal/runner"
	"github.com/cwbudde/badger/internal/table"
)

func newTestServer(t *testing.T) (*Server, testDeps) {
	t.Helper()
	m, deps := newTestManager(t)
	return NewServer("127.0.0.1:0", m, deps.index), deps
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func startTestRun(t *testing.T, s *Server, req createRunRequest) runner.Status {
	t.Helper()
	w := doJSON(t, s, http.MethodPost, "/api/v1/runs", req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var status runner.Status
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if status.ID == "" {
		t.Fatal("run ID should not be empty")
	}
	return status
}

func waitForPhase(t *testing.T, s *Server, id string, done func(runner.Phase) bool) runner.Status {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		w := doJSON(t, s, http.MethodGet, "/api/v1/runs/"+id, nil)
		var status runner.Status
		if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
			t.Fatalf("failed to decode status: %v", err)
		}
		if done(status.Phase) {
			return status
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for run phase")
	return runner.Status{}
}

func terminal(p runner.Phase) bool { return p.Terminal() }

func TestServer_Health(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var body map[string]any
	json.NewDecoder(w.Body).Decode(&body)
	if body["status"] != "healthy" || body["version"] != routine.Version {
		t.Errorf("unexpected health response %v", body)
	}
}

func TestServer_CreateRunCompletes(t *testing.T) {
	s, deps := newTestServer(t)

	status := startTestRun(t, s, createRunRequest{
		RoutineYAML: testRoutineYAML("api", 0),
		MaxEval:     3,
		Save:        true,
	})
	if status.Routine != "api" {
		t.Errorf("expected routine name api, got %q", status.Routine)
	}

	final := waitForPhase(t, s, status.ID, terminal)
	if final.Phase != runner.PhaseFinished || final.Outcome != runner.OutcomeCompleted {
		t.Fatalf("expected finished/completed, got %s/%s (%s)", final.Phase, final.Outcome, final.Error)
	}
	if final.Evaluations != 3 {
		t.Errorf("expected 3 evaluations, got %d", final.Evaluations)
	}
	if final.Archive == "" {
		t.Error("saved run should report its archive")
	}

	w := doJSON(t, s, http.MethodGet, "/api/v1/runs/"+status.ID+"/data", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	data := table.New()
	if err := json.NewDecoder(w.Body).Decode(data); err != nil {
		t.Fatalf("failed to decode data: %v", err)
	}
	if data.Len() != 3 {
		t.Errorf("expected 3 rows, got %d", data.Len())
	}

	w = doJSON(t, s, http.MethodGet, "/api/v1/archive", nil)
	var archived []map[string]any
	json.NewDecoder(w.Body).Decode(&archived)
	if len(archived) != 1 {
		t.Errorf("expected 1 archived run, got %d", len(archived))
	}
	if runs, _ := deps.index.ListRuns(context.Background(), ""); len(runs) != 1 {
		t.Errorf("expected 1 indexed run, got %d", len(runs))
	}
}

func TestServer_CreateRunValidation(t *testing.T) {
	s, _ := newTestServer(t)

	badEnv := testRoutineYAML("bad", 0)
	badEnv = string(bytes.Replace([]byte(badEnv), []byte("name: test\n  params"), []byte("name: nowhere\n  params"), 1))

	tests := []struct {
		name string
		body createRunRequest
		code int
	}{
		{"missing routine", createRunRequest{}, http.StatusBadRequest},
		{"both sources", createRunRequest{RoutineYAML: testRoutineYAML("x", 0), RoutineID: "x"}, http.StatusBadRequest},
		{"malformed yaml", createRunRequest{RoutineYAML: "name: [unclosed"}, http.StatusBadRequest},
		{"unknown environment", createRunRequest{RoutineYAML: badEnv}, http.StatusBadRequest},
		{"unknown saved routine", createRunRequest{RoutineID: "ghost"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, s, http.MethodPost, "/api/v1/runs", tt.body)
			if w.Code != tt.code {
				t.Errorf("expected status %d, got %d: %s", tt.code, w.Code, w.Body.String())
			}
		})
	}

	if len(s.manager.ListRuns()) != 0 {
		t.Error("rejected requests should not create runs")
	}
}

func TestServer_CreateRunFromSavedRoutine(t *testing.T) {
	s, deps := newTestServer(t)

	doc := testDocument(t, "saved", 0)
	doc.ID = "saved-id"
	if err := deps.index.SaveRoutine(context.Background(), &doc); err != nil {
		t.Fatalf("SaveRoutine failed: %v", err)
	}

	status := startTestRun(t, s, createRunRequest{RoutineID: "saved", MaxEval: 2})
	final := waitForPhase(t, s, status.ID, terminal)
	if final.Outcome != runner.OutcomeCompleted || final.Evaluations != 2 {
		t.Errorf("unexpected final status %+v", final)
	}

	run, _ := s.manager.GetRun(status.ID)
	if run.RoutineID != "saved-id" {
		t.Errorf("expected routine id saved-id, got %s", run.RoutineID)
	}

	w := doJSON(t, s, http.MethodGet, "/api/v1/routines?environment=test", nil)
	var routines []map[string]any
	json.NewDecoder(w.Body).Decode(&routines)
	if len(routines) != 1 || routines[0]["name"] != "saved" {
		t.Errorf("unexpected routines %v", routines)
	}
}

func TestServer_PauseResumeStop(t *testing.T) {
	s, _ := newTestServer(t)
	status := startTestRun(t, s, createRunRequest{RoutineYAML: testRoutineYAML("controls", 0.02)})
	path := "/api/v1/runs/" + status.ID

	if w := doJSON(t, s, http.MethodPost, path+"/pause", nil); w.Code != http.StatusOK {
		t.Fatalf("pause: expected 200, got %d", w.Code)
	}
	waitForPhase(t, s, status.ID, func(p runner.Phase) bool { return p == runner.PhasePaused })

	if w := doJSON(t, s, http.MethodPost, path+"/resume", nil); w.Code != http.StatusOK {
		t.Fatalf("resume: expected 200, got %d", w.Code)
	}
	waitForPhase(t, s, status.ID, func(p runner.Phase) bool { return p == runner.PhaseRunning })

	if w := doJSON(t, s, http.MethodPost, path+"/stop", nil); w.Code != http.StatusOK {
		t.Fatalf("stop: expected 200, got %d", w.Code)
	}
	final := waitForPhase(t, s, status.ID, terminal)
	if final.Outcome != runner.OutcomeTerminated {
		t.Errorf("expected terminated outcome, got %s", final.Outcome)
	}

	// controls on a finished run conflict
	if w := doJSON(t, s, http.MethodPost, path+"/pause", nil); w.Code != http.StatusConflict {
		t.Errorf("pause after finish: expected 409, got %d", w.Code)
	}
}

func TestServer_UnknownRun(t *testing.T) {
	s, _ := newTestServer(t)

	for _, path := range []string{
		"/api/v1/runs/nonexistent",
		"/api/v1/runs/nonexistent/data",
		"/api/v1/runs/nonexistent/stream",
	} {
		if w := doJSON(t, s, http.MethodGet, path, nil); w.Code != http.StatusNotFound {
			t.Errorf("GET %s: expected 404, got %d", path, w.Code)
		}
	}
	if w := doJSON(t, s, http.MethodPost, "/api/v1/runs/nonexistent/stop", nil); w.Code != http.StatusNotFound {
		t.Errorf("stop: expected 404, got %d", w.Code)
	}
}

func TestServer_ListRuns(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/api/v1/runs", nil)
	var runs []runner.Status
	json.NewDecoder(w.Body).Decode(&runs)
	if len(runs) != 0 {
		t.Fatalf("expected no runs, got %d", len(runs))
	}

	a := startTestRun(t, s, createRunRequest{RoutineYAML: testRoutineYAML("a", 0), MaxEval: 1})
	b := startTestRun(t, s, createRunRequest{RoutineYAML: testRoutineYAML("b", 0), MaxEval: 1})

	w = doJSON(t, s, http.MethodGet, "/api/v1/runs", nil)
	json.NewDecoder(w.Body).Decode(&runs)
	if len(runs) != 2 || runs[0].ID != a.ID || runs[1].ID != b.ID {
		t.Errorf("unexpected run list %+v", runs)
	}
}

func TestServer_Registries(t *testing.T) {
	s, _ := newTestServer(t)

	for path, want := range map[string]string{
		"/api/v1/environments": "sphere_2d",
		"/api/v1/generators":   "random",
	} {
		w := doJSON(t, s, http.MethodGet, path, nil)
		var names []string
		if err := json.NewDecoder(w.Body).Decode(&names); err != nil {
			t.Fatalf("%s: failed to decode: %v", path, err)
		}
		if !slices.Contains(names, want) {
			t.Errorf("%s: expected %s in %v", path, want, names)
		}
	}
}

func TestServer_CORSHeaders(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://example.com")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("CORS header should allow any origin")
	}
}
