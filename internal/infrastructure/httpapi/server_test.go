package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/davarch/ci-runner/internal/application"
	"github.com/davarch/ci-runner/internal/domain"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) (*httptest.Server, *application.Orchestrator) {
	t.Helper()
	exec := application.NewStepExecutor(zap.NewNop(), domain.MockLogSink{}, 50*time.Millisecond)
	application.RegisterBuiltins(exec, &domain.MockRunner{}, &domain.MockStepCache{}, &domain.MockLauncher{})

	jobs := []domain.Job{
		{Name: "fmt", RunsOn: "ubuntu-latest", Steps: []domain.Step{{Kind: domain.StepRunCommand, Run: "cargo fmt --check"}}},
		{Name: "clippy", RunsOn: "ubuntu-latest", Steps: []domain.Step{{Kind: domain.StepRunCommand, Run: "cargo clippy"}}},
	}
	orch := application.NewOrchestrator(zap.NewNop(), application.Deps{
		Trigger: application.NewTriggerEvaluator("ci", []string{"main"}, nil, ""),
		Graph:   application.NewJobGraph(zap.NewNop(), &domain.MockProvisioner{}, exec, time.Second, "/src"),
		Store:   &domain.MockStore{},
	}, jobs)

	srv := httptest.NewServer(New(context.Background(), zap.NewNop(), orch, http.NotFoundHandler()).Routes())
	t.Cleanup(srv.Close)
	return srv, orch
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestEvents_AdmitAndFetch(t *testing.T) {
	srv, orch := newTestServer(t)

	resp := post(t, srv.URL+"/events", `{"type":"push","target_ref":"refs/heads/main","commit_sha":"abc"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var run domain.Run
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		t.Fatal(err)
	}
	if resp.Header.Get("Location") != "/runs/"+run.ID || len(run.Jobs) != 2 {
		t.Fatalf("unexpected response %+v location=%s", run, resp.Header.Get("Location"))
	}

	orch.Wait()

	get, err := http.Get(srv.URL + "/runs/" + run.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = get.Body.Close() }()
	var got domain.Run
	if err := json.NewDecoder(get.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.RunSucceeded {
		t.Fatalf("expected succeeded, got %s", got.Status)
	}

	list, err := http.Get(srv.URL + "/runs/?limit=5")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = list.Body.Close() }()
	var runs []domain.Run
	if err := json.NewDecoder(list.Body).Decode(&runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != run.ID {
		t.Fatalf("unexpected run list %+v", runs)
	}
}

func TestEvents_Rejected(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := post(t, srv.URL+"/events", `{"type":"push","target_ref":"refs/heads/feature","commit_sha":"abc"}`)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}

	resp = post(t, srv.URL+"/events", `{"type":"push","bogus":1}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestRuns_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/runs/missing")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestJobsAndHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/jobs")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var jobs []domain.Job
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil || len(jobs) != 2 {
		t.Fatalf("unexpected jobs %v err=%v", jobs, err)
	}

	health, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = health.Body.Close() }()
	if health.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", health.StatusCode)
	}
}
