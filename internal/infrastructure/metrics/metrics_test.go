package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/davarch/ci-runner/internal/domain"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheus_Counters(t *testing.T) {
	p := New()
	p.EventAdmitted(domain.EventPush)
	p.EventAdmitted(domain.EventPush)
	p.EventRejected(domain.EventPullRequest)
	p.RunSuperseded()
	p.RunFinished(domain.RunFailed)
	p.JobFinished("fmt", domain.JobFailed, 2*time.Second)
	p.JobFinished("clippy", domain.JobCancelled, 0)

	if got := testutil.ToFloat64(p.events.WithLabelValues("push", "admitted")); got != 2 {
		t.Errorf("admitted = %v", got)
	}
	if got := testutil.ToFloat64(p.events.WithLabelValues("pull_request", "rejected")); got != 1 {
		t.Errorf("rejected = %v", got)
	}
	if got := testutil.ToFloat64(p.superseded); got != 1 {
		t.Errorf("superseded = %v", got)
	}
	if got := testutil.ToFloat64(p.runs.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed runs = %v", got)
	}
	if got := testutil.CollectAndCount(p.jobDuration); got != 1 {
		t.Errorf("expected one duration series, got %d", got)
	}
}

func TestPrometheus_Handler(t *testing.T) {
	p := New()
	p.RunFinished(domain.RunSucceeded)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `ci_runs_finished_total{status="succeeded"} 1`) {
		t.Fatalf("metric missing from output:\n%s", body)
	}
}

func TestPrometheus_UnknownEventTypesShareOneLabel(t *testing.T) {
	p := New()
	for _, typ := range []string{"tag", "release", "x-1", "x-2"} {
		p.EventRejected(domain.EventType(typ))
	}
	p.EventRejected(domain.EventPush)

	if got := testutil.ToFloat64(p.events.WithLabelValues("other", "rejected")); got != 4 {
		t.Errorf("expected 4 other rejections, got %v", got)
	}
	if got := testutil.CollectAndCount(p.events); got != 2 {
		t.Errorf("expected 2 series, got %d", got)
	}
}
