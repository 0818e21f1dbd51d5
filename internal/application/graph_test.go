package application

import (
	"context"
	"testing"
	"time"

	"github.com/davarch/ci-runner/internal/domain"
	"go.uber.org/zap"
)

// busyProvisioner never has a free environment.
type busyProvisioner struct{}

func (busyProvisioner) Acquire(ctx context.Context, tag string) (domain.Environment, error) {
	<-ctx.Done()
	return domain.Environment{}, ctx.Err()
}

func (busyProvisioner) Release(domain.Environment) {}

func handleFor(jobs []domain.Job) *RunHandle {
	run := domain.Run{ID: "r", ConcurrencyKey: "k", Status: domain.RunRunning, Jobs: make([]domain.JobInstance, len(jobs))}
	for i, j := range jobs {
		run.Jobs[i] = domain.JobInstance{Job: j.Name, Status: domain.JobPending}
	}
	return newRunHandle(context.Background(), run, jobs)
}

func TestSchedule_ProvisioningWaitIsBounded(t *testing.T) {
	f := newFixture()
	g := NewJobGraph(zap.NewNop(), busyProvisioner{}, f.exec, 20*time.Millisecond, "")
	h := handleFor(testJobs("fmt", "clippy"))

	g.Schedule(h)

	for _, j := range h.Snapshot().Jobs {
		if j.Status != domain.JobFailed || j.Reason != "EnvironmentUnavailable: ubuntu-latest" {
			t.Errorf("job %s: %s %q", j.Job, j.Status, j.Reason)
		}
	}
	if len(f.runner.Ran()) != 0 {
		t.Errorf("no step may run without an environment, ran %v", f.runner.Ran())
	}
}

func TestSchedule_CancelledBeforeStart(t *testing.T) {
	f := newFixture()
	prov := &domain.MockProvisioner{}
	g := NewJobGraph(zap.NewNop(), prov, f.exec, time.Second, "")
	h := handleFor(testJobs("fmt", "clippy"))
	h.supersede()

	g.Schedule(h)

	for _, j := range h.Snapshot().Jobs {
		if j.Status != domain.JobCancelled {
			t.Errorf("job %s: expected cancelled, got %s", j.Job, j.Status)
		}
	}
	if prov.Acquired != 0 {
		t.Errorf("expected no environment to be provisioned, got %d", prov.Acquired)
	}
}

func TestSchedule_ObservesEveryJob(t *testing.T) {
	f := newFixture()
	g := NewJobGraph(zap.NewNop(), &domain.MockProvisioner{}, f.exec, time.Second, "")
	seen := make(chan string, 3)
	g.observe = func(_ *RunHandle, j domain.JobInstance) {
		if !j.Status.IsTerminal() {
			t.Errorf("observed non-terminal job %s", j.Job)
		}
		seen <- j.Job
	}

	g.Schedule(handleFor(testJobs("a", "b", "c")))
	close(seen)

	n := 0
	for range seen {
		n++
	}
	if n != 3 {
		t.Errorf("expected 3 observations, got %d", n)
	}
}
