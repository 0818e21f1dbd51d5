package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/davarch/ci-runner/internal/domain"
)

func pendingRun(id, key string) domain.Run {
	return domain.Run{
		ID:             id,
		ConcurrencyKey: key,
		Status:         domain.RunPending,
		Jobs:           []domain.JobInstance{{Job: "fmt", Status: domain.JobPending}},
		CreatedAt:      time.Now(),
	}
}

func TestConcurrencyKey_Distinct(t *testing.T) {
	if ConcurrencyKey("ci", "main") != ConcurrencyKey("ci", "main") {
		t.Error("key must be deterministic")
	}
	if ConcurrencyKey("ci-a", "b") == ConcurrencyKey("ci", "a-b") {
		t.Error("keys must not collide on separator")
	}
}

func TestAdmitted_SupersedesRunningHolder(t *testing.T) {
	c := NewConcurrencyController()

	run1 := newRunHandle(context.Background(), pendingRun("run1", "wf-main"), nil)
	if prev := c.Admitted(run1); prev != nil {
		t.Fatalf("unexpected previous holder %s", prev.ID())
	}
	run1.transition(domain.RunRunning)

	run2 := newRunHandle(context.Background(), pendingRun("run2", "wf-main"), nil)
	prev := c.Admitted(run2)
	if prev != run1 {
		t.Fatalf("expected run1 to be superseded")
	}
	if run1.Status() != domain.RunCancelled {
		t.Errorf("expected run1 cancelled, got %s", run1.Status())
	}
	if !errors.Is(context.Cause(run1.ctx), domain.ErrSuperseded) {
		t.Errorf("expected superseded cause, got %v", context.Cause(run1.ctx))
	}
	if run2.Status() != domain.RunPending || run2.ctx.Err() != nil {
		t.Error("new run must be untouched")
	}

	holder, ok := c.Holder("wf-main")
	if !ok || holder.ID != "run2" {
		t.Errorf("expected run2 as holder, got %+v", holder)
	}
}

func TestAdmitted_TerminalHolderNotCancelled(t *testing.T) {
	c := NewConcurrencyController()
	run1 := newRunHandle(context.Background(), pendingRun("run1", "k"), nil)
	c.Admitted(run1)
	run1.transition(domain.RunRunning)
	run1.transition(domain.RunSucceeded)

	if prev := c.Admitted(newRunHandle(context.Background(), pendingRun("run2", "k"), nil)); prev != nil {
		t.Error("finished run must not be superseded")
	}
	if run1.Status() != domain.RunSucceeded {
		t.Errorf("expected succeeded to stay, got %s", run1.Status())
	}
}

func TestAdmitted_DifferentKeysIndependent(t *testing.T) {
	c := NewConcurrencyController()
	a := newRunHandle(context.Background(), pendingRun("a", "main"), nil)
	b := newRunHandle(context.Background(), pendingRun("b", "feature"), nil)
	c.Admitted(a)
	if prev := c.Admitted(b); prev != nil {
		t.Error("runs on different keys must not cancel each other")
	}
	if a.Status() != domain.RunPending {
		t.Errorf("expected a pending, got %s", a.Status())
	}
}

func TestRehydrate_CancelsOrphans(t *testing.T) {
	c := NewConcurrencyController()
	old := pendingRun("old", "k")
	old.Status = domain.RunSucceeded
	old.CreatedAt = time.Now().Add(-time.Hour)

	orphan := pendingRun("orphan", "k")
	orphan.Status = domain.RunRunning
	orphan.Jobs[0].Status = domain.JobRunning

	cancelled := c.Rehydrate([]domain.Run{orphan, old})
	if len(cancelled) != 1 || cancelled[0].ID != "orphan" {
		t.Fatalf("expected orphan to be cancelled, got %+v", cancelled)
	}
	if cancelled[0].Status != domain.RunCancelled || cancelled[0].Jobs[0].Status != domain.JobCancelled {
		t.Errorf("unexpected statuses %s/%s", cancelled[0].Status, cancelled[0].Jobs[0].Status)
	}
	if orphan.Jobs[0].Status != domain.JobRunning {
		t.Error("history slice must not be mutated")
	}

	holder, _ := c.Holder("k")
	if holder.ID != "orphan" {
		t.Errorf("expected latest run as holder, got %s", holder.ID)
	}
}
