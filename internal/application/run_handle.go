package application

import (
	"context"
	"sync"
	"time"

	"github.com/davarch/ci-runner/internal/domain"
)

// RunHandle owns the mutable status record of one run. Every read-modify-write
// of the run or its job instances goes through mu.
type RunHandle struct {
	mu   sync.Mutex
	run  domain.Run
	jobs []domain.Job

	saveMu sync.Mutex

	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}

	now func() time.Time
}

func newRunHandle(parent context.Context, run domain.Run, jobs []domain.Job) *RunHandle {
	ctx, cancel := context.WithCancelCause(parent)
	return &RunHandle{
		run:    run,
		jobs:   jobs,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		now:    time.Now,
	}
}

// closedHandle wraps a persisted run that no goroutine executes anymore.
func closedHandle(run domain.Run) *RunHandle {
	h := newRunHandle(context.Background(), run, nil)
	h.cancel(nil)
	close(h.done)
	return h
}

func (h *RunHandle) ID() string { return h.run.ID }

func (h *RunHandle) Snapshot() domain.Run {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.run.Clone()
}

func (h *RunHandle) Status() domain.RunStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.run.Status
}

func (h *RunHandle) Done() <-chan struct{} { return h.done }

// Wait blocks until the run is terminal or ctx is done.
func (h *RunHandle) Wait(ctx context.Context) (domain.Run, error) {
	select {
	case <-h.done:
		return h.Snapshot(), nil
	case <-ctx.Done():
		return h.Snapshot(), ctx.Err()
	}
}

func (h *RunHandle) transition(to domain.RunStatus) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transitionLocked(to)
}

func (h *RunHandle) transitionLocked(to domain.RunStatus) bool {
	if !h.run.Status.CanTransition(to) {
		return false
	}
	h.run.Status = to
	switch {
	case to == domain.RunRunning:
		h.run.StartedAt = h.now()
	case to.IsTerminal():
		h.run.EndedAt = h.now()
	}
	return true
}

// supersede marks a non-terminal run Cancelled and signals its jobs.
func (h *RunHandle) supersede() bool {
	h.mu.Lock()
	ok := h.transitionLocked(domain.RunCancelled)
	h.mu.Unlock()
	if ok {
		h.cancel(domain.ErrSuperseded)
	}
	return ok
}

func (h *RunHandle) job(i int) domain.JobInstance {
	h.mu.Lock()
	defer h.mu.Unlock()
	j := h.run.Jobs[i]
	j.Steps = append([]domain.StepRecord(nil), j.Steps...)
	return j
}

func (h *RunHandle) updateJob(i int, fn func(*domain.JobInstance)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(&h.run.Jobs[i])
}

// setJobStatus applies a validated transition and stamps the timestamps.
func (h *RunHandle) setJobStatus(i int, to domain.JobStatus, reason string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	j := &h.run.Jobs[i]
	if !j.Status.CanTransition(to) {
		return false
	}
	j.Status = to
	if reason != "" {
		j.Reason = reason
	}
	switch {
	case to == domain.JobRunning:
		j.StartedAt = h.now()
	case to.IsTerminal():
		j.EndedAt = h.now()
	}
	return true
}
