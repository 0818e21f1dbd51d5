package application

import "github.com/davarch/ci-runner/internal/domain"

// Aggregate derives the run verdict from its job instances.
func Aggregate(jobs []domain.JobInstance) domain.RunStatus {
	cancelled := false
	for _, j := range jobs {
		switch {
		case j.Status.IsFailure():
			return domain.RunFailed
		case j.Status != domain.JobSucceeded:
			cancelled = true
		}
	}
	if cancelled {
		return domain.RunCancelled
	}
	return domain.RunSucceeded
}

// Finalize sets the terminal status of h. A run already Cancelled or Failed
// keeps its status.
func Finalize(h *RunHandle) domain.RunStatus {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.run.Status.IsTerminal() {
		return h.run.Status
	}
	if h.run.Status == domain.RunPending {
		h.transitionLocked(domain.RunRunning)
	}
	h.transitionLocked(Aggregate(h.run.Jobs))
	return h.run.Status
}
