package domain

type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCancelled RunStatus = "cancelled"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunCancelled, RunSucceeded, RunFailed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a run may move from s to to.
func (s RunStatus) CanTransition(to RunStatus) bool {
	switch s {
	case RunPending:
		return to == RunRunning || to == RunCancelled
	case RunRunning:
		return to == RunSucceeded || to == RunFailed || to == RunCancelled
	default:
		return false
	}
}

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
	JobTimedOut  JobStatus = "timed_out"
)

func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobCancelled, JobTimedOut:
		return true
	default:
		return false
	}
}

// IsFailure treats TimedOut as a Failed variant.
func (s JobStatus) IsFailure() bool {
	return s == JobFailed || s == JobTimedOut
}

func (s JobStatus) CanTransition(to JobStatus) bool {
	switch s {
	case JobPending:
		return to == JobRunning || to == JobCancelled || to == JobFailed
	case JobRunning:
		return to == JobSucceeded || to == JobFailed || to == JobCancelled || to == JobTimedOut
	default:
		return false
	}
}
