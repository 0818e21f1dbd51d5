package domain

import (
	"errors"
	"fmt"
)

var (
	ErrRejectedEvent          = errors.New("event rejected by branch filter")
	ErrPaused                 = errors.New("admission paused")
	ErrEnvironmentUnavailable = errors.New("environment unavailable")
	ErrStepFailed             = errors.New("step failed")
	ErrJobTimeout             = errors.New("job timed out")
	ErrSuperseded             = errors.New("run superseded")
	ErrRunNotFound            = errors.New("run not found")
	ErrStoreLocked            = errors.New("run store in use by another process")
)

// StepError carries the exit code of a failed command.
type StepError struct {
	Step     string
	ExitCode int
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q exited with code %d", e.Step, e.ExitCode)
}

func (e *StepError) Unwrap() error { return ErrStepFailed }
