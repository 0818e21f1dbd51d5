package domain

import (
	"context"
	"io"
	"time"
)

// CommandRunner runs a shell script and reports its exit code. A non-nil error
// means the process could not be run at all.
type CommandRunner interface {
	Run(ctx context.Context, cmd Command, out io.Writer) (int, error)
}

type Provisioner interface {
	Acquire(ctx context.Context, tag string) (Environment, error)
	Release(env Environment)
}

// Service is a started external service. Stop must be safe to call after Start
// returned it, regardless of the job outcome.
type Service interface {
	Endpoint() string
	LogPath() string
	Stop(ctx context.Context) error
}

// ServiceLauncher starts a service and blocks until it signals readiness.
type ServiceLauncher interface {
	Start(ctx context.Context, spec ServiceSpec) (Service, error)
}

type StepCache interface {
	Restore(ctx context.Context, key string, paths []string, workDir string) (bool, error)
	Save(ctx context.Context, key string, paths []string, workDir string) error
}

type LogSink interface {
	Open(runID, job string, index int, step string) (io.WriteCloser, string, error)
}

type RunStore interface {
	Save(ctx context.Context, run Run) error
	Get(ctx context.Context, id string) (Run, error)
	List(ctx context.Context) ([]Run, error)
}

// StoreLocker grants one process ownership of a run store. Lock fails with
// ErrStoreLocked while another owner holds it.
type StoreLocker interface {
	Lock() (unlock func() error, err error)
}

type StatusCache interface {
	Write(ctx context.Context, s Snapshot) error
}

type Notifier interface {
	Notify(ctx context.Context, title, body, url string) error
}

// StatusReporter publishes the run verdict to the hosting platform.
type StatusReporter interface {
	Report(ctx context.Context, run Run) error
}

type Metrics interface {
	EventAdmitted(t EventType)
	EventRejected(t EventType)
	RunSuperseded()
	RunFinished(status RunStatus)
	JobFinished(job string, status JobStatus, d time.Duration)
}
