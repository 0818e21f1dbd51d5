package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/davarch/ci-runner/internal/domain"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// DefaultJobTimeout applies to jobs that do not declare one.
const DefaultJobTimeout = 360 * time.Minute

type JobRequest struct {
	Run        domain.Run
	Job        domain.Job
	Env        domain.Environment
	Repository string
}

// JobProgress applies an update to the job instance being executed.
type JobProgress func(fn func(*domain.JobInstance))

// StepExecutor interprets job steps through handlers keyed by step kind.
type StepExecutor struct {
	log      *zap.Logger
	logs     domain.LogSink
	grace    time.Duration
	handlers map[domain.StepKind]StepHandler
}

func NewStepExecutor(l *zap.Logger, logs domain.LogSink, grace time.Duration) *StepExecutor {
	if grace <= 0 {
		grace = 10 * time.Second
	}
	return &StepExecutor{
		log:      l,
		logs:     logs,
		grace:    grace,
		handlers: make(map[domain.StepKind]StepHandler),
	}
}

func (e *StepExecutor) Register(kind domain.StepKind, h StepHandler) {
	e.handlers[kind] = h
}

// Run executes the steps of req.Job in order and returns the terminal status.
// The job timeout starts when Run is called.
func (e *StepExecutor) Run(ctx context.Context, req JobRequest, progress JobProgress) (domain.JobStatus, string) {
	timeout := req.Job.Timeout
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	jobCtx, cancel := context.WithTimeoutCause(ctx, timeout, domain.ErrJobTimeout)
	defer cancel()

	log := e.log.With(zap.String("run", req.Run.ID), zap.String("job", req.Job.Name))
	vars := e.builtins(req)
	for k, v := range req.Job.Env {
		vars[k] = v
	}

	var (
		cleanups []Cleanup
		status   = domain.JobSucceeded
		reason   string
		stopped  = -1
	)

	for i, step := range req.Job.Steps {
		if jobCtx.Err() != nil {
			status, reason = interrupted(jobCtx)
			stopped = i
			break
		}
		progress(func(j *domain.JobInstance) { j.StepCursor = i })

		stepVars := make(map[string]string, len(vars)+len(step.Env))
		for k, v := range vars {
			stepVars[k] = v
		}
		for k, v := range step.Env {
			stepVars[k] = v
		}

		rec, res, err := e.runStep(jobCtx, req, i, step, stepVars)
		if res.Cleanup != nil {
			cleanups = append(cleanups, res.Cleanup)
		}
		for k, v := range res.Exports {
			vars[k] = v
		}
		progress(func(j *domain.JobInstance) { j.Steps = append(j.Steps, rec) })

		if err == nil {
			continue
		}
		if jobCtx.Err() != nil {
			status, reason = interrupted(jobCtx)
			stopped = i + 1
			break
		}
		if step.ContinueOnError && !step.Kind.IsSetup() {
			log.Warn("step failed, continuing", zap.String("step", step.Label()), zap.Error(err))
			continue
		}
		log.Info("step failed", zap.String("step", step.Label()), zap.Error(err))
		status, reason = domain.JobFailed, err.Error()
		stopped = i + 1
		break
	}

	if stopped >= 0 {
		skipped := make([]domain.StepRecord, 0, len(req.Job.Steps)-stopped)
		for _, step := range req.Job.Steps[stopped:] {
			skipped = append(skipped, domain.StepRecord{Name: step.Label(), Kind: step.Kind, Status: domain.StepSkipped})
		}
		progress(func(j *domain.JobInstance) { j.Steps = append(j.Steps, skipped...) })
	}

	if err := e.cleanup(ctx, cleanups, status); err != nil {
		log.Warn("cleanup failed", zap.Error(err))
	}
	return status, reason
}

func (e *StepExecutor) runStep(ctx context.Context, req JobRequest, i int, step domain.Step, vars map[string]string) (domain.StepRecord, StepResult, error) {
	rec := domain.StepRecord{Name: step.Label(), Kind: step.Kind, Status: domain.StepSucceeded}

	h, ok := e.handlers[step.Kind]
	if !ok {
		err := fmt.Errorf("unknown step kind %q", step.Kind)
		rec.Status, rec.Error = domain.StepFailed, err.Error()
		return rec, StepResult{}, err
	}

	var out io.Writer = io.Discard
	w, path, err := e.logs.Open(req.Run.ID, req.Job.Name, i, step.Label())
	if err != nil {
		e.log.Warn("step log unavailable", zap.String("step", step.Label()), zap.Error(err))
	} else {
		defer func() { _ = w.Close() }()
		out = w
		rec.LogPath = path
	}

	res, err := h.Handle(ctx, StepRequest{Step: step, Env: req.Env, Vars: vars, Output: out})
	if err != nil {
		rec.Status, rec.Error = domain.StepFailed, err.Error()
		var se *domain.StepError
		if errors.As(err, &se) {
			rec.ExitCode = se.ExitCode
		}
	}
	return rec, res, err
}

// cleanup runs in reverse acquisition order on a context detached from the
// job's deadline so services are released on every exit route.
func (e *StepExecutor) cleanup(ctx context.Context, cleanups []Cleanup, outcome domain.JobStatus) error {
	if len(cleanups) == 0 {
		return nil
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*e.grace)
	defer cancel()

	var errs error
	for i := len(cleanups) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, cleanups[i](cctx, outcome))
	}
	return errs
}

func (e *StepExecutor) builtins(req JobRequest) map[string]string {
	return map[string]string{
		"CI":            "true",
		"CI_RUN_ID":     req.Run.ID,
		"CI_WORKFLOW":   req.Run.Workflow,
		"CI_EVENT":      string(req.Run.Event.Type),
		"CI_REF":        req.Run.Ref,
		"CI_COMMIT_SHA": req.Run.Event.CommitSHA,
		"CI_JOB":        req.Job.Name,
		"CI_WORKSPACE":  req.Env.WorkDir,
		"CI_REPOSITORY": req.Repository,
	}
}

func interrupted(ctx context.Context) (domain.JobStatus, string) {
	cause := context.Cause(ctx)
	if errors.Is(cause, domain.ErrJobTimeout) {
		return domain.JobTimedOut, cause.Error()
	}
	if cause == nil {
		cause = ctx.Err()
	}
	return domain.JobCancelled, cause.Error()
}
