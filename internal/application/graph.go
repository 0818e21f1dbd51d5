package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/davarch/ci-runner/internal/domain"
	"go.uber.org/zap"
)

// JobGraph launches every job of a run at once. Jobs have no dependencies on
// each other, so a failure in one never short-circuits its siblings.
type JobGraph struct {
	log        *zap.Logger
	prov       domain.Provisioner
	exec       *StepExecutor
	wait       time.Duration
	repository string

	// observe is called after each job reaches a terminal state.
	observe func(h *RunHandle, job domain.JobInstance)
}

func NewJobGraph(l *zap.Logger, prov domain.Provisioner, exec *StepExecutor, provisionWait time.Duration, repository string) *JobGraph {
	if provisionWait <= 0 {
		provisionWait = 2 * time.Minute
	}
	return &JobGraph{
		log:        l,
		prov:       prov,
		exec:       exec,
		wait:       provisionWait,
		repository: repository,
		observe:    func(*RunHandle, domain.JobInstance) {},
	}
}

// Schedule runs all jobs of h concurrently and returns once each is terminal.
func (g *JobGraph) Schedule(h *RunHandle) {
	var wg sync.WaitGroup
	for i, job := range h.jobs {
		i, job := i, job
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.runJob(h, i, job)
			g.observe(h, h.job(i))
		}()
	}
	wg.Wait()
}

func (g *JobGraph) runJob(h *RunHandle, i int, job domain.Job) {
	log := g.log.With(zap.String("run", h.ID()), zap.String("job", job.Name))

	if err := h.ctx.Err(); err != nil {
		h.setJobStatus(i, domain.JobCancelled, causeText(h.ctx))
		return
	}
	h.setJobStatus(i, domain.JobRunning, "")

	actx, cancel := context.WithTimeout(h.ctx, g.wait)
	env, err := g.prov.Acquire(actx, job.RunsOn)
	cancel()
	if err != nil {
		if h.ctx.Err() != nil {
			h.setJobStatus(i, domain.JobCancelled, causeText(h.ctx))
			return
		}
		if !errors.Is(err, domain.ErrEnvironmentUnavailable) {
			err = errors.Join(domain.ErrEnvironmentUnavailable, err)
		}
		log.Warn("environment unavailable", zap.String("runs_on", job.RunsOn), zap.Error(err))
		h.setJobStatus(i, domain.JobFailed, "EnvironmentUnavailable: "+job.RunsOn)
		return
	}
	defer g.prov.Release(env)
	h.updateJob(i, func(j *domain.JobInstance) { j.Environment = env.ID })

	log.Info("job started", zap.String("environment", env.ID))
	status, reason := g.exec.Run(h.ctx, JobRequest{
		Run:        h.Snapshot(),
		Job:        job,
		Env:        env,
		Repository: g.repository,
	}, func(fn func(*domain.JobInstance)) { h.updateJob(i, fn) })

	h.setJobStatus(i, status, reason)
	log.Info("job finished", zap.String("status", string(status)))
}

func causeText(ctx context.Context) string {
	if c := context.Cause(ctx); c != nil {
		return c.Error()
	}
	return "cancelled"
}
