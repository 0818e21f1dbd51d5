package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/davarch/ci-runner/internal/domain"
	"go.uber.org/zap"
)

type Deps struct {
	Trigger  *TriggerEvaluator
	Groups   *ConcurrencyController
	Graph    *JobGraph
	Store    domain.RunStore
	Lock     domain.StoreLocker
	Cache    domain.StatusCache
	Notifier domain.Notifier
	Reporter domain.StatusReporter
	Metrics  domain.Metrics
}

// Orchestrator turns events into runs and drives them to a verdict.
type Orchestrator struct {
	log      *zap.Logger
	trigger  *TriggerEvaluator
	groups   *ConcurrencyController
	graph    *JobGraph
	store    domain.RunStore
	locker   domain.StoreLocker
	unlock   func() error
	cache    domain.StatusCache
	note     domain.Notifier
	reporter domain.StatusReporter
	metrics  domain.Metrics

	mu   sync.RWMutex
	jobs []domain.Job
	live map[string]*RunHandle

	wg sync.WaitGroup
}

func NewOrchestrator(l *zap.Logger, d Deps, jobs []domain.Job) *Orchestrator {
	o := &Orchestrator{
		log:      l,
		trigger:  d.Trigger,
		groups:   d.Groups,
		graph:    d.Graph,
		store:    d.Store,
		locker:   d.Lock,
		cache:    d.Cache,
		note:     d.Notifier,
		reporter: d.Reporter,
		metrics:  d.Metrics,
		jobs:     jobs,
		live:     make(map[string]*RunHandle),
	}
	if o.groups == nil {
		o.groups = NewConcurrencyController()
	}
	if o.metrics == nil {
		o.metrics = nopMetrics{}
	}
	o.graph.observe = o.jobFinished
	return o
}

// UpdateJobs replaces the job templates used by runs admitted from now on.
func (o *Orchestrator) UpdateJobs(jobs []domain.Job) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.jobs = jobs
	o.log.Info("pipeline reloaded", zap.Int("jobs", len(jobs)))
}

func (o *Orchestrator) Jobs() []domain.Job {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]domain.Job(nil), o.jobs...)
}

// Restore takes ownership of the run store and rebuilds the concurrency table
// from it. It fails with domain.ErrStoreLocked while another orchestrator owns
// the store, leaving that orchestrator's runs untouched.
func (o *Orchestrator) Restore(ctx context.Context) error {
	if o.locker != nil && o.unlock == nil {
		unlock, err := o.locker.Lock()
		if err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		o.unlock = unlock
	}

	history, err := o.store.List(ctx)
	if err != nil {
		return err
	}
	for _, run := range o.groups.Rehydrate(history) {
		o.log.Info("cancelled orphaned run", zap.String("run", run.ID), zap.String("ref", run.Ref))
		if err := o.store.Save(ctx, run); err != nil {
			return err
		}
	}
	return nil
}

// Submit admits ev and starts its run in the background. ctx bounds the run's
// lifetime. Rejected events return an error and create nothing.
func (o *Orchestrator) Submit(ctx context.Context, ev domain.Event) (*RunHandle, error) {
	jobs := o.Jobs()
	run, err := o.trigger.Admit(ev, jobs)
	if err != nil {
		o.metrics.EventRejected(ev.Type)
		o.log.Debug("event rejected", zap.String("type", string(ev.Type)), zap.String("target", ev.TargetRef), zap.Error(err))
		return nil, err
	}
	o.metrics.EventAdmitted(ev.Type)

	h := newRunHandle(ctx, run, jobs)
	if prev := o.groups.Admitted(h); prev != nil {
		o.metrics.RunSuperseded()
		o.log.Info("run superseded", zap.String("run", prev.ID()), zap.String("by", run.ID), zap.String("ref", run.Ref))
		o.persist(prev)
	}

	o.mu.Lock()
	o.live[run.ID] = h
	o.mu.Unlock()
	o.persist(h)

	o.log.Info("run admitted",
		zap.String("run", run.ID),
		zap.String("event", string(ev.Type)),
		zap.String("ref", run.Ref),
		zap.String("sha", ev.CommitSHA),
		zap.Int("jobs", len(jobs)),
	)

	o.wg.Add(1)
	go o.execute(h)
	return h, nil
}

// Run submits ev and waits for the verdict.
func (o *Orchestrator) Run(ctx context.Context, ev domain.Event) (domain.Run, error) {
	h, err := o.Submit(ctx, ev)
	if err != nil {
		return domain.Run{}, err
	}
	<-h.Done()
	return h.Snapshot(), nil
}

func (o *Orchestrator) Get(ctx context.Context, id string) (domain.Run, error) {
	o.mu.RLock()
	h, ok := o.live[id]
	o.mu.RUnlock()
	if ok {
		return h.Snapshot(), nil
	}
	return o.store.Get(ctx, id)
}

func (o *Orchestrator) List(ctx context.Context) ([]domain.Run, error) {
	return o.store.List(ctx)
}

// Wait blocks until every submitted run is terminal.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// Close waits for every run and gives up ownership of the run store.
func (o *Orchestrator) Close() error {
	o.wg.Wait()
	if o.unlock == nil {
		return nil
	}
	err := o.unlock()
	o.unlock = nil
	return err
}

func (o *Orchestrator) execute(h *RunHandle) {
	defer o.wg.Done()
	defer close(h.done)

	if h.transition(domain.RunRunning) {
		o.persist(h)
		o.report(h.Snapshot())
	}

	o.graph.Schedule(h)
	status := Finalize(h)
	run := h.Snapshot()
	o.persist(h)

	o.mu.Lock()
	delete(o.live, run.ID)
	o.mu.Unlock()

	o.metrics.RunFinished(status)
	o.log.Info("run finished",
		zap.String("run", run.ID),
		zap.String("ref", run.Ref),
		zap.String("status", string(status)),
		zap.Duration("took", run.EndedAt.Sub(run.CreatedAt)),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if o.cache != nil {
		if err := o.cache.Write(ctx, domain.Snapshot{Run: run, Retrieved: time.Now().Unix()}); err != nil {
			o.log.Warn("status snapshot failed", zap.Error(err))
		}
	}
	if o.note != nil {
		body := "Run " + shortID(run.ID) + " (" + run.Ref + ")"
		_ = o.note.Notify(ctx, titleFor(status), body, "")
	}
	o.report(run)
}

func (o *Orchestrator) jobFinished(h *RunHandle, job domain.JobInstance) {
	var took time.Duration
	if !job.StartedAt.IsZero() {
		took = job.EndedAt.Sub(job.StartedAt)
	}
	o.metrics.JobFinished(job.Job, job.Status, took)
	o.persist(h)
}

// persist snapshots and saves h under its save lock, so the last write for a
// run always carries its latest state.
func (o *Orchestrator) persist(h *RunHandle) {
	h.saveMu.Lock()
	defer h.saveMu.Unlock()
	if err := o.store.Save(context.Background(), h.Snapshot()); err != nil {
		o.log.Warn("run not saved", zap.String("run", h.ID()), zap.Error(err))
	}
}

func (o *Orchestrator) report(run domain.Run) {
	if o.reporter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.reporter.Report(ctx, run); err != nil && !errors.Is(err, context.Canceled) {
		o.log.Warn("status report failed", zap.String("run", run.ID), zap.Error(err))
	}
}

func titleFor(s domain.RunStatus) string {
	switch s {
	case domain.RunSucceeded:
		return "✅ CI: succeeded"
	case domain.RunFailed:
		return "❌ CI: failed"
	case domain.RunRunning:
		return "▶️ CI: running"
	case domain.RunCancelled:
		return "⛔ CI: cancelled"
	default:
		return "ℹ️ CI: " + string(s)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

type nopMetrics struct{}

func (nopMetrics) EventAdmitted(domain.EventType)                      {}
func (nopMetrics) EventRejected(domain.EventType)                      {}
func (nopMetrics) RunSuperseded()                                      {}
func (nopMetrics) RunFinished(domain.RunStatus)                        {}
func (nopMetrics) JobFinished(string, domain.JobStatus, time.Duration) {}
