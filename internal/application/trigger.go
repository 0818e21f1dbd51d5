package application

import (
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/davarch/ci-runner/internal/domain"
	"github.com/google/uuid"
)

// TriggerEvaluator decides whether an incoming event starts a run.
type TriggerEvaluator struct {
	workflow  string
	branches  []string
	events    map[domain.EventType]bool
	pauseFile string

	now   func() time.Time
	newID func() string
}

func NewTriggerEvaluator(workflow string, branches []string, events []domain.EventType, pauseFile string) *TriggerEvaluator {
	if len(branches) == 0 {
		branches = []string{"main"}
	}
	if len(events) == 0 {
		events = []domain.EventType{domain.EventPush, domain.EventPullRequest}
	}
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		allowed[e] = true
	}
	return &TriggerEvaluator{
		workflow:  workflow,
		branches:  branches,
		events:    allowed,
		pauseFile: pauseFile,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Admit returns a Pending run bound to jobs, or an error wrapping
// domain.ErrRejectedEvent / domain.ErrPaused. Rejection has no side effects.
func (t *TriggerEvaluator) Admit(ev domain.Event, jobs []domain.Job) (domain.Run, error) {
	if t.isPaused() {
		return domain.Run{}, domain.ErrPaused
	}
	if !t.events[ev.Type] {
		return domain.Run{}, fmt.Errorf("%w: event type %q", domain.ErrRejectedEvent, ev.Type)
	}

	target := shortRef(ev.TargetRef)
	if !t.matchBranch(target) {
		return domain.Run{}, fmt.Errorf("%w: %s targets %q", domain.ErrRejectedEvent, ev.Type, target)
	}

	ref := target
	if ev.Type == domain.EventPullRequest {
		ref = shortRef(ev.HeadRef)
		if ref == "" {
			return domain.Run{}, fmt.Errorf("%w: pull_request without head ref", domain.ErrRejectedEvent)
		}
	}

	run := domain.Run{
		ID:             t.newID(),
		Workflow:       t.workflow,
		Event:          ev,
		Ref:            ref,
		ConcurrencyKey: ConcurrencyKey(t.workflow, ref),
		Status:         domain.RunPending,
		CreatedAt:      t.now(),
		Jobs:           make([]domain.JobInstance, len(jobs)),
	}
	for i, j := range jobs {
		run.Jobs[i] = domain.JobInstance{Job: j.Name, Status: domain.JobPending}
	}
	return run, nil
}

func (t *TriggerEvaluator) matchBranch(ref string) bool {
	if ref == "" {
		return false
	}
	for _, pattern := range t.branches {
		if ok, err := path.Match(pattern, ref); err == nil && ok {
			return true
		}
	}
	return false
}

func (t *TriggerEvaluator) isPaused() bool {
	if t.pauseFile == "" {
		return false
	}
	_, err := os.Stat(t.pauseFile)
	return err == nil
}

func shortRef(ref string) string {
	return strings.TrimPrefix(strings.TrimSpace(ref), "refs/heads/")
}
