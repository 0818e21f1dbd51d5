package pipelinefile

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/davarch/ci-runner/internal/domain"
	"go.uber.org/multierr"
)

// Validate reports every problem found in p, not just the first one.
func Validate(p Pipeline) error {
	if len(p.Jobs) == 0 {
		return errors.New("pipeline has no jobs")
	}

	var errs error
	seen := make(map[string]bool, len(p.Jobs))
	for _, j := range p.Jobs {
		if seen[j.Name] {
			errs = multierr.Append(errs, fmt.Errorf("job %q: duplicate name", j.Name))
		}
		seen[j.Name] = true

		if j.RunsOn == "" {
			errs = multierr.Append(errs, fmt.Errorf("job %q: runs-on is required", j.Name))
		}
		if j.Timeout < 0 {
			errs = multierr.Append(errs, fmt.Errorf("job %q: negative timeout", j.Name))
		}
		if len(j.Steps) == 0 {
			errs = multierr.Append(errs, fmt.Errorf("job %q: no steps", j.Name))
		}
		for i, s := range j.Steps {
			errs = multierr.Append(errs, validateStep(j.Name, i, s))
		}
	}
	return errs
}

// CheckEnvironments reports every job whose runs-on tag is not in tags.
func CheckEnvironments(jobs []domain.Job, tags []string) error {
	var errs error
	for _, j := range jobs {
		if j.RunsOn != "" && !slices.Contains(tags, j.RunsOn) {
			errs = multierr.Append(errs, fmt.Errorf("job %q: no environment provides %q", j.Name, j.RunsOn))
		}
	}
	return errs
}

func validateStep(job string, i int, s domain.Step) error {
	switch {
	case !s.Kind.Valid():
		return fmt.Errorf("job %q step %d: unknown kind %q", job, i, s.Kind)
	case s.Kind == domain.StepRunCommand && strings.TrimSpace(s.Run) == "":
		return fmt.Errorf("job %q step %d: run-command needs run", job, i)
	case s.Kind == domain.StepExternalService && s.Name == "" && s.With["name"] == "":
		return fmt.Errorf("job %q step %d: external-service needs a name", job, i)
	case s.Kind == domain.StepCacheRestore && (s.With["key"] == "" || s.With["path"] == ""):
		return fmt.Errorf("job %q step %d: cache-restore needs key and path", job, i)
	}
	return nil
}
