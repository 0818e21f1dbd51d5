package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/davarch/ci-runner/internal/domain"
)

type StepRequest struct {
	Step   domain.Step
	Env    domain.Environment
	Vars   map[string]string
	Output io.Writer
}

// Cleanup runs when the owning job ends, whatever its outcome.
type Cleanup func(ctx context.Context, outcome domain.JobStatus) error

type StepResult struct {
	Exports map[string]string
	Cleanup Cleanup
}

// StepHandler interprets one step kind.
type StepHandler interface {
	Handle(ctx context.Context, req StepRequest) (StepResult, error)
}

type CommandStep struct {
	Runner domain.CommandRunner
}

func (s CommandStep) Handle(ctx context.Context, req StepRequest) (StepResult, error) {
	if strings.TrimSpace(req.Step.Run) == "" {
		return StepResult{}, fmt.Errorf("step %q: empty command", req.Step.Label())
	}
	return StepResult{}, runScript(ctx, s.Runner, req, req.Step.Run)
}

type CheckoutStep struct {
	Runner domain.CommandRunner
}

func (s CheckoutStep) Handle(ctx context.Context, req StepRequest) (StepResult, error) {
	depth, err := strconv.Atoi(param(req.Step, "fetch-depth", "1"))
	if err != nil || depth < 0 {
		return StepResult{}, fmt.Errorf("checkout: invalid fetch-depth %q", req.Step.With["fetch-depth"])
	}

	fetch := `git fetch -q`
	if depth > 0 {
		fetch += " --depth=" + strconv.Itoa(depth)
	}
	fetch += ` "$CI_REPOSITORY" "$CI_COMMIT_SHA"`

	lines := []string{`git init -q .`, fetch, `git checkout -q --detach FETCH_HEAD`}
	if param(req.Step, "submodules", "") == "recursive" {
		lines = append(lines, `git submodule update -q --init --recursive`)
	}
	return StepResult{}, runScript(ctx, s.Runner, req, strings.Join(lines, " && "))
}

type ToolchainStep struct {
	Runner domain.CommandRunner
}

func (s ToolchainStep) Handle(ctx context.Context, req StepRequest) (StepResult, error) {
	switch tool := param(req.Step, "tool", "rust"); tool {
	case "rust":
		tc := param(req.Step, "toolchain", "stable")
		script := "rustup toolchain install " + shellQuote(tc) + " --profile minimal --no-self-update"
		for _, c := range splitList(req.Step.With["components"]) {
			script += " --component " + shellQuote(c)
		}
		for _, t := range splitList(req.Step.With["targets"]) {
			script += " --target " + shellQuote(t)
		}
		if err := runScript(ctx, s.Runner, req, script); err != nil {
			return StepResult{}, err
		}
		return StepResult{Exports: map[string]string{"RUSTUP_TOOLCHAIN": tc}}, nil
	case "foundry":
		version := param(req.Step, "version", "nightly")
		return StepResult{}, runScript(ctx, s.Runner, req, "foundryup --install "+shellQuote(version))
	default:
		return StepResult{}, fmt.Errorf("setup-toolchain: unknown tool %q", tool)
	}
}

type CacheStep struct {
	Cache domain.StepCache
}

func (s CacheStep) Handle(ctx context.Context, req StepRequest) (StepResult, error) {
	key := os.Expand(req.Step.With["key"], func(k string) string { return req.Vars[k] })
	paths := splitList(req.Step.With["path"])
	if key == "" || len(paths) == 0 {
		return StepResult{}, errors.New("cache-restore: key and path are required")
	}

	hit, err := s.Cache.Restore(ctx, key, paths, req.Env.WorkDir)
	if err != nil {
		return StepResult{}, fmt.Errorf("cache-restore %q: %w", key, err)
	}
	_, _ = fmt.Fprintf(req.Output, "cache %s: hit=%t\n", key, hit)

	res := StepResult{Exports: map[string]string{"CACHE_HIT": strconv.FormatBool(hit)}}
	if !hit {
		workDir := req.Env.WorkDir
		res.Cleanup = func(ctx context.Context, outcome domain.JobStatus) error {
			if outcome != domain.JobSucceeded {
				return nil
			}
			return s.Cache.Save(ctx, key, paths, workDir)
		}
	}
	return res, nil
}

type ServiceStep struct {
	Launcher domain.ServiceLauncher
}

func (s ServiceStep) Handle(ctx context.Context, req StepRequest) (StepResult, error) {
	name := param(req.Step, "name", req.Step.Name)
	if name == "" {
		return StepResult{}, errors.New("external-service: name is required")
	}
	spec := domain.ServiceSpec{
		Name:       name,
		Mode:       param(req.Step, "mode", "run"),
		Network:    param(req.Step, "network", ""),
		LogLevel:   param(req.Step, "log", "info"),
		Target:     param(req.Step, "target", ""),
		ReleaseTag: param(req.Step, "release-tag", "latest"),
	}

	svc, err := s.Launcher.Start(ctx, spec)
	if err != nil {
		return StepResult{}, fmt.Errorf("external-service %q: %w", name, err)
	}
	_, _ = fmt.Fprintf(req.Output, "service %s ready at %s (log %s)\n", name, svc.Endpoint(), svc.LogPath())

	var once sync.Once
	prefix := "TEST_" + envName(name)
	return StepResult{
		Exports: map[string]string{
			prefix + "_URL": svc.Endpoint(),
			prefix + "_LOG": svc.LogPath(),
		},
		Cleanup: func(ctx context.Context, _ domain.JobStatus) error {
			var err error
			once.Do(func() { err = svc.Stop(ctx) })
			return err
		},
	}, nil
}

func runScript(ctx context.Context, runner domain.CommandRunner, req StepRequest, script string) error {
	code, err := runner.Run(ctx, domain.Command{Dir: req.Env.WorkDir, Env: req.Vars, Script: script}, req.Output)
	if err != nil {
		return fmt.Errorf("step %q: %w", req.Step.Label(), err)
	}
	if code != 0 {
		return &domain.StepError{Step: req.Step.Label(), ExitCode: code}
	}
	return nil
}

func param(s domain.Step, key, def string) string {
	if v := strings.TrimSpace(s.With[key]); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' }) {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// RegisterBuiltins installs a handler for every built-in step kind.
func RegisterBuiltins(e *StepExecutor, runner domain.CommandRunner, cache domain.StepCache, launcher domain.ServiceLauncher) {
	e.Register(domain.StepCheckout, CheckoutStep{Runner: runner})
	e.Register(domain.StepSetupToolchain, ToolchainStep{Runner: runner})
	e.Register(domain.StepCacheRestore, CacheStep{Cache: cache})
	e.Register(domain.StepRunCommand, CommandStep{Runner: runner})
	e.Register(domain.StepExternalService, ServiceStep{Launcher: launcher})
}
