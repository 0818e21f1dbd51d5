package cli

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/davarch/ci-runner/internal/domain"
	"github.com/davarch/ci-runner/internal/infrastructure/config"
	"github.com/davarch/ci-runner/internal/infrastructure/provision_local"
	"go.uber.org/zap"
)

func TestVerdict_ExitCodes(t *testing.T) {
	cases := map[domain.RunStatus]int{
		domain.RunSucceeded: 0,
		domain.RunFailed:    1,
		domain.RunCancelled: 2,
	}
	for status, want := range cases {
		err := verdict(status)
		got := 0
		var code exitCode
		if errors.As(err, &code) {
			got = int(code)
		}
		if got != want {
			t.Errorf("%s: exit %d, want %d", status, got, want)
		}
	}
}

func TestBuild_DefaultPipelineHonoursDisabledJobs(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Store.Dir = t.TempDir()
	cfg.DisabledJobs = []string{"check-ci-install"}

	a, err := build(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got := len(a.orch.Jobs()); got != 7 {
		t.Fatalf("expected 7 enabled jobs, got %d", got)
	}
	if len(a.pipeline.Jobs) != 8 {
		t.Fatalf("expected 8 pipeline jobs, got %d", len(a.pipeline.Jobs))
	}

	classes := make([]provision_local.Class, len(cfg.Execution.Environments))
	for i, e := range cfg.Execution.Environments {
		classes[i] = provision_local.Class{Tag: e.Tag, Slots: e.Slots, WorkDir: t.TempDir()}
	}
	pool := provision_local.New(zap.NewNop(), classes)
	for _, j := range a.pipeline.Jobs {
		env, err := pool.Acquire(context.Background(), j.RunsOn)
		if err != nil {
			t.Fatalf("job %s: cannot provision %q: %v", j.Name, j.RunsOn, err)
		}
		pool.Release(env)
	}
}

func TestBuild_RejectsUnprovidedEnvironment(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Store.Dir = t.TempDir()
	cfg.Execution.Environments = []config.Environment{{Tag: "ubuntu-latest", Slots: 1}}

	if _, err := build(cfg, zap.NewNop()); err == nil || !strings.Contains(err.Error(), "ubuntu-22.04-github-hosted-16core") {
		t.Fatalf("expected unprovided environment error, got %v", err)
	}
}
