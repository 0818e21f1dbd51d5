package pipelinefile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/davarch/ci-runner/internal/domain"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/multierr"
)

func jobNames(jobs []domain.Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.Name
	}
	return out
}

func TestDefault_EightJobsInOrder(t *testing.T) {
	p, err := Default()
	if err != nil {
		t.Fatalf("default pipeline: %v", err)
	}

	want := []string{
		"doctests", "clippy", "fmt", "forge-fmt",
		"feature-checks", "zk-cargo-test", "zk-smoke-test", "check-ci-install",
	}
	if diff := cmp.Diff(want, jobNames(p.Jobs)); diff != "" {
		t.Fatalf("job order mismatch (-want +got):\n%s", diff)
	}

	clippy := p.Jobs[1]
	if clippy.Env["RUSTFLAGS"] != "-Dwarnings" || clippy.Env["CARGO_TERM_COLOR"] != "always" {
		t.Errorf("env not merged: %v", clippy.Env)
	}
	if clippy.Timeout != 60*time.Minute {
		t.Errorf("expected 60m timeout, got %s", clippy.Timeout)
	}
	var kinds []domain.StepKind
	for _, s := range p.Jobs[2].Steps {
		kinds = append(kinds, s.Kind)
	}
	wantKinds := []domain.StepKind{domain.StepCheckout, domain.StepSetupToolchain, domain.StepRunCommand}
	if diff := cmp.Diff(wantKinds, kinds); diff != "" {
		t.Errorf("fmt steps mismatch (-want +got):\n%s", diff)
	}
	if got := p.Jobs[2].Steps[1].With["components"]; got != "rustfmt" {
		t.Errorf("fmt toolchain components = %q", got)
	}
}

func TestLoad_HCL(t *testing.T) {
	src := `
name = "ci"
env = { CARGO_TERM_COLOR = "always" }

job "lint" {
  runs_on         = "ubuntu-latest"
  timeout_minutes = 5
  env             = { CARGO_TERM_COLOR = "never" }

  step {
    kind = "checkout"
  }
  step {
    kind              = "run-command"
    name              = "clippy"
    run               = "cargo clippy"
    continue_on_error = true
  }
}

job "unit" {
  runs_on = "ubuntu-latest"
  step {
    kind = "run-command"
    run  = "cargo test"
  }
}
`
	path := filepath.Join(t.TempDir(), "ci.hcl")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff([]string{"lint", "unit"}, jobNames(p.Jobs)); diff != "" {
		t.Fatalf("jobs (-want +got):\n%s", diff)
	}
	lint := p.Jobs[0]
	if lint.Env["CARGO_TERM_COLOR"] != "never" {
		t.Errorf("job env should win, got %v", lint.Env)
	}
	if lint.Timeout != 5*time.Minute {
		t.Errorf("unexpected timeout %s", lint.Timeout)
	}
	if !lint.Steps[1].ContinueOnError || lint.Steps[1].Run != "cargo clippy" {
		t.Errorf("unexpected step %+v", lint.Steps[1])
	}
	if p.Jobs[1].Timeout != 0 {
		t.Errorf("unset timeout should stay zero, got %s", p.Jobs[1].Timeout)
	}
}

func TestParseHCL_EnvInterpolation(t *testing.T) {
	t.Setenv("CI_TEST_TOOLCHAIN", "nightly-2024-09-01")
	src := `
job "doc" {
  runs_on = "ubuntu-latest"
  step {
    kind = "setup-toolchain"
    with = { toolchain = "${env.CI_TEST_TOOLCHAIN}" }
  }
  step {
    kind = "run-command"
    run  = "echo $${HOME}"
  }
}
`
	p, err := ParseHCL([]byte(src), "ci.hcl")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	steps := p.Jobs[0].Steps
	if steps[0].With["toolchain"] != "nightly-2024-09-01" {
		t.Errorf("env not interpolated: %v", steps[0].With)
	}
	if steps[1].Run != "echo ${HOME}" {
		t.Errorf("escape not honoured: %q", steps[1].Run)
	}
}

func TestLoad_ValidationCollectsAllProblems(t *testing.T) {
	src := `
jobs:
  a:
    runs-on: ubuntu-latest
    steps:
      - kind: teleport
  b:
    steps:
      - kind: run-command
  c:
    runs-on: ubuntu-latest
    steps: []
`
	path := filepath.Join(t.TempDir(), "bad.yml")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"unknown kind", "runs-on is required", "run-command needs run", "no steps"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestValidate_DuplicateNames(t *testing.T) {
	step := domain.Step{Kind: domain.StepRunCommand, Run: "true"}
	p := Pipeline{Jobs: []domain.Job{
		{Name: "x", RunsOn: "ubuntu-latest", Steps: []domain.Step{step}},
		{Name: "x", RunsOn: "ubuntu-latest", Steps: []domain.Step{step}},
	}}
	err := Validate(p)
	if err == nil || !strings.Contains(err.Error(), "duplicate name") {
		t.Fatalf("expected duplicate name error, got %v", err)
	}
}

func TestParseYAML_RejectsUnknownKeys(t *testing.T) {
	src := `
jobs:
  fmt:
    runs-on: ubuntu-latest
    timeout_minutes: 10
    steps:
      - kind: run-command
        run: cargo fmt
        continue-on-error: "yes"
`
	_, err := ParseYAML([]byte(src))
	if err == nil {
		t.Fatal("expected shape errors")
	}
	if !strings.Contains(err.Error(), "timeout_minutes") {
		t.Errorf("error %q does not name the unknown key", err)
	}
	if len(multierr.Errors(err)) != 2 {
		t.Errorf("expected 2 shape errors, got %v", multierr.Errors(err))
	}
}

func TestLoad_UnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ci.toml")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for .toml")
	}
}

func TestPipeline_Enabled(t *testing.T) {
	p, _ := Default()
	jobs := p.Enabled(func(name string) bool { return name == "fmt" })
	if len(jobs) != 7 {
		t.Fatalf("expected 7 jobs, got %d", len(jobs))
	}
	for _, j := range jobs {
		if j.Name == "fmt" {
			t.Fatal("fmt should be filtered out")
		}
	}
}

func TestValidate_ErrorsAreSeparable(t *testing.T) {
	p := Pipeline{Jobs: []domain.Job{
		{Name: "a", Steps: []domain.Step{{Kind: "bogus"}}},
	}}
	errs := multierr.Errors(Validate(p))
	if len(errs) != 2 {
		t.Fatalf("expected 2 separate errors, got %d: %v", len(errs), errs)
	}
}

func TestCheckEnvironments_ReportsEveryUnprovidedTag(t *testing.T) {
	jobs := []domain.Job{
		{Name: "fmt", RunsOn: "ubuntu-latest"},
		{Name: "clippy", RunsOn: "ubuntu-22.04-github-hosted-16core"},
		{Name: "mac", RunsOn: "macos-14"},
	}

	if err := CheckEnvironments(jobs, []string{"ubuntu-latest", "ubuntu-22.04-github-hosted-16core", "macos-14"}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	err := CheckEnvironments(jobs, []string{"ubuntu-latest"})
	if got := len(multierr.Errors(err)); got != 2 {
		t.Fatalf("expected 2 errors, got %d: %v", got, err)
	}
	if !strings.Contains(err.Error(), `"macos-14"`) {
		t.Errorf("missing tag in %v", err)
	}
}
