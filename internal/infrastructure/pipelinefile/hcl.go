package pipelinefile

import (
	"fmt"
	"os"
	"strings"

	"github.com/davarch/ci-runner/internal/domain"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
)

type hclFile struct {
	Name string            `hcl:"name,optional"`
	Env  map[string]string `hcl:"env,optional"`
	Jobs []hclJob          `hcl:"job,block"`
}

type hclJob struct {
	Name           string            `hcl:"name,label"`
	RunsOn         string            `hcl:"runs_on"`
	TimeoutMinutes int               `hcl:"timeout_minutes,optional"`
	Env            map[string]string `hcl:"env,optional"`
	Steps          []hclStep         `hcl:"step,block"`
}

type hclStep struct {
	Kind            string            `hcl:"kind"`
	Name            string            `hcl:"name,optional"`
	Run             string            `hcl:"run,optional"`
	With            map[string]string `hcl:"with,optional"`
	Env             map[string]string `hcl:"env,optional"`
	ContinueOnError bool              `hcl:"continue_on_error,optional"`
}

// evalContext exposes the process environment as `env.<NAME>`. Shell
// expansions inside run blocks must be escaped as `$${NAME}`.
func evalContext() *hcl.EvalContext {
	vars := map[string]cty.Value{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && hclsyntax.ValidIdentifier(k) {
			vars[k] = cty.StringVal(v)
		}
	}
	env := cty.EmptyObjectVal
	if len(vars) > 0 {
		env = cty.ObjectVal(vars)
	}
	return &hcl.EvalContext{Variables: map[string]cty.Value{"env": env}}
}

// ParseHCL decodes a pipeline made of `job "<name>" { step { ... } }` blocks.
func ParseHCL(b []byte, filename string) (Pipeline, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(b, filename)
	if diags.HasErrors() {
		return Pipeline{}, fmt.Errorf("failed to parse HCL: %w", diags)
	}

	var root hclFile
	if diags := gohcl.DecodeBody(file.Body, evalContext(), &root); diags.HasErrors() {
		return Pipeline{}, fmt.Errorf("failed to decode HCL: %w", diags)
	}

	p := Pipeline{Name: root.Name}
	for _, j := range root.Jobs {
		steps := make([]domain.Step, len(j.Steps))
		for i, s := range j.Steps {
			steps[i] = domain.Step{
				Name:            s.Name,
				Kind:            domain.StepKind(s.Kind),
				Run:             s.Run,
				With:            s.With,
				Env:             s.Env,
				ContinueOnError: s.ContinueOnError,
			}
		}
		p.Jobs = append(p.Jobs, buildJob(j.Name, j.RunsOn, j.TimeoutMinutes, root.Env, j.Env, steps))
	}
	return p, nil
}
