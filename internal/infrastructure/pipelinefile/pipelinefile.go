// Package pipelinefile loads job templates from YAML or HCL pipeline definitions.
package pipelinefile

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/davarch/ci-runner/internal/domain"
)

//go:embed default.yaml
var defaultPipeline []byte

type Pipeline struct {
	Name string
	Jobs []domain.Job
}

// Load reads and validates path. An empty path yields the built-in pipeline.
func Load(path string) (Pipeline, error) {
	if path == "" {
		return Default()
	}
	p, err := Read(path)
	if err != nil {
		return Pipeline{}, err
	}
	if err := Validate(p); err != nil {
		return Pipeline{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Read decodes path without validating it, choosing the decoder by extension.
func Read(path string) (Pipeline, error) {
	if path == "" {
		return ParseYAML(defaultPipeline)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, err
	}

	var p Pipeline
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hcl":
		p, err = ParseHCL(b, path)
	case ".yaml", ".yml":
		p, err = ParseYAML(b)
	default:
		return Pipeline{}, fmt.Errorf("unsupported pipeline format %q", filepath.Ext(path))
	}
	if err != nil {
		return Pipeline{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

func Default() (Pipeline, error) {
	p, err := ParseYAML(defaultPipeline)
	if err != nil {
		return Pipeline{}, err
	}
	return p, Validate(p)
}

// Enabled drops the jobs for which disabled returns true.
func (p Pipeline) Enabled(disabled func(string) bool) []domain.Job {
	out := make([]domain.Job, 0, len(p.Jobs))
	for _, j := range p.Jobs {
		if !disabled(j.Name) {
			out = append(out, j)
		}
	}
	return out
}

func buildJob(name, runsOn string, timeoutMinutes int, globalEnv, env map[string]string, steps []domain.Step) domain.Job {
	merged := make(map[string]string, len(globalEnv)+len(env))
	for k, v := range globalEnv {
		merged[k] = v
	}
	for k, v := range env {
		merged[k] = v
	}
	return domain.Job{
		Name:    name,
		RunsOn:  runsOn,
		Timeout: time.Duration(timeoutMinutes) * time.Minute,
		Env:     merged,
		Steps:   steps,
	}
}
