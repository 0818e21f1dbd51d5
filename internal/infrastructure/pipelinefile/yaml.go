package pipelinefile

import (
	"fmt"

	"github.com/davarch/ci-runner/internal/domain"
	"gopkg.in/yaml.v3"
)

type yamlFile struct {
	Name string            `yaml:"name"`
	Env  map[string]string `yaml:"env"`
	Jobs yaml.Node         `yaml:"jobs"`
}

type yamlJob struct {
	RunsOn         string            `yaml:"runs-on"`
	TimeoutMinutes int               `yaml:"timeout-minutes"`
	Env            map[string]string `yaml:"env"`
	Steps          []domain.Step     `yaml:"steps"`
}

// ParseYAML decodes a pipeline whose jobs are a mapping keyed by job name.
// Job order follows the document.
func ParseYAML(b []byte) (Pipeline, error) {
	if err := checkShape(b); err != nil {
		return Pipeline{}, err
	}

	var f yamlFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return Pipeline{}, err
	}

	p := Pipeline{Name: f.Name}
	if f.Jobs.Kind == 0 {
		return p, nil
	}
	if f.Jobs.Kind != yaml.MappingNode {
		return Pipeline{}, fmt.Errorf("line %d: jobs must be a mapping", f.Jobs.Line)
	}

	for i := 0; i+1 < len(f.Jobs.Content); i += 2 {
		key, val := f.Jobs.Content[i], f.Jobs.Content[i+1]
		var j yamlJob
		if err := val.Decode(&j); err != nil {
			return Pipeline{}, fmt.Errorf("job %q: %w", key.Value, err)
		}
		p.Jobs = append(p.Jobs, buildJob(key.Value, j.RunsOn, j.TimeoutMinutes, f.Env, j.Env, j.Steps))
	}
	return p, nil
}
