package domain

import (
	"strings"
	"time"
)

type EventType string

const (
	EventPush        EventType = "push"
	EventPullRequest EventType = "pull_request"
)

type Event struct {
	Type      EventType `json:"type"`
	TargetRef string    `json:"target_ref"`
	HeadRef   string    `json:"head_ref,omitempty"`
	CommitSHA string    `json:"commit_sha"`
}

type StepKind string

const (
	StepCheckout        StepKind = "checkout"
	StepSetupToolchain  StepKind = "setup-toolchain"
	StepCacheRestore    StepKind = "cache-restore"
	StepRunCommand      StepKind = "run-command"
	StepExternalService StepKind = "external-service"
)

// IsSetup reports whether the step prepares the environment rather than verifying code.
func (k StepKind) IsSetup() bool {
	switch k {
	case StepCheckout, StepSetupToolchain, StepCacheRestore:
		return true
	default:
		return false
	}
}

func (k StepKind) Valid() bool {
	return k.IsSetup() || k == StepRunCommand || k == StepExternalService
}

type Step struct {
	Name            string            `json:"name" yaml:"name"`
	Kind            StepKind          `json:"kind" yaml:"kind"`
	Run             string            `json:"run,omitempty" yaml:"run,omitempty"`
	With            map[string]string `json:"with,omitempty" yaml:"with,omitempty"`
	Env             map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	ContinueOnError bool              `json:"continue_on_error,omitempty" yaml:"continue-on-error,omitempty"`
}

// Label is the human readable name used in logs.
func (s Step) Label() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Run != "" {
		line, _, _ := strings.Cut(strings.TrimSpace(s.Run), "\n")
		return line
	}
	return string(s.Kind)
}

type Job struct {
	Name    string            `json:"name"`
	RunsOn  string            `json:"runs_on"`
	Timeout time.Duration     `json:"timeout"`
	Env     map[string]string `json:"env,omitempty"`
	Steps   []Step            `json:"steps"`
}

type StepStatus string

const (
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

type StepRecord struct {
	Name     string     `json:"name"`
	Kind     StepKind   `json:"kind"`
	Status   StepStatus `json:"status"`
	ExitCode int        `json:"exit_code,omitempty"`
	LogPath  string     `json:"log_path,omitempty"`
	Error    string     `json:"error,omitempty"`
}

type JobInstance struct {
	Job         string       `json:"job"`
	Status      JobStatus    `json:"status"`
	Reason      string       `json:"reason,omitempty"`
	Environment string       `json:"environment,omitempty"`
	StartedAt   time.Time    `json:"started_at,omitzero"`
	EndedAt     time.Time    `json:"ended_at,omitzero"`
	StepCursor  int          `json:"step_cursor"`
	Steps       []StepRecord `json:"steps,omitempty"`
}

type Run struct {
	ID             string        `json:"id"`
	Workflow       string        `json:"workflow"`
	Event          Event         `json:"event"`
	Ref            string        `json:"ref"`
	ConcurrencyKey string        `json:"concurrency_key"`
	Status         RunStatus     `json:"status"`
	Jobs           []JobInstance `json:"jobs"`
	CreatedAt      time.Time     `json:"created_at"`
	StartedAt      time.Time     `json:"started_at,omitzero"`
	EndedAt        time.Time     `json:"ended_at,omitzero"`
}

// Clone returns a copy that shares no slices with r.
func (r Run) Clone() Run {
	out := r
	out.Jobs = make([]JobInstance, len(r.Jobs))
	for i, j := range r.Jobs {
		j.Steps = append([]StepRecord(nil), j.Steps...)
		out.Jobs[i] = j
	}
	return out
}

type Environment struct {
	ID      string
	Tag     string
	WorkDir string
}

type Command struct {
	Dir    string
	Env    map[string]string
	Script string
}

type ServiceSpec struct {
	Name       string
	Mode       string
	Network    string
	LogLevel   string
	Target     string
	ReleaseTag string
}

type Snapshot struct {
	Run       Run
	Retrieved int64
}
