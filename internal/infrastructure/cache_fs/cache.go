package cache_fs

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/davarch/ci-runner/internal/domain"
)

// FSCache keeps the status of the most recent run in a small JSON file that
// status bars and shell prompts can poll.
type FSCache struct {
	path string
}

func New(path string) *FSCache { return &FSCache{path: path} }

type jobLine struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type snapshotFile struct {
	RunID     string    `json:"run_id"`
	Workflow  string    `json:"workflow"`
	Ref       string    `json:"ref"`
	Commit    string    `json:"commit"`
	Status    string    `json:"status"`
	Jobs      []jobLine `json:"jobs"`
	Retrieved int64     `json:"retrieved"`
}

func (c *FSCache) Write(_ context.Context, s domain.Snapshot) error {
	if c.path == "" {
		return errors.New("cache path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}

	out := snapshotFile{
		RunID:     s.Run.ID,
		Workflow:  s.Run.Workflow,
		Ref:       s.Run.Ref,
		Commit:    s.Run.Event.CommitSHA,
		Status:    string(s.Run.Status),
		Jobs:      make([]jobLine, len(s.Run.Jobs)),
		Retrieved: s.Retrieved,
	}
	for i, j := range s.Run.Jobs {
		out.Jobs[i] = jobLine{Name: j.Job, Status: string(j.Status), Reason: j.Reason}
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".snapshot-*.json")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), c.path)
}
