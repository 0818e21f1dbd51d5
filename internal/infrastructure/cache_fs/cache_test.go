package cache_fs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/davarch/ci-runner/internal/domain"
)

func TestCache_WriteCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status", "snap.json")

	c := New(path)
	s := domain.Snapshot{
		Run: domain.Run{
			ID:       "r1",
			Workflow: "test",
			Ref:      "refs/heads/main",
			Event:    domain.Event{Type: domain.EventPush, CommitSHA: "abc"},
			Status:   domain.RunFailed,
			Jobs: []domain.JobInstance{
				{Job: "fmt", Status: domain.JobFailed, Reason: "exit 1"},
				{Job: "clippy", Status: domain.JobSucceeded},
			},
		},
		Retrieved: 123,
	}
	if err := c.Write(context.Background(), s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("file not created: %v", err)
	}
	var got snapshotFile
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != "failed" || len(got.Jobs) != 2 || got.Jobs[0].Reason != "exit 1" {
		t.Errorf("unexpected snapshot %+v", got)
	}
}

func TestCache_EmptyPath(t *testing.T) {
	if err := New("").Write(context.Background(), domain.Snapshot{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}
