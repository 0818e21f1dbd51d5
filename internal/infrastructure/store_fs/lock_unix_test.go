//go:build unix

package store_fs

import (
	"context"
	"errors"
	"testing"

	"github.com/davarch/ci-runner/internal/domain"
)

func TestLock_ExclusiveUntilReleased(t *testing.T) {
	dir := t.TempDir()
	first, second := New(dir), New(dir)

	unlock, err := first.Lock()
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}
	if _, err := second.Lock(); !errors.Is(err, domain.ErrStoreLocked) {
		t.Fatalf("expected ErrStoreLocked, got %v", err)
	}

	if err := unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	unlock2, err := second.Lock()
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	_ = unlock2()
}

func TestLock_FileHiddenFromList(t *testing.T) {
	s := New(t.TempDir())
	unlock, err := s.Lock()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = unlock() }()

	runs, err := s.List(context.Background())
	if err != nil || len(runs) != 0 {
		t.Fatalf("runs=%v err=%v", runs, err)
	}
}
