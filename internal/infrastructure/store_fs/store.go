// Package store_fs persists run records as one JSON document per run.
package store_fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/davarch/ci-runner/internal/domain"
)

type Store struct {
	dir string
	mu  sync.Mutex
}

func New(dir string) *Store { return &Store{dir: dir} }

func (s *Store) path(id string) string { return filepath.Join(s.dir, id+".json") }

func (s *Store) Save(_ context.Context, run domain.Run) error {
	if run.ID == "" || !filepath.IsLocal(run.ID) || strings.ContainsRune(run.ID, filepath.Separator) {
		return fmt.Errorf("invalid run id %q", run.ID)
	}

	b, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ".run-*.tmp")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path(run.ID))
}

func (s *Store) Get(_ context.Context, id string) (domain.Run, error) {
	if !filepath.IsLocal(id) {
		return domain.Run{}, domain.ErrRunNotFound
	}
	b, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return domain.Run{}, domain.ErrRunNotFound
	}
	if err != nil {
		return domain.Run{}, err
	}
	var run domain.Run
	if err := json.Unmarshal(b, &run); err != nil {
		return domain.Run{}, fmt.Errorf("run %s: %w", id, err)
	}
	return run, nil
}

// List returns every stored run, oldest first. Unreadable files are skipped.
func (s *Store) List(ctx context.Context) ([]domain.Run, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var runs []domain.Run
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		run, err := s.Get(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		runs = append(runs, run)
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].CreatedAt.Before(runs[j].CreatedAt) })
	return runs, nil
}
