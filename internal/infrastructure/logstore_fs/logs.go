// Package logstore_fs keeps one log file per executed step.
package logstore_fs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LogStore lays logs out as <base>/<run>/<job>/<NN>-<step>.log.
type LogStore struct {
	BaseDir string
}

func New(baseDir string) *LogStore {
	return &LogStore{BaseDir: baseDir}
}

func (s *LogStore) Open(runID, job string, index int, step string) (io.WriteCloser, string, error) {
	dir := filepath.Join(s.BaseDir, sanitize(runID), sanitize(job))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", err
	}

	path := filepath.Join(dir, fmt.Sprintf("%02d-%s.log", index, sanitize(step)))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, "", err
	}
	return f, path, nil
}

// sanitize keeps names safe for use as a single path element.
func sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '.' || r == '/':
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "step"
	}
	if b.Len() > 64 {
		return b.String()[:64]
	}
	return b.String()
}
