//go:build unix

package store_fs

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"

	"github.com/davarch/ci-runner/internal/domain"
)

// Lock takes a non-blocking exclusive flock on the store directory. The lock
// lives until unlock is called or the process exits.
func (s *Store) Lock() (func() error, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, err
	}

	lf, err := os.OpenFile(filepath.Join(s.dir, ".lock"), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	if err := syscall.Flock(int(lf.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = lf.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, domain.ErrStoreLocked
		}
		return nil, err
	}

	return func() error {
		_ = syscall.Flock(int(lf.Fd()), syscall.LOCK_UN)
		return lf.Close()
	}, nil
}
