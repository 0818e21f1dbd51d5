// Package stepcache_fs stores cache-restore entries as directory trees.
package stepcache_fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

type Cache struct {
	dir string
}

func New(dir string) *Cache { return &Cache{dir: dir} }

func (c *Cache) entry(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:8]))
}

// Restore copies every cached path into workDir. A missing entry is a miss,
// not an error.
func (c *Cache) Restore(ctx context.Context, key string, paths []string, workDir string) (bool, error) {
	entry := c.entry(key)
	if _, err := os.Stat(entry); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, err
	}

	for _, p := range paths {
		if !filepath.IsLocal(p) {
			return false, fmt.Errorf("cache path %q escapes the workspace", p)
		}
		src := filepath.Join(entry, p)
		if _, err := os.Lstat(src); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := copyTree(ctx, src, filepath.Join(workDir, p)); err != nil {
			return false, err
		}
	}
	return true, nil
}

// Save replaces the entry for key with the current content of paths.
func (c *Cache) Save(ctx context.Context, key string, paths []string, workDir string) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.MkdirTemp(c.dir, ".save-")
	if err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(tmp) }()

	for _, p := range paths {
		if !filepath.IsLocal(p) {
			return fmt.Errorf("cache path %q escapes the workspace", p)
		}
		src := filepath.Join(workDir, p)
		if _, err := os.Lstat(src); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := copyTree(ctx, src, filepath.Join(tmp, p)); err != nil {
			return err
		}
	}

	entry := c.entry(key)
	if err := os.RemoveAll(entry); err != nil {
		return err
	}
	return os.Rename(tmp, entry)
}

func copyTree(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case info.Mode()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			_ = os.Remove(target)
			return os.Symlink(link, target)
		case info.Mode().IsRegular():
			return copyFile(path, target, info.Mode().Perm())
		default:
			return nil
		}
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
