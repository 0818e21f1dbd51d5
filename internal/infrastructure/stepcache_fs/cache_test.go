package stepcache_fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCache_MissThenSaveThenHit(t *testing.T) {
	ctx := context.Background()
	c := New(t.TempDir())
	paths := []string{"target", "missing"}

	ws1 := t.TempDir()
	hit, err := c.Restore(ctx, "cargo-clippy", paths, ws1)
	if err != nil || hit {
		t.Fatalf("expected clean miss, hit=%t err=%v", hit, err)
	}

	writeFile(t, filepath.Join(ws1, "target", "debug", "build.rlib"), "artifact")
	if err := c.Save(ctx, "cargo-clippy", paths, ws1); err != nil {
		t.Fatalf("save: %v", err)
	}

	ws2 := t.TempDir()
	hit, err = c.Restore(ctx, "cargo-clippy", paths, ws2)
	if err != nil || !hit {
		t.Fatalf("expected hit, hit=%t err=%v", hit, err)
	}
	b, err := os.ReadFile(filepath.Join(ws2, "target", "debug", "build.rlib"))
	if err != nil || string(b) != "artifact" {
		t.Fatalf("restored content %q err=%v", b, err)
	}
}

func TestCache_SaveReplacesEntry(t *testing.T) {
	ctx := context.Background()
	c := New(t.TempDir())
	ws := t.TempDir()

	writeFile(t, filepath.Join(ws, "target", "old"), "1")
	if err := c.Save(ctx, "k", []string{"target"}, ws); err != nil {
		t.Fatal(err)
	}
	_ = os.Remove(filepath.Join(ws, "target", "old"))
	writeFile(t, filepath.Join(ws, "target", "new"), "2")
	if err := c.Save(ctx, "k", []string{"target"}, ws); err != nil {
		t.Fatal(err)
	}

	out := t.TempDir()
	if _, err := c.Restore(ctx, "k", []string{"target"}, out); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(out, "target", "old")); !os.IsNotExist(err) {
		t.Error("stale file restored")
	}
	if _, err := os.Stat(filepath.Join(out, "target", "new")); err != nil {
		t.Error("new file not restored")
	}
}

func TestCache_RejectsEscapingPaths(t *testing.T) {
	c := New(t.TempDir())
	if err := c.Save(context.Background(), "k", []string{"../etc"}, t.TempDir()); err == nil {
		t.Fatal("expected error for escaping path")
	}
}
