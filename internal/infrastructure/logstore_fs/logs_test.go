package logstore_fs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpen_WritesUnderRunAndJob(t *testing.T) {
	base := t.TempDir()
	s := New(base)

	w, path, err := s.Open("run-1", "zk-cargo-test", 3, "cargo nextest run --package '*'")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := w.Write([]byte("ok\n")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	want := filepath.Join(base, "run-1", "zk-cargo-test", "03-cargo_nextest_run_--package_.log")
	if path != want {
		t.Fatalf("path = %s, want %s", path, want)
	}
	b, err := os.ReadFile(path)
	if err != nil || string(b) != "ok\n" {
		t.Fatalf("unexpected content %q err=%v", b, err)
	}
}

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"":            "step",
		"***":         "step",
		"../etc":      "___etc",
		"forge fmt":   "forge_fmt",
		"cargo-hack_": "cargo-hack_",
	}
	for in, want := range cases {
		if got := sanitize(in); got != want {
			t.Errorf("sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}
