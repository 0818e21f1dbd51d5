package notify_libnotify

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestArgs_FailureIsCritical(t *testing.T) {
	n := New(Options{Expire: 1500 * time.Millisecond})
	got := n.args("❌ CI: failed", "Run abc (refs/heads/main)", "http://ci/runs/abc")
	want := []string{
		"--app-name=ci-runner",
		"--urgency=critical",
		"--expire-time=1500",
		"❌ CI: failed",
		"Run abc (refs/heads/main)\nhttp://ci/runs/abc",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestArgs_ExplicitUrgencyWins(t *testing.T) {
	n := New(Options{Urgency: "low"})
	got := n.args("✅ CI: succeeded", "", "http://ci")
	want := []string{"--app-name=ci-runner", "--urgency=low", "✅ CI: succeeded", "http://ci"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestNotify_SoftSwallowsMissingBinary(t *testing.T) {
	n := NewSoft(Options{})
	n.bin = "definitely-not-a-notify-binary"
	if err := n.Notify(context.Background(), "t", "b", ""); err != nil {
		t.Fatalf("soft notifier returned %v", err)
	}

	hard := New(Options{})
	hard.bin = "definitely-not-a-notify-binary"
	if err := hard.Notify(context.Background(), "t", "b", ""); err == nil {
		t.Fatal("expected error from strict notifier")
	}
}
