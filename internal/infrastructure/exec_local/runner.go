// Package exec_local runs step scripts as local shell processes.
package exec_local

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/davarch/ci-runner/internal/domain"
)

// Runner executes scripts with `<shell> -c` in their own process group so
// that cancellation reaches every child a script spawns.
type Runner struct {
	shell string
	grace time.Duration
}

func New(shell string, grace time.Duration) *Runner {
	if shell == "" {
		shell = "bash"
	}
	if grace <= 0 {
		grace = 10 * time.Second
	}
	return &Runner{shell: shell, grace: grace}
}

// Run blocks until the script exits or ctx ends. On cancellation the group
// receives SIGTERM and, after the grace period, SIGKILL.
func (r *Runner) Run(ctx context.Context, c domain.Command, out io.Writer) (int, error) {
	cmd := exec.CommandContext(ctx, r.shell, "-c", c.Script)
	cmd.Dir = c.Dir
	cmd.Env = mergeEnv(os.Environ(), c.Env)
	cmd.Stdout = out
	cmd.Stderr = out
	setProcessGroup(cmd)

	var cancelled atomic.Bool
	killed := make(chan struct{})
	cmd.Cancel = func() error {
		cancelled.Store(true)
		time.AfterFunc(r.grace, func() {
			_ = killGroup(cmd)
			close(killed)
		})
		return terminateGroup(cmd)
	}
	cmd.WaitDelay = r.grace

	err := cmd.Run()
	if ctx.Err() != nil {
		// The shell may be gone while group members that ignore SIGTERM
		// live on; they are killed when the grace period ends.
		if cancelled.Load() && groupAlive(cmd) {
			<-killed
		}
		return -1, context.Cause(ctx)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return -1, err
	}
	return 0, nil
}

// mergeEnv overlays vars on base, later keys winning, in a stable order.
func mergeEnv(base []string, vars map[string]string) []string {
	m := make(map[string]string, len(base)+len(vars))
	for _, kv := range base {
		if k, v, ok := strings.Cut(kv, "="); ok {
			m[k] = v
		}
	}
	for k, v := range vars {
		m[k] = v
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k + "=" + m[k]
	}
	return out
}
