package notify_libnotify

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const appName = "ci-runner"

// Notifier raises desktop notifications through notify-send.
type Notifier struct {
	soft bool
	opt  Options
	bin  string
}

type Options struct {
	Urgency string
	Expire  time.Duration
}

func New(opt Options) *Notifier     { return &Notifier{opt: opt, bin: "notify-send"} }
func NewSoft(opt Options) *Notifier { return &Notifier{soft: true, opt: opt, bin: "notify-send"} }

// Notify shows title and body. Failures are swallowed by soft notifiers so a
// headless host does not fail runs.
func (n *Notifier) Notify(ctx context.Context, title, body, url string) error {
	cmd := exec.CommandContext(ctx, n.bin, n.args(title, body, url)...)
	if err := cmd.Run(); err != nil {
		if n.soft {
			return nil
		}
		return err
	}
	return nil
}

func (n *Notifier) args(title, body, url string) []string {
	if strings.TrimSpace(url) != "" {
		if body == "" {
			body = url
		} else {
			body = body + "\n" + url
		}
	}

	args := []string{"--app-name=" + appName}
	urgency := n.opt.Urgency
	if urgency == "" && strings.Contains(title, "failed") {
		urgency = "critical"
	}
	if urgency != "" {
		args = append(args, "--urgency="+urgency)
	}
	if n.opt.Expire > 0 {
		ms := strconv.Itoa(int(n.opt.Expire / time.Millisecond))
		args = append(args, "--expire-time="+ms)
	}
	return append(args, title, body)
}
