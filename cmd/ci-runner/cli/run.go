package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/davarch/ci-runner/internal/domain"
	"github.com/davarch/ci-runner/internal/infrastructure/config"
	"github.com/davarch/ci-runner/internal/infrastructure/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	runEvent string
	runRef   string
	runHead  string
	runSHA   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once for a single event and exit with its verdict",
	Long: `Run admits one event, executes every job and exits with
0 when the run succeeded, 1 when it failed and 2 when it was cancelled.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		log := logging.New(cfg.Log.Level)
		defer func() { _ = log.Sync() }()

		a, err := build(cfg, log)
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		if err := a.orch.Restore(ctx); errors.Is(err, domain.ErrStoreLocked) {
			return fmt.Errorf("%s: %w", a.cfg.Store.Dir, err)
		} else if err != nil {
			log.Warn("run history not restored", zap.Error(err))
		}
		defer func() { _ = a.orch.Close() }()

		ev := domain.Event{
			Type:      domain.EventType(runEvent),
			TargetRef: runRef,
			HeadRef:   runHead,
			CommitSHA: runSHA,
		}
		run, err := a.orch.Run(ctx, ev)
		if errors.Is(err, domain.ErrRejectedEvent) || errors.Is(err, domain.ErrPaused) {
			return fmt.Errorf("event not admitted: %w", err)
		}
		if err != nil {
			return err
		}

		printRun(run)
		return verdict(run.Status)
	},
}

func verdict(s domain.RunStatus) error {
	switch s {
	case domain.RunSucceeded:
		return nil
	case domain.RunCancelled:
		return exitCode(2)
	default:
		return exitCode(1)
	}
}

func printRun(run domain.Run) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "run %s\t%s\t%s\n", run.ID, run.Ref, statusText(string(run.Status)))
	for _, j := range run.Jobs {
		line := statusText(string(j.Status))
		if j.Reason != "" {
			line += "  " + dimStyle.Render(j.Reason)
		}
		_, _ = fmt.Fprintf(w, "  %s\t%s\t%s\n", j.Job, j.Environment, line)
	}
	_ = w.Flush()
}

func init() {
	runCmd.Flags().StringVar(&runEvent, "event", string(domain.EventPush), "event type (push|pull_request)")
	runCmd.Flags().StringVar(&runRef, "ref", "main", "target branch")
	runCmd.Flags().StringVar(&runHead, "head", "", "head branch of a pull request")
	runCmd.Flags().StringVar(&runSHA, "sha", "", "commit to check out")
	_ = runCmd.MarkFlagRequired("sha")

	rootCmd.AddCommand(runCmd)
}
