package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/davarch/ci-runner/internal/domain"
	"github.com/davarch/ci-runner/internal/infrastructure/config"
	"github.com/davarch/ci-runner/internal/infrastructure/store_fs"
	"github.com/spf13/cobra"
)

var (
	historyLimit int
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history [run_id]",
	Short: "Show past runs, or one run in detail",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		store := store_fs.New(filepath.Join(cfg.Store.Dir, "runs"))

		if len(args) == 1 {
			run, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if historyJSON {
				return printJSON(run)
			}
			printRun(run)
			return nil
		}

		runs, err := store.List(cmd.Context())
		if err != nil {
			return err
		}
		for i, j := 0, len(runs)-1; i < j; i, j = i+1, j-1 {
			runs[i], runs[j] = runs[j], runs[i]
		}
		if historyLimit > 0 && len(runs) > historyLimit {
			runs = runs[:historyLimit]
		}

		if historyJSON {
			return printJSON(runs)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "ID\tCREATED\tEVENT\tREF\tFAILED\tSTATUS")
		for _, r := range runs {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				r.ID, r.CreatedAt.Local().Format(time.DateTime), r.Event.Type, r.Ref, failedJobs(r), statusText(string(r.Status)))
		}
		_ = w.Flush()
		return nil
	},
}

func failedJobs(r domain.Run) int {
	n := 0
	for _, j := range r.Jobs {
		if j.Status.IsFailure() {
			n++
		}
	}
	return n
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to show (0 for all)")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "print JSON")

	rootCmd.AddCommand(historyCmd)
}
