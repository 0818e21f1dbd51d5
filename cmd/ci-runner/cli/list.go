package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/davarch/ci-runner/internal/infrastructure/config"
	"github.com/davarch/ci-runner/internal/infrastructure/pipelinefile"
	"github.com/spf13/cobra"
)

var (
	listOnlyEnabled  bool
	listOnlyDisabled bool
	listJSON         bool
)

type jobItem struct {
	Name    string `json:"name"`
	RunsOn  string `json:"runs_on"`
	Timeout string `json:"timeout"`
	Steps   int    `json:"steps"`
	Enabled bool   `json:"enabled"`
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List pipeline jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		p, err := pipelinefile.Load(cfg.Pipeline)
		if err != nil {
			return err
		}

		items := make([]jobItem, 0, len(p.Jobs))
		for _, j := range p.Jobs {
			enabled := !cfg.JobDisabled(j.Name)
			if listOnlyEnabled && !enabled {
				continue
			}
			if listOnlyDisabled && enabled {
				continue
			}
			items = append(items, jobItem{
				Name:    j.Name,
				RunsOn:  j.RunsOn,
				Timeout: j.Timeout.String(),
				Steps:   len(j.Steps),
				Enabled: enabled,
			})
		}

		if listJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(items)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "NAME\tRUNS_ON\tTIMEOUT\tSTEPS\tENABLED")
		for _, j := range items {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%t\n", j.Name, j.RunsOn, j.Timeout, j.Steps, j.Enabled)
		}
		_ = w.Flush()
		return nil
	},
}

func init() {
	listCmd.Flags().BoolVar(&listOnlyEnabled, "enabled", false, "show only enabled jobs")
	listCmd.Flags().BoolVar(&listOnlyDisabled, "disabled", false, "show only disabled jobs")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "print JSON")

	listCmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if listOnlyEnabled && listOnlyDisabled {
			return fmt.Errorf("flags --enabled and --disabled are mutually exclusive")
		}
		return nil
	}

	rootCmd.AddCommand(listCmd)
}
