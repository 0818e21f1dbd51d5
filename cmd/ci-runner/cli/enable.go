package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/davarch/ci-runner/internal/infrastructure/config"
	"github.com/davarch/ci-runner/internal/infrastructure/pipelinefile"
	"github.com/spf13/cobra"
)

var enableCmd = &cobra.Command{
	Use:   "enable <job_name>",
	Short: "Enable a pipeline job in config.yaml",
	Args:  cobra.MatchAll(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		i := slices.Index(cfg.DisabledJobs, name)
		if i < 0 {
			fmt.Printf("no change (job %q already enabled)\n", name)
			return nil
		}
		cfg.DisabledJobs = slices.Delete(cfg.DisabledJobs, i, i+1)

		if err := config.Save(cfgPath, cfg); err != nil {
			return err
		}

		fmt.Printf("enabled: %s\n", name)
		return nil
	},
}

func init() {
	enableCmd.ValidArgsFunction = func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		p, err := pipelinefile.Load(cfg.Pipeline)
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}

		out := make([]string, 0, len(p.Jobs))
		for _, j := range p.Jobs {
			if strings.HasPrefix(j.Name, toComplete) {
				out = append(out, j.Name)
			}
		}

		return out, cobra.ShellCompDirectiveNoFileComp
	}

	rootCmd.AddCommand(enableCmd)
}
