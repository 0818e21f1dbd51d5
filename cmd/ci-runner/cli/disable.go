package cli

import (
	"fmt"
	"slices"

	"github.com/davarch/ci-runner/internal/domain"
	"github.com/davarch/ci-runner/internal/infrastructure/config"
	"github.com/davarch/ci-runner/internal/infrastructure/pipelinefile"
	"github.com/spf13/cobra"
)

var disableCmd = &cobra.Command{
	Use:   "disable <job_name>",
	Short: "Disable a pipeline job in config.yaml",
	Args:  cobra.MatchAll(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		p, err := pipelinefile.Load(cfg.Pipeline)
		if err != nil {
			return err
		}
		if !slices.ContainsFunc(p.Jobs, func(j domain.Job) bool { return j.Name == name }) {
			return fmt.Errorf("job %q not found in pipeline", name)
		}

		if cfg.JobDisabled(name) {
			fmt.Printf("no change (job %q already disabled)\n", name)
			return nil
		}
		cfg.DisabledJobs = append(cfg.DisabledJobs, name)

		if err := config.Save(cfgPath, cfg); err != nil {
			return err
		}
		fmt.Printf("disabled: %s\n", name)

		return nil
	},
}

func init() {
	disableCmd.ValidArgsFunction = enableCmd.ValidArgsFunction

	rootCmd.AddCommand(disableCmd)
}
