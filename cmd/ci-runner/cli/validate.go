package cli

import (
	"fmt"

	"github.com/davarch/ci-runner/internal/infrastructure/config"
	"github.com/davarch/ci-runner/internal/infrastructure/pipelinefile"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var validateCmd = &cobra.Command{
	Use:   "validate [pipeline_file]",
	Short: "Check a pipeline file and report every problem found",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		path := cfg.Pipeline
		if len(args) == 1 {
			path = args[0]
		}

		p, err := pipelinefile.Read(path)
		if err != nil {
			return err
		}

		if path == "" {
			path = "(built-in)"
		}
		err = multierr.Append(pipelinefile.Validate(p), pipelinefile.CheckEnvironments(p.Jobs, cfg.EnvironmentTags()))
		if err != nil {
			for _, e := range multierr.Errors(err) {
				fmt.Println("  -", e)
			}
			return fmt.Errorf("%s: pipeline invalid", path)
		}
		steps := 0
		for _, j := range p.Jobs {
			steps += len(j.Steps)
		}
		fmt.Printf("%s: ok, %d jobs, %d steps\n", path, len(p.Jobs), steps)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
