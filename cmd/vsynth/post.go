package main

import (
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/sarchlab/vsynth/config"
	"github.com/sarchlab/vsynth/gen"
	"github.com/sarchlab/vsynth/loader"
	"github.com/sarchlab/vsynth/verify"
)

func newPostCommand(opts *options) *cobra.Command {
	var (
		statePath  string
		reportPath string
		outPath    string
	)
	cmd := &cobra.Command{
		Use:   "post",
		Short: "Emit the final self-checking program from a state file and simulator reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			log := opts.logger()

			f, err := loader.LoadState(statePath)
			if err != nil {
				return err
			}
			reports, err := loader.LoadReports(reportPath)
			if err != nil {
				return err
			}

			lines, err := finish(cfg, f, reports)
			if err != nil {
				return err
			}
			if err := loader.SaveProgram(outPath, lines); err != nil {
				return err
			}
			log.Info("wrote program", "state", f.RunID, "instances", len(f.Instances), "out", outPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&statePath, "state", "s", "", "State file written by gen")
	cmd.Flags().StringVarP(&reportPath, "reports", "r", "", "Simulator report file (JSON, YAML or text)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "test.S", "Output program")
	_ = cmd.MarkFlagRequired("state")
	_ = cmd.MarkFlagRequired("reports")
	return cmd
}

// fileConfig returns the configuration a state file was generated with:
// the file's geometry overrides cfg.
func fileConfig(cfg *config.Config, f *gen.File) (*config.Config, error) {
	c := cfg.Clone()
	c.VLEN = f.VLEN
	c.Strict = f.Strict
	return c, c.Validate()
}

func finish(cfg *config.Config, f *gen.File, reports map[string]verify.Report) ([]string, error) {
	c, err := fileConfig(cfg, f)
	if err != nil {
		return nil, err
	}
	res, err := c.Resource(f.Seed, logr.Discard())
	if err != nil {
		return nil, err
	}
	checks, err := gen.NewChecker(res, f, c.Format).Check(reports)
	if err != nil {
		return nil, err
	}
	return gen.Program(res, f, checks), nil
}
