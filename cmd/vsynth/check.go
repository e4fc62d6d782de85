package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sarchlab/vsynth/config"
	"github.com/sarchlab/vsynth/diag"
	"github.com/sarchlab/vsynth/emu"
	"github.com/sarchlab/vsynth/gen"
	"github.com/sarchlab/vsynth/loader"
)

func newCheckCommand(opts *options) *cobra.Command {
	var (
		statePath  string
		reportPath string
		maxInsts   uint64
	)
	cmd := &cobra.Command{
		Use:   "check <program.S>",
		Short: "Run a program on the built-in emulator",
		Long: `Check runs a program and prints the label it ended at. It fails
unless the program reached the pass target.

With --state and --reports-out, the emulator records the state each
generated instruction leaves behind, in the format "vsynth post" reads,
so a setup program can be checked without an external simulator. Its
memory reports use the wide format.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			log := opts.logger()
			if cfg.BigEndian {
				return diag.Configf("the emulator is little-endian only")
			}

			var f *gen.File
			if statePath != "" {
				if f, err = loader.LoadState(statePath); err != nil {
					return err
				}
				if cfg, err = fileConfig(cfg, f); err != nil {
					return err
				}
			}

			text, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read program: %w", err)
			}

			e := emu.NewEmulator(
				emu.WithLogger(log),
				emu.WithVLEN(cfg.VLEN),
				emu.WithDataBase(cfg.DataBase),
				emu.WithTargets(cfg.PassTarget, cfg.FailTarget),
				emu.WithMaxInstructions(maxInsts),
			)
			if err := e.Load(string(text)); err != nil {
				return err
			}
			if f != nil {
				if err := watch(e, f); err != nil {
					return err
				}
			}

			code := e.Run()
			fmt.Fprintln(cmd.OutOrStdout(), e.EndLabel())
			log.Info("finished", "program", args[0], "exit", code, "instructions", e.InstructionCount())

			if reportPath != "" {
				if err := loader.SaveReports(reportPath, e.Reports()); err != nil {
					return err
				}
			}
			return verdict(cfg, e, code)
		},
	}
	cmd.Flags().StringVarP(&statePath, "state", "s", "", "State file of the program, to record reports")
	cmd.Flags().StringVarP(&reportPath, "reports-out", "r", "", "Write recorded reports to this file")
	cmd.Flags().Uint64Var(&maxInsts, "max-instructions", 10_000_000, "Stop after this many instructions (0 for no limit)")
	cmd.MarkFlagsRequiredTogether("state", "reports-out")
	return cmd
}

func watch(e *emu.Emulator, f *gen.File) error {
	for _, inst := range f.Instances {
		var (
			addr uint64
			size int
		)
		if inst.Region != nil {
			addr, size = inst.Region.Addr, inst.Region.Size
		}
		if err := e.Watch(inst.Label, &inst.Plan, addr, size); err != nil {
			return err
		}
	}
	return nil
}

func verdict(cfg *config.Config, e *emu.Emulator, code int64) error {
	switch code {
	case emu.ExitPassed:
		return nil
	case emu.ExitFailed:
		return fmt.Errorf("program reached %s", cfg.FailTarget)
	case -1:
		return fmt.Errorf("emulation stopped after %d instructions", e.InstructionCount())
	}
	return fmt.Errorf("program ended at %s with code %d", e.EndLabel(), code)
}
