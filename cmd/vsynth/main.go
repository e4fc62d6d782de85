// Package main provides the vsynth command, which synthesizes self-checking
// RISC-V vector test programs.
//
// A run has two phases. "vsynth gen" turns instruction plan files into
// setup programs and state files; the setup program runs on the simulator
// under test, which reports the state each instruction left behind. "vsynth
// post" then turns the state and those reports into the final program with
// its checks. "vsynth check" runs a program on the built-in emulator, and can
// stand in for the simulator by writing the reports itself.
package main

import (
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/rs/xid"
	"github.com/spf13/cobra"

	"github.com/sarchlab/vsynth/config"
)

type options struct {
	configPath string
	verbosity  int
	seed       uint64
	vlen       int
	strict     bool
	format     string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "vsynth",
		Short:         "Synthesize self-checking RISC-V vector test programs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to a JSON or YAML configuration file")
	flags.IntVarP(&opts.verbosity, "verbose", "v", 0, "Log verbosity (0-2)")
	flags.Uint64Var(&opts.seed, "seed", 0, "Random seed (overrides the configuration)")
	flags.IntVar(&opts.vlen, "vlen", 0, "Vector register width in bits (overrides the configuration)")
	flags.BoolVar(&opts.strict, "strict", true, "Branch to the fail target on the first mismatch")
	flags.StringVar(&opts.format, "format", "", "Memory report format: auto, wide or paired")

	root.AddCommand(
		newGenCommand(opts),
		newPostCommand(opts),
		newCheckCommand(opts),
	)
	return root
}

// logger builds the stderr logger of one command invocation, tagged with a
// fresh run id.
func (o *options) logger() logr.Logger {
	log := funcr.New(func(prefix, args string) {
		if prefix != "" {
			fmt.Fprintf(os.Stderr, "%s: %s\n", prefix, args)
			return
		}
		fmt.Fprintln(os.Stderr, args)
	}, funcr.Options{Verbosity: o.verbosity})
	return log.WithName("vsynth").WithValues("run", xid.New().String())
}

// load resolves the configuration: defaults, then the file, then the
// environment, then command-line flags.
func (o *options) load(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if o.configPath != "" {
		loaded, err := config.LoadConfig(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.ApplyEnv()

	flags := cmd.Flags()
	if flags.Changed("seed") {
		cfg.Seed = o.seed
	}
	if flags.Changed("vlen") {
		cfg.VLEN = o.vlen
	}
	if flags.Changed("strict") {
		cfg.Strict = o.strict
	}
	if flags.Changed("format") {
		if err := cfg.Format.UnmarshalText([]byte(o.format)); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
