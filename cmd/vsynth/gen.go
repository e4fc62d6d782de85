package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sarchlab/vsynth/config"
	"github.com/sarchlab/vsynth/diag"
	"github.com/sarchlab/vsynth/emu"
	"github.com/sarchlab/vsynth/gen"
	"github.com/sarchlab/vsynth/loader"
	"github.com/sarchlab/vsynth/memlayout"
)

func newGenCommand(opts *options) *cobra.Command {
	var (
		outDir string
		jobs   int
	)
	cmd := &cobra.Command{
		Use:   "gen <plan>...",
		Short: "Generate setup programs and state files from instruction plans",
		Long: `Generate reads each plan file (a JSON or YAML list of instruction
requests) and writes <name>.S, the setup program to run on the simulator,
and <name>.state.json, the state "vsynth post" needs. File i of the run
uses seed+i.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outDir, 0755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
			return generateAll(cmd.Context(), opts.logger(), cfg, args, outDir, jobs)
		},
	}
	cmd.Flags().StringVarP(&outDir, "out-dir", "o", ".", "Directory for generated files")
	cmd.Flags().IntVarP(&jobs, "jobs", "j", 4, "Plan files generated in parallel")
	return cmd
}

// generateAll generates every plan file. Each file owns its resource and
// random stream, so the files are independent.
func generateAll(
	ctx context.Context,
	log logr.Logger,
	cfg *config.Config,
	plans []string,
	outDir string,
	jobs int,
) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, jobs))
	for i, plan := range plans {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return generate(log, cfg, plan, cfg.Seed+uint64(i), outDir)
		})
	}
	return g.Wait()
}

func generate(log logr.Logger, cfg *config.Config, plan string, seed uint64, outDir string) error {
	name := stem(plan)
	log = log.WithValues("plan", name, "seed", seed)

	reqs, err := loader.LoadRequests(plan)
	if err != nil {
		return err
	}
	res, err := cfg.Resource(seed, log)
	if err != nil {
		return err
	}
	g := gen.New(res, gen.WithLogger(log), gen.WithFormat(cfg.Format))
	f, err := g.Build(reqs)
	if err != nil {
		return fmt.Errorf("%s: %w", plan, err)
	}
	program := gen.Program(res, f, nil)
	if !res.BigEndian {
		if err := checkData(g.Planner(), gen.Render(program), res.DataBase); err != nil {
			return fmt.Errorf("%s: %w", plan, err)
		}
	}

	if err := loader.SaveState(filepath.Join(outDir, name+".state.json"), f); err != nil {
		return err
	}
	if err := loader.SaveProgram(filepath.Join(outDir, name+".S"), program); err != nil {
		return err
	}
	log.V(1).Info("wrote setup program", "dir", outDir)
	return nil
}

// checkData assembles the program and compares its data section with the
// page contents the planner predicted.
func checkData(p *memlayout.Planner, text string, base uint64) error {
	n := uint64(len(p.Pages())) * memlayout.PageSize
	if n == 0 {
		return nil
	}
	img, err := p.Image()
	if err != nil {
		return err
	}
	prog, err := emu.Assemble(text, base)
	if err != nil {
		return diag.Wrap(diag.CategoryInternal, err, "generated program does not assemble")
	}
	if prog.Memory.Size() != n {
		return diag.Internalf("data section holds %d bytes, the layout %d", prog.Memory.Size(), n)
	}
	want, err := img.Read(0, n)
	if err != nil {
		return err
	}
	got, err := prog.Memory.Read(base, n)
	if err != nil {
		return err
	}
	for i := range got {
		if got[i] != want[i] {
			return diag.Internalf("data byte at 0x%x is 0x%02x, the layout predicted 0x%02x",
				base+uint64(i), got[i], want[i])
		}
	}
	return nil
}

// stem is the file name without directory and extension.
func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
