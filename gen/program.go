package gen

import (
	"fmt"
	"strings"

	"github.com/rs/xid"

	"github.com/sarchlab/vsynth/diag"
	"github.com/sarchlab/vsynth/insts"
	"github.com/sarchlab/vsynth/memlayout"
	"github.com/sarchlab/vsynth/resource"
	"github.com/sarchlab/vsynth/verify"
)

// File is what the generation phase leaves for the check phase: every
// instance and how many data pages the layout used.
type File struct {
	RunID     string      `json:"run_id"`
	Seed      uint64      `json:"seed"`
	VLEN      int         `json:"vlen"`
	Strict    bool        `json:"strict"`
	Pages     int         `json:"pages"`
	Instances []*Instance `json:"instances"`
	Data      []string    `json:"data"`
}

// Request is one instruction instance to generate.
type Request struct {
	Mnemonic string       `json:"mnemonic" yaml:"mnemonic"`
	Label    string       `json:"label,omitempty" yaml:"label,omitempty"`
	Config   insts.Config `json:"config" yaml:"config"`
}

// Build generates every request in order and closes the layout.
func (g *Generator) Build(reqs []Request) (*File, error) {
	f := &File{
		RunID:  xid.New().String(),
		Seed:   g.res.RNG.Seed(),
		VLEN:   g.res.VLEN,
		Strict: g.res.Strict,
	}
	for _, req := range reqs {
		d, err := insts.New(req.Mnemonic, req.Label, req.Config)
		if err != nil {
			return nil, err
		}
		inst, err := g.Pre(d)
		if err != nil {
			return nil, fmt.Errorf("failed to generate %s: %w", req.Mnemonic, err)
		}
		f.Instances = append(f.Instances, inst)
	}

	data, err := g.Data()
	if err != nil {
		return nil, err
	}
	f.Data = data
	f.Pages = len(g.planner.Pages())
	g.log.Info("generated", "run", f.RunID, "instances", len(f.Instances), "pages", f.Pages)
	return f, nil
}

// Checker emits the check phase of a generated file without the generator
// that built it.
type Checker struct {
	file     *File
	verifier *verify.Verifier
}

// NewChecker creates a Checker for f. Memory addresses resolve against the
// file's pages.
func NewChecker(res *resource.Resource, f *File, format verify.Format) *Checker {
	return &Checker{
		file: f,
		verifier: verify.New(res,
			verify.WithFormat(format),
			verify.WithResolver(memlayout.PageResolver(res.DataBase, f.Pages))),
	}
}

// Check returns the check code of every instance, keyed by label. Instances
// missing from reports are an error unless they expect no update.
func (c *Checker) Check(reports map[string]verify.Report) (map[string][]string, error) {
	out := make(map[string][]string, len(c.file.Instances))
	for _, inst := range c.file.Instances {
		rep, ok := reports[inst.Label]
		if !ok {
			rep, ok = reports[strings.TrimSuffix(inst.Label, verify.NoUpdateSuffix)]
		}
		if !ok && !verify.IsNoUpdate(inst.Label) {
			return nil, diag.Reportf("no report for %s", inst.Label)
		}
		lines, err := c.verifier.Emit(&inst.Plan, rep)
		if err != nil {
			return nil, err
		}
		out[inst.Label] = lines
	}
	return out, nil
}

// Program assembles the final test file: each instance's setup followed by
// its checks, the pass and fail targets, then the data section.
func Program(res *resource.Resource, f *File, checks map[string][]string) []string {
	lines := []string{
		".section .text",
		".globl _start",
		"_start:",
	}
	if !res.Strict {
		lines = append(lines, fmt.Sprintf("li %s, 0", res.Accumulator))
	}
	for _, inst := range f.Instances {
		lines = append(lines, inst.Lines...)
		lines = append(lines, checks[inst.Label]...)
	}
	if !res.Strict {
		lines = append(lines, fmt.Sprintf("bnez %s, %s", res.Accumulator, res.FailTarget))
	}
	lines = append(lines,
		"j "+res.PassTarget,
		res.FailTarget+":",
		"j "+res.FailTarget,
		res.PassTarget+":",
		"j "+res.PassTarget,
	)
	return append(lines, f.Data...)
}

// Render joins program lines into assembler text, indenting instructions.
func Render(lines []string) string {
	var b strings.Builder
	for _, l := range lines {
		switch {
		case l == "":
		case strings.HasPrefix(l, ".section"), strings.HasPrefix(l, ".globl"),
			strings.HasPrefix(l, "#"), strings.HasSuffix(l, ":"):
		case isLabeled(l):
		default:
			b.WriteString("    ")
		}
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return b.String()
}

func isLabeled(l string) bool {
	i := strings.IndexByte(l, ':')
	return i > 0 && !strings.ContainsAny(l[:i], " \t,")
}
