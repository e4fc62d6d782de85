// Package gen drives the synthesis of one test file. For every instruction
// instance it establishes the vector context, picks registers, synthesizes
// values, plans memory and emits the setup code (Pre); once the simulator
// has reported the resulting state it emits the checks (Post).
//
// Random draws happen in a fixed order per instance:
//  1. vl, when the requested length is random
//  2. the v0 mask reservation
//  3. registers, slot by slot, then the work register
//  4. mask values
//  5. addressing parameters (strides, indices)
//  6. operand values, slot by slot
//  7. vstart
//  8. memory footprint contents
package gen

import (
	"fmt"
	"math/bits"

	"github.com/go-logr/logr"

	"github.com/sarchlab/vsynth/diag"
	"github.com/sarchlab/vsynth/fpvalue"
	"github.com/sarchlab/vsynth/insts"
	"github.com/sarchlab/vsynth/lsmode"
	"github.com/sarchlab/vsynth/memlayout"
	"github.com/sarchlab/vsynth/operand"
	"github.com/sarchlab/vsynth/regalloc"
	"github.com/sarchlab/vsynth/resource"
	"github.com/sarchlab/vsynth/verify"
	"github.com/sarchlab/vsynth/vtype"
)

// Scratch registers of the setup code.
const (
	scratchCSR  = "t1"
	scratchAddr = "t2"
)

// Region is a memory range an instruction writes.
type Region struct {
	Addr uint64 `json:"addr"`
	Size int    `json:"size"`
}

// Instance is one generated instruction: its setup code and what its
// checks need once the report arrives.
type Instance struct {
	Label    string       `json:"label"`
	Mnemonic string       `json:"mnemonic"`
	Config   insts.Config `json:"config"`
	Instr    string       `json:"instr"`
	Lines    []string     `json:"lines"`
	Plan     verify.Plan  `json:"plan"`
	Region   *Region      `json:"region,omitempty"`
}

// Generator synthesizes the instances of one file. It owns the file's data
// pages.
type Generator struct {
	res      *resource.Resource
	log      logr.Logger
	format   verify.Format
	planner  *memlayout.Planner
	verifier *verify.Verifier

	count int
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the logger.
func WithLogger(log logr.Logger) Option {
	return func(g *Generator) {
		g.log = log
	}
}

// WithFormat sets the memory report layout of the simulator backend.
func WithFormat(f verify.Format) Option {
	return func(g *Generator) {
		g.format = f
	}
}

// New creates a Generator over res.
func New(res *resource.Resource, opts ...Option) *Generator {
	g := &Generator{res: res, log: res.Log}
	for _, opt := range opts {
		opt(g)
	}
	g.planner = memlayout.NewPlanner(res, memlayout.WithLogger(g.log))
	g.verifier = verify.New(res,
		verify.WithFormat(g.format),
		verify.WithLogger(g.log),
		verify.WithResolver(g.planner.Resolve))
	return g
}

// Planner returns the file's memory layout.
func (g *Generator) Planner() *memlayout.Planner {
	return g.planner
}

// Pre synthesizes d and returns its setup code. A descriptor without a
// label is numbered after the instances before it.
func (g *Generator) Pre(d *insts.Descriptor) (*Instance, error) {
	g.count++
	if d.Label == "" {
		d.Label = fmt.Sprintf("test_%d", g.count)
	}
	if d.Alloc == nil {
		d.Alloc = regalloc.New(g.res.RNG)
	}

	var (
		inst *Instance
		err  error
	)
	if d.Shape.Family == insts.FamilyScalarFP {
		inst, err = g.preScalar(d)
	} else {
		inst, err = g.preVector(d)
	}
	if err != nil {
		return nil, err
	}
	g.log.V(1).Info("instance", "label", inst.Label, "instr", inst.Instr,
		"vl", inst.Plan.VL, "vstart", inst.Plan.VStart, "noUpdate", verify.IsNoUpdate(inst.Label))
	return inst, nil
}

// Post returns the checks for inst against the simulator's report.
func (g *Generator) Post(inst *Instance, report verify.Report) ([]string, error) {
	return g.verifier.Emit(&inst.Plan, report)
}

// Data closes the layout and returns the data section.
func (g *Generator) Data() ([]string, error) {
	return g.planner.Finalize()
}

func (g *Generator) preVector(d *insts.Descriptor) (*Instance, error) {
	ctx, err := vtype.Extract(d, g.res.VLEN)
	if err != nil {
		return nil, diag.Wrap(diag.CategoryConfig, err, "%s", d)
	}
	if ctx.Kind == vtype.KindVsetivli && !g.res.AtLeast("0.10.0") {
		return nil, diag.Configf("%s: vsetivli needs vector extension 0.10 or later", d)
	}

	mode, err := lsmode.For(d, g.res)
	if err != nil {
		return nil, err
	}
	if mode != nil {
		if err := mode.Configure(ctx); err != nil {
			return nil, err
		}
	}
	if err := g.res.Supports(ctx.SEW, ctx.LMUL); err != nil {
		return nil, diag.Wrap(diag.CategoryConfig, err, "%s", d)
	}

	// 1. vl
	if ctx.VL == vtype.VLRandom {
		ctx.VL = vtype.VL(1 + g.res.RNG.IntN(ctx.VLMAX()))
		d.Config.AVL = ctx.VL
	}
	vl := ctx.EffectiveVL()

	// 2, 3. mask reservation and registers
	sel := operand.NewSelector(d, ctx)
	if err := sel.ReserveMask(); err != nil {
		return nil, err
	}
	if err := sel.SelectAll(); err != nil {
		return nil, err
	}
	work := -1
	if hasVectorDest(d) {
		wg, err := sel.ReserveWork()
		if err != nil {
			return nil, err
		}
		work = wg.Base
	}

	// 4. mask values
	var mask []uint64
	if sel.Masked() {
		mask = operand.MaskWords(g.res.RNG, g.res.VLEN)
	}

	// 5. addressing parameters
	if mode != nil {
		if err := mode.DrawParams(sel); err != nil {
			return nil, err
		}
	}

	// 6. operand values
	if err := operand.NewSynth(g.res, d).Fill(sel); err != nil {
		return nil, err
	}

	// 7. vstart
	vstart := g.drawVStart(d, vl)

	// 8. memory
	var region *Region
	if mp, ok := mode.(lsmode.MemoryPlanner); ok {
		if err := mp.PlanMemory(g.planner); err != nil {
			return nil, err
		}
		region = regionOf(mode)
	}

	loads, err := g.requestLoads(d, sel, mask, ctx)
	if err != nil {
		return nil, err
	}

	plan := verify.Plan{
		VLEN:   g.res.VLEN,
		SEW:    ctx.SEW,
		VL:     vl,
		VStart: vstart,
		TA:     ctx.TA,
		MA:     ctx.MA,
		Masked: d.Config.Masked && d.Shape.Maskable,
		Work:   work,
		Store:  d.Shape.IsStore(),
		VXSat:  d.Shape.FixedPoint,
	}
	if plan.Masked {
		plan.Mask = mask
	}
	if plan.Store && mode != nil {
		plan.MemEEW = mode.EEW()
	}
	if plan.Dests, err = g.dests(d, sel, mode, vl); err != nil {
		return nil, err
	}
	plan.Label = verify.MarkLabel(d.Label, verify.NoUpdateExpected(&plan))

	instr, err := d.Render()
	if err != nil {
		return nil, err
	}

	lines := []string{fmt.Sprintf("# %s: %s (e%d, %s, vl %d, vstart %d)",
		plan.Label, instr, ctx.SEW, ctx.LMUL, vl, vstart)}
	lines = append(lines, loads...)

	scalars, err := g.scalarSetup(d)
	if err != nil {
		return nil, err
	}
	lines = append(lines, scalars...)

	if pre, ok := mode.(lsmode.PreSetup); ok {
		code, err := pre.PreSetup()
		if err != nil {
			return nil, err
		}
		lines = append(lines, code...)
	}
	lines = append(lines, g.csrSetup(d)...)
	lines = append(lines, ctx.Establish()...)
	if vstart > 0 {
		lines = append(lines, vtype.EmitVStart(vstart, scratchCSR)...)
	}
	lines = append(lines, plan.Label+": "+instr)
	if post, ok := mode.(lsmode.PostSetup); ok {
		lines = append(lines, post.PostSetup()...)
	}

	return &Instance{
		Label:    plan.Label,
		Mnemonic: d.Name,
		Config:   d.Config,
		Instr:    instr,
		Lines:    lines,
		Plan:     plan,
		Region:   region,
	}, nil
}

// drawVStart resolves the vstart disposition. Instructions that require
// vstart to be zero always get zero.
func (g *Generator) drawVStart(d *insts.Descriptor, vl int) int {
	vs := d.Config.VStart
	switch vs.Mode {
	case vtype.VStartRandom:
		n := g.res.RNG.IntN(max(1, vl))
		if !vstartAllowed(d) {
			return 0
		}
		return n
	case vtype.VStartFixed:
		if !vstartAllowed(d) {
			g.log.V(1).Info("vstart forced to zero", "label", d.Label, "requested", vs.Value)
			return 0
		}
		return vs.Value
	}
	return 0
}

func vstartAllowed(d *insts.Descriptor) bool {
	switch d.Shape.Family {
	case insts.FamilyReduction, insts.FamilyMaskUnary:
		return false
	}
	if d.Shape.IsMemory() && d.Shape.Mem.Kind == insts.MemMask {
		return false
	}
	return d.Name != "vcompress.vm"
}

func hasVectorDest(d *insts.Descriptor) bool {
	for _, s := range d.Dests() {
		if s.IsVector() {
			return true
		}
	}
	return false
}

// requestLoads queues every vector operand and the mask and returns the
// code that loads them.
func (g *Generator) requestLoads(
	d *insts.Descriptor,
	sel *operand.Selector,
	mask []uint64,
	ctx *vtype.Context,
) ([]string, error) {
	for i := range d.Slots {
		s := &d.Slots[i]
		if !s.IsVector() {
			continue
		}
		grp, ok := sel.Group(s.Field)
		if !ok {
			return nil, diag.Internalf("%s: vector slot %s was not selected", d, s.Field)
		}
		form := memlayout.FormElement
		if s.Regs > 0 {
			form = memlayout.FormWhole
		}
		if err := g.planner.Request(grp, s.Operand.Values(), grp.LoadEEW(), form); err != nil {
			return nil, err
		}
	}
	if mask != nil {
		v0 := operand.Group{
			Field: "v0", Base: operand.MaskReg, EEW: 1, EMUL: vtype.LMUL1, Regs: 1, NF: 1, Mask: true,
		}
		if err := g.planner.Request(v0, mask, v0.LoadEEW(), memlayout.FormElement); err != nil {
			return nil, err
		}
	}
	return g.planner.Flush(ctx)
}

// scalarSetup initializes scalar sources: integers with li, floating-point
// values through memory.
func (g *Generator) scalarSetup(d *insts.Descriptor) ([]string, error) {
	var lines []string
	for i := range d.Slots {
		s := &d.Slots[i]
		if !s.Role.Reads() || s.Use != insts.UseData {
			continue
		}
		name, _ := s.Operand.Name()
		vals := s.Operand.Values()
		if len(vals) == 0 {
			continue
		}
		switch s.Class {
		case insts.ClassXReg:
			lines = append(lines, fmt.Sprintf("li %s, 0x%x", name, vals[0]))
		case insts.ClassFReg:
			loc, err := g.planner.PlaceValues(vals[:1], 8, false)
			if err != nil {
				return nil, diag.Wrap(diag.CategoryConfig, err, "%s: %s", d, s.Field)
			}
			lines = append(lines,
				fmt.Sprintf("la %s, %s", scratchAddr, loc.Symbol()),
				fmt.Sprintf("fld %s, 0(%s)", name, scratchAddr))
		}
	}
	return lines, nil
}

// csrSetup programs the rounding modes and clears the accrued flags.
func (g *Generator) csrSetup(d *insts.Descriptor) []string {
	var lines []string
	if d.Shape.Rounding && !(d.Shape.StaticRM && d.Config.StaticRM) {
		lines = append(lines, fpvalue.EmitFRM(d.Config.FRM, scratchCSR)...)
	}
	if d.Shape.FixedPoint {
		lines = append(lines, fpvalue.EmitVXRM(d.Config.VXRM)...)
		lines = append(lines, "csrwi vxsat, 0")
	}
	if d.Shape.Float {
		lines = append(lines, "csrwi fflags, 0")
	}
	return lines
}

// dests describes what the instruction writes and how many elements of
// each destination it writes.
func (g *Generator) dests(d *insts.Descriptor, sel *operand.Selector, mode lsmode.Mode, vl int) ([]verify.Dest, error) {
	var out []verify.Dest
	for _, s := range d.Dests() {
		switch s.Class {
		case insts.ClassXReg, insts.ClassFReg:
			r, ok := sel.Scalar(s.Field)
			if !ok {
				return nil, diag.Internalf("%s: %s has no register", d, s.Field)
			}
			kind := verify.DestXReg
			if s.Class == insts.ClassFReg {
				kind = verify.DestFReg
			}
			out = append(out, verify.Dest{Field: s.Field, Kind: kind, Reg: r})
			continue
		case insts.ClassVReg:
		default:
			continue
		}

		grp, ok := sel.Group(s.Field)
		if !ok {
			return nil, diag.Internalf("%s: %s has no register group", d, s.Field)
		}
		dest := verify.Dest{
			Field: s.Field, Kind: verify.DestVector,
			Base: grp.Base, Regs: grp.Regs, NF: grp.NF, EEW: grp.EEW, EVL: vl,
		}
		switch {
		case grp.Mask:
			dest.Kind = verify.DestMask
			if mode != nil && mode.Kind() == lsmode.KindMask {
				dest.EVL, dest.Unmasked = (vl+7)/8*8, true
			}
		case s.Regs > 0:
			dest.EVL, dest.Unmasked = s.Regs*g.res.VLEN/grp.EEW, true
		case s.Single:
			dest.EVL, dest.Unmasked = min(vl, 1), true
		case d.Name == "vcompress.vm":
			dest.EVL = compressed(d, vl)
		}
		out = append(out, dest)
	}
	return out, nil
}

// compressed counts the selector bits below vl of vcompress.
func compressed(d *insts.Descriptor, vl int) int {
	n := 0
	for i, w := range d.Slot("vs1").Operand.Values() {
		if i*64 >= vl {
			break
		}
		if rem := vl - i*64; rem < 64 {
			w &= 1<<uint(rem) - 1
		}
		n += bits.OnesCount64(w)
	}
	return n
}

func regionOf(m lsmode.Mode) *Region {
	loc, size := lsmode.Region(m)
	switch m.Kind() {
	case lsmode.KindIndexedOrdered, lsmode.KindIndexedUnordered, lsmode.KindSegmentedIndexed:
		size = memlayout.PageSize
	}
	return &Region{Addr: loc.Addr, Size: size}
}

func (g *Generator) preScalar(d *insts.Descriptor) (*Instance, error) {
	sel := operand.NewSelector(d, nil)
	if err := sel.SelectAll(); err != nil {
		return nil, err
	}
	if err := operand.NewSynth(g.res, d).Fill(sel); err != nil {
		return nil, err
	}
	dests, err := g.dests(d, sel, nil, 0)
	if err != nil {
		return nil, err
	}
	instr, err := d.Render()
	if err != nil {
		return nil, err
	}

	lines := []string{fmt.Sprintf("# %s: %s", d.Label, instr)}
	scalars, err := g.scalarSetup(d)
	if err != nil {
		return nil, err
	}
	lines = append(lines, scalars...)
	lines = append(lines, g.csrSetup(d)...)
	lines = append(lines, d.Label+": "+instr)

	return &Instance{
		Label:    d.Label,
		Mnemonic: d.Name,
		Config:   d.Config,
		Instr:    instr,
		Lines:    lines,
		Plan: verify.Plan{
			Label: d.Label,
			VLEN:  g.res.VLEN,
			SEW:   d.Shape.ScalarBits,
			Work:  -1,
			Dests: dests,
		},
	}, nil
}
