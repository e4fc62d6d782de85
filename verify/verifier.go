package verify

import (
	"encoding/binary"
	"fmt"
	"maps"
	"slices"

	"github.com/go-logr/logr"

	"github.com/sarchlab/vsynth/diag"
	"github.com/sarchlab/vsynth/insts"
	"github.com/sarchlab/vsynth/regalloc"
	"github.com/sarchlab/vsynth/resource"
)

// Scratch registers of the emitted check code.
const (
	ExpectReg = "t3"
	ActualReg = "t4"
	AddrReg   = "t2"
)

// Phase is a step of the verification state machine.
type Phase uint8

// Verification phases, in order.
const (
	PhaseNoUpdate Phase = iota
	PhaseParse
	PhaseEnumerate
	PhaseCompare
	PhaseEpilogue
	PhaseDone
)

var phaseNames = [...]string{"no-update", "parse", "enumerate", "compare", "epilogue", "done"}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", uint8(p))
}

// Resolver maps a reported memory address to a label expression.
type Resolver func(addr uint64) (string, error)

// Verifier emits the code that compares the machine state after an
// instruction with the simulator's report.
type Verifier struct {
	res     *resource.Resource
	log     logr.Logger
	format  Format
	resolve Resolver
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithFormat sets the memory report layout of the simulator backend.
func WithFormat(f Format) Option {
	return func(v *Verifier) {
		v.format = f
	}
}

// WithLogger sets the logger.
func WithLogger(log logr.Logger) Option {
	return func(v *Verifier) {
		v.log = log
	}
}

// WithResolver sets how memory addresses become labels. Without one,
// reported memory updates are an error.
func WithResolver(r Resolver) Option {
	return func(v *Verifier) {
		v.resolve = r
	}
}

// New creates a Verifier.
func New(res *resource.Resource, opts ...Option) *Verifier {
	v := &Verifier{res: res, log: res.Log}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// regCheck is the set of lanes of one register to compare.
type regCheck struct {
	dest  Dest
	reg   int
	lanes []Lane
}

type scalarCheck struct {
	// load renders the code leaving the actual value in ActualReg, or is
	// empty when actual names the register directly.
	load   []string
	actual string
	want   uint64
	what   string
}

// run is the state of one Emit call.
type run struct {
	v      *Verifier
	plan   *Plan
	report Report

	state   *State
	regs    []regCheck
	scalars []scalarCheck

	lines []string
}

// Emit runs the verification state machine for one instruction and
// returns its check code followed by the epilogue.
func (v *Verifier) Emit(plan *Plan, report Report) ([]string, error) {
	r := &run{v: v, plan: plan, report: report}
	phase := PhaseNoUpdate
	for phase != PhaseDone {
		v.log.V(2).Info("verify", "label", plan.Label, "phase", phase.String())
		next, err := r.step(phase)
		if err != nil {
			return nil, err
		}
		phase = next
	}
	return r.lines, nil
}

func (r *run) step(phase Phase) (Phase, error) {
	switch phase {
	case PhaseNoUpdate:
		if IsNoUpdate(r.plan.Label) {
			if !r.report.Empty() {
				r.v.log.V(1).Info("ignoring report of a no-update instruction", "label", r.plan.Label)
			}
			return PhaseEpilogue, nil
		}
		if r.report.Empty() && (len(r.plan.Dests) > 0 || r.plan.Store) {
			return PhaseDone, diag.NoUpdatef("%s: the simulator reported no update", r.plan.Label)
		}
		return PhaseParse, nil

	case PhaseParse:
		st, err := normalize(r.report, r.v.format, r.plan.VLEN, r.v.res.BigEndian, r.plan.MemEEW/8)
		if err != nil {
			return PhaseDone, diag.Wrap(diag.CategoryReport, err, "%s", r.plan.Label)
		}
		r.state = st
		return PhaseEnumerate, nil

	case PhaseEnumerate:
		if err := r.enumerate(); err != nil {
			return PhaseDone, err
		}
		return PhaseCompare, nil

	case PhaseCompare:
		if err := r.compare(); err != nil {
			return PhaseDone, err
		}
		return PhaseEpilogue, nil

	case PhaseEpilogue:
		r.epilogue()
		return PhaseDone, nil
	}
	return PhaseDone, diag.Internalf("%s: verification reached phase %s", r.plan.Label, phase)
}

func (r *run) enumerate() error {
	p := r.plan
	for _, d := range p.Dests {
		switch d.Kind {
		case DestVector, DestMask:
			if p.Work >= d.Base && p.Work < d.Base+max(1, d.Regs)*max(1, d.NF) {
				return diag.Internalf("%s: work register v%d lies inside %s", p.Label, p.Work, d.Field)
			}
			r.regs = append(r.regs, r.lanes(d)...)
		}
	}

	for _, reg := range slices.Sorted(maps.Keys(r.state.XRegs)) {
		if slices.Contains(regalloc.Reserved, reg) {
			continue
		}
		name := insts.RegName(insts.ClassXReg, reg)
		r.scalars = append(r.scalars, scalarCheck{actual: name, want: r.state.XRegs[reg], what: name})
	}
	for _, reg := range slices.Sorted(maps.Keys(r.state.FRegs)) {
		name := insts.RegName(insts.ClassFReg, reg)
		r.scalars = append(r.scalars, scalarCheck{
			load:   []string{fmt.Sprintf("fmv.x.d %s, %s", ActualReg, name)},
			actual: ActualReg, want: r.state.FRegs[reg], what: name,
		})
	}
	for _, flag := range []string{"fflags", "vxsat"} {
		val, ok := r.state.Flags[flag]
		if !ok || (flag == "vxsat" && !p.VXSat) {
			continue
		}
		r.scalars = append(r.scalars, scalarCheck{
			load:   []string{fmt.Sprintf("csrr %s, %s", ActualReg, flag)},
			actual: ActualReg, want: val, what: flag,
		})
	}
	if err := r.memory(); err != nil {
		return err
	}

	r.v.log.V(1).Info("verification plan", "label", p.Label,
		"registers", len(r.regs), "scalars", len(r.scalars))
	return nil
}

// lanes collects, register by register, the lanes of d the report covers
// and the policies make deterministic.
func (r *run) lanes(d Dest) []regCheck {
	var out []regCheck
	for _, l := range ExpectedOffsets(r.plan, d) {
		if d.Kind == DestMask && l.BitMask == 0 {
			continue
		}
		if !l.Checked(r.plan) || !r.state.VRegs[l.Reg].Covered(l.ByteOffset, l.Size) {
			continue
		}
		if n := len(out); n > 0 && out[n-1].reg == l.Reg {
			out[n-1].lanes = append(out[n-1].lanes, l)
			continue
		}
		out = append(out, regCheck{dest: d, reg: l.Reg, lanes: []Lane{l}})
	}
	return out
}

func (r *run) memory() error {
	if len(r.state.Mem) == 0 {
		return nil
	}
	if r.v.resolve == nil {
		return diag.Internalf("%s: memory was reported but no page resolver is set", r.plan.Label)
	}
	for _, u := range r.state.Mem {
		sym, err := r.v.resolve(u.Addr)
		if err != nil {
			return diag.Wrap(diag.CategoryReport, err, "%s", r.plan.Label)
		}
		first := true
		for off := 0; off < len(u.Data); {
			size := chunk(u.Addr+uint64(off), len(u.Data)-off)
			var load []string
			if first {
				load = append(load, fmt.Sprintf("la %s, %s", AddrReg, sym))
				first = false
			}
			load = append(load, fmt.Sprintf("%s %s, %d(%s)", loadOp(size), ActualReg, off, AddrReg))
			r.scalars = append(r.scalars, scalarCheck{
				load:   load,
				actual: ActualReg,
				want:   r.memValue(u.Data[off : off+size]),
				what:   fmt.Sprintf("0x%x", u.Addr+uint64(off)),
			})
			off += size
		}
	}
	return nil
}

// chunk returns the largest naturally aligned access at addr within n bytes.
func chunk(addr uint64, n int) int {
	for _, size := range []int{8, 4, 2} {
		if n >= size && addr%uint64(size) == 0 {
			return size
		}
	}
	return 1
}

func loadOp(size int) string {
	switch size {
	case 8:
		return "ld"
	case 4:
		return "lw"
	case 2:
		return "lh"
	}
	return "lb"
}

// memValue is what a sign-extending load of b yields.
func (r *run) memValue(b []byte) uint64 {
	buf := make([]byte, 8)
	if r.v.res.BigEndian {
		copy(buf[8-len(b):], b)
		v := binary.BigEndian.Uint64(buf)
		return uint64(insts.SignExtend(v, len(b)*8))
	}
	copy(buf, b)
	return uint64(insts.SignExtend(binary.LittleEndian.Uint64(buf), len(b)*8))
}

func (r *run) compare() error {
	eew := 0
	for _, rc := range r.regs {
		size := rc.lanes[0].Size
		if size*8 != eew {
			eew = size * 8
			r.emit(vsetFor(eew)...)
		}
		r.emit(fmt.Sprintf("# %s: v%d", rc.dest.Field, rc.reg))
		if err := r.compareReg(rc); err != nil {
			return err
		}
	}
	for _, sc := range r.scalars {
		r.v.log.V(2).Info("scalar check", "label", r.plan.Label, "what", sc.what, "want", sc.want)
		r.emit(sc.load...)
		r.check(sc.want, sc.actual)
	}
	return nil
}

// compareReg brings each compared lane into element 0 by sliding the
// register down one lane at a time, alternating between the register and
// the work register.
func (r *run) compareReg(rc regCheck) error {
	rb := r.state.VRegs[rc.reg]
	regName := fmt.Sprintf("v%d", rc.reg)
	work := fmt.Sprintf("v%d", r.plan.Work)

	cur := regName
	at := 0
	for _, l := range rc.lanes {
		k := l.ByteOffset / l.Size
		for ; at < k; at++ {
			next := work
			if cur == work {
				next = regName
			}
			r.emit(fmt.Sprintf("vslidedown.vi %s, %s, 1", next, cur))
			cur = next
		}

		slice := rb.Slice(l.ByteOffset, l.Size)
		r.emit(fmt.Sprintf("vmv.x.s %s, %s", ActualReg, cur))
		if rc.dest.Kind == DestMask {
			r.emit(fmt.Sprintf("andi %s, %s, 0x%x", ActualReg, ActualReg, l.BitMask))
			r.check(uint64(rb.Data[l.ByteOffset]&l.BitMask), ActualReg)
			continue
		}
		want, err := SignExtendHex(slice, l.Size*8)
		if err != nil {
			return diag.Wrap(diag.CategoryInternal, err, "%s: lane %d of v%d", r.plan.Label, l.Index, rc.reg)
		}
		r.check(want, ActualReg)
	}
	return nil
}

// check compares want with the register actual, branching to the failure
// label in strict mode and accumulating the difference otherwise.
func (r *run) check(want uint64, actual string) {
	r.emit(fmt.Sprintf("li %s, 0x%x", ExpectReg, want))
	if r.v.res.Strict {
		r.emit(fmt.Sprintf("bne %s, %s, %s", ExpectReg, actual, r.failLabel()))
		return
	}
	acc := r.v.res.Accumulator
	r.emit(
		fmt.Sprintf("xor %s, %s, %s", ExpectReg, ExpectReg, actual),
		fmt.Sprintf("snez %s, %s", ExpectReg, ExpectReg),
		fmt.Sprintf("add %s, %s, %s", acc, acc, ExpectReg),
	)
}

func (r *run) failLabel() string { return r.plan.Label + "_fail" }
func (r *run) passLabel() string { return r.plan.Label + "_pass" }

func (r *run) epilogue() {
	if !r.v.res.Strict {
		return
	}
	r.emit(
		"j "+r.passLabel(),
		r.failLabel()+":",
		"j "+r.v.res.FailTarget,
		r.passLabel()+":",
	)
}

func (r *run) emit(lines ...string) {
	r.lines = append(r.lines, lines...)
}
