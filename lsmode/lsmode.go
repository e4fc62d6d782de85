// Package lsmode implements the vector memory addressing modes. Each mode
// fixes the element width and multiplier of its memory operand, draws its
// addressing parameters, places its footprint and emits the base and
// stride setup that precedes the instruction.
package lsmode

import (
	"fmt"

	"github.com/sarchlab/vsynth/diag"
	"github.com/sarchlab/vsynth/insts"
	"github.com/sarchlab/vsynth/memlayout"
	"github.com/sarchlab/vsynth/operand"
	"github.com/sarchlab/vsynth/resource"
	"github.com/sarchlab/vsynth/vtype"
)

// Kind selects an addressing mode.
type Kind uint8

// Addressing modes.
const (
	KindNone Kind = iota
	KindUnitStride
	KindStrided
	KindIndexedOrdered
	KindIndexedUnordered
	KindWholeRegister
	KindSegmentedUnit
	KindSegmentedStrided
	KindSegmentedIndexed
	KindFaultOnlyFirst
	KindMask
)

var kindNames = [...]string{
	"none", "unit-stride", "strided", "indexed-ordered", "indexed-unordered",
	"whole-register", "segmented-unit", "segmented-strided", "segmented-indexed",
	"fault-only-first", "mask",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// IndexBias is added to the base register of indexed accesses so that every
// offset lands inside the footprint page.
const IndexBias = 0x7FF

// MaxIndex bounds index values wider than eight bits.
const MaxIndex = 0x3FF

// MaxStride bounds strided accesses.
const MaxStride = 63

// lmulCandidates is the order segment accesses shrink LMUL in.
var lmulCandidates = []vtype.LMUL{
	vtype.LMUL8, vtype.LMUL4, vtype.LMUL2, vtype.LMUL1,
	vtype.LMULF2, vtype.LMULF4, vtype.LMULF8,
}

// Mode is an addressing mode bound to one instruction instance.
type Mode interface {
	Kind() Kind
	// Configure fixes EEW and EMUL under ctx, shrinking LMUL for segment
	// accesses that would not fit in eight registers.
	Configure(ctx *vtype.Context) error
	// DrawParams draws strides and index values once registers are picked.
	DrawParams(sel *operand.Selector) error
	EEW() int
	EMUL() vtype.LMUL
	Footprint() int
}

// MemoryPlanner places a mode's footprint.
type MemoryPlanner interface {
	PlanMemory(p *memlayout.Planner) error
}

// PreSetup emits the address and stride setup before the instruction.
type PreSetup interface {
	PreSetup() ([]string, error)
}

// PostSetup emits code that must follow the instruction.
type PostSetup interface {
	PostSetup() []string
}

// For returns the addressing mode of d, or nil when d does not access
// memory.
func For(d *insts.Descriptor, res *resource.Resource) (Mode, error) {
	if !d.Shape.IsMemory() {
		return nil, nil
	}
	m := d.Shape.Mem
	b := &base{desc: d, res: res, mem: m, nf: max(1, m.NF)}

	switch {
	case m.Kind == insts.MemMask:
		b.kind = KindMask
		return &maskMode{base: b}, nil
	case m.Kind == insts.MemWhole:
		b.kind = KindWholeRegister
		return &wholeMode{base: b}, nil
	case m.Kind == insts.MemUnit && m.FaultFirst:
		b.kind = KindFaultOnlyFirst
		return &unitMode{base: b}, nil
	case m.Kind == insts.MemUnit:
		b.kind = pick(b.nf, KindUnitStride, KindSegmentedUnit)
		return &unitMode{base: b}, nil
	case m.Kind == insts.MemStrided:
		b.kind = pick(b.nf, KindStrided, KindSegmentedStrided)
		return &stridedMode{base: b}, nil
	case m.Kind == insts.MemIndexed:
		b.kind = KindIndexedUnordered
		if m.Ordered {
			b.kind = KindIndexedOrdered
		}
		if b.nf > 1 {
			b.kind = KindSegmentedIndexed
		}
		return &indexedMode{base: b}, nil
	}
	return nil, diag.Internalf("%s: no addressing mode for %s", d, m.Kind)
}

func pick(nf int, plain, segmented Kind) Kind {
	if nf > 1 {
		return segmented
	}
	return plain
}

// base carries what every mode shares.
type base struct {
	kind Kind
	desc *insts.Descriptor
	res  *resource.Resource
	mem  *insts.MemShape
	ctx  *vtype.Context
	sel  *operand.Selector

	nf        int
	eew       int
	emul      vtype.LMUL
	footprint int
	loc       memlayout.Location
	placed    bool
}

func (b *base) Kind() Kind { return b.kind }
func (b *base) EEW() int { return b.eew }
func (b *base) EMUL() vtype.LMUL { return b.emul }
func (b *base) Footprint() int { return b.footprint }
func (b *base) esz() int { return b.eew / 8 }
func (b *base) store() bool { return b.mem.Store }
func (b *base) Location() memlayout.Location { return b.loc }

// Configure computes EEW = encoded width and EMUL = (EEW/SEW)*LMUL. Data
// groups of nf fields shrink LMUL until nf*EMUL fits.
func (b *base) Configure(ctx *vtype.Context) error {
	b.ctx = ctx
	b.eew = b.mem.EEW
	if err := b.fit(ctx, b.eew); err != nil {
		return err
	}
	emul, err := ctx.EMUL(b.eew)
	if err != nil {
		return diag.Wrap(diag.CategoryConfig, err, "%s", b.desc)
	}
	b.emul = emul
	return nil
}

// fit halves LMUL through lmulCandidates until nf groups of the data EMUL
// occupy at most eight registers.
func (b *base) fit(ctx *vtype.Context, dataEEW int) error {
	if b.nf <= 1 {
		return nil
	}
	for _, l := range lmulCandidates {
		if l > ctx.LMUL {
			continue
		}
		emul, err := vtype.EMUL(dataEEW, ctx.SEW, l)
		if err != nil {
			continue
		}
		if b.nf*emul.Registers() <= operand.MaxGroupRegs {
			if l != ctx.LMUL {
				b.res.Log.V(1).Info("segment LMUL shrunk", "inst", b.desc.Label,
					"from", ctx.LMUL.String(), "to", l.String(), "nf", b.nf)
				ctx.LMUL = l
				b.desc.Config.LMUL = l
			}
			return nil
		}
	}
	return diag.Configf("%s: %d fields do not fit in %d registers at any LMUL",
		b.desc, b.nf, operand.MaxGroupRegs)
}

func (b *base) DrawParams(sel *operand.Selector) error {
	b.sel = sel
	return nil
}

// activeCount is the number of elements the access touches.
func (b *base) activeCount() int {
	return max(1, b.ctx.EffectiveVL())
}

// reg returns the ABI name of the scalar register bound to field.
func (b *base) reg(field string) (string, error) {
	r, ok := b.sel.Scalar(field)
	if !ok {
		return "", diag.Internalf("%s: %s has no register", b.desc, field)
	}
	return insts.RegName(insts.ClassXReg, r), nil
}

// groupBytes is EMUL*VLEN/8 per field, at least one element.
func (b *base) groupBytes() int {
	vlenB := b.res.VLEN / 8
	return max(b.esz(), vlenB*b.emul.Num()/b.emul.Den())
}

// place stores the footprint: random bytes for loads, zeros for stores.
func (b *base) place(p *memlayout.Planner, size int) error {
	var (
		loc memlayout.Location
		err error
	)
	if b.store() {
		loc, err = p.Reserve(size, 8, false)
	} else {
		loc, err = p.Place(randomBytes(b.res.RNG, size), 1, 8, false)
	}
	if err != nil {
		return diag.Wrap(diag.CategoryConfig, err, "%s: footprint of %d bytes", b.desc, size)
	}
	b.footprint, b.loc, b.placed = size, loc, true
	return nil
}

// baseSetup loads the footprint address into rs1.
func (b *base) baseSetup(offset int) ([]string, error) {
	if !b.placed {
		return nil, diag.Internalf("%s: memory was not planned", b.desc)
	}
	rs1, err := b.reg("rs1")
	if err != nil {
		return nil, err
	}
	loc := b.loc
	loc.Offset += offset
	return []string{fmt.Sprintf("la %s, %s", rs1, loc.Symbol())}, nil
}

// PostSetup orders a store before the checks that read memory back.
func (b *base) PostSetup() []string {
	if b.store() {
		return []string{"fence rw, rw"}
	}
	return nil
}

func randomBytes(rng *resource.RNG, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(rng.Bits(8))
	}
	return out
}

// Region returns where m's footprint lives and its size.
func Region(m Mode) (memlayout.Location, int) {
	if r, ok := m.(interface{ Location() memlayout.Location }); ok {
		return r.Location(), m.Footprint()
	}
	return memlayout.Location{}, 0
}
