// Package operand selects register groups for instruction operands and
// synthesizes the element values that initialize them.
package operand

import (
	"fmt"

	"github.com/sarchlab/vsynth/diag"
	"github.com/sarchlab/vsynth/insts"
	"github.com/sarchlab/vsynth/vtype"
)

// MaxGroupRegs bounds NF*EMUL for one operand.
const MaxGroupRegs = 8

// Group is a vector register group: Regs consecutive registers per field,
// NF fields, starting at Base.
type Group struct {
	Field string
	Base  int
	EEW   int
	EMUL  vtype.LMUL
	Regs  int
	NF    int
	Mask  bool
}

// Name renders the base register.
func (g Group) Name() string {
	return fmt.Sprintf("v%d", g.Base)
}

// Span returns the number of physical registers the group occupies.
func (g Group) Span() int {
	return g.Regs * max(1, g.NF)
}

// FieldBase returns the first register of segment field f.
func (g Group) FieldBase(f int) int {
	return g.Base + f*g.Regs
}

// Registers lists every register of the group.
func (g Group) Registers() []int {
	out := make([]int, g.Span())
	for i := range out {
		out[i] = g.Base + i
	}
	return out
}

// Contains reports whether r belongs to the group.
func (g Group) Contains(r int) bool {
	return r >= g.Base && r < g.Base+g.Span()
}

// LoadEEW is the element width the group's initial values are stored and
// loaded with. Mask registers are loaded as 64-bit words.
func (g Group) LoadEEW() int {
	if g.Mask {
		return 64
	}
	return g.EEW
}

// ElementCount is the number of LoadEEW elements needed to fill the group.
func (g Group) ElementCount(vlen int) int {
	return g.Span() * vlen / g.LoadEEW()
}

// AlignedBase rounds base down to a multiple of alignment.
func AlignedBase(base, alignment int) int {
	if alignment <= 1 {
		return base
	}
	return base - base%alignment
}

// Overlaps reports whether a and b collide: either their register ranges
// intersect, or their bases coincide once rounded down to the larger of
// the two group sizes.
func Overlaps(a, b Group) bool {
	if a.Base < b.Base+b.Span() && b.Base < a.Base+a.Span() {
		return true
	}
	m := max(a.Regs, b.Regs)
	return AlignedBase(a.Base, m) == AlignedBase(b.Base, m)
}

// Layout resolves the width, multiplier and size of the group a slot
// needs under ctx.
func Layout(slot *insts.Slot, ctx *vtype.Context) (Group, error) {
	g := Group{Field: slot.Field, NF: slot.Fields()}

	switch {
	case slot.Width.Kind == insts.WidthMask:
		g.EEW, g.EMUL, g.Regs, g.Mask = 1, vtype.LMUL1, 1, true
		return g, nil
	case slot.Regs > 0:
		g.EEW = slot.Width.EEW(ctx.SEW)
		g.Regs = slot.Regs
		g.EMUL = vtype.LMUL(log2(slot.Regs))
		return g, nil
	case slot.Single:
		g.EEW = slot.Width.EEW(ctx.SEW)
		if !vtype.ValidSEW(g.EEW) {
			return g, diag.Configf("%s: element width %d is not supported", slot.Field, g.EEW)
		}
		g.EMUL, g.Regs = vtype.LMUL1, 1
		return g, nil
	}

	g.EEW = slot.Width.EEW(ctx.SEW)
	emul, err := vtype.EMUL(g.EEW, ctx.SEW, ctx.LMUL)
	if err != nil {
		return g, err
	}
	g.EMUL = emul
	g.Regs = emul.Registers()

	if g.Span() > MaxGroupRegs {
		return g, diag.Configf("%s: %d fields of EMUL %s need %d registers (max %d)",
			slot.Field, g.NF, emul, g.Span(), MaxGroupRegs)
	}
	return g, nil
}

func log2(n int) int {
	r := 0
	for n > 1 {
		n >>= 1
		r++
	}
	return r
}
