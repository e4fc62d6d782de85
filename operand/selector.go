package operand

import (
	"github.com/samber/lo"

	"github.com/sarchlab/vsynth/diag"
	"github.com/sarchlab/vsynth/insts"
	"github.com/sarchlab/vsynth/vtype"
)

// MaskReg is the register that holds the mask of masked instructions.
const MaskReg = 0

// Selector assigns registers to the operand slots of one instruction
// instance. It owns no registers itself; everything is claimed through the
// descriptor's allocator.
type Selector struct {
	desc *insts.Descriptor
	ctx  *vtype.Context

	groups  []Group
	scalars map[string]int
	work    *Group
	mask    bool
}

// NewSelector creates a selector for d under ctx.
func NewSelector(d *insts.Descriptor, ctx *vtype.Context) *Selector {
	return &Selector{desc: d, ctx: ctx, scalars: map[string]int{}}
}

// NeedsMask reports whether v0 carries a mask for d.
func NeedsMask(d *insts.Descriptor) bool {
	return d.Shape.UsesV0 || (d.Config.Masked && d.Shape.Maskable)
}

// ReserveMask claims v0 when the instruction reads a mask, which removes
// it from every later draw.
func (s *Selector) ReserveMask() error {
	if !NeedsMask(s.desc) {
		return nil
	}
	if err := s.desc.Alloc.Reserve(insts.ClassVReg, MaskReg, 1); err != nil {
		return diag.Wrap(diag.CategoryConfig, err, "%s: reserve v0 for the mask", s.desc)
	}
	s.mask = true
	return nil
}

// Masked reports whether ReserveMask claimed v0.
func (s *Selector) Masked() bool {
	return s.mask
}

// SelectAll assigns a register to every register slot in operand order.
// Immediates are left for value synthesis.
func (s *Selector) SelectAll() error {
	for i := range s.desc.Slots {
		slot := &s.desc.Slots[i]
		switch slot.Class {
		case insts.ClassVReg:
			g, err := Layout(slot, s.ctx)
			if err != nil {
				return diag.Wrap(diag.CategoryConfig, err, "%s", s.desc)
			}
			if _, err := s.Pick(slot, g); err != nil {
				return err
			}
		case insts.ClassXReg, insts.ClassAddr, insts.ClassFReg:
			if err := s.pickScalar(slot); err != nil {
				return err
			}
		}
	}
	return nil
}

// Pick draws a base register for g, claims its registers and binds slot
// to it. Candidates are aligned to g.Regs, avoid v0 when it holds the mask
// and must not overlap any group already picked.
func (s *Selector) Pick(slot *insts.Slot, g Group) (Group, error) {
	alloc := s.desc.Alloc
	alloc.Realign(insts.ClassVReg, g.Regs)

	base, err := alloc.Randomize(insts.ClassVReg, g.Span(), s.exclusions(g)...)
	if err != nil {
		return g, diag.Wrap(diag.CategoryConfig, err,
			"%s: no register group for %s (EEW %d, EMUL %s, %d registers)",
			s.desc, slot.Field, g.EEW, g.EMUL, g.Span())
	}

	g.Base = base
	s.groups = append(s.groups, g)
	slot.Operand = insts.Selected(g.Name())
	return g, nil
}

// exclusions lists the registers a group of g's size may not start at:
// every register of a picked group's aligned block, so the nearest aligned
// bases of the two groups never coincide.
func (s *Selector) exclusions(g Group) []int {
	var out []int
	if s.mask {
		out = append(out, MaskReg)
	}
	for _, prev := range s.groups {
		m := max(g.Regs, prev.Regs)
		start := AlignedBase(prev.Base, m)
		end := max(start+m, prev.Base+prev.Span())
		out = append(out, lo.RangeFrom(start, end-start)...)
	}
	return lo.Uniq(out)
}

func (s *Selector) pickScalar(slot *insts.Slot) error {
	c := slot.Class
	if c == insts.ClassAddr {
		c = insts.ClassXReg
	}
	s.desc.Alloc.Realign(c, 1)
	r, err := s.desc.Alloc.Randomize(c, 1)
	if err != nil {
		return diag.Wrap(diag.CategoryConfig, err, "%s: no %s register for %s", s.desc, c, slot.Field)
	}
	s.scalars[slot.Field] = r
	slot.Operand = insts.Selected(insts.RegName(c, r))
	return nil
}

// ReserveWork picks the single scratch register the verifier rotates
// lanes through. It never aliases an operand group or the mask.
func (s *Selector) ReserveWork() (Group, error) {
	if s.work != nil {
		return *s.work, nil
	}
	g := Group{Field: "work", EEW: s.ctx.SEW, EMUL: vtype.LMUL1, Regs: 1, NF: 1}
	alloc := s.desc.Alloc
	alloc.Realign(insts.ClassVReg, 1)
	base, err := alloc.Randomize(insts.ClassVReg, 1, s.exclusions(g)...)
	if err != nil {
		return g, diag.Wrap(diag.CategoryConfig, err, "%s: no work register left", s.desc)
	}
	g.Base = base
	s.work = &g
	return g, nil
}

// Groups returns the picked groups in selection order.
func (s *Selector) Groups() []Group {
	return s.groups
}

// Group returns the group bound to field.
func (s *Selector) Group(field string) (Group, bool) {
	return lo.Find(s.groups, func(g Group) bool { return g.Field == field })
}

// Scalar returns the integer or floating-point register bound to field.
func (s *Selector) Scalar(field string) (int, bool) {
	r, ok := s.scalars[field]
	return r, ok
}
