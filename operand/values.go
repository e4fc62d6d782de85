package operand

import (
	"fmt"

	"github.com/sarchlab/vsynth/diag"
	"github.com/sarchlab/vsynth/fpvalue"
	"github.com/sarchlab/vsynth/insts"
	"github.com/sarchlab/vsynth/resource"
)

// Ints draws count uniform eew-bit lanes.
func Ints(rng *resource.RNG, eew, count int) []uint64 {
	out := make([]uint64, count)
	for i := range out {
		out[i] = rng.Bits(eew)
	}
	return out
}

// MaskWords draws one register of mask bits as 64-bit words.
func MaskWords(rng *resource.RNG, vlen int) []uint64 {
	return Ints(rng, 64, max(1, vlen/64))
}

// Immediate draws the 5-bit immediate of slot, signed or unsigned.
func Immediate(rng *resource.RNG, slot *insts.Slot) uint64 {
	return rng.Bits(max(1, slot.ImmBits))
}

// Synth draws operand values from the resource's random source and
// floating-point bank.
type Synth struct {
	res  *resource.Resource
	desc *insts.Descriptor
}

// NewSynth creates a value synthesizer for d.
func NewSynth(res *resource.Resource, d *insts.Descriptor) *Synth {
	return &Synth{res: res, desc: d}
}

// Format returns the floating-point format of eew-bit lanes of d.
func (s *Synth) Format(eew int) (fpvalue.Format, error) {
	f, err := fpvalue.ForWidth(eew, s.desc.Config.BF16 || s.desc.Shape.BF16)
	if err != nil {
		return f, diag.Wrap(diag.CategoryConfig, err, "%s", s.desc)
	}
	return f, nil
}

// Lanes draws count lanes of width eew, floating-point when float is set.
func (s *Synth) Lanes(eew, count int, float bool) ([]uint64, error) {
	if !float {
		return Ints(s.res.RNG, eew, count), nil
	}
	f, err := s.Format(eew)
	if err != nil {
		return nil, err
	}
	return fpvalue.Values(s.res.RNG, s.res.Bank, s.res.CuratedFP,
		s.desc.Name, f, s.desc.Config.FRM, count), nil
}

// Group fills every register of g. Floating-point lanes apply only to
// data slots; mask-layout groups are drawn as whole 64-bit words.
func (s *Synth) Group(slot *insts.Slot, g Group) ([]uint64, error) {
	count := g.ElementCount(s.res.VLEN)
	if g.Mask || slot.Use == insts.UseMaskData {
		return Ints(s.res.RNG, g.LoadEEW(), count), nil
	}
	return s.Lanes(g.EEW, count, slot.Float && slot.Use == insts.UseData)
}

// Scalar draws the value of an integer or floating-point register slot.
// Floating-point values narrower than 64 bits are NaN-boxed.
func (s *Synth) Scalar(slot *insts.Slot, sew int) (uint64, error) {
	switch slot.Class {
	case insts.ClassFReg:
		eew := slot.Width.EEW(sew)
		vals, err := s.Lanes(eew, 1, true)
		if err != nil {
			return 0, err
		}
		return fpvalue.NaNBox(vals[0], eew, 64), nil
	case insts.ClassXReg:
		return s.res.RNG.Bits(s.res.XLEN), nil
	case insts.ClassImm:
		return Immediate(s.res.RNG, slot), nil
	}
	return 0, diag.Internalf("%s: %s slot %s has no scalar value", s.desc, slot.Class, slot.Field)
}

// Fill draws initial values for every slot that needs them, in operand
// order: vector data groups (destinations included, their contents seed
// undisturbed lanes), scalar sources and immediates. Groups bound to an
// addressing role and the mask register are filled elsewhere.
func (s *Synth) Fill(sel *Selector) error {
	for i := range s.desc.Slots {
		slot := &s.desc.Slots[i]
		if slot.Use == insts.UseIndex || slot.Use == insts.UseBase || slot.Use == insts.UseStride {
			continue
		}

		var vals []uint64
		switch slot.Class {
		case insts.ClassVReg:
			g, ok := sel.Group(slot.Field)
			if !ok {
				return diag.Internalf("%s: vector slot %s was not selected", s.desc, slot.Field)
			}
			var err error
			if vals, err = s.Group(slot, g); err != nil {
				return err
			}
		default:
			if slot.Role.Writes() {
				continue
			}
			v, err := s.Scalar(slot, s.desc.Config.SEW)
			if err != nil {
				return err
			}
			vals = []uint64{v}
			if slot.Class == insts.ClassImm {
				slot.Operand = insts.Selected(fmt.Sprint(v), v)
				continue
			}
		}
		slot.Operand = slot.Operand.WithValues(vals)
	}
	return nil
}
