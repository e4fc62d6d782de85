package operand_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/vsynth/diag"
	"github.com/sarchlab/vsynth/fpvalue"
	"github.com/sarchlab/vsynth/insts"
	"github.com/sarchlab/vsynth/operand"
	"github.com/sarchlab/vsynth/regalloc"
	"github.com/sarchlab/vsynth/resource"
	"github.com/sarchlab/vsynth/vtype"
)

type instance struct {
	res  *resource.Resource
	desc *insts.Descriptor
	ctx  *vtype.Context
	sel  *operand.Selector
}

func newInstance(seed uint64, mnemonic string, cfg insts.Config) instance {
	res := resource.New(seed)
	d, err := insts.New(mnemonic, "test_1", cfg)
	Expect(err).NotTo(HaveOccurred())
	d.Alloc = regalloc.New(res.RNG)
	ctx, err := vtype.Extract(d, res.VLEN)
	Expect(err).NotTo(HaveOccurred())
	return instance{res: res, desc: d, ctx: ctx, sel: operand.NewSelector(d, ctx)}
}

func config(sew int, lmul vtype.LMUL) insts.Config {
	return insts.Config{Vset: vtype.KindVsetvli, SEW: sew, LMUL: lmul, AVL: vtype.VLMax}
}

var _ = Describe("Group", func() {
	It("should detect overlap by the nearest aligned base", func() {
		wide := operand.Group{Base: 4, Regs: 4, NF: 1}
		Expect(operand.Overlaps(wide, operand.Group{Base: 6, Regs: 2, NF: 1})).To(BeTrue())
		Expect(operand.Overlaps(wide, operand.Group{Base: 8, Regs: 2, NF: 1})).To(BeFalse())
		Expect(operand.Overlaps(operand.Group{Base: 2, Regs: 2, NF: 1},
			operand.Group{Base: 0, Regs: 4, NF: 1})).To(BeTrue())
	})

	It("should place segment fields one group apart", func() {
		g := operand.Group{Base: 8, Regs: 2, NF: 3}
		Expect(g.Span()).To(Equal(6))
		Expect(g.FieldBase(2)).To(Equal(12))
		Expect(g.Contains(13)).To(BeTrue())
		Expect(g.Contains(14)).To(BeFalse())
	})

	It("should reject groups wider than eight registers", func() {
		slot := &insts.Slot{Field: "vd", Class: insts.ClassVReg,
			Width: insts.Width{Kind: insts.WidthFixed, Bits: 32}, NF: 3}
		inst := newInstance(1, "vadd.vv", config(32, vtype.LMUL4))
		_, err := operand.Layout(slot, inst.ctx)
		Expect(errors.Is(err, diag.ErrConfig)).To(BeTrue())
	})
})

var _ = Describe("Selector", func() {
	It("should align every group to its register count for every LMUL", func() {
		for _, l := range vtype.AllLMUL {
			for seed := range uint64(8) {
				inst := newInstance(seed, "vadd.vv", config(8, l))
				Expect(inst.sel.SelectAll()).To(Succeed())
				for _, g := range inst.sel.Groups() {
					Expect(g.Base % l.Registers()).To(BeZero())
				}
			}
		}
	})

	It("should keep widening destinations clear of both sources", func() {
		cfg := config(32, vtype.LMUL2)
		cfg.AVL = 8
		for seed := range uint64(32) {
			inst := newInstance(seed, "vwadd.vv", cfg)
			Expect(inst.sel.SelectAll()).To(Succeed())

			vd, _ := inst.sel.Group("vd")
			vs2, _ := inst.sel.Group("vs2")
			vs1, _ := inst.sel.Group("vs1")
			Expect(vd.Regs).To(Equal(4))
			Expect(vd.Base % 4).To(BeZero())
			Expect(vs2.Regs).To(Equal(2))
			Expect(operand.Overlaps(vd, vs2)).To(BeFalse())
			Expect(operand.Overlaps(vd, vs1)).To(BeFalse())
		}
	})

	It("should exclude v0 from every group of a masked instruction", func() {
		cfg := config(16, vtype.LMUL1)
		cfg.Masked = true
		for seed := range uint64(16) {
			inst := newInstance(seed, "vadd.vv", cfg)
			Expect(inst.sel.ReserveMask()).To(Succeed())
			Expect(inst.sel.SelectAll()).To(Succeed())
			work, err := inst.sel.ReserveWork()
			Expect(err).NotTo(HaveOccurred())
			Expect(work.Base).NotTo(BeZero())
			for _, g := range inst.sel.Groups() {
				Expect(g.Contains(0)).To(BeFalse())
				Expect(g.Contains(work.Base)).To(BeFalse())
			}
		}
	})

	It("should report exhaustion as a configuration error naming the instruction", func() {
		cfg := config(8, vtype.LMUL8)
		cfg.Masked = true
		inst := newInstance(3, "vadd.vv", cfg)
		Expect(inst.desc.Alloc.Reserve(insts.ClassVReg, 8, 24)).To(Succeed())
		Expect(inst.sel.ReserveMask()).To(Succeed())
		err := inst.sel.SelectAll()
		Expect(errors.Is(err, diag.ErrConfig)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("test_1"))
	})

	It("should never hand scalar operands a reserved register", func() {
		inst := newInstance(5, "vadd.vx", config(32, vtype.LMUL1))
		Expect(inst.sel.SelectAll()).To(Succeed())
		r, ok := inst.sel.Scalar("rs1")
		Expect(ok).To(BeTrue())
		Expect(regalloc.Reserved).NotTo(ContainElement(r))
	})
})

var _ = Describe("Synth", func() {
	It("should fill whole groups with width-masked lanes", func() {
		inst := newInstance(9, "vadd.vi", config(16, vtype.LMUL2))
		Expect(inst.sel.SelectAll()).To(Succeed())
		Expect(operand.NewSynth(inst.res, inst.desc).Fill(inst.sel)).To(Succeed())

		vs2 := inst.desc.Slot("vs2").Operand.Values()
		Expect(vs2).To(HaveLen(2 * 128 / 16))
		for _, v := range vs2 {
			Expect(v).To(BeNumerically("<", 1<<16))
		}
		Expect(inst.desc.Slot("imm").Operand.IsSelected()).To(BeTrue())
		Expect(inst.desc.Slot("imm").Operand.Values()[0]).To(BeNumerically("<", 32))
	})

	It("should NaN-box narrow floating-point scalars", func() {
		inst := newInstance(2, "vfadd.vf", config(16, vtype.LMUL1))
		Expect(inst.sel.SelectAll()).To(Succeed())
		Expect(operand.NewSynth(inst.res, inst.desc).Fill(inst.sel)).To(Succeed())

		v := inst.desc.Slot("fs1").Operand.Values()[0]
		_, boxed := fpvalue.Unbox(v, 16, 64)
		Expect(boxed).To(BeTrue())
	})

	It("should be reproducible for a seed", func() {
		draw := func() []uint64 {
			inst := newInstance(42, "vfmul.vv", config(32, vtype.LMUL1))
			Expect(inst.sel.SelectAll()).To(Succeed())
			Expect(operand.NewSynth(inst.res, inst.desc).Fill(inst.sel)).To(Succeed())
			return inst.desc.Slot("vs1").Operand.Values()
		}
		Expect(draw()).To(Equal(draw()))
	})
})
