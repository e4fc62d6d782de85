package insts_test

import (
	"encoding/json"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/vsynth/diag"
	"github.com/sarchlab/vsynth/fpvalue"
	"github.com/sarchlab/vsynth/insts"
	"github.com/sarchlab/vsynth/vtype"
)

func fields(s *insts.Shape) []string {
	out := make([]string, len(s.Slots))
	for i, sl := range s.Slots {
		out[i] = sl.Field
	}
	return out
}

var _ = Describe("Classify", func() {
	DescribeTable("operand order",
		func(mnemonic string, family insts.Family, want []string) {
			s, err := insts.Classify(mnemonic)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Family).To(Equal(family))
			Expect(fields(s)).To(Equal(want))
		},
		Entry("vadd.vv", "vadd.vv", insts.FamilyArith, []string{"vd", "vs2", "vs1"}),
		Entry("vadd.vx", "vadd.vx", insts.FamilyArith, []string{"vd", "vs2", "rs1"}),
		Entry("vmacc.vv", "vmacc.vv", insts.FamilyArith, []string{"vd", "vs1", "vs2"}),
		Entry("vfmacc.vf", "vfmacc.vf", insts.FamilyArith, []string{"vd", "fs1", "vs2"}),
		Entry("vwadd.wv", "vwadd.wv", insts.FamilyWidening, []string{"vd", "vs2", "vs1"}),
		Entry("vnsrl.wi", "vnsrl.wi", insts.FamilyNarrowing, []string{"vd", "vs2", "imm"}),
		Entry("vredsum.vs", "vredsum.vs", insts.FamilyReduction, []string{"vd", "vs2", "vs1"}),
		Entry("vmseq.vi", "vmseq.vi", insts.FamilyMaskCompare, []string{"vd", "vs2", "imm"}),
		Entry("vmand.mm", "vmand.mm", insts.FamilyMaskLogical, []string{"vd", "vs2", "vs1"}),
		Entry("vcpop.m", "vcpop.m", insts.FamilyMaskUnary, []string{"rd", "vs2"}),
		Entry("vmv.x.s", "vmv.x.s", insts.FamilyScalarMove, []string{"rd", "vs2"}),
		Entry("vmv4r.v", "vmv4r.v", insts.FamilyWholeMove, []string{"vd", "vs2"}),
		Entry("vmerge.vim", "vmerge.vim", insts.FamilyMerge, []string{"vd", "vs2", "imm"}),
		Entry("vzext.vf4", "vzext.vf4", insts.FamilyExtension, []string{"vd", "vs2"}),
		Entry("vfwcvt.f.x.v", "vfwcvt.f.x.v", insts.FamilyConvert, []string{"vd", "vs2"}),
		Entry("vle32.v", "vle32.v", insts.FamilyLoad, []string{"vd", "rs1"}),
		Entry("vlse16.v", "vlse16.v", insts.FamilyLoad, []string{"vd", "rs1", "rs2"}),
		Entry("vsuxei8.v", "vsuxei8.v", insts.FamilyStore, []string{"vs3", "rs1", "vs2"}),
		Entry("vlseg3e8.v", "vlseg3e8.v", insts.FamilyLoad, []string{"vd", "rs1"}),
		Entry("fmadd.s", "fmadd.s", insts.FamilyScalarFP, []string{"fd", "fs1", "fs2", "fs3"}),
		Entry("feq.d", "feq.d", insts.FamilyScalarFP, []string{"rd", "fs1", "fs2"}),
	)

	It("should size widening operands", func() {
		s, _ := insts.Classify("vwadd.wv")
		Expect(s.Slots[0].Width.EEW(32)).To(Equal(64))
		Expect(s.Slots[1].Width.EEW(32)).To(Equal(64))
		Expect(s.Slots[2].Width.EEW(32)).To(Equal(32))
		Expect(s.NoOverlap).To(BeTrue())
	})

	It("should describe memory accesses", func() {
		s, err := insts.Classify("vloxseg4ei16.v")
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Mem.Kind).To(Equal(insts.MemIndexed))
		Expect(s.Mem.Ordered).To(BeTrue())
		Expect(s.Mem.NF).To(Equal(4))
		Expect(s.Mem.EEW).To(Equal(16))
		Expect(s.Slots[0].Width.Kind).To(Equal(insts.WidthSEW))
		Expect(s.Slots[2].Use).To(Equal(insts.UseIndex))

		s, _ = insts.Classify("vl2re64.v")
		Expect(s.Mem.Kind).To(Equal(insts.MemWhole))
		Expect(s.Slots[0].Regs).To(Equal(2))
		Expect(s.Maskable).To(BeFalse())

		s, _ = insts.Classify("vle8ff.v")
		Expect(s.Mem.FaultFirst).To(BeTrue())

		s, _ = insts.Classify("vsm.v")
		Expect(s.IsStore()).To(BeTrue())
		Expect(s.Mem.Kind).To(Equal(insts.MemMask))
	})

	It("should mark floating-point data and rounding", func() {
		s, _ := insts.Classify("vfadd.vf")
		Expect(s.Float).To(BeTrue())
		Expect(s.Rounding).To(BeTrue())
		Expect(s.Slots[0].Float).To(BeTrue())
		Expect(s.Slots[2].Class).To(Equal(insts.ClassFReg))

		s, _ = insts.Classify("vfclass.v")
		Expect(s.Slots[0].Float).To(BeFalse())
		Expect(s.Slots[1].Float).To(BeTrue())

		s, _ = insts.Classify("vmflt.vv")
		Expect(s.DestMask).To(BeTrue())
		Expect(s.Slots[0].Float).To(BeFalse())
		Expect(s.Slots[1].Float).To(BeTrue())

		s, _ = insts.Classify("vfcvt.rtz.x.f.v")
		Expect(s.Rounding).To(BeFalse())
		Expect(s.Slots[0].Float).To(BeFalse())
		Expect(s.Slots[1].Float).To(BeTrue())
	})

	It("should pick signed or unsigned immediates", func() {
		s, _ := insts.Classify("vsll.vi")
		Expect(s.Slots[2].Signed).To(BeFalse())
		s, _ = insts.Classify("vadd.vi")
		Expect(s.Slots[2].Signed).To(BeTrue())
	})

	It("should reject unknown mnemonics", func() {
		for _, m := range []string{"addi", "vfoo.q", "vwadd.vi", "vnsrl.vv", "fcvt.w.s"} {
			_, err := insts.Classify(m)
			Expect(err).To(HaveOccurred(), m)
		}
	})
})

var _ = Describe("Descriptor", func() {
	cfg := insts.Config{Vset: vtype.KindVsetvli, SEW: 32, LMUL: vtype.LMUL2, AVL: 8}

	It("should start with every operand unselected", func() {
		d, err := insts.New("vwadd.vv", "test_1", cfg)
		Expect(err).NotTo(HaveOccurred())
		for _, s := range d.Slots {
			Expect(s.Operand.IsSelected()).To(BeFalse())
		}
		_, err = d.Render()
		Expect(errors.Is(err, diag.ErrInternal)).To(BeTrue())
	})

	It("should render a masked instruction", func() {
		masked := cfg
		masked.Masked = true
		d, err := insts.New("vwadd.vv", "test_1", masked)
		Expect(err).NotTo(HaveOccurred())
		d.Slot("vd").Operand = insts.Selected("v8")
		d.Slot("vs2").Operand = insts.Selected("v2")
		d.Slot("vs1").Operand = insts.Selected("v4")

		line, err := d.Render()
		Expect(err).NotTo(HaveOccurred())
		Expect(line).To(Equal("vwadd.vv v8, v2, v4, v0.t"))
	})

	It("should render memory, immediates and static rounding", func() {
		d, _ := insts.New("vlse32.v", "t", cfg)
		d.Slot("vd").Operand = insts.Selected("v4")
		d.Slot("rs1").Operand = insts.Selected("a0")
		d.Slot("rs2").Operand = insts.Selected("a1")
		Expect(d.Render()).To(Equal("vlse32.v v4, (a0), a1"))

		d, _ = insts.New("vadd.vi", "t", cfg)
		d.Slot("vd").Operand = insts.Selected("v4")
		d.Slot("vs2").Operand = insts.Selected("v8")
		d.Slot("imm").Operand = insts.Selected("imm", 0x1f)
		Expect(d.Render()).To(Equal("vadd.vi v4, v8, -1"))

		rm := insts.Config{FRM: fpvalue.RTZ, StaticRM: true}
		d, _ = insts.New("fadd.d", "t", rm)
		d.Slot("fd").Operand = insts.Selected("fa0")
		d.Slot("fs1").Operand = insts.Selected("fa1")
		d.Slot("fs2").Operand = insts.Selected("fa2")
		Expect(d.Render()).To(Equal("fadd.d fa0, fa1, fa2, rtz"))

		d, _ = insts.New("vmerge.vvm", "t", cfg)
		d.Slot("vd").Operand = insts.Selected("v4")
		d.Slot("vs2").Operand = insts.Selected("v8")
		d.Slot("vs1").Operand = insts.Selected("v12")
		Expect(d.Render()).To(Equal("vmerge.vvm v4, v8, v12, v0"))
	})

	It("should refuse to mask an unmaskable instruction", func() {
		masked := cfg
		masked.Masked = true
		_, err := insts.New("vmand.mm", "t", masked)
		Expect(errors.Is(err, diag.ErrConfig)).To(BeTrue())
	})

	It("should expose vector settings", func() {
		d, _ := insts.New("vadd.vv", "t", cfg)
		s := d.VectorSettings()
		Expect(s.SEW).To(Equal(32))
		Expect(s.LMUL).To(Equal(vtype.LMUL2))
		Expect(s.VL).To(Equal(vtype.VL(8)))
	})

	It("should encode operands as a tagged union", func() {
		data, err := json.Marshal([]insts.Operand{insts.Unselected(), insts.Selected("v8", 1, 2)})
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal(`[null,{"name":"v8","values":[1,2]}]`))

		var back []insts.Operand
		Expect(json.Unmarshal(data, &back)).To(Succeed())
		Expect(back[0].IsSelected()).To(BeFalse())
		Expect(back[1].Values()).To(Equal([]uint64{1, 2}))
	})
})

var _ = Describe("Register names", func() {
	It("should accept numeric and ABI spellings", func() {
		r, ok := insts.ParseXReg("t4")
		Expect(ok).To(BeTrue())
		Expect(r).To(Equal(29))
		r, _ = insts.ParseXReg("x29")
		Expect(r).To(Equal(29))
		r, _ = insts.ParseFReg("fa0")
		Expect(r).To(Equal(10))
		r, _ = insts.ParseVReg("v31")
		Expect(r).To(Equal(31))
		_, ok = insts.ParseVReg("v32")
		Expect(ok).To(BeFalse())
	})
})
