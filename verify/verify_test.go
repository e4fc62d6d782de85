package verify_test

import (
	"errors"
	"fmt"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/vsynth/diag"
	"github.com/sarchlab/vsynth/resource"
	"github.com/sarchlab/vsynth/verify"
)

func count(lines []string, prefix string) int {
	n := 0
	for _, l := range lines {
		if strings.HasPrefix(l, prefix) {
			n++
		}
	}
	return n
}

func epilogue(label string) []string {
	return []string{
		"j " + label + "_pass",
		label + "_fail:",
		"j test_failed",
		label + "_pass:",
	}
}

var _ = Describe("Normalize", func() {
	It("should place vector bytes by register and offset", func() {
		st, err := verify.Normalize(verify.Report{
			VRegs: "v8:0x00000004000000030000000200000001; v3[4]:0xaabb",
		}, verify.FormatAuto, 128, false)
		Expect(err).NotTo(HaveOccurred())

		Expect(st.VRegs[8].Covered(0, 16)).To(BeTrue())
		Expect(st.VRegs[8].Slice(0, 4)).To(Equal("00000001"))
		Expect(st.VRegs[8].Slice(12, 4)).To(Equal("00000004"))

		Expect(st.VRegs[3].Covered(4, 2)).To(BeTrue())
		Expect(st.VRegs[3].Covered(3, 2)).To(BeFalse())
		Expect(st.VRegs[3].Slice(4, 2)).To(Equal("aabb"))
	})

	It("should spread a group value over consecutive registers", func() {
		hex := "0x" + strings.Repeat("11", 16) + strings.Repeat("22", 16)
		st, err := verify.Normalize(verify.Report{VRegs: "v8:" + hex}, verify.FormatAuto, 128, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(st.VRegs[8].Data[15]).To(Equal(byte(0x22)))
		Expect(st.VRegs[9].Data[0]).To(Equal(byte(0x11)))
	})

	It("should parse scalar registers and flags", func() {
		st, err := verify.Normalize(verify.Report{
			XRegs: "a0:0x10; f11=0x3ff0000000000000",
			Flags: "NV|NX vxsat:1",
		}, verify.FormatAuto, 128, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(st.XRegs).To(HaveKeyWithValue(10, uint64(0x10)))
		Expect(st.FRegs).To(HaveKeyWithValue(11, uint64(0x3ff0000000000000)))
		Expect(st.Flags).To(HaveKeyWithValue("fflags", uint64(17)))
		Expect(st.Flags).To(HaveKeyWithValue("vxsat", uint64(1)))
	})

	It("should detect paired memory items and honour endianness", func() {
		r := verify.Report{MemAddrs: "0x80100000=0x01020304"}
		st, err := verify.Normalize(r, verify.FormatAuto, 128, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Mem).To(HaveLen(1))
		Expect(st.Mem[0].Addr).To(Equal(uint64(0x80100000)))
		Expect(st.Mem[0].Data).To(Equal([]byte{4, 3, 2, 1}))

		st, err = verify.Normalize(r, verify.FormatAuto, 128, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Mem[0].Data).To(Equal([]byte{1, 2, 3, 4}))
	})

	It("should reject malformed reports", func() {
		_, err := verify.Normalize(verify.Report{MemAddrs: "0x1 0x2", MemData: "0x1"},
			verify.FormatWide, 128, false)
		Expect(errors.Is(err, diag.ErrReport)).To(BeTrue())

		_, err = verify.Normalize(verify.Report{XRegs: "q1:0x1"}, verify.FormatAuto, 128, false)
		Expect(errors.Is(err, diag.ErrReport)).To(BeTrue())

		_, err = verify.Normalize(verify.Report{VRegs: "v31:0x" + strings.Repeat("00", 17)},
			verify.FormatAuto, 128, false)
		Expect(errors.Is(err, diag.ErrReport)).To(BeTrue())
	})
})

var _ = Describe("SignExtendHex", func() {
	It("should sign-extend by element width", func() {
		Expect(verify.SignExtendHex("ff", 8)).To(Equal(^uint64(0)))
		Expect(verify.SignExtendHex("7f", 8)).To(Equal(uint64(0x7f)))
		Expect(verify.SignExtendHex("8000", 16)).To(Equal(uint64(0xffffffffffff8000)))
	})

	It("should refuse a slice of the wrong width", func() {
		_, err := verify.SignExtendHex("00ff", 8)
		Expect(errors.Is(err, diag.ErrInternal)).To(BeTrue())
	})
})

var _ = Describe("ExpectedOffsets", func() {
	It("should classify prestart, inactive, active and tail lanes", func() {
		p := &verify.Plan{VLEN: 128, SEW: 32, VL: 3, VStart: 1, Masked: true, Mask: []uint64{0b101}}
		lanes := verify.ExpectedOffsets(p, verify.Dest{Base: 8, Regs: 1, EEW: 32, EVL: 3})

		Expect(lanes).To(HaveLen(4))
		var classes []verify.LaneClass
		for i, l := range lanes {
			Expect(l.ByteOffset).To(Equal(4 * i))
			classes = append(classes, l.Class)
		}
		Expect(classes).To(Equal([]verify.LaneClass{
			verify.LanePrestart, verify.LaneInactive, verify.LaneActive, verify.LaneTail,
		}))
	})

	It("should walk segment fields register by register", func() {
		p := &verify.Plan{VLEN: 128, SEW: 32, VL: 8}
		lanes := verify.ExpectedOffsets(p, verify.Dest{Base: 8, Regs: 2, NF: 2, EEW: 32, EVL: 8})
		Expect(lanes).To(HaveLen(16))
		Expect(lanes[4].Reg).To(Equal(9))
		Expect(lanes[8].Reg).To(Equal(10))
		Expect(lanes[8].Index).To(Equal(0))
	})
})

var _ = Describe("NoUpdateExpected", func() {
	vec := verify.Dest{Kind: verify.DestVector, Base: 8, Regs: 1, EEW: 32}

	DescribeTable("should decide from vl, vstart and the mask",
		func(p verify.Plan, want bool) {
			Expect(verify.NoUpdateExpected(&p)).To(Equal(want))
		},
		Entry("vl zero", verify.Plan{VL: 0, Dests: []verify.Dest{vec}}, true),
		Entry("every element masked off", verify.Plan{
			VL: 4, Masked: true, Mask: []uint64{0},
			Dests: []verify.Dest{{Kind: verify.DestVector, Base: 8, Regs: 1, EEW: 32, EVL: 4}},
		}, true),
		Entry("vstart at vl", verify.Plan{
			VL: 4, VStart: 4,
			Dests: []verify.Dest{{Kind: verify.DestVector, Base: 8, Regs: 1, EEW: 32, EVL: 4}},
		}, true),
		Entry("an active element", verify.Plan{
			VL: 4, Masked: true, Mask: []uint64{0b1000},
			Dests: []verify.Dest{{Kind: verify.DestVector, Base: 8, Regs: 1, EEW: 32, EVL: 4}},
		}, false),
		Entry("a reduction ignores the mask", verify.Plan{
			VL: 4, Masked: true, Mask: []uint64{0},
			Dests: []verify.Dest{{Kind: verify.DestVector, Base: 8, Regs: 1, EEW: 32, EVL: 1, Unmasked: true}},
		}, false),
		Entry("a scalar destination", verify.Plan{
			VL: 0, Dests: []verify.Dest{{Kind: verify.DestXReg, Reg: 10}},
		}, false),
		Entry("a fully masked store", verify.Plan{
			VL: 4, Masked: true, Mask: []uint64{0}, Store: true,
		}, true),
	)
})

var _ = Describe("Verifier", func() {
	var (
		res *resource.Resource
		v   *verify.Verifier
	)

	widening := func() *verify.Plan {
		return &verify.Plan{
			Label: "test_1", VLEN: 128, SEW: 32, VL: 4, Work: 1,
			Dests: []verify.Dest{{Field: "vd", Kind: verify.DestVector, Base: 8, Regs: 2, NF: 1, EEW: 64, EVL: 4}},
		}
	}
	wideReport := verify.Report{
		VRegs: "v8:0xffffffffffffffff000000000000000300000000000000020000000000000001",
	}

	BeforeEach(func() {
		res = resource.New(1)
		v = verify.New(res)
	})

	It("should compare every lane of a widened group", func() {
		lines, err := v.Emit(widening(), wideReport)
		Expect(err).NotTo(HaveOccurred())

		want := []string{
			"vsetvli t0, x0, e64, m1, ta, ma",
			"# vd: v8",
			"vmv.x.s t4, v8",
			"li t3, 0x1",
			"bne t3, t4, test_1_fail",
			"vslidedown.vi v1, v8, 1",
			"vmv.x.s t4, v1",
			"li t3, 0x2",
			"bne t3, t4, test_1_fail",
			"# vd: v9",
			"vmv.x.s t4, v9",
			"li t3, 0x3",
			"bne t3, t4, test_1_fail",
			"vslidedown.vi v1, v9, 1",
			"vmv.x.s t4, v1",
			"li t3, 0xffffffffffffffff",
			"bne t3, t4, test_1_fail",
		}
		Expect(lines).To(Equal(append(want, epilogue("test_1")...)))
	})

	It("should alternate between the register and the work register", func() {
		p := &verify.Plan{
			Label: "test_7", VLEN: 128, SEW: 32, VL: 4, Work: 2,
			Dests: []verify.Dest{{Field: "vd", Kind: verify.DestVector, Base: 4, Regs: 1, EEW: 32, EVL: 4}},
		}
		lines, err := v.Emit(p, verify.Report{VRegs: "v4:0x00000004000000030000000200000001"})
		Expect(err).NotTo(HaveOccurred())
		Expect(lines).To(ContainElements(
			"vslidedown.vi v2, v4, 1",
			"vslidedown.vi v4, v2, 1",
			"vslidedown.vi v2, v4, 1",
		))
		Expect(lines).To(ContainElement("li t3, 0x4"))
	})

	It("should accumulate mismatches when not strict", func() {
		v = verify.New(resource.New(1, resource.WithStrict(false)))
		lines, err := v.Emit(widening(), wideReport)
		Expect(err).NotTo(HaveOccurred())
		Expect(count(lines, "bne")).To(BeZero())
		Expect(count(lines, "add s11, s11, t3")).To(Equal(4))
		Expect(lines).NotTo(ContainElement("test_1_fail:"))
	})

	It("should emit only the epilogue for a no-update instruction", func() {
		label := verify.MarkLabel("test_3", true)
		Expect(label).To(Equal("test_3_noupdate"))

		p := widening()
		p.Label, p.VL = label, 0
		for i := range p.Dests {
			p.Dests[i].EVL = 0
		}
		Expect(verify.NoUpdateExpected(p)).To(BeTrue())

		live := widening()
		Expect(verify.NoUpdateExpected(live)).To(BeFalse())

		lines, err := v.Emit(p, verify.Report{})
		Expect(err).NotTo(HaveOccurred())
		Expect(lines).To(Equal(epilogue("test_3_noupdate")))
		Expect(count(lines, "vmv.x.s")).To(BeZero())
	})

	It("should fail on an empty report for an updating instruction", func() {
		_, err := v.Emit(widening(), verify.Report{})
		Expect(errors.Is(err, diag.ErrNoUpdate)).To(BeTrue())
		Expect(errors.Is(err, diag.ErrReport)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("test_1"))
	})

	It("should mask tail bits of mask destinations", func() {
		p := &verify.Plan{
			Label: "test_2", VLEN: 128, SEW: 8, VL: 10, Work: 1,
			Dests: []verify.Dest{{Field: "vd", Kind: verify.DestMask, Base: 4, Regs: 1, EEW: 1, EVL: 10}},
		}
		lines, err := v.Emit(p, verify.Report{VRegs: "v4:0x03ff"})
		Expect(err).NotTo(HaveOccurred())
		want := []string{
			"vsetvli t0, x0, e8, m1, ta, ma",
			"# vd: v4",
			"vmv.x.s t4, v4",
			"andi t4, t4, 0xff",
			"li t3, 0xff",
			"bne t3, t4, test_2_fail",
			"vslidedown.vi v1, v4, 1",
			"vmv.x.s t4, v1",
			"andi t4, t4, 0x3",
			"li t3, 0x3",
			"bne t3, t4, test_2_fail",
		}
		Expect(lines).To(Equal(append(want, epilogue("test_2")...)))
	})

	DescribeTable("should compare tail and inactive lanes only when undisturbed",
		func(ta, ma bool, lanes int) {
			p := &verify.Plan{
				Label: "test_4", VLEN: 128, SEW: 32, VL: 3, TA: ta, MA: ma, Work: 1,
				Masked: true, Mask: []uint64{0b011},
				Dests: []verify.Dest{{Field: "vd", Kind: verify.DestVector, Base: 8, Regs: 1, EEW: 32, EVL: 3}},
			}
			lines, err := v.Emit(p, verify.Report{VRegs: "v8:0x00000004000000030000000200000001"})
			Expect(err).NotTo(HaveOccurred())
			Expect(count(lines, "vmv.x.s")).To(Equal(lanes))
		},
		Entry("undisturbed", false, false, 4),
		Entry("tail agnostic", true, false, 3),
		Entry("mask agnostic", false, true, 3),
		Entry("both agnostic", true, true, 2),
	)

	It("should skip lanes the report does not cover", func() {
		lines, err := v.Emit(widening(), verify.Report{VRegs: "v9[8]:0x0000000000000005"})
		Expect(err).NotTo(HaveOccurred())
		Expect(count(lines, "vmv.x.s")).To(Equal(1))
		Expect(lines).To(ContainElement("vslidedown.vi v1, v9, 1"))
	})

	It("should check scalar registers and flags but not scratch registers", func() {
		p := &verify.Plan{Label: "test_5", VLEN: 128, SEW: 32, VL: 1, Work: 1}
		lines, err := v.Emit(p, verify.Report{XRegs: "a0:5 t3:9", Flags: "fflags:0x1"})
		Expect(err).NotTo(HaveOccurred())
		want := []string{
			"li t3, 0x5",
			"bne t3, a0, test_5_fail",
			"csrr t4, fflags",
			"li t3, 0x1",
			"bne t3, t4, test_5_fail",
		}
		Expect(lines).To(Equal(append(want, epilogue("test_5")...)))
	})

	It("should check vxsat only for fixed-point instructions", func() {
		p := &verify.Plan{Label: "test_9", VLEN: 128, SEW: 32, VL: 1, Work: 1}
		lines, err := v.Emit(p, verify.Report{Flags: "vxsat:1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(lines).NotTo(ContainElement("csrr t4, vxsat"))

		p.VXSat = true
		lines, err = v.Emit(p, verify.Report{Flags: "vxsat:1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(lines).To(ContainElement("csrr t4, vxsat"))
	})

	Context("with memory updates", func() {
		resolve := func(addr uint64) (string, error) {
			return fmt.Sprintf("page_0+0x%x", addr-0x80100000), nil
		}

		It("should load reported memory at the widest aligned size", func() {
			v = verify.New(res, verify.WithResolver(resolve))
			p := &verify.Plan{Label: "test_6", VLEN: 128, SEW: 32, VL: 2, Work: 1, Store: true}

			lines, err := v.Emit(p, verify.Report{MemAddrs: "0x80100008", MemData: "0x1122334455667788"})
			Expect(err).NotTo(HaveOccurred())
			Expect(lines[:4]).To(Equal([]string{
				"la t2, page_0+0x8",
				"ld t4, 0(t2)",
				"li t3, 0x1122334455667788",
				"bne t3, t4, test_6_fail",
			}))

			lines, err = v.Emit(p, verify.Report{MemAddrs: "0x80100004", MemData: "0x112233445566"})
			Expect(err).NotTo(HaveOccurred())
			Expect(lines).To(ContainElements(
				"lw t4, 0(t2)", "li t3, 0x33445566",
				"lh t4, 4(t2)", "li t3, 0x1122",
			))
		})

		It("should zero-extend short values to the stored element width", func() {
			v = verify.New(res, verify.WithResolver(resolve))
			p := &verify.Plan{Label: "test_6", VLEN: 128, SEW: 32, VL: 2, Work: 1, Store: true}
			report := verify.Report{MemAddrs: "0x80100008", MemData: "0x85"}

			lines, err := v.Emit(p, report)
			Expect(err).NotTo(HaveOccurred())
			Expect(lines).To(ContainElements("lb t4, 0(t2)", "li t3, 0xffffffffffffff85"))

			p.MemEEW = 32
			lines, err = v.Emit(p, report)
			Expect(err).NotTo(HaveOccurred())
			Expect(lines).To(ContainElements("lw t4, 0(t2)", "li t3, 0x85"))
			Expect(lines).NotTo(ContainElement("lb t4, 0(t2)"))
		})

		It("should require a resolver", func() {
			p := &verify.Plan{Label: "test_6", VLEN: 128, SEW: 32, VL: 2, Work: 1, Store: true}
			_, err := v.Emit(p, verify.Report{MemAddrs: "0x80100008", MemData: "0x01"})
			Expect(errors.Is(err, diag.ErrInternal)).To(BeTrue())
		})
	})

	It("should refuse a work register inside a destination", func() {
		p := widening()
		p.Work = 9
		_, err := v.Emit(p, wideReport)
		Expect(errors.Is(err, diag.ErrInternal)).To(BeTrue())
	})
})
