package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/vsynth/emu"
)

const vectorData = ".section .data\n" +
	"a:\n.word 1, 2, 3, 4\n" +
	"b:\n.word 10, 20, 30, 40\n" +
	"c:\n.skip 16\n"

var _ = Describe("VPU", func() {
	var e *emu.Emulator

	BeforeEach(func() {
		e = emu.NewEmulator()
	})

	// run executes lines after loading a into v1 and b into v2 under
	// e32, m1 with vl 4.
	run := func(lines ...string) {
		setup := []string{
			"vsetivli t0, 4, e32, m1, tu, mu",
			"la t2, a",
			"vle32.v v1, (t2)",
			"la t2, b",
			"vle32.v v2, (t2)",
		}
		text := append(setup, lines...)
		Expect(e.Load(program(append(text, passed...)...) + vectorData)).To(Succeed())
		Expect(e.Run()).To(Equal(emu.ExitPassed))
	}

	elements := func(r, n, eew int) []uint64 {
		out := make([]uint64, n)
		for i := range out {
			out[i] = e.VPU().Element(r, i, eew)
		}
		return out
	}

	Describe("vset", func() {
		It("should clamp the requested length to VLMAX", func() {
			Expect(e.Load(program(append([]string{"li t1, 100", "vsetvli t0, t1, e32, m2, ta, ma"}, passed...)...))).To(Succeed())
			e.Run()
			Expect(e.RegFile().ReadReg(5)).To(Equal(uint64(8)))
			Expect(e.VPU().VL()).To(Equal(8))
			Expect(e.VPU().SEW()).To(Equal(32))
		})

		It("should set VLMAX when rs1 is x0", func() {
			Expect(e.Load(program(append([]string{"vsetvli t0, x0, e8, m1, ta, ma"}, passed...)...))).To(Succeed())
			e.Run()
			Expect(e.VPU().VL()).To(Equal(16))
		})

		It("should take an immediate length", func() {
			Expect(e.Load(program(append([]string{"vsetivli t0, 3, e16, mf2, ta, ma"}, passed...)...))).To(Succeed())
			e.Run()
			Expect(e.VPU().VL()).To(Equal(3))
		})

		It("should take a packed vtype", func() {
			Expect(e.Load(program(append([]string{
				"li t1, 4",
				"li t2, 0xd0",
				"vsetvl t0, t1, t2",
			}, passed...)...))).To(Succeed())
			e.Run()
			Expect(e.VPU().SEW()).To(Equal(32))
			Expect(e.VPU().VL()).To(Equal(4))
			Expect(e.RegFile().CSR.VType).To(Equal(uint64(0xd0)))
		})

		It("should set vill for an unsupported configuration", func() {
			Expect(e.Load(program("li t1, 4", "vsetvli t0, t1, e64, mf8, ta, ma", "vadd.vv v1, v2, v3"))).To(Succeed())
			Expect(e.Step().Err).NotTo(HaveOccurred())
			Expect(e.Step().Err).NotTo(HaveOccurred())
			Expect(e.RegFile().CSR.VType >> 63).To(Equal(uint64(1)))
			Expect(e.RegFile().ReadReg(5)).To(BeZero())
			Expect(e.Step().Err).To(HaveOccurred())
		})
	})

	Describe("Arithmetic", func() {
		It("should add vectors, scalars and immediates", func() {
			run(
				"vadd.vv v3, v1, v2",
				"vadd.vi v4, v1, -1",
				"li t1, 100",
				"vrsub.vx v5, v1, t1",
				"vmv.x.s a0, v3",
			)
			Expect(elements(3, 4, 32)).To(Equal([]uint64{11, 22, 33, 44}))
			Expect(elements(4, 4, 32)).To(Equal([]uint64{0, 1, 2, 3}))
			Expect(elements(5, 4, 32)).To(Equal([]uint64{99, 98, 97, 96}))
			Expect(e.RegFile().ReadReg(10)).To(Equal(uint64(11)))
		})

		It("should leave inactive elements undisturbed", func() {
			run(
				"li t0, 5",
				"vmv.s.x v0, t0",
				"vadd.vv v5, v1, v2, v0.t",
			)
			Expect(elements(5, 4, 32)).To(Equal([]uint64{11, 0, 33, 0}))
		})

		It("should start at vstart and reset it", func() {
			run(
				"csrwi vstart, 2",
				"vadd.vv v12, v1, v2",
			)
			Expect(elements(12, 4, 32)).To(Equal([]uint64{0, 0, 33, 44}))
			Expect(e.RegFile().CSR.VStart).To(BeZero())
		})

		It("should write nothing when vl is zero", func() {
			run(
				"vsetvli t0, zero, e32, m1, tu, mu",
				"li t1, 0",
				"vsetvli t0, t1, e32, m1, tu, mu",
				"vadd.vv v1, v1, v2",
			)
			Expect(elements(1, 4, 32)).To(Equal([]uint64{1, 2, 3, 4}))
		})

		It("should widen with sign and zero extension", func() {
			run(
				"vwadd.vv v8, v1, v2",
				"vwsub.vv v10, v1, v2",
				"vwaddu.wv v12, v8, v1",
			)
			Expect(elements(8, 4, 64)).To(Equal([]uint64{11, 22, 33, 44}))
			Expect(int64(e.VPU().Element(10, 0, 64))).To(Equal(int64(-9)))
			Expect(elements(12, 4, 64)).To(Equal([]uint64{12, 24, 36, 48}))
		})

		It("should reduce into element 0", func() {
			run("vredsum.vs v6, v2, v1")
			Expect(e.VPU().Element(6, 0, 32)).To(Equal(uint64(101)))
		})

		It("should compare into mask bits", func() {
			run(
				"li t1, 3",
				"vmslt.vx v7, v1, t1",
			)
			Expect(e.VPU().MaskBit(7, 0)).To(BeTrue())
			Expect(e.VPU().MaskBit(7, 1)).To(BeTrue())
			Expect(e.VPU().MaskBit(7, 2)).To(BeFalse())
			Expect(e.VPU().MaskBit(7, 3)).To(BeFalse())
		})

		It("should slide down and fill with zero past VLMAX", func() {
			run("vslidedown.vi v9, v1, 1")
			Expect(elements(9, 4, 32)).To(Equal([]uint64{2, 3, 4, 0}))
		})

		It("should merge under v0", func() {
			run(
				"li t0, 0xa",
				"vmv.s.x v0, t0",
				"vmerge.vvm v13, v1, v2, v0",
			)
			Expect(elements(13, 4, 32)).To(Equal([]uint64{1, 20, 3, 40}))
		})
	})

	Describe("Memory", func() {
		It("should store elements", func() {
			run(
				"vadd.vv v3, v1, v2",
				"la t2, c",
				"vse32.v v3, (t2)",
			)
			v, err := e.Memory().ReadUint(0x80100020+12, 4)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(uint64(44)))
		})

		It("should load with a stride", func() {
			run(
				"la t2, a",
				"li t1, 8",
				"vsetivli t0, 2, e32, m1, tu, mu",
				"vlse32.v v14, (t2), t1",
			)
			Expect(elements(14, 2, 32)).To(Equal([]uint64{1, 3}))
		})

		It("should load through byte offsets", func() {
			run(
				"vsetivli t0, 2, e8, m1, tu, mu",
				"li t0, 12",
				"vmv.s.x v15, t0",
				"vsetivli t0, 2, e32, m1, tu, mu",
				"la t2, b",
				"vluxei8.v v16, (t2), v15",
			)
			Expect(elements(16, 2, 32)).To(Equal([]uint64{40, 10}))
		})
	})
})
