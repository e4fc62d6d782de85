package emu_test

import (
	"fmt"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/vsynth/emu"
	"github.com/sarchlab/vsynth/gen"
	"github.com/sarchlab/vsynth/insts"
	"github.com/sarchlab/vsynth/resource"
	"github.com/sarchlab/vsynth/verify"
	"github.com/sarchlab/vsynth/vtype"
)

// The generated program runs three times: once without checks to collect
// the reports, once with checks built from them, and once with one lane of
// the report corrupted.
var _ = Describe("Generated programs", func() {
	var (
		res *resource.Resource
		f   *gen.File
	)

	BeforeEach(func() {
		res = resource.New(11)
		var err error
		f, err = gen.New(res).Build([]gen.Request{{
			Mnemonic: "vwadd.vv",
			Config: insts.Config{
				Vset: vtype.KindVsetvli, SEW: 32, LMUL: vtype.LMUL2, AVL: 8,
			},
		}})
		Expect(err).NotTo(HaveOccurred())
		Expect(f.Instances).To(HaveLen(1))
	})

	execute := func(checks map[string][]string) *emu.Emulator {
		e := emu.NewEmulator(emu.WithVLEN(res.VLEN), emu.WithDataBase(res.DataBase))
		Expect(e.Load(gen.Render(gen.Program(res, f, checks)))).To(Succeed())
		for _, inst := range f.Instances {
			var addr uint64
			size := 0
			if inst.Region != nil {
				addr, size = inst.Region.Addr, inst.Region.Size
			}
			Expect(e.Watch(inst.Label, &inst.Plan, addr, size)).To(Succeed())
		}
		return e
	}

	check := func(reports map[string]verify.Report) map[string][]string {
		checks, err := gen.NewChecker(res, f, verify.FormatWide).Check(reports)
		Expect(err).NotTo(HaveOccurred())
		return checks
	}

	It("should compute the widened sum", func() {
		e := execute(nil)
		Expect(e.Run()).To(Equal(emu.ExitPassed))

		inst := f.Instances[0]
		d := inst.Plan.Dests[0]
		Expect(d.EEW).To(Equal(64))
		Expect(d.Regs).To(Equal(4))

		_, operands, _ := strings.Cut(inst.Instr, " ")
		args := insts.SplitArgs(operands)
		Expect(args).To(HaveLen(3))
		vs2, ok := insts.ParseVReg(args[1])
		Expect(ok).To(BeTrue())
		vs1, ok := insts.ParseVReg(args[2])
		Expect(ok).To(BeTrue())

		u := e.VPU()
		for i := range 8 {
			want := int64(int32(u.Element(vs2, i, 32))) + int64(int32(u.Element(vs1, i, 32)))
			Expect(int64(u.Element(d.Base, i, 64))).To(Equal(want), "element %d", i)
		}
		Expect(e.Reports()).To(HaveKey(inst.Label))
	})

	It("should pass its own checks", func() {
		first := execute(nil)
		Expect(first.Run()).To(Equal(emu.ExitPassed))

		second := execute(check(first.Reports()))
		Expect(second.Run()).To(Equal(emu.ExitPassed))
	})

	It("should stop at the fail target on a corrupted lane", func() {
		first := execute(nil)
		Expect(first.Run()).To(Equal(emu.ExitPassed))

		inst := f.Instances[0]
		vd := inst.Plan.Dests[0].Base
		actual := first.VPU().Element(vd, 3, 64)
		corrupted := actual ^ 1

		reports := first.Reports()
		rep := reports[inst.Label]
		rep.VRegs += fmt.Sprintf(";v%d[8]:0x%016x", vd+1, corrupted)
		reports[inst.Label] = rep

		third := execute(check(reports))
		Expect(third.Run()).To(Equal(emu.ExitFailed))
		Expect(third.RegFile().ReadReg(28)).To(Equal(corrupted))
		Expect(third.RegFile().ReadReg(29)).To(Equal(actual))
	})
})

var _ = Describe("Operand initialization", func() {
	It("should fill every byte of the source groups under an immediate vset", func() {
		res := resource.New(11)
		f, err := gen.New(res).Build([]gen.Request{{
			Mnemonic: "vadd.vv",
			Config: insts.Config{
				Vset: vtype.KindVsetivli, SEW: 8, LMUL: vtype.LMUL4, AVL: 8, TA: true, MA: true,
			},
		}})
		Expect(err).NotTo(HaveOccurred())

		e := emu.NewEmulator(emu.WithVLEN(res.VLEN), emu.WithDataBase(res.DataBase))
		Expect(e.Load(gen.Render(gen.Program(res, f, nil)))).To(Succeed())
		Expect(e.Run()).To(Equal(emu.ExitPassed))

		inst := f.Instances[0]
		Expect(inst.Lines).To(ContainElement("vsetvli t0, x0, e8, m4, ta, ma"))

		_, operands, _ := strings.Cut(inst.Instr, " ")
		sources := map[int]bool{}
		for _, a := range insts.SplitArgs(operands)[1:] {
			if r, ok := insts.ParseVReg(a); ok {
				sources[r] = true
			}
		}
		Expect(sources).To(HaveLen(2))

		groupBytes := 4 * res.VLEN / 8
		checked := 0
		for i, l := range inst.Lines {
			var r int
			if n, _ := fmt.Sscanf(l, "vle8.v v%d,", &r); n != 1 || !sources[r] {
				continue
			}
			addr, err := e.Symbol(strings.TrimPrefix(inst.Lines[i-1], "la t2, "))
			Expect(err).NotTo(HaveOccurred())
			want, err := e.Memory().Read(addr, uint64(groupBytes))
			Expect(err).NotTo(HaveOccurred())

			var got []byte
			for reg := r; reg < r+4; reg++ {
				got = append(got, e.VPU().Register(reg)...)
			}
			Expect(got).To(Equal(want), "v%d", r)
			checked++
		}
		Expect(checked).To(Equal(2))
	})
})
