package gen_test

import (
	"errors"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/vsynth/diag"
	"github.com/sarchlab/vsynth/gen"
	"github.com/sarchlab/vsynth/insts"
	"github.com/sarchlab/vsynth/resource"
	"github.com/sarchlab/vsynth/verify"
	"github.com/sarchlab/vsynth/vtype"
)

func vcfg(sew int, lmul vtype.LMUL, vl vtype.VL) insts.Config {
	return insts.Config{Vset: vtype.KindVsetvli, SEW: sew, LMUL: lmul, AVL: vl, TA: true, MA: true}
}

func pre(g *gen.Generator, mnemonic string, cfg insts.Config) (*gen.Instance, error) {
	d, err := insts.New(mnemonic, "", cfg)
	Expect(err).NotTo(HaveOccurred())
	return g.Pre(d)
}

func hasLine(lines []string, prefix string) bool {
	for _, l := range lines {
		if strings.HasPrefix(l, prefix) {
			return true
		}
	}
	return false
}

var _ = Describe("Generator", func() {
	var (
		res *resource.Resource
		g   *gen.Generator
	)

	BeforeEach(func() {
		res = resource.New(7)
		g = gen.New(res)
	})

	It("should number unlabeled instances", func() {
		a, err := pre(g, "vadd.vv", vcfg(32, vtype.LMUL1, 4))
		Expect(err).NotTo(HaveOccurred())
		b, err := pre(g, "vsub.vv", vcfg(32, vtype.LMUL1, 4))
		Expect(err).NotTo(HaveOccurred())

		Expect(a.Label).To(Equal("test_1"))
		Expect(b.Label).To(Equal("test_2"))
	})

	It("should emit the vector context before the instruction", func() {
		inst, err := pre(g, "vadd.vv", vcfg(32, vtype.LMUL1, 4))
		Expect(err).NotTo(HaveOccurred())

		last := inst.Lines[len(inst.Lines)-1]
		Expect(last).To(Equal("test_1: " + inst.Instr))
		Expect(inst.Lines).To(ContainElement("vsetvli t0, t1, e32, m1, ta, ma"))
		Expect(inst.Lines[0]).To(HavePrefix("# test_1: vadd.vv"))
	})

	It("should plan one vector destination and a free work register", func() {
		inst, err := pre(g, "vadd.vv", vcfg(32, vtype.LMUL2, 8))
		Expect(err).NotTo(HaveOccurred())

		Expect(inst.Plan.VL).To(Equal(8))
		Expect(inst.Plan.Dests).To(HaveLen(1))
		d := inst.Plan.Dests[0]
		Expect(d.Kind).To(Equal(verify.DestVector))
		Expect(d.Regs).To(Equal(2))
		Expect(d.EEW).To(Equal(32))
		Expect(d.EVL).To(Equal(8))
		Expect(d.Base % 2).To(Equal(0))
		Expect(inst.Plan.Work).NotTo(BeNumerically("<", 0))
		Expect(inst.Plan.Work < d.Base || inst.Plan.Work >= d.Base+2).To(BeTrue())
	})

	It("should size widening destinations at twice SEW", func() {
		inst, err := pre(g, "vwadd.vv", vcfg(32, vtype.LMUL2, 8))
		Expect(err).NotTo(HaveOccurred())

		d := inst.Plan.Dests[0]
		Expect(d.EEW).To(Equal(64))
		Expect(d.Regs).To(Equal(4))
		Expect(d.Base % 4).To(Equal(0))
	})

	It("should draw a random vl within VLMAX and record it", func() {
		for range 20 {
			inst, err := pre(g, "vadd.vv", vcfg(16, vtype.LMUL1, vtype.VLRandom))
			Expect(err).NotTo(HaveOccurred())
			Expect(inst.Plan.VL).To(BeNumerically(">=", 1))
			Expect(inst.Plan.VL).To(BeNumerically("<=", 8))
			Expect(int(inst.Config.AVL)).To(Equal(inst.Plan.VL))
		}
	})

	It("should mark an instruction with vl zero as no-update", func() {
		inst, err := pre(g, "vadd.vv", vcfg(32, vtype.LMUL1, vtype.VLZero))
		Expect(err).NotTo(HaveOccurred())

		Expect(inst.Label).To(Equal("test_1_noupdate"))
		Expect(verify.IsNoUpdate(inst.Plan.Label)).To(BeTrue())

		lines, err := g.Post(inst, verify.Report{})
		Expect(err).NotTo(HaveOccurred())
		Expect(lines).To(Equal([]string{
			"j test_1_noupdate_pass",
			"test_1_noupdate_fail:",
			"j test_failed",
			"test_1_noupdate_pass:",
		}))
	})

	It("should carry the mask of masked instructions", func() {
		cfg := vcfg(32, vtype.LMUL1, 4)
		cfg.Masked = true
		inst, err := pre(g, "vadd.vv", cfg)
		Expect(err).NotTo(HaveOccurred())

		Expect(inst.Plan.Masked).To(BeTrue())
		Expect(inst.Plan.Mask).To(HaveLen(2))
		Expect(inst.Instr).To(HaveSuffix(", v0.t"))
		Expect(inst.Plan.Dests[0].Base).NotTo(Equal(0))
	})

	It("should keep vstart at zero for reductions", func() {
		cfg := vcfg(32, vtype.LMUL1, 4)
		cfg.VStart = vtype.VStart{Mode: vtype.VStartFixed, Value: 2}
		inst, err := pre(g, "vredsum.vs", cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(inst.Plan.VStart).To(Equal(0))
		Expect(hasLine(inst.Lines, "csrwi vstart")).To(BeFalse())
	})

	It("should write a fixed vstart before the instruction", func() {
		cfg := vcfg(32, vtype.LMUL1, 4)
		cfg.VStart = vtype.VStart{Mode: vtype.VStartFixed, Value: 2}
		inst, err := pre(g, "vadd.vv", cfg)
		Expect(err).NotTo(HaveOccurred())

		Expect(inst.Plan.VStart).To(Equal(2))
		n := len(inst.Lines)
		Expect(inst.Lines[n-2]).To(Equal("csrwi vstart, 2"))
	})

	It("should describe the memory a store writes", func() {
		inst, err := pre(g, "vse32.v", vcfg(32, vtype.LMUL1, 4))
		Expect(err).NotTo(HaveOccurred())

		Expect(inst.Plan.Store).To(BeTrue())
		Expect(inst.Region).NotTo(BeNil())
		Expect(inst.Region.Addr).To(BeNumerically(">=", res.DataBase))
		Expect(inst.Region.Size).To(BeNumerically(">=", 16))
	})

	It("should load floating-point scalar sources through memory", func() {
		inst, err := pre(g, "fadd.d", insts.Config{})
		Expect(err).NotTo(HaveOccurred())

		Expect(hasLine(inst.Lines, "fld ")).To(BeTrue())
		Expect(hasLine(inst.Lines, "csrwi fflags, 0")).To(BeTrue())
		Expect(inst.Plan.Dests).To(HaveLen(1))
		Expect(inst.Plan.Dests[0].Kind).To(Equal(verify.DestFReg))
		Expect(inst.Plan.Work).To(Equal(-1))
	})

	It("should reject vsetivli before version 0.10", func() {
		res = resource.New(7, resource.WithISAVersion(semver.MustParse("0.9.0")))
		g = gen.New(res)
		cfg := vcfg(32, vtype.LMUL1, 4)
		cfg.Vset = vtype.KindVsetivli

		_, err := pre(g, "vadd.vv", cfg)
		Expect(errors.Is(err, diag.ErrConfig)).To(BeTrue())
	})

	It("should reject unsupported SEW and LMUL pairs", func() {
		_, err := pre(g, "vadd.vv", vcfg(64, vtype.LMULF2, 1))
		Expect(errors.Is(err, diag.ErrConfig)).To(BeTrue())
	})

	It("should be reproducible from the seed", func() {
		build := func() []string {
			g := gen.New(resource.New(99))
			var all []string
			for _, m := range []string{"vadd.vv", "vwadd.vv", "vle32.v", "vse32.v"} {
				cfg := vcfg(32, vtype.LMUL1, vtype.VLRandom)
				cfg.VStart = vtype.VStart{Mode: vtype.VStartRandom}
				inst, err := pre(g, m, cfg)
				Expect(err).NotTo(HaveOccurred())
				all = append(all, inst.Lines...)
			}
			data, err := g.Data()
			Expect(err).NotTo(HaveOccurred())
			return append(all, data...)
		}
		Expect(build()).To(Equal(build()))
	})
})

var _ = Describe("Program", func() {
	build := func(res *resource.Resource) *gen.File {
		f, err := gen.New(res).Build([]gen.Request{
			{Mnemonic: "vadd.vv", Config: vcfg(32, vtype.LMUL1, 4)},
			{Mnemonic: "vadd.vv", Label: "empty", Config: vcfg(32, vtype.LMUL1, vtype.VLZero)},
		})
		Expect(err).NotTo(HaveOccurred())
		return f
	}

	It("should keep the seed and page count for the check phase", func() {
		f := build(resource.New(3))
		Expect(f.Seed).To(Equal(uint64(3)))
		Expect(f.RunID).NotTo(BeEmpty())
		Expect(f.Pages).To(BeNumerically(">", 0))
		Expect(f.Instances).To(HaveLen(2))
		Expect(f.Instances[1].Label).To(Equal("empty_noupdate"))
		Expect(f.Data[0]).To(Equal(".section .data"))
	})

	It("should end strict programs at the pass and fail targets", func() {
		res := resource.New(3)
		f := build(res)
		lines := gen.Program(res, f, nil)

		Expect(lines[:3]).To(Equal([]string{".section .text", ".globl _start", "_start:"}))
		Expect(lines).To(ContainElements("j test_passed", "test_failed:", "test_passed:"))
		Expect(lines).NotTo(ContainElement("li s11, 0"))
	})

	It("should accumulate mismatches when not strict", func() {
		res := resource.New(3, resource.WithStrict(false))
		f := build(res)
		lines := gen.Program(res, f, nil)

		Expect(lines[3]).To(Equal("li s11, 0"))
		Expect(lines).To(ContainElement("bnez s11, test_failed"))
	})

	It("should need a report for every updating instance", func() {
		res := resource.New(3)
		f := build(res)
		_, err := gen.NewChecker(res, f, verify.FormatAuto).Check(map[string]verify.Report{})
		Expect(errors.Is(err, diag.ErrReport)).To(BeTrue())
	})

	It("should check every instance against its report", func() {
		res := resource.New(3)
		f := build(res)
		d := f.Instances[0].Plan.Dests[0]
		reports := map[string]verify.Report{
			"test_1": {VRegs: "v" + strconv.Itoa(d.Base) + ":0x00000004000000030000000200000001"},
		}

		checks, err := gen.NewChecker(res, f, verify.FormatAuto).Check(reports)
		Expect(err).NotTo(HaveOccurred())
		Expect(checks).To(HaveKey("empty_noupdate"))
		Expect(checks["test_1"]).To(ContainElement("li t3, 0x4"))
		Expect(gen.Render(gen.Program(res, f, checks))).To(ContainSubstring("\n    bne t3, t4, test_1_fail\n"))
	})
})
