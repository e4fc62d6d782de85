package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/vsynth/diag"
	"github.com/sarchlab/vsynth/gen"
	"github.com/sarchlab/vsynth/loader"
	"github.com/sarchlab/vsynth/memlayout"
	"github.com/sarchlab/vsynth/resource"
)

const plan = `
- mnemonic: vadd.vv
  config: {vset: vsetvli, sew: 32, lmul: m1, avl: "4", ta: true, ma: true}
- mnemonic: vwadd.vv
  config: {vset: vsetvli, sew: 32, lmul: m2, avl: "8"}
`

var _ = Describe("vsynth", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		Expect(os.WriteFile(filepath.Join(dir, "arith.yaml"), []byte(plan), 0644)).To(Succeed())
	})

	run := func(args ...string) (string, error) {
		out := &bytes.Buffer{}
		root := newRootCommand()
		root.SetOut(out)
		root.SetErr(out)
		root.SetArgs(args)
		err := root.Execute()
		return strings.TrimSpace(out.String()), err
	}

	path := func(name string) string {
		return filepath.Join(dir, name)
	}

	It("should write a setup program and state per plan", func() {
		_, err := run("gen", "-o", dir, path("arith.yaml"))
		Expect(err).NotTo(HaveOccurred())

		Expect(path("arith.S")).To(BeAnExistingFile())
		f, err := loader.LoadState(path("arith.state.json"))
		Expect(err).NotTo(HaveOccurred())
		Expect(f.Instances).To(HaveLen(2))
		Expect(f.Seed).To(Equal(uint64(1)))
	})

	It("should give each plan file its own seed", func() {
		Expect(os.WriteFile(path("more.yaml"), []byte(plan), 0644)).To(Succeed())
		_, err := run("gen", "--seed", "40", "-o", dir, path("arith.yaml"), path("more.yaml"))
		Expect(err).NotTo(HaveOccurred())

		a, err := loader.LoadState(path("arith.state.json"))
		Expect(err).NotTo(HaveOccurred())
		b, err := loader.LoadState(path("more.state.json"))
		Expect(err).NotTo(HaveOccurred())
		Expect(a.Seed).To(Equal(uint64(40)))
		Expect(b.Seed).To(Equal(uint64(41)))
	})

	It("should close the loop through the emulator", func() {
		_, err := run("gen", "-o", dir, path("arith.yaml"))
		Expect(err).NotTo(HaveOccurred())

		out, err := run("check", path("arith.S"),
			"--state", path("arith.state.json"), "--reports-out", path("sim.json"))
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("test_passed"))

		reports, err := loader.LoadReports(path("sim.json"))
		Expect(err).NotTo(HaveOccurred())
		Expect(reports).To(HaveLen(2))

		_, err = run("post", "--format", "wide",
			"--state", path("arith.state.json"), "--reports", path("sim.json"), "-o", path("final.S"))
		Expect(err).NotTo(HaveOccurred())

		out, err = run("check", path("final.S"))
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("test_passed"))
	})

	It("should fail a program that reaches the fail target", func() {
		Expect(os.WriteFile(path("bad.S"), []byte(
			".section .text\n_start:\nj test_failed\ntest_failed:\nj test_failed\ntest_passed:\nj test_passed\n"),
			0644)).To(Succeed())

		out, err := run("check", path("bad.S"))
		Expect(err).To(MatchError(ContainSubstring("test_failed")))
		Expect(out).To(HavePrefix("test_failed"))
	})

	It("should reject a post run without reports", func() {
		_, err := run("post", "--state", path("missing.json"))
		Expect(err).To(HaveOccurred())
	})

	It("should reject an invalid configuration", func() {
		_, err := run("gen", "--vlen", "100", "-o", dir, path("arith.yaml"))
		Expect(err).To(MatchError(ContainSubstring("vlen")))
	})

	Describe("checkData", func() {
		layout := func(vals ...uint64) *memlayout.Planner {
			p := memlayout.NewPlanner(resource.New(1))
			_, err := p.PlaceValues(vals, 4, false)
			Expect(err).NotTo(HaveOccurred())
			_, err = p.Finalize()
			Expect(err).NotTo(HaveOccurred())
			return p
		}
		text := func(p *memlayout.Planner) string {
			return gen.Render(append([]string{".section .text", "_start:", "nop"}, p.Directives()...))
		}

		It("should accept a data section that matches the layout", func() {
			p := layout(0xdeadbeef, 7)
			Expect(checkData(p, text(p), resource.New(1).DataBase)).To(Succeed())
		})

		It("should name the first byte that differs", func() {
			err := checkData(layout(0xdeadbeef, 7), text(layout(0xdeadbeef, 8)), resource.New(1).DataBase)
			Expect(errors.Is(err, diag.ErrInternal)).To(BeTrue())
			Expect(err).To(MatchError(ContainSubstring("is 0x08, the layout predicted 0x07")))
		})
	})
})
