package memlayout_test

import (
	"errors"
	"strings"

	"github.com/Masterminds/semver/v3"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/vsynth/diag"
	"github.com/sarchlab/vsynth/memlayout"
	"github.com/sarchlab/vsynth/operand"
	"github.com/sarchlab/vsynth/resource"
	"github.com/sarchlab/vsynth/vtype"
)

type settings vtype.Settings

func (s settings) VectorSettings() vtype.Settings { return vtype.Settings(s) }

func dataLines(lines []string) []string {
	var out []string
	for _, l := range lines {
		if strings.HasPrefix(l, ".dword") || strings.HasPrefix(l, ".word") ||
			strings.HasPrefix(l, ".half") || strings.HasPrefix(l, ".byte") {
			out = append(out, l)
		}
	}
	return out
}

var _ = Describe("Planner", func() {
	var (
		res *resource.Resource
		p   *memlayout.Planner
		ctx *vtype.Context
	)

	BeforeEach(func() {
		res = resource.New(1)
		p = memlayout.NewPlanner(res)
		var err error
		ctx, err = vtype.Extract(settings{
			Kind: vtype.KindVsetvli, SEW: 32, LMUL: vtype.LMUL2, VL: 8,
		}, res.VLEN)
		Expect(err).NotTo(HaveOccurred())
		ctx.Establish()
	})

	It("should not duplicate a repeated request", func() {
		g := operand.Group{Base: 4, EEW: 32, EMUL: vtype.LMUL1, Regs: 1, NF: 1}
		vals := []uint64{1, 2, 3, 4}
		Expect(p.Request(g, vals, 32, memlayout.FormElement)).To(Succeed())
		Expect(p.Request(g, vals, 32, memlayout.FormElement)).To(Succeed())
		Expect(p.Pending()).To(Equal(1))

		_, err := p.Flush(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Request(g, vals, 32, memlayout.FormElement)).To(Succeed())
		_, err = p.Flush(ctx)
		Expect(err).NotTo(HaveOccurred())

		Expect(dataLines(p.Directives())).To(Equal([]string{
			".dword 0x0000000200000001, 0x0000000400000003",
		}))
	})

	It("should merge adjacent ranges into one directive", func() {
		a, err := p.PlaceValues([]uint64{0x11}, 8, false)
		Expect(err).NotTo(HaveOccurred())
		b, err := p.PlaceValues([]uint64{0x22}, 8, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(b.Offset).To(Equal(a.Offset + 8))

		Expect(dataLines(p.Directives())).To(Equal([]string{
			".dword 0x0000000000000011, 0x0000000000000022",
		}))
	})

	It("should pick the widest granularity dividing the chunk", func() {
		Expect(memlayout.Granularity(0, 16)).To(Equal(8))
		Expect(memlayout.Granularity(0, 12)).To(Equal(4))
		Expect(memlayout.Granularity(4, 8)).To(Equal(4))
		Expect(memlayout.Granularity(2, 6)).To(Equal(2))
		Expect(memlayout.Granularity(0, 17)).To(Equal(1))
	})

	It("should emit a full page with a mapping directive", func() {
		_, err := p.PlaceValues([]uint64{0xab}, 1, false)
		Expect(err).NotTo(HaveOccurred())
		lines := p.Directives()
		Expect(lines[0]).To(Equal(".section .data"))
		Expect(lines).To(ContainElement("page_0:"))
		Expect(lines).To(ContainElement(
			"#page_map(name=page_0, linear=0x80100000, physical=0x80100000, size=0x1000)"))
		Expect(lines).To(ContainElement(".byte 0xab"))
		Expect(lines[len(lines)-1]).To(Equal(".skip 4095"))
	})

	It("should open a new page when asked or when full", func() {
		_, err := p.Reserve(4000, 8, false)
		Expect(err).NotTo(HaveOccurred())
		loc, err := p.Reserve(200, 8, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(loc.Page).To(Equal(1))
		loc, err = p.Reserve(8, 8, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(loc.Label).To(Equal("page_2"))
		Expect(loc.Addr).To(Equal(res.DataBase + 2*memlayout.PageSize))

		sym, err := p.Resolve(res.DataBase + memlayout.PageSize + 0x10)
		Expect(err).NotTo(HaveOccurred())
		Expect(sym).To(Equal("page_1+0x10"))
		_, err = p.Resolve(res.DataBase - 1)
		Expect(errors.Is(err, diag.ErrReport)).To(BeTrue())
	})

	It("should load under the element vtype and restore the ambient one", func() {
		g := operand.Group{Base: 8, EEW: 64, EMUL: vtype.LMUL4, Regs: 4, NF: 1}
		Expect(p.Request(g, make([]uint64, 8), 64, memlayout.FormElement)).To(Succeed())
		lines, err := p.Flush(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(lines).To(Equal([]string{
			"vsetvli t0, x0, e64, m4, ta, ma",
			"la t2, page_0",
			"vle64.v v8, (t2)",
			"li t1, 8",
			"vsetvli t0, t1, e32, m2, tu, mu",
		}))
	})

	It("should load segment fields with a strided form", func() {
		g := operand.Group{Base: 2, EEW: 16, EMUL: vtype.LMUL1, Regs: 1, NF: 2}
		Expect(p.Request(g, make([]uint64, 16), 16, memlayout.FormStrided)).To(Succeed())
		lines, err := p.Flush(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(lines).To(ContainElements(
			"li t1, 4",
			"la t2, page_0",
			"vlse16.v v2, (t2), t1",
			"la t2, page_0+0x2",
			"vlse16.v v3, (t2), t1",
		))
	})

	It("should pick the whole-register load for the ISA version", func() {
		Expect(memlayout.WholeLoad(2, 32, res)).To(Equal("vl2re32.v"))
		old := resource.New(1, resource.WithISAVersion(semver.MustParse("0.9.0")))
		Expect(memlayout.WholeLoad(2, 32, old)).To(Equal("vl2r.v"))
	})

	It("should refuse work after finalizing and expose the image", func() {
		loc, err := p.PlaceValues([]uint64{0xdeadbeef}, 4, false)
		Expect(err).NotTo(HaveOccurred())
		_, err = p.Finalize()
		Expect(err).NotTo(HaveOccurred())
		_, err = p.Reserve(8, 8, false)
		Expect(errors.Is(err, diag.ErrInternal)).To(BeTrue())

		img, err := p.Image()
		Expect(err).NotTo(HaveOccurred())
		b, err := img.Read(loc.Addr-res.DataBase, 4)
		Expect(err).NotTo(HaveOccurred())
		Expect(b).To(Equal([]byte{0xef, 0xbe, 0xad, 0xde}))
	})
})
